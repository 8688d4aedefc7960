package domain

import "time"

type TicketStatus string

const (
	TicketStatusActive    TicketStatus = "active"
	TicketStatusUsed      TicketStatus = "used"
	TicketStatusCancelled TicketStatus = "cancelled"
)

// HoldsCapacity reports whether a ticket in this status counts against the
// event's capacity.
func (s TicketStatus) HoldsCapacity() bool {
	return s == TicketStatusActive || s == TicketStatusUsed
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Only active tickets move, and only to used or cancelled.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if s != TicketStatusActive {
		return false
	}
	return next == TicketStatusUsed || next == TicketStatusCancelled
}

// Ticket is a committed allocation of Quantity units against an event.
type Ticket struct {
	ID          string
	EventID     string
	RequesterID string
	Quantity    int
	// TotalPrice is Quantity times the event price, in minor units.
	TotalPrice     int64
	Currency       string
	Status         TicketStatus
	IdempotencyKey string
	PaymentRef     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
