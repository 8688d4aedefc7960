package domain

import "time"

// Event represents a ticketed event with a fixed sellable capacity.
type Event struct {
	ID       string
	Name     string
	StartsAt time.Time
	// Capacity is set at provisioning time and never changed by reservations.
	Capacity int
	// Price is the per-ticket price in minor currency units.
	Price     int64
	Active    bool
	CreatedAt time.Time
}
