// Package ledger computes remaining capacity from an event's capacity and its
// non-cancelled tickets. It is read-only: every write goes through the
// reservation and ticket services while they hold the event lock.
package ledger

import (
	"context"

	"github.com/cimillas/ticket-inventory/internal/domain"
)

// Source is the storage view the ledger reads. Implementations must read
// inside the caller's transaction when ctx carries one.
type Source interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	// SumAllocated sums the quantity of active and used tickets for one event.
	SumAllocated(ctx context.Context, eventID string) (int, error)
	// SumAllocatedAll sums the quantity of active and used tickets for all events.
	SumAllocatedAll(ctx context.Context) (int, error)
}

// Snapshot is a consistent view of one event's inventory.
type Snapshot struct {
	EventID   string
	Capacity  int
	Sold      int
	Remaining int
	Price     int64
	Active    bool
}

type Ledger struct {
	src Source
}

func New(src Source) *Ledger {
	return &Ledger{src: src}
}

// Remaining returns capacity minus allocated quantity for eventID.
func (l *Ledger) Remaining(ctx context.Context, eventID string) (int, error) {
	snap, err := l.Snapshot(ctx, eventID)
	if err != nil {
		return 0, err
	}
	return snap.Remaining, nil
}

func (l *Ledger) Snapshot(ctx context.Context, eventID string) (Snapshot, error) {
	event, err := l.src.GetEvent(ctx, eventID)
	if err != nil {
		return Snapshot{}, err
	}
	sold, err := l.src.SumAllocated(ctx, eventID)
	if err != nil {
		return Snapshot{}, err
	}
	remaining := event.Capacity - sold
	if remaining < 0 {
		// Only reachable if capacity was lowered out of band.
		remaining = 0
	}
	return Snapshot{
		EventID:   event.ID,
		Capacity:  event.Capacity,
		Sold:      sold,
		Remaining: remaining,
		Price:     event.Price,
		Active:    event.Active,
	}, nil
}

// TotalActive returns the allocated quantity across every event.
func (l *Ledger) TotalActive(ctx context.Context) (int, error) {
	return l.src.SumAllocatedAll(ctx)
}
