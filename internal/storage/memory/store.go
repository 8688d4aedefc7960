// Package memory is an in-process store for local runs and tests. It offers
// the same per-event exclusive sections as the Postgres store: writes made
// inside WithEventLock are undone when the section returns an error.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cimillas/ticket-inventory/internal/domain"
	"github.com/cimillas/ticket-inventory/internal/eventlock"
)

type idempotencyKey struct {
	eventID     string
	requesterID string
	key         string
}

// section is the open exclusive section carried by a lock context.
type section struct {
	eventID string
	undo    []func()
}

type sectionKey struct{}

type Store struct {
	locks *eventlock.Locker

	mu          sync.RWMutex
	events      map[string]domain.Event
	tickets     map[string]domain.Ticket
	idempotency map[idempotencyKey]string
}

func New() *Store {
	return &Store{
		locks:       eventlock.New(),
		events:      make(map[string]domain.Event),
		tickets:     make(map[string]domain.Ticket),
		idempotency: make(map[idempotencyKey]string),
	}
}

// WithEventLock runs fn while holding eventID's lock. Calls nested inside a
// section for the same event run fn directly.
func (s *Store) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	if sec := sectionFromContext(ctx); sec != nil && sec.eventID == eventID {
		return fn(ctx)
	}

	s.mu.RLock()
	_, ok := s.events[eventID]
	s.mu.RUnlock()
	if !ok {
		return domain.ErrEventNotFound
	}

	unlock, err := s.locks.Lock(ctx, eventID)
	if err != nil {
		return err
	}
	defer unlock()

	sec := &section{eventID: eventID}
	if err := fn(context.WithValue(ctx, sectionKey{}, sec)); err != nil {
		s.mu.Lock()
		for i := len(sec.undo) - 1; i >= 0; i-- {
			sec.undo[i]()
		}
		s.mu.Unlock()
		return err
	}
	return nil
}

func sectionFromContext(ctx context.Context) *section {
	sec, _ := ctx.Value(sectionKey{}).(*section)
	return sec
}

// recordUndo registers fn to run, under s.mu, if the enclosing section fails.
func recordUndo(ctx context.Context, fn func()) {
	if sec := sectionFromContext(ctx); sec != nil {
		sec.undo = append(sec.undo, fn)
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return event, nil
}

func (s *Store) SumAllocated(ctx context.Context, eventID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.events[eventID]; !ok {
		return 0, domain.ErrEventNotFound
	}
	total := 0
	for _, t := range s.tickets {
		if t.EventID == eventID && t.Status.HoldsCapacity() {
			total += t.Quantity
		}
	}
	return total, nil
}

func (s *Store) SumAllocatedAll(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, t := range s.tickets {
		if t.Status.HoldsCapacity() {
			total += t.Quantity
		}
	}
	return total, nil
}

func (s *Store) FindTicketByIdempotencyKey(ctx context.Context, eventID, requesterID, key string) (*domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.idempotency[idempotencyKey{eventID: eventID, requesterID: requesterID, key: key}]
	if !ok {
		return nil, nil
	}
	t := s.tickets[id]
	return &t, nil
}

func (s *Store) CreateTicket(ctx context.Context, ticket domain.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[ticket.EventID]; !ok {
		return domain.ErrEventNotFound
	}
	var ik idempotencyKey
	if ticket.IdempotencyKey != "" {
		ik = idempotencyKey{eventID: ticket.EventID, requesterID: ticket.RequesterID, key: ticket.IdempotencyKey}
		if _, exists := s.idempotency[ik]; exists {
			return domain.ErrIdempotencyConflict
		}
		s.idempotency[ik] = ticket.ID
	}
	s.tickets[ticket.ID] = ticket
	recordUndo(ctx, func() {
		delete(s.tickets, ticket.ID)
		if ticket.IdempotencyKey != "" {
			delete(s.idempotency, ik)
		}
	})
	return nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return t, nil
}

// ListTicketsByRequester returns the requester's tickets, newest first.
func (s *Store) ListTicketsByRequester(ctx context.Context, requesterID string) ([]domain.Ticket, error) {
	s.mu.RLock()
	tickets := make([]domain.Ticket, 0)
	for _, t := range s.tickets {
		if t.RequesterID == requesterID {
			tickets = append(tickets, t)
		}
	}
	s.mu.RUnlock()

	sort.Slice(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].ID < tickets[j].ID
		}
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
	return tickets, nil
}

func (s *Store) TransitionTicket(ctx context.Context, ticketID string, from, to domain.TicketStatus, at time.Time) (domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.tickets[ticketID]
	if !ok {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	if prev.Status != from || !from.CanTransition(to) {
		return domain.Ticket{}, domain.ErrInvalidTransition
	}
	next := prev
	next.Status = to
	next.UpdatedAt = at
	s.tickets[ticketID] = next
	recordUndo(ctx, func() { s.tickets[ticketID] = prev })
	return next, nil
}

func (s *Store) CreateEvent(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.ID]; exists {
		return domain.ErrInvalidID
	}
	s.events[event.ID] = event
	return nil
}

func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	s.mu.RLock()
	events := make([]domain.Event, 0, len(s.events))
	for _, e := range s.events {
		events = append(events, e)
	}
	s.mu.RUnlock()

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].ID < events[j].ID
		}
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}

func (s *Store) Stats(ctx context.Context) (domain.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats domain.Stats
	for _, e := range s.events {
		stats.TotalEvents++
		if e.Active {
			stats.ActiveEvents++
		}
	}
	for _, t := range s.tickets {
		if t.Status.HoldsCapacity() {
			stats.TotalTicketsSold += t.Quantity
			stats.TotalRevenue += t.TotalPrice
		}
	}
	return stats, nil
}
