package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cimillas/ticket-inventory/internal/domain"
)

var now = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func seedEvent(t *testing.T, s *Store, id string, capacity int) {
	t.Helper()
	require.NoError(t, s.CreateEvent(context.Background(), domain.Event{
		ID: id, Name: "Show " + id, Capacity: capacity, Price: 1000, Active: true, CreatedAt: now,
	}))
}

func ticket(id, eventID string, qty int) domain.Ticket {
	return domain.Ticket{
		ID: id, EventID: eventID, RequesterID: "alice", Quantity: qty,
		TotalPrice: int64(qty) * 1000, Currency: "try",
		Status: domain.TicketStatusActive, CreatedAt: now, UpdatedAt: now,
	}
}

func TestStore_SumAllocatedIgnoresCancelled(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "e1", 10)

	require.NoError(t, s.CreateTicket(ctx, ticket("t1", "e1", 3)))
	require.NoError(t, s.CreateTicket(ctx, ticket("t2", "e1", 2)))
	_, err := s.TransitionTicket(ctx, "t2", domain.TicketStatusActive, domain.TicketStatusCancelled, now)
	require.NoError(t, err)
	_, err = s.TransitionTicket(ctx, "t1", domain.TicketStatusActive, domain.TicketStatusUsed, now)
	require.NoError(t, err)

	sum, err := s.SumAllocated(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 3, sum)

	_, err = s.SumAllocated(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestStore_TransitionIsCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "e1", 10)
	require.NoError(t, s.CreateTicket(ctx, ticket("t1", "e1", 1)))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TransitionTicket(ctx, "t1", domain.TicketStatusActive, domain.TicketStatusCancelled, now)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	_, err := s.TransitionTicket(ctx, "nope", domain.TicketStatusActive, domain.TicketStatusUsed, now)
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
}

func TestStore_FailedSectionIsUndone(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "e1", 10)
	require.NoError(t, s.CreateTicket(ctx, ticket("t0", "e1", 1)))

	boom := errors.New("boom")
	err := s.WithEventLock(ctx, "e1", func(ctx context.Context) error {
		tk := ticket("t1", "e1", 4)
		tk.IdempotencyKey = "k1"
		require.NoError(t, s.CreateTicket(ctx, tk))
		_, err := s.TransitionTicket(ctx, "t0", domain.TicketStatusActive, domain.TicketStatusCancelled, now)
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.GetTicket(ctx, "t1")
	assert.ErrorIs(t, err, domain.ErrTicketNotFound)
	t0, err := s.GetTicket(ctx, "t0")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusActive, t0.Status)
	found, err := s.FindTicketByIdempotencyKey(ctx, "e1", "alice", "k1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestStore_WithEventLockSerializesAndNests(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "e1", 10)

	var inside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithEventLock(ctx, "e1", func(ctx context.Context) error {
				assert.Equal(t, int32(1), inside.Add(1))
				defer inside.Add(-1)
				// Re-entering the same event must not deadlock.
				return s.WithEventLock(ctx, "e1", func(context.Context) error { return nil })
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	err := s.WithEventLock(ctx, "missing", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestStore_IdempotencyKeyIsUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "e1", 10)

	a := ticket("t1", "e1", 1)
	a.IdempotencyKey = "same"
	b := ticket("t2", "e1", 1)
	b.IdempotencyKey = "same"
	require.NoError(t, s.CreateTicket(ctx, a))
	assert.ErrorIs(t, s.CreateTicket(ctx, b), domain.ErrIdempotencyConflict)

	found, err := s.FindTicketByIdempotencyKey(ctx, "e1", "alice", "same")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "t1", found.ID)
}

func TestStore_StatsAndListEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "e1", 10)
	require.NoError(t, s.CreateEvent(ctx, domain.Event{ID: "e2", Name: "Later", Capacity: 5, Active: false, CreatedAt: now.Add(time.Minute)}))

	require.NoError(t, s.CreateTicket(ctx, ticket("t1", "e1", 2)))
	require.NoError(t, s.CreateTicket(ctx, ticket("t2", "e1", 1)))
	_, err := s.TransitionTicket(ctx, "t2", domain.TicketStatusActive, domain.TicketStatusCancelled, now)
	require.NoError(t, err)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{TotalEvents: 2, ActiveEvents: 1, TotalTicketsSold: 2, TotalRevenue: 2000}, stats)

	events, err := s.ListEvents(ctx)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e1", events[0].ID)
	assert.Equal(t, "e2", events[1].ID)
}

func TestStore_ListTicketsByRequester(t *testing.T) {
	ctx := context.Background()
	s := New()
	seedEvent(t, s, "e1", 10)

	older := ticket("t1", "e1", 1)
	older.CreatedAt = now.Add(-time.Minute)
	newer := ticket("t2", "e1", 2)
	other := ticket("t3", "e1", 1)
	other.RequesterID = "bob"
	for _, tk := range []domain.Ticket{older, newer, other} {
		require.NoError(t, s.CreateTicket(ctx, tk))
	}

	got, err := s.ListTicketsByRequester(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "t2", got[0].ID)
	assert.Equal(t, "t1", got[1].ID)

	none, err := s.ListTicketsByRequester(ctx, "carol")
	require.NoError(t, err)
	assert.Empty(t, none)
}
