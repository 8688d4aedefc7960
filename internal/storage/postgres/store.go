// Package postgres persists events and tickets with pgx. Capacity-changing
// writes run inside a transaction that holds the event row lock.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store combines the repositories into the single storage the services use.
type Store struct {
	*EventRepository
	*TicketRepository
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		EventRepository:  NewEventRepository(pool),
		TicketRepository: NewTicketRepository(pool),
	}
}

// Ping checks that the database answers.
func (s *Store) Ping(ctx context.Context) error {
	return s.EventRepository.pool.Ping(ctx)
}
