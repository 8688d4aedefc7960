package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimillas/ticket-inventory/internal/domain"
)

// EventRepository owns the events table: provisioning, the per-event row lock
// and the capacity sums the ledger reads.
type EventRepository struct {
	pool *pgxpool.Pool
	conn
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool, conn: conn{pool: pool}}
}

// WithEventLock runs fn in a transaction holding the event row lock. Every
// capacity-changing write for the event happens under this lock.
func (r *EventRepository) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		var id string
		err := r.queryRow(txCtx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&id)
		if err != nil {
			if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrEventNotFound
			}
			return fmt.Errorf("lock event: %w", err)
		}
		return fn(txCtx)
	})
}

const eventColumns = `id, name, starts_at, capacity, price, active, created_at`

func scanEvent(row pgx.Row) (domain.Event, error) {
	var e domain.Event
	err := row.Scan(&e.ID, &e.Name, &e.StartsAt, &e.Capacity, &e.Price, &e.Active, &e.CreatedAt)
	return e, err
}

func (r *EventRepository) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	e, err := scanEvent(r.queryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID))
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return domain.Event{}, domain.ErrEventNotFound
		}
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	return e, nil
}

func (r *EventRepository) SumAllocated(ctx context.Context, eventID string) (int, error) {
	const query = `
SELECT COALESCE(SUM(quantity), 0)
FROM tickets
WHERE event_id = $1 AND status IN ('active', 'used')`

	var total int
	if err := r.queryRow(ctx, query, eventID).Scan(&total); err != nil {
		if isInvalidUUID(err) {
			return 0, domain.ErrEventNotFound
		}
		return 0, fmt.Errorf("sum allocated: %w", err)
	}
	return total, nil
}

func (r *EventRepository) SumAllocatedAll(ctx context.Context) (int, error) {
	var total int
	err := r.queryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM tickets WHERE status IN ('active', 'used')`).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum allocated: %w", err)
	}
	return total, nil
}

func (r *EventRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	const stmt = `
INSERT INTO events (id, name, starts_at, capacity, price, active, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.exec(ctx, stmt, event.ID, event.Name, event.StartsAt, event.Capacity, event.Price, event.Active, event.CreatedAt)
	if err != nil {
		if isInvalidUUID(err) || isUniqueViolation(err) {
			return domain.ErrInvalidID
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (r *EventRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	rows, err := r.query(ctx, `SELECT `+eventColumns+` FROM events ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate events: %w", rows.Err())
	}
	return events, nil
}

func (r *EventRepository) Stats(ctx context.Context) (domain.Stats, error) {
	const query = `
SELECT
	(SELECT COUNT(*) FROM events),
	(SELECT COUNT(*) FROM events WHERE active),
	COALESCE(SUM(quantity), 0),
	COALESCE(SUM(total_price), 0)
FROM tickets
WHERE status IN ('active', 'used')`

	var s domain.Stats
	if err := r.queryRow(ctx, query).Scan(&s.TotalEvents, &s.ActiveEvents, &s.TotalTicketsSold, &s.TotalRevenue); err != nil {
		return domain.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return s, nil
}
