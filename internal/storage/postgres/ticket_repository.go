package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cimillas/ticket-inventory/internal/domain"
)

type TicketRepository struct {
	conn
}

func NewTicketRepository(pool *pgxpool.Pool) *TicketRepository {
	return &TicketRepository{conn: conn{pool: pool}}
}

const ticketColumns = `id, event_id, requester_id, quantity, total_price, currency, status,
	COALESCE(idempotency_key, ''), payment_ref, created_at, updated_at`

func scanTicket(row pgx.Row) (domain.Ticket, error) {
	var t domain.Ticket
	var status string
	err := row.Scan(&t.ID, &t.EventID, &t.RequesterID, &t.Quantity, &t.TotalPrice, &t.Currency,
		&status, &t.IdempotencyKey, &t.PaymentRef, &t.CreatedAt, &t.UpdatedAt)
	t.Status = domain.TicketStatus(status)
	return t, err
}

func (r *TicketRepository) FindTicketByIdempotencyKey(ctx context.Context, eventID, requesterID, key string) (*domain.Ticket, error) {
	query := `SELECT ` + ticketColumns + `
FROM tickets
WHERE event_id = $1 AND requester_id = $2 AND idempotency_key = $3`

	t, err := scanTicket(r.queryRow(ctx, query, eventID, requesterID, key))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrEventNotFound
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find ticket by idempotency key: %w", err)
	}
	return &t, nil
}

func (r *TicketRepository) CreateTicket(ctx context.Context, ticket domain.Ticket) error {
	const stmt = `
INSERT INTO tickets (id, event_id, requester_id, quantity, total_price, currency, status,
	idempotency_key, payment_ref, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)`

	_, err := r.exec(ctx, stmt,
		ticket.ID,
		ticket.EventID,
		ticket.RequesterID,
		ticket.Quantity,
		ticket.TotalPrice,
		ticket.Currency,
		ticket.Status,
		ticket.IdempotencyKey,
		ticket.PaymentRef,
		ticket.CreatedAt,
		ticket.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrIdempotencyConflict
		}
		if isForeignKeyViolation(err) || isInvalidUUID(err) {
			return domain.ErrEventNotFound
		}
		return fmt.Errorf("create ticket: %w", err)
	}
	return nil
}

func (r *TicketRepository) GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error) {
	t, err := scanTicket(r.queryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, ticketID))
	if err != nil {
		if isInvalidUUID(err) || errors.Is(err, pgx.ErrNoRows) {
			return domain.Ticket{}, domain.ErrTicketNotFound
		}
		return domain.Ticket{}, fmt.Errorf("get ticket: %w", err)
	}
	return t, nil
}

func (r *TicketRepository) ListTicketsByRequester(ctx context.Context, requesterID string) ([]domain.Ticket, error) {
	rows, err := r.query(ctx, `SELECT `+ticketColumns+`
FROM tickets
WHERE requester_id = $1
ORDER BY created_at DESC, id ASC`, requesterID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	tickets := make([]domain.Ticket, 0)
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate tickets: %w", rows.Err())
	}
	return tickets, nil
}

// TransitionTicket is a compare-and-swap on status: the update only matches a
// row still in from.
func (r *TicketRepository) TransitionTicket(ctx context.Context, ticketID string, from, to domain.TicketStatus, at time.Time) (domain.Ticket, error) {
	if !from.CanTransition(to) {
		return domain.Ticket{}, domain.ErrInvalidTransition
	}
	stmt := `
UPDATE tickets SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
RETURNING ` + ticketColumns

	t, err := scanTicket(r.queryRow(ctx, stmt, ticketID, from, to, at))
	if err == nil {
		return t, nil
	}
	if isInvalidUUID(err) {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Ticket{}, fmt.Errorf("transition ticket: %w", err)
	}

	var exists bool
	if err := r.queryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE id = $1)`, ticketID).Scan(&exists); err != nil {
		return domain.Ticket{}, fmt.Errorf("check ticket: %w", err)
	}
	if !exists {
		return domain.Ticket{}, domain.ErrTicketNotFound
	}
	return domain.Ticket{}, domain.ErrInvalidTransition
}
