package app

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/domain"
	"github.com/cimillas/ticket-inventory/internal/ledger"
	"github.com/cimillas/ticket-inventory/internal/notify"
	"github.com/cimillas/ticket-inventory/internal/payment"
)

const instrumentationName = "github.com/cimillas/ticket-inventory/internal/app"

// EventLocker runs fn with exclusive access to one event's inventory. Storage
// writes made through the ctx passed to fn commit together when fn returns nil
// and are discarded otherwise.
type EventLocker interface {
	WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error
}

type ReservationRepository interface {
	EventLocker
	ledger.Source
	FindTicketByIdempotencyKey(ctx context.Context, eventID, requesterID, key string) (*domain.Ticket, error)
	CreateTicket(ctx context.Context, ticket domain.Ticket) error
}

// Notifier receives committed inventory changes.
type Notifier interface {
	Publish(ev notify.InventoryChanged)
}

type ReservationService struct {
	repo     ReservationRepository
	ledger   *ledger.Ledger
	payments payment.Authorizer
	notifier Notifier
	clock    clock.Clock

	currency       string
	paymentTimeout time.Duration
	logger         *zap.Logger
	tracer         trace.Tracer
	committed      metric.Int64Counter
	rejected       metric.Int64Counter
}

const (
	defaultCurrency       = "try"
	defaultPaymentTimeout = 5 * time.Second
)

type ReservationServiceOption func(*ReservationService)

// WithCurrency sets the single currency all charges are made in.
func WithCurrency(c string) ReservationServiceOption {
	return func(s *ReservationService) {
		if c != "" {
			s.currency = c
		}
	}
}

// WithPaymentTimeout bounds the payment authorization call. A timeout is a
// decline.
func WithPaymentTimeout(d time.Duration) ReservationServiceOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.paymentTimeout = d
		}
	}
}

func WithReservationLogger(l *zap.Logger) ReservationServiceOption {
	return func(s *ReservationService) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewReservationService(repo ReservationRepository, payments payment.Authorizer, notifier Notifier, clk clock.Clock, opts ...ReservationServiceOption) *ReservationService {
	svc := &ReservationService{
		repo:           repo,
		ledger:         ledger.New(repo),
		notifier:       notifier,
		clock:          clk,
		currency:       defaultCurrency,
		paymentTimeout: defaultPaymentTimeout,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(svc)
	}
	svc.payments = payment.WithTimeout(payments, svc.paymentTimeout)

	meter := otel.Meter(instrumentationName)
	svc.committed, _ = meter.Int64Counter("reservations.committed",
		metric.WithDescription("Reservations committed"))
	svc.rejected, _ = meter.Int64Counter("reservations.rejected",
		metric.WithDescription("Reservations rejected, by reason"))
	return svc
}

type ReserveInput struct {
	EventID     string
	RequesterID string
	Quantity    int
	// IdempotencyKey is optional. A retry with the same requester and key
	// returns the ticket created by the first attempt.
	IdempotencyKey string
}

type ReserveResult struct {
	Ticket domain.Ticket
	// Remaining is the event's remaining capacity right after this commit.
	Remaining int
	Created   bool
}

// Reserve allocates Quantity units of an event to a requester. The capacity
// check, payment authorization and ticket insert run inside one exclusive
// section for the event, so concurrent reservations can never oversell.
func (s *ReservationService) Reserve(ctx context.Context, in ReserveInput) (ReserveResult, error) {
	if in.Quantity < 1 {
		return ReserveResult{}, domain.ErrInvalidQuantity
	}
	if in.EventID == "" || in.RequesterID == "" {
		return ReserveResult{}, domain.ErrInvalidID
	}

	ctx, span := s.tracer.Start(ctx, "reservation.reserve", trace.WithAttributes(
		attribute.String("event.id", in.EventID),
		attribute.Int("reservation.quantity", in.Quantity),
	))
	defer span.End()

	var result ReserveResult
	var change notify.InventoryChanged

	err := s.repo.WithEventLock(ctx, in.EventID, func(lockCtx context.Context) error {
		if in.IdempotencyKey != "" {
			existing, err := s.repo.FindTicketByIdempotencyKey(lockCtx, in.EventID, in.RequesterID, in.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				return s.replay(lockCtx, in, *existing, &result)
			}
		}

		// Read under the lock; nothing read before it is trusted.
		snap, err := s.ledger.Snapshot(lockCtx, in.EventID)
		if err != nil {
			return err
		}
		if !snap.Active {
			return domain.ErrEventInactive
		}
		if snap.Remaining < in.Quantity {
			return domain.ErrInsufficientInventory
		}

		total := snap.Price * int64(in.Quantity)
		ref := in.IdempotencyKey
		if ref == "" {
			ref = newPaymentRef()
		}
		auth, err := s.payments.Authorize(lockCtx, payment.Request{
			RequesterID: in.RequesterID,
			Amount:      total,
			Currency:    s.currency,
			Reference:   ref,
			Metadata: map[string]string{
				"event_id": in.EventID,
				"quantity": strconv.Itoa(in.Quantity),
			},
		})
		if err != nil {
			s.logger.Warn("payment authorization failed",
				zap.String("event_id", in.EventID),
				zap.String("requester_id", in.RequesterID),
				zap.Error(err),
			)
			return domain.ErrPaymentDeclined
		}
		if !auth.Approved {
			return domain.ErrPaymentDeclined
		}

		now := s.clock.Now()
		ticket := domain.Ticket{
			ID:             newTicketID(),
			EventID:        in.EventID,
			RequesterID:    in.RequesterID,
			Quantity:       in.Quantity,
			TotalPrice:     total,
			Currency:       s.currency,
			Status:         domain.TicketStatusActive,
			IdempotencyKey: in.IdempotencyKey,
			PaymentRef:     auth.Reference,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.repo.CreateTicket(lockCtx, ticket); err != nil {
			return err
		}

		totalActive, err := s.ledger.TotalActive(lockCtx)
		if err != nil {
			return err
		}

		result = ReserveResult{
			Ticket:    ticket,
			Remaining: snap.Remaining - in.Quantity,
			Created:   true,
		}
		change = notify.InventoryChanged{
			EventID:       in.EventID,
			Remaining:     result.Remaining,
			SoldCount:     snap.Sold + in.Quantity,
			ActorHandle:   in.RequesterID,
			Reason:        notify.ReasonReserved,
			QuantityDelta: in.Quantity,
			RevenueDelta:  total,
			TotalActive:   totalActive,
			At:            now,
		}
		return nil
	})
	if err != nil {
		err = classify(err)
		s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(err))))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, domain.ErrInternal) {
			s.logger.Error("reservation failed",
				zap.String("event_id", in.EventID),
				zap.String("requester_id", in.RequesterID),
				zap.Error(err),
			)
		}
		return ReserveResult{}, err
	}

	if result.Created {
		// The event lock is released by now.
		s.notifier.Publish(change)
		s.committed.Add(ctx, 1)
		s.logger.Info("reservation committed",
			zap.String("event_id", in.EventID),
			zap.String("ticket_id", result.Ticket.ID),
			zap.Int("quantity", in.Quantity),
			zap.Int("remaining", result.Remaining),
		)
	}
	span.SetAttributes(attribute.Bool("reservation.created", result.Created))
	return result, nil
}

func (s *ReservationService) replay(ctx context.Context, in ReserveInput, existing domain.Ticket, result *ReserveResult) error {
	if existing.Quantity != in.Quantity {
		return domain.ErrIdempotencyConflict
	}
	remaining, err := s.ledger.Remaining(ctx, in.EventID)
	if err != nil {
		return err
	}
	*result = ReserveResult{Ticket: existing, Remaining: remaining, Created: false}
	return nil
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInsufficientInventory):
		return "insufficient_inventory"
	case errors.Is(err, domain.ErrPaymentDeclined):
		return "payment_declined"
	case errors.Is(err, domain.ErrEventNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrEventInactive):
		return "inactive"
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return "idempotency_conflict"
	default:
		return "internal"
	}
}
