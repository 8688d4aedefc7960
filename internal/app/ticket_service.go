package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/domain"
	"github.com/cimillas/ticket-inventory/internal/ledger"
	"github.com/cimillas/ticket-inventory/internal/notify"
)

type TicketRepository interface {
	EventLocker
	ledger.Source
	GetTicket(ctx context.Context, ticketID string) (domain.Ticket, error)
	ListTicketsByRequester(ctx context.Context, requesterID string) ([]domain.Ticket, error)
	// TransitionTicket moves a ticket from one status to another only if it
	// is currently in from; otherwise it returns domain.ErrInvalidTransition.
	TransitionTicket(ctx context.Context, ticketID string, from, to domain.TicketStatus, at time.Time) (domain.Ticket, error)
}

type TicketService struct {
	repo     TicketRepository
	ledger   *ledger.Ledger
	notifier Notifier
	clock    clock.Clock
	logger   *zap.Logger
}

func NewTicketService(repo TicketRepository, notifier Notifier, clk clock.Clock, logger *zap.Logger) *TicketService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketService{
		repo:     repo,
		ledger:   ledger.New(repo),
		notifier: notifier,
		clock:    clk,
		logger:   logger,
	}
}

func (s *TicketService) Get(ctx context.Context, ticketID string) (domain.Ticket, error) {
	if ticketID == "" {
		return domain.Ticket{}, domain.ErrInvalidID
	}
	t, err := s.repo.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, classify(err)
	}
	return t, nil
}

// ListByRequester returns every ticket the requester holds, newest first,
// whatever its status.
func (s *TicketService) ListByRequester(ctx context.Context, requesterID string) ([]domain.Ticket, error) {
	if requesterID == "" {
		return nil, domain.ErrInvalidID
	}
	tickets, err := s.repo.ListTicketsByRequester(ctx, requesterID)
	if err != nil {
		return nil, classify(err)
	}
	return tickets, nil
}

type CancelResult struct {
	Ticket    domain.Ticket
	Remaining int
}

// Cancel releases an active ticket's capacity. The status change and the
// capacity read happen under the event lock shared with Reserve.
func (s *TicketService) Cancel(ctx context.Context, ticketID string) (CancelResult, error) {
	current, err := s.Get(ctx, ticketID)
	if err != nil {
		return CancelResult{}, err
	}
	if !current.Status.CanTransition(domain.TicketStatusCancelled) {
		return CancelResult{}, domain.ErrInvalidTransition
	}

	var result CancelResult
	var change notify.InventoryChanged
	err = s.repo.WithEventLock(ctx, current.EventID, func(lockCtx context.Context) error {
		now := s.clock.Now()
		ticket, err := s.repo.TransitionTicket(lockCtx, ticketID, domain.TicketStatusActive, domain.TicketStatusCancelled, now)
		if err != nil {
			return err
		}
		snap, err := s.ledger.Snapshot(lockCtx, ticket.EventID)
		if err != nil {
			return err
		}
		totalActive, err := s.ledger.TotalActive(lockCtx)
		if err != nil {
			return err
		}

		result = CancelResult{Ticket: ticket, Remaining: snap.Remaining}
		change = notify.InventoryChanged{
			EventID:       ticket.EventID,
			Remaining:     snap.Remaining,
			SoldCount:     snap.Sold,
			ActorHandle:   ticket.RequesterID,
			Reason:        notify.ReasonCancelled,
			QuantityDelta: -ticket.Quantity,
			RevenueDelta:  -ticket.TotalPrice,
			TotalActive:   totalActive,
			At:            now,
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, classify(err)
	}

	s.notifier.Publish(change)
	s.logger.Info("ticket cancelled",
		zap.String("ticket_id", ticketID),
		zap.String("event_id", result.Ticket.EventID),
		zap.Int("remaining", result.Remaining),
	)
	return result, nil
}

// MarkUsed consumes an active ticket. Capacity is unaffected, so only the
// ticket row is touched.
func (s *TicketService) MarkUsed(ctx context.Context, ticketID string) (domain.Ticket, error) {
	if ticketID == "" {
		return domain.Ticket{}, domain.ErrInvalidID
	}
	ticket, err := s.repo.TransitionTicket(ctx, ticketID, domain.TicketStatusActive, domain.TicketStatusUsed, s.clock.Now())
	if err != nil {
		return domain.Ticket{}, classify(err)
	}
	return ticket, nil
}
