package app

import (
	"context"
	"time"

	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/domain"
)

// AdminRepository provisions events. Capacity is fixed once an event exists.
type AdminRepository interface {
	CreateEvent(ctx context.Context, event domain.Event) error
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

type AdminService struct {
	repo  AdminRepository
	clock clock.Clock
}

func NewAdminService(repo AdminRepository, clk clock.Clock) *AdminService {
	return &AdminService{
		repo:  repo,
		clock: clk,
	}
}

type CreateEventInput struct {
	Name     string
	StartsAt *time.Time
	Capacity int
	Price    int64
	// Active defaults to true.
	Active *bool
}

func (s *AdminService) CreateEvent(ctx context.Context, in CreateEventInput) (domain.Event, error) {
	if in.Name == "" {
		return domain.Event{}, domain.ErrEventNameRequired
	}
	if in.Capacity < 0 {
		return domain.Event{}, domain.ErrInvalidCapacity
	}
	if in.Price < 0 {
		return domain.Event{}, domain.ErrInvalidPrice
	}

	now := s.clock.Now()
	startsAt := now
	if in.StartsAt != nil {
		startsAt = in.StartsAt.UTC()
	}
	active := true
	if in.Active != nil {
		active = *in.Active
	}

	event := domain.Event{
		ID:        newEventID(),
		Name:      in.Name,
		StartsAt:  startsAt,
		Capacity:  in.Capacity,
		Price:     in.Price,
		Active:    active,
		CreatedAt: now,
	}

	if err := s.repo.CreateEvent(ctx, event); err != nil {
		return domain.Event{}, classify(err)
	}
	return event, nil
}

func (s *AdminService) ListEvents(ctx context.Context) ([]domain.Event, error) {
	events, err := s.repo.ListEvents(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return events, nil
}

func (s *AdminService) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if eventID == "" {
		return domain.Event{}, domain.ErrInvalidID
	}
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return domain.Event{}, classify(err)
	}
	return event, nil
}

func (s *AdminService) Stats(ctx context.Context) (domain.Stats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return domain.Stats{}, classify(err)
	}
	return stats, nil
}
