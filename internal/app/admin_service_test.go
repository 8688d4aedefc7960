package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cimillas/ticket-inventory/internal/clock"
	"github.com/cimillas/ticket-inventory/internal/domain"
)

type fakeAdminRepo struct {
	createdEvent domain.Event
	stats        domain.Stats

	createEventErr error
}

func (f *fakeAdminRepo) CreateEvent(ctx context.Context, event domain.Event) error {
	f.createdEvent = event
	return f.createEventErr
}

func (f *fakeAdminRepo) ListEvents(ctx context.Context) ([]domain.Event, error) {
	return nil, nil
}

func (f *fakeAdminRepo) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	if f.createdEvent.ID != eventID {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return f.createdEvent, nil
}

func (f *fakeAdminRepo) Stats(ctx context.Context) (domain.Stats, error) {
	return f.stats, nil
}

func TestAdminService_CreateEvent_Defaults(t *testing.T) {
	repo := &fakeAdminRepo{}
	now := time.Date(2025, 1, 5, 10, 0, 0, 0, time.UTC)
	svc := NewAdminService(repo, clock.NewManual(now))

	got, err := svc.CreateEvent(context.Background(), CreateEventInput{Name: "Concert", Capacity: 100, Price: 2500})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if got.Name != "Concert" {
		t.Fatalf("expected name, got %q", got.Name)
	}
	if !got.StartsAt.Equal(now) {
		t.Fatalf("expected starts_at %v, got %v", now, got.StartsAt)
	}
	if !got.Active {
		t.Fatalf("expected event to default to active")
	}
	if repo.createdEvent.ID == "" {
		t.Fatalf("expected event ID to be set")
	}
	if repo.createdEvent.Capacity != 100 || repo.createdEvent.Price != 2500 {
		t.Fatalf("unexpected persisted event %+v", repo.createdEvent)
	}
}

func TestAdminService_CreateEvent_Inactive(t *testing.T) {
	repo := &fakeAdminRepo{}
	svc := NewAdminService(repo, clock.NewManual(time.Now()))
	inactive := false

	got, err := svc.CreateEvent(context.Background(), CreateEventInput{Name: "Preview", Capacity: 5, Active: &inactive})
	if err != nil {
		t.Fatalf("create event: %v", err)
	}
	if got.Active {
		t.Fatalf("expected inactive event")
	}
}

func TestAdminService_CreateEvent_ValidatesInput(t *testing.T) {
	repo := &fakeAdminRepo{}
	svc := NewAdminService(repo, clock.NewManual(time.Now()))
	ctx := context.Background()

	tests := []struct {
		name string
		in   CreateEventInput
		want error
	}{
		{name: "missing name", in: CreateEventInput{Capacity: 10}, want: domain.ErrEventNameRequired},
		{name: "negative capacity", in: CreateEventInput{Name: "A", Capacity: -1}, want: domain.ErrInvalidCapacity},
		{name: "negative price", in: CreateEventInput{Name: "A", Capacity: 1, Price: -5}, want: domain.ErrInvalidPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateEvent(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if repo.createdEvent.ID != "" {
		t.Fatalf("expected nothing persisted, got %+v", repo.createdEvent)
	}
}

func TestAdminService_CreateEvent_WrapsStorageFault(t *testing.T) {
	repo := &fakeAdminRepo{createEventErr: errors.New("connection reset")}
	svc := NewAdminService(repo, clock.NewManual(time.Now()))

	_, err := svc.CreateEvent(context.Background(), CreateEventInput{Name: "A", Capacity: 1})
	if !errors.Is(err, domain.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
}

func TestAdminService_GetEvent(t *testing.T) {
	repo := &fakeAdminRepo{}
	svc := NewAdminService(repo, clock.NewManual(time.Now()))
	ctx := context.Background()

	if _, err := svc.GetEvent(ctx, ""); !errors.Is(err, domain.ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, err := svc.GetEvent(ctx, "missing"); !errors.Is(err, domain.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}
