package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cimillas/ticket-inventory/internal/app"
	"github.com/cimillas/ticket-inventory/internal/domain"
)

// AdminService is the minimal interface needed for admin endpoints.
type AdminService interface {
	CreateEvent(ctx context.Context, in app.CreateEventInput) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
	Stats(ctx context.Context) (domain.Stats, error)
}

type createEventRequest struct {
	Name     string `json:"name"`
	StartsAt string `json:"starts_at"`
	Capacity *int   `json:"capacity"`
	Price    int64  `json:"price"`
	Active   *bool  `json:"active"`
}

type eventResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	StartsAt  time.Time `json:"starts_at"`
	Capacity  int       `json:"capacity"`
	Price     int64     `json:"price"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type statsResponse struct {
	TotalEvents      int   `json:"total_events"`
	ActiveEvents     int   `json:"active_events"`
	TotalTicketsSold int   `json:"total_tickets_sold"`
	TotalRevenue     int64 `json:"total_revenue"`
}

func toEventResponse(e domain.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		Name:      e.Name,
		StartsAt:  e.StartsAt,
		Capacity:  e.Capacity,
		Price:     e.Price,
		Active:    e.Active,
		CreatedAt: e.CreatedAt,
	}
}

// HandleCreateEvent returns an HTTP handler for admin event creation.
func HandleCreateEvent(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEventRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if req.Name == "" {
			writeError(w, http.StatusBadRequest, codeEventNameRequired, domain.ErrEventNameRequired.Error())
			return
		}
		if req.Capacity == nil {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "capacity is required")
			return
		}

		var startsAt *time.Time
		if req.StartsAt != "" {
			parsed, err := time.Parse(time.RFC3339, req.StartsAt)
			if err != nil {
				writeError(w, http.StatusBadRequest, codeInvalidStartsAt, "invalid starts_at format")
				return
			}
			startsAt = &parsed
		}

		event, err := svc.CreateEvent(r.Context(), app.CreateEventInput{
			Name:     req.Name,
			StartsAt: startsAt,
			Capacity: *req.Capacity,
			Price:    req.Price,
			Active:   req.Active,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toEventResponse(event))
	}
}

// HandleListEvents returns an HTTP handler for admin event listing.
func HandleListEvents(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.ListEvents(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := make([]eventResponse, 0, len(events))
		for _, event := range events {
			resp = append(resp, toEventResponse(event))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleGetEvent returns an HTTP handler for reading one event.
func HandleGetEvent(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := svc.GetEvent(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventResponse(event))
	}
}

// HandleStats returns an HTTP handler for the dashboard totals.
func HandleStats(svc AdminService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := svc.Stats(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, statsResponse{
			TotalEvents:      stats.TotalEvents,
			ActiveEvents:     stats.ActiveEvents,
			TotalTicketsSold: stats.TotalTicketsSold,
			TotalRevenue:     stats.TotalRevenue,
		})
	}
}
