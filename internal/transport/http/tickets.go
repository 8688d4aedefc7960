package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cimillas/ticket-inventory/internal/app"
	"github.com/cimillas/ticket-inventory/internal/domain"
)

type TicketManager interface {
	Get(ctx context.Context, ticketID string) (domain.Ticket, error)
	ListByRequester(ctx context.Context, requesterID string) ([]domain.Ticket, error)
	Cancel(ctx context.Context, ticketID string) (app.CancelResult, error)
	MarkUsed(ctx context.Context, ticketID string) (domain.Ticket, error)
}

type cancelResponse struct {
	Ticket    ticketResponse `json:"ticket"`
	Remaining int            `json:"remaining"`
}

type ticketListResponse struct {
	Tickets []ticketResponse `json:"tickets"`
}

// HandleListTickets returns an HTTP handler for GET /tickets?requester_id=.
func HandleListTickets(svc TicketManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requesterID := r.URL.Query().Get("requester_id")
		if requesterID == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "requester_id is required")
			return
		}
		tickets, err := svc.ListByRequester(r.Context(), requesterID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		resp := ticketListResponse{Tickets: make([]ticketResponse, 0, len(tickets))}
		for _, t := range tickets {
			resp.Tickets = append(resp.Tickets, toTicketResponse(t))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// HandleGetTicket returns an HTTP handler for GET /tickets/{ticketID}.
func HandleGetTicket(svc TicketManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.Get(r.Context(), chi.URLParam(r, "ticketID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTicketResponse(t))
	}
}

// HandleCancelTicket returns an HTTP handler for POST /tickets/{ticketID}/cancel.
// The response carries the event's remaining count after the release.
func HandleCancelTicket(svc TicketManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := svc.Cancel(r.Context(), chi.URLParam(r, "ticketID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, cancelResponse{
			Ticket:    toTicketResponse(res.Ticket),
			Remaining: res.Remaining,
		})
	}
}

// HandleUseTicket returns an HTTP handler for POST /tickets/{ticketID}/use.
func HandleUseTicket(svc TicketManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := svc.MarkUsed(r.Context(), chi.URLParam(r, "ticketID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toTicketResponse(t))
	}
}
