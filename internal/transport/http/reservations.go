package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cimillas/ticket-inventory/internal/app"
	"github.com/cimillas/ticket-inventory/internal/domain"
	"github.com/cimillas/ticket-inventory/internal/ledger"
)

// IdempotencyHeader may carry the idempotency key instead of the body.
const IdempotencyHeader = "Idempotency-Key"

type Reserver interface {
	Reserve(ctx context.Context, in app.ReserveInput) (app.ReserveResult, error)
}

type InventoryReader interface {
	Snapshot(ctx context.Context, eventID string) (ledger.Snapshot, error)
}

type reserveRequest struct {
	RequesterID    string `json:"requester_id"`
	Quantity       int    `json:"quantity"`
	IdempotencyKey string `json:"idempotency_key"`
}

type reserveResponse struct {
	Ticket    ticketResponse `json:"ticket"`
	Remaining int            `json:"remaining"`
}

type ticketResponse struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	RequesterID string    `json:"requester_id"`
	Quantity    int       `json:"quantity"`
	TotalPrice  int64     `json:"total_price"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func toTicketResponse(t domain.Ticket) ticketResponse {
	return ticketResponse{
		ID:          t.ID,
		EventID:     t.EventID,
		RequesterID: t.RequesterID,
		Quantity:    t.Quantity,
		TotalPrice:  t.TotalPrice,
		Currency:    t.Currency,
		Status:      string(t.Status),
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

// HandleReserve serves POST /events/{eventID}/reservations. A replayed
// idempotent request answers 200 with the original ticket.
func HandleReserve(svc Reserver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reserveRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
			return
		}
		if strings.TrimSpace(req.RequesterID) == "" {
			writeError(w, http.StatusBadRequest, codeMissingRequiredField, "requester_id is required")
			return
		}
		key := req.IdempotencyKey
		if key == "" {
			key = r.Header.Get(IdempotencyHeader)
		}

		res, err := svc.Reserve(r.Context(), app.ReserveInput{
			EventID:        chi.URLParam(r, "eventID"),
			RequesterID:    req.RequesterID,
			Quantity:       req.Quantity,
			IdempotencyKey: key,
		})
		if err != nil {
			writeServiceError(w, err)
			return
		}

		status := http.StatusCreated
		if !res.Created {
			status = http.StatusOK
		}
		writeJSON(w, status, reserveResponse{
			Ticket:    toTicketResponse(res.Ticket),
			Remaining: res.Remaining,
		})
	}
}

type inventoryResponse struct {
	EventID   string `json:"event_id"`
	Capacity  int    `json:"capacity"`
	Sold      int    `json:"sold"`
	Remaining int    `json:"remaining"`
}

// HandleInventory serves GET /events/{eventID}/inventory.
func HandleInventory(svc InventoryReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.Snapshot(r.Context(), chi.URLParam(r, "eventID"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, inventoryResponse{
			EventID:   snap.EventID,
			Capacity:  snap.Capacity,
			Sold:      snap.Sold,
			Remaining: snap.Remaining,
		})
	}
}
