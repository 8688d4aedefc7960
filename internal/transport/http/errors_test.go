package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cimillas/ticket-inventory/internal/domain"
)

func TestWriteServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err    error
		status int
		code   string
	}{
		{domain.ErrEventNotFound, http.StatusNotFound, codeEventNotFound},
		{domain.ErrTicketNotFound, http.StatusNotFound, codeTicketNotFound},
		{domain.ErrInsufficientInventory, http.StatusConflict, codeInsufficientInventory},
		{domain.ErrInvalidTransition, http.StatusConflict, codeInvalidTransition},
		{domain.ErrPaymentDeclined, http.StatusPaymentRequired, codePaymentDeclined},
		{domain.ErrInvalidQuantity, http.StatusBadRequest, codeInvalidQuantity},
		{fmt.Errorf("%w: %w", domain.ErrInternal, errors.New("conn reset")), http.StatusInternalServerError, codeInternalError},
		{errors.New("anything else"), http.StatusInternalServerError, codeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeServiceError(rec, tt.err)

			if rec.Code != tt.status {
				t.Fatalf("expected status %d, got %d", tt.status, rec.Code)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Code != tt.code {
				t.Fatalf("expected code %s, got %s", tt.code, resp.Code)
			}
			if tt.status == http.StatusInternalServerError && resp.Error != "internal error" {
				t.Fatalf("expected cause to be hidden, got %q", resp.Error)
			}
		})
	}
}
