package app

import (
	"errors"
	"fmt"

	"github.com/cimillas/ticket-inventory/internal/domain"
)

var knownErrors = []error{
	domain.ErrEventNotFound,
	domain.ErrTicketNotFound,
	domain.ErrInsufficientInventory,
	domain.ErrPaymentDeclined,
	domain.ErrInvalidTransition,
	domain.ErrInvalidQuantity,
	domain.ErrInvalidID,
	domain.ErrIdempotencyConflict,
	domain.ErrEventInactive,
	domain.ErrEventNameRequired,
	domain.ErrInvalidCapacity,
	domain.ErrInvalidPrice,
	domain.ErrInternal,
}

// classify passes domain errors through and wraps everything else, including
// context cancellation while waiting for a lock, in ErrInternal.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range knownErrors {
		if errors.Is(err, known) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", domain.ErrInternal, err)
}
