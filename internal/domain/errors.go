package domain

import "errors"

var (
	ErrEventNotFound         = errors.New("event not found")
	ErrTicketNotFound        = errors.New("ticket not found")
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrPaymentDeclined       = errors.New("payment declined")
	ErrInvalidTransition     = errors.New("invalid ticket transition")
	ErrInvalidQuantity       = errors.New("invalid quantity")
	ErrInvalidID             = errors.New("invalid id")
	ErrIdempotencyConflict   = errors.New("idempotency conflict")
	ErrEventInactive         = errors.New("event inactive")
	ErrEventNameRequired     = errors.New("event name required")
	ErrInvalidCapacity       = errors.New("invalid capacity")
	ErrInvalidPrice          = errors.New("invalid price")
	// ErrInternal marks storage or transport faults. A reservation that fails
	// with ErrInternal committed nothing and may be retried as a whole.
	ErrInternal = errors.New("internal failure")
)

// IsNotFound reports whether err is one of the not-found errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) || errors.Is(err, ErrTicketNotFound)
}
