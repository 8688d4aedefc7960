// Package payment is the boundary to the payment provider. The reservation
// path treats any error or non-approval as a decline.
package payment

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the provider does not answer in time.
var ErrTimeout = errors.New("payment authorization timed out")

type Request struct {
	RequesterID string
	// Amount is in minor currency units.
	Amount   int64
	Currency string
	// Reference makes the authorization idempotent at the provider.
	Reference string
	Metadata  map[string]string
}

type Authorization struct {
	Approved  bool
	Reference string
}

type Authorizer interface {
	Authorize(ctx context.Context, req Request) (Authorization, error)
}

// StaticAuthorizer answers every request the same way. Used for local runs
// without a provider and in tests.
type StaticAuthorizer struct {
	Approve bool
}

func (s StaticAuthorizer) Authorize(_ context.Context, req Request) (Authorization, error) {
	return Authorization{Approved: s.Approve, Reference: req.Reference}, nil
}

// AuthorizerFunc adapts a function to Authorizer.
type AuthorizerFunc func(ctx context.Context, req Request) (Authorization, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, req Request) (Authorization, error) {
	return f(ctx, req)
}

type timeoutAuthorizer struct {
	next    Authorizer
	timeout time.Duration
}

// WithTimeout bounds next. A call still running after d returns ErrTimeout,
// even if next ignores its context.
func WithTimeout(next Authorizer, d time.Duration) Authorizer {
	if d <= 0 {
		return next
	}
	return &timeoutAuthorizer{next: next, timeout: d}
}

type authResult struct {
	auth Authorization
	err  error
}

func (t *timeoutAuthorizer) Authorize(ctx context.Context, req Request) (Authorization, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan authResult, 1)
	go func() {
		auth, err := t.next.Authorize(ctx, req)
		done <- authResult{auth: auth, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return Authorization{}, ErrTimeout
		}
		return res.auth, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Authorization{}, ErrTimeout
		}
		return Authorization{}, ctx.Err()
	}
}
