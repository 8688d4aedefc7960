package payment

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithTimeout_SlowProviderIsTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	slow := AuthorizerFunc(func(_ context.Context, req Request) (Authorization, error) {
		<-release
		return Authorization{Approved: true, Reference: req.Reference}, nil
	})

	start := time.Now()
	auth, err := WithTimeout(slow, 20*time.Millisecond).Authorize(context.Background(), Request{Reference: "r1"})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.False(t, auth.Approved)
	assert.Less(t, time.Since(start), time.Second)
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	t.Parallel()

	auth, err := WithTimeout(StaticAuthorizer{Approve: true}, time.Second).
		Authorize(context.Background(), Request{Reference: "r2"})
	require.NoError(t, err)
	assert.True(t, auth.Approved)
	assert.Equal(t, "r2", auth.Reference)
}

func TestHTTPAuthorizer(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req authorizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.Header.Get("Idempotency-Key") != req.Reference {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		switch req.RequesterID {
		case "declined":
			w.WriteHeader(http.StatusPaymentRequired)
		case "broken":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_ = json.NewEncoder(w).Encode(authorizeResponse{Approved: req.Amount > 0, Reference: "prov-" + req.Reference})
		}
	}))
	defer srv.Close()

	a := NewHTTPAuthorizer(srv.URL, srv.Client())

	auth, err := a.Authorize(context.Background(), Request{RequesterID: "u1", Amount: 500, Currency: "try", Reference: "ref-1"})
	require.NoError(t, err)
	assert.True(t, auth.Approved)
	assert.Equal(t, "prov-ref-1", auth.Reference)

	auth, err = a.Authorize(context.Background(), Request{RequesterID: "declined", Amount: 500, Reference: "ref-2"})
	require.NoError(t, err)
	assert.False(t, auth.Approved)

	_, err = a.Authorize(context.Background(), Request{RequesterID: "broken", Amount: 500, Reference: "ref-3"})
	assert.Error(t, err)
}
