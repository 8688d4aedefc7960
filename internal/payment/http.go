package payment

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// HTTPAuthorizer calls a provider endpoint that accepts
// {requester_id, amount, currency, reference, metadata} and answers
// {approved, reference}.
type HTTPAuthorizer struct {
	url    string
	client *http.Client
}

func NewHTTPAuthorizer(url string, client *http.Client) *HTTPAuthorizer {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPAuthorizer{url: url, client: client}
}

type authorizeRequest struct {
	RequesterID string            `json:"requester_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Reference   string            `json:"reference"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type authorizeResponse struct {
	Approved  bool   `json:"approved"`
	Reference string `json:"reference"`
}

func (a *HTTPAuthorizer) Authorize(ctx context.Context, req Request) (Authorization, error) {
	body, err := json.Marshal(authorizeRequest{
		RequesterID: req.RequesterID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Reference:   req.Reference,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return Authorization{}, fmt.Errorf("encode authorize request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return Authorization{}, fmt.Errorf("build authorize request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.Reference)

	res, err := a.client.Do(httpReq)
	if err != nil {
		return Authorization{}, fmt.Errorf("authorize: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusPaymentRequired {
		_, _ = io.Copy(io.Discard, res.Body)
		return Authorization{Approved: false, Reference: req.Reference}, nil
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, res.Body)
		return Authorization{}, fmt.Errorf("authorize: unexpected status %d", res.StatusCode)
	}

	var out authorizeResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return Authorization{}, fmt.Errorf("decode authorize response: %w", err)
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return Authorization{Approved: out.Approved, Reference: out.Reference}, nil
}
