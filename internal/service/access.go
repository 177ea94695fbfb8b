package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AccessChecker is the single coupling point to the payment subsystem.
// CreateRoom and JoinRoom consult it before touching the store.
type AccessChecker interface {
	HasAccess(ctx context.Context) (bool, error)
}

// AllowAll grants access unconditionally (local development, tests).
type AllowAll struct{}

func (AllowAll) HasAccess(context.Context) (bool, error) { return true, nil }

// HTTPAccessGate asks the external paywall service whether the caller may
// create or join rooms.
type HTTPAccessGate struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPAccessGate creates a gate against the paywall service at baseURL,
// authenticating with the given bearer token.
func NewHTTPAccessGate(baseURL, token string) *HTTPAccessGate {
	return &HTTPAccessGate{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (g *HTTPAccessGate) HasAccess(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/v1/access", nil)
	if err != nil {
		return false, err
	}
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("access check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("access check failed: status %d", resp.StatusCode)
	}

	var body struct {
		HasAccess bool `json:"hasAccess"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("access check failed: %w", err)
	}
	return body.HasAccess, nil
}
