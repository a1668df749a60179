package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNoAPIKey is returned when a session cannot obtain credentials.
// Starting without a key is a fatal precondition, not a retry case.
var ErrNoAPIKey = errors.New("voice: no API key available")

// TokenSource supplies the API key used to open a live session.
type TokenSource interface {
	APIKey(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed key from configuration.
type StaticTokenSource string

var _ TokenSource = StaticTokenSource("")

// APIKey implements [TokenSource].
func (s StaticTokenSource) APIKey(context.Context) (string, error) {
	if s == "" {
		return "", ErrNoAPIKey
	}
	return string(s), nil
}

// HTTPTokenSource fetches the key from a token endpoint returning
// {"apiKey": "..."}, typically this process's own /api/live-token.
type HTTPTokenSource struct {
	// URL is the token endpoint.
	URL string
	// Client is the HTTP client to use. Nil uses a client with a
	// 10-second timeout.
	Client *http.Client
}

var _ TokenSource = (*HTTPTokenSource)(nil)

// APIKey implements [TokenSource].
func (h *HTTPTokenSource) APIKey(ctx context.Context) (string, error) {
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return "", fmt.Errorf("voice: fetch token: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("voice: fetch token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("voice: fetch token: unexpected status %d: %w", resp.StatusCode, ErrNoAPIKey)
	}

	var body struct {
		APIKey string `json:"apiKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("voice: fetch token: %w", err)
	}
	if body.APIKey == "" {
		return "", ErrNoAPIKey
	}
	return body.APIKey, nil
}
