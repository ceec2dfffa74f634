package registry

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// serviceSDLResponse is the response body from a subgraph's GraphQL endpoint
// when queried with `{ _service { sdl } }`.
type serviceSDLResponse struct {
	Data struct {
		Service struct {
			SDL string `json:"sdl"`
		} `json:"_service"`
	} `json:"data"`
}

// SDLFetcher fetches a subgraph's SDL over HTTP, retrying failed attempts.
type SDLFetcher struct {
	httpClient *http.Client
	attempts   int
	timeout    time.Duration
}

// NewSDLFetcher builds a fetcher that tries up to attempts times with a
// per-attempt timeout.
func NewSDLFetcher(httpClient *http.Client, attempts int, timeout time.Duration) *SDLFetcher {
	if attempts <= 0 {
		attempts = 1
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SDLFetcher{httpClient: httpClient, attempts: attempts, timeout: timeout}
}

// Fetch retrieves the SDL by sending { _service { sdl } } to the subgraph's
// GraphQL endpoint.
func (f *SDLFetcher) Fetch(ctx context.Context, host string) (string, error) {
	body := []byte(`{"query":"{_service{sdl}}"}`)

	var lastErr error
	for i := 0; i < f.attempts; i++ {
		sdl, err := f.fetchOnce(ctx, host, body)
		if err == nil {
			return sdl, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("failed to fetch SDL from %s after %d attempt(s): %w", host, f.attempts, lastErr)
}

func (f *SDLFetcher) fetchOnce(ctx context.Context, host string, body []byte) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, host, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code %d from %s", resp.StatusCode, host)
	}

	var svcResp serviceSDLResponse
	if err := json.NewDecoder(resp.Body).Decode(&svcResp); err != nil {
		return "", fmt.Errorf("failed to decode SDL response: %w", err)
	}

	if svcResp.Data.Service.SDL == "" {
		return "", fmt.Errorf("empty SDL returned from %s", host)
	}

	return svcResp.Data.Service.SDL, nil
}
