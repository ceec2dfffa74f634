// Package executor sends GraphQL requests to the subgraphs and assembles the
// merged response: root fields are routed to their owning service,
// relationship fields are resolved through request-scoped batching loaders,
// and the result is pruned back to the client's selection.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
)

// TransportError is a failed round trip to a subgraph: network failure,
// timeout, or a non-2xx status.
type TransportError struct {
	Host       string
	StatusCode int // 0 when the request never completed
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("subgraph %s returned status %d", e.Host, e.StatusCode)
	}
	return fmt.Sprintf("subgraph %s request failed: %v", e.Host, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamError is a GraphQL error list embedded in an otherwise successful
// subgraph response. Data may still be partially usable.
type UpstreamError struct {
	Host   string
	Errors []map[string]any
}

func (e *UpstreamError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, item := range e.Errors {
		if msg, ok := item["message"].(string); ok {
			msgs = append(msgs, msg)
		}
	}
	if len(msgs) == 0 {
		return fmt.Sprintf("subgraph %s returned errors", e.Host)
	}
	return fmt.Sprintf("subgraph %s returned errors: %s", e.Host, strings.Join(msgs, "; "))
}

// Response is a decoded subgraph reply.
type Response struct {
	Data   map[string]any
	Errors *UpstreamError // nil when the reply carried no errors
}

// Client executes query/variables payloads against subgraph endpoints over
// HTTP. The underlying http.Client carries the configured timeout (and the
// otel transport when tracing is enabled).
type Client struct {
	httpClient         *http.Client
	passthroughHeaders []string
}

// NewClient wraps httpClient. passthroughHeaders names inbound request
// headers forwarded to every subgraph call (auth passthrough).
func NewClient(httpClient *http.Client, passthroughHeaders []string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{httpClient: httpClient, passthroughHeaders: passthroughHeaders}
}

// Execute POSTs query and variables to host and decodes the reply. Transport
// failures and non-2xx statuses return a *TransportError. An embedded
// GraphQL error list is returned on the Response, not as the call error, so
// callers can still use partial data.
func (c *Client) Execute(ctx context.Context, host, query string, variables map[string]any) (*Response, error) {
	reqBody := map[string]any{"query": query}
	if len(variables) > 0 {
		reqBody["variables"] = variables
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, host, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if inbound := RequestHeaderFromContext(ctx); inbound != nil {
		for _, name := range c.passthroughHeaders {
			if v := inbound.Get(name); v != "" {
				req.Header.Set(name, v)
			}
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Host: host, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil, &TransportError{Host: host, StatusCode: resp.StatusCode}
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Host: host, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var decoded struct {
		Data   map[string]any   `json:"data"`
		Errors []map[string]any `json:"errors"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, &TransportError{Host: host, Err: fmt.Errorf("failed to unmarshal response: %w", err)}
	}

	out := &Response{Data: decoded.Data}
	if len(decoded.Errors) > 0 {
		out.Errors = &UpstreamError{Host: host, Errors: decoded.Errors}
	}
	return out, nil
}

type requestHeaderKey struct{}

// SetRequestHeaderToContext stores the inbound request headers for auth
// header passthrough to subgraph calls.
func SetRequestHeaderToContext(ctx context.Context, header http.Header) context.Context {
	return context.WithValue(ctx, requestHeaderKey{}, header)
}

// RequestHeaderFromContext returns the inbound headers stored by
// SetRequestHeaderToContext, or nil.
func RequestHeaderFromContext(ctx context.Context) http.Header {
	header, _ := ctx.Value(requestHeaderKey{}).(http.Header)
	return header
}
