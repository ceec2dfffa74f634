package executor_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/expensegraph/expense-gateway/federation/executor"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

func TestClient_Execute(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody) //nolint:errcheck
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"user":{"id":"1","name":"John Doe"}}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := executor.NewClient(srv.Client(), nil)
	resp, err := c.Execute(context.Background(), srv.URL, "query { user(id: $id) { id name } }", map[string]any{"id": "1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if resp.Errors != nil {
		t.Fatalf("unexpected upstream errors: %v", resp.Errors)
	}

	want := map[string]any{"user": map[string]any{"id": "1", "name": "John Doe"}}
	if diff := cmp.Diff(want, resp.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
	if gotBody["query"] == "" {
		t.Error("request body is missing the query")
	}
	if vars, ok := gotBody["variables"].(map[string]any); !ok || vars["id"] != "1" {
		t.Errorf("request variables not forwarded: %v", gotBody["variables"])
	}
}

func TestClient_Execute_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := executor.NewClient(srv.Client(), nil)
	_, err := c.Execute(context.Background(), srv.URL, "query { x }", nil)

	var transportErr *executor.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if transportErr.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d, want %d", transportErr.StatusCode, http.StatusBadGateway)
	}
}

func TestClient_Execute_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	c := executor.NewClient(http.DefaultClient, nil)
	_, err := c.Execute(context.Background(), srv.URL, "query { x }", nil)

	var transportErr *executor.TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected *TransportError, got %T: %v", err, err)
	}
	if transportErr.StatusCode != 0 {
		t.Errorf("StatusCode = %d, want 0 for a failed round trip", transportErr.StatusCode)
	}
}

func TestClient_Execute_EmbeddedErrorsKeepData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":{"user":null},"errors":[{"message":"User not found"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	c := executor.NewClient(srv.Client(), nil)
	resp, err := c.Execute(context.Background(), srv.URL, "query { user(id: \"404\") { id } }", nil)
	if err != nil {
		t.Fatalf("embedded errors must not fail the call: %v", err)
	}
	if resp.Errors == nil {
		t.Fatal("expected Errors to be set")
	}
	if len(resp.Errors.Errors) != 1 || resp.Errors.Errors[0]["message"] != "User not found" {
		t.Errorf("unexpected error payload: %v", resp.Errors.Errors)
	}
	if resp.Data == nil {
		t.Error("partial data must survive embedded errors")
	}
}

func TestClient_Execute_HeaderPassthrough(t *testing.T) {
	var gotAuth, gotOther string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotOther = r.Header.Get("X-Not-Forwarded")
		w.Write([]byte(`{"data":{}}`)) //nolint:errcheck
	}))
	defer srv.Close()

	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer token-123")
	inbound.Set("X-Not-Forwarded", "secret")
	ctx := executor.SetRequestHeaderToContext(context.Background(), inbound)

	c := executor.NewClient(srv.Client(), []string{"Authorization"})
	if _, err := c.Execute(ctx, srv.URL, "query { x }", nil); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if gotAuth != "Bearer token-123" {
		t.Errorf("Authorization = %q, want the inbound bearer token", gotAuth)
	}
	if gotOther != "" {
		t.Errorf("X-Not-Forwarded leaked to the subgraph: %q", gotOther)
	}
}
