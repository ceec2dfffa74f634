package gateway_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/expensegraph/expense-gateway/gateway"
	"github.com/expensegraph/expense-gateway/subgraph/expense"
	"github.com/expensegraph/expense-gateway/subgraph/user"
	"github.com/goccy/go-json"
)

// newTestGateway boots the two demo subgraphs and a gateway that discovers
// their schemas over HTTP, exactly as in production.
func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()

	userSrv := httptest.NewServer(user.NewHandler(user.NewSeededStore()))
	t.Cleanup(userSrv.Close)
	expenseSrv := httptest.NewServer(expense.NewHandler(expense.NewSeededStore()))
	t.Cleanup(expenseSrv.Close)

	opt := gateway.GatewayOption{
		Services: []gateway.ServiceOption{
			{Name: "users", Host: userSrv.URL},
			{Name: "expenses", Host: expenseSrv.URL},
		},
	}

	gw, err := gateway.NewGateway(opt, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if err := gw.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return gw
}

func postGraphQL(t *testing.T, gw http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	var decoded map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return w, decoded
}

func TestGateway_ServesFederatedQuery(t *testing.T) {
	gw := newTestGateway(t)

	_, resp := postGraphQL(t, gw, `{"query":"{ allUsers { id name expenses { amount } } }"}`)

	if resp["errors"] != nil {
		t.Fatalf("unexpected errors: %v", resp["errors"])
	}
	users := resp["data"].(map[string]any)["allUsers"].([]any)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
	first := users[0].(map[string]any)
	if first["name"] != "John Doe" {
		t.Errorf("first user = %v", first)
	}
	if len(first["expenses"].([]any)) != 2 {
		t.Errorf("first user expenses = %v", first["expenses"])
	}
}

func TestGateway_ServesReverseRelationship(t *testing.T) {
	gw := newTestGateway(t)

	_, resp := postGraphQL(t, gw, `{"query":"{ expense(id: \"3\") { description user { name } } }"}`)

	if resp["errors"] != nil {
		t.Fatalf("unexpected errors: %v", resp["errors"])
	}
	e := resp["data"].(map[string]any)["expense"].(map[string]any)
	if e["description"] != "New shoes" {
		t.Errorf("expense = %v", e)
	}
	if u := e["user"].(map[string]any); u["name"] != "Jane Smith" {
		t.Errorf("expense.user = %v", e["user"])
	}
}

func TestGateway_VariablesAndOperationName(t *testing.T) {
	gw := newTestGateway(t)

	body := `{"query":"query GetUser($id: ID!) { user(id: $id) { name } }","variables":{"id":"1"},"operationName":"GetUser"}`
	_, resp := postGraphQL(t, gw, body)

	if resp["errors"] != nil {
		t.Fatalf("unexpected errors: %v", resp["errors"])
	}
	u := resp["data"].(map[string]any)["user"].(map[string]any)
	if u["name"] != "John Doe" {
		t.Errorf("user = %v", u)
	}
}

func TestGateway_CORSPreflight(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodOptions, "/graphql", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "POST") {
		t.Errorf("Allow-Methods = %q, want POST", got)
	}
}

func TestGateway_RejectsNonPost(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodGet, "/graphql", nil)
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestGateway_RejectsMalformedBody(t *testing.T) {
	gw := newTestGateway(t)

	req := httptest.NewRequest(http.MethodPost, "/graphql", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	gw.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestGateway_StartFailsWhenSubgraphIsDown(t *testing.T) {
	deadSrv := httptest.NewServer(http.NotFoundHandler())
	deadSrv.Close()

	opt := gateway.GatewayOption{
		Services: []gateway.ServiceOption{
			{Name: "users", Host: deadSrv.URL},
		},
		SchemaFetch: gateway.RetryOption{Attempts: 1, Timeout: "100ms"},
	}
	gw, err := gateway.NewGateway(opt, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if err := gw.Start(context.Background()); err == nil {
		t.Fatal("Start must fail when the initial schema fetch fails")
	}
}

func TestGateway_RequiresServices(t *testing.T) {
	if _, err := gateway.NewGateway(gateway.GatewayOption{}, nil); err == nil {
		t.Fatal("expected an error for empty service list")
	}
}

func TestGateway_RequiresBatchRootFields(t *testing.T) {
	// A lone user service cannot satisfy the stitched fields: composition
	// must fail at Start.
	userSrv := httptest.NewServer(user.NewHandler(user.NewSeededStore()))
	defer userSrv.Close()

	opt := gateway.GatewayOption{
		Services: []gateway.ServiceOption{{Name: "users", Host: userSrv.URL}},
	}
	gw, err := gateway.NewGateway(opt, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	if err := gw.Start(context.Background()); err == nil {
		t.Fatal("Start must fail without an expensesByUsers provider")
	}
}
