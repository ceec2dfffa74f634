package expense_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/expensegraph/expense-gateway/subgraph/expense"
	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
)

func post(t *testing.T, h http.Handler, body string) map[string]any {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var decoded map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &decoded); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return decoded
}

func expenseIDs(t *testing.T, resp map[string]any, field string) []string {
	t.Helper()
	items, ok := resp["data"].(map[string]any)[field].([]any)
	if !ok {
		t.Fatalf("data.%s is not a list: %v", field, resp)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.(map[string]any)["id"].(string))
	}
	return ids
}

func TestExpenseService_ExpensesByUsersIsFlat(t *testing.T) {
	h := expense.NewHandler(expense.NewSeededStore())

	body := `{"query":"query ($userIds: [ID!]!) { expensesByUsers(userIds: $userIds) { id userId } }","variables":{"userIds":["1","2"]}}`
	resp := post(t, h, body)

	if diff := cmp.Diff([]string{"1", "2", "3", "4"}, expenseIDs(t, resp, "expensesByUsers")); diff != "" {
		t.Errorf("expensesByUsers mismatch (-want +got):\n%s", diff)
	}
}

func TestExpenseService_ExpensesByUsersUnknownUserYieldsNothing(t *testing.T) {
	h := expense.NewHandler(expense.NewSeededStore())

	body := `{"query":"query ($userIds: [ID!]!) { expensesByUsers(userIds: $userIds) { id } }","variables":{"userIds":["404"]}}`
	resp := post(t, h, body)

	if got := expenseIDs(t, resp, "expensesByUsers"); len(got) != 0 {
		t.Errorf("expected no expenses, got %v", got)
	}
}

func TestExpenseService_ExpensesByUser(t *testing.T) {
	h := expense.NewHandler(expense.NewSeededStore())

	resp := post(t, h, `{"query":"{ expensesByUser(userId: \"2\") { id } }"}`)
	if diff := cmp.Diff([]string{"3", "4"}, expenseIDs(t, resp, "expensesByUser")); diff != "" {
		t.Errorf("expensesByUser mismatch (-want +got):\n%s", diff)
	}
}

func TestExpenseService_ExpensesByDate(t *testing.T) {
	h := expense.NewHandler(expense.NewSeededStore())

	resp := post(t, h, `{"query":"{ expensesByDate(startDate: \"2023-01-02\", endDate: \"2023-01-03\") { id } }"}`)
	if diff := cmp.Diff([]string{"2", "3"}, expenseIDs(t, resp, "expensesByDate")); diff != "" {
		t.Errorf("expensesByDate mismatch (-want +got):\n%s", diff)
	}

	// Open-ended ranges run to the present.
	resp = post(t, h, `{"query":"{ expensesByDate(startDate: \"2023-01-03\") { id } }"}`)
	if diff := cmp.Diff([]string{"3", "4"}, expenseIDs(t, resp, "expensesByDate")); diff != "" {
		t.Errorf("open-ended range mismatch (-want +got):\n%s", diff)
	}
}

func TestExpenseService_ExpensesByDateRejectsGarbage(t *testing.T) {
	h := expense.NewHandler(expense.NewSeededStore())

	resp := post(t, h, `{"query":"{ expensesByDate(startDate: \"not-a-date\") { id } }"}`)
	if resp["errors"] == nil {
		t.Error("expected a date parse error")
	}
}

func TestExpenseService_CreateDefaultsCategory(t *testing.T) {
	h := expense.NewHandler(expense.NewStore())

	body := `{"query":"mutation { createExpense(userId: \"1\", amount: 12.5, description: \"Lunch\", date: \"2023-03-01\") { id userId amount description category } }"}`
	resp := post(t, h, body)

	created := resp["data"].(map[string]any)["createExpense"].(map[string]any)
	if created["category"] != "Uncategorized" {
		t.Errorf("category = %v, want Uncategorized", created["category"])
	}
	if created["amount"] != float64(12.5) || created["userId"] != "1" {
		t.Errorf("createExpense = %v", created)
	}
}

func TestExpenseService_UpdateAndDelete(t *testing.T) {
	h := expense.NewHandler(expense.NewSeededStore())

	resp := post(t, h, `{"query":"mutation { updateExpense(id: \"1\", amount: 75.0, category: \"Household\") { amount category description } }"}`)
	updated := resp["data"].(map[string]any)["updateExpense"].(map[string]any)
	if updated["amount"] != float64(75) || updated["category"] != "Household" {
		t.Errorf("updateExpense = %v", updated)
	}
	if updated["description"] != "Groceries" {
		t.Errorf("untouched field changed: %v", updated)
	}

	resp = post(t, h, `{"query":"mutation { updateExpense(id: \"404\", amount: 1.0) { id } }"}`)
	if resp["data"].(map[string]any)["updateExpense"] != nil {
		t.Errorf("updateExpense(404) = %v, want null", resp["data"])
	}

	resp = post(t, h, `{"query":"mutation { deleteExpense(id: \"1\") }"}`)
	if resp["data"].(map[string]any)["deleteExpense"] != true {
		t.Errorf("deleteExpense = %v", resp["data"])
	}
	resp = post(t, h, `{"query":"{ expense(id: \"1\") { id } }"}`)
	if resp["data"].(map[string]any)["expense"] != nil {
		t.Errorf("deleted expense still resolves: %v", resp["data"])
	}
}

func TestExpenseService_ServiceSDL(t *testing.T) {
	h := expense.NewHandler(expense.NewSeededStore())

	resp := post(t, h, `{"query":"{ _service { sdl } }"}`)
	sdl := resp["data"].(map[string]any)["_service"].(map[string]any)["sdl"].(string)
	if !strings.Contains(sdl, "expensesByUsers(userIds: [ID!]!)") {
		t.Errorf("sdl is missing the batch query: %q", sdl)
	}
}
