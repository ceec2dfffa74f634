package expense

import (
	"context"
	"fmt"
	"net/http"

	"github.com/expensegraph/expense-gateway/subgraph/graphqlhttp"
)

// SDL is the schema this subgraph reports through { _service { sdl } }.
const SDL = `type Expense {
  id: ID!
  userId: ID!
  amount: Float!
  description: String!
  category: String
  date: String!
  createdAt: String!
}

type Query {
  expense(id: ID!): Expense
  expenses: [Expense]
  expensesByUser(userId: ID!): [Expense]
  expensesByUsers(userIds: [ID!]!): [Expense]!
  expensesByDate(startDate: String!, endDate: String): [Expense]
}

type Mutation {
  createExpense(userId: ID!, amount: Float!, description: String!, category: String, date: String!): Expense
  updateExpense(id: ID!, amount: Float, description: String, category: String): Expense
  deleteExpense(id: ID!): Boolean
}
`

// NewHandler exposes the store as a GraphQL endpoint.
func NewHandler(store *Store) http.Handler {
	h := graphqlhttp.NewHandler(SDL)

	h.Query("expense", func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		e, ok := store.Get(id)
		if !ok {
			return nil, nil
		}
		return e.toMap(), nil
	})

	h.Query("expenses", func(ctx context.Context, args map[string]any) (any, error) {
		return toMaps(store.All()), nil
	})

	h.Query("expensesByUser", func(ctx context.Context, args map[string]any) (any, error) {
		userID, err := stringArg(args, "userId")
		if err != nil {
			return nil, err
		}
		return toMaps(store.ByUser(userID)), nil
	})

	h.Query("expensesByUsers", func(ctx context.Context, args map[string]any) (any, error) {
		userIDs, err := stringListArg(args, "userIds")
		if err != nil {
			return nil, err
		}
		return toMaps(store.ByUsers(userIDs)), nil
	})

	h.Query("expensesByDate", func(ctx context.Context, args map[string]any) (any, error) {
		start, err := stringArg(args, "startDate")
		if err != nil {
			return nil, err
		}
		end := ""
		if v, ok := args["endDate"].(string); ok {
			end = v
		}
		matched, err := store.ByDateRange(start, end)
		if err != nil {
			return nil, fmt.Errorf("invalid date range: %w", err)
		}
		return toMaps(matched), nil
	})

	h.Mutation("createExpense", func(ctx context.Context, args map[string]any) (any, error) {
		userID, err := stringArg(args, "userId")
		if err != nil {
			return nil, err
		}
		amount, err := floatArg(args, "amount")
		if err != nil {
			return nil, err
		}
		description, err := stringArg(args, "description")
		if err != nil {
			return nil, err
		}
		date, err := stringArg(args, "date")
		if err != nil {
			return nil, err
		}
		category := ""
		if v, ok := args["category"].(string); ok {
			category = v
		}
		return store.Create(userID, amount, description, category, date).toMap(), nil
	})

	h.Mutation("updateExpense", func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		e, ok := store.Update(id, optionalFloatArg(args, "amount"), optionalStringArg(args, "description"), optionalStringArg(args, "category"))
		if !ok {
			return nil, nil
		}
		return e.toMap(), nil
	})

	h.Mutation("deleteExpense", func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		return store.Delete(id), nil
	})

	return h
}

func toMaps(expenses []*Expense) []any {
	out := make([]any, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, e.toMap())
	}
	return out
}

func stringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name].(string)
	if !ok {
		return "", fmt.Errorf("argument %q must be a string", name)
	}
	return v, nil
}

func optionalStringArg(args map[string]any, name string) *string {
	if v, ok := args[name].(string); ok {
		return &v
	}
	return nil
}

func floatArg(args map[string]any, name string) (float64, error) {
	switch v := args[name].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	}
	return 0, fmt.Errorf("argument %q must be a number", name)
}

func optionalFloatArg(args map[string]any, name string) *float64 {
	if f, err := floatArg(args, name); err == nil {
		return &f
	}
	return nil
}

func stringListArg(args map[string]any, name string) ([]string, error) {
	raw, ok := args[name].([]any)
	if !ok {
		return nil, fmt.Errorf("argument %q must be a list", name)
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("argument %q must be a list of strings", name)
		}
		out = append(out, s)
	}
	return out, nil
}
