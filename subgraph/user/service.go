package user

import (
	"context"
	"fmt"
	"net/http"

	"github.com/expensegraph/expense-gateway/subgraph/graphqlhttp"
)

// SDL is the schema this subgraph reports through { _service { sdl } }.
const SDL = `type User {
  id: ID!
  name: String!
  email: String!
  createdAt: String!
  updatedAt: String
}

type Query {
  user(id: ID!): User
  users(ids: [ID!]!): [User]!
  allUsers: [User]
}

type Mutation {
  createUser(name: String!, email: String!): User
  updateUser(id: ID!, name: String, email: String): User
  deleteUser(id: ID!): Boolean
}
`

// NewHandler exposes the store as a GraphQL endpoint.
func NewHandler(store *Store) http.Handler {
	h := graphqlhttp.NewHandler(SDL)

	h.Query("user", func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		u, ok := store.Get(id)
		if !ok {
			return nil, nil
		}
		return u.toMap(), nil
	})

	h.Query("users", func(ctx context.Context, args map[string]any) (any, error) {
		ids, err := stringListArg(args, "ids")
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, len(ids))
		for _, u := range store.ByIDs(ids) {
			if u == nil {
				out = append(out, nil)
				continue
			}
			out = append(out, u.toMap())
		}
		return out, nil
	})

	h.Query("allUsers", func(ctx context.Context, args map[string]any) (any, error) {
		users := store.All()
		out := make([]any, 0, len(users))
		for _, u := range users {
			out = append(out, u.toMap())
		}
		return out, nil
	})

	h.Mutation("createUser", func(ctx context.Context, args map[string]any) (any, error) {
		name, err := stringArg(args, "name")
		if err != nil {
			return nil, err
		}
		email, err := stringArg(args, "email")
		if err != nil {
			return nil, err
		}
		return store.Create(name, email).toMap(), nil
	})

	h.Mutation("updateUser", func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		u, ok := store.Update(id, optionalStringArg(args, "name"), optionalStringArg(args, "email"))
		if !ok {
			return nil, nil
		}
		return u.toMap(), nil
	})

	h.Mutation("deleteUser", func(ctx context.Context, args map[string]any) (any, error) {
		id, err := stringArg(args, "id")
		if err != nil {
			return nil, err
		}
		return store.Delete(id), nil
	})

	return h
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
