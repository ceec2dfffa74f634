// Package graphqlhttp is a minimal GraphQL-over-HTTP server used by the demo
// subgraph services. It resolves root fields through registered resolver
// functions and trims responses to the requested selection set. It is not a
// general GraphQL server: no type checking, no introspection beyond the
// _service field the gateway needs.
package graphqlhttp

import (
	"context"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
)

// Resolver handles one root field. args are the coerced field arguments.
type Resolver func(ctx context.Context, args map[string]any) (any, error)

// Handler serves a single subgraph schema over HTTP POST.
type Handler struct {
	sdl       string
	queries   map[string]Resolver
	mutations map[string]Resolver
}

var _ http.Handler = (*Handler)(nil)

// NewHandler creates a handler exposing the given SDL via { _service { sdl } }.
func NewHandler(sdl string) *Handler {
	return &Handler{
		sdl:       sdl,
		queries:   make(map[string]Resolver),
		mutations: make(map[string]Resolver),
	}
}

// Query registers a query root field resolver.
func (h *Handler) Query(name string, fn Resolver) {
	h.queries[name] = fn
}

// Mutation registers a mutation root field resolver.
func (h *Handler) Mutation(name string, fn Resolver) {
	h.mutations[name] = fn
}

type request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": "invalid request body"}},
		})
		return
	}

	l := lexer.New(req.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{"errors": p.Errors()})
		return
	}

	op, fragments := pickOperation(doc, req.OperationName)
	if op == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": "no matching operation"}},
		})
		return
	}

	resolvers := h.queries
	if op.Operation == ast.Mutation {
		resolvers = h.mutations
	}

	data := make(map[string]any)
	var errs []map[string]any

	for _, sel := range op.SelectionSet {
		field, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		name := field.Name.String()
		key := responseKey(field)

		if name == "_service" {
			data[key] = filterValue(map[string]any{"sdl": h.sdl}, field.SelectionSet, fragments)
			continue
		}

		fn, ok := resolvers[name]
		if !ok {
			errs = append(errs, map[string]any{
				"message": fmt.Sprintf("unknown field %q", name),
				"path":    []any{key},
			})
			data[key] = nil
			continue
		}

		args, err := argumentValues(field, req.Variables)
		if err == nil {
			var result any
			result, err = fn(r.Context(), args)
			if err == nil {
				data[key] = filterValue(result, field.SelectionSet, fragments)
				continue
			}
		}
		errs = append(errs, map[string]any{
			"message": err.Error(),
			"path":    []any{key},
		})
		data[key] = nil
	}

	resp := map[string]any{"data": data}
	if len(errs) > 0 {
		resp["errors"] = errs
	}
	writeJSON(w, http.StatusOK, resp)
}

func pickOperation(doc *ast.Document, name string) (*ast.OperationDefinition, map[string]*ast.FragmentDefinition) {
	fragments := make(map[string]*ast.FragmentDefinition)
	var op *ast.OperationDefinition
	for _, def := range doc.Definitions {
		switch d := def.(type) {
		case *ast.OperationDefinition:
			if name != "" && (d.Name == nil || d.Name.String() != name) {
				continue
			}
			if op == nil {
				op = d
			}
		case *ast.FragmentDefinition:
			fragments[d.Name.String()] = d
		}
	}
	return op, fragments
}

func responseKey(field *ast.Field) string {
	if field.Alias != nil {
		return field.Alias.String()
	}
	return field.Name.String()
}

// argumentValues coerces the field's argument AST into Go values, resolving
// variables from the request.
func argumentValues(field *ast.Field, variables map[string]any) (map[string]any, error) {
	args := make(map[string]any, len(field.Arguments))
	for _, arg := range field.Arguments {
		v, err := goValue(arg.Value, variables)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", arg.Name.String(), err)
		}
		args[arg.Name.String()] = v
	}
	return args, nil
}

func goValue(val ast.Value, variables map[string]any) (any, error) {
	switch v := val.(type) {
	case *ast.StringValue:
		return v.Value, nil
	case *ast.IntValue:
		return v.Value, nil
	case *ast.FloatValue:
		return v.Value, nil
	case *ast.BooleanValue:
		return v.Value, nil
	case *ast.EnumValue:
		return v.Value, nil
	case *ast.Variable:
		value, ok := variables[v.Name]
		if !ok {
			return nil, fmt.Errorf("variable $%s is not provided", v.Name)
		}
		return value, nil
	case *ast.ListValue:
		items := make([]any, 0, len(v.Values))
		for _, item := range v.Values {
			gv, err := goValue(item, variables)
			if err != nil {
				return nil, err
			}
			items = append(items, gv)
		}
		return items, nil
	case *ast.ObjectValue:
		obj := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			gv, err := goValue(f.Value, variables)
			if err != nil {
				return nil, err
			}
			obj[f.Name.String()] = gv
		}
		return obj, nil
	default:
		return nil, nil
	}
}

// filterValue trims a resolver result down to the requested selection set.
// Lists filter each element; objects keep only selected fields.
func filterValue(val any, selections []ast.Selection, fragments map[string]*ast.FragmentDefinition) any {
	if val == nil || len(selections) == 0 {
		return val
	}
	switch v := val.(type) {
	case map[string]any:
		return filterObject(v, selections, fragments)
	case []map[string]any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, filterObject(item, selections, fragments))
		}
		return out
	case []any:
		out := make([]any, 0, len(v))
		for _, item := range v {
			out = append(out, filterValue(item, selections, fragments))
		}
		return out
	default:
		return val
	}
}

func filterObject(obj map[string]any, selections []ast.Selection, fragments map[string]*ast.FragmentDefinition) map[string]any {
	out := make(map[string]any)
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			name := s.Name.String()
			if name == "__typename" {
				continue
			}
			out[responseKey(s)] = filterValue(obj[name], s.SelectionSet, fragments)
		case *ast.FragmentSpread:
			if frag, ok := fragments[s.Name.String()]; ok {
				for k, v := range filterObject(obj, frag.SelectionSet, fragments) {
					out[k] = v
				}
			}
		case *ast.InlineFragment:
			for k, v := range filterObject(obj, s.SelectionSet, fragments) {
				out[k] = v
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
