package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/expensegraph/expense-gateway/federation/graph"
	"github.com/expensegraph/expense-gateway/loader"
	"github.com/n9te9/graphql-parser/ast"
	"golang.org/x/sync/errgroup"
)

// GraphQLError is one entry of a response's errors array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// MissingPolicy decides how a one-to-one relationship behaves when the
// referenced entity does not exist.
type MissingPolicy string

const (
	// MissingError surfaces a field error naming the missing key and nulls
	// the field.
	MissingError MissingPolicy = "error"
	// MissingNull nulls the field silently.
	MissingNull MissingPolicy = "null"
)

// Executor resolves a parsed GraphQL document against the merged schema.
// It is read-only after construction and shared across requests; all
// per-request state lives in executionState.
type Executor struct {
	client        *Client
	schema        *graph.MergedSchema
	queryBuilder  *QueryBuilder
	loaderCfg     loader.Config
	missingPolicy MissingPolicy
	logger        *slog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithLoaderConfig sets the batching window, ceiling, and fallback mode of
// the per-request loaders.
func WithLoaderConfig(cfg loader.Config) Option {
	return func(e *Executor) { e.loaderCfg = cfg }
}

// WithMissingPolicy sets the one-to-one not-found behavior.
func WithMissingPolicy(p MissingPolicy) Option {
	return func(e *Executor) {
		if p == MissingNull {
			e.missingPolicy = MissingNull
		}
	}
}

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Executor over the merged schema.
func New(client *Client, schema *graph.MergedSchema, opts ...Option) *Executor {
	e := &Executor{
		client:        client,
		schema:        schema,
		queryBuilder:  NewQueryBuilder(schema),
		missingPolicy: MissingError,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// executionState is the mutable state of one request: the partial data tree,
// accumulated errors, the per-request loaders, and the document's fragments.
type executionState struct {
	mu        sync.Mutex
	data      map[string]any
	errors    []GraphQLError
	loaders   *requestLoaders
	fragments map[string]*ast.FragmentDefinition
}

func (st *executionState) addError(err GraphQLError) {
	st.mu.Lock()
	st.errors = append(st.errors, err)
	st.mu.Unlock()
}

// setField writes a resolved value into a shared object node. Sibling
// resolvers write different keys of the same map concurrently, so every
// access to a node goes through the state lock.
func (st *executionState) setField(node map[string]any, key string, value any) {
	st.mu.Lock()
	node[key] = value
	st.mu.Unlock()
}

func (st *executionState) getField(node map[string]any, key string) (any, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	v, ok := node[key]
	return v, ok
}

// Execute runs doc against the merged schema and returns the GraphQL
// response object. Field-level failures never abort the response; they null
// the field and append to errors, per partial-execution semantics.
func (e *Executor) Execute(ctx context.Context, doc *ast.Document, variables map[string]any, operationName string) map[string]any {
	op := selectOperation(doc, operationName)
	if op == nil {
		return errorResponse(fmt.Sprintf("operation %q not found in document", operationName))
	}
	if op.Operation != ast.Query && op.Operation != ast.Mutation {
		return errorResponse("only query and mutation operations are supported")
	}

	st := &executionState{
		data:      make(map[string]any),
		loaders:   e.newRequestLoaders(),
		fragments: collectFragments(doc),
	}

	rootType := "Query"
	if op.Operation == ast.Mutation {
		rootType = "Mutation"
	}

	rootFields := expandSelections(op.SelectionSet, st.fragments, rootType)

	owners := make([]*graph.SubGraph, len(rootFields))
	for i, field := range rootFields {
		fieldName := field.Name.String()
		sg, ok := e.schema.RootFieldOwner(op.Operation, fieldName)
		if !ok {
			return errorResponse(fmt.Sprintf("Cannot query field %q on type %q", fieldName, rootType))
		}
		owners[i] = sg
	}

	type rootGroup struct {
		sg     *graph.SubGraph
		fields []*ast.Field
	}

	if op.Operation == ast.Mutation {
		// Root mutation fields execute serially in document order; only
		// adjacent fields owned by the same subgraph share an upstream call.
		var runs []*rootGroup
		for i, field := range rootFields {
			if len(runs) == 0 || runs[len(runs)-1].sg != owners[i] {
				runs = append(runs, &rootGroup{sg: owners[i]})
			}
			run := runs[len(runs)-1]
			run.fields = append(run.fields, field)
		}
		for _, run := range runs {
			e.executeRootGroup(ctx, st, op.Operation, run.sg, run.fields, variables)
		}
	} else {
		// Queries fan out in parallel, one call per owning subgraph.
		var groups []*rootGroup
		bySubgraph := make(map[*graph.SubGraph]*rootGroup)
		for i, field := range rootFields {
			group, ok := bySubgraph[owners[i]]
			if !ok {
				group = &rootGroup{sg: owners[i]}
				bySubgraph[owners[i]] = group
				groups = append(groups, group)
			}
			group.fields = append(group.fields, field)
		}
		var eg errgroup.Group
		for _, group := range groups {
			eg.Go(func() error {
				e.executeRootGroup(ctx, st, op.Operation, group.sg, group.fields, variables)
				return nil
			})
		}
		eg.Wait() //nolint:errcheck
	}

	// Resolve relationship fields over the merged data tree. Every
	// occurrence fires concurrently, so sibling resolvers coalesce into
	// single batched upstream calls.
	var eg errgroup.Group
	e.resolveRelationships(ctx, &eg, st, st.data, rootFields, rootType, nil)
	eg.Wait() //nolint:errcheck

	response := map[string]any{
		"data": e.pruneObject(st.data, op.SelectionSet, st.fragments, rootType),
	}
	if len(st.errors) > 0 {
		response["errors"] = st.errors
	}
	return response
}

// executeRootGroup sends one subgraph its share of the root fields and
// merges the returned data into the request's data tree.
func (e *Executor) executeRootGroup(
	ctx context.Context,
	st *executionState,
	op ast.OperationType,
	sg *graph.SubGraph,
	fields []*ast.Field,
	variables map[string]any,
) {
	query, queryVars, err := e.queryBuilder.BuildRootQuery(op, fields, sg, variables, st.fragments)
	if err != nil {
		e.failRootFields(st, sg, fields, fmt.Errorf("failed to build query: %w", err))
		return
	}

	resp, err := e.client.Execute(ctx, sg.Host, query, queryVars)
	if err != nil {
		e.failRootFields(st, sg, fields, err)
		return
	}

	if resp.Errors != nil {
		for _, item := range resp.Errors.Errors {
			message, _ := item["message"].(string)
			if message == "" {
				message = "unknown error from subgraph"
			}
			gqlErr := GraphQLError{
				Message:    message,
				Extensions: map[string]any{"serviceName": sg.Name},
			}
			if path, ok := item["path"].([]any); ok {
				gqlErr.Path = path
			}
			st.addError(gqlErr)
		}
	}

	st.mu.Lock()
	for _, field := range fields {
		key := responseKey(field)
		if resp.Data != nil {
			st.data[key] = resp.Data[key]
		} else {
			st.data[key] = nil
		}
	}
	st.mu.Unlock()
}

// failRootFields nulls every root field of a failed subgraph call and
// records one error per field.
func (e *Executor) failRootFields(st *executionState, sg *graph.SubGraph, fields []*ast.Field, err error) {
	for _, field := range fields {
		key := responseKey(field)
		st.setField(st.data, key, nil)
		st.addError(GraphQLError{
			Message:    err.Error(),
			Path:       []any{key},
			Extensions: map[string]any{"serviceName": sg.Name},
		})
	}
}

// resolveRelationships walks value alongside the query selections, issuing a
// loader call for every relationship field occurrence and recursing into
// plain object fields. Loader calls are registered on eg and run
// concurrently; nested relationships resolve in follow-up waves after their
// parent value arrives.
func (e *Executor) resolveRelationships(
	ctx context.Context,
	eg *errgroup.Group,
	st *executionState,
	value any,
	fields []*ast.Field,
	parentType string,
	path []any,
) {
	switch node := value.(type) {
	case map[string]any:
		for _, field := range fields {
			fieldName := field.Name.String()
			key := responseKey(field)
			fieldPath := appendPath(path, key)

			if rel, ok := e.schema.Relationship(parentType, fieldName); ok {
				e.resolveRelationshipField(ctx, eg, st, node, field, rel, fieldPath)
				continue
			}

			child, ok := st.getField(node, key)
			if !ok || child == nil || len(field.SelectionSet) == 0 {
				continue
			}
			childType := e.schema.FieldTypeName(parentType, fieldName)
			if childType == "" {
				continue
			}
			childFields := expandSelections(field.SelectionSet, st.fragments, childType)
			e.resolveRelationships(ctx, eg, st, child, childFields, childType, fieldPath)
		}

	case []any:
		for i, item := range node {
			e.resolveRelationships(ctx, eg, st, item, fields, parentType, appendPath(path, i))
		}
	}
}

// resolveRelationshipField loads one relationship field occurrence through
// the request's loader and writes the result into the parent node.
func (e *Executor) resolveRelationshipField(
	ctx context.Context,
	eg *errgroup.Group,
	st *executionState,
	node map[string]any,
	field *ast.Field,
	rel *graph.Relationship,
	path []any,
) {
	key := responseKey(field)

	rawKey, _ := st.getField(node, rel.KeyField)
	loadKey, ok := stringValue(rawKey)
	if !ok {
		st.setField(node, key, emptyRelationshipValue(rel))
		st.addError(GraphQLError{
			Message: fmt.Sprintf("parent object is missing required field %q", rel.KeyField),
			Path:    path,
		})
		return
	}

	switch rel.Cardinality {
	case graph.OneToMany:
		l := st.loaders.oneToMany[relKey(rel)]
		eg.Go(func() error {
			rows, err := l.Load(ctx, loadKey)
			if err != nil {
				// One-to-many delegate failures degrade to an empty list.
				e.logger.Warn("relationship batch failed",
					slog.String("field", relKey(rel)),
					slog.String("key", loadKey),
					slog.Any("error", err))
				st.setField(node, key, []any{})
				return nil
			}
			values := make([]any, len(rows))
			for i, row := range rows {
				values[i] = map[string]any(row)
			}
			st.setField(node, key, values)
			e.resolveNested(ctx, eg, st, values, field, rel, path)
			return nil
		})

	case graph.OneToOne:
		l := st.loaders.oneToOne[relKey(rel)]
		eg.Go(func() error {
			row, err := l.Load(ctx, loadKey)
			if err != nil {
				st.setField(node, key, nil)
				st.addError(GraphQLError{
					Message:    err.Error(),
					Path:       path,
					Extensions: map[string]any{"serviceName": rel.Source},
				})
				return nil
			}
			if row == nil {
				st.setField(node, key, nil)
				if e.missingPolicy == MissingError {
					st.addError(GraphQLError{
						Message: fmt.Sprintf("%s not found for %s: %s", rel.TargetType, rel.KeyField, loadKey),
						Path:    path,
					})
				}
				return nil
			}
			value := map[string]any(row)
			st.setField(node, key, value)
			e.resolveNested(ctx, eg, st, value, field, rel, path)
			return nil
		})
	}
}

// resolveNested continues relationship resolution inside a freshly loaded
// relationship value, covering chains like allUsers -> expenses -> user.
func (e *Executor) resolveNested(
	ctx context.Context,
	eg *errgroup.Group,
	st *executionState,
	value any,
	field *ast.Field,
	rel *graph.Relationship,
	path []any,
) {
	if len(field.SelectionSet) == 0 {
		return
	}
	childFields := expandSelections(field.SelectionSet, st.fragments, rel.TargetType)
	e.resolveRelationships(ctx, eg, st, value, childFields, rel.TargetType, path)
}

// pruneObject trims the merged data tree back to the client's selection,
// dropping the key fields injected for relationship resolution.
func (e *Executor) pruneObject(value any, selections []ast.Selection, fragments map[string]*ast.FragmentDefinition, parentType string) any {
	if value == nil {
		return nil
	}

	switch v := value.(type) {
	case map[string]any:
		fields := expandSelections(selections, fragments, parentType)
		result := make(map[string]any, len(fields))
		for _, field := range fields {
			key := responseKey(field)
			if field.Name.String() == "__typename" {
				result[key] = parentType
				continue
			}
			child, ok := v[key]
			if !ok {
				continue
			}
			if len(field.SelectionSet) > 0 {
				childType := e.schema.FieldTypeName(parentType, field.Name.String())
				result[key] = e.pruneObject(child, field.SelectionSet, fragments, childType)
			} else {
				result[key] = child
			}
		}
		return result

	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = e.pruneObject(item, selections, fragments, parentType)
		}
		return result

	default:
		return v
	}
}

// expandSelections flattens a selection set to plain fields, inlining
// fragment spreads and matching inline fragments.
func expandSelections(selections []ast.Selection, fragments map[string]*ast.FragmentDefinition, parentType string) []*ast.Field {
	var fields []*ast.Field
	for _, sel := range selections {
		switch s := sel.(type) {
		case *ast.Field:
			fields = append(fields, s)
		case *ast.InlineFragment:
			if s.TypeCondition == nil || s.TypeCondition.Name.String() == parentType {
				fields = append(fields, expandSelections(s.SelectionSet, fragments, parentType)...)
			}
		case *ast.FragmentSpread:
			fragDef, ok := fragments[s.Name.String()]
			if !ok {
				continue
			}
			if fragDef.TypeCondition != nil && fragDef.TypeCondition.Name.String() != parentType {
				continue
			}
			fields = append(fields, expandSelections(fragDef.SelectionSet, fragments, parentType)...)
		}
	}
	return fields
}

func collectFragments(doc *ast.Document) map[string]*ast.FragmentDefinition {
	fragments := make(map[string]*ast.FragmentDefinition)
	for _, def := range doc.Definitions {
		if fragDef, ok := def.(*ast.FragmentDefinition); ok {
			fragments[fragDef.Name.String()] = fragDef
		}
	}
	return fragments
}

// selectOperation picks the requested operation, or the document's first one
// when no name is given.
func selectOperation(doc *ast.Document, operationName string) *ast.OperationDefinition {
	var first *ast.OperationDefinition
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		if first == nil {
			first = op
		}
		if operationName != "" && op.Name != nil && op.Name.String() == operationName {
			return op
		}
	}
	if operationName != "" {
		return nil
	}
	return first
}

func responseKey(field *ast.Field) string {
	if field.Alias != nil && field.Alias.String() != "" {
		return field.Alias.String()
	}
	return field.Name.String()
}

func appendPath(path []any, segment any) []any {
	out := make([]any, len(path), len(path)+1)
	copy(out, path)
	return append(out, segment)
}

func emptyRelationshipValue(rel *graph.Relationship) any {
	if rel.Cardinality == graph.OneToMany {
		return []any{}
	}
	return nil
}

func stringValue(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case float64:
		return fmt.Sprintf("%v", s), true
	case int:
		return fmt.Sprintf("%d", s), true
	default:
		return "", false
	}
}

func errorResponse(message string) map[string]any {
	return map[string]any{
		"data":   nil,
		"errors": []GraphQLError{{Message: message}},
	}
}
