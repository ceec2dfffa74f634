package executor

import (
	"context"
	"fmt"

	"github.com/expensegraph/expense-gateway/federation/graph"
	"github.com/expensegraph/expense-gateway/loader"
)

// requestLoaders holds one batching loader per relationship, scoped to a
// single inbound gateway request. All collaborators are constructed up front
// when the request starts; nothing is lazily stashed on a shared context,
// and no instance outlives its request.
type requestLoaders struct {
	oneToMany map[string]*loader.Loader[string, []loader.Row]
	oneToOne  map[string]*loader.Loader[string, loader.Row]
}

func relKey(rel *graph.Relationship) string {
	return rel.ParentType + "." + rel.FieldName
}

// newRequestLoaders builds the per-request loader set for every relationship
// in the merged schema.
func (e *Executor) newRequestLoaders() *requestLoaders {
	rl := &requestLoaders{
		oneToMany: make(map[string]*loader.Loader[string, []loader.Row]),
		oneToOne:  make(map[string]*loader.Loader[string, loader.Row]),
	}
	for i := range e.schema.Relationships {
		rel := &e.schema.Relationships[i]
		switch rel.Cardinality {
		case graph.OneToMany:
			rl.oneToMany[relKey(rel)] = loader.New(e.oneToManyFetch(rel), e.loaderCfg)
		case graph.OneToOne:
			rl.oneToOne[relKey(rel)] = loader.New(e.oneToOneFetch(rel), e.loaderCfg)
		}
	}
	return rl
}

// batchRows performs one upstream batch call for rel and returns the flat
// row list. A transport failure or an embedded upstream error list fails the
// whole batch.
func (e *Executor) batchRows(ctx context.Context, rel *graph.Relationship, keys []string) ([]loader.Row, error) {
	src, ok := e.schema.SubGraph(rel.Source)
	if !ok {
		return nil, fmt.Errorf("unknown subgraph %q", rel.Source)
	}

	query, err := e.queryBuilder.BuildBatchQuery(rel)
	if err != nil {
		return nil, err
	}

	resp, err := e.client.Execute(ctx, src.Host, query, map[string]any{rel.BatchArg: keys})
	if err != nil {
		return nil, err
	}
	if resp.Errors != nil {
		return nil, resp.Errors
	}
	return loader.ExtractRows(resp.Data, rel.BatchField)
}

// oneToManyFetch loads child rows for a key list and redistributes them by
// foreign key, one (possibly empty) group per key.
func (e *Executor) oneToManyFetch(rel *graph.Relationship) loader.FetchFunc[string, []loader.Row] {
	return func(ctx context.Context, keys []string) ([][]loader.Row, []error) {
		rows, err := e.batchRows(ctx, rel, keys)
		if err != nil {
			return nil, []error{err}
		}
		return loader.OrderOneToMany(keys, rows, rel.GroupKey), nil
	}
}

// oneToOneFetch loads parent rows for a key list and indexes them by primary
// key; missing keys yield nil rows, not errors — not-found policy is applied
// by the resolver.
func (e *Executor) oneToOneFetch(rel *graph.Relationship) loader.FetchFunc[string, loader.Row] {
	return func(ctx context.Context, keys []string) ([]loader.Row, []error) {
		rows, err := e.batchRows(ctx, rel, keys)
		if err != nil {
			return nil, []error{err}
		}
		return loader.OrderOneToOne(keys, rows, rel.GroupKey), nil
	}
}
