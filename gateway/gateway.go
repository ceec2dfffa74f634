package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/expensegraph/expense-gateway/federation/executor"
	"github.com/expensegraph/expense-gateway/federation/graph"
	"github.com/expensegraph/expense-gateway/loader"
	"github.com/expensegraph/expense-gateway/registry"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Engine bundles the read-only components that serve GraphQL requests. A new
// Engine is built whenever the schema cache refreshes; it must never be
// mutated afterwards.
type Engine struct {
	Schema   *graph.MergedSchema
	Executor *executor.Executor
}

// Gateway is the externally visible resolution boundary: one HTTP endpoint
// executing requests against the merged schema.
type Gateway struct {
	opt      GatewayOption
	registry *registry.Registry[*Engine]
	logger   *slog.Logger
}

var _ http.Handler = (*Gateway)(nil)

// graphQLRequest is the inbound POST body.
type graphQLRequest struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
	OperationName string         `json:"operationName"`
}

// NewGateway wires the subgraph client, schema registry, and executor from
// configuration. Call Start before serving.
func NewGateway(opt GatewayOption, logger *slog.Logger) (*Gateway, error) {
	opt.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if len(opt.Services) == 0 {
		return nil, fmt.Errorf("no services configured")
	}

	httpClient := &http.Client{Timeout: opt.Timeout()}
	if opt.Opentelemetry.TracingSetting.Enable {
		httpClient.Transport = otelhttp.NewTransport(http.DefaultTransport)
	}

	var passthrough []string
	if opt.EnableHangOverRequestHeader {
		passthrough = opt.PassthroughHeaders
		if len(passthrough) == 0 {
			passthrough = []string{"Authorization"}
		}
	}
	client := executor.NewClient(httpClient, passthrough)

	sources := make([]registry.Source, 0, len(opt.Services))
	for _, svc := range opt.Services {
		src := registry.Source{Name: svc.Name, Host: svc.Host}
		if len(svc.SchemaFiles) > 0 {
			var sdl []byte
			for _, f := range svc.SchemaFiles {
				data, err := os.ReadFile(f)
				if err != nil {
					return nil, fmt.Errorf("failed to read schema file %s: %w", f, err)
				}
				sdl = append(sdl, data...)
				sdl = append(sdl, '\n')
			}
			src.SDL = string(sdl)
		}
		sources = append(sources, src)
	}

	loaderCfg := loader.Config{
		Wait:           opt.Wait(),
		MaxBatch:       opt.MaxBatchSize,
		FallbackPerKey: opt.FallbackPerKey,
	}
	missing := executor.MissingError
	if strings.EqualFold(opt.MissingUserPolicy, string(executor.MissingNull)) {
		missing = executor.MissingNull
	}

	build := func(sdls map[string]string) (*Engine, error) {
		subGraphs := make([]*graph.SubGraph, 0, len(opt.Services))
		for _, svc := range opt.Services {
			sg, err := graph.NewSubGraph(svc.Name, []byte(sdls[svc.Name]), svc.Host)
			if err != nil {
				return nil, fmt.Errorf("failed to build subgraph %q: %w", svc.Name, err)
			}
			subGraphs = append(subGraphs, sg)
		}

		relationships, err := inferRelationships(subGraphs)
		if err != nil {
			return nil, err
		}

		merged, err := graph.NewMergedSchema(subGraphs, relationships)
		if err != nil {
			return nil, fmt.Errorf("composition failed: %w", err)
		}

		exec := executor.New(client, merged,
			executor.WithLoaderConfig(loaderCfg),
			executor.WithMissingPolicy(missing),
			executor.WithLogger(logger),
		)
		return &Engine{Schema: merged, Executor: exec}, nil
	}

	fetcher := registry.NewSDLFetcher(httpClient, opt.SchemaFetch.Attempts, parseDurationOr(opt.SchemaFetch.Timeout, opt.Timeout()))
	reg := registry.New(sources, opt.CacheTTL(), fetcher.Fetch, build, logger)

	return &Gateway{opt: opt, registry: reg, logger: logger}, nil
}

// inferRelationships locates the user and expense services by the batch
// root fields they serve and declares the stitched fields between them.
func inferRelationships(subGraphs []*graph.SubGraph) ([]graph.Relationship, error) {
	var userService, expenseService string
	for _, sg := range subGraphs {
		if sg.OwnsRootField(ast.Query, "users") {
			userService = sg.Name
		}
		if sg.OwnsRootField(ast.Query, "expensesByUsers") {
			expenseService = sg.Name
		}
	}
	if userService == "" {
		return nil, fmt.Errorf("no subgraph serves the users(ids) batch query")
	}
	if expenseService == "" {
		return nil, fmt.Errorf("no subgraph serves the expensesByUsers(userIds) batch query")
	}
	return graph.UserExpenseRelationships(userService, expenseService), nil
}

// Start performs the initial schema fetch and engine build. A failure here
// is fatal unless all subgraph schemas are pinned to files.
func (g *Gateway) Start(ctx context.Context) error {
	return g.registry.Start(ctx)
}

// RefreshHandler forces a schema refresh over HTTP.
func (g *Gateway) RefreshHandler() http.HandlerFunc {
	return g.registry.RefreshHandler
}

// Endpoint returns the configured GraphQL path.
func (g *Gateway) Endpoint() string {
	return g.opt.Endpoint
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", g.opt.AllowOrigin)

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": "invalid request body", "type": "BAD_REQUEST"}},
		})
		return
	}

	ctx := r.Context()
	if g.opt.EnableHangOverRequestHeader {
		ctx = executor.SetRequestHeaderToContext(ctx, r.Header)
	}

	engine, err := g.registry.Engine(ctx)
	if err != nil {
		g.logger.Error("no engine available", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"data":   nil,
			"errors": []map[string]any{{"message": err.Error(), "type": "SCHEMA_UNAVAILABLE"}},
		})
		return
	}

	l := lexer.New(req.Query)
	p := parser.New(l)
	doc := p.ParseDocument()
	if len(p.Errors()) > 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"errors": p.Errors(),
		})
		return
	}

	resp := engine.Executor.Execute(ctx, doc, req.Variables, req.OperationName)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body) //nolint:errcheck
}
