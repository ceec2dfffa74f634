// Package registry owns the gateway's long-lived schema state: it fetches
// subgraph SDLs, validates them, builds the execution engine, and serves the
// current engine to request handlers. The engine is rebuilt when the schema
// cache TTL expires or a refresh is forced; concurrent refreshes coalesce
// into a single in-flight fetch.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Source describes one subgraph the registry tracks. When SDL is non-empty
// the schema is pinned and never refetched.
type Source struct {
	Name string
	Host string
	SDL  string
}

// BuildFunc composes an engine from the current subgraph SDLs, keyed by
// subgraph name.
type BuildFunc[E any] func(sdls map[string]string) (E, error)

// snapshot pairs an engine with the time its SDLs were fetched. Stored in
// atomic.Value, so it is read-only after construction.
type snapshot[E any] struct {
	engine    E
	fetchedAt time.Time
}

// Registry holds the current engine and refreshes it on TTL expiry.
type Registry[E any] struct {
	sources  []Source
	ttl      time.Duration
	fetchSDL func(ctx context.Context, host string) (string, error)
	build    BuildFunc[E]
	logger   *slog.Logger

	current atomic.Value // *snapshot[E]
	sf      singleflight.Group
}

// New creates a Registry. fetchSDL is only consulted for sources without a
// pinned SDL.
func New[E any](
	sources []Source,
	ttl time.Duration,
	fetchSDL func(ctx context.Context, host string) (string, error),
	build BuildFunc[E],
	logger *slog.Logger,
) *Registry[E] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry[E]{
		sources:  sources,
		ttl:      ttl,
		fetchSDL: fetchSDL,
		build:    build,
		logger:   logger,
	}
}

// Start performs the initial fetch and build. Failure here is fatal to the
// gateway: without an engine there is nothing to serve.
func (r *Registry[E]) Start(ctx context.Context) error {
	_, err := r.refresh(ctx)
	return err
}

// Engine returns the current engine, refreshing it first when the TTL has
// expired. A failed refresh falls back to the stale engine rather than
// failing the request.
func (r *Registry[E]) Engine(ctx context.Context) (E, error) {
	snap, _ := r.current.Load().(*snapshot[E])
	if snap != nil && !r.expired(snap) {
		return snap.engine, nil
	}

	engine, err := r.coalescedRefresh(ctx)
	if err != nil {
		if snap != nil {
			r.logger.Warn("schema refresh failed, serving stale engine", slog.Any("error", err))
			return snap.engine, nil
		}
		var zero E
		return zero, err
	}
	return engine, nil
}

// Refresh forces an immediate rebuild, coalescing with any refresh already
// in flight.
func (r *Registry[E]) Refresh(ctx context.Context) error {
	_, err := r.coalescedRefresh(ctx)
	return err
}

// RefreshHandler exposes forced refresh as POST /schema/refresh.
func (r *Registry[E]) RefreshHandler(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.Refresh(req.Context()); err != nil {
		http.Error(w, fmt.Sprintf("schema refresh failed: %v", err), http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Registry[E]) expired(snap *snapshot[E]) bool {
	if r.allPinned() {
		return false
	}
	return r.ttl > 0 && time.Since(snap.fetchedAt) >= r.ttl
}

func (r *Registry[E]) allPinned() bool {
	for _, src := range r.sources {
		if src.SDL == "" {
			return false
		}
	}
	return true
}

// coalescedRefresh funnels concurrent refresh attempts into one fetch+build;
// every waiter shares the single in-flight result.
func (r *Registry[E]) coalescedRefresh(ctx context.Context) (E, error) {
	v, err, _ := r.sf.Do("refresh", func() (any, error) {
		return r.refresh(ctx)
	})
	if err != nil {
		var zero E
		return zero, err
	}
	return v.(E), nil
}

func (r *Registry[E]) refresh(ctx context.Context) (E, error) {
	var zero E

	sdls := make(map[string]string, len(r.sources))
	for _, src := range r.sources {
		sdl := src.SDL
		if sdl == "" {
			fetched, err := r.fetchSDL(ctx, src.Host)
			if err != nil {
				return zero, fmt.Errorf("failed to fetch SDL for subgraph %q: %w", src.Name, err)
			}
			sdl = fetched
		}
		if err := ValidateSDL(sdl); err != nil {
			return zero, fmt.Errorf("invalid SDL for subgraph %q: %w", src.Name, err)
		}
		sdls[src.Name] = sdl
	}

	engine, err := r.build(sdls)
	if err != nil {
		return zero, fmt.Errorf("failed to build engine: %w", err)
	}

	r.current.Store(&snapshot[E]{engine: engine, fetchedAt: time.Now()})
	r.logger.Info("engine rebuilt", slog.Int("subgraphs", len(sdls)))
	return engine, nil
}
