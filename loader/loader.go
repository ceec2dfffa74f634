// Package loader implements the request-scoped batching dispatcher used to
// resolve cross-service relationship fields. All keys requested within one
// batch window are coalesced into a single upstream call, deduplicated, and
// the results fanned back out to the callers that requested them. One Loader
// instance is constructed per inbound gateway request and never shared.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// FetchFunc loads the values for a batch of keys. The returned slice must be
// positionally aligned with keys: values[i] is the value for keys[i]. The
// error slice may be nil (all succeeded), length 1 (whole batch failed), or
// the same length as keys (per-key outcomes).
type FetchFunc[K comparable, V any] func(ctx context.Context, keys []K) ([]V, []error)

// Config controls the batching behavior of a Loader.
type Config struct {
	// Wait is how long the dispatcher collects keys before flushing a batch.
	Wait time.Duration
	// MaxBatch caps the number of keys in a single upstream call. A batch
	// that fills up is dispatched immediately and a fresh one is opened.
	MaxBatch int
	// FallbackPerKey retries each key of a failed batch with an individual
	// upstream call instead of failing every pending caller uniformly.
	FallbackPerKey bool
}

const (
	defaultWait     = 1 * time.Millisecond
	defaultMaxBatch = 20
)

// Loader batches and caches loads against a single upstream batch operation.
type Loader[K comparable, V any] struct {
	fetch          FetchFunc[K, V]
	wait           time.Duration
	maxBatch       int
	fallbackPerKey bool

	mu    sync.Mutex
	cache map[K]func() (V, error)
	batch *batch[K, V]
}

// New constructs a Loader around fetch. Zero config fields fall back to a
// 1ms window and a 20-key ceiling.
func New[K comparable, V any](fetch FetchFunc[K, V], cfg Config) *Loader[K, V] {
	wait := cfg.Wait
	if wait <= 0 {
		wait = defaultWait
	}
	maxBatch := cfg.MaxBatch
	if maxBatch <= 0 {
		maxBatch = defaultMaxBatch
	}
	return &Loader[K, V]{
		fetch:          fetch,
		wait:           wait,
		maxBatch:       maxBatch,
		fallbackPerKey: cfg.FallbackPerKey,
		cache:          make(map[K]func() (V, error)),
	}
}

// batch is one pending upstream call. done is closed once values and errs
// are populated.
type batch[K comparable, V any] struct {
	keys    []K
	values  []V
	errs    []error
	closing bool
	done    chan struct{}
}

// Load fetches the value for key, blocking until the batch containing it
// completes.
func (l *Loader[K, V]) Load(ctx context.Context, key K) (V, error) {
	return l.LoadThunk(ctx, key)()
}

// LoadThunk registers key with the current batch and returns a thunk that
// blocks until the value is available. Repeated calls for the same key
// return the same pending result, so duplicate keys cost one upstream slot.
func (l *Loader[K, V]) LoadThunk(ctx context.Context, key K) func() (V, error) {
	l.mu.Lock()
	if thunk, ok := l.cache[key]; ok {
		l.mu.Unlock()
		return thunk
	}

	if l.batch == nil {
		l.batch = &batch[K, V]{done: make(chan struct{})}
		go l.flushAfterWait(ctx, l.batch)
	}
	b := l.batch
	pos := len(b.keys)
	b.keys = append(b.keys, key)

	// A full batch is dispatched immediately; later keys open a new one.
	if len(b.keys) >= l.maxBatch && !b.closing {
		b.closing = true
		l.batch = nil
		go l.dispatch(ctx, b)
	}

	var (
		once  sync.Once
		value V
		err   error
	)
	thunk := func() (V, error) {
		once.Do(func() {
			<-b.done
			value, err = b.result(pos)
		})
		return value, err
	}
	l.cache[key] = thunk
	l.mu.Unlock()
	return thunk
}

// LoadAll fetches the values for every key. The returned slices are aligned
// with keys.
func (l *Loader[K, V]) LoadAll(ctx context.Context, keys []K) ([]V, []error) {
	thunks := make([]func() (V, error), len(keys))
	for i, key := range keys {
		thunks[i] = l.LoadThunk(ctx, key)
	}
	values := make([]V, len(keys))
	errs := make([]error, len(keys))
	for i, thunk := range thunks {
		values[i], errs[i] = thunk()
	}
	return values, errs
}

// Prime seeds the cache with a known value. A later Load for key returns the
// primed value without an upstream call. Existing entries are left alone.
func (l *Loader[K, V]) Prime(key K, value V) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.cache[key]; ok {
		return false
	}
	l.cache[key] = func() (V, error) { return value, nil }
	return true
}

// Clear drops the cached result for key so the next Load refetches it.
func (l *Loader[K, V]) Clear(key K) {
	l.mu.Lock()
	delete(l.cache, key)
	l.mu.Unlock()
}

// flushAfterWait dispatches b once the collect window elapses, unless the
// batch already filled up and dispatched itself.
func (l *Loader[K, V]) flushAfterWait(ctx context.Context, b *batch[K, V]) {
	time.Sleep(l.wait)

	l.mu.Lock()
	if b.closing {
		l.mu.Unlock()
		return
	}
	b.closing = true
	if l.batch == b {
		l.batch = nil
	}
	l.mu.Unlock()

	l.dispatch(ctx, b)
}

// dispatch performs the upstream call for b and releases every waiting thunk.
func (l *Loader[K, V]) dispatch(ctx context.Context, b *batch[K, V]) {
	b.values, b.errs = l.fetch(ctx, b.keys)

	if len(b.values) != len(b.keys) && !batchFailed(b.errs) && len(b.errs) != len(b.keys) {
		b.values = nil
		b.errs = []error{fmt.Errorf("loader: fetch returned %d values for %d keys", len(b.values), len(b.keys))}
	}

	if batchFailed(b.errs) && l.fallbackPerKey {
		l.retryPerKey(ctx, b)
	}

	close(b.done)
}

// retryPerKey degrades a failed batch into one call per key. Each key
// succeeds or fails on its own; sibling keys are unaffected.
func (l *Loader[K, V]) retryPerKey(ctx context.Context, b *batch[K, V]) {
	values := make([]V, len(b.keys))
	errs := make([]error, len(b.keys))

	var eg errgroup.Group
	for i, key := range b.keys {
		eg.Go(func() error {
			vs, es := l.fetch(ctx, []K{key})
			if len(es) > 0 && es[0] != nil {
				errs[i] = es[0]
				return nil
			}
			if len(vs) != 1 {
				errs[i] = fmt.Errorf("loader: fallback fetch returned %d values for 1 key", len(vs))
				return nil
			}
			values[i] = vs[0]
			return nil
		})
	}
	eg.Wait() //nolint:errcheck

	b.values = values
	b.errs = errs
}

// batchFailed reports whether errs describes a whole-batch failure.
func batchFailed(errs []error) bool {
	return len(errs) == 1 && errs[0] != nil
}

// result returns the value and error for the key registered at pos.
func (b *batch[K, V]) result(pos int) (V, error) {
	if batchFailed(b.errs) {
		var zero V
		return zero, b.errs[0]
	}
	if pos < len(b.errs) && b.errs[pos] != nil {
		var zero V
		return zero, b.errs[pos]
	}
	if pos < len(b.values) {
		return b.values[pos], nil
	}
	var zero V
	return zero, fmt.Errorf("loader: no value for key at position %d", pos)
}
