package registry_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/expensegraph/expense-gateway/registry"
)

const validSDL = `type User {
  id: ID!
  name: String!
}

type Query {
  user(id: ID!): User
}
`

type fakeEngine struct {
	generation int
}

// fetchCounter is a controllable SDL source.
type fetchCounter struct {
	mu    sync.Mutex
	calls int
	sdl   string
	err   error
	delay time.Duration
}

func (f *fetchCounter) fetch(ctx context.Context, host string) (string, error) {
	f.mu.Lock()
	f.calls++
	sdl, err, delay := f.sdl, f.err, f.delay
	f.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return sdl, err
}

func (f *fetchCounter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fetchCounter) set(sdl string, err error) {
	f.mu.Lock()
	f.sdl, f.err = sdl, err
	f.mu.Unlock()
}

func newTestRegistry(t *testing.T, ttl time.Duration, fetch *fetchCounter) (*registry.Registry[*fakeEngine], *atomic.Int32) {
	t.Helper()
	var builds atomic.Int32
	reg := registry.New(
		[]registry.Source{{Name: "users", Host: "http://users.local/graphql"}},
		ttl,
		fetch.fetch,
		func(sdls map[string]string) (*fakeEngine, error) {
			return &fakeEngine{generation: int(builds.Add(1))}, nil
		},
		nil,
	)
	return reg, &builds
}

func TestRegistry_StartBuildsInitialEngine(t *testing.T) {
	fetch := &fetchCounter{sdl: validSDL}
	reg, builds := newTestRegistry(t, time.Hour, fetch)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if builds.Load() != 1 {
		t.Errorf("builds = %d, want 1", builds.Load())
	}

	engine, err := reg.Engine(context.Background())
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if engine.generation != 1 {
		t.Errorf("generation = %d, want 1", engine.generation)
	}
}

func TestRegistry_StartFailsOnFetchError(t *testing.T) {
	fetch := &fetchCounter{err: fmt.Errorf("connection refused")}
	reg, _ := newTestRegistry(t, time.Hour, fetch)

	if err := reg.Start(context.Background()); err == nil {
		t.Fatal("Start must fail when the fetch fails")
	}
}

func TestRegistry_EngineIsCachedWithinTTL(t *testing.T) {
	fetch := &fetchCounter{sdl: validSDL}
	reg, builds := newTestRegistry(t, time.Hour, fetch)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		if _, err := reg.Engine(context.Background()); err != nil {
			t.Fatal(err)
		}
	}
	if builds.Load() != 1 {
		t.Errorf("builds = %d, want 1 (cache hit within TTL)", builds.Load())
	}
	if fetch.count() != 1 {
		t.Errorf("fetches = %d, want 1", fetch.count())
	}
}

func TestRegistry_TTLExpiryRebuilds(t *testing.T) {
	fetch := &fetchCounter{sdl: validSDL}
	reg, builds := newTestRegistry(t, 10*time.Millisecond, fetch)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	time.Sleep(20 * time.Millisecond)

	engine, err := reg.Engine(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if engine.generation != 2 {
		t.Errorf("generation = %d, want 2 after TTL expiry", engine.generation)
	}
	if builds.Load() != 2 {
		t.Errorf("builds = %d, want 2", builds.Load())
	}
}

func TestRegistry_FailedRefreshServesStaleEngine(t *testing.T) {
	fetch := &fetchCounter{sdl: validSDL}
	reg, _ := newTestRegistry(t, 10*time.Millisecond, fetch)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	fetch.set("", fmt.Errorf("subgraph is down"))
	time.Sleep(20 * time.Millisecond)

	engine, err := reg.Engine(context.Background())
	if err != nil {
		t.Fatalf("stale fallback must not fail the request: %v", err)
	}
	if engine.generation != 1 {
		t.Errorf("generation = %d, want the stale engine 1", engine.generation)
	}
}

func TestRegistry_InvalidSDLKeepsOldEngine(t *testing.T) {
	fetch := &fetchCounter{sdl: validSDL}
	reg, _ := newTestRegistry(t, 10*time.Millisecond, fetch)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	fetch.set("type {{{{ garbage", nil)
	time.Sleep(20 * time.Millisecond)

	engine, err := reg.Engine(context.Background())
	if err != nil {
		t.Fatalf("Engine: %v", err)
	}
	if engine.generation != 1 {
		t.Errorf("generation = %d, want 1 (invalid SDL must not replace the engine)", engine.generation)
	}
}

func TestRegistry_ConcurrentRefreshesCoalesce(t *testing.T) {
	fetch := &fetchCounter{sdl: validSDL, delay: 20 * time.Millisecond}
	reg, builds := newTestRegistry(t, time.Nanosecond, fetch)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	initial := builds.Load()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Engine(context.Background()); err != nil {
				t.Errorf("Engine: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := builds.Load() - initial; got != 1 {
		t.Errorf("concurrent expired reads triggered %d rebuilds, want 1", got)
	}
}

func TestRegistry_PinnedSDLNeverRefetches(t *testing.T) {
	fetch := &fetchCounter{err: fmt.Errorf("must not be called")}
	var builds atomic.Int32
	reg := registry.New(
		[]registry.Source{{Name: "users", Host: "http://users.local/graphql", SDL: validSDL}},
		time.Nanosecond,
		fetch.fetch,
		func(sdls map[string]string) (*fakeEngine, error) {
			return &fakeEngine{generation: int(builds.Add(1))}, nil
		},
		nil,
	)

	if err := reg.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := reg.Engine(context.Background()); err != nil {
		t.Fatal(err)
	}

	if fetch.count() != 0 {
		t.Errorf("pinned source was fetched %d times", fetch.count())
	}
	if builds.Load() != 1 {
		t.Errorf("builds = %d, want 1 (pinned schemas never expire)", builds.Load())
	}
}

func TestRegistry_RefreshHandler(t *testing.T) {
	fetch := &fetchCounter{sdl: validSDL}
	reg, builds := newTestRegistry(t, time.Hour, fetch)
	if err := reg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/schema/refresh", nil)
	w := httptest.NewRecorder()
	reg.RefreshHandler(w, req)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if builds.Load() != 2 {
		t.Errorf("builds = %d, want 2 after forced refresh", builds.Load())
	}

	req = httptest.NewRequest(http.MethodGet, "/schema/refresh", nil)
	w = httptest.NewRecorder()
	reg.RefreshHandler(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405 for GET", w.Code)
	}

	fetch.set("", fmt.Errorf("down"))
	req = httptest.NewRequest(http.MethodPost, "/schema/refresh", nil)
	w = httptest.NewRecorder()
	reg.RefreshHandler(w, req)
	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want 502 on failed refresh", w.Code)
	}
}

func TestValidateSDL(t *testing.T) {
	if err := registry.ValidateSDL(validSDL); err != nil {
		t.Errorf("valid SDL rejected: %v", err)
	}
	if err := registry.ValidateSDL("type {{{{ garbage"); err == nil {
		t.Error("garbage SDL accepted")
	}
}
