package fragcache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/vireocms/fragcache/kv"
	"github.com/vireocms/fragcache/store"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recordingHooks struct {
	mu            sync.Mutex
	uncacheable   []string
	sweeps        []int64
	skips         []string
	invalidations int
}

func (h *recordingHooks) UncacheableBody(key string) {
	h.mu.Lock()
	h.uncacheable = append(h.uncacheable, key)
	h.mu.Unlock()
}
func (h *recordingHooks) SweepPerformed(n int64) {
	h.mu.Lock()
	h.sweeps = append(h.sweeps, n)
	h.mu.Unlock()
}
func (h *recordingHooks) SweepSkipped(reason string) {
	h.mu.Lock()
	h.skips = append(h.skips, reason)
	h.mu.Unlock()
}
func (h *recordingHooks) MarkerError(string, error) {}
func (h *recordingHooks) EntriesInvalidated(int64, int) {
	h.mu.Lock()
	h.invalidations++
	h.mu.Unlock()
}

type env struct {
	cache Cache
	st    *store.Local
	cell  *kv.Local
	clk   *fakeClock
	hooks *recordingHooks
}

func newEnv(t *testing.T, optsOpt func(*Options)) *env {
	t.Helper()
	e := &env{
		st:    store.NewLocal(),
		cell:  kv.NewLocal(),
		clk:   newFakeClock(),
		hooks: &recordingHooks{},
	}
	opts := Options{
		Store:  e.st,
		Marker: e.cell,
		Hooks:  e.hooks,
		Clock:  e.clk.Now,
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	e.cache = c
	return e
}

var (
	siteBlog  = Scope{Locale: "en", Path: "site:/blog"}
	siteOther = Scope{Locale: "en", Path: "site:/other"}
	deBlog    = Scope{Locale: "de", Path: "site:/blog"}
)

func mustCapture(t *testing.T, e *env, frag Fragment, sc Scope) {
	t.Helper()
	if err := e.cache.EndCapture(context.Background(), frag, sc); err != nil {
		t.Fatalf("EndCapture(%q): %v", frag.Key, err)
	}
}

func lookup(t *testing.T, e *env, key string, global bool, sc Scope) ([]byte, bool) {
	t.Helper()
	body, ok, err := e.cache.Lookup(context.Background(), key, global, sc)
	if err != nil {
		t.Fatalf("Lookup(%q): %v", key, err)
	}
	return body, ok
}

// TestScopedLookup verifies the (key, locale, path) identity of non-global
// fragments: same scope hits, any other path or locale misses.
func TestScopedLookup(t *testing.T) {
	e := newEnv(t, nil)
	defer e.cache.Close(context.Background())

	mustCapture(t, e, Fragment{Key: "nav", Body: []byte("<nav>"), ElementIDs: []int64{5, 9}}, siteBlog)

	if body, ok := lookup(t, e, "nav", false, siteBlog); !ok || string(body) != "<nav>" {
		t.Fatalf("same-scope lookup: ok=%v body=%q", ok, body)
	}
	if _, ok := lookup(t, e, "nav", false, siteOther); ok {
		t.Fatalf("different path must miss")
	}
	if _, ok := lookup(t, e, "nav", false, deBlog); ok {
		t.Fatalf("different locale must miss")
	}
	if _, ok := lookup(t, e, "other", false, siteBlog); ok {
		t.Fatalf("different key must miss")
	}
}

// TestGlobalIgnoresPath: path must not affect the match for global fragments,
// but locale still does.
func TestGlobalIgnoresPath(t *testing.T) {
	e := newEnv(t, nil)
	defer e.cache.Close(context.Background())

	mustCapture(t, e, Fragment{Key: "footer", Global: true, Body: []byte("<footer>")}, siteBlog)

	for _, sc := range []Scope{siteBlog, siteOther, {Locale: "en", Path: "cp:/settings"}} {
		if body, ok := lookup(t, e, "footer", true, sc); !ok || string(body) != "<footer>" {
			t.Fatalf("global lookup at %q: ok=%v body=%q", sc.Path, ok, body)
		}
	}
	if _, ok := lookup(t, e, "footer", true, deBlog); ok {
		t.Fatalf("global entry must still be locale-scoped")
	}
}

// TestExpiryBoundary: an entry is live strictly until its expiry date.
func TestExpiryBoundary(t *testing.T) {
	e := newEnv(t, nil)
	defer e.cache.Close(context.Background())

	exp := e.clk.Now().Add(10 * time.Second)
	mustCapture(t, e, Fragment{Key: "hero", Expiration: exp, Body: []byte("x")}, siteBlog)

	e.clk.Advance(10*time.Second - time.Millisecond)
	if _, ok := lookup(t, e, "hero", false, siteBlog); !ok {
		t.Fatalf("entry expiring one unit in the future must hit")
	}
	e.clk.Advance(time.Millisecond)
	if _, ok := lookup(t, e, "hero", false, siteBlog); ok {
		t.Fatalf("entry at expiryDate <= now must miss")
	}
}

// TestExpirationResolution: Duration beats explicit Expiration beats default.
func TestExpirationResolution(t *testing.T) {
	e := newEnv(t, func(o *Options) { o.DefaultLifetime = time.Hour })
	defer e.cache.Close(context.Background())

	// Duration takes precedence over a shorter explicit expiration.
	mustCapture(t, e, Fragment{
		Key:        "a",
		Duration:   time.Hour,
		Expiration: e.clk.Now().Add(5 * time.Second),
		Body:       []byte("a"),
	}, siteBlog)
	e.clk.Advance(6 * time.Second)
	if _, ok := lookup(t, e, "a", false, siteBlog); !ok {
		t.Fatalf("duration must take precedence over explicit expiration")
	}

	// Neither set: default lifetime applies.
	mustCapture(t, e, Fragment{Key: "b", Body: []byte("b")}, siteBlog)
	e.clk.Advance(59 * time.Minute)
	if _, ok := lookup(t, e, "b", false, siteBlog); !ok {
		t.Fatalf("within default lifetime must hit")
	}
	e.clk.Advance(2 * time.Minute)
	if _, ok := lookup(t, e, "b", false, siteBlog); ok {
		t.Fatalf("past default lifetime must miss")
	}
}

// TestDependencyInvalidation runs the dependency round trip: a fragment depending
// on {5,9} dies when element 9 changes; an unrelated element leaves it alone.
func TestDependencyInvalidation(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	defer e.cache.Close(ctx)

	mustCapture(t, e, Fragment{Key: "nav", Body: []byte("<html>"), ElementIDs: []int64{5, 9}}, siteBlog)

	if _, ok := lookup(t, e, "nav", false, siteOther); ok {
		t.Fatalf("other path was never cached")
	}

	// unrelated element: no-op
	if changed, err := e.cache.InvalidateByElementIDs(ctx, []int64{7}); err != nil || changed {
		t.Fatalf("unrelated invalidation: changed=%v err=%v", changed, err)
	}
	if _, ok := lookup(t, e, "nav", false, siteBlog); !ok {
		t.Fatalf("entry must survive unrelated invalidation")
	}

	// empty set: benign no-op
	if changed, err := e.cache.InvalidateByElementIDs(ctx, nil); err != nil || changed {
		t.Fatalf("empty invalidation: changed=%v err=%v", changed, err)
	}

	if changed, err := e.cache.InvalidateByElementIDs(ctx, []int64{9}); err != nil || !changed {
		t.Fatalf("dependent invalidation: changed=%v err=%v", changed, err)
	}
	if _, ok := lookup(t, e, "nav", false, siteBlog); ok {
		t.Fatalf("entry must be gone after dependent invalidation")
	}
	if e.hooks.invalidations != 1 {
		t.Fatalf("expected exactly one invalidation event, got %d", e.hooks.invalidations)
	}
}

// TestInvalidateByElementQuery clears the query limit before resolving and
// delegates to id-based invalidation.
func TestInvalidateByElementQuery(t *testing.T) {
	ctx := context.Background()
	var seen ElementQuery
	resolver := ElementResolverFunc(func(_ context.Context, q ElementQuery) ([]int64, error) {
		seen = q
		return []int64{9}, nil
	})
	e := newEnv(t, func(o *Options) { o.Resolver = resolver })
	defer e.cache.Close(ctx)

	mustCapture(t, e, Fragment{Key: "nav", Body: []byte("x"), ElementIDs: []int64{9}}, siteBlog)

	q := ElementQuery{ElementType: "entry", Criteria: map[string]any{"section": "blog"}, Limit: 10}
	changed, err := e.cache.InvalidateByElementQuery(ctx, q)
	if err != nil || !changed {
		t.Fatalf("query invalidation: changed=%v err=%v", changed, err)
	}
	if seen.Limit != 0 {
		t.Fatalf("limit must be cleared before resolution, got %d", seen.Limit)
	}
	if _, ok := lookup(t, e, "nav", false, siteBlog); ok {
		t.Fatalf("entry must be gone")
	}
}

func TestInvalidateByElementQueryNoResolver(t *testing.T) {
	e := newEnv(t, nil)
	defer e.cache.Close(context.Background())

	if _, err := e.cache.InvalidateByElementQuery(context.Background(), ElementQuery{}); !errors.Is(err, ErrNoResolver) {
		t.Fatalf("expected ErrNoResolver, got %v", err)
	}
}

func TestInvalidateByElementQueryResolverError(t *testing.T) {
	boom := errors.New("boom")
	resolver := ElementResolverFunc(func(context.Context, ElementQuery) ([]int64, error) {
		return nil, boom
	})
	e := newEnv(t, func(o *Options) { o.Resolver = resolver })
	defer e.cache.Close(context.Background())

	if _, err := e.cache.InvalidateByElementQuery(context.Background(), ElementQuery{}); !errors.Is(err, boom) {
		t.Fatalf("resolver error must propagate, got %v", err)
	}
}

// TestUncacheableBody: bodies containing the reserved marker never produce a
// retrievable entry, regardless of other parameters.
func TestUncacheableBody(t *testing.T) {
	e := newEnv(t, nil)
	defer e.cache.Close(context.Background())

	body := []byte(`<img src="/index.php?p=admin/assets/generate-transform&id=7">`)
	mustCapture(t, e, Fragment{Key: "gallery", Body: body, Duration: time.Hour}, siteBlog)
	mustCapture(t, e, Fragment{Key: "gallery2", Global: true, Body: body}, siteBlog)

	if _, ok := lookup(t, e, "gallery", false, siteBlog); ok {
		t.Fatalf("uncacheable body must not be cached")
	}
	if _, ok := lookup(t, e, "gallery2", true, siteBlog); ok {
		t.Fatalf("uncacheable global body must not be cached")
	}
	if len(e.hooks.uncacheable) != 2 {
		t.Fatalf("expected 2 uncacheable events, got %d", len(e.hooks.uncacheable))
	}
}

// TestSweepIdempotentPerProcess: the second SweepExpired in one process is a
// no-op returning false even though new expired rows appeared in between.
func TestSweepIdempotentPerProcess(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	defer e.cache.Close(ctx)

	mustCapture(t, e, Fragment{Key: "old", Expiration: e.clk.Now().Add(-time.Hour), Body: []byte("x")}, siteBlog)

	if swept, err := e.cache.SweepExpired(ctx); err != nil || !swept {
		t.Fatalf("first sweep: swept=%v err=%v", swept, err)
	}

	mustCapture(t, e, Fragment{Key: "old2", Expiration: e.clk.Now().Add(-time.Hour), Body: []byte("x")}, siteBlog)

	if swept, err := e.cache.SweepExpired(ctx); err != nil || swept {
		t.Fatalf("second sweep must be a no-op: swept=%v err=%v", swept, err)
	}
	// the new expired row is still in the store
	if n, _ := e.st.DeleteExpired(ctx, e.clk.Now()); n != 1 {
		t.Fatalf("expected 1 remaining expired row, got %d", n)
	}
}

// TestSweepMarkerWritten: the marker cell is refreshed even when the sweep
// removed nothing.
func TestSweepMarkerWritten(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	defer e.cache.Close(ctx)

	if swept, err := e.cache.SweepExpired(ctx); err != nil || swept {
		t.Fatalf("empty sweep: swept=%v err=%v", swept, err)
	}
	raw, ok, err := e.cell.Get(ctx, "fragcache:lastSweep")
	if err != nil || !ok {
		t.Fatalf("marker cell missing after sweep: ok=%v err=%v", ok, err)
	}
	ts, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil || ts != e.clk.Now().Unix() {
		t.Fatalf("marker cell holds %q, want %d", raw, e.clk.Now().Unix())
	}
}

// TestSweepCrossProcessThrottle: a fresh shared marker suppresses the sweep
// entirely but still marks the local process as already swept.
func TestSweepCrossProcessThrottle(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	defer e.cache.Close(ctx)

	mustCapture(t, e, Fragment{Key: "old", Expiration: e.clk.Now().Add(-time.Hour), Body: []byte("x")}, siteBlog)

	// another process swept moments ago
	ts := strconv.FormatInt(e.clk.Now().Add(-time.Minute).Unix(), 10)
	if err := e.cell.Set(ctx, "fragcache:lastSweep", []byte(ts), 0); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	lookup(t, e, "anything", false, siteBlog)

	// the expired row must have survived
	if n, _ := e.st.DeleteExpired(ctx, e.clk.Now()); n != 1 {
		t.Fatalf("fresh marker must suppress deletion; %d rows already gone", 1-n)
	}
	// and the local flag is set: an explicit sweep is now a no-op
	if swept, err := e.cache.SweepExpired(ctx); err != nil || swept {
		t.Fatalf("local flag must be set after fresh marker: swept=%v err=%v", swept, err)
	}
	foundFresh := false
	for _, r := range e.hooks.skips {
		if r == "fresh_marker" {
			foundFresh = true
		}
	}
	if !foundFresh {
		t.Fatalf("expected fresh_marker skip event, got %v", e.hooks.skips)
	}
}

// TestSweepStaleMarker: a marker older than the interval does not suppress the
// sweep.
func TestSweepStaleMarker(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, func(o *Options) { o.SweepInterval = time.Hour })
	defer e.cache.Close(ctx)

	mustCapture(t, e, Fragment{Key: "old", Expiration: e.clk.Now().Add(-time.Minute), Body: []byte("x")}, siteBlog)

	ts := strconv.FormatInt(e.clk.Now().Add(-2*time.Hour).Unix(), 10)
	if err := e.cell.Set(ctx, "fragcache:lastSweep", []byte(ts), 0); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	lookup(t, e, "anything", false, siteBlog)

	if n, _ := e.st.DeleteExpired(ctx, e.clk.Now()); n != 0 {
		t.Fatalf("stale marker must not suppress the sweep; %d expired rows remain", n)
	}
	if len(e.hooks.sweeps) != 1 {
		t.Fatalf("expected one sweep event, got %v", e.hooks.sweeps)
	}
}

// TestClearAll empties the store unconditionally.
func TestClearAll(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	defer e.cache.Close(ctx)

	mustCapture(t, e, Fragment{Key: "a", Body: []byte("a")}, siteBlog)
	mustCapture(t, e, Fragment{Key: "b", Global: true, Body: []byte("b")}, siteBlog)

	if err := e.cache.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if _, ok := lookup(t, e, "a", false, siteBlog); ok {
		t.Fatalf("scoped entry must be gone")
	}
	if _, ok := lookup(t, e, "b", true, siteBlog); ok {
		t.Fatalf("global entry must be gone")
	}
}

// TestSupersede: writing the same identity twice keeps exactly one live row,
// and the superseded row's edges die with it.
func TestSupersede(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	defer e.cache.Close(ctx)

	mustCapture(t, e, Fragment{Key: "nav", Body: []byte("v1"), ElementIDs: []int64{5}}, siteBlog)
	mustCapture(t, e, Fragment{Key: "nav", Body: []byte("v2"), ElementIDs: []int64{9}}, siteBlog)

	if body, ok := lookup(t, e, "nav", false, siteBlog); !ok || string(body) != "v2" {
		t.Fatalf("lookup after rewrite: ok=%v body=%q", ok, body)
	}
	// element 5 belonged only to the superseded row
	if changed, err := e.cache.InvalidateByElementIDs(ctx, []int64{5}); err != nil || changed {
		t.Fatalf("superseded edges must be gone: changed=%v err=%v", changed, err)
	}
	if changed, err := e.cache.InvalidateByElementIDs(ctx, []int64{9}); err != nil || !changed {
		t.Fatalf("current edges must invalidate: changed=%v err=%v", changed, err)
	}
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, func(o *Options) { o.Disabled = true })
	defer e.cache.Close(ctx)

	if e.cache.Enabled() {
		t.Fatalf("Enabled must report false")
	}
	mustCapture(t, e, Fragment{Key: "a", Body: []byte("a")}, siteBlog)
	if _, ok := lookup(t, e, "a", false, siteBlog); ok {
		t.Fatalf("disabled cache must not store or return entries")
	}
	if swept, err := e.cache.SweepExpired(ctx); err != nil || swept {
		t.Fatalf("disabled sweep must be a no-op")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("New without a store must fail")
	}
}

// TestCaptureFlow exercises the full tracker+cache flow, including nesting:
// the element recorded inside the inner capture is attributed to the outer
// fragment too, so invalidating it kills both.
func TestCaptureFlow(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t, nil)
	defer e.cache.Close(ctx)

	tr := NewTracker()

	tr.StartCapture("outer")
	tr.RecordElementUse(3)

	tr.StartCapture("inner")
	tr.RecordElementUse(42) // rendered inside both captures

	inner := tr.TakeCaptured("inner")
	mustCapture(t, e, Fragment{Key: "inner", Body: []byte("<i>"), ElementIDs: inner}, siteBlog)

	outer := tr.TakeCaptured("outer")
	mustCapture(t, e, Fragment{Key: "outer", Body: []byte("<o>"), ElementIDs: outer}, siteBlog)

	if len(inner) != 1 || inner[0] != 42 {
		t.Fatalf("inner captured %v, want [42]", inner)
	}
	if len(outer) != 2 || outer[0] != 3 || outer[1] != 42 {
		t.Fatalf("outer captured %v, want [3 42]", outer)
	}

	if changed, err := e.cache.InvalidateByElementIDs(ctx, []int64{42}); err != nil || !changed {
		t.Fatalf("invalidate shared element: changed=%v err=%v", changed, err)
	}
	if _, ok := lookup(t, e, "inner", false, siteBlog); ok {
		t.Fatalf("inner must be gone")
	}
	if _, ok := lookup(t, e, "outer", false, siteBlog); ok {
		t.Fatalf("outer must be gone")
	}
}
