package fragcache

import (
	"context"
	"time"

	"github.com/vireocms/fragcache/kv"
	"github.com/vireocms/fragcache/store"
)

// Cache is the fragment cache API exposed to the render and content-mutation
// pipelines. All other entry points are implementation detail.
type Cache interface {
	Enabled() bool
	Close(context.Context) error

	// Lookup returns the body of a live cached fragment for key under scope.
	// Global fragments ignore scope.Path entirely. As a side effect the first
	// Lookup in a process may trigger an expiry sweep (throttled across
	// processes by the shared marker cell).
	Lookup(ctx context.Context, key string, global bool, scope Scope) ([]byte, bool, error)

	// EndCapture persists a rendered fragment together with its dependency
	// edges in one atomic write, superseding any prior live entry with the
	// same (key, locale, path|global) identity. Bodies containing the
	// pending-transform marker are silently dropped.
	EndCapture(ctx context.Context, frag Fragment, scope Scope) error

	// InvalidateByElementIDs deletes every cached fragment depending on any of
	// ids. Empty ids is a benign no-op. Reports whether anything was removed.
	InvalidateByElementIDs(ctx context.Context, ids []int64) (bool, error)

	// InvalidateByElementQuery resolves q (with any result limit cleared) to a
	// concrete id set via the configured ElementResolver, then delegates to
	// InvalidateByElementIDs.
	InvalidateByElementQuery(ctx context.Context, q ElementQuery) (bool, error)

	// SweepExpired bulk-deletes expired entries. At most one actual sweep runs
	// per process lifetime; the shared marker cell is refreshed on completion
	// even when nothing was removed. Reports whether any row was deleted.
	SweepExpired(ctx context.Context) (bool, error)

	// ClearAll unconditionally empties the cache (edges cascade).
	ClearAll(ctx context.Context) error
}

// Fragment is the input to EndCapture.
type Fragment struct {
	Key    string
	Global bool // global fragments are shared across paths within a locale

	// Duration, when positive, takes precedence over Expiration. When both are
	// unset the configured default lifetime applies.
	Duration   time.Duration
	Expiration time.Time

	Body       []byte
	ElementIDs []int64 // typically Tracker.TakeCaptured(Key)
}

// ElementQuery is a filter description handed to the external element-query
// subsystem. Limit is cleared before resolution so invalidation always
// considers the full matching set, never a truncated page.
type ElementQuery struct {
	ElementType string
	Criteria    map[string]any
	Limit       int
}

// ElementResolver resolves a filter description into the matching element ids.
type ElementResolver interface {
	ResolveElementIDs(ctx context.Context, q ElementQuery) ([]int64, error)
}

// ElementResolverFunc adapts a function to the ElementResolver interface.
type ElementResolverFunc func(ctx context.Context, q ElementQuery) ([]int64, error)

func (f ElementResolverFunc) ResolveElementIDs(ctx context.Context, q ElementQuery) ([]int64, error) {
	return f(ctx, q)
}

// Options tune the fragment cache. Only Store is required; others have
// sensible defaults.
type Options struct {
	// Required
	Store store.Store

	Namespace string          // prefixes marker-cell keys; "" => "fragcache"
	Marker    kv.Store        // ancillary cell; nil => in-process kv.Local
	Resolver  ElementResolver // required only for InvalidateByElementQuery

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	DefaultLifetime time.Duration // 0 => 24h
	SweepInterval   time.Duration // 0 => 24h

	// UncacheableMarker is the substring that marks a body as unsafe to cache
	// (deferred, request-specific transform URLs). "" => default marker.
	UncacheableMarker string

	Disabled bool // default false (enabled)

	// Clock overrides the time source (tests). nil => time.Now.
	Clock func() time.Time
}

func New(opts Options) (Cache, error) {
	return newCache(opts)
}
