package fragcache

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/vireocms/fragcache/kv"
	"github.com/vireocms/fragcache/store"
)

const (
	defaultLifetime      = 24 * time.Hour
	defaultSweepInterval = 24 * time.Hour

	// Bodies containing this substring reference image transforms that have
	// not been generated yet; their URLs are request-specific and must never
	// be cached.
	defaultUncacheableMarker = "assets/generate-transform"
)

type cache struct {
	ns       string
	store    store.Store
	marker   kv.Store
	resolver ElementResolver
	log      Logger
	hooks    Hooks
	enabled  bool

	lifetime      time.Duration
	sweepInterval time.Duration
	uncacheable   []byte

	now func() time.Time

	// swept gates the expiry sweep to at most one actual run per process.
	swept atomic.Bool
}

func newCache(opts Options) (*cache, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("fragcache: store is required")
	}

	c := &cache{
		ns:       coalesce(opts.Namespace, "fragcache"),
		store:    opts.Store,
		resolver: opts.Resolver,
		enabled:  !opts.Disabled,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.lifetime = coalesce(opts.DefaultLifetime, defaultLifetime)
	c.sweepInterval = coalesce(opts.SweepInterval, defaultSweepInterval)
	c.uncacheable = []byte(coalesce(opts.UncacheableMarker, defaultUncacheableMarker))
	c.now = time.Now
	if opts.Clock != nil {
		c.now = opts.Clock
	}
	c.marker = opts.Marker
	if c.marker == nil {
		c.marker = kv.NewLocal()
	}

	return c, nil
}

func (c *cache) Enabled() bool { return c.enabled }

func (c *cache) Close(ctx context.Context) error {
	// Close the marker cell first (best effort)
	if c.marker != nil {
		_ = c.marker.Close(ctx)
	}
	if c.store != nil {
		return c.store.Close(ctx)
	}
	return nil
}

func (c *cache) Lookup(ctx context.Context, key string, global bool, scope Scope) ([]byte, bool, error) {
	if !c.enabled {
		return nil, false, nil
	}
	c.sweepIfOverdue(ctx)

	path := scope.Path
	if global {
		path = ""
	}
	return c.store.Get(ctx, key, scope.Locale, path, global, c.now())
}

func (c *cache) EndCapture(ctx context.Context, frag Fragment, scope Scope) error {
	if !c.enabled {
		return nil
	}
	if len(c.uncacheable) > 0 && bytes.Contains(frag.Body, c.uncacheable) {
		// request-specific deferred URLs inside; drop silently (policy, not error)
		c.log.Debug("fragment dropped (uncacheable body)", Fields{"key": frag.Key})
		c.hooks.UncacheableBody(frag.Key)
		return nil
	}

	// Duration wins over an explicit expiration; fall back to the configured
	// default lifetime when neither is set.
	exp := frag.Expiration
	if frag.Duration > 0 {
		exp = c.now().Add(frag.Duration)
	} else if exp.IsZero() {
		exp = c.now().Add(c.lifetime)
	}

	e := store.Entry{
		CacheKey:   frag.Key,
		Locale:     scope.Locale,
		Global:     frag.Global,
		ExpiryDate: exp,
		Body:       frag.Body,
	}
	if !frag.Global {
		e.Path = scope.Path
	}

	id, err := c.store.Put(ctx, e, frag.ElementIDs)
	if err != nil {
		return err
	}
	c.log.Debug("fragment cached", Fields{
		"key": frag.Key, "id": id, "global": frag.Global, "deps": len(frag.ElementIDs),
	})
	return nil
}

func (c *cache) InvalidateByElementIDs(ctx context.Context, ids []int64) (bool, error) {
	if !c.enabled || len(ids) == 0 {
		return false, nil
	}
	n, err := c.store.DeleteByElements(ctx, ids)
	if err != nil {
		return false, err
	}
	if n > 0 {
		c.log.Debug("fragments invalidated", Fields{"entries": n, "elements": len(ids)})
		c.hooks.EntriesInvalidated(n, len(ids))
	}
	return n > 0, nil
}

func (c *cache) InvalidateByElementQuery(ctx context.Context, q ElementQuery) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	if c.resolver == nil {
		return false, ErrNoResolver
	}
	// invalidation must consider the full matching set, never a truncated page
	q.Limit = 0
	ids, err := c.resolver.ResolveElementIDs(ctx, q)
	if err != nil {
		return false, err
	}
	return c.InvalidateByElementIDs(ctx, ids)
}

func (c *cache) SweepExpired(ctx context.Context) (bool, error) {
	if !c.enabled {
		return false, nil
	}
	if !c.swept.CompareAndSwap(false, true) {
		c.hooks.SweepSkipped("already_swept")
		return false, nil
	}
	removed, err := c.store.DeleteExpired(ctx, c.now())
	if err != nil {
		c.swept.Store(false) // let a later call retry
		return false, err
	}
	c.writeMarker(ctx)
	if removed > 0 {
		c.log.Debug("expiry sweep removed entries", Fields{"removed": removed})
	}
	c.hooks.SweepPerformed(removed)
	return removed > 0, nil
}

func (c *cache) ClearAll(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	n, err := c.store.DeleteAll(ctx)
	if err != nil {
		return err
	}
	c.log.Info("fragment cache cleared", Fields{"entries": n})
	return nil
}

// sweepIfOverdue is the gate invoked from Lookup. The local flag short-circuits
// everything after the first pass; a fresh shared marker sets the flag without
// deleting anything (another process swept recently). Marker errors degrade to
// "marker absent".
func (c *cache) sweepIfOverdue(ctx context.Context) {
	if c.swept.Load() {
		return
	}
	raw, ok, err := c.marker.Get(ctx, c.markerKey())
	if err != nil {
		c.hooks.MarkerError("get", err)
		c.log.Warn("sweep marker read failed", Fields{"err": err})
	} else if ok {
		if ts, perr := strconv.ParseInt(string(raw), 10, 64); perr == nil {
			if c.now().Sub(time.Unix(ts, 0)) < c.sweepInterval {
				c.swept.Store(true)
				c.hooks.SweepSkipped("fresh_marker")
				return
			}
		}
	}
	if _, err := c.SweepExpired(ctx); err != nil {
		// the lookup itself proceeds; failed sweeps only delay cleanup
		c.log.Error("expiry sweep failed", Fields{"err": err})
	}
}

// writeMarker records the sweep timestamp in the shared cell, valid for one
// sweep interval. Best-effort: a failed write only makes the next process
// sweep earlier than strictly needed.
func (c *cache) writeMarker(ctx context.Context) {
	ts := strconv.FormatInt(c.now().Unix(), 10)
	if err := c.marker.Set(ctx, c.markerKey(), []byte(ts), c.sweepInterval); err != nil {
		c.hooks.MarkerError("set", err)
		c.log.Warn("sweep marker write failed", Fields{"err": err})
	}
}

func (c *cache) markerKey() string { return c.ns + ":lastSweep" }
