// Package store defines the persistent-storage abstraction behind the fragment
// cache: cache entries plus the many-to-many join between entries and the
// content-element ids they depend on.
//
// Implementations MUST make Put atomic: either the entry and all of its
// dependency edges become visible together, or nothing does. Edges are owned
// by their entry and cascade-delete with it. The remaining operations need no
// mutual atomicity; a Lookup racing an invalidation may briefly see or miss
// the entry being deleted.
package store

import (
	"context"
	"time"
)

// Entry is one stored fragment. Identity of a live entry is the composite
// (CacheKey, Locale, Path) for scoped entries and (CacheKey, Locale) for
// global ones; Path is empty exactly when Global is true.
type Entry struct {
	ID         int64     `msgpack:"id" json:"id"`
	CacheKey   string    `msgpack:"cacheKey" json:"cacheKey"`
	Locale     string    `msgpack:"locale" json:"locale"`
	Path       string    `msgpack:"path" json:"path"`
	Global     bool      `msgpack:"global" json:"global"`
	ExpiryDate time.Time `msgpack:"expiryDate" json:"expiryDate"`
	Body       []byte    `msgpack:"body" json:"body"`
}

// Record is the persisted shape: the entry plus its dependency-edge set.
// Byte-oriented backends need the ids alongside the entry to unwind their
// element indexes on delete.
type Record struct {
	Entry      Entry   `msgpack:"entry" json:"entry"`
	ElementIDs []int64 `msgpack:"elementIds" json:"elementIds"`
}

// Live reports whether the record is eligible for Lookup at now.
func (r Record) Live(now time.Time) bool {
	return r.Entry.ExpiryDate.After(now)
}

// Matches reports whether the record's identity equals the given composite
// key. Backends that index by hash use it as a collision guard.
func (r Record) Matches(cacheKey, locale, path string, global bool) bool {
	e := r.Entry
	if e.CacheKey != cacheKey || e.Locale != locale || e.Global != global {
		return false
	}
	return global || e.Path == path
}

// Store persists cache entries and their dependency edges.
// Must be safe for concurrent use.
type Store interface {
	// Get returns (body, true, nil) when a live entry matches the composite
	// key at now; (nil, false, nil) on miss. Path is ignored when global.
	Get(ctx context.Context, cacheKey, locale, path string, global bool, now time.Time) ([]byte, bool, error)

	// Put inserts the entry and one dependency edge per element id atomically,
	// superseding any prior live entry with the same identity. Returns the
	// assigned entry id. e.ID is ignored on input.
	Put(ctx context.Context, e Entry, elementIDs []int64) (int64, error)

	// DeleteByElements removes every entry holding an edge to any of ids
	// (cascading edges) and returns the number of entries removed.
	DeleteByElements(ctx context.Context, ids []int64) (int64, error)

	// DeleteExpired removes every entry with ExpiryDate <= now and returns the
	// number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// DeleteAll empties the store and returns the number of entries removed.
	DeleteAll(ctx context.Context) (int64, error)

	// Close releases resources.
	Close(ctx context.Context) error
}
