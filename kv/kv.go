// Package kv defines the ancillary key-value cell store consumed by the
// fragment cache. The cache uses exactly one cell: the shared "last swept at"
// marker that throttles expiry sweeps across processes, so the contract is
// deliberately tiny.
//
// Implementations must be safe for concurrent use. A backend that cannot honor
// per-entry TTLs (e.g. BigCache's global life window) may approximate; the
// cache re-validates the recorded timestamp on read and never trusts bare
// presence of the cell.
package kv

import (
	"context"
	"time"
)

// Store is a minimal byte cell store with TTLs.
type Store interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// IO/remote errors return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. ttl <= 0 means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
