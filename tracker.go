package fragcache

import (
	"sort"
	"sync"
)

// Tracker accumulates the content-element ids touched while rendering
// fragments. It is request-scoped: create one per request and pass it down the
// render call chain; never share a Tracker across requests. Safe for
// concurrent use by render workers cooperating on one request.
//
// Captures nest: an element recorded while several captures are open is
// attributed to every one of them, so an outer fragment inherits the
// dependencies of the fragments rendered inside it.
type Tracker struct {
	mu   sync.Mutex
	open map[string]map[int64]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{open: make(map[string]map[int64]struct{})}
}

// StartCapture opens (or resets) the accumulating element-id set for key.
func (t *Tracker) StartCapture(key string) {
	t.mu.Lock()
	t.open[key] = make(map[int64]struct{})
	t.mu.Unlock()
}

// RecordElementUse attributes elementID to every currently-open capture,
// de-duplicating within each one. A no-op when nothing is open.
func (t *Tracker) RecordElementUse(elementID int64) {
	t.mu.Lock()
	for _, set := range t.open {
		set[elementID] = struct{}{}
	}
	t.mu.Unlock()
}

// TakeCaptured returns the accumulated set for key, sorted, and closes the
// capture. Returns an empty slice when no capture was ever started for key.
func (t *Tracker) TakeCaptured(key string) []int64 {
	t.mu.Lock()
	set := t.open[key]
	delete(t.open, key)
	t.mu.Unlock()

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CancelCapture discards a capture without persisting it. Intended for failure
// paths (defer it alongside StartCapture) so an abandoned capture cannot leak
// stale ids into a later reuse of the same key. No-op after TakeCaptured.
func (t *Tracker) CancelCapture(key string) {
	t.mu.Lock()
	delete(t.open, key)
	t.mu.Unlock()
}
