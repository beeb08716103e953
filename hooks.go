package fragcache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; the cache calls them on hot
// paths. Wrap with hooks/async to decouple slow sinks.
type Hooks interface {
	// A body contained the pending-transform marker and was dropped instead of
	// cached.
	UncacheableBody(cacheKey string)

	// An expiry sweep actually ran; removed is the number of entries deleted.
	SweepPerformed(removed int64)

	// A sweep was skipped. reason ∈ {"already_swept", "fresh_marker"}
	SweepSkipped(reason string)

	// The ancillary marker cell failed. op ∈ {"get", "set"}; failures are
	// best-effort (the cache degrades to sweeping more often).
	MarkerError(op string, err error)

	// An element-based invalidation removed entries.
	EntriesInvalidated(entries int64, elements int)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) UncacheableBody(string)        {}
func (NopHooks) SweepPerformed(int64)          {}
func (NopHooks) SweepSkipped(string)           {}
func (NopHooks) MarkerError(string, error)     {}
func (NopHooks) EntriesInvalidated(int64, int) {}
