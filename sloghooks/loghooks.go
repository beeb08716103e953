package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/vireocms/fragcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	UncacheableEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	uncacheableCtr atomic.Uint64
}

var _ fragcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) UncacheableBody(cacheKey string) {
	if h.l == nil || !sample(h.opts.UncacheableEvery, &h.uncacheableCtr) {
		return
	}
	h.l.Debug("fragcache.uncacheable_body",
		"key", h.redact(cacheKey))
}

func (h *Hooks) SweepPerformed(removed int64) {
	if h.l == nil {
		return
	}
	h.l.Info("fragcache.sweep_performed",
		"removed", removed)
}

func (h *Hooks) SweepSkipped(reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("fragcache.sweep_skipped",
		"reason", reason)
}

func (h *Hooks) MarkerError(op string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("fragcache.marker_error",
		"op", op,
		"err", err)
}

func (h *Hooks) EntriesInvalidated(entries int64, elements int) {
	if h.l == nil {
		return
	}
	h.l.Info("fragcache.entries_invalidated",
		"entries", entries,
		"elements", elements)
}
