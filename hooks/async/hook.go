// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/vireocms/fragcache"
//	asynchook "github.com/vireocms/fragcache/hooks/async"
//	"github.com/vireocms/fragcache/sloghooks"
//	"github.com/vireocms/fragcache/store"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    UncacheableEvery: 10, // sample logs: ~every 10th dropped body
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := fragcache.New(fragcache.Options{
//	    Store: store.NewLocal(),
//	    Hooks: hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"

	"github.com/vireocms/fragcache"
)

type Hooks struct {
	inner fragcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ fragcache.Hooks = (*Hooks)(nil)

func New(inner fragcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) UncacheableBody(key string) { h.try(func() { h.inner.UncacheableBody(key) }) }
func (h *Hooks) SweepPerformed(n int64)     { h.try(func() { h.inner.SweepPerformed(n) }) }
func (h *Hooks) SweepSkipped(reason string) { h.try(func() { h.inner.SweepSkipped(reason) }) }
func (h *Hooks) MarkerError(op string, err error) {
	h.try(func() { h.inner.MarkerError(op, err) })
}
func (h *Hooks) EntriesInvalidated(entries int64, elements int) {
	h.try(func() { h.inner.EntriesInvalidated(entries, elements) })
}
