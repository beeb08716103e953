// Package fragcache implements a fragment-level template cache with automatic
// dependency-based invalidation. Rendered fragments are stored under a logical
// cache key plus a request scope (locale + derived path), together with the set
// of content-element ids that contributed to the fragment's body. When any of
// those elements change, every dependent fragment is purged in bulk.
//
// Components:
//   - store.Store: persistent entry+edge store. Local (in-process) by default,
//     Redis or LevelDB backends for persistence / multi-replica setups.
//   - kv.Store: minimal ancillary cell store with TTL. Used only for the shared
//     "last swept at" marker that throttles expiry sweeps across processes.
//   - Tracker: per-request capture bookkeeping. Between StartCapture and
//     TakeCaptured, every RecordElementUse is attributed to all open keys.
//
// Capture pattern:
//
//	tr.StartCapture("nav")
//	defer tr.CancelCapture("nav") // no-op once taken
//	body := render()              // render code calls tr.RecordElementUse(id)
//	err := cache.EndCapture(ctx, fragcache.Fragment{
//	    Key:        "nav",
//	    Body:       body,
//	    ElementIDs: tr.TakeCaptured("nav"),
//	}, scope)
//
// Invalidation:
//
//	changed, _ := cache.InvalidateByElementIDs(ctx, ids)
package fragcache
