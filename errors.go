package fragcache

import "errors"

// ErrNoResolver is returned by InvalidateByElementQuery when no
// ElementResolver was configured.
var ErrNoResolver = errors.New("fragcache: element resolver not configured")
