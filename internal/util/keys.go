package util

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// LookupKey returns a deterministic storage key for a composite live-entry
// identity. Fields are hashed length-prefixed so no choice of delimiter can
// make two different identities collide.
func LookupKey(prefix, cacheKey, locale, path string, global bool) string {
	h := sha256.New()
	for _, f := range [...]string{cacheKey, locale, path} {
		var n [4]byte
		binary.BigEndian.PutUint32(n[:], uint32(len(f)))
		h.Write(n[:])
		h.Write([]byte(f))
	}
	if global {
		h.Write([]byte{1})
	} else {
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	return fmt.Sprintf("%s:%x", prefix, sum[:8])
}
