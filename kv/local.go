package kv

import (
	"context"
	"sync"
	"time"
)

type localEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

// Local keeps cells in-process (default). Cross-process sweep throttling
// degrades to per-process throttling with a Local marker cell; use a shared
// backend (Redis) when multiple replicas share one persistent store.
type Local struct {
	mu sync.RWMutex
	m  map[string]localEntry
}

var _ Store = (*Local)(nil)

func NewLocal() *Local { return &Local{m: make(map[string]localEntry)} }

func (s *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	e, ok := s.m[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && time.Now().After(e.exp) {
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
		return nil, false, nil
	}
	return e.v, true, nil
}

func (s *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var exp time.Time
	if ttl > 0 {
		exp = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.m[key] = localEntry{v: value, exp: exp}
	s.mu.Unlock()
	return nil
}

func (s *Local) Del(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
	return nil
}

func (s *Local) Close(context.Context) error { return nil }
