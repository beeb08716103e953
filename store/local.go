package store

import (
	"context"
	"sync"
	"time"
)

// identity is the composite live-entry key. Kept as a struct key on purpose:
// concatenated strings invite delimiter collisions.
type identity struct {
	cacheKey string
	locale   string
	path     string
	global   bool
}

// Local keeps entries in-process (default). Suitable for single-process hosts
// and as the test double; nothing survives a restart.
type Local struct {
	mu      sync.RWMutex
	seq     int64
	records map[int64]Record
	live    map[identity]int64           // identity -> entry id
	byElem  map[int64]map[int64]struct{} // element id -> entry ids
}

var _ Store = (*Local)(nil)

func NewLocal() *Local {
	return &Local{
		records: make(map[int64]Record),
		live:    make(map[identity]int64),
		byElem:  make(map[int64]map[int64]struct{}),
	}
}

func (s *Local) Get(_ context.Context, cacheKey, locale, path string, global bool, now time.Time) ([]byte, bool, error) {
	if global {
		path = ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.live[identity{cacheKey, locale, path, global}]
	if !ok {
		return nil, false, nil
	}
	r, ok := s.records[id]
	if !ok || !r.Live(now) {
		return nil, false, nil
	}
	return r.Entry.Body, true, nil
}

func (s *Local) Put(_ context.Context, e Entry, elementIDs []int64) (int64, error) {
	if e.Global {
		e.Path = ""
	}
	key := identity{e.CacheKey, e.Locale, e.Path, e.Global}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.live[key]; ok {
		s.dropLocked(prev)
	}

	s.seq++
	e.ID = s.seq

	ids := dedupe(elementIDs)
	s.records[e.ID] = Record{Entry: e, ElementIDs: ids}
	s.live[key] = e.ID
	for _, el := range ids {
		set, ok := s.byElem[el]
		if !ok {
			set = make(map[int64]struct{})
			s.byElem[el] = set
		}
		set[e.ID] = struct{}{}
	}
	return e.ID, nil
}

func (s *Local) DeleteByElements(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	victims := make(map[int64]struct{})
	for _, el := range ids {
		for id := range s.byElem[el] {
			victims[id] = struct{}{}
		}
	}
	var n int64
	for id := range victims {
		if s.dropLocked(id) {
			n++
		}
	}
	return n, nil
}

func (s *Local) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var victims []int64
	for id, r := range s.records {
		if !r.Entry.ExpiryDate.After(now) {
			victims = append(victims, id)
		}
	}
	var n int64
	for _, id := range victims {
		if s.dropLocked(id) {
			n++
		}
	}
	return n, nil
}

func (s *Local) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := int64(len(s.records))
	s.records = make(map[int64]Record)
	s.live = make(map[identity]int64)
	s.byElem = make(map[int64]map[int64]struct{})
	return n, nil
}

func (s *Local) Close(context.Context) error { return nil }

// dropLocked removes one record and all of its index entries. Caller holds mu.
func (s *Local) dropLocked(id int64) bool {
	r, ok := s.records[id]
	if !ok {
		return false
	}
	delete(s.records, id)

	e := r.Entry
	key := identity{e.CacheKey, e.Locale, e.Path, e.Global}
	if s.live[key] == id {
		delete(s.live, key)
	}
	for _, el := range r.ElementIDs {
		if set, ok := s.byElem[el]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(s.byElem, el)
			}
		}
	}
	return true
}

func dedupe(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[int64]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
