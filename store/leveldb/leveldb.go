// Package leveldb provides an embedded persistent fragment store backed by
// goleveldb. One process owns the database directory; atomicity of entry+edge
// writes comes from leveldb write batches.
//
// Key layout:
//
//	s            - last assigned entry id (u64 be)
//	e:<id8>      - codec-encoded store.Record
//	l:<hash>     - live-pointer: composite identity -> entry id (u64 be)
//	d:<elem8><id8> - dependency-edge index
//	x:<exp8><id8>  - expiry index (unix millis, big-endian for range scans)
package leveldb

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	ldb "github.com/syndtr/goleveldb/leveldb"
	ldbutil "github.com/syndtr/goleveldb/leveldb/util"

	"github.com/vireocms/fragcache/codec"
	"github.com/vireocms/fragcache/internal/util"
	"github.com/vireocms/fragcache/store"
)

var seqKey = []byte("s")

type Store struct {
	db    *ldb.DB
	codec codec.Codec[store.Record]

	// mu serializes writers so supersede (read live pointer, then batch) stays
	// consistent. Reads go straight to leveldb.
	mu  sync.Mutex
	seq uint64
}

var _ store.Store = (*Store)(nil)

type Config struct {
	Path  string
	Codec codec.Codec[store.Record] // nil => Msgpack
}

func Open(cfg Config) (*Store, error) {
	db, err := ldb.OpenFile(cfg.Path, nil)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, codec: cfg.Codec}
	if s.codec == nil {
		s.codec = codec.Msgpack[store.Record]{}
	}
	if raw, err := db.Get(seqKey, nil); err == nil && len(raw) == 8 {
		s.seq = binary.BigEndian.Uint64(raw)
	} else if err != nil && err != ldb.ErrNotFound {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func u64be(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func entryKey(id int64) []byte { return append([]byte("e:"), u64be(uint64(id))...) }

func edgeKey(elem, id int64) []byte {
	k := make([]byte, 0, 2+16)
	k = append(k, "d:"...)
	k = append(k, u64be(uint64(elem))...)
	k = append(k, u64be(uint64(id))...)
	return k
}

func expiryKey(exp time.Time, id int64) []byte {
	k := make([]byte, 0, 2+16)
	k = append(k, "x:"...)
	k = append(k, u64be(uint64(exp.UnixMilli()))...)
	k = append(k, u64be(uint64(id))...)
	return k
}

func liveKey(cacheKey, locale, path string, global bool) []byte {
	return []byte(util.LookupKey("l", cacheKey, locale, path, global))
}

func (s *Store) Get(_ context.Context, cacheKey, locale, path string, global bool, now time.Time) ([]byte, bool, error) {
	if global {
		path = ""
	}
	ptr, err := s.db.Get(liveKey(cacheKey, locale, path, global), nil)
	if err == ldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(ptr) != 8 {
		return nil, false, nil
	}
	rec, ok, err := s.loadRecord(int64(binary.BigEndian.Uint64(ptr)))
	if err != nil || !ok {
		return nil, false, err
	}
	if !rec.Matches(cacheKey, locale, path, global) || !rec.Live(now) {
		return nil, false, nil
	}
	return rec.Entry.Body, true, nil
}

func (s *Store) Put(_ context.Context, e store.Entry, elementIDs []int64) (int64, error) {
	if e.Global {
		e.Path = ""
	}
	live := liveKey(e.CacheKey, e.Locale, e.Path, e.Global)

	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(ldb.Batch)

	// supersede prior live entry, if any
	if ptr, err := s.db.Get(live, nil); err == nil && len(ptr) == 8 {
		if old, ok, lerr := s.loadRecord(int64(binary.BigEndian.Uint64(ptr))); lerr == nil && ok {
			s.unlinkRecord(batch, old, false)
		}
	} else if err != nil && err != ldb.ErrNotFound {
		return 0, err
	}

	s.seq++
	e.ID = int64(s.seq)

	rec := store.Record{Entry: e, ElementIDs: dedupe(elementIDs)}
	raw, err := s.codec.Encode(rec)
	if err != nil {
		s.seq--
		return 0, err
	}

	batch.Put(seqKey, u64be(s.seq))
	batch.Put(entryKey(e.ID), raw)
	batch.Put(live, u64be(uint64(e.ID)))
	batch.Put(expiryKey(e.ExpiryDate, e.ID), nil)
	for _, el := range rec.ElementIDs {
		batch.Put(edgeKey(el, e.ID), nil)
	}
	if err := s.db.Write(batch, nil); err != nil {
		s.seq--
		return 0, err
	}
	return e.ID, nil
}

func (s *Store) DeleteByElements(_ context.Context, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	victims := make(map[int64]struct{})
	for _, el := range ids {
		prefix := make([]byte, 0, 2+8)
		prefix = append(prefix, "d:"...)
		prefix = append(prefix, u64be(uint64(el))...)
		it := s.db.NewIterator(ldbutil.BytesPrefix(prefix), nil)
		for it.Next() {
			k := it.Key()
			if len(k) == 2+16 {
				victims[int64(binary.BigEndian.Uint64(k[2+8:]))] = struct{}{}
			}
		}
		err := it.Error()
		it.Release()
		if err != nil {
			return 0, err
		}
	}
	return s.deleteLocked(victims)
}

func (s *Store) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// expiry <= now: scan up to (and including) now's millisecond bucket
	limit := make([]byte, 0, 2+8)
	limit = append(limit, "x:"...)
	limit = append(limit, u64be(uint64(now.UnixMilli())+1)...)

	victims := make(map[int64]struct{})
	it := s.db.NewIterator(&ldbutil.Range{Start: []byte("x:"), Limit: limit}, nil)
	for it.Next() {
		k := it.Key()
		if len(k) == 2+16 {
			victims[int64(binary.BigEndian.Uint64(k[2+8:]))] = struct{}{}
		}
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, err
	}
	return s.deleteLocked(victims)
}

func (s *Store) DeleteAll(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(ldb.Batch)
	var removed int64
	it := s.db.NewIterator(nil, nil)
	for it.Next() {
		k := it.Key()
		if len(k) >= 2 && k[0] == 'e' && k[1] == ':' {
			removed++
		}
		if string(k) == string(seqKey) {
			continue // keep id allocation monotonic
		}
		batch.Delete(append([]byte(nil), k...))
	}
	err := it.Error()
	it.Release()
	if err != nil {
		return 0, err
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) Close(context.Context) error { return s.db.Close() }

func (s *Store) loadRecord(id int64) (store.Record, bool, error) {
	raw, err := s.db.Get(entryKey(id), nil)
	if err == ldb.ErrNotFound {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	rec, err := s.codec.Decode(raw)
	if err != nil {
		return store.Record{}, false, nil // corrupt; treated as miss
	}
	return rec, true, nil
}

// deleteLocked removes the given entries and their index keys in one batch.
// Caller holds mu.
func (s *Store) deleteLocked(victims map[int64]struct{}) (int64, error) {
	if len(victims) == 0 {
		return 0, nil
	}
	batch := new(ldb.Batch)
	var removed int64
	for id := range victims {
		rec, ok, err := s.loadRecord(id)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}
		// drop the live pointer only while it still names this entry
		e := rec.Entry
		live := liveKey(e.CacheKey, e.Locale, e.Path, e.Global)
		dropLive := false
		if ptr, err := s.db.Get(live, nil); err == nil && len(ptr) == 8 &&
			int64(binary.BigEndian.Uint64(ptr)) == id {
			dropLive = true
		}
		s.unlinkRecord(batch, rec, dropLive)
		removed++
	}
	if err := s.db.Write(batch, nil); err != nil {
		return 0, err
	}
	return removed, nil
}

func (s *Store) unlinkRecord(batch *ldb.Batch, rec store.Record, dropLive bool) {
	e := rec.Entry
	batch.Delete(entryKey(e.ID))
	batch.Delete(expiryKey(e.ExpiryDate, e.ID))
	for _, el := range rec.ElementIDs {
		batch.Delete(edgeKey(el, e.ID))
	}
	if dropLive {
		batch.Delete(liveKey(e.CacheKey, e.Locale, e.Path, e.Global))
	}
}

func dedupe(ids []int64) []int64 {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
