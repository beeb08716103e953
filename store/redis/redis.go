// Package redis provides a Redis-backed fragment store for deployments where
// several processes share one cache. Entry+edge writes go through MULTI/EXEC
// so a fragment and its dependency edges become visible together.
//
// Key layout (all under the configured namespace):
//
//	<ns>:id            - INCR counter for entry ids
//	<ns>:entry:<id>    - codec-encoded store.Record
//	<ns>:live:<hash>   - live-pointer: composite identity -> entry id
//	<ns>:elem:<elemID> - SET of entry ids depending on that element
//	<ns>:exp           - ZSET of entry ids scored by expiry (unix millis)
package redis

import (
	"context"
	"errors"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vireocms/fragcache/codec"
	"github.com/vireocms/fragcache/internal/util"
	"github.com/vireocms/fragcache/store"
)

var ErrNilClient = errors.New("redis store: nil client")

type Store struct {
	rdb         goredis.UniversalClient
	ns          string
	codec       codec.Codec[store.Record]
	closeClient bool
}

var _ store.Store = (*Store)(nil)

type Config struct {
	Client      goredis.UniversalClient
	Namespace   string                    // "" => "frag"
	Codec       codec.Codec[store.Record] // nil => Msgpack
	CloseClient bool                      // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Store, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	s := &Store{
		rdb:         cfg.Client,
		ns:          cfg.Namespace,
		codec:       cfg.Codec,
		closeClient: cfg.CloseClient,
	}
	if s.ns == "" {
		s.ns = "frag"
	}
	if s.codec == nil {
		s.codec = codec.Msgpack[store.Record]{}
	}
	return s, nil
}

func (s *Store) seqKey() string           { return s.ns + ":id" }
func (s *Store) expKey() string           { return s.ns + ":exp" }
func (s *Store) entryKey(id int64) string { return s.ns + ":entry:" + strconv.FormatInt(id, 10) }
func (s *Store) elemKey(id int64) string  { return s.ns + ":elem:" + strconv.FormatInt(id, 10) }

func (s *Store) liveKey(cacheKey, locale, path string, global bool) string {
	return util.LookupKey(s.ns+":live", cacheKey, locale, path, global)
}

func (s *Store) Get(ctx context.Context, cacheKey, locale, path string, global bool, now time.Time) ([]byte, bool, error) {
	if global {
		path = ""
	}
	idStr, err := s.rdb.Get(ctx, s.liveKey(cacheKey, locale, path, global)).Result()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return nil, false, nil // foreign write under our prefix; treat as miss
	}
	rec, ok, err := s.loadRecord(ctx, id)
	if err != nil || !ok {
		return nil, false, err
	}
	// hash-collision guard + liveness
	if !rec.Matches(cacheKey, locale, path, global) || !rec.Live(now) {
		return nil, false, nil
	}
	return rec.Entry.Body, true, nil
}

func (s *Store) Put(ctx context.Context, e store.Entry, elementIDs []int64) (int64, error) {
	if e.Global {
		e.Path = ""
	}
	live := s.liveKey(e.CacheKey, e.Locale, e.Path, e.Global)

	// Look up the entry being superseded before the transaction. A concurrent
	// Put for the same identity can leave the loser's record unreferenced
	// until a sweep or invalidation reaps it; accepted.
	var old *store.Record
	if idStr, err := s.rdb.Get(ctx, live).Result(); err == nil {
		if oldID, perr := strconv.ParseInt(idStr, 10, 64); perr == nil {
			if rec, ok, _ := s.loadRecord(ctx, oldID); ok {
				old = &rec
			}
		}
	} else if err != goredis.Nil {
		return 0, err
	}

	id, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return 0, err
	}
	e.ID = id

	rec := store.Record{Entry: e, ElementIDs: dedupe(elementIDs)}
	raw, err := s.codec.Encode(rec)
	if err != nil {
		return 0, err
	}

	member := strconv.FormatInt(id, 10)
	_, err = s.rdb.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.Set(ctx, s.entryKey(id), raw, 0)
		p.Set(ctx, live, member, 0)
		p.ZAdd(ctx, s.expKey(), goredis.Z{Score: float64(e.ExpiryDate.UnixMilli()), Member: member})
		for _, el := range rec.ElementIDs {
			p.SAdd(ctx, s.elemKey(el), member)
		}
		if old != nil {
			s.unlinkRecord(ctx, p, *old, false)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func (s *Store) DeleteByElements(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	keys := make([]string, len(ids))
	for i, el := range ids {
		keys[i] = s.elemKey(el)
	}
	members, err := s.rdb.SUnion(ctx, keys...).Result()
	if err != nil {
		return 0, err
	}
	return s.deleteMembers(ctx, members)
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	members, err := s.rdb.ZRangeByScore(ctx, s.expKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}
	return s.deleteMembers(ctx, members)
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	var (
		cursor  uint64
		removed int64
	)
	entryPrefix := s.ns + ":entry:"
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, s.ns+":*", 512).Result()
		if err != nil {
			return removed, err
		}
		if len(keys) > 0 {
			if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
				return removed, err
			}
			for _, k := range keys {
				if len(k) > len(entryPrefix) && k[:len(entryPrefix)] == entryPrefix {
					removed++
				}
			}
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Close releases the underlying client only when this store owns it.
func (s *Store) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}

func (s *Store) loadRecord(ctx context.Context, id int64) (store.Record, bool, error) {
	raw, err := s.rdb.Get(ctx, s.entryKey(id)).Bytes()
	if err == goredis.Nil {
		return store.Record{}, false, nil
	}
	if err != nil {
		return store.Record{}, false, err
	}
	rec, err := s.codec.Decode(raw)
	if err != nil {
		// corrupt record; drop it so the slot heals
		_ = s.rdb.Del(ctx, s.entryKey(id))
		return store.Record{}, false, nil
	}
	return rec, true, nil
}

// deleteMembers removes the entries named by zset/set members, cascading
// their edges and live pointers. Not atomic with concurrent lookups; accepted.
func (s *Store) deleteMembers(ctx context.Context, members []string) (int64, error) {
	var removed int64
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		rec, ok, err := s.loadRecord(ctx, id)
		if err != nil {
			return removed, err
		}
		if !ok {
			// record already gone; still clear the dangling index member
			_ = s.rdb.ZRem(ctx, s.expKey(), m).Err()
			continue
		}
		// Clear the live pointer only while it still names this entry; a newer
		// entry may have taken over the identity since.
		e := rec.Entry
		live := s.liveKey(e.CacheKey, e.Locale, e.Path, e.Global)
		cur, lerr := s.rdb.Get(ctx, live).Result()
		dropLive := lerr == nil && cur == m
		_, err = s.rdb.Pipelined(ctx, func(p goredis.Pipeliner) error {
			s.unlinkRecord(ctx, p, rec, dropLive)
			return nil
		})
		if err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// unlinkRecord queues deletion of a record and all of its index members.
// dropLive also clears the live pointer; supersede keeps it (the new entry
// overwrites it in the same transaction).
func (s *Store) unlinkRecord(ctx context.Context, p goredis.Pipeliner, rec store.Record, dropLive bool) {
	e := rec.Entry
	member := strconv.FormatInt(e.ID, 10)
	p.Del(ctx, s.entryKey(e.ID))
	p.ZRem(ctx, s.expKey(), member)
	for _, el := range rec.ElementIDs {
		p.SRem(ctx, s.elemKey(el), member)
	}
	if dropLive {
		p.Del(ctx, s.liveKey(e.CacheKey, e.Locale, e.Path, e.Global))
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
