// Package redis provides a Redis-backed ancillary cell store. Use it when
// multiple processes share one persistent fragment store so the sweep marker
// actually throttles sweeps fleet-wide.
package redis

import (
	"context"
	"errors"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/vireocms/fragcache/kv"
)

var ErrNilClient = errors.New("redis cell store: nil client")

type Cells struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var _ kv.Store = (*Cells)(nil)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this store exclusively owns the client
}

func New(cfg Config) (*Cells, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Cells{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (s *Cells) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (s *Cells) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0 // non-positive TTL means "no expiry"
	}
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *Cells) Del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

// Close releases the underlying client only when this store owns it.
// Safe to call multiple times; repeated calls become no-ops.
func (s *Cells) Close(context.Context) error {
	if s.closeClient {
		if err := s.rdb.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
			return err
		}
	}
	return nil
}
