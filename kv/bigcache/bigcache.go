package bigcache

import (
	"context"
	"time"

	bc "github.com/allegro/bigcache/v3"

	"github.com/vireocms/fragcache/kv"
)

// Cells is a BigCache-backed cell store. BigCache has no per-entry TTL; set
// LifeWindow to the cache's sweep interval so the marker cell ages out on
// schedule. The fragment cache re-checks the recorded timestamp either way.
type Cells struct {
	c *bc.BigCache
}

var _ kv.Store = (*Cells)(nil)

type Config struct {
	LifeWindow         time.Duration
	CleanWindow        time.Duration
	MaxEntriesInWindow int
	MaxEntrySize       int
	HardMaxCacheSizeMB int // ~ memory limit; 0 = unlimited
}

func New(cfg Config) (*Cells, error) {
	conf := bc.DefaultConfig(cfg.LifeWindow)
	if cfg.CleanWindow > 0 {
		conf.CleanWindow = cfg.CleanWindow
	}
	if cfg.MaxEntriesInWindow > 0 {
		conf.MaxEntriesInWindow = cfg.MaxEntriesInWindow
	}
	if cfg.MaxEntrySize > 0 {
		conf.MaxEntrySize = cfg.MaxEntrySize
	}
	if cfg.HardMaxCacheSizeMB > 0 {
		conf.HardMaxCacheSize = cfg.HardMaxCacheSizeMB
	}
	c, err := bc.NewBigCache(conf)
	if err != nil {
		return nil, err
	}
	return &Cells{c: c}, nil
}

func (s *Cells) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, err := s.c.Get(key)
	if err == bc.ErrEntryNotFound {
		return nil, false, nil
	}
	return b, err == nil, err
}

func (s *Cells) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	// Global LifeWindow stands in for the per-entry TTL.
	return s.c.Set(key, value)
}

func (s *Cells) Del(_ context.Context, key string) error {
	return s.c.Delete(key)
}

func (s *Cells) Close(_ context.Context) error {
	return s.c.Close()
}
