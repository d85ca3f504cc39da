package store

import (
	"context"
	"time"

	"github.com/allegro/bigcache/v3"
)

// Cache provides in-memory caching for blocks.
type Cache interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte)
	Has(key string) bool
	Remove(key string)
	Clear()
	Close() error
}

// BigCache is a Cache backed by bigcache. Entries expire after the life
// window and the cache is capped at maxMB megabytes.
type BigCache struct {
	cache *bigcache.BigCache
}

// NewBigCache creates a block cache. maxMB <= 0 leaves the size unbounded.
func NewBigCache(maxMB int, lifeWindow time.Duration) (*BigCache, error) {
	cfg := bigcache.DefaultConfig(lifeWindow)
	cfg.Shards = 64
	cfg.MaxEntrySize = 64 * 1024
	cfg.HardMaxCacheSize = max(maxMB, 0)
	cfg.Verbose = false

	c, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, err
	}
	return &BigCache{cache: c}, nil
}

func (c *BigCache) Get(key string) ([]byte, bool) {
	v, err := c.cache.Get(key)
	if err != nil {
		return nil, false
	}
	return v, true
}

// Add stores value. A value larger than the cache can hold is skipped.
func (c *BigCache) Add(key string, value []byte) {
	_ = c.cache.Set(key, value)
}

func (c *BigCache) Has(key string) bool {
	_, err := c.cache.Get(key)
	return err == nil
}

func (c *BigCache) Remove(key string) {
	_ = c.cache.Delete(key)
}

func (c *BigCache) Clear() {
	_ = c.cache.Reset()
}

func (c *BigCache) Close() error {
	return c.cache.Close()
}
