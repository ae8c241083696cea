package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

var _ Cache = (*MemoryCache)(nil)

// MemoryCache is a process-local Cache backed by ristretto. Every entry
// costs 1, so maxEntries bounds the number of keys.
type MemoryCache struct {
	store *ristretto.Cache[string, []byte]

	mu   sync.Mutex
	tags map[string]map[string]struct{}
}

// NewMemoryCache creates a MemoryCache holding up to maxEntries keys.
func NewMemoryCache(maxEntries int64) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	store, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters:        maxEntries * 10,
		MaxCost:            maxEntries,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("cache: create memory cache: %w", err)
	}
	return &MemoryCache{
		store: store,
		tags:  make(map[string]map[string]struct{}),
	}, nil
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.store.Get(key)
	return v, ok, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	c.store.SetWithTTL(key, value, 1, ttl)
	// Writes are buffered; wait so an immediate Get observes the value.
	c.store.Wait()

	if len(tags) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tag := range tags {
		keys, ok := c.tags[tag]
		if !ok {
			keys = make(map[string]struct{})
			c.tags[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (c *MemoryCache) RemoveByTag(_ context.Context, tag string) error {
	c.mu.Lock()
	keys := c.tags[tag]
	delete(c.tags, tag)
	c.mu.Unlock()

	for key := range keys {
		c.store.Del(key)
	}
	return nil
}

// Close releases the ristretto goroutines.
func (c *MemoryCache) Close() {
	c.store.Close()
}
