// Package cache holds lookups that are read on every event but change rarely:
// integration configurations and the entities templates reference. Entries
// can carry tags so a whole group (for example every configuration of one
// organization and integration kind) can be dropped at once.
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores opaque byte values by key.
type Cache interface {
	// Get returns the value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores value for ttl. A zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	// RemoveByTag drops every entry stored with tag.
	RemoveByTag(ctx context.Context, tag string) error
}

// GetOrSet returns the cached value for key or calls load and caches its
// result. The cache is best effort: read or write failures and undecodable
// entries fall through to load, and only load errors are returned.
func GetOrSet[T any](ctx context.Context, c Cache, key string, ttl time.Duration, tags []string, load func(ctx context.Context) (T, error)) (T, error) {
	if raw, ok, err := c.Get(ctx, key); err == nil && ok {
		var cached T
		if json.Unmarshal(raw, &cached) == nil {
			return cached, nil
		}
	}

	value, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	if raw, err := json.Marshal(value); err == nil {
		_ = c.Set(ctx, key, raw, ttl, tags...)
	}
	return value, nil
}
