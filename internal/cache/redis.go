package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Cache = (*RedisCache)(nil)

// RedisCache is a Cache shared by every worker through Redis. Tags are Redis
// sets holding the member keys.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisClient parses a redis:// URL into a client.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisCache creates a RedisCache. prefix namespaces every key.
func NewRedisCache(client *redis.Client, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(k string) string    { return c.prefix + k }
func (c *RedisCache) tagKey(t string) string { return c.prefix + "tag:" + t }

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	return v, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error {
	full := c.key(key)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, full, value, ttl)
		for _, tag := range tags {
			pipe.SAdd(ctx, c.tagKey(tag), full)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) RemoveByTag(ctx context.Context, tag string) error {
	tk := c.tagKey(tag)
	keys, err := c.client.SMembers(ctx, tk).Result()
	if err != nil {
		return fmt.Errorf("cache: redis tag members: %w", err)
	}
	if err := c.client.Del(ctx, append(keys, tk)...).Err(); err != nil {
		return fmt.Errorf("cache: redis remove by tag: %w", err)
	}
	return nil
}
