package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional Redis-backed byte cache. A nil *Cache is valid and
// turns every operation into a no-op miss, so callers never branch on
// whether caching is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis. An empty addr returns (nil, nil).
func New(ctx context.Context, addr, password string, db int, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Get returns the cached value and whether it was present.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return data, true
}

// Set stores a value under the cache's TTL. Errors are discarded; the cache
// is best-effort.
func (c *Cache) Set(ctx context.Context, key string, value []byte) {
	if c == nil {
		return
	}
	c.client.Set(ctx, key, value, c.ttl)
}

// Delete removes keys, typically on invalidation after a mutation.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	c.client.Del(ctx, keys...)
}

// Close releases the Redis connection.
func (c *Cache) Close() {
	if c == nil {
		return
	}
	_ = c.client.Close()
}
