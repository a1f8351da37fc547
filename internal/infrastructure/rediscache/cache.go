// Package rediscache is an optional read-through cache for dashboard
// payloads. The cache is best-effort: a miss or an unreachable Redis never
// fails the caller, it just means a recompute.
package rediscache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client. A nil *Cache is valid and disables caching,
// which keeps call sites free of availability checks.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis at addr (host:port or a redis:// URL) and verifies
// the connection. Entries expire after ttl.
func New(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	opt, err := redis.ParseURL(addr)
	if err != nil {
		opt = &redis.Options{Addr: addr}
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Cache{client: client, ttl: ttl}, nil
}

// Get returns the cached payload for key, or nil on a miss.
func (c *Cache) Get(ctx context.Context, key string) []byte {
	if c == nil {
		return nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		log.Printf("Cache get %s failed: %v", key, err)
		return nil
	}
	return data
}

// Set stores a payload under key with the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if c == nil {
		return
	}
	if err := c.client.SetEx(ctx, key, data, c.ttl).Err(); err != nil {
		log.Printf("Cache set %s failed: %v", key, err)
	}
}

// Delete drops keys, typically after a write invalidates them.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if c == nil || len(keys) == 0 {
		return
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("Cache delete failed: %v", err)
	}
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.client.Close()
}
