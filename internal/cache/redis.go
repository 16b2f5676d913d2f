// Package cache is the Redis-backed cache for resolved identity snapshots.
// Values are JSON; entries carry a TTL so a lost invalidation self-heals.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps a Redis client under a key prefix. It satisfies the auth
// package's Cache contract.
type Cache struct {
	client *redis.Client
	prefix string

	hits   uint64
	misses uint64
}

// Config holds the Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// Open connects to Redis and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return New(client, cfg.Prefix), nil
}

// New wraps an existing client.
func New(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

// Get loads the value at key into dest. The boolean reports a hit; a miss
// is not an error.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			atomic.AddUint64(&c.misses, 1)
			return false, nil
		}
		return false, fmt.Errorf("cache get: %w", err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("cache decode: %w", err)
	}
	atomic.AddUint64(&c.hits, 1)
	return true, nil
}

// Set stores the JSON encoding of value under key for ttl.
func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Delete removes a single key. Deleting an absent key is a no-op.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching the glob pattern. SCAN keeps the
// walk incremental; KEYS would block the server on a large keyspace.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("cache scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Exists reports whether the key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.client.Exists(ctx, c.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("cache exists: %w", err)
	}
	return n > 0, nil
}

// HitRate reports the observed hit ratio in [0, 1].
func (c *Cache) HitRate() float64 {
	hits := atomic.LoadUint64(&c.hits)
	total := hits + atomic.LoadUint64(&c.misses)
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Ping checks connection health.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
