package store

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// KV is the coordination-store capability the cache needs. coord.Client
// satisfies it.
type KV interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// Cache is a best-effort read cache for derived pet data (settings,
// analysis, audit tails). Reads fall through to the source on miss or
// error; a failed invalidation means staleness until the TTL, never a
// wrong commit.
type Cache struct {
	kv     KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache creates a cache with a default TTL for Set calls.
func NewCache(kv KV, ttl time.Duration, logger *zap.Logger) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{kv: kv, ttl: ttl, logger: logger}
}

// Get loads a cached value. Misses and errors both report false.
func (c *Cache) Get(ctx context.Context, key string, dest any) bool {
	hit, err := c.kv.GetJSON(ctx, key, dest)
	if err != nil {
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return hit
}

// Set stores a value under the default TTL. Failures are logged only.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	if err := c.kv.SetJSON(ctx, key, value, c.ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}

// Invalidate implements evolution.Cache.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	return c.kv.Del(ctx, keys...)
}

// GetJSON exposes the underlying read for the audit batch reader.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	return c.kv.GetJSON(ctx, key, dest)
}

// SetJSON exposes the underlying write for the audit batch reader.
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.kv.SetJSON(ctx, key, value, ttl)
}
