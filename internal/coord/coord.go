// Package coord is a thin adapter over Redis exposing the atomic
// primitives the lock, rate-limit, queue, and cache layers build on.
package coord

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Client wraps a Redis connection.
type Client struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// New connects to Redis from a redis:// URL.
func New(redisURL string, logger *zap.Logger) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Info("Redis connected")
	return &Client{rdb: rdb, logger: logger}, nil
}

// compareAndDelete deletes the key only if it still holds the expected value.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// compareAndExtend resets the key's TTL only if it still holds the expected value.
var compareAndExtend = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// slidingWindow trims entries older than the window, counts survivors, and
// inserts the new timestamp only when under the limit. One round trip, no
// race between count and insert.
// Returns {allowed, count, oldest-score}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", key, "-inf", now - window)
local count = redis.call("ZCARD", key)
local oldest = 0
local first = redis.call("ZRANGE", key, 0, 0, "WITHSCORES")
if first[2] then oldest = tonumber(first[2]) end
if count < limit then
	redis.call("ZADD", key, now, ARGV[4])
	redis.call("PEXPIRE", key, window)
	return {1, count, oldest}
end
return {0, count, oldest}`)

// fixedWindow increments the bucket counter only while it is under the
// limit. Returns {allowed, count}.
var fixedWindow = redis.NewScript(`
local count = tonumber(redis.call("GET", KEYS[1]) or "0")
if count >= tonumber(ARGV[1]) then
	return {0, count}
end
count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return {1, count}`)

// SetIfAbsent performs SET NX with expiry. Returns true if the key was set.
func (c *Client) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx %s: %w", key, err)
	}
	return ok, nil
}

// CompareAndDelete atomically deletes key iff its value equals expected.
func (c *Client) CompareAndDelete(ctx context.Context, key, expected string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, c.rdb, []string{key}, expected).Int()
	if err != nil {
		return false, fmt.Errorf("compare-and-delete %s: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndExtend atomically extends key's TTL iff its value equals expected.
func (c *Client) CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error) {
	n, err := compareAndExtend.Run(ctx, c.rdb, []string{key}, expected, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("compare-and-extend %s: %w", key, err)
	}
	return n == 1, nil
}

// SlidingWindowAllow runs the atomic trim+count+insert admission check.
// member must be unique per call so concurrent requests in the same
// millisecond occupy distinct slots.
func (c *Client) SlidingWindowAllow(ctx context.Context, key string, limit int, window time.Duration, now time.Time, member string) (allowed bool, count int64, oldestMs int64, err error) {
	res, err := slidingWindow.Run(ctx, c.rdb, []string{key},
		now.UnixMilli(), window.Milliseconds(), limit, member).Int64Slice()
	if err != nil {
		return false, 0, 0, fmt.Errorf("sliding window %s: %w", key, err)
	}
	if len(res) != 3 {
		return false, 0, 0, fmt.Errorf("sliding window %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, res[1], res[2], nil
}

// FixedWindowIncr admits into an aligned window bucket. The counter is
// incremented only while under the limit, so it stays a count of admitted
// requests; denied calls leave it untouched. Expiry is set on the
// bucket's first increment.
func (c *Client) FixedWindowIncr(ctx context.Context, key string, limit int, ttl time.Duration) (allowed bool, count int64, err error) {
	res, err := fixedWindow.Run(ctx, c.rdb, []string{key}, limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("fixed window incr %s: %w", key, err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("fixed window incr %s: unexpected reply %v", key, res)
	}
	return res[0] == 1, res[1], nil
}

// ZAdd inserts a member with the given score.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member string) error {
	if err := c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("zadd %s: %w", key, err)
	}
	return nil
}

// ZPopMax pops the highest-scored member. ok is false when the set is empty.
func (c *Client) ZPopMax(ctx context.Context, key string) (member string, score float64, ok bool, err error) {
	res, err := c.rdb.ZPopMax(ctx, key, 1).Result()
	if err != nil {
		return "", 0, false, fmt.Errorf("zpopmax %s: %w", key, err)
	}
	if len(res) == 0 {
		return "", 0, false, nil
	}
	m, _ := res[0].Member.(string)
	return m, res[0].Score, true, nil
}

// ZCard returns the cardinality of the set.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard %s: %w", key, err)
	}
	return n, nil
}

// GetJSON loads a cached value into dest. Returns false on miss.
func (c *Client) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	return true, nil
}

// SetJSON caches a value with a TTL.
func (c *Client) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

// Del removes keys. Used for cache invalidation, so missing keys are not errors.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// Close shuts down the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}
