// Package ratelimit provides sliding-window and fixed-window admission
// control backed by the coordination store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the coordination-store capability the limiter needs. Both
// operations are atomic on the store side; there is no count-then-insert
// race for concurrent callers to exploit.
type Store interface {
	SlidingWindowAllow(ctx context.Context, key string, limit int, window time.Duration, now time.Time, member string) (allowed bool, count int64, oldestMs int64, err error)
	FixedWindowIncr(ctx context.Context, key string, limit int, ttl time.Duration) (allowed bool, count int64, err error)
}

// Result is an admission decision.
type Result struct {
	Allowed   bool      `json:"allowed"`
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

const keyPrefix = "ratelimit:"

// Service evaluates rate limits.
type Service struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// New creates a rate limiter service.
func New(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

// CheckSlidingWindow admits at most limit requests in any window ending now.
// On store failure the request is ALLOWED: availability is deliberately
// preferred over strict admission control here, unlike the lock service
// which fails closed.
func (s *Service) CheckSlidingWindow(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := s.now()
	allowed, count, oldestMs, err := s.store.SlidingWindowAllow(
		ctx, keyPrefix+key, limit, window, now, uuid.New().String())
	if err != nil {
		s.logger.Warn("sliding window check failed, failing open",
			zap.String("key", key), zap.Error(err))
		return Result{Allowed: true, Remaining: limit - 1, ResetTime: now.Add(window)}
	}
	if allowed {
		return Result{
			Allowed:   true,
			Remaining: limit - int(count) - 1,
			ResetTime: now.Add(window),
		}
	}
	reset := now.Add(window)
	if oldestMs > 0 {
		reset = time.UnixMilli(oldestMs).Add(window)
	}
	return Result{Allowed: false, Remaining: 0, ResetTime: reset}
}

// CheckFixedWindow admits at most limit requests per aligned window bucket.
// Fails open on store error, same policy as the sliding variant.
func (s *Service) CheckFixedWindow(ctx context.Context, key string, limit int, window time.Duration) Result {
	now := s.now()
	windowStart := now.Truncate(window)
	reset := windowStart.Add(window)
	bucket := fmt.Sprintf("%s%s:%d", keyPrefix, key, windowStart.UnixMilli())

	allowed, count, err := s.store.FixedWindowIncr(ctx, bucket, limit, window)
	if err != nil {
		s.logger.Warn("fixed window check failed, failing open",
			zap.String("key", key), zap.Error(err))
		return Result{Allowed: true, Remaining: limit - 1, ResetTime: reset}
	}
	if !allowed {
		return Result{Allowed: false, Remaining: 0, ResetTime: reset}
	}
	return Result{Allowed: true, Remaining: limit - int(count), ResetTime: reset}
}
