// Package lock provides a lease-based distributed lock on top of any
// key-value store offering set-if-absent and compare-and-act primitives.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrUnavailable is returned when a lock cannot be acquired within the
// configured retry budget. Callers should treat it as retryable.
var ErrUnavailable = errors.New("lock unavailable")

// Store is the coordination-store capability the lock service needs.
// coord.Client satisfies it; tests use an in-memory fake.
type Store interface {
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	CompareAndDelete(ctx context.Context, key, expected string) (bool, error)
	CompareAndExtend(ctx context.Context, key, expected string, ttl time.Duration) (bool, error)
}

const keyPrefix = "lock:"

// Service implements mutual exclusion with lease renewal.
type Service struct {
	store      Store
	retryDelay time.Duration
	logger     *zap.Logger
}

// New creates a lock service. retryDelay controls the AcquireWithRetry
// poll interval; zero means the 100ms default.
func New(store Store, retryDelay time.Duration, logger *zap.Logger) *Service {
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}
	return &Service{store: store, retryDelay: retryDelay, logger: logger}
}

// Acquire attempts to take the lock for resource. It succeeds only when no
// live lock exists. Store errors are treated as "not acquired"; the lock
// fails closed.
func (s *Service) Acquire(ctx context.Context, resource, owner string, ttl time.Duration) bool {
	ok, err := s.store.SetIfAbsent(ctx, keyPrefix+resource, owner, ttl)
	if err != nil {
		s.logger.Warn("lock acquire failed, treating as not held",
			zap.String("resource", resource), zap.Error(err))
		return false
	}
	return ok
}

// Release frees the lock only if owner still holds it. A stale owner whose
// lease expired and was re-acquired by someone else gets false, not a
// release of the new holder's lock. Store errors are logged and reported
// as false; the TTL remains the safety net.
func (s *Service) Release(ctx context.Context, resource, owner string) bool {
	ok, err := s.store.CompareAndDelete(ctx, keyPrefix+resource, owner)
	if err != nil {
		s.logger.Warn("lock release failed, relying on TTL expiry",
			zap.String("resource", resource), zap.Error(err))
		return false
	}
	return ok
}

// Renew extends the lease only if owner still holds the lock.
func (s *Service) Renew(ctx context.Context, resource, owner string, ttl time.Duration) bool {
	ok, err := s.store.CompareAndExtend(ctx, keyPrefix+resource, owner, ttl)
	if err != nil {
		s.logger.Warn("lock renew failed",
			zap.String("resource", resource), zap.Error(err))
		return false
	}
	return ok
}

// AcquireWithRetry polls Acquire at the configured interval up to
// maxRetries attempts. Returns false once the budget is exhausted or the
// context is cancelled.
func (s *Service) AcquireWithRetry(ctx context.Context, resource, owner string, ttl time.Duration, maxRetries int) bool {
	for attempt := 0; attempt < maxRetries; attempt++ {
		if s.Acquire(ctx, resource, owner, ttl) {
			return true
		}
		if attempt == maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.retryDelay):
		}
	}
	return false
}

// ExclusiveOptions tunes RunExclusive.
type ExclusiveOptions struct {
	TTL           time.Duration
	MaxRetries    int
	AutoRenew     bool
	RenewInterval time.Duration // defaults to 70% of TTL
}

func (o *ExclusiveOptions) defaults() {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 5
	}
	if o.RenewInterval <= 0 {
		o.RenewInterval = time.Duration(float64(o.TTL) * 0.7)
	}
}

// RunExclusive acquires the lock, runs fn, and guarantees release whether
// fn succeeds or fails. With AutoRenew the lease is extended periodically
// so long-running callbacks keep holding it. Returns ErrUnavailable
// without running fn when acquisition fails.
func (s *Service) RunExclusive(ctx context.Context, resource string, opts ExclusiveOptions, fn func(ctx context.Context) error) error {
	opts.defaults()
	owner := uuid.New().String()

	if !s.AcquireWithRetry(ctx, resource, owner, opts.TTL, opts.MaxRetries) {
		return fmt.Errorf("%w: %s", ErrUnavailable, resource)
	}

	var stopRenew chan struct{}
	if opts.AutoRenew {
		stopRenew = make(chan struct{})
		go s.renewLoop(ctx, resource, owner, opts, stopRenew)
	}

	defer func() {
		if stopRenew != nil {
			close(stopRenew)
		}
		s.Release(ctx, resource, owner)
	}()

	return fn(ctx)
}

func (s *Service) renewLoop(ctx context.Context, resource, owner string, opts ExclusiveOptions, stop <-chan struct{}) {
	ticker := time.NewTicker(opts.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.Renew(ctx, resource, owner, opts.TTL) {
				s.logger.Warn("lock renewal lost lease",
					zap.String("resource", resource))
				return
			}
		}
	}
}
