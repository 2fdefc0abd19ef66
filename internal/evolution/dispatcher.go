package evolution

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher executes post-commit side effects. Everything here is
// best-effort: a failed invalidation means a transiently stale cache
// until the next read miss, a failed push is a dropped notification.
// Neither ever unwinds the commit that produced the effect.
type Dispatcher struct {
	cache    Cache
	notifier Notifier
	logger   *zap.Logger
}

// NewDispatcher creates a dispatcher. cache and notifier may be nil when
// the deployment runs without them.
func NewDispatcher(cache Cache, notifier Notifier, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{cache: cache, notifier: notifier, logger: logger}
}

// Dispatch runs each effect in order, logging failures and continuing.
func (d *Dispatcher) Dispatch(ctx context.Context, effects []SideEffect) {
	for _, eff := range effects {
		switch eff.Kind {
		case EffectCacheInvalidate:
			if d.cache == nil {
				continue
			}
			if err := d.cache.Invalidate(ctx, eff.CacheKeys...); err != nil {
				d.logger.Warn("cache invalidation failed",
					zap.String("entity", eff.EntityID), zap.Error(err))
			}
		case EffectNotify:
			if d.notifier == nil {
				continue
			}
			res, err := d.notifier.Push(ctx, eff.EntityID, eff.OwnerID, eff.EventType, eff.Payload)
			if err != nil {
				d.logger.Warn("notification push failed",
					zap.String("entity", eff.EntityID),
					zap.String("event", eff.EventType),
					zap.Error(err))
				continue
			}
			d.logger.Debug("notification pushed",
				zap.String("entity", eff.EntityID),
				zap.String("event", eff.EventType),
				zap.Int("delivered", len(res.DeliveredTo)))
		default:
			d.logger.Warn("unknown side effect kind", zap.String("kind", eff.Kind))
		}
	}
}
