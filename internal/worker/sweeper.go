package worker

import (
	"context"
	"errors"
	"time"

	"github.com/pawlab/petstate/internal/lock"
	"go.uber.org/zap"
)

// EntityLister enumerates entities for the decay sweep.
type EntityLister interface {
	ListEntityIDs(ctx context.Context) ([]string, error)
}

// DecaySweeper periodically advances every entity's state by its elapsed
// idle time. Each entity is decayed under its own evolution lock, so a
// sweep never races a live interaction.
type DecaySweeper struct {
	lister     EntityLister
	orch       Orchestrator
	dispatcher Dispatcher
	interval   time.Duration
	logger     *zap.Logger
}

// NewDecaySweeper creates a sweeper.
func NewDecaySweeper(lister EntityLister, orch Orchestrator, dispatcher Dispatcher, interval time.Duration, logger *zap.Logger) *DecaySweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &DecaySweeper{
		lister:     lister,
		orch:       orch,
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger,
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *DecaySweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("decay sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("decay sweeper stopped")
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce decays every entity once, returning how many transitions were
// applied. Locked entities are skipped, not retried: the next sweep gets
// them, and whoever holds the lock is already refreshing the state.
func (s *DecaySweeper) SweepOnce(ctx context.Context) int {
	ids, err := s.lister.ListEntityIDs(ctx)
	if err != nil {
		s.logger.Warn("decay sweep list failed", zap.Error(err))
		return 0
	}

	applied := 0
	for _, id := range ids {
		outcome, err := s.orch.ApplyDecay(ctx, id)
		if err != nil {
			if errors.Is(err, lock.ErrUnavailable) {
				continue
			}
			s.logger.Warn("decay failed", zap.String("entity", id), zap.Error(err))
			continue
		}
		if !outcome.Applied {
			continue
		}
		applied++
		if s.dispatcher != nil {
			s.dispatcher.Dispatch(ctx, outcome.PostCommit)
		}
	}
	if applied > 0 {
		s.logger.Info("decay sweep complete",
			zap.Int("entities", len(ids)), zap.Int("applied", applied))
	}
	return applied
}

// AuditPurger deletes expired audit records on a slow ticker.
type AuditPurger struct {
	store    PurgeStore
	interval time.Duration
	logger   *zap.Logger
}

// PurgeStore is the retention capability of the audit store.
type PurgeStore interface {
	PurgeExpiredAudit(ctx context.Context, now time.Time) (int64, error)
}

// NewAuditPurger creates a purger.
func NewAuditPurger(store PurgeStore, interval time.Duration, logger *zap.Logger) *AuditPurger {
	if interval <= 0 {
		interval = time.Hour
	}
	return &AuditPurger{store: store, interval: interval, logger: logger}
}

// Start runs the purge loop until ctx is cancelled.
func (p *AuditPurger) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.store.PurgeExpiredAudit(ctx, time.Now())
			if err != nil {
				p.logger.Warn("audit purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				p.logger.Info("purged expired audit records", zap.Int64("count", n))
			}
		}
	}
}
