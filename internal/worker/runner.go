// Package worker runs the asynchronous processing loops: draining queued
// interactions into the orchestrator, sweeping decay across entities, and
// purging expired audit records.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/pawlab/petstate/internal/evolution"
	"github.com/pawlab/petstate/internal/lock"
	"github.com/pawlab/petstate/internal/queue"
	"go.uber.org/zap"
)

// Orchestrator is the slice of the evolution orchestrator the workers use.
type Orchestrator interface {
	ProcessIncrement(ctx context.Context, entityID string, raw evolution.RawInteraction) (*evolution.Outcome, error)
	ApplyDecay(ctx context.Context, entityID string) (*evolution.Outcome, error)
}

// Dispatcher executes post-commit side effects.
type Dispatcher interface {
	Dispatch(ctx context.Context, effects []evolution.SideEffect)
}

// QueuedInteraction is the payload format of interaction queue tasks.
type QueuedInteraction struct {
	EntityID    string                   `json:"entity_id"`
	Interaction evolution.RawInteraction `json:"interaction"`
}

// Runner drains the interaction queue on an interval. The queue service's
// in-process guard prevents overlapping drains inside one instance; the
// distributed lock extends that to a single drainer across all instances.
type Runner struct {
	queues     *queue.Service
	locks      *lock.Service
	orch       Orchestrator
	dispatcher Dispatcher
	queueName  string
	batchSize  int
	interval   time.Duration
	logger     *zap.Logger
}

// NewRunner creates a queue drain runner.
func NewRunner(queues *queue.Service, locks *lock.Service, orch Orchestrator, dispatcher Dispatcher, queueName string, batchSize int, interval time.Duration, logger *zap.Logger) *Runner {
	if batchSize <= 0 {
		batchSize = 50
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Runner{
		queues:     queues,
		locks:      locks,
		orch:       orch,
		dispatcher: dispatcher,
		queueName:  queueName,
		batchSize:  batchSize,
		interval:   interval,
		logger:     logger,
	}
}

// Start runs the drain loop until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.logger.Info("queue runner started",
		zap.String("queue", r.queueName),
		zap.Duration("interval", r.interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("queue runner stopped", zap.String("queue", r.queueName))
			return
		case <-ticker.C:
			if n, err := r.DrainOnce(ctx); err != nil {
				r.logger.Warn("drain failed",
					zap.String("queue", r.queueName), zap.Error(err))
			} else if n > 0 {
				r.logger.Info("drained interactions",
					zap.String("queue", r.queueName), zap.Int("count", n))
			}
		}
	}
}

// DrainOnce processes at most one batch. Another instance holding the
// drain lock is normal operation, reported as zero processed.
func (r *Runner) DrainOnce(ctx context.Context) (int, error) {
	processed := 0
	err := r.locks.RunExclusive(ctx, "queue-drain:"+r.queueName, lock.ExclusiveOptions{
		TTL:        time.Minute,
		MaxRetries: 1,
	}, func(ctx context.Context) error {
		n, err := r.queues.ProcessBatch(ctx, r.queueName, r.batchSize, r.processBatch)
		processed = n
		return err
	})
	if errors.Is(err, lock.ErrUnavailable) {
		return 0, nil
	}
	return processed, err
}

func (r *Runner) processBatch(ctx context.Context, tasks []*queue.Task) error {
	for _, task := range tasks {
		var qi QueuedInteraction
		if err := json.Unmarshal(task.Payload, &qi); err != nil {
			r.logger.Warn("dropping undecodable task",
				zap.String("task", task.ID), zap.Error(err))
			continue
		}

		outcome, err := r.orch.ProcessIncrement(ctx, qi.EntityID, qi.Interaction)
		if err != nil {
			// Per-task failures don't poison the batch. Rate-limited
			// or lock-contended tasks go back for a later drain.
			var rlErr *evolution.RateLimitError
			if errors.As(err, &rlErr) || errors.Is(err, lock.ErrUnavailable) {
				if _, reqErr := r.queues.Enqueue(ctx, r.queueName, qi, task.Priority-1); reqErr != nil {
					r.logger.Warn("re-enqueue failed",
						zap.String("entity", qi.EntityID), zap.Error(reqErr))
				}
				continue
			}
			r.logger.Warn("queued interaction failed",
				zap.String("entity", qi.EntityID), zap.Error(err))
			continue
		}
		if r.dispatcher != nil {
			r.dispatcher.Dispatch(ctx, outcome.PostCommit)
		}
	}
	return nil
}
