// Package queue provides a priority queue on the coordination store's
// sorted sets, with single-runner batch draining.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the sorted-set capability the queue needs.
type Store interface {
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZPopMax(ctx context.Context, key string) (member string, score float64, ok bool, err error)
	ZCard(ctx context.Context, key string) (int64, error)
}

// Task is a queued unit of work. Higher priority is dequeued first; order
// among equal priorities follows the store's member ordering and is not
// guaranteed to be insertion order.
type Task struct {
	ID         string          `json:"id"`
	Payload    json.RawMessage `json:"payload"`
	Priority   float64         `json:"priority"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// Info describes a queue's current state.
type Info struct {
	Length     int64 `json:"length"`
	Processing bool  `json:"processing"`
}

const keyPrefix = "queue:"

// Service manages named priority queues. The draining map is the
// process-local single-runner guard: it does not coordinate across
// instances; callers that need cross-instance exclusivity wrap
// ProcessBatch in the distributed lock.
type Service struct {
	store    Store
	mu       sync.Mutex
	draining map[string]bool
	logger   *zap.Logger
}

// New creates a queue service.
func New(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, draining: make(map[string]bool), logger: logger}
}

// Enqueue adds a payload to the named queue and returns the task id.
func (s *Service) Enqueue(ctx context.Context, queueName string, payload any, priority float64) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	task := Task{
		ID:         uuid.New().String(),
		Payload:    raw,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	}
	member, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode task: %w", err)
	}
	if err := s.store.ZAdd(ctx, keyPrefix+queueName, priority, string(member)); err != nil {
		return "", fmt.Errorf("enqueue %s: %w", queueName, err)
	}
	return task.ID, nil
}

// Dequeue pops the highest-priority task, or nil when the queue is empty.
func (s *Service) Dequeue(ctx context.Context, queueName string) (*Task, error) {
	member, _, ok, err := s.store.ZPopMax(ctx, keyPrefix+queueName)
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", queueName, err)
	}
	if !ok {
		return nil, nil
	}
	var task Task
	if err := json.Unmarshal([]byte(member), &task); err != nil {
		return nil, fmt.Errorf("decode task from %s: %w", queueName, err)
	}
	return &task, nil
}

// Processor handles a drained batch in one call.
type Processor func(ctx context.Context, tasks []*Task) error

// ProcessBatch drains up to batchSize tasks and hands them to processor in
// a single call. A concurrent drain of the same queue name in this process
// returns 0 immediately instead of double-processing. Processor errors
// propagate after the guard is cleared.
func (s *Service) ProcessBatch(ctx context.Context, queueName string, batchSize int, processor Processor) (int, error) {
	s.mu.Lock()
	if s.draining[queueName] {
		s.mu.Unlock()
		return 0, nil
	}
	s.draining[queueName] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.draining, queueName)
		s.mu.Unlock()
	}()

	var tasks []*Task
	for len(tasks) < batchSize {
		task, err := s.Dequeue(ctx, queueName)
		if err != nil {
			return 0, err
		}
		if task == nil {
			break
		}
		tasks = append(tasks, task)
	}
	if len(tasks) == 0 {
		return 0, nil
	}

	if err := processor(ctx, tasks); err != nil {
		return 0, fmt.Errorf("process batch %s: %w", queueName, err)
	}
	s.logger.Debug("batch processed",
		zap.String("queue", queueName), zap.Int("count", len(tasks)))
	return len(tasks), nil
}

// QueueInfo reports queue length and whether a drain is in flight here.
func (s *Service) QueueInfo(ctx context.Context, queueName string) (Info, error) {
	length, err := s.store.ZCard(ctx, keyPrefix+queueName)
	if err != nil {
		return Info{}, fmt.Errorf("queue info %s: %w", queueName, err)
	}
	s.mu.Lock()
	processing := s.draining[queueName]
	s.mu.Unlock()
	return Info{Length: length, Processing: processing}, nil
}
