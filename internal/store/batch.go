package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pawlab/petstate/internal/evolution"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// batchChunkSize is how many audit records go into one transaction.
const batchChunkSize = 100

// BatchResult aggregates a bulk write. SuccessCount+FailureCount always
// equals the input length; a failed chunk counts all its records as
// failures and the remaining chunks still run.
type BatchResult struct {
	BatchID      string   `json:"batch_id"`
	SuccessCount int      `json:"success_count"`
	FailureCount int      `json:"failure_count"`
	Errors       []string `json:"errors,omitempty"`
}

// BatchWriteAudit persists audit records in chunk-local transactions.
// Not all-or-nothing: each chunk commits or fails independently.
func (s *Store) BatchWriteAudit(ctx context.Context, records []*evolution.AuditRecord) BatchResult {
	result := BatchResult{BatchID: uuid.New().String()}

	for start := 0; start < len(records); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
			for _, rec := range chunk {
				rec.BatchID = result.BatchID
				if err := insertAudit(ctx, tx, rec); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			result.FailureCount += len(chunk)
			result.Errors = append(result.Errors,
				fmt.Sprintf("chunk %d-%d: %v", start, end-1, err))
			s.logger.Warn("batch chunk failed",
				zap.String("batch", result.BatchID),
				zap.Int("start", start), zap.Error(err))
			continue
		}
		result.SuccessCount += len(chunk)
	}

	s.logger.Info("batch write complete",
		zap.String("batch", result.BatchID),
		zap.Int("success", result.SuccessCount),
		zap.Int("failure", result.FailureCount))
	return result
}

// BatchReadOptions tunes BatchReadAudit.
type BatchReadOptions struct {
	Parallel  int  // max concurrent chunk reads; <=1 means sequential
	UseCache  bool // consult and fill the audit cache
	PerEntity int  // records per entity; 0 means all
	CacheTTL  time.Duration
}

// auditKV is the cache capability BatchReadAudit uses when UseCache is set.
type auditKV interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// SetAuditCache attaches a cache backend for batch reads.
func (s *Store) SetAuditCache(kv auditKV) {
	s.auditCache = kv
}

// BatchReadAudit loads audit records for many entities, fanning chunk
// reads out across at most opts.Parallel goroutines.
func (s *Store) BatchReadAudit(ctx context.Context, entityIDs []string, opts BatchReadOptions) (map[string][]evolution.AuditRecord, error) {
	results := make(map[string][]evolution.AuditRecord, len(entityIDs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	limit := opts.Parallel
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, id := range entityIDs {
		g.Go(func() error {
			records, err := s.readEntityAudit(gctx, id, opts)
			if err != nil {
				return err
			}
			mu.Lock()
			results[id] = records
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("batch read audit: %w", err)
	}
	return results, nil
}

func (s *Store) readEntityAudit(ctx context.Context, entityID string, opts BatchReadOptions) ([]evolution.AuditRecord, error) {
	cacheKey := "audit:" + entityID
	if opts.UseCache && s.auditCache != nil {
		var cached []evolution.AuditRecord
		hit, err := s.auditCache.GetJSON(ctx, cacheKey, &cached)
		if err != nil {
			s.logger.Warn("audit cache read failed", zap.String("entity", entityID), zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	records, err := s.AuditByEntity(ctx, entityID, opts.PerEntity)
	if err != nil {
		return nil, err
	}

	if opts.UseCache && s.auditCache != nil {
		ttl := opts.CacheTTL
		if ttl <= 0 {
			ttl = 5 * time.Minute
		}
		if err := s.auditCache.SetJSON(ctx, cacheKey, records, ttl); err != nil {
			s.logger.Warn("audit cache write failed", zap.String("entity", entityID), zap.Error(err))
		}
	}
	return records, nil
}
