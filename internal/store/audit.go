package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pawlab/petstate/internal/evolution"
)

const auditColumns = `id, entity_id, before_snapshot, after_snapshot, trigger_type,
	impact_score, significance, year_month, day_of_week, hour, batch_id, expires_at, created_at`

// InsertAudit implements evolution.Tx.
func (t *storeTx) InsertAudit(ctx context.Context, rec *evolution.AuditRecord) error {
	return insertAudit(ctx, t.tx, rec)
}

// AuditTail implements evolution.Tx: the most recent records first.
func (t *storeTx) AuditTail(ctx context.Context, entityID string, limit int) ([]evolution.AuditRecord, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+auditColumns+`
		FROM evolution_audit
		WHERE entity_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit tail %s: %w", entityID, err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// AuditByEntity reads an entity's audit records outside a transaction,
// newest first, up to limit (0 means no limit).
func (s *Store) AuditByEntity(ctx context.Context, entityID string, limit int) ([]evolution.AuditRecord, error) {
	q := `SELECT ` + auditColumns + `
		FROM evolution_audit
		WHERE entity_id = $1
		ORDER BY created_at DESC`
	args := []any{entityID}
	if limit > 0 {
		q += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit by entity %s: %w", entityID, err)
	}
	defer rows.Close()
	return scanAuditRows(rows)
}

// PurgeExpiredAudit deletes records whose retention window has passed.
func (s *Store) PurgeExpiredAudit(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM evolution_audit
		WHERE expires_at IS NOT NULL AND expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("purge expired audit: %w", err)
	}
	return tag.RowsAffected(), nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, rec *evolution.AuditRecord) error {
	before, err := json.Marshal(rec.Before)
	if err != nil {
		return fmt.Errorf("encode before snapshot: %w", err)
	}
	after, err := json.Marshal(rec.After)
	if err != nil {
		return fmt.Errorf("encode after snapshot: %w", err)
	}
	var batchID *string
	if rec.BatchID != "" {
		batchID = &rec.BatchID
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO evolution_audit (`+auditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.EntityID, before, after, rec.Trigger,
		rec.ImpactScore, string(rec.Significance), rec.YearMonth,
		rec.DayOfWeek, rec.Hour, batchID, rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", rec.ID, err)
	}
	return nil
}

func scanAuditRows(rows pgx.Rows) ([]evolution.AuditRecord, error) {
	var records []evolution.AuditRecord
	for rows.Next() {
		var (
			rec     evolution.AuditRecord
			before  []byte
			after   []byte
			batchID *string
		)
		err := rows.Scan(&rec.ID, &rec.EntityID, &before, &after, &rec.Trigger,
			&rec.ImpactScore, &rec.Significance, &rec.YearMonth,
			&rec.DayOfWeek, &rec.Hour, &batchID, &rec.ExpiresAt, &rec.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		if err := json.Unmarshal(before, &rec.Before); err != nil {
			return nil, fmt.Errorf("decode before snapshot %s: %w", rec.ID, err)
		}
		if err := json.Unmarshal(after, &rec.After); err != nil {
			return nil, fmt.Errorf("decode after snapshot %s: %w", rec.ID, err)
		}
		if batchID != nil {
			rec.BatchID = *batchID
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}
