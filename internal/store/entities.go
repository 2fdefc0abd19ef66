package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pawlab/petstate/internal/evolution"
)

// CreateEntity inserts a new entity row.
func (s *Store) CreateEntity(ctx context.Context, e *evolution.Entity) error {
	traits, state, err := encodeEntity(e)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO entities (id, owner_id, traits, state, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.OwnerID, traits, state, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create entity %s: %w", e.ID, err)
	}
	return nil
}

// GetEntity retrieves an entity outside any transaction.
func (s *Store) GetEntity(ctx context.Context, id string) (*evolution.Entity, error) {
	return getEntity(ctx, s.db, id)
}

// ListEntityIDs returns all entity ids, used by the decay sweeper.
func (s *Store) ListEntityIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM entities ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan entity id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountEntities returns the total entity count for the status endpoint.
func (s *Store) CountEntities(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM entities`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entities: %w", err)
	}
	return n, nil
}

// GetEntity implements evolution.Tx.
func (t *storeTx) GetEntity(ctx context.Context, id string) (*evolution.Entity, error) {
	return getEntity(ctx, t.tx, id)
}

// UpdateEntity implements evolution.Tx.
func (t *storeTx) UpdateEntity(ctx context.Context, e *evolution.Entity) error {
	traits, state, err := encodeEntity(e)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE entities SET traits = $2, state = $3, updated_at = $4
		WHERE id = $1`,
		e.ID, traits, state, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update entity %s: %w", e.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update entity %s: %w", e.ID, evolution.ErrEntityNotFound)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getEntity(ctx context.Context, q querier, id string) (*evolution.Entity, error) {
	var (
		e      evolution.Entity
		traits []byte
		state  []byte
	)
	err := q.QueryRow(ctx, `
		SELECT id, owner_id, traits, state, created_at, updated_at
		FROM entities WHERE id = $1`, id,
	).Scan(&e.ID, &e.OwnerID, &traits, &state, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("entity %s: %w", id, evolution.ErrEntityNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity %s: %w", id, err)
	}
	if err := json.Unmarshal(traits, &e.Traits); err != nil {
		return nil, fmt.Errorf("decode traits for %s: %w", id, err)
	}
	if err := json.Unmarshal(state, &e.State); err != nil {
		return nil, fmt.Errorf("decode state for %s: %w", id, err)
	}
	// Storage is outside the engine's control; clamp on the way in.
	e.State = e.State.Clamped()
	return &e, nil
}

func encodeEntity(e *evolution.Entity) (traits, state []byte, err error) {
	traits, err = json.Marshal(e.Traits)
	if err != nil {
		return nil, nil, fmt.Errorf("encode traits: %w", err)
	}
	state, err = json.Marshal(e.State)
	if err != nil {
		return nil, nil, fmt.Errorf("encode state: %w", err)
	}
	return traits, state, nil
}
