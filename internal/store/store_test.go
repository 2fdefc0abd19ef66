package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pawlab/petstate/internal/evolution"
	"github.com/pawlab/petstate/internal/pet"
	tcpg "github.com/testcontainers/testcontainers-go/modules/postgres"
	"go.uber.org/zap"
)

var storeTestNow = time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)

// startStore starts a PostgreSQL testcontainer and migrates the schema.
func startStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	container, err := tcpg.Run(ctx, "postgres:16-alpine",
		tcpg.WithDatabase("petstate_test"),
		tcpg.WithUsername("test"),
		tcpg.WithPassword("test"),
		tcpg.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("pg connection string: %v", err)
	}

	s, err := New(dsn, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.Migrate(ctx, "../../migrations"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func seedEntity(t *testing.T, s *Store, id string) *evolution.Entity {
	t.Helper()
	e := evolution.NewEntity(id, "owner-1", storeTestNow)
	if err := s.CreateEntity(context.Background(), e); err != nil {
		t.Fatalf("create entity: %v", err)
	}
	return e
}

func newAudit(entityID string, createdAt time.Time) *evolution.AuditRecord {
	return &evolution.AuditRecord{
		ID:           uuid.New().String(),
		EntityID:     entityID,
		Before:       map[string]float64{"friendliness": 0.5},
		After:        map[string]float64{"friendliness": 0.55},
		Trigger:      evolution.TriggerInteraction,
		ImpactScore:  0.1,
		Significance: pet.Minor,
		YearMonth:    createdAt.Format("2006-01"),
		DayOfWeek:    int(createdAt.Weekday()),
		Hour:         createdAt.Hour(),
		CreatedAt:    createdAt,
	}
}

func TestEntityRoundTrip(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	e, err := s.GetEntity(ctx, "pet-1")
	if err != nil {
		t.Fatalf("get entity: %v", err)
	}
	if e.OwnerID != "owner-1" {
		t.Errorf("owner = %q, want owner-1", e.OwnerID)
	}
	if e.Traits["friendliness"] != 0.5 {
		t.Errorf("friendliness = %v, want 0.5", e.Traits["friendliness"])
	}
	if e.State.Basic.Health != 100 {
		t.Errorf("health = %v, want 100", e.State.Basic.Health)
	}

	_, err = s.GetEntity(ctx, "ghost")
	if !errors.Is(err, evolution.ErrEntityNotFound) {
		t.Errorf("got %v, want ErrEntityNotFound", err)
	}
}

func TestTxCommitsTraitsAndAuditTogether(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	err := s.RunInTx(ctx, func(ctx context.Context, tx evolution.Tx) error {
		e, err := tx.GetEntity(ctx, "pet-1")
		if err != nil {
			return err
		}
		e.Traits["friendliness"] = 0.7
		e.UpdatedAt = storeTestNow.Add(time.Minute)
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, newAudit("pet-1", storeTestNow.Add(time.Minute)))
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}

	e, _ := s.GetEntity(ctx, "pet-1")
	if e.Traits["friendliness"] != 0.7 {
		t.Errorf("friendliness = %v, want 0.7", e.Traits["friendliness"])
	}
	records, err := s.AuditByEntity(ctx, "pet-1", 0)
	if err != nil {
		t.Fatalf("audit by entity: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("audit count = %d, want 1", len(records))
	}
}

func TestTxRollsBackBothWrites(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	boom := errors.New("validation failed late")
	err := s.RunInTx(ctx, func(ctx context.Context, tx evolution.Tx) error {
		e, err := tx.GetEntity(ctx, "pet-1")
		if err != nil {
			return err
		}
		e.Traits["friendliness"] = 0.9
		if err := tx.UpdateEntity(ctx, e); err != nil {
			return err
		}
		if err := tx.InsertAudit(ctx, newAudit("pet-1", storeTestNow)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want callback error", err)
	}

	e, _ := s.GetEntity(ctx, "pet-1")
	if e.Traits["friendliness"] != 0.5 {
		t.Errorf("friendliness = %v after rollback, want 0.5", e.Traits["friendliness"])
	}
	records, _ := s.AuditByEntity(ctx, "pet-1", 0)
	if len(records) != 0 {
		t.Errorf("audit count = %d after rollback, want 0", len(records))
	}
}

func TestAuditTailNewestFirst(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	for i := 0; i < 5; i++ {
		rec := newAudit("pet-1", storeTestNow.Add(time.Duration(i)*time.Minute))
		err := s.RunInTx(ctx, func(ctx context.Context, tx evolution.Tx) error {
			return tx.InsertAudit(ctx, rec)
		})
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	var tail []evolution.AuditRecord
	err := s.RunInTx(ctx, func(ctx context.Context, tx evolution.Tx) error {
		var err error
		tail, err = tx.AuditTail(ctx, "pet-1", 3)
		return err
	})
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 3 {
		t.Fatalf("tail length = %d, want 3", len(tail))
	}
	if !tail[0].CreatedAt.After(tail[1].CreatedAt) {
		t.Error("tail not ordered newest first")
	}
}

func TestBatchWriteCompleteness(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	records := make([]*evolution.AuditRecord, 250)
	for i := range records {
		records[i] = newAudit("pet-1", storeTestNow.Add(time.Duration(i)*time.Second))
	}

	result := s.BatchWriteAudit(ctx, records)
	if result.SuccessCount+result.FailureCount != len(records) {
		t.Errorf("success %d + failure %d != input %d",
			result.SuccessCount, result.FailureCount, len(records))
	}
	if result.FailureCount != 0 {
		t.Errorf("failures = %d (%v), want 0", result.FailureCount, result.Errors)
	}
	if result.BatchID == "" {
		t.Error("batch id empty")
	}

	stored, err := s.AuditByEntity(ctx, "pet-1", 0)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(stored) != 250 {
		t.Errorf("stored %d records, want 250", len(stored))
	}
	if stored[0].BatchID != result.BatchID {
		t.Errorf("batch id %q on record, want %q", stored[0].BatchID, result.BatchID)
	}
}

func TestBatchWritePartialFailure(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	// 150 records in two chunks; a duplicate id inside the second chunk
	// fails that chunk's transaction only.
	records := make([]*evolution.AuditRecord, 150)
	for i := range records {
		records[i] = newAudit("pet-1", storeTestNow.Add(time.Duration(i)*time.Second))
	}
	records[120].ID = records[110].ID

	result := s.BatchWriteAudit(ctx, records)
	if result.SuccessCount != 100 {
		t.Errorf("successCount = %d, want 100", result.SuccessCount)
	}
	if result.FailureCount != 50 {
		t.Errorf("failureCount = %d, want 50", result.FailureCount)
	}
	if result.SuccessCount+result.FailureCount != len(records) {
		t.Error("counts do not cover the input")
	}
	if len(result.Errors) != 1 {
		t.Errorf("errors = %v, want one chunk error", result.Errors)
	}

	stored, _ := s.AuditByEntity(ctx, "pet-1", 0)
	if len(stored) != 100 {
		t.Errorf("stored %d records, want 100 (first chunk only)", len(stored))
	}
}

func TestBatchReadMergesEntities(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()

	for _, id := range []string{"pet-a", "pet-b", "pet-c"} {
		seedEntity(t, s, id)
		var recs []*evolution.AuditRecord
		for i := 0; i < 4; i++ {
			recs = append(recs, newAudit(id, storeTestNow.Add(time.Duration(i)*time.Minute)))
		}
		if res := s.BatchWriteAudit(ctx, recs); res.FailureCount != 0 {
			t.Fatalf("seed batch for %s failed: %v", id, res.Errors)
		}
	}

	got, err := s.BatchReadAudit(ctx, []string{"pet-a", "pet-b", "pet-c", "pet-missing"},
		BatchReadOptions{Parallel: 2})
	if err != nil {
		t.Fatalf("batch read: %v", err)
	}
	for _, id := range []string{"pet-a", "pet-b", "pet-c"} {
		if len(got[id]) != 4 {
			t.Errorf("%s: %d records, want 4", id, len(got[id]))
		}
	}
	if len(got["pet-missing"]) != 0 {
		t.Errorf("missing entity returned %d records", len(got["pet-missing"]))
	}
}

// fakeAuditKV is an in-memory audit cache recording write counts.
type fakeAuditKV struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int
}

func newFakeAuditKV() *fakeAuditKV {
	return &fakeAuditKV{data: make(map[string][]byte)}
}

func (f *fakeAuditKV) GetJSON(_ context.Context, key string, dest any) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (f *fakeAuditKV) SetJSON(_ context.Context, key string, value any, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	f.data[key] = raw
	f.sets++
	return nil
}

func TestBatchReadCacheReadThrough(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	var recs []*evolution.AuditRecord
	for i := 0; i < 3; i++ {
		recs = append(recs, newAudit("pet-1", storeTestNow.Add(time.Duration(i)*time.Minute)))
	}
	if res := s.BatchWriteAudit(ctx, recs); res.FailureCount != 0 {
		t.Fatalf("seed batch failed: %v", res.Errors)
	}

	kv := newFakeAuditKV()
	s.SetAuditCache(kv)
	opts := BatchReadOptions{UseCache: true}

	// Miss goes to the database and fills the cache.
	got, err := s.BatchReadAudit(ctx, []string{"pet-1"}, opts)
	if err != nil {
		t.Fatalf("batch read: %v", err)
	}
	if len(got["pet-1"]) != 3 {
		t.Fatalf("read %d records, want 3", len(got["pet-1"]))
	}
	if kv.sets != 1 {
		t.Fatalf("cache fills = %d, want 1", kv.sets)
	}

	// Replace the cached value; a hit must return it without touching
	// the database or rewriting the cache.
	planted := []evolution.AuditRecord{*recs[0]}
	raw, _ := json.Marshal(planted)
	kv.mu.Lock()
	kv.data["audit:pet-1"] = raw
	kv.mu.Unlock()

	got, err = s.BatchReadAudit(ctx, []string{"pet-1"}, opts)
	if err != nil {
		t.Fatalf("batch read from cache: %v", err)
	}
	if len(got["pet-1"]) != 1 || got["pet-1"][0].ID != recs[0].ID {
		t.Errorf("hit returned %d records, want the planted single record", len(got["pet-1"]))
	}
	if kv.sets != 1 {
		t.Errorf("cache fills after hit = %d, want still 1", kv.sets)
	}

	// Reads without the option bypass the cache entirely.
	got, err = s.BatchReadAudit(ctx, []string{"pet-1"}, BatchReadOptions{})
	if err != nil {
		t.Fatalf("batch read uncached: %v", err)
	}
	if len(got["pet-1"]) != 3 {
		t.Errorf("uncached read %d records, want 3", len(got["pet-1"]))
	}
}

func TestPurgeExpiredAudit(t *testing.T) {
	s := startStore(t)
	ctx := context.Background()
	seedEntity(t, s, "pet-1")

	expired := newAudit("pet-1", storeTestNow)
	past := storeTestNow.Add(-time.Hour)
	expired.ExpiresAt = &past

	live := newAudit("pet-1", storeTestNow)
	future := storeTestNow.Add(24 * time.Hour)
	live.ExpiresAt = &future

	err := s.RunInTx(ctx, func(ctx context.Context, tx evolution.Tx) error {
		if err := tx.InsertAudit(ctx, expired); err != nil {
			return err
		}
		return tx.InsertAudit(ctx, live)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	n, err := s.PurgeExpiredAudit(ctx, storeTestNow)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}

	remaining, _ := s.AuditByEntity(ctx, "pet-1", 0)
	if len(remaining) != 1 || remaining[0].ID != live.ID {
		t.Errorf("remaining = %d records, want only the live one", len(remaining))
	}
}
