package evolution

import (
	"context"
	"time"

	"github.com/pawlab/petstate/internal/pet"
)

// RawInteraction is an unclassified interaction as received from the
// outer boundary.
type RawInteraction struct {
	Type            string  `json:"type"`
	Message         string  `json:"message,omitempty"`
	Intensity       float64 `json:"intensity"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// Classifier turns a raw interaction into a structured event. A failing
// classifier aborts the evolution the same way a transaction failure does.
type Classifier interface {
	Classify(ctx context.Context, raw RawInteraction) (pet.Event, error)
}

// Context carries the temporal and environmental features the trait
// engine conditions on.
type Context struct {
	Now                time.Time          `json:"now"`
	TimeOfDay          string             `json:"time_of_day"` // morning/afternoon/evening/night
	DayOfWeek          time.Weekday       `json:"day_of_week"`
	RecentSignificance []pet.Significance `json:"recent_significance"`
	Environment        map[string]string  `json:"environment,omitempty"`
}

// EvolveRequest is the input to the trait engine.
type EvolveRequest struct {
	EntityID      string
	OwnerID       string
	Events        []pet.Event
	CurrentTraits map[string]float64
	Context       Context
}

// EvolveResult is the trait engine's output. NewTraits must all be in
// [0,1]; the orchestrator rejects anything else.
type EvolveResult struct {
	Success     bool
	NewTraits   map[string]float64
	Adjustment  map[string]float64
	ImpactScore float64
	Reason      string
}

// TraitEngine computes trait evolution. Implementations may be remote.
type TraitEngine interface {
	Evolve(ctx context.Context, req EvolveRequest) (EvolveResult, error)
}

// PushResult reports a notification delivery attempt.
type PushResult struct {
	Success     bool     `json:"success"`
	DeliveredTo []string `json:"delivered_to"`
}

// Notifier pushes typed events to notification consumers. At-most-once,
// best-effort; the orchestrator never retries or rolls back on failure.
type Notifier interface {
	Push(ctx context.Context, entityID, ownerID, eventType string, payload any) (PushResult, error)
}

// Cache invalidates cached derived data for an entity after a commit.
type Cache interface {
	Invalidate(ctx context.Context, keys ...string) error
}

// Tx is the set of reads and writes available inside one store transaction.
type Tx interface {
	GetEntity(ctx context.Context, id string) (*Entity, error)
	AuditTail(ctx context.Context, entityID string, limit int) ([]AuditRecord, error)
	UpdateEntity(ctx context.Context, e *Entity) error
	InsertAudit(ctx context.Context, rec *AuditRecord) error
}

// Store opens transactions. The callback's writes commit atomically or
// not at all.
type Store interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
