// Package evolution orchestrates pet state and personality trait
// mutations: admission control, distributed locking, transactional
// persistence, and the append-only audit trail.
package evolution

import (
	"time"

	"github.com/pawlab/petstate/internal/pet"
)

// Entity is a pet plus its personality traits. Traits are normalized to
// [0,1], unlike pet attributes which live in [0,100].
type Entity struct {
	ID        string             `json:"id"`
	OwnerID   string             `json:"owner_id"`
	Traits    map[string]float64 `json:"traits"`
	State     pet.State          `json:"state"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// Default trait names for a new entity.
var DefaultTraits = map[string]float64{
	"openness":      0.5,
	"friendliness":  0.5,
	"playfulness":   0.5,
	"independence":  0.5,
	"attentiveness": 0.5,
}

// NewEntity creates an entity with default traits and state.
func NewEntity(id, ownerID string, now time.Time) *Entity {
	traits := make(map[string]float64, len(DefaultTraits))
	for k, v := range DefaultTraits {
		traits[k] = v
	}
	return &Entity{
		ID:        id,
		OwnerID:   ownerID,
		Traits:    traits,
		State:     pet.NewState(now),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Audit triggers.
const (
	TriggerInteraction = "interaction"
	TriggerDecay       = "decay"
)

// AuditRecord is one immutable entry in the evolution audit log. Records
// are created once per committed transition and never mutated; expired
// records may be purged after the retention window.
type AuditRecord struct {
	ID           string             `json:"id"`
	EntityID     string             `json:"entity_id"`
	Before       map[string]float64 `json:"before"`
	After        map[string]float64 `json:"after"`
	Trigger      string             `json:"trigger"`
	ImpactScore  float64            `json:"impact_score"`
	Significance pet.Significance   `json:"significance"`
	YearMonth    string             `json:"year_month"`
	DayOfWeek    int                `json:"day_of_week"`
	Hour         int                `json:"hour"`
	BatchID      string             `json:"batch_id,omitempty"`
	ExpiresAt    *time.Time         `json:"expires_at,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
}

// stampBuckets fills the analytic grouping fields from the record's
// creation time.
func (r *AuditRecord) stampBuckets() {
	r.YearMonth = r.CreatedAt.Format("2006-01")
	r.DayOfWeek = int(r.CreatedAt.Weekday())
	r.Hour = r.CreatedAt.Hour()
}
