package evolution

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pawlab/petstate/internal/lock"
	"github.com/pawlab/petstate/internal/pet"
	"github.com/pawlab/petstate/internal/ratelimit"
	"go.uber.org/zap"
)

var entityIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

// Side-effect kinds emitted after a commit.
const (
	EffectCacheInvalidate = "cache-invalidate"
	EffectNotify          = "notify"
)

// Notification event types.
const (
	EventEvolutionApplied = "evolution.applied"
	EventMilestone        = "evolution.milestone"
	EventDecayApplied     = "decay.applied"
)

// SideEffect is a post-commit action the caller dispatches. Keeping these
// out of the transaction keeps the commit path free of best-effort I/O.
type SideEffect struct {
	Kind      string   `json:"kind"`
	EntityID  string   `json:"entity_id"`
	OwnerID   string   `json:"owner_id,omitempty"`
	EventType string   `json:"event_type,omitempty"`
	Payload   any      `json:"payload,omitempty"`
	CacheKeys []string `json:"cache_keys,omitempty"`
}

// Outcome reports what a mutation attempt did. Applied is false when the
// engine rejects the transition (Reason set) or when a decay pass finds
// nothing to change; a committed interaction always reports Applied=true.
type Outcome struct {
	Applied    bool         `json:"applied"`
	Reason     string       `json:"reason,omitempty"`
	Impact     pet.Impact   `json:"impact"`
	Audit      *AuditRecord `json:"audit,omitempty"`
	PostCommit []SideEffect `json:"-"`
}

// Config tunes the orchestrator's admission and exclusion parameters.
type Config struct {
	RateLimit      int
	RateWindow     time.Duration
	LockTTL        time.Duration
	LockMaxRetries int
	RenewInterval  time.Duration
	AuditTailSize  int
	AuditRetention time.Duration // zero disables expiry stamping
}

// DefaultConfig mirrors production tuning: 10 evolutions per minute per
// entity, 30s leases renewed at 20s.
func DefaultConfig() Config {
	return Config{
		RateLimit:      10,
		RateWindow:     time.Minute,
		LockTTL:        30 * time.Second,
		LockMaxRetries: 5,
		RenewInterval:  20 * time.Second,
		AuditTailSize:  10,
		AuditRetention: 90 * 24 * time.Hour,
	}
}

// Orchestrator serializes mutations per entity. The distributed lock is
// the correctness mechanism: the transaction alone would serialize row
// writes, but classify+evolve+validate happen outside the store's own
// locking and must not interleave.
type Orchestrator struct {
	store      Store
	locks      *lock.Service
	limiter    *ratelimit.Service
	classifier Classifier
	engine     TraitEngine
	cfg        Config
	logger     *zap.Logger
	now        func() time.Time
}

// New creates an orchestrator.
func New(store Store, locks *lock.Service, limiter *ratelimit.Service, classifier Classifier, engine TraitEngine, cfg Config, logger *zap.Logger) *Orchestrator {
	if cfg.RateLimit <= 0 {
		cfg = DefaultConfig()
	}
	return &Orchestrator{
		store:      store,
		locks:      locks,
		limiter:    limiter,
		classifier: classifier,
		engine:     engine,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

func lockResource(entityID string) string { return "pet-evolution:" + entityID }

// ProcessIncrement runs one interaction through admission, exclusion, the
// trait engine, and transactional persistence. Rate-limit and
// lock-unavailable errors are retryable; an engine rejection is not an
// error; the outcome carries Applied=false and the reason.
func (o *Orchestrator) ProcessIncrement(ctx context.Context, entityID string, raw RawInteraction) (*Outcome, error) {
	if !entityIDPattern.MatchString(entityID) {
		return nil, &ValidationError{Field: "entityId", Reason: "must match [a-zA-Z0-9_-]{1,64}"}
	}
	if raw.Type == "" {
		return nil, &ValidationError{Field: "interaction", Reason: "type is required"}
	}

	limitKey := "evolution:" + entityID
	res := o.limiter.CheckSlidingWindow(ctx, limitKey, o.cfg.RateLimit, o.cfg.RateWindow)
	if !res.Allowed {
		return nil, &RateLimitError{Key: limitKey, ResetTime: res.ResetTime}
	}

	outcome := &Outcome{}
	err := o.locks.RunExclusive(ctx, lockResource(entityID), lock.ExclusiveOptions{
		TTL:           o.cfg.LockTTL,
		MaxRetries:    o.cfg.LockMaxRetries,
		AutoRenew:     true,
		RenewInterval: o.cfg.RenewInterval,
	}, func(ctx context.Context) error {
		return o.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			return o.evolveInTx(ctx, tx, entityID, raw, outcome)
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (o *Orchestrator) evolveInTx(ctx context.Context, tx Tx, entityID string, raw RawInteraction, outcome *Outcome) error {
	entity, err := tx.GetEntity(ctx, entityID)
	if err != nil {
		return fmt.Errorf("load entity: %w", err)
	}
	tail, err := tx.AuditTail(ctx, entityID, o.cfg.AuditTailSize)
	if err != nil {
		return fmt.Errorf("load audit tail: %w", err)
	}

	event, err := o.classifier.Classify(ctx, raw)
	if err != nil {
		return fmt.Errorf("classify interaction: %w", err)
	}

	now := o.now()
	result, err := o.engine.Evolve(ctx, EvolveRequest{
		EntityID:      entity.ID,
		OwnerID:       entity.OwnerID,
		Events:        []pet.Event{event},
		CurrentTraits: entity.Traits,
		Context:       o.buildContext(now, tail),
	})
	if err != nil {
		return fmt.Errorf("trait engine: %w", err)
	}

	if reason, ok := validateResult(result); !ok {
		// Rejection commits nothing but is still a successful call.
		o.logger.Warn("evolution rejected",
			zap.String("entity", entityID),
			zap.String("reason", reason))
		outcome.Applied = false
		outcome.Reason = reason
		return nil
	}

	before := entity.Traits
	stateBefore := entity.State
	entity.Traits = result.NewTraits
	entity.State = pet.ApplyInteraction(entity.State, event, now)
	entity.UpdatedAt = now

	impact := pet.ClassifyImpact(stateBefore, entity.State)
	rec := o.newAuditRecord(entityID, before, result.NewTraits, TriggerInteraction, result.ImpactScore, now)
	rec.Significance = impact.Significance

	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return fmt.Errorf("persist traits: %w", err)
	}
	if err := tx.InsertAudit(ctx, rec); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}

	outcome.Applied = true
	outcome.Impact = impact
	outcome.Audit = rec
	outcome.PostCommit = o.postCommitEffects(entity, rec, EventEvolutionApplied)
	return nil
}

// ApplyDecay advances an entity's pet state by the time elapsed since its
// last update, under the same per-entity lock as interactions. No rate
// limiting: decay is internal, not client traffic.
func (o *Orchestrator) ApplyDecay(ctx context.Context, entityID string) (*Outcome, error) {
	if !entityIDPattern.MatchString(entityID) {
		return nil, &ValidationError{Field: "entityId", Reason: "must match [a-zA-Z0-9_-]{1,64}"}
	}

	outcome := &Outcome{}
	err := o.locks.RunExclusive(ctx, lockResource(entityID), lock.ExclusiveOptions{
		TTL:        o.cfg.LockTTL,
		MaxRetries: o.cfg.LockMaxRetries,
	}, func(ctx context.Context) error {
		return o.store.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
			entity, err := tx.GetEntity(ctx, entityID)
			if err != nil {
				return fmt.Errorf("load entity: %w", err)
			}

			now := o.now()
			before := entity.State
			entity.State = pet.Decay(before.Clamped(), now.Sub(before.LastUpdate), now)
			entity.UpdatedAt = now

			impact := pet.ClassifyImpact(before, entity.State)
			if err := tx.UpdateEntity(ctx, entity); err != nil {
				return fmt.Errorf("persist state: %w", err)
			}
			outcome.Impact = impact

			if len(impact.Changes) == 0 {
				// Only LastUpdate moved; not worth an audit row.
				return nil
			}

			rec := o.newAuditRecord(entityID, before.Attributes(), entity.State.Attributes(),
				TriggerDecay, impact.ImpactScore, now)
			rec.Significance = impact.Significance
			if err := tx.InsertAudit(ctx, rec); err != nil {
				return fmt.Errorf("append audit: %w", err)
			}

			outcome.Applied = true
			outcome.Audit = rec
			outcome.PostCommit = o.postCommitEffects(entity, rec, EventDecayApplied)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

func (o *Orchestrator) newAuditRecord(entityID string, before, after map[string]float64, trigger string, score float64, now time.Time) *AuditRecord {
	rec := &AuditRecord{
		ID:          uuid.New().String(),
		EntityID:    entityID,
		Before:      before,
		After:       after,
		Trigger:     trigger,
		ImpactScore: score,
		CreatedAt:   now,
	}
	rec.stampBuckets()
	if o.cfg.AuditRetention > 0 {
		exp := now.Add(o.cfg.AuditRetention)
		rec.ExpiresAt = &exp
	}
	return rec
}

func (o *Orchestrator) buildContext(now time.Time, tail []AuditRecord) Context {
	recent := make([]pet.Significance, 0, len(tail))
	for _, rec := range tail {
		recent = append(recent, rec.Significance)
	}
	return Context{
		Now:                now,
		TimeOfDay:          timeOfDay(now.Hour()),
		DayOfWeek:          now.Weekday(),
		RecentSignificance: recent,
	}
}

func (o *Orchestrator) postCommitEffects(entity *Entity, rec *AuditRecord, eventType string) []SideEffect {
	effects := []SideEffect{
		{
			Kind:     EffectCacheInvalidate,
			EntityID: entity.ID,
			CacheKeys: []string{
				"pet:settings:" + entity.ID,
				"pet:analysis:" + entity.ID,
			},
		},
		{
			Kind:      EffectNotify,
			EntityID:  entity.ID,
			OwnerID:   entity.OwnerID,
			EventType: eventType,
			Payload:   rec,
		},
	}
	if rec.Significance == pet.Major {
		effects = append(effects, SideEffect{
			Kind:      EffectNotify,
			EntityID:  entity.ID,
			OwnerID:   entity.OwnerID,
			EventType: EventMilestone,
			Payload:   rec,
		})
	}
	return effects
}

// validateResult checks the engine's contract: success flag, traits
// present, every value in [0,1].
func validateResult(r EvolveResult) (string, bool) {
	if !r.Success {
		if r.Reason != "" {
			return r.Reason, false
		}
		return "engine reported failure", false
	}
	if len(r.NewTraits) == 0 {
		return "engine returned no traits", false
	}
	for name, v := range r.NewTraits {
		if v < 0 || v > 1 {
			return fmt.Sprintf("trait %s out of range: %v", name, v), false
		}
	}
	return "", true
}

func timeOfDay(hour int) string {
	switch {
	case hour < 6:
		return "night"
	case hour < 12:
		return "morning"
	case hour < 18:
		return "afternoon"
	default:
		return "evening"
	}
}
