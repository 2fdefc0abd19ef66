package evolution

import (
	"context"
	"math"

	"github.com/pawlab/petstate/internal/pet"
)

// Trait drift applied per event, scaled by intensity. Small on purpose:
// personality shifts over many interactions, not one.
const traitStep = 0.02

// classificationBias maps an event's tone onto per-trait drift direction.
var classificationBias = map[pet.Classification]map[string]float64{
	pet.Positive: {
		"friendliness":  1,
		"playfulness":   1,
		"openness":      0.5,
		"attentiveness": 0.5,
		"independence":  -0.25,
	},
	pet.Negative: {
		"friendliness":  -1,
		"playfulness":   -0.5,
		"openness":      -0.5,
		"independence":  1,
		"attentiveness": -0.25,
	},
}

// RuleEngine is the built-in deterministic trait engine: events nudge
// traits in the direction of their classification, scaled by intensity,
// clamped to [0,1]. It satisfies the same contract a remote engine would.
type RuleEngine struct{}

// NewRuleEngine creates the built-in trait engine.
func NewRuleEngine() *RuleEngine { return &RuleEngine{} }

// Evolve implements TraitEngine.
func (e *RuleEngine) Evolve(_ context.Context, req EvolveRequest) (EvolveResult, error) {
	newTraits := make(map[string]float64, len(req.CurrentTraits))
	adjustment := make(map[string]float64)
	for name, v := range req.CurrentTraits {
		newTraits[name] = v
	}

	var totalAbs float64
	for _, ev := range req.Events {
		bias, ok := classificationBias[ev.Classification]
		if !ok {
			continue
		}
		intensity := ev.Intensity
		if intensity < 0 {
			intensity = 0
		} else if intensity > 1 {
			intensity = 1
		}
		for trait, direction := range bias {
			current, ok := newTraits[trait]
			if !ok {
				continue
			}
			delta := direction * traitStep * intensity
			next := math.Min(1, math.Max(0, current+delta))
			adjustment[trait] += next - current
			totalAbs += math.Abs(next - current)
			newTraits[trait] = next
		}
	}

	score := math.Min(totalAbs/traitStep/float64(len(classificationBias[pet.Positive])+1), 1.0)
	return EvolveResult{
		Success:     true,
		NewTraits:   newTraits,
		Adjustment:  adjustment,
		ImpactScore: score,
	}, nil
}
