package evolution

import (
	"context"

	"github.com/pawlab/petstate/internal/pet"
)

// interactionEffects maps interaction types to their attribute deltas.
// Deltas are pre-intensity; ApplyInteraction scales them.
var interactionEffects = map[string]struct {
	class   pet.Classification
	effects map[string]float64
}{
	"feed": {pet.Positive, map[string]float64{
		pet.AttrHunger: -10, pet.AttrMood: 3, pet.AttrEnergy: 2,
	}},
	"play": {pet.Positive, map[string]float64{
		pet.AttrMood: 8, pet.AttrEnergy: -5, pet.AttrSocialDesire: 4, pet.AttrCreativity: 3,
	}},
	"pet": {pet.Positive, map[string]float64{
		pet.AttrMood: 5, pet.AttrSocialDesire: 3,
	}},
	"train": {pet.Positive, map[string]float64{
		pet.AttrFocusLevel: 6, pet.AttrEnergy: -4, pet.AttrCuriosity: 3,
	}},
	"explore": {pet.Positive, map[string]float64{
		pet.AttrCuriosity: 8, pet.AttrEnergy: -6, pet.AttrMood: 4,
	}},
	"scold": {pet.Negative, map[string]float64{
		pet.AttrMood: -6, pet.AttrSocialDesire: -3,
	}},
	"ignore": {pet.Negative, map[string]float64{
		pet.AttrMood: -3, pet.AttrSocialDesire: -5,
	}},
	"rest": {pet.Neutral, map[string]float64{
		pet.AttrEnergy: 8,
	}},
}

// RuleClassifier maps known interaction types onto fixed effect tables.
// Unknown types classify as neutral with no effects rather than failing,
// so novel interaction names flow through as no-ops.
type RuleClassifier struct{}

// NewRuleClassifier creates the built-in classifier.
func NewRuleClassifier() *RuleClassifier { return &RuleClassifier{} }

// Classify implements Classifier.
func (c *RuleClassifier) Classify(_ context.Context, raw RawInteraction) (pet.Event, error) {
	intensity := raw.Intensity
	if intensity <= 0 {
		intensity = 0.5
	}
	ev := pet.Event{
		Classification: pet.Neutral,
		Intensity:      intensity,
		Duration:       raw.DurationSeconds,
		Effects:        map[string]float64{},
	}
	if known, ok := interactionEffects[raw.Type]; ok {
		ev.Classification = known.class
		for attr, delta := range known.effects {
			ev.Effects[attr] = delta
		}
	}
	return ev, nil
}
