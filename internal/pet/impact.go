package pet

import "math"

// Significance is the qualitative bucket derived from an impact score.
type Significance string

const (
	Minor    Significance = "minor"
	Moderate Significance = "moderate"
	Major    Significance = "major"
)

// changeNoiseFloor filters float jitter out of the per-attribute deltas.
const changeNoiseFloor = 0.01

// Impact quantifies a state transition.
type Impact struct {
	Changes      map[string]float64 `json:"changes"`
	ImpactScore  float64            `json:"impact_score"`
	Significance Significance       `json:"significance"`
}

// ClassifyImpact compares two states and scores the transition. The score
// is the mean absolute delta normalized by the attribute range, capped at 1.
func ClassifyImpact(before, after State) Impact {
	beforeAttrs := before.Attributes()
	changes := make(map[string]float64)
	var totalAbs, maxAbs float64

	for name, afterVal := range after.Attributes() {
		delta := afterVal - beforeAttrs[name]
		if math.Abs(delta) <= changeNoiseFloor {
			continue
		}
		changes[name] = delta
		totalAbs += math.Abs(delta)
		if math.Abs(delta) > maxAbs {
			maxAbs = math.Abs(delta)
		}
	}

	n := len(changes)
	var score float64
	if n > 0 {
		score = math.Min(totalAbs/(float64(n)*100), 1.0)
	}

	sig := Minor
	switch {
	case score > 0.3 || maxAbs > 20 || n > 5:
		sig = Major
	case score > 0.1 || maxAbs > 10 || n > 2:
		sig = Moderate
	}

	return Impact{Changes: changes, ImpactScore: score, Significance: sig}
}
