package pet

import "time"

// Classification buckets an interaction's overall tone.
type Classification string

const (
	Positive Classification = "positive"
	Negative Classification = "negative"
	Neutral  Classification = "neutral"
)

// Event is a structured interaction. Effects is sparse: attributes absent
// from the map are untouched. Deltas outside [-10,10] and intensities
// outside [0,1] are clamped rather than rejected.
type Event struct {
	Classification Classification     `json:"classification"`
	Intensity      float64            `json:"intensity"`
	Duration       float64            `json:"duration_seconds"`
	Effects        map[string]float64 `json:"effects"`
}

// ApplyInteraction applies an event's effects scaled by its intensity.
// Every touched attribute stays in [0,100]; untouched attributes keep
// their value exactly.
func ApplyInteraction(s State, ev Event, now time.Time) State {
	intensity := clamp(ev.Intensity, 0, 1)
	attrs := s.Attributes()
	for name, effect := range ev.Effects {
		current, ok := attrs[name]
		if !ok {
			continue
		}
		delta := clamp(effect, -10, 10) * intensity
		s = s.withAttribute(name, current+delta)
	}
	s.LastUpdate = now
	return s
}
