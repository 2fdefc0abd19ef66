package pet

import "time"

// advancedDecayPerHour is the fixed drift rate of the advanced attributes
// toward 0, independent of the configured DecayRates.
const advancedDecayPerHour = 0.05

// Decay advances the state by elapsed time. Hunger rises, energy and mood
// fall at the configured per-hour rates, and the advanced attributes drift
// slowly toward 0. With auto-decay disabled or non-positive elapsed time
// only LastUpdate is refreshed.
func Decay(s State, elapsed time.Duration, now time.Time) State {
	if !s.AutoDecayEnabled || elapsed <= 0 {
		s.LastUpdate = now
		return s
	}

	hours := elapsed.Hours()

	s.Basic.Hunger = clamp(s.Basic.Hunger+s.DecayRates.Hunger*hours, 0, 100)
	s.Basic.Energy = clamp(s.Basic.Energy-s.DecayRates.Energy*hours, 0, 100)
	s.Basic.Mood = clamp(s.Basic.Mood-s.DecayRates.Mood*hours, 0, 100)

	drift := advancedDecayPerHour * hours
	s.Advanced.Curiosity = clamp(s.Advanced.Curiosity-drift, 0, 100)
	s.Advanced.SocialDesire = clamp(s.Advanced.SocialDesire-drift, 0, 100)
	s.Advanced.Creativity = clamp(s.Advanced.Creativity-drift, 0, 100)
	s.Advanced.FocusLevel = clamp(s.Advanced.FocusLevel-drift, 0, 100)

	s.LastUpdate = now
	return s
}
