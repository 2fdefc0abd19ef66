// Package pet holds the pet state model and the pure decay/evolution
// engine. Nothing here performs I/O; every function takes its inputs,
// including the clock, and returns a new value.
package pet

import "time"

// Attribute names used in interaction effects and audit deltas.
const (
	AttrMood         = "mood"
	AttrEnergy       = "energy"
	AttrHunger       = "hunger"
	AttrHealth       = "health"
	AttrCuriosity    = "curiosity"
	AttrSocialDesire = "socialDesire"
	AttrCreativity   = "creativity"
	AttrFocusLevel   = "focusLevel"
)

// Basic are the primary care attributes, each in [0,100].
type Basic struct {
	Mood   float64 `json:"mood"`
	Energy float64 `json:"energy"`
	Hunger float64 `json:"hunger"`
	Health float64 `json:"health"`
}

// Advanced are the personality-adjacent attributes, each in [0,100].
type Advanced struct {
	Curiosity    float64 `json:"curiosity"`
	SocialDesire float64 `json:"social_desire"`
	Creativity   float64 `json:"creativity"`
	FocusLevel   float64 `json:"focus_level"`
}

// DecayRates are per-hour decay magnitudes for the basic attributes.
type DecayRates struct {
	Hunger float64 `json:"hunger"`
	Energy float64 `json:"energy"`
	Mood   float64 `json:"mood"`
}

// State is a pet's complete mutable state. It is a value type: transitions
// copy it, they never mutate in place.
type State struct {
	Basic            Basic      `json:"basic"`
	Advanced         Advanced   `json:"advanced"`
	LastUpdate       time.Time  `json:"last_update"`
	DecayRates       DecayRates `json:"decay_rates"`
	AutoDecayEnabled bool       `json:"auto_decay_enabled"`
}

// NewState returns the default state for a freshly created pet.
func NewState(now time.Time) State {
	return State{
		Basic:    Basic{Mood: 80, Energy: 80, Hunger: 20, Health: 100},
		Advanced: Advanced{Curiosity: 50, SocialDesire: 50, Creativity: 50, FocusLevel: 50},
		DecayRates: DecayRates{
			Hunger: 5,
			Energy: 3,
			Mood:   2,
		},
		AutoDecayEnabled: true,
		LastUpdate:       now,
	}
}

// Attributes flattens the state into attribute name -> value.
func (s State) Attributes() map[string]float64 {
	return map[string]float64{
		AttrMood:         s.Basic.Mood,
		AttrEnergy:       s.Basic.Energy,
		AttrHunger:       s.Basic.Hunger,
		AttrHealth:       s.Basic.Health,
		AttrCuriosity:    s.Advanced.Curiosity,
		AttrSocialDesire: s.Advanced.SocialDesire,
		AttrCreativity:   s.Advanced.Creativity,
		AttrFocusLevel:   s.Advanced.FocusLevel,
	}
}

// withAttribute returns a copy with one attribute replaced, clamped to [0,100].
// Unknown names are ignored.
func (s State) withAttribute(name string, value float64) State {
	v := clamp(value, 0, 100)
	switch name {
	case AttrMood:
		s.Basic.Mood = v
	case AttrEnergy:
		s.Basic.Energy = v
	case AttrHunger:
		s.Basic.Hunger = v
	case AttrHealth:
		s.Basic.Health = v
	case AttrCuriosity:
		s.Advanced.Curiosity = v
	case AttrSocialDesire:
		s.Advanced.SocialDesire = v
	case AttrCreativity:
		s.Advanced.Creativity = v
	case AttrFocusLevel:
		s.Advanced.FocusLevel = v
	}
	return s
}

// Clamped returns a copy with every attribute forced into [0,100].
// Transitions clamp as they go; this is the defensive entry point for
// state loaded from storage.
func (s State) Clamped() State {
	for name, v := range s.Attributes() {
		s = s.withAttribute(name, v)
	}
	return s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
