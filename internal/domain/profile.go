package domain

import (
	"time"
)

// Vibe is the tone preference picked during onboarding.
type Vibe string

const (
	VibeJokester Vibe = "jokester"
	VibeCozy     Vibe = "cozy"
	VibeBalanced Vibe = "balanced"
)

// Profile holds what the companion learned during onboarding.
type Profile struct {
	Name               string `json:"name,omitempty"`
	Vibe               Vibe   `json:"vibe,omitempty"`
	Drink              string `json:"drink,omitempty"`
	OnboardingComplete bool   `json:"onboardingComplete"`
}

// Memory is the rolling "what the student is dealing with" fact.
type Memory struct {
	LastTopic         string     `json:"lastTopic,omitempty"`
	LastGoal          string     `json:"lastGoal,omitempty"`
	LastInteractionAt *time.Time `json:"lastInteractionAt,omitempty"`
}

// MemoryUpdate is a partial memory change. Nil fields are left untouched.
type MemoryUpdate struct {
	LastTopic         *string
	LastGoal          *string
	LastInteractionAt *time.Time
}

// Empty reports whether the update carries no change at all.
func (u MemoryUpdate) Empty() bool {
	return u.LastTopic == nil && u.LastGoal == nil && u.LastInteractionAt == nil
}

// Apply merges an update into the memory and returns the result.
func (m Memory) Apply(u MemoryUpdate) Memory {
	if u.LastTopic != nil {
		m.LastTopic = *u.LastTopic
	}
	if u.LastGoal != nil {
		m.LastGoal = *u.LastGoal
	}
	if u.LastInteractionAt != nil {
		ts := *u.LastInteractionAt
		m.LastInteractionAt = &ts
	}
	return m
}
