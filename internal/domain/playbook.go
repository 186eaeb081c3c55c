package domain

import "time"

// Stage is a step inside a playbook.
type Stage string

const (
	StageVent   Stage = "vent"
	StageTriage Stage = "triage"
	StagePlan   Stage = "plan"
)

// PlaybookState is the engine-owned state of the active playbook.
// Field names follow the engine wire format.
type PlaybookState struct {
	PlaybookID string         `json:"playbook_id,omitempty"`
	Stage      Stage          `json:"stage,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
}

// SuggestedResource is a campus or external resource returned by the engine.
type SuggestedResource struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
	URL         string   `json:"url,omitempty"`
	Location    string   `json:"location,omitempty"`
}

// RepeatSuggestion points at a routine the student previously found helpful.
type RepeatSuggestion struct {
	RoutineID  string `json:"routineId"`
	PlaybookID string `json:"playbookId"`
	Message    string `json:"message,omitempty"`
}

// FeedbackTarget is the routine the companion asks feedback about.
type FeedbackTarget struct {
	RoutineID  string `json:"routineId"`
	PlaybookID string `json:"playbookId"`
}

// FollowUpPayload is the single pending check-in.
type FollowUpPayload struct {
	DueAt   time.Time `json:"dueAt"`
	Message string    `json:"message"`
}
