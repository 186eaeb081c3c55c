// Package engine talks to the remote collaborators of the companion: the
// playbook engine, the personalization resolver and the event sink.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/campus-companion/internal/domain"
)

// Well-known playbook ids with special handling.
const (
	PlaybookFreeform = "gemini"
	PlaybookCrisis   = "crisis"
)

// ErrRejected is returned when the engine answers with a non-success envelope.
var ErrRejected = errors.New("playbook engine rejected request")

// Request is sent to the playbook engine for every ready-state message.
type Request struct {
	Message string                `json:"message"`
	State   *domain.PlaybookState `json:"state,omitempty"`
}

// Reply is the structured payload of a successful engine response.
type Reply struct {
	PlaybookID     string                     `json:"playbook_id"`
	Stage          domain.Stage               `json:"stage"`
	Validation     string                     `json:"validation"`
	TriageQuestion string                     `json:"triage_question,omitempty"`
	ActionTitle    string                     `json:"action_title"`
	Actions        []string                   `json:"actions"`
	ResourceIDs    []string                   `json:"resource_ids"`
	Resources      []domain.SuggestedResource `json:"resources"`
	NextState      domain.PlaybookState       `json:"next_state"`
}

// Envelope is the engine wire response.
type Envelope struct {
	Success bool   `json:"success"`
	Data    *Reply `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Personalization is the resolver's answer for one playbook.
type Personalization struct {
	CopingStyle        string `json:"coping_style"`
	SuggestedRoutineID string `json:"suggested_routine_id,omitempty"`
	RepeatSuggestion   string `json:"repeat_suggestion,omitempty"`
}

// Event names sent to the event sink.
const (
	EventRoutineUsed     = "routine_used"
	EventRoutineRepeated = "routine_repeated"
	EventRoutineFeedback = "routine_feedback"
	EventCrisisDetected  = "crisis_detected"
	EventFollowUpFired   = "followup_fired"
)

// Event is a fire-and-forget analytics record.
type Event struct {
	Name      string         `json:"event"`
	DeviceID  string         `json:"device_id"`
	SessionID string         `json:"session_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Engine runs one exchange against the playbook engine.
type Engine interface {
	Run(ctx context.Context, req Request) (*Reply, error)
	Close() error
}

// Personalizer resolves personalization for a playbook. A nil result with a
// nil error means there is nothing to suggest.
type Personalizer interface {
	Resolve(ctx context.Context, deviceID, playbookID string) (*Personalization, error)
}

// EventLogger records events. Log must never block the caller or report failure.
type EventLogger interface {
	Log(event Event)
}

// Decode validates an envelope and returns its reply.
func (e *Envelope) Decode() (*Reply, error) {
	if !e.Success || e.Data == nil {
		if e.Error != "" {
			return nil, errors.Join(ErrRejected, errors.New(e.Error))
		}
		return nil, ErrRejected
	}
	return e.Data, nil
}
