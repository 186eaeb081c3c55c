// Package playbook owns the active playbook and folds engine replies into it.
package playbook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ashureev/campus-companion/internal/domain"
	"github.com/ashureev/campus-companion/internal/engine"
	"github.com/ashureev/campus-companion/internal/metrics"
	"github.com/ashureev/campus-companion/internal/store"
)

// ErrNoFeedbackTarget is returned when feedback arrives with nothing to rate.
var ErrNoFeedbackTarget = errors.New("no routine awaiting feedback")

// FollowUpCanceler cancels the pending follow-up.
type FollowUpCanceler interface {
	Cancel(ctx context.Context) error
}

// Deps are the collaborators of a Manager. Logger is expected to carry the
// device_id attribute already.
type Deps struct {
	Engine       engine.Engine
	Personalizer engine.Personalizer
	Events       engine.EventLogger
	FollowUps    FollowUpCanceler
	Logger       *slog.Logger
}

// Result is the outcome of one exchange.
type Result struct {
	Reply      string       `json:"reply"`
	PlaybookID string       `json:"playbook_id,omitempty"`
	Stage      domain.Stage `json:"stage,omitempty"`
	Crisis     bool         `json:"crisis"`
	Failed     bool         `json:"failed"`
}

// View is a read-only snapshot for rendering.
type View struct {
	State     *domain.PlaybookState      `json:"state,omitempty"`
	Resources []domain.SuggestedResource `json:"resources"`
	Repeat    *domain.RepeatSuggestion   `json:"repeat_suggestion,omitempty"`
	Feedback  *domain.FeedbackTarget     `json:"feedback_target,omitempty"`
	Chips     []Chip                     `json:"chips"`
}

// Manager holds the playbook state of one device. Callers serialize Run.
type Manager struct {
	dev          *store.Device
	engine       engine.Engine
	personalizer engine.Personalizer
	events       engine.EventLogger
	followUps    FollowUpCanceler
	logger       *slog.Logger

	mu        sync.RWMutex
	state     *domain.PlaybookState
	resources []domain.SuggestedResource
	repeat    *domain.RepeatSuggestion
	feedback  *domain.FeedbackTarget
}

// NewManager restores the persisted playbook state of dev, if any.
func NewManager(ctx context.Context, dev *store.Device, deps Deps) *Manager {
	if deps.Personalizer == nil {
		deps.Personalizer = engine.NopPersonalizer{}
	}
	if deps.Events == nil {
		deps.Events = engine.NopEventLogger{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default().With("device_id", dev.ID())
	}

	m := &Manager{
		dev:          dev,
		engine:       deps.Engine,
		personalizer: deps.Personalizer,
		events:       deps.Events,
		followUps:    deps.FollowUps,
		logger:       deps.Logger,
	}

	var st domain.PlaybookState
	if dev.Load(ctx, store.KeyPlaybook, &st) && (st.PlaybookID != "" || st.Stage != "") {
		m.state = &st
	}
	return m
}

// Run sends text with the current state to the engine and applies the reply.
// On failure the returned Result carries FailureMessage and no state changes.
func (m *Manager) Run(ctx context.Context, text string) (Result, error) {
	m.mu.RLock()
	var prior *domain.PlaybookState
	if m.state != nil {
		cp := *m.state
		prior = &cp
	}
	m.mu.RUnlock()

	reply, err := m.engine.Run(ctx, engine.Request{Message: text, State: prior})
	if err != nil {
		m.logger.Warn("Playbook engine call failed", "error", err)
		return Result{Reply: FailureMessage, Failed: true}, fmt.Errorf("run playbook: %w", err)
	}

	res := Result{
		Reply:      Assemble(reply),
		PlaybookID: reply.PlaybookID,
		Stage:      reply.Stage,
	}

	switch reply.PlaybookID {
	case engine.PlaybookFreeform:
		if err := m.clear(ctx); err != nil {
			m.logger.Warn("Failed to clear playbook state on freeform reply", "error", err)
		}

	case engine.PlaybookCrisis:
		res.Crisis = true
		if m.followUps != nil {
			if err := m.followUps.Cancel(ctx); err != nil {
				m.logger.Warn("Failed to cancel follow-up on crisis playbook", "error", err)
			}
		}
		m.mu.Lock()
		m.setStateLocked(ctx, reply.NextState)
		m.resources = reply.Resources
		m.repeat = nil
		m.feedback = nil
		m.mu.Unlock()
		metrics.CrisisDetections.WithLabelValues("engine").Inc()
		m.events.Log(engine.Event{Name: engine.EventCrisisDetected, DeviceID: m.dev.ID(), Payload: map[string]any{"source": "engine"}})

	default:
		m.mu.Lock()
		m.setStateLocked(ctx, reply.NextState)
		m.resources = reply.Resources
		if reply.Stage == domain.StagePlan {
			target := domain.FeedbackTarget{RoutineID: reply.PlaybookID + "-plan", PlaybookID: reply.PlaybookID}
			m.feedback = &target
			m.events.Log(engine.Event{
				Name:     engine.EventRoutineUsed,
				DeviceID: m.dev.ID(),
				Payload:  map[string]any{"routine_id": target.RoutineID, "playbook_id": target.PlaybookID},
			})
		} else {
			m.feedback = nil
		}
		m.mu.Unlock()

		repeat := m.resolveRepeat(ctx, reply.PlaybookID)
		m.mu.Lock()
		m.repeat = repeat
		m.mu.Unlock()
	}
	return res, nil
}

func (m *Manager) resolveRepeat(ctx context.Context, playbookID string) *domain.RepeatSuggestion {
	p, err := m.personalizer.Resolve(ctx, m.dev.ID(), playbookID)
	if err != nil {
		m.logger.Debug("Personalization lookup failed", "playbook_id", playbookID, "error", err)
		return nil
	}
	if p == nil || p.SuggestedRoutineID == "" {
		return nil
	}
	return &domain.RepeatSuggestion{
		RoutineID:  p.SuggestedRoutineID,
		PlaybookID: playbookID,
		Message:    p.RepeatSuggestion,
	}
}

func (m *Manager) setStateLocked(ctx context.Context, next domain.PlaybookState) {
	st := next
	m.state = &st
	if err := m.dev.Save(ctx, store.KeyPlaybook, st); err != nil {
		m.logger.Warn("Failed to persist playbook state", "error", err)
	}
}

// Reset clears playbook state, resources, repeat suggestion and feedback
// target together, and deletes the persisted state.
func (m *Manager) Reset(ctx context.Context) error {
	return m.clear(ctx)
}

func (m *Manager) clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	m.resources = nil
	m.repeat = nil
	m.feedback = nil
	if err := m.dev.Delete(ctx, store.KeyPlaybook); err != nil {
		return fmt.Errorf("delete playbook state: %w", err)
	}
	return nil
}

// Stage returns the current stage, or "" when no playbook is active.
func (m *Manager) Stage() domain.Stage {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return ""
	}
	return m.state.Stage
}

// Chips returns the quick replies offered at the current stage.
func (m *Manager) Chips() []Chip {
	return ChipsFor(m.Stage())
}

// Snapshot returns a copy of everything the UI renders.
func (m *Manager) Snapshot() View {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v := View{Resources: append([]domain.SuggestedResource(nil), m.resources...)}
	if m.state != nil {
		st := *m.state
		v.State = &st
		v.Chips = ChipsFor(st.Stage)
	}
	if m.repeat != nil {
		r := *m.repeat
		v.Repeat = &r
	}
	if m.feedback != nil {
		f := *m.feedback
		v.Feedback = &f
	}
	return v
}

// RecordFeedback logs feedback on the current target and clears it.
func (m *Manager) RecordFeedback(helpful bool) (domain.FeedbackTarget, error) {
	m.mu.Lock()
	target := m.feedback
	m.feedback = nil
	m.mu.Unlock()

	if target == nil {
		return domain.FeedbackTarget{}, ErrNoFeedbackTarget
	}
	m.events.Log(engine.Event{
		Name:     engine.EventRoutineFeedback,
		DeviceID: m.dev.ID(),
		Payload:  map[string]any{"routine_id": target.RoutineID, "playbook_id": target.PlaybookID, "helpful": helpful},
	})
	return *target, nil
}

// TakeRepeatSuggestion returns and clears the repeat suggestion, logging that
// the student accepted it.
func (m *Manager) TakeRepeatSuggestion() (domain.RepeatSuggestion, bool) {
	m.mu.Lock()
	repeat := m.repeat
	m.repeat = nil
	m.mu.Unlock()

	if repeat == nil {
		return domain.RepeatSuggestion{}, false
	}
	m.events.Log(engine.Event{
		Name:     engine.EventRoutineRepeated,
		DeviceID: m.dev.ID(),
		Payload:  map[string]any{"routine_id": repeat.RoutineID, "playbook_id": repeat.PlaybookID},
	})
	return *repeat, true
}

// ClearRepeatSuggestion drops the repeat suggestion without logging.
func (m *Manager) ClearRepeatSuggestion() {
	m.mu.Lock()
	m.repeat = nil
	m.mu.Unlock()
}
