// Package companion wires the per-device session: crisis gate, onboarding,
// memory, follow-ups and the playbook manager behind one owned object.
package companion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ashureev/campus-companion/internal/conversation"
	"github.com/ashureev/campus-companion/internal/crisis"
	"github.com/ashureev/campus-companion/internal/domain"
	"github.com/ashureev/campus-companion/internal/engine"
	"github.com/ashureev/campus-companion/internal/followup"
	"github.com/ashureev/campus-companion/internal/memory"
	"github.com/ashureev/campus-companion/internal/metrics"
	"github.com/ashureev/campus-companion/internal/onboarding"
	"github.com/ashureev/campus-companion/internal/playbook"
	"github.com/ashureev/campus-companion/internal/store"
)

// DefaultTypingDelay is the pause before an assistant message is appended.
const DefaultTypingDelay = 700 * time.Millisecond

var (
	// ErrBusy is returned while another message from the same device is in flight.
	ErrBusy = errors.New("a message is already being processed")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrUnknownChip is returned for a chip the current stage does not offer.
	ErrUnknownChip = errors.New("chip not offered at current stage")
	// ErrNothingToRepeat is returned when no repeat suggestion is pending.
	ErrNothingToRepeat = errors.New("no routine to repeat")
	// ErrOnboarding is returned for playbook actions before onboarding completes.
	ErrOnboarding = errors.New("onboarding not complete")
	// ErrDisposed is returned by a session evicted from its registry. Callers
	// fetch the session again and retry.
	ErrDisposed = errors.New("session disposed")
)

const repeatRequest = "Let's do the routine that helped last time."

// Deps are the collaborators shared by every session.
type Deps struct {
	Repo         store.Repository
	Detector     *crisis.Detector
	Engine       engine.Engine
	Personalizer engine.Personalizer
	Events       engine.EventLogger
	Transcript   conversation.TranscriptLogger
	Logger       *slog.Logger
}

// Options tune timing. Zero values pick the defaults, except TypingDelay
// which is honored as zero when NoTypingDelay is set.
type Options struct {
	TypingDelay   time.Duration
	NoTypingDelay bool
	FollowUpDelay time.Duration
	Now           func() time.Time
}

// Reply is the assistant answer to one student action.
type Reply struct {
	Message  domain.Message   `json:"message"`
	Step     string           `json:"step"`
	Playbook *playbook.Result `json:"playbook,omitempty"`
}

// State is everything a client needs to render the session.
type State struct {
	DeviceID  string                  `json:"device_id"`
	SessionID string                  `json:"session_id"`
	Step      string                  `json:"step"`
	Profile   domain.Profile          `json:"profile"`
	Memory    domain.Memory           `json:"memory"`
	Messages  []domain.Message        `json:"messages"`
	Playbook  playbook.View           `json:"playbook"`
	FollowUp  *domain.FollowUpPayload `json:"followup,omitempty"`
	Loading   bool                    `json:"loading"`
}

// Session is the orchestrator of one device. Create with Open, release with Dispose.
type Session struct {
	deviceID  string
	sessionID string
	dev       *store.Device

	detector   *crisis.Detector
	events     engine.EventLogger
	transcript conversation.TranscriptLogger
	logger     *slog.Logger

	typingDelay time.Duration
	now         func() time.Time

	log       *conversation.Log
	followUps *followup.Scheduler
	playbook  *playbook.Manager

	inflight   *semaphore.Weighted
	loading    atomic.Bool
	disposed   atomic.Bool
	lastActive atomic.Int64

	mu      sync.RWMutex
	profile domain.Profile
	memory  domain.Memory
	step    onboarding.Step

	disposeOnce sync.Once
}

// Open loads the persisted state of deviceID, restores the pending follow-up
// and seeds the conversation with the prompt for the current step.
func Open(ctx context.Context, deviceID string, deps Deps, opts Options) (*Session, error) {
	if deps.Repo == nil || deps.Engine == nil {
		return nil, errors.New("companion: repository and engine are required")
	}
	if deps.Detector == nil {
		deps.Detector = crisis.Default()
	}
	if deps.Events == nil {
		deps.Events = engine.NopEventLogger{}
	}
	if deps.Transcript == nil {
		deps.Transcript = conversation.NopTranscript()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if opts.TypingDelay <= 0 && !opts.NoTypingDelay {
		opts.TypingDelay = DefaultTypingDelay
	}
	if opts.NoTypingDelay {
		opts.TypingDelay = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	logger := deps.Logger.With("device_id", deviceID)
	dev := store.ForDevice(deps.Repo, deviceID, logger)

	s := &Session{
		deviceID:    deviceID,
		dev:         dev,
		detector:    deps.Detector,
		events:      deps.Events,
		transcript:  deps.Transcript,
		logger:      logger,
		typingDelay: opts.TypingDelay,
		now:         opts.Now,
		log:         conversation.NewLog(),
		inflight:    semaphore.NewWeighted(1),
	}
	s.touch()

	s.sessionID = s.loadOrCreateSessionID(ctx)
	var profile domain.Profile
	if dev.Load(ctx, store.KeyProfile, &profile) {
		s.profile = profile
	}
	var mem domain.Memory
	if dev.Load(ctx, store.KeyMemory, &mem) {
		s.memory = mem
	}
	s.step = onboarding.StepFor(s.profile)

	s.followUps = followup.New(dev, deps.Detector, s.deliverFollowUp, followup.Options{
		Delay:       opts.FollowUpDelay,
		TypingDelay: opts.TypingDelay,
		Now:         opts.Now,
		Logger:      logger,
	})
	s.playbook = playbook.NewManager(ctx, dev, playbook.Deps{
		Engine:       deps.Engine,
		Personalizer: deps.Personalizer,
		Events:       deps.Events,
		FollowUps:    s.followUps,
		Logger:       logger,
	})

	s.appendAssistant(onboarding.Prompt(s.profile, s.step))

	if err := s.followUps.Restore(ctx); err != nil {
		logger.Warn("Failed to restore follow-up", "error", err)
	}

	logger.Info("Companion session opened", "session_id", s.sessionID, "step", s.step.String())
	return s, nil
}

func (s *Session) loadOrCreateSessionID(ctx context.Context) string {
	var id string
	if s.dev.Load(ctx, store.KeySessionID, &id) && id != "" {
		return id
	}
	id = uuid.NewString()
	if err := s.dev.Save(ctx, store.KeySessionID, id); err != nil {
		s.logger.Warn("Failed to persist session id", "error", err)
	}
	return id
}

// Dispose waits for an in-flight turn to finish, then disarms the follow-up
// timer. Persisted state is kept. Later calls fail with ErrDisposed.
func (s *Session) Dispose() {
	s.disposeOnce.Do(func() {
		s.disposed.Store(true)
		// Held for good: the latch never frees again.
		_ = s.inflight.Acquire(context.Background(), 1)
		s.followUps.Stop()
		s.logger.Info("Companion session disposed", "session_id", s.sessionID)
	})
}

// DeviceID returns the owning device.
func (s *Session) DeviceID() string { return s.deviceID }

// SessionID returns the stable per-device session identifier.
func (s *Session) SessionID() string { return s.sessionID }

// Log exposes the conversation log for streaming.
func (s *Session) Log() *conversation.Log { return s.log }

// LastActive reports when the session last handled a request.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// Loading reports whether a message is in flight.
func (s *Session) Loading() bool { return s.loading.Load() }

func (s *Session) touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// Send handles one free-text student message.
func (s *Session) Send(ctx context.Context, text, weather string) (*Reply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyMessage
	}
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()
	return s.send(ctx, text, weather)
}

func (s *Session) acquire() error {
	if !s.inflight.TryAcquire(1) {
		if s.disposed.Load() {
			return ErrDisposed
		}
		return ErrBusy
	}
	if s.disposed.Load() {
		s.inflight.Release(1)
		return ErrDisposed
	}
	s.loading.Store(true)
	s.touch()
	return nil
}

func (s *Session) release() {
	s.touch()
	s.loading.Store(false)
	s.inflight.Release(1)
}

func (s *Session) send(ctx context.Context, text, weather string) (*Reply, error) {
	text = strings.TrimSpace(text)
	s.appendMessage(domain.NewMessage(domain.RoleUser, text, s.now()))

	// The crisis gate runs before any other interpretation of the message.
	isCrisis := s.detector.IsCrisis(text)
	if isCrisis {
		s.handleCrisisSignal(ctx)
	}

	s.mu.RLock()
	step := s.step
	s.mu.RUnlock()

	if step != onboarding.StepReady {
		return s.onboard(ctx, step, text, isCrisis), nil
	}
	return s.converse(ctx, text, weather, isCrisis), nil
}

func (s *Session) handleCrisisSignal(ctx context.Context) {
	metrics.CrisisDetections.WithLabelValues("detector").Inc()
	s.logger.Warn("Crisis signal detected", "session_id", s.sessionID)
	if err := s.followUps.Cancel(ctx); err != nil {
		s.logger.Error("Failed to cancel follow-up after crisis signal", "error", err)
	}
	s.playbook.ClearRepeatSuggestion()
	s.events.Log(engine.Event{
		Name:      engine.EventCrisisDetected,
		DeviceID:  s.deviceID,
		SessionID: s.sessionID,
		Payload:   map[string]any{"source": "detector"},
	})
}

func (s *Session) onboard(ctx context.Context, step onboarding.Step, text string, isCrisis bool) *Reply {
	if isCrisis {
		msg := s.replyAfterPause(ctx, crisis.SupportMessage)
		return &Reply{Message: msg, Step: step.String()}
	}

	s.mu.Lock()
	out := onboarding.Advance(s.profile, step, text)
	s.profile = out.Profile
	s.step = out.Step
	profile := s.profile
	s.mu.Unlock()

	if out.Advanced {
		if err := s.dev.Save(ctx, store.KeyProfile, profile); err != nil {
			s.logger.Error("Failed to persist profile", "error", err)
		}
	}
	if out.Advanced && out.Step == onboarding.StepReady {
		metrics.OnboardingCompleted.Inc()
		if err := s.playbook.Reset(ctx); err != nil {
			s.logger.Warn("Failed to clear playbook state after onboarding", "error", err)
		}
		s.logger.Info("Onboarding complete", "vibe", profile.Vibe, "drink", profile.Drink)
	}

	msg := s.replyAfterPause(ctx, out.Reply)
	return &Reply{Message: msg, Step: out.Step.String()}
}

func (s *Session) converse(ctx context.Context, text, weather string, isCrisis bool) *Reply {
	update := memory.Derive(text, s.now(), isCrisis)

	s.mu.Lock()
	prior := s.memory
	if !update.Empty() {
		s.memory = s.memory.Apply(update)
	}
	mem := s.memory
	s.mu.Unlock()

	if !update.Empty() {
		if err := s.dev.Save(ctx, store.KeyMemory, mem); err != nil {
			s.logger.Error("Failed to persist memory", "error", err)
		}
	}
	if !isCrisis {
		if _, err := s.followUps.Schedule(ctx, mem, weather); err != nil {
			s.logger.Error("Failed to schedule follow-up", "error", err)
		}
	}

	res, err := s.playbook.Run(ctx, text)
	if err != nil {
		s.logger.Warn("Playbook exchange failed", "error", err)
		if isCrisis {
			res.Reply = crisis.SupportMessage
		}
	}
	if res.Crisis && !isCrisis && !update.Empty() {
		s.forgetTurn(ctx, prior)
	}

	msg := s.replyAfterPause(ctx, res.Reply)
	return &Reply{Message: msg, Step: onboarding.StepReady.String(), Playbook: &res}
}

// forgetTurn rolls topic and goal back to prior after the engine flagged a
// message the detector missed, so no later check-in quotes it.
func (s *Session) forgetTurn(ctx context.Context, prior domain.Memory) {
	s.mu.Lock()
	s.memory.LastTopic = prior.LastTopic
	s.memory.LastGoal = prior.LastGoal
	mem := s.memory
	s.mu.Unlock()

	if err := s.dev.Save(ctx, store.KeyMemory, mem); err != nil {
		s.logger.Error("Failed to persist memory", "error", err)
	}
}

// Chip handles a quick-reply tap. The reset chip resets the playbook and
// returns a nil Reply; every other chip is sent as a message.
func (s *Session) Chip(ctx context.Context, chipID string) (*Reply, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	if s.Step() != onboarding.StepReady {
		return nil, ErrOnboarding
	}
	chip, ok := playbook.FindChip(s.playbook.Stage(), chipID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChip, chipID)
	}
	if chip.Action == playbook.ChipReset {
		return nil, s.playbook.Reset(ctx)
	}
	return s.send(ctx, chip.Message, "")
}

// Reset clears the playbook and cancels the pending follow-up.
func (s *Session) Reset(ctx context.Context) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	return errors.Join(s.playbook.Reset(ctx), s.followUps.Cancel(ctx))
}

// Feedback records whether the last plan helped.
func (s *Session) Feedback(ctx context.Context, helpful bool) (*Reply, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	target, err := s.playbook.RecordFeedback(helpful)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Routine feedback recorded", "routine_id", target.RoutineID, "helpful", helpful)

	ack := "Thanks for being honest. We'll try something different next time."
	if helpful {
		ack = "Glad that helped! I'll remember it for next time."
	}
	msg := s.replyAfterPause(ctx, ack)
	return &Reply{Message: msg, Step: onboarding.StepReady.String()}, nil
}

// Repeat accepts the pending repeat suggestion and runs it as a message.
func (s *Session) Repeat(ctx context.Context) (*Reply, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	if _, ok := s.playbook.TakeRepeatSuggestion(); !ok {
		return nil, ErrNothingToRepeat
	}
	return s.send(ctx, repeatRequest, "")
}

// BackfillName sets the profile name from an authenticated identity when it
// is still unset. During the name step this also moves onboarding forward.
func (s *Session) BackfillName(ctx context.Context, displayName string) (bool, error) {
	if err := s.acquire(); err != nil {
		return false, err
	}
	defer s.release()

	name := onboarding.NormalizeName(displayName)
	s.mu.Lock()
	if s.profile.Name != "" || name == "" {
		s.mu.Unlock()
		return false, nil
	}
	s.profile.Name = name
	prevStep := s.step
	s.step = onboarding.StepFor(s.profile)
	profile, step := s.profile, s.step
	s.mu.Unlock()

	if err := s.dev.Save(ctx, store.KeyProfile, profile); err != nil {
		return true, fmt.Errorf("persist profile: %w", err)
	}
	if prevStep == onboarding.StepName && step != prevStep {
		s.appendAssistant(onboarding.Prompt(profile, step))
	}
	return true, nil
}

// Step returns the current onboarding step.
func (s *Session) Step() onboarding.Step {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// Snapshot returns the full renderable state.
func (s *Session) Snapshot(ctx context.Context) State {
	s.mu.RLock()
	st := State{
		DeviceID:  s.deviceID,
		SessionID: s.sessionID,
		Step:      s.step.String(),
		Profile:   s.profile,
		Memory:    s.memory,
	}
	s.mu.RUnlock()

	st.Messages = s.log.Messages()
	st.Playbook = s.playbook.Snapshot()
	if p, ok := s.followUps.Pending(ctx); ok {
		st.FollowUp = &p
	}
	st.Loading = s.Loading()
	return st
}

func (s *Session) replyAfterPause(ctx context.Context, text string) domain.Message {
	s.pause(ctx)
	return s.appendAssistant(text)
}

func (s *Session) pause(ctx context.Context) {
	if s.typingDelay <= 0 {
		return
	}
	t := time.NewTimer(s.typingDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

func (s *Session) appendAssistant(text string) domain.Message {
	msg := domain.NewMessage(domain.RoleAssistant, text, s.now())
	s.appendMessage(msg)
	return msg
}

func (s *Session) appendMessage(msg domain.Message) {
	s.log.Append(msg)
	s.transcript.Log(conversation.TranscriptEntry{
		Timestamp: msg.Timestamp,
		DeviceID:  s.deviceID,
		SessionID: s.sessionID,
		Event:     "message",
		Role:      string(msg.Role),
		Content:   msg.Content,
		Stage:     string(s.stageForTranscript()),
	})
}

func (s *Session) stageForTranscript() domain.Stage {
	if s.playbook == nil {
		return ""
	}
	return s.playbook.Stage()
}

func (s *Session) deliverFollowUp(message string) {
	s.appendAssistant(message)
	s.events.Log(engine.Event{Name: engine.EventFollowUpFired, DeviceID: s.deviceID, SessionID: s.sessionID})
}
