// Package followup keeps the single pending "check in later" message for a device.
//
// The persisted payload is the source of truth. The in-memory timer only caches
// it and is reconciled against the stored dueAt on Restore: overdue payloads fire
// right away, future ones are re-armed for the remaining time.
package followup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/campus-companion/internal/domain"
	"github.com/ashureev/campus-companion/internal/metrics"
	"github.com/ashureev/campus-companion/internal/store"
)

// DefaultDelay is how long after an exchange the check-in fires.
const DefaultDelay = 4 * time.Hour

// CrisisChecker flags unsafe text.
type CrisisChecker interface {
	IsCrisis(text string) bool
}

// DeliverFunc receives a due follow-up message.
type DeliverFunc func(message string)

// Options tunes a Scheduler. Logger is expected to carry the device_id
// attribute already.
type Options struct {
	Delay       time.Duration
	TypingDelay time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

// Scheduler owns the single follow-up slot of one device.
type Scheduler struct {
	dev      *store.Device
	detector CrisisChecker
	deliver  DeliverFunc

	delay       time.Duration
	typingDelay time.Duration
	now         func() time.Time
	logger      *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	gen     uint64 // bumped on every schedule/cancel; stale timers compare and bail
	stopped bool
	inner   sync.WaitGroup
}

// New creates a scheduler. No timer is armed until Schedule or Restore.
func New(dev *store.Device, detector CrisisChecker, deliver DeliverFunc, opts Options) *Scheduler {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default().With("device_id", dev.ID())
	}
	return &Scheduler{
		dev:         dev,
		detector:    detector,
		deliver:     deliver,
		delay:       opts.Delay,
		typingDelay: opts.TypingDelay,
		now:         opts.Now,
		logger:      opts.Logger,
	}
}

// Schedule composes a check-in from memory and replaces any pending one.
// It returns false without touching the slot when the memory is crisis-flagged.
func (s *Scheduler) Schedule(ctx context.Context, mem domain.Memory, weather string) (bool, error) {
	if s.detector.IsCrisis(mem.LastGoal) || s.detector.IsCrisis(mem.LastTopic) {
		s.logger.Info("Follow-up refused for crisis-flagged memory")
		return false, nil
	}

	payload := domain.FollowUpPayload{
		DueAt:   s.now().Add(s.delay),
		Message: Compose(mem, weather, s.detector),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false, fmt.Errorf("schedule follow-up: scheduler stopped")
	}

	s.disarmLocked()
	if err := s.dev.Save(ctx, store.KeyFollowUp, payload); err != nil {
		return false, fmt.Errorf("persist follow-up: %w", err)
	}
	s.armLocked(s.delay, "timer")

	metrics.FollowUpsScheduled.Inc()
	s.logger.Info("Follow-up scheduled", "due_at", payload.DueAt)
	return true, nil
}

// Cancel disarms the timer and deletes the persisted payload.
func (s *Scheduler) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hadTimer := s.timer != nil
	s.disarmLocked()
	if err := s.dev.Delete(ctx, store.KeyFollowUp); err != nil {
		return fmt.Errorf("delete follow-up: %w", err)
	}
	if hadTimer {
		metrics.FollowUpsCancelled.Inc()
		s.logger.Info("Follow-up cancelled")
	}
	return nil
}

// Restore reconciles the persisted payload at process start.
func (s *Scheduler) Restore(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.dev.LoadRaw(ctx, store.KeyFollowUp)
	if !ok {
		return nil
	}

	var payload domain.FollowUpPayload
	if !s.dev.Load(ctx, store.KeyFollowUp, &payload) || payload.DueAt.IsZero() {
		s.logger.Warn("Discarding unreadable follow-up", "bytes", len(raw))
		return s.dev.Delete(ctx, store.KeyFollowUp)
	}
	if s.detector.IsCrisis(payload.Message) {
		s.logger.Warn("Discarding crisis-flagged follow-up")
		return s.dev.Delete(ctx, store.KeyFollowUp)
	}

	s.disarmLocked()
	remaining := payload.DueAt.Sub(s.now())
	if remaining <= 0 {
		s.logger.Info("Follow-up overdue, firing now", "due_at", payload.DueAt)
		s.armLocked(s.typingDelay, "overdue")
		return nil
	}
	s.logger.Info("Follow-up restored", "remaining", remaining)
	s.armLocked(remaining, "timer")
	return nil
}

// Pending returns the persisted payload, if any.
func (s *Scheduler) Pending(ctx context.Context) (domain.FollowUpPayload, bool) {
	var payload domain.FollowUpPayload
	ok := s.dev.Load(ctx, store.KeyFollowUp, &payload)
	return payload, ok
}

// Armed reports whether a timer is currently live.
func (s *Scheduler) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

// Stop disarms the timer without touching storage and waits for an in-flight
// delivery to finish. The payload stays persisted for the next Restore.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.disarmLocked()
	s.mu.Unlock()
	s.inner.Wait()
}

func (s *Scheduler) disarmLocked() {
	s.gen++
	if s.timer != nil {
		if s.timer.Stop() {
			s.inner.Done()
		}
		s.timer = nil
	}
}

func (s *Scheduler) armLocked(d time.Duration, path string) {
	gen := s.gen
	s.inner.Add(1)
	s.timer = time.AfterFunc(d, func() {
		defer s.inner.Done()
		s.fire(gen, path)
	})
}

func (s *Scheduler) fire(gen uint64, path string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.mu.Lock()
	if s.stopped || gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	var payload domain.FollowUpPayload
	ok := s.dev.Load(ctx, store.KeyFollowUp, &payload)
	if ok && s.detector.IsCrisis(payload.Message) {
		if err := s.dev.Delete(ctx, store.KeyFollowUp); err != nil {
			s.logger.Warn("Failed to delete crisis-flagged follow-up", "error", err)
		}
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	s.deliver(payload.Message)
	metrics.FollowUpsFired.WithLabelValues(path).Inc()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		// Rescheduled while delivering; the new payload owns the slot now.
		return
	}
	if err := s.dev.Delete(ctx, store.KeyFollowUp); err != nil {
		s.logger.Warn("Failed to delete delivered follow-up", "error", err)
	}
	s.logger.Info("Follow-up delivered", "path", path)
}
