package companion

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ashureev/campus-companion/internal/metrics"
)

const sweepInterval = 5 * time.Minute

// Registry holds one live Session per device and evicts idle ones.
type Registry struct {
	deps    Deps
	opts    Options
	idleTTL time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	opening  singleflight.Group
}

// NewRegistry creates an empty registry. idleTTL <= 0 disables eviction.
func NewRegistry(deps Deps, opts Options, idleTTL time.Duration) *Registry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		deps:     deps,
		opts:     opts,
		idleTTL:  idleTTL,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Get returns the live session for deviceID, opening it on first use.
func (r *Registry) Get(ctx context.Context, deviceID string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[deviceID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	v, err, _ := r.opening.Do(deviceID, func() (any, error) {
		r.mu.Lock()
		if s, ok := r.sessions[deviceID]; ok {
			r.mu.Unlock()
			return s, nil
		}
		r.mu.Unlock()

		// Detached so a cancelled first request does not poison the shared open.
		s, err := Open(context.WithoutCancel(ctx), deviceID, r.deps, r.opts)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.sessions[deviceID] = s
		metrics.ActiveSessions.Set(float64(len(r.sessions)))
		r.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Evict disposes the session of deviceID if it is live.
func (r *Registry) Evict(deviceID string) {
	r.mu.Lock()
	s, ok := r.sessions[deviceID]
	delete(r.sessions, deviceID)
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()
	if ok {
		s.Dispose()
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep disposes sessions idle longer than the TTL and returns how many.
// Sessions with a message in flight are skipped.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	var expired []*Session
	for id, s := range r.sessions {
		if s.Loading() || now.Sub(s.LastActive()) < r.idleTTL {
			continue
		}
		expired = append(expired, s)
		delete(r.sessions, id)
	}
	metrics.ActiveSessions.Set(float64(len(r.sessions)))
	r.mu.Unlock()

	for _, s := range expired {
		s.Dispose()
	}
	if len(expired) > 0 {
		r.logger.Info("Idle sweeper evicted sessions", "count", len(expired))
	}
	return len(expired)
}

// StartSweeper runs Sweep periodically until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 {
		return
	}
	if interval <= 0 {
		interval = sweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		r.logger.Info("Idle sweeper started", "interval", interval, "ttl", r.idleTTL)

		for {
			select {
			case now := <-ticker.C:
				r.Sweep(now)
			case <-ctx.Done():
				r.logger.Info("Idle sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

// Close disposes every live session.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	metrics.ActiveSessions.Set(0)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}
