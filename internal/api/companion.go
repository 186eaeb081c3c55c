package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/campus-companion/internal/companion"
	"github.com/ashureev/campus-companion/internal/identity"
	"github.com/ashureev/campus-companion/internal/playbook"
)

// Sessions resolves the live session of a device.
type Sessions interface {
	Get(ctx context.Context, deviceID string) (*companion.Session, error)
}

// CompanionHandler exposes the per-device companion session over HTTP.
type CompanionHandler struct {
	sessions Sessions
	limiter  *RateLimiter
	logger   *slog.Logger
}

// NewCompanionHandler creates a new companion handler. limiter may be nil.
func NewCompanionHandler(sessions Sessions, limiter *RateLimiter, logger *slog.Logger) *CompanionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CompanionHandler{sessions: sessions, limiter: limiter, logger: logger}
}

const errRateLimited = "Too many messages. Take a breath and try again in a moment."

type sendRequest struct {
	Text    string `json:"text"`
	Weather string `json:"weather,omitempty"`
}

type feedbackRequest struct {
	Helpful *bool `json:"helpful"`
}

type identityRequest struct {
	DisplayName string `json:"display_name"`
}

type replyResponse struct {
	Reply *companion.Reply `json:"reply"`
	State companion.State  `json:"state"`
}

// RegisterRoutes mounts the companion API.
func (h *CompanionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/companion", func(r chi.Router) {
		r.Get("/state", h.State)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/messages", h.SendMessage)
			r.Post("/chips/{chipID}", h.TapChip)
			r.Post("/repeat", h.Repeat)
		})
		r.Post("/reset", h.Reset)
		r.Post("/feedback", h.Feedback)
		r.Post("/identity", h.Identity)
	})
}

func (h *CompanionHandler) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.limiter != nil && !h.limiter.Allow(identity.DeviceIDFromContext(r.Context())) {
			w.Header().Set("Retry-After", strconv.Itoa(int(h.limiter.Window().Seconds())))
			Error(w, http.StatusTooManyRequests, errRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *CompanionHandler) session(w http.ResponseWriter, r *http.Request) (*companion.Session, bool) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "missing device identity")
		return nil, false
	}
	s, err := h.sessions.Get(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to open session", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return s, true
}

// State returns the full renderable state of the caller's session.
func (h *CompanionHandler) State(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, s.Snapshot(r.Context()))
}

// SendMessage submits one student message.
func (h *CompanionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.do(w, r, func(s *companion.Session) (*companion.Reply, error) {
		return s.Send(r.Context(), req.Text, req.Weather)
	})
}

// TapChip submits a quick-reply chip.
func (h *CompanionHandler) TapChip(w http.ResponseWriter, r *http.Request) {
	chipID := chi.URLParam(r, "chipID")
	h.do(w, r, func(s *companion.Session) (*companion.Reply, error) {
		return s.Chip(r.Context(), chipID)
	})
}

// Reset clears the playbook and the pending follow-up.
func (h *CompanionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, func(s *companion.Session) (*companion.Reply, error) {
		return nil, s.Reset(r.Context())
	})
}

// Feedback records whether the last plan helped.
func (h *CompanionHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil || req.Helpful == nil {
		Error(w, http.StatusBadRequest, "helpful is required")
		return
	}
	h.do(w, r, func(s *companion.Session) (*companion.Reply, error) {
		return s.Feedback(r.Context(), *req.Helpful)
	})
}

// Repeat accepts the pending repeat suggestion.
func (h *CompanionHandler) Repeat(w http.ResponseWriter, r *http.Request) {
	h.do(w, r, func(s *companion.Session) (*companion.Reply, error) {
		return s.Repeat(r.Context())
	})
}

// Identity backfills the profile name from a signed-in display name.
func (h *CompanionHandler) Identity(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := decodeBody(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var updated bool
	s, err := h.withSession(w, r, func(s *companion.Session) error {
		var err error
		updated, err = s.BackfillName(r.Context(), req.DisplayName)
		return err
	})
	if s == nil {
		return
	}
	if err != nil {
		h.writeError(w, s, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"updated": updated,
		"state":   s.Snapshot(r.Context()),
	})
}

// do runs fn against the caller's session and writes the reply with the
// resulting state.
func (h *CompanionHandler) do(w http.ResponseWriter, r *http.Request, fn func(*companion.Session) (*companion.Reply, error)) {
	var reply *companion.Reply
	s, err := h.withSession(w, r, func(s *companion.Session) error {
		var err error
		reply, err = fn(s)
		return err
	})
	if s == nil {
		return
	}
	h.respond(w, r, s, reply, err)
}

// withSession resolves the session and runs fn, fetching it once more when
// the first one was evicted in between. A nil session means the response has
// already been written.
func (h *CompanionHandler) withSession(w http.ResponseWriter, r *http.Request, fn func(*companion.Session) error) (*companion.Session, error) {
	s, ok := h.session(w, r)
	if !ok {
		return nil, nil
	}
	err := fn(s)
	if !errors.Is(err, companion.ErrDisposed) {
		return s, err
	}
	h.logger.Debug("Session evicted mid-request, retrying", "device_id", s.DeviceID())
	if s, ok = h.session(w, r); !ok {
		return nil, nil
	}
	err = fn(s)
	return s, err
}

func (h *CompanionHandler) respond(w http.ResponseWriter, r *http.Request, s *companion.Session, reply *companion.Reply, err error) {
	if err != nil {
		h.writeError(w, s, err)
		return
	}
	JSON(w, http.StatusOK, replyResponse{Reply: reply, State: s.Snapshot(r.Context())})
}

func (h *CompanionHandler) writeError(w http.ResponseWriter, s *companion.Session, err error) {
	switch {
	case errors.Is(err, companion.ErrEmptyMessage):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, companion.ErrUnknownChip):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, companion.ErrBusy),
		errors.Is(err, companion.ErrDisposed),
		errors.Is(err, companion.ErrOnboarding),
		errors.Is(err, companion.ErrNothingToRepeat),
		errors.Is(err, playbook.ErrNoFeedbackTarget):
		Error(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("Companion request failed", "device_id", s.DeviceID(), "error", err)
		Error(w, http.StatusInternalServerError, "something went wrong")
	}
}
