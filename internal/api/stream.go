package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/ashureev/campus-companion/internal/companion"
	"github.com/ashureev/campus-companion/internal/domain"
	"github.com/ashureev/campus-companion/internal/identity"
)

const (
	streamBuffer       = 32
	streamWriteTimeout = 5 * time.Second
)

// StreamHandler pushes conversation updates, including follow-ups that fire
// while the student is idle, over a websocket.
type StreamHandler struct {
	sessions      Sessions
	limiter       *RateLimiter
	allowedOrigin string
	isDev         bool
	logger        *slog.Logger
}

// NewStreamHandler creates a new stream handler. limiter may be nil; when set
// it is the same limiter that guards the message endpoints.
func NewStreamHandler(sessions Sessions, limiter *RateLimiter, allowedOrigin string, isDev bool, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{
		sessions:      sessions,
		limiter:       limiter,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
		logger:        logger,
	}
}

type streamEvent struct {
	Type    string           `json:"type"`
	Message *domain.Message  `json:"message,omitempty"`
	State   *companion.State `json:"state,omitempty"`
	Error   string           `json:"error,omitempty"`
}

type streamCommand struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Weather string `json:"weather,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := identity.DeviceIDFromContext(r.Context())
	if deviceID == "" {
		Error(w, http.StatusUnauthorized, "missing device identity")
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	s, err := h.sessions.Get(r.Context(), deviceID)
	if err != nil {
		h.logger.Error("Failed to open session", "device_id", deviceID, "error", err)
		Error(w, http.StatusInternalServerError, "failed to load session")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "device_id", deviceID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "stream ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "device_id", deviceID)
		}
	}()

	// Subscribe before the snapshot so nothing appended in between is lost;
	// clients dedupe by message id.
	updates, unsubscribe := s.Log().Subscribe(streamBuffer)
	defer unsubscribe()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &streamWriter{ws: ws}
	state := s.Snapshot(ctx)
	if err := out.write(ctx, streamEvent{Type: "snapshot", State: &state}); err != nil {
		h.logger.Debug("Failed to send snapshot", "error", err, "device_id", deviceID)
		return
	}

	h.logger.Info("Companion stream opened", "device_id", deviceID, "session_id", s.SessionID(),
		"remote_ip", identity.IPFromRequest(r))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.inputLoop(ctx, ws, out, s)
	}()
	go func() {
		defer wg.Done()
		defer cancel()
		h.outputLoop(ctx, out, updates, deviceID)
	}()
	wg.Wait()

	h.logger.Info("Companion stream closed", "device_id", deviceID)
}

func (h *StreamHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || origin == h.allowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin,
		"remote_ip", identity.IPFromRequest(r))
	return false
}

func (h *StreamHandler) inputLoop(ctx context.Context, ws *websocket.Conn, out *streamWriter, s *companion.Session) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				h.logger.Debug("WebSocket closed by client", "device_id", s.DeviceID())
			} else if ctx.Err() == nil {
				h.logger.Warn("WebSocket read error", "error", err, "device_id", s.DeviceID())
			}
			return
		}

		var cmd streamCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.logger.Debug("Ignoring malformed stream command", "device_id", s.DeviceID())
			continue
		}

		switch cmd.Type {
		case "ping":
			if err := out.write(ctx, streamEvent{Type: "pong"}); err != nil {
				h.logger.Debug("Failed to send pong", "error", err)
			}
		case "send":
			if h.limiter != nil && !h.limiter.Allow(s.DeviceID()) {
				if err := out.write(ctx, streamEvent{Type: "error", Error: errRateLimited}); err != nil {
					h.logger.Debug("Failed to send error event", "error", err)
				}
				continue
			}
			// The reply reaches the client through the log subscription.
			if _, err := s.Send(ctx, cmd.Text, cmd.Weather); err != nil {
				if werr := out.write(ctx, streamEvent{Type: "error", Error: err.Error()}); werr != nil {
					h.logger.Debug("Failed to send error event", "error", werr)
				}
				if errors.Is(err, companion.ErrDisposed) {
					// The log is dead; the client reconnects to the fresh session.
					return
				}
			}
		}
	}
}

func (h *StreamHandler) outputLoop(ctx context.Context, out *streamWriter, updates <-chan domain.Message, deviceID string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-updates:
			if !ok {
				return
			}
			if err := out.write(ctx, streamEvent{Type: "message", Message: &msg}); err != nil {
				if !errors.Is(err, context.Canceled) {
					h.logger.Debug("WebSocket write error", "error", err, "device_id", deviceID)
				}
				return
			}
		}
	}
}

// streamWriter serializes writes from the input and output loops.
type streamWriter struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (w *streamWriter) write(ctx context.Context, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	writeCtx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return w.ws.Write(writeCtx, websocket.MessageText, data)
}
