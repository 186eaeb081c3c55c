package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/campus-companion/internal/store"
)

const healthCheckTimeout = 5 * time.Second

// HealthChecker is an optional dependency probe, e.g. the gRPC engine.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo   store.Repository
	engine HealthChecker
}

// NewHealthHandler creates a health handler. engine may be nil.
func NewHealthHandler(repo store.Repository, engine HealthChecker) *HealthHandler {
	return &HealthHandler{repo: repo, engine: engine}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := "healthy"
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status = "degraded"
		checks["store"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	if h.engine != nil {
		if err := h.engine.Health(ctx); err != nil {
			// The companion still answers with the generic retry message, so
			// an engine outage degrades but does not fail the probe.
			slog.Warn("Engine health check failed", "error", err)
			checks["engine"] = "unreachable"
			if status == "healthy" {
				status = "degraded"
			}
		} else {
			checks["engine"] = "ok"
		}
	}

	JSON(w, statusCode, map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
