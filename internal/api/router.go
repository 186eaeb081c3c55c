package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashureev/campus-companion/internal/identity"
	"github.com/ashureev/campus-companion/internal/middleware"
	"github.com/ashureev/campus-companion/internal/store"
)

// RouterConfig collects what NewRouter needs to mount every route.
type RouterConfig struct {
	Repo           store.Repository
	Sessions       Sessions
	Limiter        *RateLimiter
	Engine         HealthChecker
	AllowedOrigins []string
	FrontendURL    string
	IsDevelopment  bool
	Logger         *slog.Logger
}

// NewRouter creates and configures the HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Handle("/metrics", promhttp.Handler())

	NewHealthHandler(cfg.Repo, cfg.Engine).RegisterHealth(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment))

		NewCompanionHandler(cfg.Sessions, cfg.Limiter, cfg.Logger).RegisterRoutes(r)

		stream := NewStreamHandler(cfg.Sessions, cfg.Limiter, cfg.FrontendURL, cfg.IsDevelopment, cfg.Logger)
		r.Get("/ws/companion", stream.ServeHTTP)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		Error(w, http.StatusNotFound, "not found")
	})
	return r
}
