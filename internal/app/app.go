// Package app assembles the companion runtime from configuration. It is
// shared by the HTTP server and the terminal client.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ashureev/campus-companion/internal/companion"
	"github.com/ashureev/campus-companion/internal/config"
	"github.com/ashureev/campus-companion/internal/conversation"
	"github.com/ashureev/campus-companion/internal/crisis"
	"github.com/ashureev/campus-companion/internal/engine"
	"github.com/ashureev/campus-companion/internal/store"
)

// App holds the long-lived collaborators.
type App struct {
	Repo     store.Repository
	Engine   engine.Engine
	Registry *companion.Registry

	// Health is set when the engine transport supports probing.
	Health interface {
		Health(ctx context.Context) error
	}

	closers []func() error
	logger  *slog.Logger
}

// Build opens storage, connects the engine and creates the session registry.
// On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	rules, err := config.LoadRules(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	detector, err := crisis.NewDetector(rules.CrisisPatterns...)
	if err != nil {
		return nil, err
	}
	followUpDelay, err := rules.Delay(cfg.FollowUpDelay)
	if err != nil {
		return nil, err
	}
	if len(rules.CrisisPatterns) > 0 || cfg.RulesFile != "" {
		logger.Info("Rules loaded", "file", cfg.RulesFile, "extra_crisis_patterns", len(rules.CrisisPatterns), "followup_delay", followUpDelay)
	}

	a.Repo, err = openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Repo.Close)
	if err := a.Repo.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store health check: %w", err)
	}
	logger.Info("Store connected", "backend", cfg.StoreBackend)

	if err := a.connectEngine(cfg); err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: cfg.EngineTimeout}

	var personalizer engine.Personalizer = engine.NopPersonalizer{}
	if cfg.PersonalizationURL != "" {
		personalizer = engine.NewHTTPPersonalizer(cfg.PersonalizationURL, client, logger)
	}

	var events engine.EventLogger = engine.NopEventLogger{}
	if cfg.EventsURL != "" {
		sink := engine.NewHTTPEventLogger(cfg.EventsURL, 0, nil, logger)
		a.closers = append(a.closers, sink.Close)
		events = sink
	}

	transcript, err := conversation.NewTranscriptLogger(conversation.TranscriptConfig{
		Enabled:   cfg.TranscriptLog.Enabled,
		Dir:       cfg.TranscriptLog.Dir,
		QueueSize: cfg.TranscriptLog.QueueSize,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize transcript logger: %w", err)
	}
	a.closers = append(a.closers, transcript.Close)

	a.Registry = companion.NewRegistry(companion.Deps{
		Repo:         a.Repo,
		Detector:     detector,
		Engine:       a.Engine,
		Personalizer: personalizer,
		Events:       events,
		Transcript:   transcript,
		Logger:       logger,
	}, companion.Options{
		TypingDelay:   cfg.TypingDelay,
		NoTypingDelay: cfg.TypingDelay == 0,
		FollowUpDelay: followUpDelay,
	}, cfg.SessionIdleTTL)
	a.closers = append(a.closers, func() error {
		a.Registry.Close()
		return nil
	})

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		repo, err := store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initialize redis store: %w", err)
		}
		return repo, nil
	default:
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		return repo, nil
	}
}

func (a *App) connectEngine(cfg *config.Config) error {
	switch cfg.EngineTransport {
	case config.TransportGRPC:
		a.logger.Info("Connecting to playbook engine via gRPC", "address", cfg.EngineGRPCAddr)
		eng, err := engine.NewGRPCEngine(engine.DefaultGRPCConfig(cfg.EngineGRPCAddr), a.logger)
		if err != nil {
			return fmt.Errorf("connect playbook engine: %w", err)
		}
		a.Engine = eng
		a.Health = eng
	default:
		a.logger.Info("Using playbook engine over HTTP", "url", cfg.EngineURL)
		a.Engine = engine.NewHTTPEngine(cfg.EngineURL, &http.Client{Timeout: cfg.EngineTimeout}, a.logger)
	}
	a.closers = append(a.closers, a.Engine.Close)
	return nil
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
