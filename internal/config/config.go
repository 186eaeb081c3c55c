// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Engine transports.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	CORSOrigins []string

	StoreBackend string
	DBPath       string
	RedisURL     string

	EngineTransport    string
	EngineURL          string
	EngineGRPCAddr     string
	EngineTimeout      time.Duration
	PersonalizationURL string
	EventsURL          string

	FollowUpDelay  time.Duration
	TypingDelay    time.Duration
	SessionIdleTTL time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	RulesFile string
	LogLevel  slog.Level
	LogFile   string

	TranscriptLog TranscriptLogConfig
}

// TranscriptLogConfig controls NDJSON conversation transcripts.
type TranscriptLogConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS"),

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreSQLite)),
		DBPath:       getEnv("DB_PATH", "./data/companion.db"),
		RedisURL:     getEnv("REDIS_URL", "redis://localhost:6379/0"),

		EngineTransport:    strings.ToLower(getEnv("ENGINE_TRANSPORT", TransportHTTP)),
		EngineURL:          getEnv("ENGINE_URL", "http://localhost:3000/api/playbook"),
		EngineGRPCAddr:     getEnv("ENGINE_GRPC_ADDR", "localhost:50051"),
		EngineTimeout:      getEnvDuration("ENGINE_TIMEOUT", 30*time.Second),
		PersonalizationURL: getEnv("PERSONALIZATION_URL", ""),
		EventsURL:          getEnv("EVENTS_URL", ""),

		FollowUpDelay:  getEnvDuration("FOLLOWUP_DELAY", 4*time.Hour),
		TypingDelay:    getEnvDuration("TYPING_DELAY", 700*time.Millisecond),
		SessionIdleTTL: getEnvDuration("SESSION_IDLE_TTL", 2*time.Hour),

		RateLimitRequests: getEnvInt("RATE_LIMIT_REQUESTS", 20),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		RulesFile: getEnv("RULES_FILE", ""),
		LogLevel:  parseLevel(getEnv("LOG_LEVEL", "info")),
		LogFile:   getEnv("LOG_FILE", ""),

		TranscriptLog: TranscriptLogConfig{
			Enabled:   getEnvBool("TRANSCRIPT_LOG_ENABLED", false),
			Dir:       getEnv("TRANSCRIPT_LOG_DIR", "./data/logs/transcripts"),
			QueueSize: getEnvInt("TRANSCRIPT_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	if c.Port == "" {
		errs = append(errs, errors.New("PORT cannot be empty"))
	}
	switch c.StoreBackend {
	case StoreSQLite:
		if c.DBPath == "" {
			errs = append(errs, errors.New("DB_PATH cannot be empty"))
		}
	case StoreRedis:
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreSQLite, StoreRedis, c.StoreBackend))
	}
	switch c.EngineTransport {
	case TransportHTTP:
		if c.EngineURL == "" {
			errs = append(errs, errors.New("ENGINE_URL cannot be empty"))
		}
	case TransportGRPC:
		if c.EngineGRPCAddr == "" {
			errs = append(errs, errors.New("ENGINE_GRPC_ADDR cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("ENGINE_TRANSPORT must be %q or %q, got %q", TransportHTTP, TransportGRPC, c.EngineTransport))
	}
	if c.EngineTimeout <= 0 {
		errs = append(errs, errors.New("ENGINE_TIMEOUT must be > 0"))
	}
	if c.FollowUpDelay <= 0 {
		errs = append(errs, errors.New("FOLLOWUP_DELAY must be > 0"))
	}
	if c.TypingDelay < 0 {
		errs = append(errs, errors.New("TYPING_DELAY cannot be negative"))
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0"))
	}
	if c.TranscriptLog.Enabled && c.TranscriptLog.Dir == "" {
		errs = append(errs, errors.New("TRANSCRIPT_LOG_DIR cannot be empty"))
	}
	if c.TranscriptLog.QueueSize <= 0 {
		errs = append(errs, errors.New("TRANSCRIPT_LOG_QUEUE_SIZE must be > 0"))
	}
	return errors.Join(errs...)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// AllowedOrigins returns the CORS allow-list: CORS_ORIGINS when set, else
// FRONTEND_URL, else the local dev servers.
func (c *Config) AllowedOrigins() []string {
	if len(c.CORSOrigins) > 0 {
		return c.CORSOrigins
	}
	if c.FrontendURL != "" {
		return []string{c.FrontendURL}
	}
	return []string{"http://localhost:5173", "http://localhost:3000"}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
