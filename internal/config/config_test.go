package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "STORE_BACKEND", "ENGINE_TRANSPORT", "FOLLOWUP_DELAY", "TYPING_DELAY", "CORS_ORIGINS", "FRONTEND_URL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreSQLite, cfg.StoreBackend)
	assert.Equal(t, "./data/companion.db", cfg.DBPath)
	assert.Equal(t, TransportHTTP, cfg.EngineTransport)
	assert.Equal(t, 4*time.Hour, cfg.FollowUpDelay)
	assert.Equal(t, 700*time.Millisecond, cfg.TypingDelay)
	assert.False(t, cfg.TranscriptLog.Enabled)
	assert.True(t, cfg.IsDevelopment())
	assert.Contains(t, cfg.AllowedOrigins(), "http://localhost:5173")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("ENGINE_TRANSPORT", "grpc")
	t.Setenv("FOLLOWUP_DELAY", "90m")
	t.Setenv("TYPING_DELAY", "0s")
	t.Setenv("CORS_ORIGINS", "https://a.example.edu, https://b.example.edu,")
	t.Setenv("FRONTEND_URL", "https://companion.example.edu")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("TRANSCRIPT_LOG_ENABLED", "yes")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreRedis, cfg.StoreBackend)
	assert.Equal(t, TransportGRPC, cfg.EngineTransport)
	assert.Equal(t, 90*time.Minute, cfg.FollowUpDelay)
	assert.Zero(t, cfg.TypingDelay)
	assert.Equal(t, []string{"https://a.example.edu", "https://b.example.edu"}, cfg.AllowedOrigins())
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.True(t, cfg.TranscriptLog.Enabled)
}

func TestValidateCollectsErrors(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		StoreBackend:    "postgres",
		EngineTransport: "carrier-pigeon",
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"PORT", "STORE_BACKEND", "ENGINE_TRANSPORT", "FOLLOWUP_DELAY", "RATE_LIMIT"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadRules(t *testing.T) {
	t.Parallel()

	r, err := LoadRules("")
	require.NoError(t, err)
	d, err := r.Delay(4 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 4*time.Hour, d)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
crisis_patterns:
  - '\bi give up on everything\b'
followup_delay: 2h
`), 0o600))
	r, err = LoadRules(path)
	require.NoError(t, err)
	assert.Equal(t, []string{`\bi give up on everything\b`}, r.CrisisPatterns)
	d, err = r.Delay(4 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, d)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("followup_delay: soon\n"), 0o600))
	_, err = LoadRules(bad)
	assert.Error(t, err)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestSetupLoggerWithWriters(t *testing.T) {
	t.Parallel()

	var console, file bytes.Buffer
	logger := SetupLoggerWithWriters(&console, &file, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("Follow-up scheduled", "device_id", "anon_1")

	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "device_id=anon_1")
	assert.True(t, strings.HasPrefix(file.String(), "{"), file.String())
	assert.Contains(t, file.String(), `"device_id":"anon_1"`)
}

func TestSetupLoggerWritesFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "companion.log")
	logger, closeFn := SetupLogger(path, slog.LevelInfo)
	logger.Info("hello", "k", "v")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
}
