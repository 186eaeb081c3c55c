package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/campus-companion/internal/config"
	"github.com/ashureev/campus-companion/internal/engine"
)

func testConfig(t *testing.T, engineURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Port:            "0",
		StoreBackend:    config.StoreSQLite,
		DBPath:          filepath.Join(dir, "companion.db"),
		EngineTransport: config.TransportHTTP,
		EngineURL:       engineURL,
		EngineTimeout:   5 * time.Second,
		FollowUpDelay:   time.Hour,
		SessionIdleTTL:  time.Hour,
		TranscriptLog:   config.TranscriptLogConfig{Dir: filepath.Join(dir, "transcripts")},
	}
}

func TestBuildWiresSQLiteAndHTTPEngine(t *testing.T) {
	eng := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(engine.Envelope{Success: true, Data: &engine.Reply{
			PlaybookID: engine.PlaybookFreeform,
			Validation: "Tell me more.",
		}})
	}))
	defer eng.Close()

	a, err := Build(context.Background(), testConfig(t, eng.URL), nil)
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	assert.Nil(t, a.Health, "the HTTP transport has no health probe")
	s, err := a.Registry.Get(context.Background(), "anon_0123456789abcdef0123456789abcdef")
	require.NoError(t, err)
	assert.Equal(t, "name", s.Step().String())
}

func TestBuildRejectsBadRules(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.RulesFile = filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(cfg.RulesFile, []byte("crisis_patterns:\n  - '(unclosed'\n"), 0o600))

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compile crisis pattern")
}

func TestBuildRejectsNonPositiveRulesDelay(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.RulesFile = filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(cfg.RulesFile, []byte("followup_delay: -5m\n"), 0o600))

	_, err := Build(context.Background(), cfg, nil)
	require.Error(t, err)
}
