package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/campus-companion/internal/metrics"
)

const maxErrorBody = 512

// HTTPEngine posts requests as JSON to the engine endpoint.
type HTTPEngine struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPEngine creates an HTTP engine client. Timeouts are left to client.
func NewHTTPEngine(url string, client *http.Client, logger *slog.Logger) *HTTPEngine {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPEngine{url: url, client: client, logger: logger}
}

// Run sends req and decodes the envelope.
func (e *HTTPEngine) Run(ctx context.Context, req Request) (reply *Reply, err error) {
	defer observe(time.Now(), &err)

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode engine request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call playbook engine: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		// The engine reports failures inside the envelope too; prefer it when present.
		var env Envelope
		if json.Unmarshal(snippet, &env) == nil && env.Error != "" {
			return env.Decode()
		}
		return nil, fmt.Errorf("playbook engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("decode engine response: %w", err)
	}
	return env.Decode()
}

// Close is a no-op for HTTP.
func (e *HTTPEngine) Close() error { return nil }

func observe(start time.Time, errp *error) {
	metrics.EngineRequestDuration.Observe(time.Since(start).Seconds())
	switch {
	case *errp == nil:
		metrics.EngineRequests.WithLabelValues("ok").Inc()
	case errors.Is(*errp, ErrRejected):
		metrics.EngineRequests.WithLabelValues("rejected").Inc()
	default:
		metrics.EngineRequests.WithLabelValues("error").Inc()
	}
}
