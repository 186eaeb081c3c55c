package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// NopPersonalizer never suggests anything.
type NopPersonalizer struct{}

// Resolve implements Personalizer.
func (NopPersonalizer) Resolve(context.Context, string, string) (*Personalization, error) {
	return nil, nil
}

// HTTPPersonalizer queries GET <base>?playbook_id=..&device_id=..
// A 404 or a JSON null body means no personalization.
type HTTPPersonalizer struct {
	base   string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPPersonalizer creates a resolver client.
func NewHTTPPersonalizer(base string, client *http.Client, logger *slog.Logger) *HTTPPersonalizer {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPPersonalizer{base: base, client: client, logger: logger}
}

// Resolve implements Personalizer.
func (p *HTTPPersonalizer) Resolve(ctx context.Context, deviceID, playbookID string) (*Personalization, error) {
	u, err := url.Parse(p.base)
	if err != nil {
		return nil, fmt.Errorf("parse personalization url: %w", err)
	}
	q := u.Query()
	q.Set("playbook_id", playbookID)
	q.Set("device_id", deviceID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("build personalization request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call personalization resolver: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("personalization resolver returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read personalization response: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	var out Personalization
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode personalization response: %w", err)
	}
	return &out, nil
}
