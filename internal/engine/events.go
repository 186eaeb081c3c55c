package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// NopEventLogger drops every event.
type NopEventLogger struct{}

// Log implements EventLogger.
func (NopEventLogger) Log(Event) {}

// HTTPEventLogger posts events to a sink from a single background worker.
// Events are dropped when the queue is full; delivery errors are logged at
// debug level and otherwise ignored.
type HTTPEventLogger struct {
	url    string
	client *http.Client
	logger *slog.Logger

	queue chan Event
	done  chan struct{}

	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewHTTPEventLogger starts the delivery worker.
func NewHTTPEventLogger(url string, queueSize int, client *http.Client, logger *slog.Logger) *HTTPEventLogger {
	if queueSize <= 0 {
		queueSize = 256
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &HTTPEventLogger{
		url:    url,
		client: client,
		logger: logger,
		queue:  make(chan Event, queueSize),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// Log implements EventLogger.
func (l *HTTPEventLogger) Log(event Event) {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.queue <- event:
	default:
		l.logger.Debug("Event queue full, dropping event", "event", event.Name)
	}
}

// Close stops accepting events and waits for queued ones to be attempted.
func (l *HTTPEventLogger) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.queue)
		l.mu.Unlock()
	})
	<-l.done
	return nil
}

func (l *HTTPEventLogger) run() {
	defer close(l.done)
	for event := range l.queue {
		l.send(event)
	}
}

func (l *HTTPEventLogger) send(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		l.logger.Debug("Failed to encode event", "event", event.Name, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.url, bytes.NewReader(body))
	if err != nil {
		l.logger.Debug("Failed to build event request", "event", event.Name, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Debug("Failed to deliver event", "event", event.Name, "error", err)
		return
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		l.logger.Debug("Event sink rejected event", "event", event.Name, "status", resp.StatusCode)
	}
}
