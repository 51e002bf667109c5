// Package alerts delivers health and quota alerts to an external webhook
// over plain HTTP, the way the teacher's channels package bridges an
// outbound message to a chat webhook: a JSON POST, a bearer token header,
// and a status-code check. No chat SDK — the webhook is a generic sink,
// not a particular chat platform.
package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Event is one alert delivered to the webhook sink.
type Event struct {
	Kind      string         `json:"kind"`
	AgentID   string         `json:"agentId,omitempty"`
	Reason    string         `json:"reason"`
	Detail    map[string]any `json:"detail,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Config configures the webhook sink.
type Config struct {
	URL        string
	AuthToken  string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Sink posts Events to a webhook URL. A zero-value URL makes every Notify
// call a no-op, so the sink can be wired unconditionally.
type Sink struct {
	url    string
	token  string
	client *http.Client
}

// New builds a Sink from cfg.
func New(cfg Config) *Sink {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &Sink{url: cfg.URL, token: cfg.AuthToken, client: client}
}

// Notify posts ev to the configured webhook. A no-op if no URL is
// configured. Errors are returned for the caller to log; delivery is
// best-effort and never blocks the supervisor's command loop directly —
// callers are expected to run it in its own goroutine.
func (s *Sink) Notify(ctx context.Context, ev Event) error {
	if s.url == "" {
		return nil
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alerts: marshal event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("alerts: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("alerts: deliver webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: webhook status %d", resp.StatusCode)
	}
	return nil
}
