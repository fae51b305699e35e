// Package transmit submits crossing events to the backend API, persisting
// failed submissions to a local JSONL queue for later retry.
package transmit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/smartpark/sentinel/internal/vision/crossing"
)

// Payload is the normalized wire shape submitted to POST /event.
type Payload struct {
	CameraID    string  `json:"camera_id"`
	FloorID     int     `json:"floor_id"`
	TrackID     string  `json:"track_id"`
	VehicleType string  `json:"vehicle_type"`
	Direction   string  `json:"direction"`
	Confidence  float64 `json:"confidence"`
}

// NormalizePayload converts a crossing.Event into the backend's wire shape.
func NormalizePayload(ev crossing.Event) Payload {
	vehicleType := ev.VehicleType
	if vehicleType == "" {
		vehicleType = "car"
	}
	confidence := ev.Confidence
	if confidence == 0 {
		confidence = 0.8
	}
	return Payload{
		CameraID:    ev.CameraID,
		FloorID:     ev.FloorID,
		TrackID:     ev.TrackID,
		VehicleType: vehicleType,
		Direction:   string(ev.Direction),
		Confidence:  confidence,
	}
}

// Config configures a Client's backend endpoint, retry policy, and local
// persistence paths.
type Config struct {
	APIURL         string
	APIKey         string
	Timeout        time.Duration
	RetryAttempts  int
	RetryDelay     time.Duration
	LocalLogPath   string
	QueuePath      string
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Timeout <= 0 {
		out.Timeout = 5 * time.Second
	}
	if out.RetryAttempts <= 0 {
		out.RetryAttempts = 3
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Second
	}
	if out.LocalLogPath == "" {
		out.LocalLogPath = "./logs/events_local.jsonl"
	}
	if out.QueuePath == "" {
		out.QueuePath = "./logs/events_queue.jsonl"
	}
	return out
}

// Client submits crossing events to the backend, buffering submissions
// that fail after exhausting retries to a durable JSONL queue.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	mu       sync.Mutex
	isOnline bool
	queue    []Payload
}

// New creates a Client, loading any previously queued events from disk.
func New(cfg Config) (*Client, error) {
	resolved := cfg.withDefaults()

	if err := os.MkdirAll(filepath.Dir(resolved.LocalLogPath), 0o755); err != nil {
		return nil, fmt.Errorf("create local log dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(resolved.QueuePath), 0o755); err != nil {
		return nil, fmt.Errorf("create queue dir: %w", err)
	}

	c := &Client{
		cfg:        resolved,
		httpClient: &http.Client{Timeout: resolved.Timeout},
		logger:     slog.Default().With("component", "transmit_client", "api_url", resolved.APIURL),
		isOnline:   true,
	}

	queue, err := loadQueue(resolved.QueuePath)
	if err != nil {
		return nil, fmt.Errorf("load offline queue: %w", err)
	}
	c.queue = queue
	c.logger.Info("transmit client initialized", "queued_events", len(queue))
	return c, nil
}

// IsOnline reports whether the most recent submission attempt succeeded.
func (c *Client) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOnline
}

// QueueSize reports the number of events waiting for retry.
func (c *Client) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// LogEventLocally appends the raw crossing event to the local audit log,
// independent of whether the network submission succeeds.
func (c *Client) LogEventLocally(ev crossing.Event) error {
	envelope := struct {
		ID       string         `json:"id"`
		LoggedAt time.Time      `json:"logged_at"`
		Event    crossing.Event `json:"event"`
	}{
		ID:       uuid.NewString(),
		LoggedAt: time.Now().UTC(),
		Event:    ev,
	}
	return appendJSONL(c.cfg.LocalLogPath, envelope)
}

// ProcessEvent logs ev locally, normalizes it, and submits it to the
// backend, queuing it for retry on failure.
func (c *Client) ProcessEvent(ctx context.Context, ev crossing.Event) error {
	if err := c.LogEventLocally(ev); err != nil {
		c.logger.Error("failed to log event locally", "error", err)
	}
	payload := NormalizePayload(ev)
	ok := c.submit(ctx, payload)
	if !ok {
		c.queueEvent(payload)
	}
	return nil
}

// submit attempts delivery, retrying up to cfg.RetryAttempts times with
// cfg.RetryDelay between attempts.
func (c *Client) submit(ctx context.Context, payload Payload) bool {
	for attempt := 0; attempt < c.cfg.RetryAttempts; attempt++ {
		if c.post(ctx, payload) {
			c.setOnline(true)
			return true
		}
		if attempt < c.cfg.RetryAttempts-1 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}
	c.setOnline(false)
	return false
}

func (c *Client) post(ctx context.Context, payload Payload) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		c.logger.Error("failed to marshal event payload", "error", err)
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIURL, bytes.NewReader(body))
	if err != nil {
		c.logger.Error("failed to build event request", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("event submission failed", "error", err)
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
		return true
	}
	c.logger.Warn("backend rejected event", "status_code", resp.StatusCode)
	return false
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isOnline = online
}

func (c *Client) queueEvent(payload Payload) {
	c.mu.Lock()
	c.queue = append(c.queue, payload)
	size := len(c.queue)
	c.mu.Unlock()

	if err := appendJSONL(c.cfg.QueuePath, payload); err != nil {
		c.logger.Error("failed to persist queued event", "error", err)
	}
	c.logger.Warn("event queued for retry", "queue_size", size)
}

// FlushResult reports the outcome of a queue flush attempt.
type FlushResult struct {
	Flushed, Failed int
}

// FlushQueuedEvents retries up to maxEvents queued submissions, rewriting
// the durable queue file to reflect whatever remains.
func (c *Client) FlushQueuedEvents(ctx context.Context, maxEvents int) FlushResult {
	c.mu.Lock()
	pending := c.queue
	c.mu.Unlock()

	if len(pending) == 0 {
		return FlushResult{}
	}

	var result FlushResult
	var remaining []Payload

	for idx, payload := range pending {
		if idx >= maxEvents {
			remaining = append(remaining, pending[idx:]...)
			break
		}
		if c.post(ctx, payload) {
			result.Flushed++
		} else {
			result.Failed++
			remaining = append(remaining, payload)
		}
	}

	c.mu.Lock()
	c.queue = remaining
	c.mu.Unlock()

	if err := rewriteQueueFile(c.cfg.QueuePath, remaining); err != nil {
		c.logger.Error("failed to rewrite queue file", "error", err)
	}
	if result.Flushed > 0 || result.Failed > 0 {
		c.logger.Info("queue flush completed", "flushed", result.Flushed, "failed", result.Failed, "remaining", len(remaining))
	}
	return result
}

// HealthCheck probes the backend's /health endpoint derived from APIURL.
func (c *Client) HealthCheck(ctx context.Context) bool {
	healthURL := healthURLFor(c.cfg.APIURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, healthURL, nil)
	if err != nil {
		c.setOnline(false)
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("backend health check failed", "error", err)
		c.setOnline(false)
		return false
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode == http.StatusOK
	c.setOnline(healthy)
	return healthy
}

func healthURLFor(apiURL string) string {
	idx := strings.LastIndex(apiURL, "/")
	if idx < 0 {
		return apiURL + "/health"
	}
	return apiURL[:idx] + "/health"
}

func appendJSONL(path string, v interface{}) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	encoded, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = f.Write(append(encoded, '\n'))
	return err
}

func loadQueue(path string) ([]Payload, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var queue []Payload
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var p Payload
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue // skip malformed queued event line
		}
		queue = append(queue, p)
	}
	return queue, scanner.Err()
}

func rewriteQueueFile(path string, queue []Payload) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, p := range queue {
		encoded, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(encoded, '\n')); err != nil {
			return err
		}
	}
	return nil
}
