// Package monitoring aggregates in-process request metrics and evaluates
// simple operational alert conditions for the backend API.
package monitoring

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// Thresholds controls when State.EvaluateAlerts reports a condition.
type Thresholds struct {
	ErrorRate            float64
	LatencyMillis        float64
	LowAvailabilitySlots int
}

// Record is one sampled HTTP request.
type Record struct {
	Method     string
	Path       string
	StatusCode int
	DurationMS float64
}

// Alert is a single operational condition raised by EvaluateAlerts.
type Alert struct {
	Code     string `json:"code"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// LowAvailabilityFloor is the minimal shape EvaluateAlerts needs from a
// floor to report a LOW_PARKING_AVAILABILITY alert, decoupling this package
// from internal/floors.
type LowAvailabilityFloor struct {
	Name           string
	AvailableSlots int
}

// Snapshot is the point-in-time view returned by /monitoring/metrics.
type Snapshot struct {
	StartedAt          string         `json:"started_at"`
	HistoryWindowSize  int            `json:"history_window_size"`
	RecentRequestCount int            `json:"recent_request_count"`
	Recent5xxCount     int            `json:"recent_5xx_count"`
	RecentErrorRate    float64        `json:"recent_error_rate"`
	RecentAvgLatencyMS float64        `json:"recent_avg_latency_ms"`
	StatusCounts       map[string]int `json:"status_counts"`
	TopRoutes          []RouteCount   `json:"top_routes"`
}

// RouteCount is a "METHOD path" label paired with its observed count.
type RouteCount struct {
	Route string `json:"route"`
	Count int    `json:"count"`
}

// State is an in-memory metrics aggregator. It holds a fixed-size ring
// buffer of the most recent requests plus running counters, guarded by a
// single mutex. Grounded on the reference MonitoringState: recording and
// reading both take the same lock, and the buffer overwrites its oldest
// entry once full rather than growing unbounded.
type State struct {
	thresholds Thresholds
	startedAt  time.Time

	mu          sync.Mutex
	history     []Record
	historySize int
	writeIndex  int
	filled      bool

	routeCounts  map[string]int
	statusCounts map[string]int
	errorCounts  map[string]int
}

const minHistorySize = 50

// New creates a State with the given ring-buffer capacity (floored at 50
// to keep the error-rate/latency averages statistically meaningful).
func New(historySize int, thresholds Thresholds) *State {
	if historySize < minHistorySize {
		historySize = minHistorySize
	}
	return &State{
		thresholds:   thresholds,
		startedAt:    time.Now().UTC(),
		history:      make([]Record, historySize),
		historySize:  historySize,
		routeCounts:  make(map[string]int),
		statusCounts: make(map[string]int),
		errorCounts:  make(map[string]int),
	}
}

// RecordRequest appends a sampled request to the ring buffer and updates
// the running counters.
func (s *State) RecordRequest(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[s.writeIndex] = r
	s.writeIndex = (s.writeIndex + 1) % s.historySize
	if s.writeIndex == 0 {
		s.filled = true
	}

	s.routeCounts[r.Method+" "+r.Path]++
	s.statusCounts[strconv.Itoa(r.StatusCode)]++
	switch {
	case r.StatusCode >= 500:
		s.errorCounts["5xx"]++
	case r.StatusCode >= 400:
		s.errorCounts["4xx"]++
	}
}

// recent returns the live entries in the ring buffer, oldest first.
func (s *State) recent() []Record {
	if !s.filled {
		out := make([]Record, s.writeIndex)
		copy(out, s.history[:s.writeIndex])
		return out
	}
	out := make([]Record, s.historySize)
	copy(out, s.history[s.writeIndex:])
	copy(out[s.historySize-s.writeIndex:], s.history[:s.writeIndex])
	return out
}

// Snapshot computes the current aggregate view.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	recent := s.recent()
	statusCounts := make(map[string]int, len(s.statusCounts))
	for k, v := range s.statusCounts {
		statusCounts[k] = v
	}
	routeCounts := make(map[string]int, len(s.routeCounts))
	for k, v := range s.routeCounts {
		routeCounts[k] = v
	}
	s.mu.Unlock()

	total := len(recent)
	var errors int
	var totalLatency float64
	for _, r := range recent {
		if r.StatusCode >= 500 {
			errors++
		}
		totalLatency += r.DurationMS
	}

	var errorRate, avgLatency float64
	if total > 0 {
		errorRate = float64(errors) / float64(total)
		avgLatency = totalLatency / float64(total)
	}

	return Snapshot{
		StartedAt:          s.startedAt.Format(time.RFC3339),
		HistoryWindowSize:  s.historySize,
		RecentRequestCount: total,
		Recent5xxCount:     errors,
		RecentErrorRate:    round4(errorRate),
		RecentAvgLatencyMS: round2(avgLatency),
		StatusCounts:       statusCounts,
		TopRoutes:          topRoutes(routeCounts, 10),
	}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}

func round4(f float64) float64 {
	return float64(int(f*10000+0.5)) / 10000
}

func topRoutes(counts map[string]int, limit int) []RouteCount {
	out := make([]RouteCount, 0, len(counts))
	for route, count := range counts {
		out = append(out, RouteCount{Route: route, Count: count})
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Count > out[j-1].Count; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// EvaluateAlerts reports the operational conditions currently in breach of
// thresholds. lowAvailability may be nil or empty when no floor is below
// the capacity threshold.
func (s *State) EvaluateAlerts(lowAvailability []LowAvailabilityFloor) []Alert {
	snap := s.Snapshot()
	var alerts []Alert

	if snap.RecentErrorRate >= s.thresholds.ErrorRate {
		alerts = append(alerts, Alert{
			Code:     "HIGH_ERROR_RATE",
			Severity: "high",
			Message: fmt.Sprintf("recent 5xx error rate %.2f%% exceeds threshold %.2f%%",
				snap.RecentErrorRate*100, s.thresholds.ErrorRate*100),
		})
	}

	if snap.RecentAvgLatencyMS >= s.thresholds.LatencyMillis {
		alerts = append(alerts, Alert{
			Code:     "HIGH_LATENCY",
			Severity: "medium",
			Message: fmt.Sprintf("recent average latency %.2fms exceeds threshold %.2fms",
				snap.RecentAvgLatencyMS, s.thresholds.LatencyMillis),
		})
	}

	if len(lowAvailability) > 0 {
		names := ""
		limit := len(lowAvailability)
		if limit > 5 {
			limit = 5
		}
		for i := 0; i < limit; i++ {
			if i > 0 {
				names += ", "
			}
			names += lowAvailability[i].Name
		}
		alerts = append(alerts, Alert{
			Code:     "LOW_PARKING_AVAILABILITY",
			Severity: "medium",
			Message:  fmt.Sprintf("floors at or below %d available slots: %s", s.thresholds.LowAvailabilitySlots, names),
		})
	}

	return alerts
}
