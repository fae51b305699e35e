package monitoring

import "testing"

func TestSnapshot_EmptyState(t *testing.T) {
	s := New(50, Thresholds{ErrorRate: 0.1, LatencyMillis: 500, LowAvailabilitySlots: 5})
	snap := s.Snapshot()

	if snap.RecentRequestCount != 0 {
		t.Errorf("expected 0 requests, got %d", snap.RecentRequestCount)
	}
	if snap.RecentErrorRate != 0 {
		t.Errorf("expected 0 error rate, got %v", snap.RecentErrorRate)
	}
	if snap.HistoryWindowSize != 50 {
		t.Errorf("expected history window floored to 50, got %d", snap.HistoryWindowSize)
	}
}

func TestSnapshot_AggregatesRequests(t *testing.T) {
	s := New(50, Thresholds{})
	s.RecordRequest(Record{Method: "GET", Path: "/floors", StatusCode: 200, DurationMS: 10})
	s.RecordRequest(Record{Method: "GET", Path: "/floors", StatusCode: 200, DurationMS: 20})
	s.RecordRequest(Record{Method: "POST", Path: "/event", StatusCode: 500, DurationMS: 30})

	snap := s.Snapshot()
	if snap.RecentRequestCount != 3 {
		t.Fatalf("expected 3 requests, got %d", snap.RecentRequestCount)
	}
	if snap.Recent5xxCount != 1 {
		t.Errorf("expected 1 5xx, got %d", snap.Recent5xxCount)
	}
	wantRate := 1.0 / 3.0
	if diff := snap.RecentErrorRate - wantRate; diff > 0.01 || diff < -0.01 {
		t.Errorf("expected error rate ~%.4f, got %v", wantRate, snap.RecentErrorRate)
	}
	wantLatency := (10.0 + 20.0 + 30.0) / 3.0
	if diff := snap.RecentAvgLatencyMS - wantLatency; diff > 0.01 || diff < -0.01 {
		t.Errorf("expected avg latency ~%.2f, got %v", wantLatency, snap.RecentAvgLatencyMS)
	}
	if snap.StatusCounts["200"] != 2 || snap.StatusCounts["500"] != 1 {
		t.Errorf("unexpected status counts: %+v", snap.StatusCounts)
	}
}

func TestRecordRequest_RingBufferWraps(t *testing.T) {
	s := New(minHistorySize, Thresholds{})

	// Fill the buffer to capacity with slow requests, then overwrite it with
	// as many fast ones; only the fast ones should remain once the buffer wraps.
	for i := 0; i < minHistorySize; i++ {
		s.RecordRequest(Record{Method: "GET", Path: "/x", StatusCode: 200, DurationMS: 1000})
	}
	for i := 0; i < minHistorySize; i++ {
		s.RecordRequest(Record{Method: "GET", Path: "/x", StatusCode: 200, DurationMS: 1})
	}

	snap := s.Snapshot()
	if snap.RecentRequestCount != minHistorySize {
		t.Fatalf("expected buffer capped at %d, got %d", minHistorySize, snap.RecentRequestCount)
	}
	if snap.RecentAvgLatencyMS != 1 {
		t.Errorf("expected old slow samples evicted, avg latency = %v", snap.RecentAvgLatencyMS)
	}
}

func TestEvaluateAlerts_HighErrorRate(t *testing.T) {
	s := New(50, Thresholds{ErrorRate: 0.2, LatencyMillis: 10000, LowAvailabilitySlots: 5})
	for i := 0; i < 10; i++ {
		s.RecordRequest(Record{Method: "GET", Path: "/x", StatusCode: 500, DurationMS: 1})
	}

	alerts := s.EvaluateAlerts(nil)
	found := false
	for _, a := range alerts {
		if a.Code == "HIGH_ERROR_RATE" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected HIGH_ERROR_RATE alert, got %+v", alerts)
	}
}

func TestEvaluateAlerts_LowAvailability(t *testing.T) {
	s := New(50, Thresholds{ErrorRate: 1, LatencyMillis: 100000, LowAvailabilitySlots: 5})

	alerts := s.EvaluateAlerts([]LowAvailabilityFloor{{Name: "Ground", AvailableSlots: 2}})
	if len(alerts) != 1 || alerts[0].Code != "LOW_PARKING_AVAILABILITY" {
		t.Fatalf("expected a single LOW_PARKING_AVAILABILITY alert, got %+v", alerts)
	}
}

func TestEvaluateAlerts_NoneWhenHealthy(t *testing.T) {
	s := New(50, Thresholds{ErrorRate: 0.5, LatencyMillis: 10000, LowAvailabilitySlots: 5})
	s.RecordRequest(Record{Method: "GET", Path: "/x", StatusCode: 200, DurationMS: 5})

	alerts := s.EvaluateAlerts(nil)
	if len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
}
