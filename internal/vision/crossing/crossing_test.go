package crossing

import (
	"testing"
	"time"

	"github.com/smartpark/sentinel/internal/vision/detection"
	"github.com/smartpark/sentinel/internal/vision/tracker"
)

func trackedAt(trackID string, x, y int) tracker.TrackedObject {
	return tracker.TrackedObject{
		TrackID:    trackID,
		ClassName:  "car",
		Confidence: 0.9,
		BBox:       detection.BoundingBox{Width: 20, Height: 20},
		Centroid:   detection.Point{X: x, Y: y},
	}
}

func testConfig() Config {
	return Config{
		LineStart: detection.Point{X: 0, Y: 360},
		LineEnd:   detection.Point{X: 1280, Y: 360},
		CameraID:  "cam1",
		FloorID:   1,
	}
}

func TestProcessFrame_NoEventOnFirstSighting(t *testing.T) {
	e := New(testConfig())
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 350)}, 1, time.Unix(0, 0))
	if len(events) != 0 {
		t.Fatalf("expected no event on first sighting, got %d", len(events))
	}
}

func TestProcessFrame_DetectsDownwardCrossingAsExit(t *testing.T) {
	e := New(testConfig())
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 1, time.Unix(0, 0))
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 380)}, 2, time.Unix(0, 0))

	if len(events) != 1 {
		t.Fatalf("expected 1 crossing event, got %d", len(events))
	}
	if events[0].Direction != DirectionExit {
		t.Errorf("expected exit direction for downward crossing, got %s", events[0].Direction)
	}
	if events[0].CameraID != "cam1" || events[0].FloorID != 1 {
		t.Errorf("expected camera/floor metadata attached, got %+v", events[0])
	}
}

func TestProcessFrame_DetectsUpwardCrossingAsEntry(t *testing.T) {
	e := New(testConfig())
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 380)}, 1, time.Unix(0, 0))
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 2, time.Unix(0, 0))

	if len(events) != 1 {
		t.Fatalf("expected 1 crossing event, got %d", len(events))
	}
	if events[0].Direction != DirectionEntry {
		t.Errorf("expected entry direction for upward crossing, got %s", events[0].Direction)
	}
}

func TestProcessFrame_NoEventWithoutLineCrossing(t *testing.T) {
	e := New(testConfig())
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 100)}, 1, time.Unix(0, 0))
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 150)}, 2, time.Unix(0, 0))

	if len(events) != 0 {
		t.Fatalf("expected no crossing event, got %d", len(events))
	}
}

func TestProcessFrame_SuppressesDuplicateWithinCooldown(t *testing.T) {
	e := New(testConfig())
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 1, time.Unix(0, 0))
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 380)}, 2, time.Unix(0, 0))
	// jitter back across within cooldown window
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 3, time.Unix(0, 0))

	if len(events) != 0 {
		t.Fatalf("expected reversal-suppressed/cooldown-suppressed duplicate to be dropped, got %d", len(events))
	}
}

func TestProcessFrame_AllowsCrossingAfterCooldownExpires(t *testing.T) {
	cfg := testConfig()
	cfg.DuplicateCooldownFrames = 2
	cfg.ReversalSuppressionFrames = 1
	e := New(cfg)

	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 1, time.Unix(0, 0))
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 380)}, 2, time.Unix(0, 0)) // exit
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 10, time.Unix(0, 0)) // entry, 8 frames after the exit
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 380)}, 13, time.Unix(0, 0)) // exit, 3 frames after the entry

	if len(events) != 1 {
		t.Fatalf("expected crossing allowed after cooldown window passes, got %d", len(events))
	}
}

func TestProcessFrame_IgnoresBelowAreaThreshold(t *testing.T) {
	cfg := testConfig()
	cfg.AreaThreshold = 1000
	e := New(cfg)
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 1, time.Unix(0, 0))
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 380)}, 2, time.Unix(0, 0))

	if len(events) != 0 {
		t.Fatalf("expected small bbox filtered by area threshold, got %d", len(events))
	}
}

func TestProcessFrame_IgnoresAfterOcclusionGapExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.OcclusionToleranceFrames = 2
	e := New(cfg)
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 1, time.Unix(0, 0))
	events := e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 380)}, 10, time.Unix(0, 0))

	if len(events) != 0 {
		t.Fatalf("expected crossing dropped after long occlusion gap, got %d", len(events))
	}
}

func TestClearOldTracks_RemovesStaleHistory(t *testing.T) {
	e := New(testConfig())
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 1, time.Unix(0, 0))

	e.ClearOldTracks(5, 100)

	if _, ok := e.trackHistory["t1"]; ok {
		t.Fatal("expected stale track history to be cleared")
	}
}

func TestClearOldTracks_KeepsRecentHistory(t *testing.T) {
	e := New(testConfig())
	e.ProcessFrame([]tracker.TrackedObject{trackedAt("t1", 100, 340)}, 1, time.Unix(0, 0))

	e.ClearOldTracks(100, 10)

	if _, ok := e.trackHistory["t1"]; !ok {
		t.Fatal("expected recent track history to be kept")
	}
}
