// Package tracker assigns stable track IDs to per-frame detections and
// maintains the lifecycle (hit/miss/history/eviction) of each active track.
package tracker

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/smartpark/sentinel/internal/vision/detection"
)

// TrackState is the lifecycle record kept for one active track.
type TrackState struct {
	TrackID       string
	ClassName     string
	LastCentroid  detection.Point
	LastSeenFrame int
	HitCount      int
	MissCount     int
	History       []detection.Point
}

// TrackedObject is a detection annotated with the track ID the Assigner
// matched it to for this frame.
type TrackedObject struct {
	TrackID    string
	FrameID    int
	ClassID    int
	ClassName  string
	Confidence float64
	BBox       detection.BoundingBox
	Centroid   detection.Point
}

// Assignment is what the external multi-object tracker backend returns for
// one detection it chose to associate with a track.
type Assignment struct {
	DetectionIndex int
	TrackerID      int64 // 0 means the backend assigned no persistent ID
}

// Assigner is the external tracking backend boundary (e.g. a ByteTrack
// implementation); this package owns only the surrounding lifecycle
// bookkeeping, not the association algorithm itself.
type Assigner interface {
	Update(detections []detection.Detection) ([]Assignment, error)
}

// Config controls track lifecycle bookkeeping.
type Config struct {
	// TrackBuffer is both the maximum history length retained per track
	// and the number of consecutive missed frames tolerated before a
	// track is evicted.
	TrackBuffer int
}

// Tracker wraps a pluggable Assigner with explicit track-lifecycle state.
type Tracker struct {
	assigner Assigner
	cfg      Config
	logger   *slog.Logger

	mu            sync.Mutex
	activeTracks  map[string]*TrackState
}

// New creates a Tracker bound to assigner.
func New(assigner Assigner, cfg Config) *Tracker {
	if cfg.TrackBuffer <= 0 {
		cfg.TrackBuffer = 30
	}
	return &Tracker{
		assigner:     assigner,
		cfg:          cfg,
		logger:       slog.Default().With("component", "tracker"),
		activeTracks: make(map[string]*TrackState),
	}
}

// Update associates detections with existing or new tracks for frameID,
// updates lifecycle state, and evicts tracks that have missed too many
// consecutive frames. Assigner errors are logged and yield no tracked
// objects for this frame rather than propagating.
func (t *Tracker) Update(detections []detection.Detection, frameID int) []TrackedObject {
	assignments, err := t.assigner.Update(detections)
	if err != nil {
		t.logger.Error("tracker assignment failed", "error", err, "frame_id", frameID)
		return nil
	}

	tracked := t.toTrackedObjects(assignments, detections, frameID)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.updateTrackState(tracked, frameID)

	t.logger.Debug("frame tracked",
		"frame_id", frameID,
		"detections", len(detections),
		"tracked", len(tracked),
		"active_tracks", len(t.activeTracks),
	)
	return tracked
}

func (t *Tracker) toTrackedObjects(assignments []Assignment, detections []detection.Detection, frameID int) []TrackedObject {
	out := make([]TrackedObject, 0, len(assignments))
	for idx, a := range assignments {
		if a.DetectionIndex < 0 || a.DetectionIndex >= len(detections) {
			continue
		}
		d := detections[a.DetectionIndex]

		var trackID string
		if a.TrackerID == 0 {
			trackID = fmt.Sprintf("track_%d_%d", frameID, idx)
		} else {
			trackID = fmt.Sprintf("%d", a.TrackerID)
		}

		out = append(out, TrackedObject{
			TrackID:    trackID,
			FrameID:    frameID,
			ClassID:    d.ClassID,
			ClassName:  d.ClassName,
			Confidence: d.Confidence,
			BBox:       d.BBox,
			Centroid:   d.Centroid,
		})
	}
	return out
}

// updateTrackState must be called with mu held.
func (t *Tracker) updateTrackState(tracked []TrackedObject, frameID int) {
	seen := make(map[string]bool, len(tracked))

	for _, obj := range tracked {
		seen[obj.TrackID] = true

		if state, ok := t.activeTracks[obj.TrackID]; ok {
			state.LastCentroid = obj.Centroid
			state.LastSeenFrame = frameID
			state.HitCount++
			state.MissCount = 0
			state.History = append(state.History, obj.Centroid)
			if len(state.History) > t.cfg.TrackBuffer {
				state.History = state.History[len(state.History)-t.cfg.TrackBuffer:]
			}
			continue
		}

		t.activeTracks[obj.TrackID] = &TrackState{
			TrackID:       obj.TrackID,
			ClassName:     obj.ClassName,
			LastCentroid:  obj.Centroid,
			LastSeenFrame: frameID,
			HitCount:      1,
			History:       []detection.Point{obj.Centroid},
		}
	}

	var stale []string
	for id, state := range t.activeTracks {
		if seen[id] {
			continue
		}
		state.MissCount++
		if state.MissCount > t.cfg.TrackBuffer {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(t.activeTracks, id)
	}
}

// Metrics reports operational counters for the current track set.
type Metrics struct {
	ActiveTracks  int
	TotalTrackHits int
}

// Metrics returns a snapshot of basic consistency metrics.
func (t *Tracker) Metrics() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := Metrics{ActiveTracks: len(t.activeTracks)}
	for _, state := range t.activeTracks {
		m.TotalTrackHits += state.HitCount
	}
	return m
}

// Track returns the current lifecycle state for trackID, if active.
func (t *Tracker) Track(trackID string) (TrackState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.activeTracks[trackID]
	if !ok {
		return TrackState{}, false
	}
	return *state, true
}

// Reset clears all active track state.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.activeTracks = make(map[string]*TrackState)
	t.logger.Info("tracker reset")
}
