// Package crossing detects parking-line crossings from tracked objects and
// turns them into entry/exit events, suppressing jitter, reversal, and
// occlusion-induced duplicates.
package crossing

import (
	"math"
	"time"

	"github.com/smartpark/sentinel/internal/vision/detection"
	"github.com/smartpark/sentinel/internal/vision/tracker"
)

// Direction is the mapped crossing direction.
type Direction string

const (
	DirectionEntry Direction = "entry"
	DirectionExit  Direction = "exit"
)

// Event is a single detected line crossing.
type Event struct {
	TrackID        string
	Direction      Direction
	Timestamp      time.Time
	CrossingPoint  detection.Point
	CameraID       string
	FloorID        int
	VehicleType    string
	Confidence     float64
	FrameID        int
}

// Config configures one camera's crossing line and suppression windows.
type Config struct {
	LineStart, LineEnd          detection.Point
	AreaThreshold                int
	CameraID                     string
	FloorID                      int
	DirectionMapping             map[string]Direction
	DuplicateCooldownFrames      int
	OcclusionToleranceFrames     int
	MinCrossingDistancePX        float64
	ReversalSuppressionFrames    int
}

// DefaultDirectionMapping is the primary-axis -> direction mapping used
// when a Config supplies none.
func DefaultDirectionMapping() map[string]Direction {
	return map[string]Direction{
		"up":       DirectionEntry,
		"down":     DirectionExit,
		"left":     DirectionEntry,
		"right":    DirectionExit,
		"positive": DirectionEntry,
		"negative": DirectionExit,
	}
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.AreaThreshold <= 0 {
		out.AreaThreshold = 100
	}
	if out.DirectionMapping == nil {
		out.DirectionMapping = DefaultDirectionMapping()
	}
	if out.DuplicateCooldownFrames <= 0 {
		out.DuplicateCooldownFrames = 12
	}
	if out.OcclusionToleranceFrames <= 0 {
		out.OcclusionToleranceFrames = 20
	}
	if out.MinCrossingDistancePX < 0 {
		out.MinCrossingDistancePX = 5
	}
	if out.ReversalSuppressionFrames <= 0 {
		out.ReversalSuppressionFrames = 20
	}
	return out
}

type trackHistory struct {
	position detection.Point
	frameID  int
}

type lastCrossing struct {
	direction Direction
	frameID   int
}

// Engine is a single camera's line-crossing detector, stateful across
// frames.
type Engine struct {
	cfg Config

	trackHistory map[string]trackHistory
	lastCrossing map[string]lastCrossing
}

// New creates an Engine for one camera's crossing line.
func New(cfg Config) *Engine {
	resolved := cfg.withDefaults()
	return &Engine{
		cfg:          resolved,
		trackHistory: make(map[string]trackHistory),
		lastCrossing: make(map[string]lastCrossing),
	}
}

// ProcessFrame evaluates every tracked object against the crossing line and
// returns the crossing events generated this frame.
func (e *Engine) ProcessFrame(tracked []tracker.TrackedObject, frameID int, now time.Time) []Event {
	var events []Event

	for _, obj := range tracked {
		area := obj.BBox.Width * obj.BBox.Height
		if area < e.cfg.AreaThreshold {
			continue
		}
		if obj.TrackID == "" {
			continue
		}

		ev, ok := e.detectLineCrossing(obj.TrackID, obj.Centroid, frameID, now)
		if !ok {
			continue
		}
		ev.CameraID = e.cfg.CameraID
		ev.FloorID = e.cfg.FloorID
		ev.VehicleType = obj.ClassName
		ev.Confidence = obj.Confidence
		ev.FrameID = frameID
		events = append(events, ev)
	}

	return events
}

func (e *Engine) detectLineCrossing(trackID string, centroid detection.Point, frameID int, timestamp time.Time) (Event, bool) {
	prev, hadPrev := e.trackHistory[trackID]
	e.trackHistory[trackID] = trackHistory{position: centroid, frameID: frameID}

	if !hadPrev {
		return Event{}, false
	}

	if frameID-prev.frameID > e.cfg.OcclusionToleranceFrames {
		return Event{}, false
	}

	if movementDistance(prev.position, centroid) < e.cfg.MinCrossingDistancePX {
		return Event{}, false
	}

	point, sign, crossed := e.checkLineCrossing(prev.position, centroid)
	if !crossed {
		return Event{}, false
	}

	direction := e.mapDirection(prev.position, centroid, sign)
	if e.isReversalSuppressed(trackID, direction, frameID) {
		return Event{}, false
	}
	if !e.isUniqueCrossing(trackID, frameID) {
		return Event{}, false
	}

	e.lastCrossing[trackID] = lastCrossing{direction: direction, frameID: frameID}

	return Event{
		TrackID:       trackID,
		Direction:     direction,
		Timestamp:     timestamp,
		CrossingPoint: point,
	}, true
}

// checkLineCrossing reports whether the segment prev->curr crosses the
// configured line, via a cross-product sign change test.
func (e *Engine) checkLineCrossing(prev, curr detection.Point) (point detection.Point, sign string, crossed bool) {
	start, end := e.cfg.LineStart, e.cfg.LineEnd

	crossProductSign := func(p detection.Point) int {
		return (end.X-start.X)*(p.Y-start.Y) - (end.Y-start.Y)*(p.X-start.X)
	}

	prevSide := crossProductSign(prev)
	currSide := crossProductSign(curr)

	if prevSide*currSide >= 0 {
		return detection.Point{}, "", false
	}

	point = detection.Point{X: (prev.X + curr.X) / 2, Y: (prev.Y + curr.Y) / 2}
	if currSide > 0 {
		sign = "positive"
	} else {
		sign = "negative"
	}
	return point, sign, true
}

// mapDirection picks the dominant motion axis relative to the line's
// orientation, then resolves it through the configured direction mapping.
func (e *Engine) mapDirection(prev, curr detection.Point, sign string) Direction {
	start, end := e.cfg.LineStart, e.cfg.LineEnd
	lineDX := abs(end.X - start.X)
	lineDY := abs(end.Y - start.Y)

	movementX := curr.X - prev.X
	movementY := curr.Y - prev.Y

	var primary string
	if lineDX >= lineDY {
		if movementY > 0 {
			primary = "down"
		} else {
			primary = "up"
		}
	} else {
		if movementX > 0 {
			primary = "right"
		} else {
			primary = "left"
		}
	}

	if d, ok := e.cfg.DirectionMapping[primary]; ok {
		return d
	}
	if d, ok := e.cfg.DirectionMapping[sign]; ok {
		return d
	}
	return DirectionEntry
}

// isUniqueCrossing enforces a single event per physical crossing by
// blocking any repeat crossing within the cooldown window, regardless of
// direction, to suppress line-jitter oscillation.
func (e *Engine) isUniqueCrossing(trackID string, frameID int) bool {
	prev, ok := e.lastCrossing[trackID]
	if !ok {
		return true
	}
	return frameID-prev.frameID > e.cfg.DuplicateCooldownFrames
}

// isReversalSuppressed blocks an opposite-direction recrossing shortly
// after the last one, which is far more likely to be backing-up jitter
// than a genuine second crossing.
func (e *Engine) isReversalSuppressed(trackID string, direction Direction, frameID int) bool {
	prev, ok := e.lastCrossing[trackID]
	if !ok {
		return false
	}
	opposite := (prev.direction == DirectionEntry && direction == DirectionExit) ||
		(prev.direction == DirectionExit && direction == DirectionEntry)
	if !opposite {
		return false
	}
	return frameID-prev.frameID <= e.cfg.ReversalSuppressionFrames
}

// ClearOldTracks drops track history and crossing memory for tracks not
// seen within maxAge frames of currentFrame, bounding memory growth.
func (e *Engine) ClearOldTracks(maxAge, currentFrame int) {
	for trackID, state := range e.trackHistory {
		if currentFrame-state.frameID > maxAge {
			delete(e.trackHistory, trackID)
			delete(e.lastCrossing, trackID)
		}
	}
}

func movementDistance(a, b detection.Point) float64 {
	dx := float64(b.X - a.X)
	dy := float64(b.Y - a.Y)
	return math.Hypot(dx, dy)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
