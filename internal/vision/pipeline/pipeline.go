// Package pipeline wires one camera's acquirer, detector, tracker,
// crossing engine, and transmit client into a single per-camera
// background loop.
package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/smartpark/sentinel/internal/vision/acquirer"
	"github.com/smartpark/sentinel/internal/vision/crossing"
	"github.com/smartpark/sentinel/internal/vision/detection"
	"github.com/smartpark/sentinel/internal/vision/transmit"
	"github.com/smartpark/sentinel/internal/vision/tracker"
)

// Camera bundles one camera's already-constructed pipeline stages.
type Camera struct {
	ID        string
	Source    *acquirer.VideoSource
	Regulator *acquirer.FrameRateRegulator
	Detector  *detection.Detector
	Tracker   *tracker.Tracker
	Crossing  *crossing.Engine
}

// Pipeline runs every registered camera's acquire->detect->track->cross
// sequence concurrently, submitting generated events through a shared
// transmit client.
type Pipeline struct {
	cameras       []*Camera
	transmit      *transmit.Client
	frameWriter   *FrameWriter
	cleanupEvery  int
	logger        *slog.Logger

	wg       sync.WaitGroup
	stopChan chan struct{}
}

// Option configures Pipeline construction.
type Option func(*Pipeline)

// WithFrameWriter enables periodic latest-frame snapshotting for the
// /camera/latest-frame endpoint.
func WithFrameWriter(w *FrameWriter) Option {
	return func(p *Pipeline) { p.frameWriter = w }
}

// New creates a Pipeline over cameras, submitting crossing events through
// client.
func New(cameras []*Camera, client *transmit.Client, opts ...Option) *Pipeline {
	p := &Pipeline{
		cameras:      cameras,
		transmit:     client,
		cleanupEvery: 300,
		logger:       slog.Default().With("component", "pipeline"),
		stopChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches one background goroutine per camera. It returns once all
// goroutines have been launched, not once they've finished (they run
// until ctx is canceled or Stop is called).
func (p *Pipeline) Start(ctx context.Context) {
	for _, cam := range p.cameras {
		p.wg.Add(1)
		go p.runCamera(ctx, cam)
	}
	p.logger.Info("pipeline started", "cameras", len(p.cameras))
}

// Stop signals every camera loop to exit and waits for them to finish.
func (p *Pipeline) Stop() {
	close(p.stopChan)
	p.wg.Wait()
	for _, cam := range p.cameras {
		_ = cam.Source.Close()
	}
	p.logger.Info("pipeline stopped")
}

func (p *Pipeline) runCamera(ctx context.Context, cam *Camera) {
	defer p.wg.Done()
	logger := p.logger.With("camera_id", cam.ID)
	logger.Info("camera pipeline starting")

	if err := cam.Detector.WarmUp(ctx); err != nil {
		logger.Warn("detector warm-up failed, continuing anyway", "error", err)
	}

	frameID := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		default:
		}

		cam.Regulator.Tick(ctx)

		frame, err := cam.Source.ReadFrame(ctx)
		if err != nil {
			logger.Error("frame acquisition failed, stopping camera", "error", err)
			return
		}

		frameID++
		p.processFrame(ctx, cam, frame, frameID, logger)

		if frameID%p.cleanupEvery == 0 {
			cam.Crossing.ClearOldTracks(10*p.cleanupEvery, frameID)
		}
	}
}

func (p *Pipeline) processFrame(ctx context.Context, cam *Camera, frame detection.Frame, frameID int, logger *slog.Logger) {
	detections := cam.Detector.Detect(ctx, frame)
	tracked := cam.Tracker.Update(detections, frameID)
	events := cam.Crossing.ProcessFrame(tracked, frameID, time.Now().UTC())

	for _, ev := range events {
		if err := p.transmit.ProcessEvent(ctx, ev); err != nil {
			logger.Error("failed to process crossing event", "error", err, "track_id", ev.TrackID)
		}
	}

	if p.frameWriter != nil && (frameID-1)%p.frameWriter.everyNFrames == 0 {
		if err := p.frameWriter.Write(cam.ID, frame); err != nil {
			logger.Warn("failed to write latest frame snapshot", "error", err)
		}
	}
}

// Health lists every configured camera as healthy. It does not inspect
// whether a camera's source is open or whether its loop is still running.
func (p *Pipeline) Health() map[string]bool {
	health := make(map[string]bool, len(p.cameras))
	for _, cam := range p.cameras {
		health[cam.ID] = true
	}
	return health
}
