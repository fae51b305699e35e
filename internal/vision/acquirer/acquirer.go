// Package acquirer regulates frame-acquisition rate and wraps the video
// capture backend (file or RTSP) with reconnect semantics.
package acquirer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/smartpark/sentinel/internal/vision/detection"
)

// ErrEndOfStream indicates the source has no more frames to read (a file
// has reached its end); callers should stop the pipeline for this camera.
var ErrEndOfStream = errors.New("acquirer: end of stream")

// SourceType distinguishes a finite file source from a live RTSP stream.
type SourceType string

const (
	SourceTypeFile SourceType = "file"
	SourceTypeRTSP SourceType = "rtsp"
)

// InferSourceType classifies source by its URI scheme.
func InferSourceType(source string) SourceType {
	if strings.HasPrefix(strings.ToLower(source), "rtsp://") {
		return SourceTypeRTSP
	}
	return SourceTypeFile
}

// Config describes one camera's video input.
type Config struct {
	Source                string
	SourceType             SourceType
	Width, Height          int
	TargetFPS              int
	ReconnectDelay         time.Duration
}

// Capture is the external capture backend boundary (a V4L2/RTSP/file
// decoder); this package owns only rate regulation and reconnect policy
// around it.
type Capture interface {
	Open(source string, width, height int) error
	Read() (detection.Frame, bool, error)
	Close() error
}

// FrameRateRegulator paces a read loop to a target FPS using wall-clock
// ticks, sleeping out the remainder of each frame interval.
type FrameRateRegulator struct {
	frameInterval time.Duration

	mu       sync.Mutex
	lastTick time.Time
	hasTick  bool
}

// NewFrameRateRegulator creates a regulator targeting targetFPS (minimum 1).
func NewFrameRateRegulator(targetFPS int) *FrameRateRegulator {
	if targetFPS < 1 {
		targetFPS = 1
	}
	return &FrameRateRegulator{frameInterval: time.Second / time.Duration(targetFPS)}
}

// Tick blocks, if necessary, until frameInterval has elapsed since the
// previous Tick call. The first call never blocks.
func (f *FrameRateRegulator) Tick(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	if !f.hasTick {
		f.hasTick = true
		f.lastTick = now
		return
	}

	elapsed := now.Sub(f.lastTick)
	if sleepFor := f.frameInterval - elapsed; sleepFor > 0 {
		timer := time.NewTimer(sleepFor)
		defer timer.Stop()
		select {
		case <-ctx.Done():
		case <-timer.C:
		}
	}
	f.lastTick = time.Now()
}

// VideoSource opens and reads frames from a Capture backend, reconnecting
// RTSP sources once per failed read and treating file-source read failure
// as end of stream.
type VideoSource struct {
	cfg     Config
	capture Capture
	logger  *slog.Logger

	isOpen bool
}

// New creates a VideoSource. capture is the backend implementation (a
// gocv-backed capture in production, a fake in tests).
func New(cfg Config, capture Capture) *VideoSource {
	if cfg.SourceType == "" {
		cfg.SourceType = InferSourceType(cfg.Source)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	return &VideoSource{
		cfg:     cfg,
		capture: capture,
		logger:  slog.Default().With("component", "video_source", "source", cfg.Source),
	}
}

// Open opens the underlying capture backend. Open is idempotent.
func (v *VideoSource) Open() error {
	if v.isOpen {
		return nil
	}
	v.logger.Info("opening video source", "source_type", v.cfg.SourceType)
	if err := v.capture.Open(v.cfg.Source, v.cfg.Width, v.cfg.Height); err != nil {
		return fmt.Errorf("open video source %q: %w", v.cfg.Source, err)
	}
	v.isOpen = true
	return nil
}

// Close releases the underlying capture backend.
func (v *VideoSource) Close() error {
	if !v.isOpen {
		return nil
	}
	v.isOpen = false
	return v.capture.Close()
}

// ReadFrame reads the next frame, transparently opening the source on
// first call. For RTSP sources a failed read triggers one reconnect
// attempt; for file sources a failed read is reported as ErrEndOfStream.
func (v *VideoSource) ReadFrame(ctx context.Context) (detection.Frame, error) {
	if !v.isOpen {
		if err := v.Open(); err != nil {
			return detection.Frame{}, err
		}
	}

	frame, ok, err := v.capture.Read()
	if err == nil && ok {
		return frame, nil
	}
	if err != nil {
		v.logger.Error("frame read failed", "error", err)
	}

	if v.cfg.SourceType != SourceTypeRTSP {
		return detection.Frame{}, ErrEndOfStream
	}

	v.logger.Warn("rtsp frame read failed, attempting reconnect")
	_ = v.Close()

	select {
	case <-ctx.Done():
		return detection.Frame{}, ctx.Err()
	case <-time.After(v.cfg.ReconnectDelay):
	}

	if err := v.Open(); err != nil {
		return detection.Frame{}, fmt.Errorf("reconnect failed: %w", err)
	}

	frame, ok, err = v.capture.Read()
	if err != nil {
		return detection.Frame{}, fmt.Errorf("read after reconnect: %w", err)
	}
	if !ok {
		return detection.Frame{}, ErrEndOfStream
	}
	return frame, nil
}
