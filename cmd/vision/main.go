// Command vision runs the camera-side detection/tracking/crossing
// pipeline: one goroutine per configured camera, submitting crossing
// events to the backend API over transmit.Client.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartpark/sentinel/internal/config"
	"github.com/smartpark/sentinel/internal/vision/acquirer"
	"github.com/smartpark/sentinel/internal/vision/crossing"
	"github.com/smartpark/sentinel/internal/vision/detection"
	"github.com/smartpark/sentinel/internal/vision/pipeline"
	"github.com/smartpark/sentinel/internal/vision/transmit"
	"github.com/smartpark/sentinel/internal/vision/tracker"
)

const (
	defaultConfigPath  = "/data/vision.yaml"
	defaultCamerasPath = "/data/cameras.json"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	configPath := getEnv("CONFIG_PATH", defaultConfigPath)
	cfg, err := config.LoadVisionConfig(configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err, "path", configPath)
		os.Exit(1)
	}

	if err := cfg.Watch(); err != nil {
		slog.Warn("failed to watch configuration file for changes", "error", err)
	}

	camerasPath := cfg.CamerasPath
	if camerasPath == "" {
		camerasPath = getEnv("CAMERAS_PATH", defaultCamerasPath)
	}
	roster, err := config.LoadCameras(camerasPath)
	if err != nil {
		slog.Error("failed to load camera roster", "error", err, "path", camerasPath)
		os.Exit(1)
	}
	if len(roster) == 0 {
		slog.Warn("camera roster is empty, vision process has nothing to run", "path", camerasPath)
	}

	slog.Info("starting vision", "version", cfg.Version, "cameras", len(roster))

	transmitClient, err := transmit.New(transmit.Config{
		APIURL:        cfg.BackendAPIURL,
		APIKey:        cfg.BackendAPIKey,
		Timeout:       secondsToDuration(cfg.Transmit.TimeoutSeconds),
		RetryAttempts: cfg.Transmit.RetryAttempts,
		RetryDelay:    secondsToDuration(cfg.Transmit.RetryDelaySeconds),
		LocalLogPath:  cfg.Transmit.LocalLogPath,
		QueuePath:     cfg.Transmit.QueuePath,
	})
	if err != nil {
		slog.Error("failed to construct transmit client", "error", err)
		os.Exit(1)
	}

	model := detection.NewHTTPModel(detection.HTTPModelConfig{BaseURL: getEnv("MODEL_SERVER_URL", "http://localhost:9001")})
	assignerFactory := func() tracker.Assigner {
		return tracker.NewHTTPAssigner(tracker.HTTPAssignerConfig{BaseURL: getEnv("TRACKER_SERVER_URL", "http://localhost:9002")})
	}

	cameras := make([]*pipeline.Camera, 0, len(roster))
	for id, cam := range roster {
		source := acquirer.New(acquirer.Config{
			Source:         cam.VideoSource,
			SourceType:     acquirer.SourceType(cam.VideoType),
			Width:          firstNonZero(cam.Width, cfg.Video.Width),
			Height:         firstNonZero(cam.Height, cfg.Video.Height),
			TargetFPS:      cfg.Video.TargetFPS,
			ReconnectDelay: secondsToDuration(cfg.Video.ReconnectDelaySeconds),
		}, acquirer.NewGoCVCapture())

		detector := detection.New(model, detection.Config{
			ConfidenceThreshold:          cfg.Model.ConfidenceThreshold,
			IOUThreshold:                 cfg.Model.IOUThreshold,
			TargetClasses:                cfg.Model.TargetClasses,
			DarkFrameBrightnessThreshold: cfg.LowLight.DarkFrameBrightnessThreshold,
			LowLightConfidenceFactor:     cfg.LowLight.ConfidenceFactor,
			LowLightMinConfidence:        cfg.LowLight.MinConfidence,
			LowLightEnhanceFrame:         cfg.LowLight.EnhanceFrame,
		})

		camTracker := tracker.New(assignerFactory(), tracker.Config{TrackBuffer: cfg.Tracker.TrackBuffer})

		lineStart, lineEnd := crossingLine(cam)
		crossingEngine := crossing.New(crossing.Config{
			LineStart:                 lineStart,
			LineEnd:                   lineEnd,
			AreaThreshold:             cfg.Event.AreaThreshold,
			CameraID:                  id,
			FloorID:                   cam.FloorID,
			DuplicateCooldownFrames:   cfg.Event.DuplicateCooldownFrames,
			OcclusionToleranceFrames:  cfg.Event.OcclusionToleranceFrames,
			MinCrossingDistancePX:     cfg.Event.MinCrossingDistancePX,
			ReversalSuppressionFrames: cfg.Event.ReversalSuppressionFrames,
		})

		cameras = append(cameras, &pipeline.Camera{
			ID:        id,
			Source:    source,
			Regulator: acquirer.NewFrameRateRegulator(cfg.Video.TargetFPS),
			Detector:  detector,
			Tracker:   camTracker,
			Crossing:  crossingEngine,
		})
	}

	var opts []pipeline.Option
	if cfg.FrameDir != "" {
		opts = append(opts, pipeline.WithFrameWriter(pipeline.NewFrameWriter(cfg.FrameDir, 30)))
	}

	pl := pipeline.New(cameras, transmitClient, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pl.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("shutting down vision pipeline")
	cancel()
	pl.Stop()
	slog.Info("vision pipeline stopped")
}

// crossingLine derives the counting line for a camera from its config,
// falling back to a horizontal line through the frame's vertical center.
func crossingLine(cam config.CameraConfig) (detection.Point, detection.Point) {
	if cam.LineStartX == 0 && cam.LineStartY == 0 && cam.LineEndX == 0 && cam.LineEndY == 0 {
		height := cam.Height
		if height == 0 {
			height = 720
		}
		width := cam.Width
		if width == 0 {
			width = 1280
		}
		return detection.Point{X: 0, Y: height / 2}, detection.Point{X: width, Y: height / 2}
	}
	return detection.Point{X: cam.LineStartX, Y: cam.LineStartY}, detection.Point{X: cam.LineEndX, Y: cam.LineEndY}
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
