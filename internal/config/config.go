// Package config provides configuration management for the parking
// structure counting system: a BackendConfig for the HTTP API process and
// a VisionConfig for the camera pipeline process.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// BackendConfig is the top-level configuration for cmd/backend.
type BackendConfig struct {
	Version     string            `yaml:"version"`
	Database    DatabaseConfig    `yaml:"database"`
	API         APIConfig         `yaml:"api"`
	CORS        CORSConfig        `yaml:"cors"`
	Monitoring  MonitoringConfig  `yaml:"monitoring"`
	VisionFrame VisionFrameConfig `yaml:"vision_frame"`
	Logging     LoggingConfig     `yaml:"logging"`
	SentryDSN   string            `yaml:"sentry_dsn,omitempty"`

	mu       sync.RWMutex    `yaml:"-"`
	path     string          `yaml:"-"`
	watchers []func(*BackendConfig) `yaml:"-"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// APIConfig holds auth and rate-limit settings for the HTTP API.
type APIConfig struct {
	Keys                []string `yaml:"keys"`
	RateLimit           int      `yaml:"rate_limit"`
	RateLimitWindowSecs int      `yaml:"rate_limit_window_seconds"`
}

// CORSConfig holds cross-origin settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// MonitoringConfig holds alert threshold settings.
type MonitoringConfig struct {
	HistorySize            int     `yaml:"history_size"`
	ErrorRateThreshold     float64 `yaml:"error_rate_threshold"`
	LatencyMillisThreshold float64 `yaml:"latency_ms_threshold"`
	LowAvailabilitySlots   int     `yaml:"low_availability_slots"`
}

// VisionFrameConfig holds the directory the vision pipeline writes
// annotated frames to, served by GET /camera/latest-frame.
type VisionFrameConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadBackendConfig loads the backend configuration from a
// YAML file, applying environment variable overrides and defaults.
func LoadBackendConfig(path string) (*BackendConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg BackendConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

func (c *BackendConfig) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.Database.Path == "" {
		c.Database.Path = "/data/parking.db"
	}
	if c.API.RateLimit == 0 {
		c.API.RateLimit = 60
	}
	if c.API.RateLimitWindowSecs == 0 {
		c.API.RateLimitWindowSecs = 60
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"*"}
	}
	if len(c.CORS.AllowedMethods) == 0 {
		c.CORS.AllowedMethods = []string{"GET", "POST", "OPTIONS"}
	}
	if len(c.CORS.AllowedHeaders) == 0 {
		c.CORS.AllowedHeaders = []string{"X-API-Key", "Content-Type"}
	}
	if c.Monitoring.HistorySize == 0 {
		c.Monitoring.HistorySize = 200
	}
	if c.Monitoring.ErrorRateThreshold == 0 {
		c.Monitoring.ErrorRateThreshold = 0.1
	}
	if c.Monitoring.LatencyMillisThreshold == 0 {
		c.Monitoring.LatencyMillisThreshold = 500
	}
	if c.Monitoring.LowAvailabilitySlots == 0 {
		c.Monitoring.LowAvailabilitySlots = 5
	}
	if c.VisionFrame.Dir == "" {
		c.VisionFrame.Dir = "/data/frames"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnvOverrides maps the environment variables named in the external
// interfaces contract onto their config fields, running after setDefaults
// so an empty env var never clobbers a YAML-set value.
func (c *BackendConfig) applyEnvOverrides() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("API_KEYS"); v != "" {
		c.API.Keys = splitCSV(v)
	}
	if v := envInt("API_RATE_LIMIT"); v != nil {
		c.API.RateLimit = *v
	}
	if v := envInt("API_RATE_LIMIT_WINDOW_SECONDS"); v != nil {
		c.API.RateLimitWindowSecs = *v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORS.AllowedOrigins = splitCSV(v)
	}
	if v := os.Getenv("CORS_ALLOWED_METHODS"); v != "" {
		c.CORS.AllowedMethods = splitCSV(v)
	}
	if v := os.Getenv("CORS_ALLOWED_HEADERS"); v != "" {
		c.CORS.AllowedHeaders = splitCSV(v)
	}
	if v := envInt("MONITOR_HISTORY_SIZE"); v != nil {
		c.Monitoring.HistorySize = *v
	}
	if v := envFloat("MONITOR_ERROR_RATE_THRESHOLD"); v != nil {
		c.Monitoring.ErrorRateThreshold = *v
	}
	if v := envFloat("MONITOR_LATENCY_MS_THRESHOLD"); v != nil {
		c.Monitoring.LatencyMillisThreshold = *v
	}
	if v := envInt("MONITOR_LOW_AVAILABILITY_SLOTS"); v != nil {
		c.Monitoring.LowAvailabilitySlots = *v
	}
	if v := os.Getenv("VISION_FRAME_DIR"); v != "" {
		c.VisionFrame.Dir = v
	}
	if v := os.Getenv("SENTRY_DSN"); v != "" {
		c.SentryDSN = v
	}
}

// Watch starts watching the backend config file for changes, invoking
// registered OnChange callbacks after each successful reload.
func (c *BackendConfig) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond)
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback invoked after every successful reload.
func (c *BackendConfig) OnChange(fn func(*BackendConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *BackendConfig) reload() {
	newCfg, err := LoadBackendConfig(c.path)
	if err != nil {
		slog.Error("failed to reload config", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.Database = newCfg.Database
	c.API = newCfg.API
	c.CORS = newCfg.CORS
	c.Monitoring = newCfg.Monitoring
	c.VisionFrame = newCfg.VisionFrame
	c.Logging = newCfg.Logging
	c.SentryDSN = newCfg.SentryDSN
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("backend configuration reloaded")
	for _, fn := range watchers {
		fn(c)
	}
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(name string) *int {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("ignoring malformed integer env override", "name", name, "value", v)
		return nil
	}
	return &n
}

func envFloat(name string) *float64 {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring malformed float env override", "name", name, "value", v)
		return nil
	}
	return &f
}

func envBool(name string) *bool {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("ignoring malformed boolean env override", "name", name, "value", v)
		return nil
	}
	return &b
}

// VisionConfig is the top-level configuration for cmd/vision.
type VisionConfig struct {
	Version       string         `yaml:"version"`
	BackendAPIURL string         `yaml:"backend_api_url"`
	BackendAPIKey string         `yaml:"backend_api_key"`
	CamerasPath   string         `yaml:"cameras_path"`
	FrameDir      string         `yaml:"frame_dir"`
	Video         VideoConfig    `yaml:"video"`
	Model         ModelConfig    `yaml:"model"`
	Tracker       TrackerConfig  `yaml:"tracker"`
	Event         EventConfig    `yaml:"event"`
	LowLight      LowLightConfig `yaml:"low_light"`
	Transmit      TransmitConfig `yaml:"transmit"`
	Logging       LoggingConfig  `yaml:"logging"`

	mu       sync.RWMutex        `yaml:"-"`
	path     string              `yaml:"-"`
	watchers []func(*VisionConfig) `yaml:"-"`
}

// VideoConfig holds frame-acquisition settings shared by every camera.
type VideoConfig struct {
	TargetFPS             int     `yaml:"target_fps"`
	Width                 int     `yaml:"width"`
	Height                int     `yaml:"height"`
	ReconnectDelaySeconds float64 `yaml:"reconnect_delay_seconds"`
}

// ModelConfig holds detection model thresholds.
type ModelConfig struct {
	ConfidenceThreshold float64  `yaml:"confidence_threshold"`
	IOUThreshold        float64  `yaml:"iou_threshold"`
	TargetClasses       []string `yaml:"target_classes"`
}

// TrackerConfig holds multi-object tracker lifecycle settings.
type TrackerConfig struct {
	TrackBuffer int `yaml:"track_buffer"`
}

// EventConfig holds line-crossing detection and event-ingestion settings.
type EventConfig struct {
	AreaThreshold             int     `yaml:"area_threshold"`
	DuplicateCooldownFrames   int     `yaml:"duplicate_cooldown_frames"`
	OcclusionToleranceFrames  int     `yaml:"occlusion_tolerance_frames"`
	MinCrossingDistancePX     float64 `yaml:"min_crossing_distance_px"`
	ReversalSuppressionFrames int     `yaml:"reversal_suppression_frames"`
	IdempotencyWindowSeconds  float64 `yaml:"idempotency_window_seconds"`
}

// LowLightConfig holds brightness-gated detection enhancement settings.
type LowLightConfig struct {
	EnhanceFrame                 bool    `yaml:"enhance_frame"`
	DarkFrameBrightnessThreshold float64 `yaml:"dark_frame_brightness_threshold"`
	ConfidenceFactor              float64 `yaml:"confidence_factor"`
	MinConfidence                 float64 `yaml:"min_confidence"`
}

// TransmitConfig holds backend-submission retry and offline-queue settings.
type TransmitConfig struct {
	TimeoutSeconds    float64 `yaml:"timeout_seconds"`
	RetryAttempts     int     `yaml:"retry_attempts"`
	RetryDelaySeconds float64 `yaml:"retry_delay_seconds"`
	LocalLogPath      string  `yaml:"local_log_path"`
	QueuePath         string  `yaml:"queue_path"`
}

// LoadVisionConfig loads the vision pipeline configuration
// from a YAML file, applying environment variable overrides and defaults.
func LoadVisionConfig(path string) (*VisionConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg VisionConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.path = path
	cfg.setDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

func (c *VisionConfig) setDefaults() {
	if c.Version == "" {
		c.Version = "1.0"
	}
	if c.BackendAPIURL == "" {
		c.BackendAPIURL = "http://localhost:8080/event"
	}
	if c.CamerasPath == "" {
		c.CamerasPath = "/data/cameras.json"
	}
	if c.FrameDir == "" {
		c.FrameDir = "/data/frames"
	}
	if c.Video.TargetFPS == 0 {
		c.Video.TargetFPS = 15
	}
	if c.Video.ReconnectDelaySeconds == 0 {
		c.Video.ReconnectDelaySeconds = 1
	}
	if c.Model.ConfidenceThreshold == 0 {
		c.Model.ConfidenceThreshold = 0.5
	}
	if c.Model.IOUThreshold == 0 {
		c.Model.IOUThreshold = 0.45
	}
	if len(c.Model.TargetClasses) == 0 {
		c.Model.TargetClasses = []string{"car", "motorcycle", "bus", "truck"}
	}
	if c.Tracker.TrackBuffer == 0 {
		c.Tracker.TrackBuffer = 30
	}
	if c.Event.AreaThreshold == 0 {
		c.Event.AreaThreshold = 100
	}
	if c.Event.DuplicateCooldownFrames == 0 {
		c.Event.DuplicateCooldownFrames = 12
	}
	if c.Event.OcclusionToleranceFrames == 0 {
		c.Event.OcclusionToleranceFrames = 20
	}
	if c.Event.MinCrossingDistancePX == 0 {
		c.Event.MinCrossingDistancePX = 5
	}
	if c.Event.ReversalSuppressionFrames == 0 {
		c.Event.ReversalSuppressionFrames = 20
	}
	if c.Event.IdempotencyWindowSeconds == 0 {
		c.Event.IdempotencyWindowSeconds = 5
	}
	if c.LowLight.DarkFrameBrightnessThreshold == 0 {
		c.LowLight.DarkFrameBrightnessThreshold = 60
	}
	if c.LowLight.ConfidenceFactor == 0 {
		c.LowLight.ConfidenceFactor = 0.8
	}
	if c.LowLight.MinConfidence == 0 {
		c.LowLight.MinConfidence = 0.2
	}
	if c.Transmit.TimeoutSeconds == 0 {
		c.Transmit.TimeoutSeconds = 5
	}
	if c.Transmit.RetryAttempts == 0 {
		c.Transmit.RetryAttempts = 3
	}
	if c.Transmit.RetryDelaySeconds == 0 {
		c.Transmit.RetryDelaySeconds = 1
	}
	if c.Transmit.LocalLogPath == "" {
		c.Transmit.LocalLogPath = "./logs/events_local.jsonl"
	}
	if c.Transmit.QueuePath == "" {
		c.Transmit.QueuePath = "./logs/events_queue.jsonl"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

func (c *VisionConfig) applyEnvOverrides() {
	if v := os.Getenv("BACKEND_API_URL"); v != "" {
		c.BackendAPIURL = v
	}
	if v := os.Getenv("BACKEND_API_KEY"); v != "" {
		c.BackendAPIKey = v
	}
	if v := os.Getenv("CAMERAS_PATH"); v != "" {
		c.CamerasPath = v
	}
	if v := os.Getenv("VISION_FRAME_DIR"); v != "" {
		c.FrameDir = v
	}
	if v := envInt("VIDEO_TARGET_FPS"); v != nil {
		c.Video.TargetFPS = *v
	}
	if v := envFloat("MODEL_CONFIDENCE_THRESHOLD"); v != nil {
		c.Model.ConfidenceThreshold = *v
	}
	if v := envFloat("MODEL_IOU_THRESHOLD"); v != nil {
		c.Model.IOUThreshold = *v
	}
	if v := os.Getenv("MODEL_TARGET_CLASSES"); v != "" {
		c.Model.TargetClasses = splitCSV(v)
	}
	if v := envInt("TRACKER_TRACK_BUFFER"); v != nil {
		c.Tracker.TrackBuffer = *v
	}
	if v := envInt("EVENT_AREA_THRESHOLD"); v != nil {
		c.Event.AreaThreshold = *v
	}
	if v := envInt("EVENT_REVERSAL_SUPPRESSION_FRAMES"); v != nil {
		c.Event.ReversalSuppressionFrames = *v
	}
	if v := envFloat("EVENT_IDEMPOTENCY_WINDOW_SECONDS"); v != nil {
		c.Event.IdempotencyWindowSeconds = *v
	}
	if v := envBool("LOW_LIGHT_ENHANCE_FRAME"); v != nil {
		c.LowLight.EnhanceFrame = *v
	}
}

// Watch starts watching the vision config file for changes, invoking
// registered OnChange callbacks after each successful reload.
func (c *VisionConfig) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&fsnotify.Write == fsnotify.Write {
					time.Sleep(100 * time.Millisecond)
					c.reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("vision config watch error", "error", err)
			}
		}
	}()

	return watcher.Add(c.path)
}

// OnChange registers a callback invoked after every successful reload.
func (c *VisionConfig) OnChange(fn func(*VisionConfig)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchers = append(c.watchers, fn)
}

func (c *VisionConfig) reload() {
	newCfg, err := LoadVisionConfig(c.path)
	if err != nil {
		slog.Error("failed to reload vision config", "error", err)
		return
	}

	c.mu.Lock()
	c.Version = newCfg.Version
	c.BackendAPIURL = newCfg.BackendAPIURL
	c.BackendAPIKey = newCfg.BackendAPIKey
	c.CamerasPath = newCfg.CamerasPath
	c.FrameDir = newCfg.FrameDir
	c.Video = newCfg.Video
	c.Model = newCfg.Model
	c.Tracker = newCfg.Tracker
	c.Event = newCfg.Event
	c.LowLight = newCfg.LowLight
	c.Transmit = newCfg.Transmit
	c.Logging = newCfg.Logging
	watchers := c.watchers
	c.mu.Unlock()

	slog.Info("vision configuration reloaded")
	for _, fn := range watchers {
		fn(c)
	}
}

// CameraConfig describes a single camera's video source, home floor, and
// optional per-camera crossing-line override.
type CameraConfig struct {
	CameraID    string `json:"camera_id"`
	FloorID     int    `json:"floor_id"`
	VideoType   string `json:"video_type"`
	VideoSource string `json:"video_source"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	LineStartX  int    `json:"line_start_x,omitempty"`
	LineStartY  int    `json:"line_start_y,omitempty"`
	LineEndX    int    `json:"line_end_x,omitempty"`
	LineEndY    int    `json:"line_end_y,omitempty"`
}

// LoadCameras reads the camera roster from a JSON file, keyed by camera
// id. A missing file yields an empty roster rather than an error, since a
// freshly deployed vision process may not have camera config written yet.
func LoadCameras(path string) (map[string]CameraConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]CameraConfig{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cameras file: %w", err)
	}

	var cameras []CameraConfig
	if err := json.Unmarshal(data, &cameras); err != nil {
		return nil, fmt.Errorf("failed to parse cameras file: %w", err)
	}

	byID := make(map[string]CameraConfig, len(cameras))
	for _, cam := range cameras {
		byID[cam.CameraID] = cam
	}
	return byID, nil
}
