package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadBackendConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "backend.yaml")

	configContent := `
version: "1.0"
database:
  path: "/data/test.db"
api:
  keys: ["key-a", "key-b"]
  rate_limit: 100
  rate_limit_window_seconds: 30
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadBackendConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Version != "1.0" {
		t.Errorf("expected version '1.0', got '%s'", cfg.Version)
	}
	if cfg.Database.Path != "/data/test.db" {
		t.Errorf("expected database path '/data/test.db', got '%s'", cfg.Database.Path)
	}
	if cfg.API.RateLimit != 100 {
		t.Errorf("expected rate_limit 100, got %d", cfg.API.RateLimit)
	}
	if len(cfg.API.Keys) != 2 {
		t.Errorf("expected 2 api keys, got %d", len(cfg.API.Keys))
	}
	// defaults for unset fields
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "*" {
		t.Errorf("expected default CORS origin '*', got %v", cfg.CORS.AllowedOrigins)
	}
	if cfg.Monitoring.HistorySize != 200 {
		t.Errorf("expected default monitoring history size 200, got %d", cfg.Monitoring.HistorySize)
	}
}

func TestLoadBackendConfig_NonExistent(t *testing.T) {
	_, err := LoadBackendConfig("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error when loading non-existent file")
	}
}

func TestLoadBackendConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "backend.yaml")
	if err := os.WriteFile(configPath, []byte("version: \"1.0\"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("DATABASE_URL", "/override/path.db")
	t.Setenv("API_KEYS", "override-key-1, override-key-2")
	t.Setenv("API_RATE_LIMIT", "250")
	t.Setenv("MONITOR_ERROR_RATE_THRESHOLD", "0.25")

	cfg, err := LoadBackendConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "/override/path.db" {
		t.Errorf("expected DATABASE_URL override, got '%s'", cfg.Database.Path)
	}
	if len(cfg.API.Keys) != 2 || cfg.API.Keys[0] != "override-key-1" {
		t.Errorf("expected API_KEYS override, got %v", cfg.API.Keys)
	}
	if cfg.API.RateLimit != 250 {
		t.Errorf("expected API_RATE_LIMIT override, got %d", cfg.API.RateLimit)
	}
	if cfg.Monitoring.ErrorRateThreshold != 0.25 {
		t.Errorf("expected MONITOR_ERROR_RATE_THRESHOLD override, got %v", cfg.Monitoring.ErrorRateThreshold)
	}
}

func TestLoadVisionConfig_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vision.yaml")
	if err := os.WriteFile(configPath, []byte("version: \"1.0\"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadVisionConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Video.TargetFPS != 15 {
		t.Errorf("expected default target_fps 15, got %d", cfg.Video.TargetFPS)
	}
	if cfg.Model.ConfidenceThreshold != 0.5 {
		t.Errorf("expected default confidence_threshold 0.5, got %v", cfg.Model.ConfidenceThreshold)
	}
	if len(cfg.Model.TargetClasses) != 4 {
		t.Errorf("expected 4 default target classes, got %v", cfg.Model.TargetClasses)
	}
	if cfg.Event.AreaThreshold != 100 {
		t.Errorf("expected default area_threshold 100, got %d", cfg.Event.AreaThreshold)
	}
	if cfg.Event.IdempotencyWindowSeconds != 5 {
		t.Errorf("expected default idempotency window 5s, got %v", cfg.Event.IdempotencyWindowSeconds)
	}
}

func TestLoadVisionConfig_EnvOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vision.yaml")
	if err := os.WriteFile(configPath, []byte("version: \"1.0\"\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	t.Setenv("BACKEND_API_URL", "http://backend.internal:9000")
	t.Setenv("MODEL_CONFIDENCE_THRESHOLD", "0.7")
	t.Setenv("TRACKER_TRACK_BUFFER", "45")
	t.Setenv("EVENT_REVERSAL_SUPPRESSION_FRAMES", "30")
	t.Setenv("LOW_LIGHT_ENHANCE_FRAME", "true")

	cfg, err := LoadVisionConfig(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.BackendAPIURL != "http://backend.internal:9000" {
		t.Errorf("expected BACKEND_API_URL override, got '%s'", cfg.BackendAPIURL)
	}
	if cfg.Model.ConfidenceThreshold != 0.7 {
		t.Errorf("expected MODEL_CONFIDENCE_THRESHOLD override, got %v", cfg.Model.ConfidenceThreshold)
	}
	if cfg.Tracker.TrackBuffer != 45 {
		t.Errorf("expected TRACKER_TRACK_BUFFER override, got %d", cfg.Tracker.TrackBuffer)
	}
	if cfg.Event.ReversalSuppressionFrames != 30 {
		t.Errorf("expected EVENT_REVERSAL_SUPPRESSION_FRAMES override, got %d", cfg.Event.ReversalSuppressionFrames)
	}
	if !cfg.LowLight.EnhanceFrame {
		t.Error("expected LOW_LIGHT_ENHANCE_FRAME override to be true")
	}
}

func TestLoadCameras_MissingFileReturnsEmpty(t *testing.T) {
	cameras, err := LoadCameras(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("expected no error for missing cameras file, got %v", err)
	}
	if len(cameras) != 0 {
		t.Errorf("expected empty map, got %v", cameras)
	}
}

func TestLoadCameras_KeyedByCameraID(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "cameras.json")
	content := `[
		{"camera_id": "cam1", "floor_id": 1, "video_type": "file", "video_source": "./clip.mp4"},
		{"camera_id": "cam2", "floor_id": 2, "video_type": "rtsp", "video_source": "rtsp://example/stream"}
	]`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write cameras file: %v", err)
	}

	cameras, err := LoadCameras(path)
	if err != nil {
		t.Fatalf("failed to load cameras: %v", err)
	}
	if len(cameras) != 2 {
		t.Fatalf("expected 2 cameras, got %d", len(cameras))
	}
	if cameras["cam2"].FloorID != 2 {
		t.Errorf("expected cam2 floor_id=2, got %d", cameras["cam2"].FloorID)
	}
}
