package detection

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// HTTPModel is a Model backed by an external model-serving HTTP endpoint
// (e.g. a YOLO inference server), the detection model's external boundary
// per spec.
type HTTPModel struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger

	mu           sync.Mutex
	requestCount int64
	errorCount   int64
	totalLatency time.Duration
}

// HTTPModelConfig configures an HTTPModel.
type HTTPModelConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPModel creates an HTTPModel client for the configured endpoint.
func NewHTTPModel(cfg HTTPModelConfig) *HTTPModel {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HTTPModel{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		logger:     slog.Default().With("component", "detection_model_client"),
	}
}

type inferRequestBody struct {
	ImageData           string  `json:"image_data"`
	Width                int     `json:"width"`
	Height               int     `json:"height"`
	ConfidenceThreshold  float64 `json:"confidence_threshold"`
	IOUThreshold         float64 `json:"iou_threshold"`
}

type inferResponseBody struct {
	Success    bool   `json:"success"`
	Error      string `json:"error"`
	Detections []struct {
		ClassID    int     `json:"class_id"`
		Confidence float64 `json:"confidence"`
		X1         float64 `json:"x1"`
		Y1         float64 `json:"y1"`
		X2         float64 `json:"x2"`
		Y2         float64 `json:"y2"`
	} `json:"detections"`
}

// Infer posts frame to the model server and parses its raw detections.
func (m *HTTPModel) Infer(ctx context.Context, frame Frame, confidenceThreshold, iouThreshold float64) ([]RawDetection, error) {
	start := time.Now()
	m.mu.Lock()
	m.requestCount++
	m.mu.Unlock()

	body := inferRequestBody{
		ImageData:           base64.StdEncoding.EncodeToString(frame.Data),
		Width:               frame.Width,
		Height:              frame.Height,
		ConfidenceThreshold: confidenceThreshold,
		IOUThreshold:        iouThreshold,
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		m.countError()
		return nil, fmt.Errorf("marshal inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/infer", bytes.NewReader(encoded))
	if err != nil {
		m.countError()
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.countError()
		return nil, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	m.mu.Lock()
	m.totalLatency += time.Since(start)
	m.mu.Unlock()

	var result inferResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		m.countError()
		return nil, fmt.Errorf("decode inference response: %w", err)
	}
	if !result.Success && result.Error != "" {
		m.countError()
		return nil, fmt.Errorf("model server error: %s", result.Error)
	}

	out := make([]RawDetection, 0, len(result.Detections))
	for _, d := range result.Detections {
		out = append(out, RawDetection{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			X1:         d.X1,
			Y1:         d.Y1,
			X2:         d.X2,
			Y2:         d.Y2,
		})
	}
	return out, nil
}

func (m *HTTPModel) countError() {
	m.mu.Lock()
	m.errorCount++
	m.mu.Unlock()
}

// ModelStats reports basic request/error/latency counters for operational
// monitoring.
type ModelStats struct {
	RequestCount    int64
	ErrorCount      int64
	AverageLatency  time.Duration
}

// Stats returns a snapshot of the client's request counters.
func (m *HTTPModel) Stats() ModelStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := ModelStats{RequestCount: m.requestCount, ErrorCount: m.errorCount}
	if m.requestCount > 0 {
		stats.AverageLatency = m.totalLatency / time.Duration(m.requestCount)
	}
	return stats
}
