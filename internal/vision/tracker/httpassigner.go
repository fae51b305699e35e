package tracker

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/smartpark/sentinel/internal/vision/detection"
)

// HTTPAssigner is an Assigner backed by an external multi-object-tracking
// HTTP endpoint (e.g. a ByteTrack server), the tracker's external
// boundary per spec.
type HTTPAssigner struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
}

// HTTPAssignerConfig configures an HTTPAssigner.
type HTTPAssignerConfig struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPAssigner creates an HTTPAssigner client for the configured
// endpoint.
func NewHTTPAssigner(cfg HTTPAssignerConfig) *HTTPAssigner {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &HTTPAssigner{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		logger:     slog.Default().With("component", "tracker_assigner_client"),
	}
}

type updateRequestDetection struct {
	ClassID    int     `json:"class_id"`
	Confidence float64 `json:"confidence"`
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
}

type updateResponseBody struct {
	Success     bool   `json:"success"`
	Error       string `json:"error"`
	Assignments []struct {
		DetectionIndex int   `json:"detection_index"`
		TrackerID      int64 `json:"tracker_id"`
	} `json:"assignments"`
}

// Update posts the frame's detections to the tracking server and returns
// the track-id assignments it computes.
func (a *HTTPAssigner) Update(detections []detection.Detection) ([]Assignment, error) {
	reqBody := make([]updateRequestDetection, len(detections))
	for i, d := range detections {
		reqBody[i] = updateRequestDetection{
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			X1:         d.BBox.X1,
			Y1:         d.BBox.Y1,
			X2:         d.BBox.X2,
			Y2:         d.BBox.Y2,
		}
	}
	encoded, err := json.Marshal(struct {
		Detections []updateRequestDetection `json:"detections"`
	}{Detections: reqBody})
	if err != nil {
		return nil, fmt.Errorf("marshal tracker update request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, a.baseURL+"/update", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("build tracker update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker update request failed: %w", err)
	}
	defer resp.Body.Close()

	var result updateResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode tracker update response: %w", err)
	}
	if !result.Success && result.Error != "" {
		return nil, fmt.Errorf("tracking server error: %s", result.Error)
	}

	out := make([]Assignment, 0, len(result.Assignments))
	for _, a := range result.Assignments {
		out = append(out, Assignment{DetectionIndex: a.DetectionIndex, TrackerID: a.TrackerID})
	}
	return out, nil
}
