// Package detection wraps an external object-detection backend with the
// pre-process/infer/post-process flow the vision pipeline requires: frame
// validation, low-light confidence relaxation, and target-class filtering.
package detection

import (
	"context"
	"errors"
	"fmt"
	"image/color"
	"log/slog"
)

// Point is a pixel coordinate.
type Point struct {
	X, Y int
}

// BoundingBox is an axis-aligned detection box in pixel coordinates.
type BoundingBox struct {
	X1, Y1, X2, Y2 int
	Width, Height  int
}

// Centroid returns the midpoint of the box.
func (b BoundingBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

// Detection is a single classified, confidence-filtered detection result.
type Detection struct {
	ClassID    int
	ClassName  string
	Confidence float64
	BBox       BoundingBox
	Centroid   Point
}

// Frame is a decoded video frame: interleaved BGR pixel data, row-major.
type Frame struct {
	Data          []byte
	Width, Height int
}

func (f Frame) validate() error {
	if f.Width <= 0 || f.Height <= 0 {
		return errors.New("frame has non-positive dimensions")
	}
	if len(f.Data) != f.Width*f.Height*3 {
		return fmt.Errorf("frame data length %d does not match %dx%d BGR buffer", len(f.Data), f.Width, f.Height)
	}
	return nil
}

// RawDetection is what the external model backend returns before
// class-name mapping and confidence/class filtering are applied.
type RawDetection struct {
	ClassID             int
	Confidence          float64
	X1, Y1, X2, Y2      float64
}

// Model is the external detection backend boundary (e.g. a YOLO model
// server); this package owns only the surrounding pre/post-processing.
type Model interface {
	Infer(ctx context.Context, frame Frame, confidenceThreshold, iouThreshold float64) ([]RawDetection, error)
}

// classNameByID mirrors the COCO class subset the backing model is assumed
// to report; only these four are ever of interest to the counting pipeline.
var classNameByID = map[int]string{
	2: "car",
	3: "motorcycle",
	5: "bus",
	7: "truck",
}

// Config controls preprocessing and confidence behavior.
type Config struct {
	ConfidenceThreshold          float64
	IOUThreshold                 float64
	TargetClasses                []string
	DarkFrameBrightnessThreshold float64
	LowLightConfidenceFactor     float64
	LowLightMinConfidence        float64
	LowLightEnhanceFrame         bool
}

// Detector runs the preprocess -> infer -> postprocess pipeline around a
// pluggable Model.
type Detector struct {
	model         Model
	cfg           Config
	targetClasses map[string]bool
	logger        *slog.Logger
}

// New creates a Detector bound to model.
func New(model Model, cfg Config) *Detector {
	targets := make(map[string]bool, len(cfg.TargetClasses))
	for _, c := range cfg.TargetClasses {
		targets[c] = true
	}
	if len(targets) == 0 {
		for _, name := range classNameByID {
			targets[name] = true
		}
	}
	return &Detector{
		model:         model,
		cfg:           cfg,
		targetClasses: targets,
		logger:        slog.Default().With("component", "detector"),
	}
}

// WarmUp runs a single inference against a blank frame so the first real
// frame doesn't pay model-initialization latency.
func (d *Detector) WarmUp(ctx context.Context) error {
	dummy := Frame{Data: make([]byte, 1280*720*3), Width: 1280, Height: 720}
	if _, err := d.model.Infer(ctx, dummy, d.cfg.ConfidenceThreshold, d.cfg.IOUThreshold); err != nil {
		d.logger.Warn("model warm-up failed", "error", err)
		return err
	}
	d.logger.Info("model warm-up completed")
	return nil
}

// Detect runs the full pipeline. Inference failures are logged and return
// an empty result rather than propagating, matching the reference
// detector's tolerance for transient model errors.
func (d *Detector) Detect(ctx context.Context, frame Frame) []Detection {
	if err := frame.validate(); err != nil {
		d.logger.Error("invalid frame", "error", err)
		return nil
	}

	processed := d.preprocess(frame)
	effectiveConf := d.effectiveConfidence(processed)

	raw, err := d.model.Infer(ctx, processed, effectiveConf, d.cfg.IOUThreshold)
	if err != nil {
		d.logger.Error("detection inference failed", "error", err)
		return nil
	}

	return d.postprocess(raw, effectiveConf)
}

func (d *Detector) preprocess(frame Frame) Frame {
	if !d.cfg.LowLightEnhanceFrame {
		return frame
	}
	if estimateBrightness(frame) >= d.cfg.DarkFrameBrightnessThreshold {
		return frame
	}
	return enhanceLowLight(frame)
}

func (d *Detector) effectiveConfidence(frame Frame) float64 {
	if estimateBrightness(frame) >= d.cfg.DarkFrameBrightnessThreshold {
		return d.cfg.ConfidenceThreshold
	}
	relaxed := d.cfg.ConfidenceThreshold * d.cfg.LowLightConfidenceFactor
	if relaxed < d.cfg.LowLightMinConfidence {
		relaxed = d.cfg.LowLightMinConfidence
	}
	return relaxed
}

func (d *Detector) postprocess(raw []RawDetection, minConfidence float64) []Detection {
	out := make([]Detection, 0, len(raw))
	for _, r := range raw {
		name, known := classNameByID[r.ClassID]
		if !known || !d.targetClasses[name] {
			continue
		}
		if r.Confidence < minConfidence {
			continue
		}

		bbox := BoundingBox{
			X1: int(r.X1), Y1: int(r.Y1), X2: int(r.X2), Y2: int(r.Y2),
			Width: int(r.X2 - r.X1), Height: int(r.Y2 - r.Y1),
		}
		out = append(out, Detection{
			ClassID:    r.ClassID,
			ClassName:  name,
			Confidence: r.Confidence,
			BBox:       bbox,
			Centroid:   bbox.Centroid(),
		})
	}
	return out
}

// estimateBrightness mirrors a mean-pixel-value brightness estimate over
// every channel of every pixel in the frame.
func estimateBrightness(f Frame) float64 {
	if len(f.Data) == 0 {
		return 0
	}
	var sum uint64
	for _, v := range f.Data {
		sum += uint64(v)
	}
	return float64(sum) / float64(len(f.Data))
}

// enhanceLowLight applies YCrCb Y-channel histogram equalization, the same
// enhancement a low-light-aware detector falls back to when OpenCV is
// unavailable: converting, equalizing, and converting back.
func enhanceLowLight(f Frame) Frame {
	n := f.Width * f.Height
	y := make([]byte, n)
	cb := make([]byte, n)
	cr := make([]byte, n)

	for i := 0; i < n; i++ {
		b := f.Data[i*3]
		g := f.Data[i*3+1]
		r := f.Data[i*3+2]
		yy, cbb, crr := color.RGBToYCbCr(r, g, b)
		y[i], cb[i], cr[i] = yy, cbb, crr
	}

	equalizeHistogram(y)

	out := make([]byte, len(f.Data))
	for i := 0; i < n; i++ {
		r, g, b := color.YCbCrToRGB(y[i], cb[i], cr[i])
		out[i*3] = b
		out[i*3+1] = g
		out[i*3+2] = r
	}
	return Frame{Data: out, Width: f.Width, Height: f.Height}
}

// equalizeHistogram rewrites y in place to its histogram-equalized form.
func equalizeHistogram(y []byte) {
	var hist [256]int
	for _, v := range y {
		hist[v]++
	}

	var cdf [256]int
	sum := 0
	for i, c := range hist {
		sum += c
		cdf[i] = sum
	}

	total := len(y)
	if total == 0 {
		return
	}
	var cdfMin int
	for _, c := range cdf {
		if c > 0 {
			cdfMin = c
			break
		}
	}
	denom := total - cdfMin
	if denom <= 0 {
		return
	}

	var lut [256]byte
	for i, c := range cdf {
		if c == 0 {
			continue
		}
		v := float64(c-cdfMin) / float64(denom) * 255
		lut[i] = byte(v + 0.5)
	}
	for i, v := range y {
		y[i] = lut[v]
	}
}
