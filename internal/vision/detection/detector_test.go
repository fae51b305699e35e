package detection

import (
	"context"
	"testing"
)

type stubModel struct {
	raw []RawDetection
	err error

	lastConfidence float64
	calls          int
}

func (s *stubModel) Infer(ctx context.Context, frame Frame, confidenceThreshold, iouThreshold float64) ([]RawDetection, error) {
	s.calls++
	s.lastConfidence = confidenceThreshold
	if s.err != nil {
		return nil, s.err
	}
	return s.raw, nil
}

func brightFrame(w, h int, level byte) Frame {
	data := make([]byte, w*h*3)
	for i := range data {
		data[i] = level
	}
	return Frame{Data: data, Width: w, Height: h}
}

func testConfig() Config {
	return Config{
		ConfidenceThreshold:          0.5,
		IOUThreshold:                 0.45,
		TargetClasses:                []string{"car", "truck"},
		DarkFrameBrightnessThreshold: 60,
		LowLightConfidenceFactor:     0.8,
		LowLightMinConfidence:        0.2,
		LowLightEnhanceFrame:         true,
	}
}

func TestDetect_FiltersNonTargetClasses(t *testing.T) {
	model := &stubModel{raw: []RawDetection{
		{ClassID: 2, Confidence: 0.9, X1: 0, Y1: 0, X2: 10, Y2: 10},  // car, target
		{ClassID: 0, Confidence: 0.9, X1: 0, Y1: 0, X2: 10, Y2: 10},  // person, not target at all
		{ClassID: 5, Confidence: 0.9, X1: 0, Y1: 0, X2: 10, Y2: 10},  // bus, known class but not in TargetClasses
	}}
	d := New(model, testConfig())

	out := d.Detect(context.Background(), brightFrame(100, 100, 200))
	if len(out) != 1 {
		t.Fatalf("expected 1 detection, got %d", len(out))
	}
	if out[0].ClassName != "car" {
		t.Errorf("expected car, got %s", out[0].ClassName)
	}
}

func TestDetect_FiltersBelowConfidence(t *testing.T) {
	model := &stubModel{raw: []RawDetection{
		{ClassID: 2, Confidence: 0.1, X1: 0, Y1: 0, X2: 10, Y2: 10},
	}}
	d := New(model, testConfig())

	out := d.Detect(context.Background(), brightFrame(100, 100, 200))
	if len(out) != 0 {
		t.Fatalf("expected 0 detections, got %d", len(out))
	}
}

func TestDetect_RelaxesConfidenceInLowLight(t *testing.T) {
	model := &stubModel{raw: nil}
	d := New(model, testConfig())

	d.Detect(context.Background(), brightFrame(100, 100, 10))

	want := 0.5 * 0.8
	if model.lastConfidence != want {
		t.Errorf("expected relaxed confidence %v, got %v", want, model.lastConfidence)
	}
}

func TestDetect_UsesBaseConfidenceInGoodLight(t *testing.T) {
	model := &stubModel{raw: nil}
	d := New(model, testConfig())

	d.Detect(context.Background(), brightFrame(100, 100, 200))

	if model.lastConfidence != 0.5 {
		t.Errorf("expected base confidence 0.5, got %v", model.lastConfidence)
	}
}

func TestDetect_ReturnsEmptyOnModelError(t *testing.T) {
	model := &stubModel{err: context.DeadlineExceeded}
	d := New(model, testConfig())

	out := d.Detect(context.Background(), brightFrame(100, 100, 200))
	if out != nil {
		t.Fatalf("expected nil result on model error, got %v", out)
	}
}

func TestDetect_ReturnsEmptyOnInvalidFrame(t *testing.T) {
	model := &stubModel{}
	d := New(model, testConfig())

	out := d.Detect(context.Background(), Frame{Data: []byte{1, 2, 3}, Width: 10, Height: 10})
	if out != nil {
		t.Fatalf("expected nil result on invalid frame, got %v", out)
	}
	if model.calls != 0 {
		t.Errorf("expected model not to be called on invalid frame, got %d calls", model.calls)
	}
}

func TestWarmUp_CallsModelWithDummyFrame(t *testing.T) {
	model := &stubModel{}
	d := New(model, testConfig())

	if err := d.WarmUp(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model.calls != 1 {
		t.Errorf("expected 1 warm-up call, got %d", model.calls)
	}
}

func TestWarmUp_PropagatesModelError(t *testing.T) {
	model := &stubModel{err: context.DeadlineExceeded}
	d := New(model, testConfig())

	if err := d.WarmUp(context.Background()); err == nil {
		t.Fatal("expected error from failing model")
	}
}

func TestCentroid_IsBoxMidpoint(t *testing.T) {
	b := BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 20}
	c := b.Centroid()
	if c.X != 5 || c.Y != 10 {
		t.Errorf("expected centroid (5,10), got (%d,%d)", c.X, c.Y)
	}
}
