package acquirer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smartpark/sentinel/internal/vision/detection"
)

type fakeCapture struct {
	opened     bool
	openErr    error
	readQueue  []readResult
	readIdx    int
	closeCalls int
	openCalls  int
}

type readResult struct {
	frame detection.Frame
	ok    bool
	err   error
}

func (f *fakeCapture) Open(source string, width, height int) error {
	f.openCalls++
	if f.openErr != nil {
		return f.openErr
	}
	f.opened = true
	return nil
}

func (f *fakeCapture) Read() (detection.Frame, bool, error) {
	if f.readIdx >= len(f.readQueue) {
		return detection.Frame{}, false, nil
	}
	r := f.readQueue[f.readIdx]
	f.readIdx++
	return r.frame, r.ok, r.err
}

func (f *fakeCapture) Close() error {
	f.closeCalls++
	f.opened = false
	return nil
}

func TestInferSourceType(t *testing.T) {
	if InferSourceType("rtsp://cam/1") != SourceTypeRTSP {
		t.Error("expected rtsp:// to infer as rtsp source")
	}
	if InferSourceType("/videos/lot.mp4") != SourceTypeFile {
		t.Error("expected path to infer as file source")
	}
}

func TestReadFrame_OpensLazilyOnFirstRead(t *testing.T) {
	cap := &fakeCapture{readQueue: []readResult{{frame: detection.Frame{Width: 1, Height: 1, Data: []byte{1, 2, 3}}, ok: true}}}
	vs := New(Config{Source: "/tmp/lot.mp4", SourceType: SourceTypeFile}, cap)

	_, err := vs.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cap.openCalls != 1 {
		t.Errorf("expected 1 open call, got %d", cap.openCalls)
	}
}

func TestReadFrame_FileSourceReturnsEndOfStreamOnFailedRead(t *testing.T) {
	cap := &fakeCapture{readQueue: []readResult{{ok: false}}}
	vs := New(Config{Source: "/tmp/lot.mp4", SourceType: SourceTypeFile}, cap)

	_, err := vs.ReadFrame(context.Background())
	if !errors.Is(err, ErrEndOfStream) {
		t.Fatalf("expected ErrEndOfStream, got %v", err)
	}
}

func TestReadFrame_RTSPSourceReconnectsOnFailedRead(t *testing.T) {
	cap := &fakeCapture{readQueue: []readResult{
		{ok: false},
		{frame: detection.Frame{Width: 1, Height: 1, Data: []byte{9, 9, 9}}, ok: true},
	}}
	vs := New(Config{Source: "rtsp://cam/1", SourceType: SourceTypeRTSP, ReconnectDelay: time.Millisecond}, cap)

	frame, err := vs.ReadFrame(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frame.Width != 1 || len(frame.Data) != 3 {
		t.Errorf("expected reconnected frame to be returned, got %+v", frame)
	}
	if cap.closeCalls != 1 {
		t.Errorf("expected reconnect to close the stale capture once, got %d", cap.closeCalls)
	}
	if cap.openCalls != 2 {
		t.Errorf("expected reconnect to reopen the capture, got %d open calls", cap.openCalls)
	}
}

func TestReadFrame_RTSPReconnectFailurePropagatesError(t *testing.T) {
	cap := &fakeCapture{openErr: errors.New("refused"), readQueue: []readResult{{ok: false}}}
	cap.opened = true // simulate already-open so first Open() is skipped
	vs := New(Config{Source: "rtsp://cam/1", SourceType: SourceTypeRTSP, ReconnectDelay: time.Millisecond}, cap)
	vs.isOpen = true

	_, err := vs.ReadFrame(context.Background())
	if err == nil {
		t.Fatal("expected reconnect failure to propagate an error")
	}
}

func TestFrameRateRegulator_FirstTickDoesNotBlock(t *testing.T) {
	r := NewFrameRateRegulator(10)
	start := time.Now()
	r.Tick(context.Background())
	if time.Since(start) > 50*time.Millisecond {
		t.Errorf("expected first tick to return immediately, took %v", time.Since(start))
	}
}

func TestFrameRateRegulator_SubsequentTickPaces(t *testing.T) {
	r := NewFrameRateRegulator(20) // 50ms interval
	ctx := context.Background()
	r.Tick(ctx)
	start := time.Now()
	r.Tick(ctx)
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected second tick to pace out the frame interval, elapsed %v", elapsed)
	}
}

func TestClose_IsIdempotentWhenNeverOpened(t *testing.T) {
	cap := &fakeCapture{}
	vs := New(Config{Source: "/tmp/lot.mp4"}, cap)
	if err := vs.Close(); err != nil {
		t.Fatalf("unexpected error closing never-opened source: %v", err)
	}
	if cap.closeCalls != 0 {
		t.Errorf("expected no underlying Close call when never opened, got %d", cap.closeCalls)
	}
}
