package pipeline

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/smartpark/sentinel/internal/vision/detection"
)

// FrameWriter periodically snapshots a camera's latest frame to disk as a
// JPEG, backing the GET /camera/latest-frame endpoint.
type FrameWriter struct {
	dir          string
	everyNFrames int
}

// NewFrameWriter creates a FrameWriter that snapshots every everyNFrames
// frames into dir/<camera_id>.jpg.
func NewFrameWriter(dir string, everyNFrames int) *FrameWriter {
	if everyNFrames < 1 {
		everyNFrames = 1
	}
	return &FrameWriter{dir: dir, everyNFrames: everyNFrames}
}

// Write encodes frame as a JPEG and atomically replaces the camera's
// snapshot file.
func (w *FrameWriter) Write(cameraID string, frame detection.Frame) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create frame dir: %w", err)
	}

	img := bgrToImage(frame)

	tmpPath := filepath.Join(w.dir, cameraID+".jpg.tmp")
	finalPath := filepath.Join(w.dir, cameraID+".jpg")

	f, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create snapshot temp file: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 80}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot temp file: %w", err)
	}
	return os.Rename(tmpPath, finalPath)
}

// bgrToImage converts an interleaved-BGR Frame into a standard library
// image for JPEG encoding.
func bgrToImage(frame detection.Frame) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, frame.Width, frame.Height))
	for i := 0; i < frame.Width*frame.Height; i++ {
		b := frame.Data[i*3]
		g := frame.Data[i*3+1]
		r := frame.Data[i*3+2]
		off := i * 4
		img.Pix[off] = r
		img.Pix[off+1] = g
		img.Pix[off+2] = b
		img.Pix[off+3] = 255
	}
	return img
}
