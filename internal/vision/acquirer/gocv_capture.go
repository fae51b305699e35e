//go:build cgo

package acquirer

import (
	"fmt"
	"os"

	"gocv.io/x/gocv"

	"github.com/smartpark/sentinel/internal/vision/detection"
)

// GoCVCapture implements Capture using OpenCV via GoCV, reading from a
// local file path or an RTSP URL through the same VideoCapture API.
type GoCVCapture struct {
	video *gocv.VideoCapture
	mat   gocv.Mat
}

// NewGoCVCapture creates an unopened GoCV-backed capture.
func NewGoCVCapture() *GoCVCapture {
	return &GoCVCapture{mat: gocv.NewMat()}
}

// Open opens source (a file path or rtsp:// URL) and applies the
// requested capture resolution, if any.
func (c *GoCVCapture) Open(source string, width, height int) error {
	if c.video != nil {
		return nil
	}

	if InferSourceType(source) == SourceTypeFile {
		if _, err := os.Stat(source); err != nil {
			return fmt.Errorf("video file not found: %w", err)
		}
	}

	video, err := gocv.OpenVideoCapture(source)
	if err != nil {
		return fmt.Errorf("open video capture %q: %w", source, err)
	}
	if !video.IsOpened() {
		video.Close()
		return fmt.Errorf("video source %q did not open", source)
	}

	if width > 0 {
		video.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		video.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}

	c.video = video
	return nil
}

// Read captures a single frame as interleaved BGR bytes.
func (c *GoCVCapture) Read() (detection.Frame, bool, error) {
	if c.video == nil {
		return detection.Frame{}, false, fmt.Errorf("capture not open")
	}
	if ok := c.video.Read(&c.mat); !ok || c.mat.Empty() {
		return detection.Frame{}, false, nil
	}

	data := make([]byte, len(c.mat.ToBytes()))
	copy(data, c.mat.ToBytes())

	return detection.Frame{
		Data:   data,
		Width:  c.mat.Cols(),
		Height: c.mat.Rows(),
	}, true, nil
}

// Close releases the capture device and scratch buffer.
func (c *GoCVCapture) Close() error {
	if c.video != nil {
		if err := c.video.Close(); err != nil {
			return err
		}
		c.video = nil
	}
	return c.mat.Close()
}
