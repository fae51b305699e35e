//go:build !cgo

package acquirer

import (
	"errors"

	"github.com/smartpark/sentinel/internal/vision/detection"
)

// GoCVCapture is unavailable in a cgo-disabled build; constructing it is a
// programming error, not a runtime condition to recover from.
type GoCVCapture struct{}

// NewGoCVCapture panics: this binary was built without cgo, so the GoCV
// capture backend was never compiled in.
func NewGoCVCapture() *GoCVCapture {
	panic("acquirer: GoCVCapture requires a cgo build")
}

func (c *GoCVCapture) Open(source string, width, height int) error {
	return errors.New("acquirer: built without cgo support")
}

func (c *GoCVCapture) Read() (detection.Frame, bool, error) {
	return detection.Frame{}, false, errors.New("acquirer: built without cgo support")
}

func (c *GoCVCapture) Close() error {
	return nil
}
