//go:build !gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"time"
)

// Webcam is unavailable in builds without the gocv tag (OpenCV is a cgo
// dependency). Rebuild with -tags gocv on the booth machine.
type Webcam struct {
	index int
}

// NewWebcam creates a camera that always reports the device as unavailable.
func NewWebcam(index int, _ time.Duration, _, _ int) *Webcam {
	return &Webcam{index: index}
}

// Capture always fails with ErrDeviceUnavailable.
func (w *Webcam) Capture(_ context.Context) (image.Image, error) {
	return nil, fmt.Errorf("%w: camera index %d: built without gocv support (rebuild with -tags gocv)", ErrDeviceUnavailable, w.index)
}
