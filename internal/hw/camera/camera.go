package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
)

// Capture failures. Both are fatal to a booth session.
var (
	ErrDeviceUnavailable = errors.New("camera: device unavailable")
	ErrReadFailure       = errors.New("camera: read failure")
)

// Camera is the high-level interface used by the rest of the application.
// It represents an abstract "camera", regardless of how it's controlled
// (OpenCV device, GPIO remote release, still file, etc.).
//
// A Camera acquires the device for one Capture and releases it before
// returning. It does no locking: callers serialize sessions.
type Camera interface {
	// Capture returns exactly one frame or an error wrapping
	// ErrDeviceUnavailable or ErrReadFailure.
	Capture(ctx context.Context) (image.Image, error)
}

// checkFrame rejects nil and zero-area frames.
func checkFrame(img image.Image) (image.Image, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrReadFailure)
	}
	return img, nil
}
