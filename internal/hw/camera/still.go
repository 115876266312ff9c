package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/cjeanneret/boothframe/internal/debug"
)

// Still returns the same image file on every capture.
// Used for development on a PC without a camera, like the mock GPIO driver.
type Still struct {
	path string
}

// NewStill creates a file-backed camera.
func NewStill(path string) *Still {
	return &Still{path: path}
}

// Capture decodes the configured file.
func (s *Still) Capture(_ context.Context) (image.Image, error) {
	debug.Verbose("Camera: reading still %s", s.path)
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", ErrDeviceUnavailable, s.path)
		}
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	return decodeFile(s.path)
}

// decodeFile reads one frame from disk. Any failure is a read failure.
func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrReadFailure, path, err)
	}
	return checkFrame(img)
}
