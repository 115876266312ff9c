//go:build gocv

package camera

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/cjeanneret/boothframe/internal/debug"
	"gocv.io/x/gocv"
)

// Webcam grabs a frame from a V4L/UVC device through OpenCV.
type Webcam struct {
	index  int
	settle time.Duration
	width  int
	height int
}

// NewWebcam creates an OpenCV-backed camera.
// settle is the pause between opening the device and reading the frame,
// so auto exposure can converge. width/height of 0 keep the driver default.
func NewWebcam(index int, settle time.Duration, width, height int) *Webcam {
	return &Webcam{index: index, settle: settle, width: width, height: height}
}

// Capture opens the device, reads one frame and closes it again.
func (w *Webcam) Capture(_ context.Context) (image.Image, error) {
	debug.Verbose("Camera: opening device %d", w.index)
	vc, err := gocv.OpenVideoCapture(w.index)
	if err != nil {
		return nil, fmt.Errorf("%w: open device %d: %v", ErrDeviceUnavailable, w.index, err)
	}
	defer vc.Close()
	if !vc.IsOpened() {
		return nil, fmt.Errorf("%w: unable to open camera index %d", ErrDeviceUnavailable, w.index)
	}
	if w.width > 0 && w.height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(w.width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(w.height))
	}

	time.Sleep(w.settle)

	frame := gocv.NewMat()
	defer frame.Close()
	if ok := vc.Read(&frame); !ok || frame.Empty() {
		return nil, fmt.Errorf("%w: failed to capture frame from camera %d", ErrReadFailure, w.index)
	}

	img, err := frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: convert frame: %v", ErrReadFailure, err)
	}
	debug.Verbose("Camera: captured %dx%d", img.Bounds().Dx(), img.Bounds().Dy())
	return checkFrame(img)
}
