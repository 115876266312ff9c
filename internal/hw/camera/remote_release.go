package camera

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/cjeanneret/boothframe/internal/hw/gpio"
)

// RemoteRelease is a Camera for a DSLR fired through its wired remote
// connector and tethered to a hot folder (e.g. gphoto2 --capture-tethered
// or a Wi-Fi card syncing into watchDir):
// - FOCUS: autofocus (activate by setting to LOW)
// - SHUTTER: trigger (activate by setting to LOW)
//
// Capture sequence:
// 1. Remember the files already present in watchDir
// 2. FOCUS to LOW, wait for autofocus
// 3. SHUTTER to LOW, hold, then release SHUTTER and FOCUS
// 4. Poll watchDir until a new image file appears, then decode it
type RemoteRelease struct {
	gpio         gpio.Driver
	focusPin     int
	shutterPin   int
	focusDelay   time.Duration
	shutterDelay time.Duration
	watchDir     string
	timeout      time.Duration
	poll         time.Duration
}

// NewRemoteRelease configures the remote lines (HIGH = inactive) and
// returns the camera.
func NewRemoteRelease(g gpio.Driver, focusPin, shutterPin int, focusDelay, shutterDelay time.Duration, watchDir string, timeout time.Duration) *RemoteRelease {
	_ = g.SetupPin(focusPin, gpio.Output)
	_ = g.SetupPin(shutterPin, gpio.Output)
	_ = g.WritePin(focusPin, gpio.High)
	_ = g.WritePin(shutterPin, gpio.High)

	return &RemoteRelease{
		gpio:         g,
		focusPin:     focusPin,
		shutterPin:   shutterPin,
		focusDelay:   focusDelay,
		shutterDelay: shutterDelay,
		watchDir:     watchDir,
		timeout:      timeout,
		poll:         100 * time.Millisecond,
	}
}

// Capture fires the shutter and waits for the tethered file.
func (r *RemoteRelease) Capture(ctx context.Context) (image.Image, error) {
	before, err := r.listImages()
	if err != nil {
		return nil, fmt.Errorf("%w: watch dir: %v", ErrDeviceUnavailable, err)
	}

	if err := r.fire(); err != nil {
		return nil, fmt.Errorf("%w: remote release: %v", ErrDeviceUnavailable, err)
	}

	path, err := r.waitForNew(ctx, before)
	if err != nil {
		return nil, err
	}
	debug.Verbose("Camera: tethered file %s", path)
	return decodeFile(path)
}

func (r *RemoteRelease) fire() error {
	debug.Verbose("Camera: activating FOCUS (pin %d -> LOW)", r.focusPin)
	if err := r.gpio.WritePin(r.focusPin, gpio.Low); err != nil {
		return err
	}
	time.Sleep(r.focusDelay)

	debug.Verbose("Camera: activating SHUTTER (pin %d -> LOW)", r.shutterPin)
	if err := r.gpio.WritePin(r.shutterPin, gpio.Low); err != nil {
		_ = r.gpio.WritePin(r.focusPin, gpio.High)
		return err
	}
	time.Sleep(r.shutterDelay)

	if err := r.gpio.WritePin(r.shutterPin, gpio.High); err != nil {
		return err
	}
	return r.gpio.WritePin(r.focusPin, gpio.High)
}

func (r *RemoteRelease) waitForNew(ctx context.Context, before map[string]int64) (string, error) {
	pending := make(map[string]int64)
	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: %v", ErrReadFailure, ctx.Err())
		case <-deadline.C:
			return "", fmt.Errorf("%w: no new file in %s after %v", ErrReadFailure, r.watchDir, r.timeout)
		case <-ticker.C:
			now, err := r.listImages()
			if err != nil {
				return "", fmt.Errorf("%w: watch dir: %v", ErrReadFailure, err)
			}
			// A new file is accepted once its size is stable across two polls,
			// so a half-written transfer is never decoded.
			for name, size := range now {
				if _, seen := before[name]; seen || size == 0 {
					continue
				}
				if prev, ok := pending[name]; ok && prev == size {
					return filepath.Join(r.watchDir, name), nil
				}
				pending[name] = size
			}
		}
	}
}

func (r *RemoteRelease) listImages() (map[string]int64, error) {
	entries, err := os.ReadDir(r.watchDir)
	if err != nil {
		return nil, err
	}
	names := make(map[string]int64, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png":
			info, err := e.Info()
			if err != nil {
				continue
			}
			names[e.Name()] = info.Size()
		}
	}
	return names, nil
}
