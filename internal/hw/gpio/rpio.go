package gpio

import (
	"fmt"
	"sync"

	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/stianeikeland/go-rpio/v4"
)

// RPiDriver is the real implementation for Raspberry Pi using go-rpio.
// The button watcher and the session share it, hence the lock.
type RPiDriver struct {
	mu   sync.Mutex
	pins map[int]rpio.Pin
}

// NewRPiRealDriver memory-maps the GPIO registers.
// Requires running on a Raspberry Pi with access to /dev/gpiomem or as root.
func NewRPiRealDriver() (*RPiDriver, error) {
	debug.Info("Initializing real GPIO driver (go-rpio)")

	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("failed to open GPIO: %w (are you running on a Raspberry Pi?)", err)
	}
	debug.Verbose("GPIO memory mapped successfully")

	return &RPiDriver{pins: make(map[int]rpio.Pin)}, nil
}

func (r *RPiDriver) SetupPin(pin int, mode PinMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.setup(pin, mode)
}

func (r *RPiDriver) setup(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	p := rpio.Pin(pin)
	switch mode {
	case Input:
		p.Input()
	case InputPullUp:
		p.Input()
		p.PullUp()
	case Output:
		p.Output()
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}
	r.pins[pin] = p
	return nil
}

func (r *RPiDriver) WritePin(pin int, level Level) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.GPIO("WritePin", pin, level)

	p, ok := r.pins[pin]
	if !ok {
		if err := r.setup(pin, Output); err != nil {
			return err
		}
		p = r.pins[pin]
	}
	if level == High {
		p.High()
	} else {
		p.Low()
	}
	return nil
}

func (r *RPiDriver) ReadPin(pin int) (Level, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pins[pin]
	if !ok {
		if err := r.setup(pin, Input); err != nil {
			return Low, err
		}
		p = r.pins[pin]
	}
	lvl := Level(p.Read() == rpio.High)
	debug.GPIO("ReadPin", pin, lvl)
	return lvl, nil
}

// Close puts every touched pin back into input mode (safe state)
// and unmaps the registers.
func (r *RPiDriver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	debug.Trace("GPIO Close (real driver)")

	for pin, p := range r.pins {
		debug.Verbose("Resetting pin %d to input", pin)
		p.PullOff()
		p.Input()
	}
	return rpio.Close()
}
