package indicator

import (
	"time"

	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/cjeanneret/boothframe/internal/hw/gpio"
)

// Config holds the wiring of a status lamp.
type Config struct {
	Pin        int           // BCM pin driving the LED. 0 = no lamp.
	ActiveLow  bool          // LED wired between 3V3 and the pin
	PulseWidth time.Duration // on-time of one Pulse. Total pulse = 2*PulseWidth.
}

// Lamp drives the "busy" LED of the booth: steady while a session runs,
// two short pulses when a button press is refused.
// A Lamp with Pin 0 is valid and does nothing.
type Lamp struct {
	gpio  gpio.Driver
	cfg   Config
	width time.Duration
}

// NewLamp configures the pin as an output and switches the lamp off.
// cfg.PulseWidth: if 0, defaults to 100ms.
func NewLamp(g gpio.Driver, cfg Config) *Lamp {
	width := cfg.PulseWidth
	if width <= 0 {
		width = 100 * time.Millisecond
	}
	l := &Lamp{gpio: g, cfg: cfg, width: width}
	if cfg.Pin > 0 && g != nil {
		_ = g.SetupPin(cfg.Pin, gpio.Output)
		_ = l.Off()
	}
	return l
}

func (l *Lamp) level(on bool) gpio.Level {
	if l.cfg.ActiveLow {
		return gpio.Level(!on)
	}
	return gpio.Level(on)
}

// On lights the lamp.
func (l *Lamp) On() error {
	if l == nil || l.cfg.Pin <= 0 || l.gpio == nil {
		return nil
	}
	return l.gpio.WritePin(l.cfg.Pin, l.level(true))
}

// Off switches the lamp off.
func (l *Lamp) Off() error {
	if l == nil || l.cfg.Pin <= 0 || l.gpio == nil {
		return nil
	}
	return l.gpio.WritePin(l.cfg.Pin, l.level(false))
}

// Pulse blinks the lamp n times and leaves it off.
func (l *Lamp) Pulse(n int) error {
	if l == nil || l.cfg.Pin <= 0 || l.gpio == nil || n <= 0 {
		return nil
	}
	debug.Trace("Lamp: %d pulse(s) on pin %d", n, l.cfg.Pin)
	for i := 0; i < n; i++ {
		if err := l.On(); err != nil {
			return err
		}
		time.Sleep(l.width)
		if err := l.Off(); err != nil {
			return err
		}
		time.Sleep(l.width)
	}
	return nil
}
