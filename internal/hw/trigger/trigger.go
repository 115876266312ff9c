// Package trigger starts photo sessions from a GPIO push button.
package trigger

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/cjeanneret/boothframe/internal/debug"
	"github.com/cjeanneret/boothframe/internal/hw/gpio"
	"github.com/cjeanneret/boothframe/internal/hw/indicator"
	"github.com/cjeanneret/boothframe/internal/logic/session"
)

// Runner runs one session.
type Runner interface {
	Run(ctx context.Context, ro session.RunOptions) *session.Result
}

// Config holds the button wiring and timing.
type Config struct {
	ButtonPin int           // BCM pin, button to GND, internal pull-up
	Debounce  time.Duration // minimum time between two accepted presses
	Poll      time.Duration // sampling period
}

// Watcher polls the button and runs a session on each press.
// Presses are ignored while another session holds the gate.
type Watcher struct {
	gpio    gpio.Driver
	cfg     Config
	lamp    *indicator.Lamp
	gate    *semaphore.Weighted
	limiter *rate.Limiter
	runner  Runner

	last gpio.Level
}

// New configures the button pin. lamp may be nil.
func New(g gpio.Driver, cfg Config, lamp *indicator.Lamp, gate *semaphore.Weighted, runner Runner) (*Watcher, error) {
	if g == nil || runner == nil || gate == nil {
		return nil, errors.New("trigger: gpio driver, gate and runner are required")
	}
	if cfg.ButtonPin <= 0 {
		return nil, errors.New("trigger: button_pin is required")
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 20 * time.Millisecond
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if err := g.SetupPin(cfg.ButtonPin, gpio.InputPullUp); err != nil {
		return nil, err
	}
	return &Watcher{
		gpio:    g,
		cfg:     cfg,
		lamp:    lamp,
		gate:    gate,
		limiter: rate.NewLimiter(rate.Every(cfg.Debounce), 1),
		runner:  runner,
		last:    gpio.High,
	}, nil
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	debug.Info("Button watcher on pin %d (poll %v, debounce %v)", w.cfg.ButtonPin, w.cfg.Poll, w.cfg.Debounce)
	ticker := time.NewTicker(w.cfg.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = w.lamp.Off()
			return nil
		case <-ticker.C:
			if _, err := w.sample(ctx); err != nil {
				return err
			}
		}
	}
}

// sample reads the button once and runs a session on a falling edge.
// It reports whether a session ran.
func (w *Watcher) sample(ctx context.Context) (bool, error) {
	lvl, err := w.gpio.ReadPin(w.cfg.ButtonPin)
	if err != nil {
		return false, err
	}
	pressed := w.last == gpio.High && lvl == gpio.Low
	w.last = lvl
	if !pressed {
		return false, nil
	}

	if !w.limiter.Allow() {
		debug.Trace("Button: press ignored (debounce)")
		return false, nil
	}
	if !w.gate.TryAcquire(1) {
		debug.Live("Button: session already running")
		_ = w.lamp.Pulse(2)
		return false, nil
	}
	defer w.gate.Release(1)

	debug.Live("Button pressed")
	_ = w.lamp.On()
	res := w.runner.Run(ctx, session.RunOptions{})
	_ = w.lamp.Off()
	if res.Err != nil {
		debug.Warn("Button session %s: %v", res.ID, res.Err)
	}
	return true, nil
}
