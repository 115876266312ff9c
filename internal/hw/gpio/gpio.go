package gpio

import (
	"sync"

	"github.com/cjeanneret/boothframe/internal/debug"
)

// Level represents the logical state of a GPIO pin.
type Level bool

const (
	Low  Level = false
	High Level = true
)

// PinMode indicates whether a GPIO is input or output.
type PinMode int

const (
	Input PinMode = iota
	Output
	InputPullUp // input with the internal pull-up, for buttons wired to GND
)

// Driver defines the abstract interface for controlling GPIOs.
// The booth uses it for the push button, the busy LED and the
// DSLR remote release lines.
type Driver interface {
	SetupPin(pin int, mode PinMode) error
	WritePin(pin int, level Level) error
	ReadPin(pin int) (Level, error)
	Close() error
}

// MockDriver remembers written levels so reads reflect them.
// Pull-up inputs read High until Set drives them Low.
type MockDriver struct {
	mu     sync.Mutex
	levels map[int]Level
}

// NewDriver creates a GPIO driver based on the chosen mode.
// If mock is true, returns a MockDriver (for dev/test).
// If mock is false, returns a real RPiDriver (for Raspberry Pi).
func NewDriver(mock bool) (Driver, error) {
	if mock {
		debug.Info("Using MOCK GPIO driver (development mode)")
		return NewMockDriver(), nil
	}
	return NewRPiRealDriver()
}

// NewMockDriver returns an in-memory driver.
func NewMockDriver() *MockDriver {
	return &MockDriver{levels: make(map[int]Level)}
}

func (m *MockDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	if mode == InputPullUp {
		m.levels[pin] = High
	}
	return nil
}

func (m *MockDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)
	m.Set(pin, level)
	return nil
}

func (m *MockDriver) ReadPin(pin int) (Level, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	lvl := m.levels[pin]
	debug.GPIO("ReadPin", pin, lvl)
	return lvl, nil
}

// Set forces a pin level, e.g. to simulate a button press.
func (m *MockDriver) Set(pin int, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels == nil {
		m.levels = make(map[int]Level)
	}
	m.levels[pin] = level
}

func (m *MockDriver) Close() error {
	debug.Trace("GPIO Close (mock)")
	return nil
}
