package session

import (
	"fmt"
	"sync"
)

// State is a stage of one photo session.
type State string

const (
	Idle         State = "idle"
	CountingDown State = "counting_down"
	Capturing    State = "capturing"
	Compositing  State = "compositing"
	Distributing State = "distributing"
	Done         State = "done"
	Errored      State = "errored"
	// Cancelled ends a session whose context was cancelled before the
	// camera was touched.
	Cancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == Done || s == Errored || s == Cancelled
}

// Event is delivered to the Observer on every transition and countdown tick.
// Remaining is only set for CountingDown ticks.
type Event struct {
	SessionID string
	State     State
	Remaining int
}

// Observer receives session events. It runs on the session goroutine and
// must not block.
type Observer func(Event)

// Machine tracks the state of one session and rejects illegal edges.
type Machine struct {
	mu       sync.Mutex
	id       string
	state    State
	observer Observer
}

// NewMachine returns a machine in Idle.
func NewMachine(id string, observer Observer) *Machine {
	return &Machine{id: id, state: Idle, observer: observer}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition moves to the given state if the edge is allowed.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !isValidTransition(from, to) {
		m.mu.Unlock()
		return fmt.Errorf("invalid transition: %s -> %s", from, to)
	}
	m.state = to
	m.mu.Unlock()

	m.notify(Event{SessionID: m.id, State: to})
	return nil
}

// Tick reports one countdown second.
func (m *Machine) Tick(remaining int) {
	m.notify(Event{SessionID: m.id, State: CountingDown, Remaining: remaining})
}

func (m *Machine) notify(ev Event) {
	if m.observer != nil {
		m.observer(ev)
	}
}

// isValidTransition enforces the session state machine edges.
// Errored is only reachable from Capturing.
func isValidTransition(from, to State) bool {
	switch from {
	case Idle:
		return to == CountingDown || to == Capturing || to == Cancelled
	case CountingDown:
		return to == Capturing || to == Cancelled
	case Capturing:
		return to == Compositing || to == Errored
	case Compositing:
		return to == Distributing
	case Distributing:
		return to == Done
	default:
		return false
	}
}
