package status

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/tchat/internal/bus"
)

// State represents the auth session lifecycle state.
type State string

const (
	// Booting is the initial state before CheckAuthState has run.
	Booting State = "BOOTING"
	// Restoring means a persisted identity is being reconciled against the
	// live provider session.
	Restoring State = "RESTORING"
	// SignedOut means no identity is available.
	SignedOut State = "SIGNED_OUT"
	// SignedIn means a reconciled identity is available.
	SignedIn State = "SIGNED_IN"
	// Error is a terminal failure state; only a restart recovers it.
	Error State = "ERROR"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Booting:   {Restoring, SignedOut, Error},
	Restoring: {SignedIn, SignedOut, Error},
	SignedOut: {Restoring, SignedIn, Error},
	SignedIn:  {SignedOut, Error},
	Error:     {Booting},
}

// Machine tracks and enforces session state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Initialized reports whether the machine has left the boot sequence, i.e.
// the session has been resolved one way or the other.
func (m *Machine) Initialized() bool {
	s := m.Current()
	return s != Booting && s != Restoring
}

// Transition attempts to move to a new state. Moving to the current state is
// a no-op; an invalid move returns an error and leaves the state unchanged.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if to == m.current {
		return nil
	}
	if !slices.Contains(validTransitions[m.current], to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Publish(bus.Event{
			Kind:      "session.status_changed",
			Timestamp: time.Now(),
			Payload: StatusChange{
				From: from,
				To:   to,
			},
		})
	}
	return nil
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
