package status

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/chatterbox/internal/bus"
)

// State represents a daemon runtime state.
type State string

const (
	Booting      State = "BOOTING"
	AuthRequired State = "AUTH_REQUIRED"
	Connecting   State = "CONNECTING"
	Ready        State = "READY"
	Degraded     State = "DEGRADED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. DEGRADED means the
// account is usable but the change feed is down, so views go stale until
// it recovers.
var validTransitions = map[State][]State{
	Booting:      {AuthRequired, Connecting, Error},
	AuthRequired: {Connecting, Error},
	Connecting:   {Ready, Degraded, AuthRequired, Error},
	Ready:        {Degraded, AuthRequired, Error},
	Degraded:     {Ready, AuthRequired, Error},
	Error:        {Booting},
}

// Machine tracks and enforces daemon runtime state transitions.
type Machine struct {
	mu      sync.RWMutex
	current State
	feedUp  bool
	bus     *bus.Bus
}

// NewMachine creates a new state machine starting in Booting state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Booting,
		feedUp:  true,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Transition attempts to move to a new state. Returns error if transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitionLocked(to)
}

func (m *Machine) transitionLocked(to State) error {
	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	if m.bus != nil {
		m.bus.Emit(bus.KindStatusChanged, StatusChange{From: from, To: to})
	}
	return nil
}

// SignedIn moves a connecting daemon to READY, or DEGRADED if the change
// feed is down at that moment.
func (m *Machine) SignedIn() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.feedUp {
		return m.transitionLocked(Ready)
	}
	return m.transitionLocked(Degraded)
}

// FeedChanged records the change feed's health and moves between READY
// and DEGRADED when signed in. Other states only remember it.
func (m *Machine) FeedChanged(up bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feedUp = up
	switch {
	case up && m.current == Degraded:
		_ = m.transitionLocked(Ready)
	case !up && m.current == Ready:
		_ = m.transitionLocked(Degraded)
	}
}

// StatusChange is the payload for status change events.
type StatusChange struct {
	From State
	To   State
}
