// Package network tracks whether the backend is reachable.
package network

import (
	"fmt"
	"slices"
	"sync"

	"github.com/matheus3301/smsq/internal/bus"
)

// State is the connectivity state of the device.
type State string

const (
	Unknown State = "UNKNOWN"
	Online  State = "ONLINE"
	Offline State = "OFFLINE"
)

// validTransitions defines allowed state transitions.
var validTransitions = map[State][]State{
	Unknown: {Online, Offline},
	Online:  {Offline},
	Offline: {Online},
}

// Machine tracks connectivity and publishes every change on the bus.
type Machine struct {
	mu      sync.RWMutex
	current State
	bus     *bus.Bus
}

// NewMachine creates a machine in the Unknown state.
func NewMachine(b *bus.Bus) *Machine {
	return &Machine{
		current: Unknown,
		bus:     b,
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// IsOnline reports whether the backend was last seen reachable.
func (m *Machine) IsOnline() bool {
	return m.Current() == Online
}

// Transition moves to a new state. Returns error if the transition is invalid.
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	allowed := validTransitions[m.current]
	if !slices.Contains(allowed, to) {
		return fmt.Errorf("invalid transition from %s to %s", m.current, to)
	}
	from := m.current
	m.current = to
	m.bus.Emit(bus.KindNetworkStatusChanged, StatusChange{From: from, To: to})
	return nil
}

// Set records an observation. Repeating the current state is a no-op and
// reports false.
func (m *Machine) Set(online bool) bool {
	to := Offline
	if online {
		to = Online
	}
	if m.Current() == to {
		return false
	}
	return m.Transition(to) == nil
}

// StatusChange is the payload for network.status_changed events.
type StatusChange struct {
	From State
	To   State
}

// Reconnected reports whether the change is an offline to online edge.
func (c StatusChange) Reconnected() bool {
	return c.From == Offline && c.To == Online
}
