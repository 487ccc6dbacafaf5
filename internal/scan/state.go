package scan

import (
	"fmt"
	"log/slog"
)

// State is the dispatcher's lifecycle position.
type State string

const (
	StateIdle          State = "IDLE"
	StateExtracting    State = "EXTRACTING"
	StateLinking       State = "LINKING"
	StateResolving     State = "RESOLVING"
	StateGraphBuilding State = "GRAPH_BUILDING"
	StateScoring       State = "SCORING"
	StateReporting     State = "REPORTING"
	StateDone          State = "DONE"
	StateFailed        State = "FAILED"
	StateSuperseded    State = "SUPERSEDED"
)

// pipeline is the only forward order; stages a mode does not need are still
// entered so the order is the same for every mode.
var pipeline = []State{
	StateIdle, StateExtracting, StateLinking, StateResolving,
	StateGraphBuilding, StateScoring, StateReporting, StateDone,
}

// IsTerminal reports whether no further transition is possible.
func IsTerminal(s State) bool {
	switch s {
	case StateDone, StateFailed, StateSuperseded:
		return true
	default:
		return false
	}
}

func isAllowedTransition(from, to State) bool {
	if IsTerminal(from) {
		return false
	}
	if to == StateFailed || to == StateSuperseded {
		return true
	}
	for i, s := range pipeline[:len(pipeline)-1] {
		if s == from {
			return pipeline[i+1] == to
		}
	}
	return false
}

// Machine tracks one scan's state. It is not safe for concurrent use; the
// dispatcher owns it for the duration of a scan.
type Machine struct {
	current State
	trail   []State
	logger  *slog.Logger
	observe func(from, to State)
}

// NewMachine starts in IDLE. observe, when non-nil, sees every transition.
func NewMachine(logger *slog.Logger, observe func(from, to State)) *Machine {
	return &Machine{current: StateIdle, trail: []State{StateIdle}, logger: logger, observe: observe}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.current
}

// Trail returns every state entered, in order.
func (m *Machine) Trail() []State {
	return append([]State(nil), m.trail...)
}

// Transition moves from the expected state to the next one. The caller
// supplies from so that out-of-order use is reported instead of masked.
func (m *Machine) Transition(from, to State) error {
	if m.current != from {
		return fmt.Errorf("invalid transition: expected %s, got %s", from, m.current)
	}
	if !isAllowedTransition(from, to) {
		return fmt.Errorf("disallowed transition: %s -> %s", from, to)
	}
	m.current = to
	m.trail = append(m.trail, to)
	m.logger.Debug("Scan state changed", "from", string(from), "to", string(to))
	if m.observe != nil {
		m.observe(from, to)
	}
	return nil
}

// Advance transitions from the current state.
func (m *Machine) Advance(to State) error {
	return m.Transition(m.current, to)
}
