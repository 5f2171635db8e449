// Package fsm provides a tiny generic transition-table state machine used
// by components whose lifecycle is a small closed set of named states.
package fsm

import "fmt"

// State is one lifecycle state.
type State string

// Event is one transition trigger consumed by a state machine.
type Event string

// Table maps (current state, event) pairs to next states. An edge is absent
// when the event has no key under the current state; use Machine.Transition
// rather than indexing Table directly so missing edges produce a stable error.
type Table map[State]map[Event]State

// Machine is a pure transition-table validator. It holds no state itself;
// callers keep the current State and pass it to Transition on each event.
type Machine struct {
	table Table
}

// New builds a Machine from an explicit transition table.
func New(table Table) Machine {
	return Machine{table: table}
}

// Transition validates and applies one state transition. An event not
// defined for the current state is an error; the returned state is
// unchanged in that case so callers can safely ignore the error and keep
// running.
func (m Machine) Transition(current State, event Event) (State, error) {
	edges, known := m.table[current]
	if !known {
		return current, fmt.Errorf("unknown state %q", current)
	}
	next, ok := edges[event]
	if !ok {
		return current, invalidTransition(current, event)
	}
	return next, nil
}

// invalidTransition formats a stable error message used by tests and callers.
func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
