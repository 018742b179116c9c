// Package turnstate provides the state machine for a single conversation turn.
//
// A turn moves from the inbound user message to a committed session:
//
//	start -> validating            (validation enabled)
//	start -> generating            (validation skipped by configuration)
//	validating -> generating       (input admitted)
//	validating -> rejected         (input refused by the validator)
//	generating -> persisted        (stream drained, history committed)
//	rejected -> persisted          (rejection notice committed)
//
// persisted is the only terminal state. A turn that fails before reaching it
// leaves the session exactly as it was loaded.
package turnstate

import (
	"fmt"
	"strings"
)

// State represents the current state of a turn.
type State string

const (
	// StateStart is the initial state: session loaded, user turn appended in memory.
	StateStart State = "start"

	// StateValidating indicates the inbound text is being classified.
	StateValidating State = "validating"

	// StateGenerating indicates history is being compacted and streamed to the model.
	StateGenerating State = "generating"

	// StateRejected indicates the validator refused the input.
	StateRejected State = "rejected"

	// StatePersisted indicates the turn has been committed. Terminal.
	StatePersisted State = "persisted"
)

// AllStates returns all possible turn states.
func AllStates() []State {
	return []State{
		StateStart,
		StateValidating,
		StateGenerating,
		StateRejected,
		StatePersisted,
	}
}

// IsValid returns true if the state is a known State value.
func (s State) IsValid() bool {
	switch s {
	case StateStart, StateValidating, StateGenerating, StateRejected, StatePersisted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StatePersisted
}

// CanTransitionTo returns true if moving from s to target is allowed.
// Self transitions are never allowed.
func (s State) CanTransitionTo(target State) bool {
	if s.IsTerminal() || s == target {
		return false
	}

	switch s {
	case StateStart:
		return target == StateValidating || target == StateGenerating
	case StateValidating:
		return target == StateGenerating || target == StateRejected
	case StateGenerating, StateRejected:
		return target == StatePersisted
	}

	return false
}

// String returns the string representation of the state.
func (s State) String() string {
	return string(s)
}

// Machine tracks the path a single turn takes. It is not safe for concurrent
// use; one turn is driven by one goroutine.
type Machine struct {
	skipValidation bool
	current        State
	path           []State
}

// New returns a machine in StateStart. When skipValidation is true the
// start -> generating edge is the active one, otherwise start -> validating.
func New(skipValidation bool) *Machine {
	return &Machine{
		skipValidation: skipValidation,
		current:        StateStart,
		path:           []State{StateStart},
	}
}

// Current returns the current state.
func (m *Machine) Current() State {
	return m.current
}

// Path returns every state visited so far, in order.
func (m *Machine) Path() []State {
	out := make([]State, len(m.path))
	copy(out, m.path)
	return out
}

// Next returns the state that follows start under this machine's configuration.
func (m *Machine) Next() State {
	if m.skipValidation {
		return StateGenerating
	}
	return StateValidating
}

// Transition moves the machine to target, or returns a *TransitionError.
// From start, only the configured edge is accepted.
func (m *Machine) Transition(target State) error {
	if !m.current.CanTransitionTo(target) {
		return &TransitionError{From: m.current, To: target}
	}
	if m.current == StateStart && target != m.Next() {
		return &TransitionError{From: m.current, To: target}
	}
	m.current = target
	m.path = append(m.path, target)
	return nil
}

// PathString renders the visited path as "start -> validating -> ...".
func (m *Machine) PathString() string {
	parts := make([]string, len(m.path))
	for i, s := range m.path {
		parts[i] = string(s)
	}
	return strings.Join(parts, " -> ")
}

// TransitionError is returned when a transition is not allowed.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("turnstate: invalid transition %s -> %s", e.From, e.To)
}
