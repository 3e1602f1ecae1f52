// Package lifecycle implements the reference-count-driven state machine for
// lazily-started services. Each service has its own machine and its own
// mutual-exclusion domain; transitions for one service never block another.
package lifecycle

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle state of one lazily-registered service.
type State int32

const (
	// StateUnregistered indicates no live backing implementation exists.
	StateUnregistered State = iota

	// StateStarting indicates the backing implementation is initializing.
	StateStarting

	// StateActive indicates the implementation is serving with at least one
	// outstanding reference, or has just finished starting.
	StateActive

	// StateIdle indicates the reference count is zero and the idle timer is
	// running.
	StateIdle

	// StateShuttingDown indicates the idle timer expired and the
	// implementation is releasing its resources.
	StateShuttingDown
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	case StateShuttingDown:
		return "shutting-down"
	default:
		return fmt.Sprintf("state(%d)", s)
	}
}

// MarshalJSON implements json.Marshaler.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *State) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = ParseState(raw)
	return nil
}

// ParseState converts a string to a State. Unknown strings map to
// StateUnregistered.
func ParseState(s string) State {
	switch s {
	case "starting":
		return StateStarting
	case "active":
		return StateActive
	case "idle":
		return StateIdle
	case "shutting-down":
		return StateShuttingDown
	default:
		return StateUnregistered
	}
}

// ValidTransitions defines the allowed state transitions.
var ValidTransitions = map[State][]State{
	StateUnregistered: {StateStarting},
	StateStarting:     {StateActive, StateUnregistered},
	StateActive:       {StateIdle},
	StateIdle:         {StateActive, StateShuttingDown},
	StateShuttingDown: {StateUnregistered},
}

// CanTransition returns true if the transition from -> to is valid.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// TransitionError represents an invalid state transition.
type TransitionError struct {
	From State
	To   State
}

// Error implements error.
func (e TransitionError) Error() string {
	return fmt.Sprintf("invalid lifecycle transition: %s -> %s", e.From, e.To)
}
