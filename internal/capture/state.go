package capture

import (
	"fmt"
	"time"
)

// State is a lifecycle state of the device controller.
type State int

const (
	StateIdle State = iota
	StateOpening
	StateOpen
	StateSessionConfiguring
	StateStreaming
	StateClosing
	StateClosed
	StateError
)

var stateNames = map[State]string{
	StateIdle:               "idle",
	StateOpening:            "opening",
	StateOpen:               "open",
	StateSessionConfiguring: "session_configuring",
	StateStreaming:          "streaming",
	StateClosing:            "closing",
	StateClosed:             "closed",
	StateError:              "error",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the legal successors of each state.
var transitions = map[State][]State{
	StateIdle:               {StateOpening},
	StateOpening:            {StateOpen, StateClosing, StateError},
	StateOpen:               {StateSessionConfiguring, StateClosing, StateError},
	StateSessionConfiguring: {StateStreaming, StateClosing, StateError},
	StateStreaming:          {StateClosing, StateError},
	StateClosing:            {StateClosed},
	StateClosed:             {StateOpening},
	StateError:              {StateOpening, StateClosing, StateClosed},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition records one state change of a Controller.
type Transition struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	SessionID string    `json:"session_id,omitempty"`
	SensorID  string    `json:"sensor_id,omitempty"`
	Err       error     `json:"-"`
	At        time.Time `json:"at"`
}
