// Package session implements the controller that owns one realtime voice
// link: the connection state machine, the per-activation audio pipelines and
// their teardown.
//
// A [Controller] moves through the states
//
//	OFFLINE → CONNECTING → ONLINE → OFFLINE | ERROR
//
// Activation is the only way out of OFFLINE and ERROR; nothing reconnects on
// its own. Inbound session events are consumed by a single goroutine in
// delivery order, so playback fragments are scheduled in the order the
// channel produced them.
package session

import "fmt"

// State is the connection lifecycle state.
type State int

const (
	// StateOffline is the initial state and the state after a clean close or
	// a deactivation.
	StateOffline State = iota

	// StateConnecting means devices are acquired and the session channel is
	// being opened.
	StateConnecting

	// StateOnline means the channel is open and audio flows both ways.
	StateOnline

	// StateError means device acquisition or the channel failed.
	StateError
)

// String returns the upper-case state label.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "OFFLINE"
	case StateConnecting:
		return "CONNECTING"
	case StateOnline:
		return "ONLINE"
	case StateError:
		return "ERROR"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state as its label.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state label produced by MarshalText.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateOffline; st <= StateError; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", text)
}

// transitions lists the legal successor states. ERROR → CONNECTING and
// CONNECTING → OFFLINE are only taken by an explicit Activate or Deactivate;
// channel events never produce them.
var transitions = map[State][]State{
	StateOffline:    {StateConnecting},
	StateConnecting: {StateOnline, StateError, StateOffline},
	StateOnline:     {StateOffline, StateError},
	StateError:      {StateConnecting},
}

// CanTransition reports whether from → to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
