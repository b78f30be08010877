/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package playback

import "errors"

// State is the playback session status.
type State string

const (
	StateIdle       State = "idle"
	StateStarting   State = "starting"
	StatePlaying    State = "playing"
	StateStopping   State = "stopping"
	StateRecovering State = "recovering"
	StateFailed     State = "failed"
)

// ErrInvalidTransition is returned for transitions outside the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// AllStates lists every state, used to reset the state gauge.
var AllStates = []State{StateIdle, StateStarting, StatePlaying, StateStopping, StateRecovering, StateFailed}

func (s State) String() string {
	return string(s)
}

var validTransitions = map[State][]State{
	StateIdle: {
		StateStarting,
	},
	StateStarting: {
		StatePlaying,
		StateFailed,
		StateIdle,
	},
	StatePlaying: {
		StateStopping,
		StateRecovering,
		StateStarting, // rotation or manual replacement
	},
	StateStopping: {
		StateIdle,
	},
	StateRecovering: {
		StateStarting,
		StateFailed,
		StateIdle,
	},
	StateFailed: {
		StateStarting,
		StateIdle,
	},
}

func isValidTransition(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func stateNames() []string {
	out := make([]string, len(AllStates))
	for i, s := range AllStates {
		out[i] = string(s)
	}
	return out
}
