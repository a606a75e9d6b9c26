// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (C) 2026 aPlane Authors

package threaded

import (
	"errors"
	"fmt"
)

// State is the lifecycle of a threaded execution context.
type State int32

const (
	Ready State = iota
	Running
	Suspended
	Finished
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Finished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// MarshalText encodes the state by name (used in JSON responses).
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions is the complete lifecycle table. Anything else is a bug.
var transitions = map[State][]State{
	Ready:     {Running},
	Running:   {Suspended, Finished},
	Suspended: {Running, Finished},
	Finished:  {Ready},
}

// ValidTransition reports whether from -> to appears in the lifecycle table.
func ValidTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

var (
	// ErrProtocol is returned when an operation is invoked in a state that
	// forbids it. It indicates a bug in the embedder and must not be retried.
	ErrProtocol = errors.New("protocol violation")

	// ErrBusy is returned by synchronous operations while a submission is
	// in flight (Running or Suspended).
	ErrBusy = fmt.Errorf("%w: context is busy", ErrProtocol)

	// ErrAttached is returned by Claim when another attachment holds the context.
	ErrAttached = fmt.Errorf("%w: context already attached", ErrProtocol)

	// ErrTerminated is returned by WriteResponse when Terminate raced the
	// response. The run is unwinding; the response is dropped.
	ErrTerminated = errors.New("context terminated")
)

func protocolError(op string, state State) error {
	return fmt.Errorf("%w: %s not allowed while %s", ErrProtocol, op, state)
}
