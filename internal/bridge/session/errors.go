package session

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateSession is returned by Registry.Put when the call id is live.
	ErrDuplicateSession = errors.New("duplicate session")

	// ErrSessionClosed is returned for any command attempted after the session closed.
	ErrSessionClosed = errors.New("session closed")

	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("invalid state for operation")

	// ErrTransferPending is returned when a transfer is requested while one is outstanding.
	ErrTransferPending = errors.New("transfer already pending")
)

// StateTransitionError describes a rejected transition.
type StateTransitionError struct {
	CallID string
	From   State
	To     State
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("session %s: invalid transition %s -> %s", e.CallID, e.From, e.To)
}

func (e *StateTransitionError) Unwrap() error {
	return ErrInvalidState
}

// DispatchError reports a command that could not be written to the control channel.
type DispatchError struct {
	CallID  string
	Command string
	Cause   error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("session %s: dispatch %s: %v", e.CallID, e.Command, e.Cause)
}

func (e *DispatchError) Unwrap() error {
	return e.Cause
}
