package callsession

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the coordinator.
var (
	// ErrUnrecognizedPayload means the push is not a call invite.
	ErrUnrecognizedPayload = errors.New("unrecognized push payload")
	// ErrInvalidInvite means the push is a call push but carries no usable invite.
	ErrInvalidInvite = errors.New("invalid call invite")
	// ErrCallAlreadyActive means a second call arrived while one is tracked.
	ErrCallAlreadyActive = errors.New("call already active")
	// ErrNoSession means an event targeted a session that is not tracked.
	ErrNoSession = errors.New("no such call session")
	// ErrClosed means the coordinator was shut down.
	ErrClosed = errors.New("coordinator closed")
)

// Command targets.
const (
	TargetBackend = "backend"
	TargetNative  = "native"
)

// CommandError is a failed command against the backend handle or the native UI.
type CommandError struct {
	Target string
	Op     string
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Target, e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}
