package ipc

import (
	"errors"
	"fmt"
)

// State is the lifecycle of a Connection: Waiting → Active → Closed | Failed.
// A connection never returns to Active; a broken one is recreated by its owner.
type State int32

const (
	StateWaiting State = iota // Connecting or handshaking
	StateActive               // Handshake done, tasks running
	StateClosed               // Graceful shutdown (either side)
	StateFailed               // I/O or protocol error
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Terminal reports whether s is Closed or Failed.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// ErrNotActive matches every StateError.
var ErrNotActive = errors.New("ipc: connection not active")

// ErrPayloadTaken rejects a message whose payload was taken or released before Send.
var ErrPayloadTaken = errors.New("ipc: message payload taken")

var (
	errPeerClosed  = errors.New("ipc: peer disconnected")
	errLocalClosed = errors.New("ipc: disconnected")
)

// StateError reports an operation refused because the connection is not Active.
type StateError struct {
	Name  string
	State State
	Err   error // First I/O failure, if the connection failed
}

func (e *StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ipc: connection %q is %s: %v", e.Name, e.State, e.Err)
	}
	return fmt.Sprintf("ipc: connection %q is %s", e.Name, e.State)
}

func (e *StateError) Is(target error) bool {
	return target == ErrNotActive
}

func (e *StateError) Unwrap() error {
	return e.Err
}
