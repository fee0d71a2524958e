package rpc

import "fmt"

// Status is the outcome of Emit. Only StatusReplied changes the caller's Args.
type Status int

const (
	// StatusReplied: the remote handler ran and its reply was applied.
	StatusReplied Status = iota
	// StatusSent: a non-blocking call was queued. Nothing is known about its outcome.
	StatusSent
	// StatusTimedOut: no reply within the budget. The call may still run remotely and
	// its late reply is dropped as a desync.
	StatusTimedOut
	// StatusDisconnected: the connection was not active or left Active while waiting.
	StatusDisconnected
	// StatusFailed: the remote handler returned an error.
	StatusFailed
	// StatusUnhandled: the remote side has no invoker for the opcode.
	StatusUnhandled
)

func (s Status) String() string {
	switch s {
	case StatusReplied:
		return "replied"
	case StatusSent:
		return "sent"
	case StatusTimedOut:
		return "timed out"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailed:
		return "failed"
	case StatusUnhandled:
		return "unhandled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// OK reports whether the call reached the remote handler successfully (or was sent,
// for non-blocking calls).
func (s Status) OK() bool {
	return s == StatusReplied || s == StatusSent
}
