// Package middleware wraps the dispatch of incoming invocations on an rpc.Host.
//
// A middleware runs on the Host's single driving goroutine, around the invoker's
// handler. It must not hand the call to another goroutine: a handler may issue nested
// calls that pump the same Host.
package middleware

import (
	"context"
	"errors"
)

var (
	ErrRateLimited = errors.New("middleware: rate limit exceeded")
	ErrTimeout     = errors.New("middleware: handler exceeded its time budget")
	ErrPanic       = errors.New("middleware: handler panicked")
)

// Call describes one invocation being dispatched.
type Call struct {
	Interface   string
	Invoker     string
	Opcode      uint32
	Transaction int32
	Depth       int  // Call-stack depth including this call's frame
	Size        int  // Payload bytes after the RPC header
	NonBlocking bool // Caller is not waiting for a reply
}

// Method is the "Interface.Invoker" name of the call.
func (c *Call) Method() string {
	return c.Interface + "." + c.Invoker
}

type HandlerFunc func(ctx context.Context, call *Call) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain composes middlewares so the first one listed runs outermost.
func Chain(middlewares ...Middleware) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
