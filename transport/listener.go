package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

type deadlineListener interface {
	SetDeadline(t time.Time) error
}

// accept waits for one connection on l, giving up when ctx is done.
// Listeners with deadlines (TCP, unix) are interrupted in place; others are
// accepted on a helper goroutine and a late connection is closed on arrival.
func accept(ctx context.Context, l net.Listener) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dl, ok := l.(deadlineListener); ok {
		if err := dl.SetDeadline(time.Time{}); err != nil {
			return nil, err
		}
		stop := context.AfterFunc(ctx, func() {
			_ = dl.SetDeadline(aLongTimeAgo)
		})
		defer stop()
		c, err := l.Accept()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		return c, nil
	}

	type result struct {
		c   net.Conn
		err error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := l.Accept()
		ch <- result{c, err}
	}()
	select {
	case r := <-ch:
		return r.c, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.c != nil {
				r.c.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// ListenerEndpoint is a server endpoint that accepts from a listener it does not own.
// The owner keeps the listener open across many sessions and closes it itself.
type ListenerEndpoint struct {
	l      net.Listener
	mu     sync.Mutex
	closed bool
}

// NewListener returns a server endpoint accepting from l.
func NewListener(l net.Listener) *ListenerEndpoint {
	return &ListenerEndpoint{l: l}
}

func (e *ListenerEndpoint) Connect(ctx context.Context) (Conn, error) {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	c, err := accept(ctx, e.l)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("accept on %s: %w", e.l.Addr(), err)
	}
	tuneSocket(c)
	return NewConn(c), nil
}

func (e *ListenerEndpoint) Role() Role { return RoleServer }

// Close marks the endpoint unusable. The shared listener stays open.
func (e *ListenerEndpoint) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *ListenerEndpoint) String() string {
	return "listener://" + e.l.Addr().String()
}

// Listen opens a listener for network "tcp" or "pipe".
func Listen(network, address string) (net.Listener, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
		return net.Listen(network, address)
	case "pipe":
		return listenPipe(address)
	default:
		return nil, fmt.Errorf("transport: unknown network %q", network)
	}
}

// tuneSocket applies the socket options every TCP link uses.
func tuneSocket(c net.Conn) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	_ = tc.SetReadBuffer(ChunkSize)
	_ = tc.SetWriteBuffer(ChunkSize)
}
