package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
)

// TCPEndpoint links two processes over a TCP socket.
// The server side listens lazily on its first Connect and keeps listening until Close.
type TCPEndpoint struct {
	role Role
	addr string

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewTCP returns a TCP endpoint. addr is the listen address for servers and the
// remote address for clients.
func NewTCP(role Role, addr string) *TCPEndpoint {
	return &TCPEndpoint{role: role, addr: addr}
}

// Bind starts listening immediately (servers only) so Addr reports the bound port.
func (e *TCPEndpoint) Bind() error {
	_, err := e.listen()
	return err
}

// Addr returns the bound listen address once Bind or Connect succeeded, otherwise the
// configured address.
func (e *TCPEndpoint) Addr() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.listener != nil {
		return e.listener.Addr().String()
	}
	return e.addr
}

func (e *TCPEndpoint) listen() (net.Listener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.role != RoleServer {
		return nil, errors.New("transport: only server endpoints listen")
	}
	if e.listener != nil {
		return e.listener, nil
	}
	l, err := net.Listen("tcp", e.addr)
	if err != nil {
		return nil, fmt.Errorf("listen tcp %s: %w", e.addr, err)
	}
	e.listener = l
	return l, nil
}

func (e *TCPEndpoint) Connect(ctx context.Context) (Conn, error) {
	if e.role == RoleServer {
		l, err := e.listen()
		if err != nil {
			return nil, err
		}
		c, err := accept(ctx, l)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("accept tcp %s: %w", l.Addr(), err)
		}
		tuneSocket(c)
		return NewConn(c), nil
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	var d net.Dialer
	c, err := d.DialContext(ctx, "tcp", e.addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", e.addr, err)
	}
	tuneSocket(c)
	return NewConn(c), nil
}

func (e *TCPEndpoint) Role() Role { return e.role }

func (e *TCPEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.listener != nil {
		err := e.listener.Close()
		e.listener = nil
		return err
	}
	return nil
}

func (e *TCPEndpoint) String() string {
	return "tcp://" + e.Addr()
}
