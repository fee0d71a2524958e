package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"
)

// Pipe creation and dial give up after this many "instance busy" results.
const (
	BusyRetries = 10
	BusyDelay   = 100 * time.Millisecond
)

// PipeName derives a pipe identity from a role token and the owning process id, so a
// launcher and the worker it spawns agree on the name without further negotiation.
func PipeName(token string, pid int) string {
	return token + "_" + strconv.Itoa(pid)
}

// DebugPipeName is the fixed identity used when attaching a debugger to a worker.
func DebugPipeName(token string) string {
	return token + "_debug"
}

// retryBusy runs op until it succeeds, fails with something other than "instance
// busy", or BusyRetries attempts have been made.
func retryBusy(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < BusyRetries; attempt++ {
		err = op()
		if err == nil || !isBusy(err) {
			return err
		}
		t := time.NewTimer(BusyDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return fmt.Errorf("pipe busy after %d attempts: %w", BusyRetries, err)
}

// PipeEndpoint links two processes on the same machine over a named pipe
// (a unix domain socket outside Windows).
type PipeEndpoint struct {
	role    Role
	name    string
	address string

	mu       sync.Mutex
	listener net.Listener
	closed   bool
}

// NewPipe returns a pipe endpoint for the given pipe name.
func NewPipe(role Role, name string) *PipeEndpoint {
	return &PipeEndpoint{role: role, name: name, address: pipeAddress(name)}
}

// Address is the OS-level pipe path.
func (e *PipeEndpoint) Address() string { return e.address }

func (e *PipeEndpoint) listen(ctx context.Context) (net.Listener, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if e.listener != nil {
		return e.listener, nil
	}
	var l net.Listener
	err := retryBusy(ctx, func() error {
		var lerr error
		l, lerr = listenPipe(e.name)
		return lerr
	})
	if err != nil {
		return nil, fmt.Errorf("create pipe %s: %w", e.address, err)
	}
	e.listener = l
	return l, nil
}

func (e *PipeEndpoint) Connect(ctx context.Context) (Conn, error) {
	if e.role == RoleServer {
		l, err := e.listen(ctx)
		if err != nil {
			return nil, err
		}
		c, err := accept(ctx, l)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil, ErrClosed
			}
			return nil, fmt.Errorf("accept pipe %s: %w", e.address, err)
		}
		return NewConn(c), nil
	}

	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	var c net.Conn
	err := retryBusy(ctx, func() error {
		var derr error
		c, derr = dialPipe(ctx, e.address)
		return derr
	})
	if err != nil {
		return nil, fmt.Errorf("open pipe %s: %w", e.address, err)
	}
	return NewConn(c), nil
}

func (e *PipeEndpoint) Role() Role { return e.role }

func (e *PipeEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.listener == nil {
		return nil
	}
	err := e.listener.Close()
	e.listener = nil
	removePipe(e.address)
	return err
}

func (e *PipeEndpoint) String() string {
	return "pipe://" + e.address
}
