// Package transport provides the raw byte-stream primitives the IPC layer runs on.
//
// An Endpoint produces a Conn: servers accept, clients dial. A Conn moves exact byte
// counts in both directions and every blocking call honours the context passed to it,
// so a shared terminate signal (context cancel) unblocks a pending read, write, accept
// or dial without tearing down the process.
//
//	Endpoint.Connect(ctx) ──► Conn.ReadFull(ctx, buf)  ── header, then payload
//	                          Conn.WriteFull(ctx, buf) ── header, then payload
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// ChunkSize caps a single socket read or write. Larger transfers are split.
const ChunkSize = 32 * 1024

// Role selects whether an endpoint accepts (server) or dials (client).
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

var (
	// ErrClosed is returned by an endpoint after Close.
	ErrClosed = errors.New("transport: endpoint closed")
	// ErrAddrInUse is returned when a live server already owns a pipe name.
	ErrAddrInUse = errors.New("transport: pipe already in use")
	// ErrUnsupported is returned when the platform has no implementation for a transport.
	ErrUnsupported = errors.New("transport: unsupported on this platform")
)

// Conn is a connected byte stream.
type Conn interface {
	// ReadFull reads exactly len(p) bytes. It reports how many bytes were read
	// before a failure or cancellation.
	ReadFull(ctx context.Context, p []byte) (int, error)
	// WriteFull writes exactly len(p) bytes.
	WriteFull(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Endpoint produces connections for one side of a link.
type Endpoint interface {
	// Connect blocks until a peer is accepted (server) or reached (client).
	Connect(ctx context.Context) (Conn, error)
	Role() Role
	Close() error
	String() string
}

// deadlineConn is the subset of net.Conn used to interrupt blocking calls.
type deadlineConn interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
}

type streamConn struct {
	c deadlineConn
}

// NewConn wraps a net.Conn (or anything with deadlines) as a cancellable Conn.
func NewConn(c net.Conn) Conn {
	return &streamConn{c: c}
}

// aLongTimeAgo is a non-zero time far in the past, used to expire deadlines immediately.
var aLongTimeAgo = time.Unix(1, 0)

// watch forces the connection's deadline into the past once ctx is done,
// which unblocks any in-flight Read or Write.
func (s *streamConn) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, func() {
		_ = s.c.SetDeadline(aLongTimeAgo)
	})
}

func (s *streamConn) ReadFull(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	stop := s.watch(ctx)
	defer stop()

	got := 0
	for got < len(p) {
		end := min(got+ChunkSize, len(p))
		n, err := s.c.Read(p[got:end])
		got += n
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return got, ctxErr
			}
			if errors.Is(err, io.EOF) && got > 0 {
				err = io.ErrUnexpectedEOF
			}
			return got, err
		}
		if n == 0 {
			return got, io.ErrUnexpectedEOF
		}
	}
	return got, nil
}

func (s *streamConn) WriteFull(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	stop := s.watch(ctx)
	defer stop()

	put := 0
	for put < len(p) {
		end := min(put+ChunkSize, len(p))
		n, err := s.c.Write(p[put:end])
		put += n
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return put, ctxErr
			}
			return put, err
		}
	}
	return put, nil
}

func (s *streamConn) Close() error {
	return s.c.Close()
}
