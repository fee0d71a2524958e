// Package server accepts many IPC sessions on one listener and serves registered RPC
// interfaces on each of them.
//
// Session lifecycle:
//
//	Listen ──► ipc.Initialize (accepts one peer) ──► Wait Active ──► go session
//	  ▲                                                               │
//	  └──────────────────── next accept ◄─────────────────────────────┘
//	session: rpc.Host.Serve until the peer disconnects or Shutdown closes it
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ipcrpc/ipc"
	"ipcrpc/registry"
	"ipcrpc/rpc"
	"ipcrpc/transport"
)

// DefaultTTL is the registry lease in seconds; the lease is renewed while the server runs.
const DefaultTTL = 10

// Server serves a fixed set of interfaces to every session it accepts.
type Server struct {
	name       string
	interfaces []*rpc.Interface
	connOpts   []ipc.Option
	hostOpts   []rpc.Option
	logger     *zap.Logger

	registry registry.Registry
	service  string
	instance registry.Instance
	ttl      int64

	mu       sync.Mutex
	listener net.Listener
	sessions map[*ipc.Connection]struct{}

	wg       sync.WaitGroup // Tracks running sessions for graceful shutdown
	shutdown atomic.Bool    // Set before the listener closes so Serve returns nil
	accepted atomic.Uint64
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithConnOptions adds options for every accepted ipc.Connection.
func WithConnOptions(opts ...ipc.Option) Option {
	return func(s *Server) { s.connOpts = append(s.connOpts, opts...) }
}

// WithHostOptions adds options for every session's rpc.Host.
func WithHostOptions(opts ...rpc.Option) Option {
	return func(s *Server) { s.hostOpts = append(s.hostOpts, opts...) }
}

// WithRegistry publishes the server under service while it is serving. Addr and
// Network of instance are filled in from the listener when left empty.
func WithRegistry(reg registry.Registry, service string, instance registry.Instance, ttl int64) Option {
	return func(s *Server) {
		s.registry = reg
		s.service = service
		s.instance = instance
		s.ttl = ttl
	}
}

// NewServer creates a server whose sessions use the connection name name.
func NewServer(name string, opts ...Option) *Server {
	s := &Server{
		name:     name,
		logger:   zap.NewNop(),
		ttl:      DefaultTTL,
		sessions: make(map[*ipc.Connection]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register adds an interface served on every session. Register before Serve.
func (s *Server) Register(iface *rpc.Interface) error {
	if iface == nil {
		return errors.New("server: nil interface")
	}
	if len(s.interfaces) >= rpc.MaxInterfaces {
		return fmt.Errorf("%w: server holds %d interfaces", rpc.ErrCapacityExceeded, rpc.MaxInterfaces)
	}
	// A scratch host runs the same duplicate and opcode checks every session will.
	probe := rpc.NewHost(nopConn{})
	for _, other := range s.interfaces {
		_ = probe.Register(other)
	}
	if err := probe.Register(iface); err != nil {
		return err
	}
	s.interfaces = append(s.interfaces, iface)
	return nil
}

// Serve listens on network ("tcp" or "pipe") and address and accepts sessions until
// Shutdown or ctx ends. It returns nil after Shutdown.
func (s *Server) Serve(ctx context.Context, network, address string) error {
	l, err := transport.Listen(network, address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	if s.shutdown.Load() {
		l.Close()
		return nil
	}
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	if s.registry != nil {
		inst := s.instance
		if inst.Network == "" {
			inst.Network = network
		}
		if inst.Addr == "" {
			inst.Addr = advertised(network, address, l)
		}
		if inst.Platform == "" {
			inst.Platform = ipc.LocalPlatform().String()
		}
		for _, iface := range s.interfaces {
			inst.Interfaces = append(inst.Interfaces, iface.Name())
		}
		if err := s.registry.Register(ctx, s.service, inst, s.ttl); err != nil {
			l.Close()
			return err
		}
		s.mu.Lock()
		s.instance = inst
		s.mu.Unlock()
	}

	s.logger.Info("server listening",
		zap.String("network", network),
		zap.Stringer("addr", l.Addr()),
		zap.Int("interfaces", len(s.interfaces)),
	)

	for {
		// Closing a session closes its endpoint, so each session accepts through its own.
		conn, err := ipc.Initialize(ctx, transport.RoleServer, s.name, append([]ipc.Option{
			ipc.WithEndpoint(transport.NewListener(l)),
			ipc.WithLogger(s.logger),
		}, s.connOpts...)...)
		if err != nil {
			return err
		}
		if err := conn.Wait(ctx); err != nil {
			conn.Close()
			if s.shutdown.Load() || ctx.Err() != nil {
				return nil
			}
			if errors.Is(conn.Err(), transport.ErrClosed) {
				return fmt.Errorf("server: listener closed: %w", err)
			}
			s.logger.Warn("session setup failed", zap.Error(err))
			continue
		}
		s.start(ctx, conn)
	}
}

// start serves one Active session on its own goroutine.
func (s *Server) start(ctx context.Context, conn *ipc.Connection) {
	host := rpc.NewHost(conn, append([]rpc.Option{
		rpc.WithLogger(s.logger.With(zap.String("session", conn.SessionID()))),
	}, s.hostOpts...)...)
	for _, iface := range s.interfaces {
		if err := host.Register(iface); err != nil {
			s.logger.Error("interface registration failed", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.sessions[conn] = struct{}{}
	s.mu.Unlock()
	s.accepted.Add(1)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := host.Serve(ctx); err != nil {
			s.logger.Warn("session ended with error", zap.Error(err))
		}
		conn.Close()
		s.mu.Lock()
		delete(s.sessions, conn)
		s.mu.Unlock()
	}()
}

// Addr is the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Sessions is the number of sessions currently being served.
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Accepted is the total number of sessions that reached Active.
func (s *Server) Accepted() uint64 {
	return s.accepted.Load()
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the registry so clients stop picking this server
//  2. Set the shutdown flag and close the listener
//  3. Close every session, which sends a disconnect to each peer
//  4. Wait for session goroutines to finish (with timeout)
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	inst := s.instance
	s.mu.Unlock()
	if s.registry != nil && inst.Addr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := s.registry.Deregister(ctx, s.service, inst.Addr); err != nil {
			s.logger.Warn("deregister failed", zap.Error(err))
		}
		cancel()
	}

	s.shutdown.Store(true)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	sessions := make([]*ipc.Connection, 0, len(s.sessions))
	for conn := range s.sessions {
		sessions = append(sessions, conn)
	}
	s.mu.Unlock()

	for _, conn := range sessions {
		conn.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("server stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("server: timeout waiting for %d sessions to finish", s.Sessions())
	}
}

// advertised is the address clients use to reach the listener.
func advertised(network, address string, l net.Listener) string {
	if network == "pipe" {
		return address
	}
	return l.Addr().String()
}

// nopConn lets Register validate interfaces without a live connection.
type nopConn struct{ rpc.Conn }

func (nopConn) ConnectCount() uint32 { return 0 }
