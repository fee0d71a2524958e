// Package client opens RPC sessions to servers found through a registry.
//
// Dial discovers the instances of a service, picks one with the load balancer and
// connects an ipc.Connection to it. The returned Session wraps that connection in an
// rpc.Host; Reconnect replaces a lost connection while keeping the Host's interfaces.
package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"ipcrpc/ipc"
	"ipcrpc/loadbalance"
	"ipcrpc/registry"
	"ipcrpc/rpc"
	"ipcrpc/transport"
)

// DefaultDialTimeout bounds discovery, connect and handshake for one Dial.
const DefaultDialTimeout = 5 * time.Second

type Client struct {
	registry    registry.Registry // find service instance from registry
	balancer    loadbalance.Balancer
	name        string
	interfaces  []*rpc.Interface
	connOpts    []ipc.Option
	hostOpts    []rpc.Option
	dialTimeout time.Duration
	logger      *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithName sets the connection name. It is also the consistent-hash key.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithInterfaces serves ifaces to the server on every session, for callbacks.
func WithInterfaces(ifaces ...*rpc.Interface) Option {
	return func(c *Client) { c.interfaces = append(c.interfaces, ifaces...) }
}

func WithConnOptions(opts ...ipc.Option) Option {
	return func(c *Client) { c.connOpts = append(c.connOpts, opts...) }
}

func WithHostOptions(opts ...rpc.Option) Option {
	return func(c *Client) { c.hostOpts = append(c.hostOpts, opts...) }
}

func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// NewClient returns a client. A nil balancer selects round robin.
func NewClient(reg registry.Registry, bal loadbalance.Balancer, opts ...Option) *Client {
	if bal == nil {
		bal = &loadbalance.RoundRobinBalancer{}
	}
	c := &Client{
		registry:    reg,
		balancer:    bal,
		dialTimeout: DefaultDialTimeout,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial opens a session to one instance of service. The session's connection name
// defaults to the service name.
func (c *Client) Dial(ctx context.Context, service string) (*Session, error) {
	name := c.name
	if name == "" {
		name = service
	}
	conn, inst, err := c.connect(ctx, service, name)
	if err != nil {
		return nil, err
	}

	host := rpc.NewHost(conn, append([]rpc.Option{rpc.WithLogger(c.logger)}, c.hostOpts...)...)
	for _, iface := range c.interfaces {
		if err := host.Register(iface); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &Session{
		client:   c,
		service:  service,
		name:     name,
		host:     host,
		conn:     conn,
		instance: inst,
	}, nil
}

// connect discovers, picks and connects one instance, waiting until the session is
// Active.
func (c *Client) connect(ctx context.Context, service, name string) (*ipc.Connection, registry.Instance, error) {
	ctx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	instances, err := c.registry.Discover(ctx, service)
	if err != nil {
		return nil, registry.Instance{}, err
	}
	if len(instances) == 0 {
		return nil, registry.Instance{}, fmt.Errorf("%w for service %s", registry.ErrNotFound, service)
	}
	inst, err := c.balancer.Pick(name, instances)
	if err != nil {
		return nil, registry.Instance{}, err
	}

	opts := []ipc.Option{ipc.WithLogger(c.logger)}
	switch inst.Network {
	case "", "tcp", "tcp4", "tcp6":
		opts = append(opts, ipc.WithTCP(inst.Addr))
	case "pipe":
		opts = append(opts, ipc.WithEndpoint(transport.NewPipe(transport.RoleClient, inst.Addr)))
	default:
		return nil, inst, fmt.Errorf("client: instance %s has unknown network %q", inst.Addr, inst.Network)
	}
	opts = append(opts, c.connOpts...)

	// The connection outlives the dial deadline.
	conn, err := ipc.Initialize(context.WithoutCancel(ctx), transport.RoleClient, name, opts...)
	if err != nil {
		return nil, inst, err
	}
	if err := conn.Wait(ctx); err != nil {
		conn.Close()
		return nil, inst, fmt.Errorf("client: connect %s: %w", inst.Addr, err)
	}
	c.logger.Debug("session connected",
		zap.String("service", service),
		zap.String("addr", inst.Addr),
		zap.String("balancer", c.balancer.Name()),
	)
	return conn, inst, nil
}

// Session is one live link to a server. Like rpc.Host, it is driven from a single
// goroutine; only Close may be called concurrently.
type Session struct {
	client  *Client
	service string
	name    string
	host    *rpc.Host

	mu       sync.Mutex
	conn     *ipc.Connection
	instance registry.Instance
}

func (s *Session) Host() *rpc.Host { return s.host }

func (s *Session) Conn() *ipc.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Instance is the server the session is connected to.
func (s *Session) Instance() registry.Instance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.instance
}

// Reconnect drops the current connection and connects again, possibly to another
// instance. Frames on the Host's call stack are discarded.
func (s *Session) Reconnect(ctx context.Context) error {
	s.Conn().Close()
	conn, inst, err := s.client.connect(ctx, s.service, s.name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.instance = inst
	s.mu.Unlock()
	s.host.SetConn(conn)
	return nil
}

func (s *Session) Close() error {
	return s.Conn().Close()
}

// Call emits one invocation on the session. A call that finds the connection already
// gone reconnects once and retries; a call lost after it was sent is not retried.
func Call[A any](ctx context.Context, s *Session, inv *rpc.Invoker[A], args *rpc.Args[A], flags rpc.Flags) (rpc.Status, error) {
	if st := s.Conn().State(); st.Terminal() {
		s.client.logger.Info("session lost, reconnecting",
			zap.String("service", s.service),
			zap.Stringer("state", st),
		)
		if err := s.Reconnect(ctx); err != nil {
			return rpc.StatusDisconnected, err
		}
	}
	return rpc.Emit(ctx, s.host, inv, args, flags)
}
