// Package ipc implements a Connection: one named, bidirectional message link between
// two processes.
//
// Initialize returns immediately in the Waiting state. A connect task accepts (server)
// or dials (client), exchanges platform tokens, then runs a read task and a write task
// until the session ends:
//
//	connect ──► handshake ──► Active ──┬─► read task  ──► read queue  ──► Receive
//	                                   └─► write task ◄── write queue ◄── Send
//
// Protocol messages (disconnect, heartbeat) are consumed here and never reach Receive.
// All tasks share one context; Close cancels it, which unblocks every pending read,
// write, accept or dial.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ipcrpc/message"
	"ipcrpc/protocol"
	"ipcrpc/transport"
)

// Connection is safe for concurrent use.
type Connection struct {
	name     string
	role     transport.Role
	endpoint transport.Endpoint
	opts     options
	logger   *zap.Logger

	state        atomic.Int32
	connectCount atomic.Uint32
	remote       atomic.Uint32
	nextTRN      atomic.Uint32

	readQ  chan *message.Message
	writeQ chan *message.Message

	mu        sync.Mutex
	sessionID string
	err       error // First error recorded by any task

	active       chan struct{} // Closed on entering Active
	inactive     chan struct{} // Closed on entering Closed or Failed
	activeOnce   sync.Once
	inactiveOnce sync.Once

	cancel    context.CancelFunc
	done      chan struct{} // Closed once every task has exited
	closeOnce sync.Once
	closeErr  error
}

// Initialize creates a connection and starts connecting in the background.
// Cancelling ctx terminates the connection the same way Close does.
func Initialize(ctx context.Context, role transport.Role, name string, opts ...Option) (*Connection, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if name == "" {
		return nil, errors.New("ipc: connection name is required")
	}
	if !o.platform.Valid() {
		return nil, fmt.Errorf("ipc: invalid local platform %s", o.platform)
	}

	ep := o.endpoint
	switch {
	case ep != nil:
		if ep.Role() != role {
			return nil, fmt.Errorf("ipc: %s endpoint used for a %s connection", ep.Role(), role)
		}
	case o.tcpAddr != "":
		ep = transport.NewTCP(role, o.tcpAddr)
	default:
		ep = transport.NewPipe(role, name)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &Connection{
		name:     name,
		role:     role,
		endpoint: ep,
		opts:     o,
		logger:   o.logger.With(zap.String("conn", name), zap.Stringer("role", role)),
		readQ:    make(chan *message.Message, o.queueSize),
		writeQ:   make(chan *message.Message, o.queueSize),
		active:   make(chan struct{}),
		inactive: make(chan struct{}),
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.state.Store(int32(StateWaiting))

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.run(gctx, g) })
	go func() {
		_ = g.Wait()
		close(c.done)
	}()

	c.logger.Debug("connection initialized", zap.Stringer("endpoint", ep))
	return c, nil
}

// run is the connect task. It owns the transport connection for the whole session.
func (c *Connection) run(ctx context.Context, g *errgroup.Group) error {
	conn, err := c.connect(ctx)
	if err != nil {
		c.finish(c.record(err))
		return err
	}

	remote, err := c.handshake(ctx, conn)
	if err != nil {
		_ = conn.Close()
		c.finish(c.record(fmt.Errorf("handshake: %w", err)))
		return err
	}

	c.mu.Lock()
	c.sessionID = xid.New().String()
	session := c.sessionID
	c.mu.Unlock()
	c.remote.Store(uint32(remote))
	count := c.connectCount.Add(1)

	if !c.state.CompareAndSwap(int32(StateWaiting), int32(StateActive)) {
		_ = conn.Close()
		return nil
	}
	c.activeOnce.Do(func() { close(c.active) })
	c.logger.Info("connection active",
		zap.String("session", session),
		zap.Stringer("remote", remote),
		zap.Uint32("connect_count", count),
	)

	g.Go(func() error { return c.readLoop(ctx, conn) })
	g.Go(func() error { return c.writeLoop(ctx, conn) })

	<-ctx.Done()
	_ = conn.Close()
	c.finish(c.Err())
	return nil
}

// connect obtains a transport connection. Clients keep retrying until the server
// appears or the connection is terminated.
func (c *Connection) connect(ctx context.Context) (transport.Conn, error) {
	for attempt := 1; ; attempt++ {
		conn, err := c.endpoint.Connect(ctx)
		if err == nil {
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.role == transport.RoleServer || errors.Is(err, transport.ErrClosed) {
			return nil, err
		}
		c.logger.Debug("peer not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		t := time.NewTimer(c.opts.connectInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// handshake sends the local platform byte and reads the peer's.
func (c *Connection) handshake(ctx context.Context, conn transport.Conn) (Platform, error) {
	hctx, cancel := context.WithTimeout(ctx, c.opts.handshakeTimeout)
	defer cancel()

	if _, err := conn.WriteFull(hctx, []byte{byte(c.opts.platform)}); err != nil {
		return PlatformUnknown, err
	}
	var b [1]byte
	if _, err := conn.ReadFull(hctx, b[:]); err != nil {
		return PlatformUnknown, err
	}
	if err := hctx.Err(); err != nil {
		return PlatformUnknown, err
	}
	remote := Platform(b[0])
	if !remote.Valid() {
		return PlatformUnknown, fmt.Errorf("unknown peer platform %d", b[0])
	}
	return remote, nil
}

func (c *Connection) readLoop(ctx context.Context, conn transport.Conn) error {
	for {
		msg, err := protocol.Decode(ctx, conn)
		if err != nil {
			return c.record(fmt.Errorf("read: %w", err))
		}
		if msg.IsProtocol() {
			switch msg.Opcode() {
			case message.OpDisconnect:
				c.logger.Debug("peer sent disconnect")
				return c.record(errPeerClosed)
			case message.OpHeartbeat:
			default:
				c.logger.Warn("unknown protocol message dropped", zap.Stringer("msg", msg))
			}
			continue
		}
		select {
		case c.readQ <- msg:
		case <-ctx.Done():
			return c.record(ctx.Err())
		}
	}
}

func (c *Connection) writeLoop(ctx context.Context, conn transport.Conn) error {
	var tick <-chan time.Time
	if c.opts.heartbeat > 0 {
		t := time.NewTicker(c.opts.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return c.record(ctx.Err())
		case msg := <-c.writeQ:
			if err := protocol.WriteMessage(ctx, conn, msg); err != nil {
				return c.record(fmt.Errorf("write: %w", err))
			}
			msg.Release()
			if msg.IsProtocol() && msg.Opcode() == message.OpDisconnect {
				return c.record(errLocalClosed)
			}
		case <-tick:
			hb := message.New(message.OpHeartbeat, 0, 0, message.KindProtocol)
			if err := protocol.WriteMessage(ctx, conn, hb); err != nil {
				return c.record(fmt.Errorf("heartbeat: %w", err))
			}
		}
	}
}

// record keeps the first error and returns err unchanged.
func (c *Connection) record(err error) error {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	return err
}

func graceful(err error) bool {
	return err == nil ||
		errors.Is(err, errPeerClosed) ||
		errors.Is(err, errLocalClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, transport.ErrClosed)
}

// finish moves the connection to its terminal state exactly once.
func (c *Connection) finish(cause error) {
	next := StateFailed
	if graceful(cause) {
		next = StateClosed
	}
	for {
		cur := State(c.state.Load())
		if cur.Terminal() {
			return
		}
		if c.state.CompareAndSwap(int32(cur), int32(next)) {
			break
		}
	}
	c.inactiveOnce.Do(func() { close(c.inactive) })
	c.cancel()

	if next == StateFailed {
		c.logger.Warn("connection failed", zap.Error(cause))
	} else {
		c.logger.Info("connection closed")
	}
}

// Send queues msg for the write task. Ownership passes to the connection only when
// Send returns nil; on error the caller still owns msg.
func (c *Connection) Send(msg *message.Message) error {
	if msg == nil {
		return errors.New("ipc: nil message")
	}
	if uint32(len(msg.Data())) != msg.Size() {
		return fmt.Errorf("%w: %s", ErrPayloadTaken, msg)
	}
	if st := c.State(); st != StateActive {
		return c.stateError(st)
	}
	select {
	case c.writeQ <- msg:
		return nil
	case <-c.inactive:
		return c.stateError(c.State())
	}
}

// Receive returns the next user message. Messages already queued are delivered even
// after the connection has ended. Without wait it returns (nil, nil) when the queue is
// empty; with wait it blocks until a message arrives, the connection leaves Active or
// ctx is done.
func (c *Connection) Receive(ctx context.Context, wait bool) (*message.Message, error) {
	select {
	case msg := <-c.readQ:
		return msg, nil
	default:
	}
	if st := c.State(); st != StateActive {
		return nil, c.stateError(st)
	}
	if !wait {
		return nil, nil
	}
	select {
	case msg := <-c.readQ:
		return msg, nil
	case <-c.inactive:
		select {
		case msg := <-c.readQ:
			return msg, nil
		default:
		}
		return nil, c.stateError(c.State())
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Wait blocks until the connection is Active. It fails if the connection ends first.
func (c *Connection) Wait(ctx context.Context) error {
	select {
	case <-c.active:
	case <-c.inactive:
	case <-ctx.Done():
		return ctx.Err()
	}
	if st := c.State(); st != StateActive {
		return c.stateError(st)
	}
	return nil
}

// Close sends a disconnect to the peer if the session is live, then stops every task
// and releases the endpoint. It is safe to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		if c.State() == StateActive {
			bye := message.New(message.OpDisconnect, 0, 0, message.KindProtocol)
			select {
			case c.writeQ <- bye:
				t := time.NewTimer(c.opts.closeGrace)
				select {
				case <-c.inactive:
				case <-t.C:
				}
				t.Stop()
			default:
			}
		}
		c.record(errLocalClosed)
		c.cancel()
		<-c.done
		c.finish(errLocalClosed)
		c.closeErr = c.endpoint.Close()
	})
	return c.closeErr
}

// Done is closed once the connection has reached Closed or Failed.
func (c *Connection) Done() <-chan struct{} {
	return c.inactive
}

func (c *Connection) stateError(st State) error {
	return &StateError{Name: c.name, State: st, Err: c.failure()}
}

// failure returns the recorded error when the connection failed.
func (c *Connection) failure() error {
	if err := c.Err(); !graceful(err) {
		return err
	}
	return nil
}

// CreateMessage allocates a user message. A zero transaction gets a fresh id owned by
// this side: positive on servers, negative on clients.
func (c *Connection) CreateMessage(opcode, size uint32, transaction int32) *message.Message {
	if transaction == 0 {
		transaction = c.nextTransaction()
	}
	return message.New(opcode, size, transaction, message.KindUser)
}

func (c *Connection) nextTransaction() int32 {
	for {
		n := int32(c.nextTRN.Add(1) & math.MaxInt32)
		if n == 0 {
			continue
		}
		if c.role == transport.RoleClient {
			return -n
		}
		return n
	}
}

// CreatedMessage reports whether transaction was allocated by this side.
func (c *Connection) CreatedMessage(transaction int32) bool {
	if transaction == 0 {
		return false
	}
	return (transaction > 0) == (c.role == transport.RoleServer)
}

func (c *Connection) Name() string         { return c.name }
func (c *Connection) Role() transport.Role { return c.role }
func (c *Connection) State() State         { return State(c.state.Load()) }

// ConnectCount is the number of completed handshakes.
func (c *Connection) ConnectCount() uint32 {
	return c.connectCount.Load()
}

// RemotePlatform is PlatformUnknown until the handshake completes.
func (c *Connection) RemotePlatform() Platform {
	return Platform(c.remote.Load())
}

func (c *Connection) LocalPlatform() Platform {
	return c.opts.platform
}

// SessionID identifies the current session in logs. Empty before the handshake.
func (c *Connection) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Err returns the first error recorded by the connection tasks, or nil.
func (c *Connection) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Connection) Endpoint() string {
	return c.endpoint.String()
}
