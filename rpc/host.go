// Package rpc layers synchronous, re-entrant calls on top of an ipc.Connection.
//
// A Host owns a bounded call stack. Emit pushes a frame awaiting a reply and pumps
// Process until the reply arrives; meanwhile incoming invocations are served inline,
// each on its own frame, so a handler may itself call back into the peer:
//
//	A: Emit(f) ─────────────── Process ──► serve g ──► Emit(h) ── reply h ─┐
//	B:            serve f ──► Emit(g) ──────────────────────────── reply g ┴─► reply f
//
// Replies are matched by transaction id against the top of the stack only. A Host must
// be driven from one goroutine; none of its methods are safe for concurrent use.
package rpc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ipcrpc/ipc"
	"ipcrpc/message"
	"ipcrpc/middleware"
)

// Conn is the connection a Host drives. *ipc.Connection implements it.
type Conn interface {
	State() ipc.State
	ConnectCount() uint32
	LocalPlatform() ipc.Platform
	RemotePlatform() ipc.Platform
	CreateMessage(opcode, size uint32, transaction int32) *message.Message
	CreatedMessage(transaction int32) bool
	Send(msg *message.Message) error
	Receive(ctx context.Context, wait bool) (*message.Message, error)
}

var errUnhandled = errors.New("rpc: no invoker for opcode")

type hostKey struct{}

// HostFrom returns the Host serving the current invocation, so a handler can emit
// nested calls back to the peer. It returns nil outside a handler.
func HostFrom(ctx context.Context) *Host {
	h, _ := ctx.Value(hostKey{}).(*Host)
	return h
}

// Host is the RPC endpoint on one connection.
type Host struct {
	conn    Conn
	session uint32

	interfaces []*Interface
	stack      []*Frame
	maxDepth   int

	opts   options
	logger *zap.Logger
	chain  middleware.Middleware
}

func NewHost(conn Conn, opts ...Option) *Host {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Host{
		conn:       conn,
		session:    conn.ConnectCount(),
		interfaces: make([]*Interface, 0, MaxInterfaces),
		stack:      make([]*Frame, 0, o.stackDepth),
		maxDepth:   o.stackDepth,
		opts:       o,
		logger:     o.logger,
		chain:      middleware.Chain(o.middleware...),
	}
}

// Register makes iface's invokers callable by the peer.
func (h *Host) Register(iface *Interface) error {
	if iface == nil {
		return errors.New("rpc: nil interface")
	}
	if len(h.interfaces) >= MaxInterfaces {
		return fmt.Errorf("%w: host holds %d interfaces", ErrCapacityExceeded, MaxInterfaces)
	}
	for _, other := range h.interfaces {
		if other.Name() == iface.Name() {
			return fmt.Errorf("rpc: interface %s already registered", iface.Name())
		}
		for _, inv := range iface.invokers {
			if clash := other.byOpcode(inv.Opcode()); clash != nil {
				return fmt.Errorf("rpc: opcode of %s collides with %s", inv.FullName(), clash.FullName())
			}
		}
	}
	h.interfaces = append(h.interfaces, iface)
	h.logger.Debug("interface registered",
		zap.String("interface", iface.Name()),
		zap.Int("invokers", iface.Len()),
	)
	return nil
}

// Interface returns the registered interface with the given name, or nil.
func (h *Host) Interface(name string) *Interface {
	for _, iface := range h.interfaces {
		if iface.Name() == name {
			return iface
		}
	}
	return nil
}

// Conn returns the connection the Host currently drives.
func (h *Host) Conn() Conn { return h.conn }

// SetConn points the Host at a replacement connection. The call stack is reset; frames
// that belonged to the old connection can never complete.
func (h *Host) SetConn(conn Conn) {
	h.conn = conn
	h.session = conn.ConnectCount()
	h.reset()
}

// Depth is the current call-stack depth.
func (h *Host) Depth() int { return len(h.stack) }

// Top returns the innermost frame, or nil when the stack is empty.
func (h *Host) Top() *Frame {
	if len(h.stack) == 0 {
		return nil
	}
	return h.stack[len(h.stack)-1]
}

// TakeMessage hands the message being served to the running handler. Without it the
// message, and any Args.Payload aliasing it, is released when the handler returns.
func (h *Host) TakeMessage() *message.Message {
	f := h.Top()
	if f == nil || f.awaiting || f.taken || f.msg == nil {
		return nil
	}
	f.taken = true
	return f.msg
}

func (h *Host) push(f *Frame) {
	h.stack = append(h.stack, f)
}

// truncate pops frames down to depth. It tolerates a stack already reset below depth.
func (h *Host) truncate(depth int) {
	if depth < len(h.stack) {
		clear(h.stack[depth:])
		h.stack = h.stack[:depth]
	}
}

func (h *Host) reset() {
	if len(h.stack) > 0 {
		h.logger.Warn("call stack reset", zap.Int("depth", len(h.stack)))
	}
	h.truncate(0)
}

// checkSession resets the stack when the connection completed a new handshake.
func (h *Host) checkSession() {
	if cc := h.conn.ConnectCount(); cc != h.session {
		h.session = cc
		h.reset()
	}
}

func (h *Host) wire() wire {
	local := h.conn.LocalPlatform()
	return wire{
		order: local.ByteOrder(),
		swap:  ipc.NeedsSwizzle(local, h.conn.RemotePlatform()),
	}
}

func (h *Host) lookup(op uint32) (*Interface, Binding) {
	for _, iface := range h.interfaces {
		if inv := iface.byOpcode(op); inv != nil {
			return iface, inv
		}
	}
	return nil, nil
}

// Process receives one message and handles it: a reply completes the awaiting frame at
// the top of the stack; anything else is an invocation served inline. It reports whether
// a message was handled. Errors come only from the connection.
func (h *Host) Process(ctx context.Context, wait bool) (bool, error) {
	msg, err := h.conn.Receive(ctx, wait)
	if err != nil {
		return false, err
	}
	if msg == nil {
		return false, nil
	}
	if h.conn.CreatedMessage(msg.Transaction()) {
		h.complete(msg)
	} else {
		h.serve(ctx, msg)
	}
	return true, nil
}

// Dispatch handles every message already queued without blocking. Call it from an idle
// loop when the Host is not inside Emit.
func (h *Host) Dispatch(ctx context.Context) (int, error) {
	n := 0
	for {
		ok, err := h.Process(ctx, false)
		if err != nil || !ok {
			return n, err
		}
		n++
	}
}

// Serve drives the Host until ctx ends or the connection leaves Active.
func (h *Host) Serve(ctx context.Context) error {
	for {
		if _, err := h.Process(ctx, true); err != nil {
			if errors.Is(err, ipc.ErrNotActive) || ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func (h *Host) complete(msg *message.Message) {
	f := h.Top()
	if f == nil || !f.awaiting || f.replied || f.transaction != msg.Transaction() {
		fields := []zap.Field{
			zap.Int32("transaction", msg.Transaction()),
			zap.Uint32("opcode", msg.Opcode()),
			zap.Int("depth", len(h.stack)),
		}
		if f != nil {
			fields = append(fields, zap.Stringer("top", f))
		}
		h.logger.Warn("reply does not match call stack, dropped", fields...)
		msg.Release()
		return
	}
	f.reply = msg.Take()
	f.replied = true
}

func (h *Host) serve(ctx context.Context, msg *message.Message) {
	data := msg.Data()
	if len(data) < headerSize {
		h.logger.Warn("invocation without rpc header, dropped",
			zap.Int32("transaction", msg.Transaction()),
			zap.Uint32("opcode", msg.Opcode()),
		)
		msg.Release()
		return
	}
	flags := Flags(data[0]) & callFlags

	if len(h.stack) >= h.maxDepth {
		h.logger.Error("call stack full, invocation refused",
			zap.Int32("transaction", msg.Transaction()),
			zap.Int("depth", len(h.stack)),
		)
		if flags&NonBlocking == 0 {
			h.reply(msg, replyFailed, nil)
		}
		msg.Release()
		return
	}

	iface, inv := h.lookup(msg.Opcode())
	call := &middleware.Call{
		Opcode:      msg.Opcode(),
		Transaction: msg.Transaction(),
		Depth:       len(h.stack) + 1,
		Size:        len(data) - headerSize,
		NonBlocking: flags&NonBlocking != 0,
	}
	if inv != nil {
		call.Interface, call.Invoker = iface.Name(), inv.Name()
	}

	depth := len(h.stack)
	f := &Frame{transaction: msg.Transaction(), msg: msg}
	h.push(f)
	ctx = context.WithValue(ctx, hostKey{}, h)

	var body []byte
	err := h.chain(func(ctx context.Context, _ *middleware.Call) error {
		if inv == nil {
			return errUnhandled
		}
		var err error
		body, err = inv.serve(ctx, data[headerSize:], flags, h.wire())
		return err
	})(ctx, call)

	h.truncate(depth)
	if !f.taken {
		msg.Release()
	}

	switch {
	case errors.Is(err, errUnhandled):
		h.logger.Warn("no invoker for opcode",
			zap.Uint32("opcode", msg.Opcode()),
			zap.Int32("transaction", msg.Transaction()),
		)
		flags |= replyUnhandled
		body = nil
	case err != nil:
		h.logger.Debug("handler failed", zap.String("method", call.Method()), zap.Error(err))
		flags |= replyFailed
		body = nil
	}
	if flags&NonBlocking == 0 {
		h.reply(msg, flags&^NonBlocking, body)
	}
}

func (h *Host) reply(call *message.Message, flags Flags, body []byte) {
	msg := h.conn.CreateMessage(call.Opcode(), uint32(headerSize+len(body)), call.Transaction())
	putHeader(msg.Data(), flags)
	copy(msg.Data()[headerSize:], body)
	if err := h.conn.Send(msg); err != nil {
		h.logger.Debug("reply not sent",
			zap.Int32("transaction", call.Transaction()),
			zap.Error(err),
		)
	}
}
