package rpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"ipcrpc/codec"
)

var (
	// ErrUnbound is returned for an invoker that has no handler or was never added to
	// an Interface.
	ErrUnbound = errors.New("rpc: invoker is not bound")
	// ErrCapacityExceeded is returned when an interface, registry or call stack is full.
	ErrCapacityExceeded = errors.New("rpc: capacity exceeded")
)

// Args is the value exchanged by a call: a fixed-size struct, corrected for byte order
// when needed, followed by raw payload bytes that are never corrected.
type Args[A any] struct {
	Value   A
	Payload []byte
}

// Handler serves one invocation. It may modify args; what is sent back depends on the
// caller's reply flags. A non-nil error is reported to the caller as StatusFailed.
type Handler[A any] func(ctx context.Context, args *Args[A]) error

// Binding is an invoker of any Args type, as held by an Interface.
type Binding interface {
	Name() string
	FullName() string
	Opcode() uint32
	Size() int

	bind(iface string) error
	serve(ctx context.Context, body []byte, flags Flags, w wire) ([]byte, error)
}

// wire is the payload byte order negotiated for a connection.
type wire struct {
	order binary.ByteOrder
	swap  bool
}

// Invoker binds a procedure name to a handler taking Args[A].
type Invoker[A any] struct {
	name    string
	iface   string
	opcode  uint32
	handler Handler[A]
	codec   *codec.Codec[A]
}

// NewInvoker builds an invoker for A, which must be fixed-size. A nil handler gives an
// invoker that can only be used to call the remote side.
func NewInvoker[A any](name string, handler Handler[A]) (*Invoker[A], error) {
	if name == "" {
		return nil, errors.New("rpc: invoker name is required")
	}
	c, err := codec.For[A]()
	if err != nil {
		return nil, fmt.Errorf("rpc: invoker %s: %w", name, err)
	}
	return &Invoker[A]{name: name, handler: handler, codec: c}, nil
}

// MustInvoker is like NewInvoker but panics on error. Use it for package-level
// declarations where A is known to be fixed-size.
func MustInvoker[A any](name string, handler Handler[A]) *Invoker[A] {
	inv, err := NewInvoker(name, handler)
	if err != nil {
		panic(err)
	}
	return inv
}

func (inv *Invoker[A]) Name() string { return inv.name }

// FullName is "Interface.Invoker", or just the invoker name while unbound.
func (inv *Invoker[A]) FullName() string {
	if inv.iface == "" {
		return inv.name
	}
	return inv.iface + "." + inv.name
}

// Opcode is the CRC-32 of FullName, assigned when the invoker is added to an Interface.
func (inv *Invoker[A]) Opcode() uint32 { return inv.opcode }

// Size is the fixed encoded size of A.
func (inv *Invoker[A]) Size() int { return inv.codec.Size() }

func (inv *Invoker[A]) bound() bool { return inv.iface != "" }

func (inv *Invoker[A]) bind(iface string) error {
	if inv.bound() {
		return fmt.Errorf("rpc: invoker %s already belongs to interface %s", inv.name, inv.iface)
	}
	inv.iface = iface
	inv.opcode = opcodeOf(iface, inv.name)
	return nil
}

func opcodeOf(iface, name string) uint32 {
	return crc32.ChecksumIEEE([]byte(iface + "." + name))
}

func (inv *Invoker[A]) encode(dst []byte, v *A, w wire) error {
	val := *v
	if w.swap {
		inv.codec.SwizzleValue(&val)
	}
	return inv.codec.Encode(dst, w.order, &val)
}

func (inv *Invoker[A]) decode(src []byte, v *A, w wire) error {
	if err := inv.codec.Decode(src, w.order, v); err != nil {
		return err
	}
	if w.swap {
		inv.codec.SwizzleValue(v)
	}
	return nil
}

// Invoke reinterprets data as Args in the given byte order, corrects the fixed part when
// swap is set, attaches the remaining bytes as Payload and calls the handler. The
// returned Args reflect any changes the handler made. Payload aliases data.
func (inv *Invoker[A]) Invoke(ctx context.Context, data []byte, order binary.ByteOrder, swap bool) (*Args[A], error) {
	if inv.handler == nil {
		return nil, fmt.Errorf("%w: %s has no handler", ErrUnbound, inv.FullName())
	}
	size := inv.Size()
	if len(data) < size {
		return nil, fmt.Errorf("rpc: %s: %d bytes of args, need %d", inv.FullName(), len(data), size)
	}
	args := &Args[A]{}
	if err := inv.decode(data[:size], &args.Value, wire{order: order, swap: swap}); err != nil {
		return nil, err
	}
	if len(data) > size {
		args.Payload = data[size:]
	}
	if err := inv.handler(ctx, args); err != nil {
		return args, err
	}
	return args, nil
}

func (inv *Invoker[A]) serve(ctx context.Context, body []byte, flags Flags, w wire) ([]byte, error) {
	args, err := inv.Invoke(ctx, body, w.order, w.swap)
	if err != nil {
		return nil, err
	}

	n := 0
	if flags&ReplyWithArgs != 0 {
		n += inv.Size()
	}
	if flags&ReplyWithPayload != 0 {
		n += len(args.Payload)
	}
	reply := make([]byte, n)
	rest := reply
	if flags&ReplyWithArgs != 0 {
		if err := inv.encode(rest, &args.Value, w); err != nil {
			return nil, err
		}
		rest = rest[inv.Size():]
	}
	if flags&ReplyWithPayload != 0 {
		copy(rest, args.Payload)
	}
	return reply, nil
}

// marshalCall lays out a call body: header, fixed args, payload.
func (inv *Invoker[A]) marshalCall(dst []byte, args *Args[A], flags Flags, w wire) error {
	putHeader(dst, flags)
	if err := inv.encode(dst[headerSize:], &args.Value, w); err != nil {
		return err
	}
	copy(dst[headerSize+inv.Size():], args.Payload)
	return nil
}

// unmarshalReply copies the parts of a reply body the reply flags say are present.
func (inv *Invoker[A]) unmarshalReply(body []byte, flags Flags, args *Args[A], w wire) error {
	if flags&ReplyWithArgs != 0 {
		if len(body) < inv.Size() {
			return fmt.Errorf("rpc: %s: reply has %d bytes of args, need %d", inv.FullName(), len(body), inv.Size())
		}
		var v A
		if err := inv.decode(body[:inv.Size()], &v, w); err != nil {
			return err
		}
		args.Value = v
		body = body[inv.Size():]
	}
	if flags&ReplyWithPayload != 0 {
		args.Payload = body
	}
	return nil
}
