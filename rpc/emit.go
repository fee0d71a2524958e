package rpc

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ipcrpc/ipc"
)

// Emit calls inv on the peer with args.
//
// A blocking call pushes a frame and pumps the Host until the matching reply arrives,
// serving any nested invocations from the peer on the way. Timeouts and disconnects are
// reported through Status, never as errors; errors mean local misuse (unbound invoker,
// full call stack) or an unexpected connection failure. args is only modified when the
// result is StatusReplied, and only with the parts requested by flags.
func Emit[A any](ctx context.Context, h *Host, inv *Invoker[A], args *Args[A], flags Flags) (Status, error) {
	if !inv.bound() {
		return StatusFailed, fmt.Errorf("%w: %s is not part of an interface", ErrUnbound, inv.Name())
	}
	if args == nil {
		args = &Args[A]{}
	}
	flags &= callFlags
	blocking := flags&NonBlocking == 0

	h.checkSession()
	if h.conn.State() != ipc.StateActive {
		return StatusDisconnected, nil
	}
	if blocking && len(h.stack) >= h.maxDepth {
		return StatusFailed, fmt.Errorf("%w: call stack holds %d frames", ErrCapacityExceeded, h.maxDepth)
	}

	w := h.wire()
	size := headerSize + inv.Size() + len(args.Payload)
	msg := h.conn.CreateMessage(inv.Opcode(), uint32(size), 0)
	if err := inv.marshalCall(msg.Data(), args, flags, w); err != nil {
		return StatusFailed, err
	}
	trn := msg.Transaction()
	if err := h.conn.Send(msg); err != nil {
		if errors.Is(err, ipc.ErrNotActive) {
			return StatusDisconnected, nil
		}
		return StatusFailed, err
	}
	if !blocking {
		return StatusSent, nil
	}

	depth := len(h.stack)
	f := &Frame{transaction: trn, awaiting: true}
	h.push(f)
	defer h.truncate(depth)

	wctx := ctx
	if h.opts.timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, h.opts.timeout)
		defer cancel()
	}

	for !f.replied {
		if _, err := h.Process(wctx, true); err != nil {
			switch {
			case errors.Is(err, ipc.ErrNotActive):
				h.logger.Debug("call abandoned, connection lost",
					zap.String("method", inv.FullName()),
					zap.Int32("transaction", trn),
				)
				return StatusDisconnected, nil
			case wctx.Err() != nil:
				h.logger.Warn("call timed out",
					zap.String("method", inv.FullName()),
					zap.Int32("transaction", trn),
					zap.Int("depth", depth+1),
				)
				if errors.Is(ctx.Err(), context.Canceled) {
					return StatusTimedOut, ctx.Err()
				}
				return StatusTimedOut, nil
			default:
				return StatusFailed, err
			}
		}
	}

	reply := f.reply
	f.reply = nil
	if len(reply) < headerSize {
		h.logger.Warn("reply without rpc header", zap.String("method", inv.FullName()))
		return StatusFailed, nil
	}
	rflags := Flags(reply[0])
	switch {
	case rflags&replyUnhandled != 0:
		return StatusUnhandled, nil
	case rflags&replyFailed != 0:
		return StatusFailed, nil
	}
	if err := inv.unmarshalReply(reply[headerSize:], rflags, args, w); err != nil {
		return StatusFailed, err
	}
	return StatusReplied, nil
}
