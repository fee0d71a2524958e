package rpc

import (
	"fmt"

	"ipcrpc/message"
)

// Flags travel in the first byte of every RPC payload.
type Flags uint8

const (
	// NonBlocking calls get no reply and return as soon as they are queued.
	NonBlocking Flags = 1 << iota
	// ReplyWithArgs asks for the handler's Args value back.
	ReplyWithArgs
	// ReplyWithPayload asks for the handler's Payload back.
	ReplyWithPayload

	replyFailed
	replyUnhandled
)

const callFlags = NonBlocking | ReplyWithArgs | ReplyWithPayload

func (f Flags) String() string {
	names := []string{"nonblocking", "args", "payload", "failed", "unhandled"}
	s := ""
	for i, name := range names {
		if f&(1<<i) != 0 {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	if s == "" {
		return "none"
	}
	return s
}

// RPC payload layout: [flags u8][reserved 3][fixed args][variable payload].
const headerSize = 4

func putHeader(dst []byte, f Flags) {
	dst[0] = byte(f)
	dst[1], dst[2], dst[3] = 0, 0, 0
}

// Frame is one entry of a Host's call stack: either a call awaiting its reply or an
// incoming invocation being served.
type Frame struct {
	transaction int32
	awaiting    bool

	// Serving frames borrow the in-flight message until the handler returns.
	msg   *message.Message
	taken bool

	// Awaiting frames own the reply body once it arrives.
	replied bool
	reply   []byte
}

func (f *Frame) Transaction() int32 { return f.transaction }

// Awaiting reports whether the frame is waiting for a reply rather than serving a call.
func (f *Frame) Awaiting() bool { return f.awaiting }

func (f *Frame) Replied() bool { return f.replied }

func (f *Frame) Taken() bool { return f.taken }

func (f *Frame) String() string {
	if f.awaiting {
		return fmt.Sprintf("frame{await trn=%d replied=%t}", f.transaction, f.replied)
	}
	return fmt.Sprintf("frame{serve trn=%d taken=%t}", f.transaction, f.taken)
}
