// Package message defines the unit exchanged over an IPC connection.
//
// A Message is the "envelope" for every frame on the wire: an opcode naming the
// operation, a transaction id correlating calls with replies, a kind separating
// connection-control traffic from application traffic, and a payload whose size is
// fixed when the message is created.
//
// Ownership moves with the message: whoever creates it hands it to Connection.Send and
// must not touch it afterwards; whoever receives it owns it until Release (or Take,
// which moves the payload out and leaves the message empty).
package message

import "fmt"

// Kind separates connection-control frames from application frames.
type Kind uint8

const (
	KindUser     Kind = 0 // Application traffic, surfaced through Receive
	KindProtocol Kind = 1 // Connection control, consumed by the connection itself
)

func (k Kind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindProtocol:
		return "protocol"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindUser || k == KindProtocol
}

// Opcodes of protocol-kind messages.
const (
	OpDisconnect uint32 = 1 // Graceful goodbye; the session ends as Closed
	OpHeartbeat  uint32 = 2 // Keep-alive probe, no payload
)

// Message carries one framed unit.
type Message struct {
	opcode      uint32
	size        uint32
	transaction int32
	kind        Kind
	data        []byte
}

// New allocates a message with a zeroed payload of exactly size bytes.
func New(opcode uint32, size uint32, transaction int32, kind Kind) *Message {
	return &Message{
		opcode:      opcode,
		size:        size,
		transaction: transaction,
		kind:        kind,
		data:        make([]byte, size),
	}
}

func (m *Message) Opcode() uint32 { return m.opcode }
func (m *Message) Size() uint32 { return m.size }
func (m *Message) Transaction() int32 { return m.transaction }
func (m *Message) Kind() Kind { return m.kind }
func (m *Message) IsProtocol() bool { return m.kind == KindProtocol }

// Taken reports whether a non-empty payload has been moved out or released.
func (m *Message) Taken() bool { return m.data == nil && m.size > 0 }

func (m *Message) String() string {
	return fmt.Sprintf("msg{op=%d trn=%d size=%d kind=%s}", m.opcode, m.transaction, m.size, m.kind)
}

// Data returns the payload for reading or filling in place. The slice is borrowed:
// it stays valid only while the caller owns the message.
func (m *Message) Data() []byte {
	return m.data
}

// Take moves the payload out of the message. The message keeps its header but has
// no data afterwards; a second Take returns nil.
func (m *Message) Take() []byte {
	d := m.data
	m.data = nil
	return d
}

// Release drops the payload. Call it once the message has been consumed.
func (m *Message) Release() {
	m.data = nil
}
