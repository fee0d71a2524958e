// Package protocol implements the binary frame format of an IPC connection.
//
// A byte stream has no message boundaries, so every frame starts with a fixed
// 16-byte header carrying the payload length. The receiver reads the header first,
// then reads exactly that many payload bytes.
//
// Frame format:
//
//	0         4         8         12  13       16
//	┌─────────┬─────────┬─────────┬───┬────────┬──────────────┐
//	│ opcode  │   trn   │  size   │ k │  rsvd  │ payload ...  │
//	│ uint32  │  int32  │ uint32  │u8 │ 3 × 0  │ size bytes   │
//	└─────────┴─────────┴─────────┴───┴────────┴──────────────┘
//
// Header fields are big-endian (network byte order) on every platform, so the header
// itself never needs byte-order correction. Only the payload is platform-ordered.
package protocol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"ipcrpc/message"
)

const (
	HeaderSize = 16       // 4 (opcode) + 4 (trn) + 4 (size) + 1 (kind) + 3 (reserved)
	MaxPayload = 64 << 20 // Frames above this are treated as stream corruption
)

var (
	ErrFrameTooLarge = errors.New("protocol: frame exceeds maximum payload")
	ErrInvalidKind   = errors.New("protocol: invalid message kind")
)

// Reader is the read half of a transport connection.
type Reader interface {
	ReadFull(ctx context.Context, p []byte) (int, error)
}

// Writer is the write half of a transport connection.
type Writer interface {
	WriteFull(ctx context.Context, p []byte) (int, error)
}

// Header is the fixed part of every frame.
type Header struct {
	Opcode      uint32
	Transaction int32
	Size        uint32 // Payload length in bytes
	Kind        message.Kind
}

// HeaderOf describes msg.
func HeaderOf(msg *message.Message) Header {
	return Header{
		Opcode:      msg.Opcode(),
		Transaction: msg.Transaction(),
		Size:        msg.Size(),
		Kind:        msg.Kind(),
	}
}

// PutHeader serializes h into buf, which must hold HeaderSize bytes.
func PutHeader(buf []byte, h *Header) {
	_ = buf[HeaderSize-1]
	binary.BigEndian.PutUint32(buf[0:4], h.Opcode)
	binary.BigEndian.PutUint32(buf[4:8], uint32(h.Transaction))
	binary.BigEndian.PutUint32(buf[8:12], h.Size)
	buf[12] = byte(h.Kind)
	buf[13], buf[14], buf[15] = 0, 0, 0
}

// ParseHeader validates and decodes a serialized header.
func ParseHeader(buf []byte) (*Header, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("protocol: short header (%d bytes)", len(buf))
	}
	h := &Header{
		Opcode:      binary.BigEndian.Uint32(buf[0:4]),
		Transaction: int32(binary.BigEndian.Uint32(buf[4:8])),
		Size:        binary.BigEndian.Uint32(buf[8:12]),
		Kind:        message.Kind(buf[12]),
	}
	if !h.Kind.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidKind, buf[12])
	}
	if h.Size > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, h.Size)
	}
	return h, nil
}

// Encode writes a complete frame (header + body) to w.
// Only one goroutine may write to w at a time, otherwise frames interleave.
func Encode(ctx context.Context, w Writer, h *Header, body []byte) error {
	if uint32(len(body)) != h.Size {
		return fmt.Errorf("protocol: body is %d bytes, header says %d", len(body), h.Size)
	}
	var buf [HeaderSize]byte
	PutHeader(buf[:], h)
	if _, err := w.WriteFull(ctx, buf[:]); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if _, err := w.WriteFull(ctx, body); err != nil {
		return fmt.Errorf("write payload: %w", err)
	}
	return nil
}

// ReadHeader reads and validates one frame header from r.
func ReadHeader(ctx context.Context, r Reader) (*Header, error) {
	var buf [HeaderSize]byte
	if _, err := r.ReadFull(ctx, buf[:]); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	return ParseHeader(buf[:])
}

// Decode reads one complete frame from r into a newly allocated message.
func Decode(ctx context.Context, r Reader) (*message.Message, error) {
	h, err := ReadHeader(ctx, r)
	if err != nil {
		return nil, err
	}
	msg := message.New(h.Opcode, h.Size, h.Transaction, h.Kind)
	if _, err := r.ReadFull(ctx, msg.Data()); err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return msg, nil
}

// WriteMessage writes msg as one frame.
func WriteMessage(ctx context.Context, w Writer, msg *message.Message) error {
	h := HeaderOf(msg)
	return Encode(ctx, w, &h, msg.Data())
}
