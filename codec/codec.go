// Package codec encodes fixed-size argument structs to and from RPC payloads and
// corrects their byte order when the two ends of a connection disagree.
//
// A Codec is built once per type. Its layout records where every multi-byte scalar sits
// in the packed encoding, so swizzling is a single pass reversing those byte ranges.
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"
	"slices"
)

// Swizzler lets a type correct its own byte order instead of using the reflected
// layout. Swizzle must reverse every multi-byte field of the receiver in place and
// must be its own inverse.
type Swizzler interface {
	Swizzle()
}

// Codec encodes values of A.
type Codec[A any] struct {
	typ    reflect.Type
	layout *Layout
	custom bool
}

// For builds the codec for A. A must be fixed-size.
func For[A any]() (*Codec[A], error) {
	t := reflect.TypeOf((*A)(nil)).Elem()
	l, err := LayoutOf(t)
	if err != nil {
		return nil, err
	}
	var zero A
	_, custom := any(&zero).(Swizzler)
	return &Codec[A]{typ: t, layout: l, custom: custom}, nil
}

// MustFor is like For but panics if A is not fixed-size.
func MustFor[A any]() *Codec[A] {
	c, err := For[A]()
	if err != nil {
		panic(err)
	}
	return c
}

// Size is the encoded size of A in bytes.
func (c *Codec[A]) Size() int { return c.layout.size }

// Layout returns the packed layout of A.
func (c *Codec[A]) Layout() *Layout { return c.layout }

func (c *Codec[A]) String() string {
	return fmt.Sprintf("codec[%s](%d bytes, %d fields)", c.typ, c.layout.size, len(c.layout.fields))
}

// Encode writes v into the first Size bytes of dst using order.
func (c *Codec[A]) Encode(dst []byte, order binary.ByteOrder, v *A) error {
	if len(dst) < c.layout.size {
		return fmt.Errorf("codec: encode %s: buffer is %d bytes, need %d", c.typ, len(dst), c.layout.size)
	}
	if c.layout.size == 0 {
		return nil
	}
	if err := binary.Write(bytes.NewBuffer(dst[:0]), order, v); err != nil {
		return fmt.Errorf("codec: encode %s: %w", c.typ, err)
	}
	return nil
}

// Decode reads v from the first Size bytes of src using order.
func (c *Codec[A]) Decode(src []byte, order binary.ByteOrder, v *A) error {
	if len(src) < c.layout.size {
		return fmt.Errorf("codec: decode %s: buffer is %d bytes, need %d", c.typ, len(src), c.layout.size)
	}
	if c.layout.size == 0 {
		return nil
	}
	if err := binary.Read(bytes.NewReader(src), order, v); err != nil {
		return fmt.Errorf("codec: decode %s: %w", c.typ, err)
	}
	return nil
}

// Swizzle reverses the bytes of every multi-byte field of an encoded A in place.
// Applying it twice restores the input.
func (c *Codec[A]) Swizzle(b []byte) {
	for _, f := range c.layout.fields {
		slices.Reverse(b[f.offset : f.offset+f.width])
	}
}

// SwizzleValue corrects a decoded value in place, through A's own Swizzler when it
// has one.
func (c *Codec[A]) SwizzleValue(v *A) {
	if c.custom {
		any(v).(Swizzler).Swizzle()
		return
	}
	if len(c.layout.fields) == 0 {
		return
	}
	buf := make([]byte, c.layout.size)
	// Encode/Decode cannot fail here: the buffer is exactly Size bytes.
	_ = c.Encode(buf, binary.NativeEndian, v)
	c.Swizzle(buf)
	_ = c.Decode(buf, binary.NativeEndian, v)
}
