package codec

import (
	"errors"
	"fmt"
	"reflect"
)

// ErrNotFixedSize is returned for types whose encoding size depends on the value
// (strings, slices, maps, pointers, platform-sized ints).
var ErrNotFixedSize = errors.New("codec: type is not fixed-size")

// field is one multi-byte scalar in the packed encoding.
type field struct {
	offset int
	width  int
}

// Layout describes the packed encoding of a fixed-size type: its total size and the
// position of every scalar wider than one byte. Single bytes never need correction
// and are only counted.
type Layout struct {
	size   int
	fields []field
}

// Size is the encoded size in bytes.
func (l *Layout) Size() int { return l.size }

// Fields is the number of multi-byte scalars.
func (l *Layout) Fields() int { return len(l.fields) }

// LayoutOf computes the packed layout of t, matching encoding/binary.
func LayoutOf(t reflect.Type) (*Layout, error) {
	l := &Layout{}
	if err := l.walk(t); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Layout) scalar(width int) {
	if width > 1 {
		l.fields = append(l.fields, field{offset: l.size, width: width})
	}
	l.size += width
}

func (l *Layout) walk(t reflect.Type) error {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8,
		reflect.Int16, reflect.Uint16,
		reflect.Int32, reflect.Uint32, reflect.Float32,
		reflect.Int64, reflect.Uint64, reflect.Float64:
		l.scalar(int(t.Size()))
	case reflect.Complex64, reflect.Complex128:
		// Real and imaginary parts are corrected separately.
		half := int(t.Size()) / 2
		l.scalar(half)
		l.scalar(half)
	case reflect.Array:
		elem, err := LayoutOf(t.Elem())
		if err != nil {
			return err
		}
		for i := 0; i < t.Len(); i++ {
			l.append(elem)
		}
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() && f.Name != "_" {
				return fmt.Errorf("codec: unexported field %s.%s", t, f.Name)
			}
			sub, err := LayoutOf(f.Type)
			if err != nil {
				return fmt.Errorf("%w: field %s.%s", err, t, f.Name)
			}
			if f.Name == "_" {
				// encoding/binary skips blank fields; they are padding.
				l.size += sub.size
				continue
			}
			l.append(sub)
		}
	default:
		return fmt.Errorf("%w: %s", ErrNotFixedSize, t)
	}
	return nil
}

func (l *Layout) append(sub *Layout) {
	for _, f := range sub.fields {
		l.fields = append(l.fields, field{offset: l.size + f.offset, width: f.width})
	}
	l.size += sub.size
}
