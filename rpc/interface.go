package rpc

import (
	"errors"
	"fmt"
	"strings"
)

const (
	MaxInvokers   = 32
	MaxInterfaces = 32
)

// Interface is a named group of invokers. Both ends of a connection must declare the
// same interface and invoker names; opcodes are derived from them.
type Interface struct {
	name     string
	invokers []Binding
}

func NewInterface(name string) *Interface {
	return &Interface{name: name, invokers: make([]Binding, 0, MaxInvokers)}
}

func (i *Interface) Name() string { return i.name }

func (i *Interface) Len() int { return len(i.invokers) }

// Add binds inv to this interface and assigns its opcode.
func (i *Interface) Add(inv Binding) error {
	if inv == nil {
		return errors.New("rpc: nil invoker")
	}
	if i.name == "" || strings.Contains(i.name, ".") {
		return fmt.Errorf("rpc: invalid interface name %q", i.name)
	}
	if len(i.invokers) >= MaxInvokers {
		return fmt.Errorf("%w: interface %s holds %d invokers", ErrCapacityExceeded, i.name, MaxInvokers)
	}
	if i.Find(inv.Name()) != nil {
		return fmt.Errorf("rpc: interface %s already has invoker %s", i.name, inv.Name())
	}
	op := opcodeOf(i.name, inv.Name())
	for _, other := range i.invokers {
		if other.Opcode() == op {
			return fmt.Errorf("rpc: opcode of %s.%s collides with %s", i.name, inv.Name(), other.FullName())
		}
	}
	if err := inv.bind(i.name); err != nil {
		return err
	}
	i.invokers = append(i.invokers, inv)
	return nil
}

// Find returns the invoker with the given name, or nil.
func (i *Interface) Find(name string) Binding {
	for _, inv := range i.invokers {
		if inv.Name() == name {
			return inv
		}
	}
	return nil
}

func (i *Interface) byOpcode(op uint32) Binding {
	for _, inv := range i.invokers {
		if inv.Opcode() == op {
			return inv
		}
	}
	return nil
}
