// Package loadbalance picks which registered server a client session connects to.
//
// Three strategies are implemented:
//   - RoundRobin:      equal-capacity servers
//   - WeightedRandom:  servers with different capacity
//   - ConsistentHash:  the same connection name keeps landing on the same server
package loadbalance

import (
	"errors"
	"fmt"

	"ipcrpc/registry"
)

var ErrNoInstances = errors.New("loadbalance: no instances available")

// Balancer selects one instance for a new session. key is the connection name of
// the session being opened; strategies without affinity ignore it.
type Balancer interface {
	// Pick must be goroutine-safe.
	Pick(key string, instances []registry.Instance) (registry.Instance, error)
	Name() string
}

const (
	RoundRobin     = "round_robin"
	WeightedRandom = "weighted_random"
	ConsistentHash = "consistent_hash"
)

// New returns the balancer registered under name. An empty name selects RoundRobin.
func New(name string) (Balancer, error) {
	switch name {
	case "", RoundRobin:
		return &RoundRobinBalancer{}, nil
	case WeightedRandom:
		return &WeightedRandomBalancer{}, nil
	case ConsistentHash:
		return NewConsistentHashBalancer(), nil
	}
	return nil, fmt.Errorf("loadbalance: unknown strategy %q", name)
}
