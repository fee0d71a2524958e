// Package registry publishes where IPC servers can be reached, so clients can find a
// server by service name instead of a fixed address.
package registry

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("registry: no instances")

// Instance is one reachable server endpoint.
type Instance struct {
	Addr       string   `json:"addr"`
	Network    string   `json:"network"` // "tcp" or "pipe"
	Weight     int      `json:"weight"`  // Weight for load balancing
	Version    string   `json:"version,omitempty"`
	Platform   string   `json:"platform,omitempty"`
	Interfaces []string `json:"interfaces,omitempty"`
}

type Registry interface {
	// Register publishes instance under service for ttl seconds, renewed until
	// Deregister or Close.
	Register(ctx context.Context, service string, instance Instance, ttl int64) error
	Deregister(ctx context.Context, service string, addr string) error
	Discover(ctx context.Context, service string) ([]Instance, error)
	// Watch emits the full instance list whenever it changes, until ctx ends.
	Watch(ctx context.Context, service string) <-chan []Instance
	Close() error
}
