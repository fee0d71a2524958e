package config

import (
	"errors"
	"fmt"
	"slices"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEndpoint(); err != nil {
		return err
	}
	if err := c.validateConnection(); err != nil {
		return err
	}
	if err := c.validateRPC(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	if err := c.validateRegistry(); err != nil {
		return err
	}
	return c.validateLimits()
}

func (c *Config) validateEndpoint() error {
	switch c.Endpoint.Network {
	case "pipe", "tcp":
	default:
		return fmt.Errorf("endpoint.network must be \"pipe\" or \"tcp\", got %q", c.Endpoint.Network)
	}
	if c.Endpoint.Address == "" {
		return errors.New("endpoint.address must be set")
	}
	return nil
}

func (c *Config) validateConnection() error {
	if c.Connection.QueueSize < 1 {
		return errors.New("connection.queue_size must be positive")
	}
	if c.Connection.ConnectIntervalMS < 1 {
		return errors.New("connection.connect_interval_ms must be positive")
	}
	if c.Connection.HandshakeTimeoutMS < 1 {
		return errors.New("connection.handshake_timeout_ms must be positive")
	}
	if c.Connection.HeartbeatMS < 0 || c.Connection.CloseGraceMS < 0 {
		return errors.New("connection durations must not be negative")
	}
	return nil
}

func (c *Config) validateRPC() error {
	if c.RPC.TimeoutMS < 0 {
		return errors.New("rpc.timeout_ms must not be negative")
	}
	if c.RPC.StackDepth < 1 || c.RPC.StackDepth > 64 {
		return fmt.Errorf("rpc.stack_depth must be between 1 and 64, got %d", c.RPC.StackDepth)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains([]string{"console", "json"}, c.Logging.Format) {
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not recognized", c.Logging.Level)
	}
	return nil
}

func (c *Config) validateRegistry() error {
	switch c.Registry.Kind {
	case "none", "memory":
	case "etcd":
		if len(c.Registry.Endpoints) == 0 {
			return errors.New("registry.endpoints must be set for the etcd registry (or set IPCRPC_ETCD_ENDPOINTS)")
		}
	default:
		return fmt.Errorf("registry.kind must be \"none\", \"memory\" or \"etcd\", got %q", c.Registry.Kind)
	}
	if c.Registry.Kind != "none" {
		if c.Registry.Service == "" {
			return errors.New("registry.service must be set")
		}
		if c.Registry.TTL < 1 {
			return errors.New("registry.ttl must be positive")
		}
	}
	switch c.Registry.Balancer {
	case "round_robin", "weighted_random", "consistent_hash":
	default:
		return fmt.Errorf("registry.balancer %q is not recognized", c.Registry.Balancer)
	}
	return nil
}

func (c *Config) validateLimits() error {
	if c.Limits.RateLimit < 0 {
		return errors.New("limits.rate_limit must not be negative")
	}
	if c.Limits.RateLimit > 0 && c.Limits.Burst < 1 {
		return errors.New("limits.burst must be positive when limits.rate_limit is set")
	}
	if c.Limits.Retries < 0 || c.Limits.HandlerTimeoutMS < 0 {
		return errors.New("limits must not be negative")
	}
	if c.Limits.ShutdownTimeoutMS < 1 {
		return errors.New("limits.shutdown_timeout_ms must be positive")
	}
	if c.Limits.PoolSize < 1 {
		return errors.New("limits.pool_size must be positive")
	}
	return nil
}
