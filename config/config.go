package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Endpoint selects where a server listens or a client connects.
type Endpoint struct {
	Network string `toml:"network"` // "pipe" or "tcp"
	Address string `toml:"address"` // pipe name or host:port
	Name    string `toml:"name"`    // connection name
}

// Connection tunes every ipc.Connection.
type Connection struct {
	QueueSize          int `toml:"queue_size"`
	ConnectIntervalMS  int `toml:"connect_interval_ms"`
	HandshakeTimeoutMS int `toml:"handshake_timeout_ms"`
	HeartbeatMS        int `toml:"heartbeat_ms"` // 0 disables heartbeats
	CloseGraceMS       int `toml:"close_grace_ms"`
}

// RPC tunes every rpc.Host.
type RPC struct {
	TimeoutMS  int `toml:"timeout_ms"` // 0 waits for replies indefinitely
	StackDepth int `toml:"stack_depth"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format      string `toml:"format"`
	Level       string `toml:"level"`
	Development bool   `toml:"development"`
}

// Registry configures service discovery.
type Registry struct {
	Kind          string   `toml:"kind"` // "none", "memory" or "etcd"
	Endpoints     []string `toml:"endpoints"`
	Prefix        string   `toml:"prefix"`
	Service       string   `toml:"service"`
	TTL           int64    `toml:"ttl"` // seconds
	DialTimeoutMS int      `toml:"dial_timeout_ms"`
	Weight        int      `toml:"weight"`
	Balancer      string   `toml:"balancer"`
}

// Limits bounds the work a server accepts and how clients retry.
type Limits struct {
	RateLimit         float64 `toml:"rate_limit"` // invocations per second, 0 disables
	Burst             int     `toml:"burst"`
	HandlerTimeoutMS  int     `toml:"handler_timeout_ms"` // 0 disables
	Retries           int     `toml:"retries"`
	RetryBaseMS       int     `toml:"retry_base_ms"`
	ShutdownTimeoutMS int     `toml:"shutdown_timeout_ms"`
	PoolSize          int     `toml:"pool_size"`
}

// Config encapsulates all configuration values for ipcd.
//
// Configuration sections by subsystem:
//   - Endpoint: transport and connection name
//   - Connection: queue sizes and connection timing
//   - RPC: call timeout and stack depth
//   - Logging: log format and level
//   - Registry: discovery backend and balancing strategy
//   - Limits: rate limits, handler budgets, retries and shutdown
type Config struct {
	Endpoint   Endpoint   `toml:"endpoint"`
	Connection Connection `toml:"connection"`
	RPC        RPC        `toml:"rpc"`
	Logging    Logging    `toml:"logging"`
	Registry   Registry   `toml:"registry"`
	Limits     Limits     `toml:"limits"`
}

// Load reads and validates the configuration at path. A missing file, or an empty
// path, yields the defaults; exists reports whether a file was read.
func Load(path string) (cfg *Config, exists bool, err error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, false, fmt.Errorf("read config: %w", err)
		default:
			if err := toml.Unmarshal(data, &c); err != nil {
				return nil, false, fmt.Errorf("parse config: %w", err)
			}
			exists = true
		}
	}

	c.normalize()
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	return &c, exists, nil
}

// Encode renders c as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

func (c *Config) normalize() {
	c.Endpoint.Network = strings.ToLower(strings.TrimSpace(c.Endpoint.Network))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Registry.Kind = strings.ToLower(strings.TrimSpace(c.Registry.Kind))
	if c.Registry.Kind == "" {
		c.Registry.Kind = defaultRegistryKind
	}
	if len(c.Registry.Endpoints) == 0 {
		if env := os.Getenv("IPCRPC_ETCD_ENDPOINTS"); env != "" {
			for _, ep := range strings.Split(env, ",") {
				if ep = strings.TrimSpace(ep); ep != "" {
					c.Registry.Endpoints = append(c.Registry.Endpoints, ep)
				}
			}
		}
	}
	if c.Endpoint.Name == "" {
		c.Endpoint.Name = defaultName
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c Connection) ConnectInterval() time.Duration  { return ms(c.ConnectIntervalMS) }
func (c Connection) HandshakeTimeout() time.Duration { return ms(c.HandshakeTimeoutMS) }
func (c Connection) Heartbeat() time.Duration        { return ms(c.HeartbeatMS) }
func (c Connection) CloseGrace() time.Duration       { return ms(c.CloseGraceMS) }

func (r RPC) Timeout() time.Duration { return ms(r.TimeoutMS) }

func (r Registry) DialTimeout() time.Duration { return ms(r.DialTimeoutMS) }

func (l Limits) HandlerTimeout() time.Duration  { return ms(l.HandlerTimeoutMS) }
func (l Limits) RetryBase() time.Duration       { return ms(l.RetryBaseMS) }
func (l Limits) ShutdownTimeout() time.Duration { return ms(l.ShutdownTimeoutMS) }
