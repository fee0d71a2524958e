package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ipcrpc/config"
	"ipcrpc/ipc"
	"ipcrpc/middleware"
	"ipcrpc/registry"
	"ipcrpc/rpc"
)

func connOptions(cfg *config.Config) []ipc.Option {
	opts := []ipc.Option{
		ipc.WithQueueSize(cfg.Connection.QueueSize),
		ipc.WithConnectInterval(cfg.Connection.ConnectInterval()),
		ipc.WithHandshakeTimeout(cfg.Connection.HandshakeTimeout()),
		ipc.WithCloseGrace(cfg.Connection.CloseGrace()),
	}
	if hb := cfg.Connection.Heartbeat(); hb > 0 {
		opts = append(opts, ipc.WithHeartbeat(hb))
	}
	return opts
}

// hostOptions builds the per-session Host options. Middleware is listed outermost
// first: recover, log, rate limit, retry, then the handler deadline.
func hostOptions(cfg *config.Config, logger *zap.Logger, serving bool) []rpc.Option {
	opts := []rpc.Option{
		rpc.WithTimeout(cfg.RPC.Timeout()),
		rpc.WithStackDepth(cfg.RPC.StackDepth),
	}
	if !serving {
		return opts
	}
	chain := []middleware.Middleware{
		middleware.RecoverMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	}
	if cfg.Limits.RateLimit > 0 {
		chain = append(chain, middleware.RateLimitMiddleware(cfg.Limits.RateLimit, cfg.Limits.Burst))
	}
	if cfg.Limits.Retries > 0 {
		chain = append(chain, middleware.RetryMiddleware(cfg.Limits.Retries, cfg.Limits.RetryBase(), logger))
	}
	if d := cfg.Limits.HandlerTimeout(); d > 0 {
		chain = append(chain, middleware.TimeOutMiddleware(d))
	}
	return append(opts, rpc.WithMiddleware(chain...))
}

// openRegistry returns the configured registry. Without one, a memory registry seeded
// with the configured endpoint lets clients use the same discovery path.
func openRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger, seed bool) (registry.Registry, error) {
	switch cfg.Registry.Kind {
	case "etcd":
		return registry.NewEtcdRegistry(cfg.Registry.Endpoints,
			registry.WithPrefix(cfg.Registry.Prefix),
			registry.WithDialTimeout(cfg.Registry.DialTimeout()),
			registry.WithEtcdLogger(logger),
		)
	case "memory", "none":
		reg := registry.NewMemoryRegistry()
		if seed {
			inst := registry.Instance{
				Addr:    cfg.Endpoint.Address,
				Network: cfg.Endpoint.Network,
				Weight:  cfg.Registry.Weight,
			}
			if err := reg.Register(ctx, serviceName(cfg), inst, cfg.Registry.TTL); err != nil {
				return nil, err
			}
		}
		return reg, nil
	}
	return nil, fmt.Errorf("unknown registry kind %q", cfg.Registry.Kind)
}

func serviceName(cfg *config.Config) string {
	if cfg.Registry.Service != "" {
		return cfg.Registry.Service
	}
	return cfg.Endpoint.Name
}
