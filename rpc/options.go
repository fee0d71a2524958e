package rpc

import (
	"time"

	"go.uber.org/zap"

	"ipcrpc/middleware"
)

const (
	// NoTimeout disables the Emit time budget.
	NoTimeout time.Duration = 0

	DefaultTimeout    = 10 * time.Second
	DefaultStackDepth = 16
	MaxStackDepth     = 64
)

type options struct {
	timeout    time.Duration
	stackDepth int
	logger     *zap.Logger
	middleware []middleware.Middleware
}

func defaultOptions() options {
	return options{
		timeout:    DefaultTimeout,
		stackDepth: DefaultStackDepth,
		logger:     zap.NewNop(),
	}
}

type Option func(*options)

// WithTimeout bounds how long a blocking Emit waits for its reply. NoTimeout waits
// until the reply, a disconnect, or the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.timeout = d
		}
	}
}

// WithStackDepth sets the call-stack capacity, clamped to [1, MaxStackDepth].
func WithStackDepth(n int) Option {
	return func(o *options) {
		o.stackDepth = min(max(n, 1), MaxStackDepth)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMiddleware wraps every served invocation, first listed outermost.
func WithMiddleware(mw ...middleware.Middleware) Option {
	return func(o *options) {
		o.middleware = append(o.middleware, mw...)
	}
}
