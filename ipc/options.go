package ipc

import (
	"time"

	"go.uber.org/zap"

	"ipcrpc/transport"
)

const (
	DefaultQueueSize        = 256
	DefaultConnectInterval  = 100 * time.Millisecond
	DefaultHandshakeTimeout = 5 * time.Second
	DefaultCloseGrace       = time.Second
)

type options struct {
	endpoint         transport.Endpoint
	tcpAddr          string
	platform         Platform
	logger           *zap.Logger
	queueSize        int
	connectInterval  time.Duration
	handshakeTimeout time.Duration
	heartbeat        time.Duration
	closeGrace       time.Duration
}

func defaultOptions() options {
	return options{
		platform:         LocalPlatform(),
		logger:           zap.NewNop(),
		queueSize:        DefaultQueueSize,
		connectInterval:  DefaultConnectInterval,
		handshakeTimeout: DefaultHandshakeTimeout,
		closeGrace:       DefaultCloseGrace,
	}
}

// Option configures Initialize.
type Option func(*options)

// WithEndpoint supplies the transport endpoint directly. It takes precedence over WithTCP.
func WithEndpoint(ep transport.Endpoint) Option {
	return func(o *options) { o.endpoint = ep }
}

// WithTCP links over TCP instead of the default named pipe.
func WithTCP(addr string) Option {
	return func(o *options) { o.tcpAddr = addr }
}

// WithPlatform overrides the platform token sent in the handshake.
func WithPlatform(p Platform) Option {
	return func(o *options) { o.platform = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithQueueSize bounds the read and write queues.
func WithQueueSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.queueSize = n
		}
	}
}

// WithConnectInterval sets how long a client waits between connect attempts.
func WithConnectInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.connectInterval = d
		}
	}
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.handshakeTimeout = d
		}
	}
}

// WithHeartbeat makes the write task send a keep-alive frame every d. Zero disables it.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithCloseGrace bounds how long Close waits for the goodbye frame to flush.
func WithCloseGrace(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.closeGrace = d
		}
	}
}
