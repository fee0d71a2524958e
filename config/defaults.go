package config

const (
	defaultNetwork            = "pipe"
	defaultAddress            = "ipcrpc"
	defaultName               = "ipcrpc"
	defaultQueueSize          = 256
	defaultConnectIntervalMS  = 100
	defaultHandshakeTimeoutMS = 5000
	defaultCloseGraceMS       = 1000
	defaultRPCTimeoutMS       = 10000
	defaultStackDepth         = 16
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
	defaultRegistryKind       = "none"
	defaultRegistryPrefix     = "/ipcrpc/"
	defaultRegistryService    = "ipcrpc"
	defaultRegistryTTL        = 10
	defaultRegistryDialMS     = 5000
	defaultRegistryWeight     = 1
	defaultBalancer           = "round_robin"
	defaultRetryBaseMS        = 50
	defaultShutdownTimeoutMS  = 5000
	defaultPoolSize           = 4
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Endpoint: Endpoint{
			Network: defaultNetwork,
			Address: defaultAddress,
			Name:    defaultName,
		},
		Connection: Connection{
			QueueSize:          defaultQueueSize,
			ConnectIntervalMS:  defaultConnectIntervalMS,
			HandshakeTimeoutMS: defaultHandshakeTimeoutMS,
			CloseGraceMS:       defaultCloseGraceMS,
		},
		RPC: RPC{
			TimeoutMS:  defaultRPCTimeoutMS,
			StackDepth: defaultStackDepth,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Registry: Registry{
			Kind:          defaultRegistryKind,
			Prefix:        defaultRegistryPrefix,
			Service:       defaultRegistryService,
			TTL:           defaultRegistryTTL,
			DialTimeoutMS: defaultRegistryDialMS,
			Weight:        defaultRegistryWeight,
			Balancer:      defaultBalancer,
		},
		Limits: Limits{
			RetryBaseMS:       defaultRetryBaseMS,
			ShutdownTimeoutMS: defaultShutdownTimeoutMS,
			PoolSize:          defaultPoolSize,
		},
	}
}
