// Package config loads, normalizes, and validates ipcrpc configuration.
//
// It supplies defaults, reads TOML files and honours IPCRPC_ETCD_ENDPOINTS as an
// environment fallback for the registry. Durations are stored as integer milliseconds
// and exposed as time.Duration through accessor methods.
package config
