// Package httpclient builds the *http.Client behind
// oracle.HTTPOracle: short JSON GET/POST calls to a hash-oracle
// endpoint, not bulk content transfer, so its defaults favor a
// connection pool that stays warm across many small lookup/publish
// round trips rather than one tuned for large sequential downloads.
package httpclient

import (
	"net/http"
	"time"
)

// Default configuration values
const (
	DefaultTimeout             = 10 * time.Second
	DefaultMaxIdleConnsPerHost = 10
	DefaultIdleConnTimeout     = 90 * time.Second
)

// Config holds HTTP client configuration options.
type Config struct {
	// Timeout is the maximum time for a single oracle request
	// (default: 10s, matching config.OracleConfig's default).
	Timeout time.Duration

	// MaxIdleConnsPerHost controls the maximum idle connections per host (default: 10)
	MaxIdleConnsPerHost int

	// IdleConnTimeout is how long idle connections stay open (default: 90s)
	IdleConnTimeout time.Duration
}

// New creates a new HTTP client with the given configuration.
// If cfg is nil, default values are used.
func New(cfg *Config) *http.Client {
	if cfg == nil {
		cfg = &Config{}
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	maxIdleConns := cfg.MaxIdleConnsPerHost
	if maxIdleConns <= 0 {
		maxIdleConns = DefaultMaxIdleConnsPerHost
	}

	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout <= 0 {
		idleConnTimeout = DefaultIdleConnTimeout
	}

	transport := &http.Transport{
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}

// Default returns an HTTP client with default configuration.
func Default() *http.Client {
	return New(nil)
}

// WithTimeout creates a bare HTTP client with only a timeout
// configured and no connection pooling — a one-off oracle probe (e.g.
// a CLI health check) that won't make enough requests to benefit from
// keeping idle connections warm.
func WithTimeout(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
