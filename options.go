package sable

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sablekv/sable/internal/logging"
)

// config holds the configuration for a Server
type config struct {
	// Listener settings
	port            uint16
	memcachePort    uint16
	memcacheEnabled bool
	bindAddr        string

	// Authentication
	requirePass string

	// Executor pool sizing; 0 means one thread per CPU
	threads int

	// Behavioral options
	readOnly bool

	// Observability
	logger     logging.Logger
	registerer prometheus.Registerer
}

// defaultConfig returns a configuration with the stock defaults
func defaultConfig() *config {
	return &config{
		port:     6380,
		bindAddr: "127.0.0.1",
		logger:   logging.Default(),
	}
}

// Option represents a configuration option for a Server
type Option func(*config) error

// WithPort sets the Redis listener port
//
// Example:
//
//	WithPort(6380)
func WithPort(port uint16) Option {
	return func(c *config) error {
		c.port = port
		return nil
	}
}

// WithMemcachePort enables the memcached text listener on port. Zero
// keeps it disabled.
func WithMemcachePort(port uint16) Option {
	return func(c *config) error {
		c.memcachePort = port
		c.memcacheEnabled = port != 0
		return nil
	}
}

// WithMemcache enables the memcached text listener on an ephemeral port
func WithMemcache() Option {
	return func(c *config) error {
		c.memcacheEnabled = true
		return nil
	}
}

// WithBindAddr sets the address both listeners bind to
func WithBindAddr(addr string) Option {
	return func(c *config) error {
		if addr == "" {
			return fmt.Errorf("%w: empty bind address", ErrInvalidConfig)
		}
		c.bindAddr = addr
		return nil
	}
}

// WithRequirePass requires clients to AUTH with password before any
// other command
func WithRequirePass(password string) Option {
	return func(c *config) error {
		c.requirePass = password
		return nil
	}
}

// WithThreads sizes the executor pool. With more than one thread, one
// thread is reserved for non-shard work.
func WithThreads(n int) Option {
	return func(c *config) error {
		if n < 0 {
			return fmt.Errorf("%w: negative thread count", ErrInvalidConfig)
		}
		c.threads = n
		return nil
	}
}

// WithReadOnly marks the node a read-only replica; write commands are
// rejected
func WithReadOnly() Option {
	return func(c *config) error {
		c.readOnly = true
		return nil
	}
}

// WithLogger sets a custom logger implementation
func WithLogger(logger logging.Logger) Option {
	return func(c *config) error {
		if logger == nil {
			return fmt.Errorf("%w: nil logger", ErrInvalidConfig)
		}
		c.logger = logger
		return nil
	}
}

// WithMetricsRegisterer registers the dispatch metrics with reg
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(c *config) error {
		c.registerer = reg
		return nil
	}
}
