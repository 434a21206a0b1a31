package httpclient

import (
	"fmt"
	"time"
)

// DefaultTimeoutSeconds is the connect and read timeout used when a request
// does not specify one.
const DefaultTimeoutSeconds = 20

// Config configures the shared connection pool.
type Config struct {
	// MaxConnsPerHost caps concurrent connections (dialing, active and idle)
	// to a single host. Requests beyond the cap wait for a free connection.
	// Default: 64. Must be > 0.
	MaxConnsPerHost int

	// MaxIdleConns caps idle keep-alive connections across all hosts.
	// Default: 256. Must be >= MaxIdleConnsPerHost.
	MaxIdleConns int

	// MaxIdleConnsPerHost caps idle keep-alive connections per host.
	// Default: 32. Must be > 0.
	MaxIdleConnsPerHost int

	// IdleConnTimeout closes idle connections after this duration.
	// Default: 90s.
	IdleConnTimeout time.Duration

	// TLSHandshakeTimeout bounds the TLS handshake.
	// Default: 10s.
	TLSHandshakeTimeout time.Duration

	// UserAgent is sent when the caller does not set one.
	// Required. Must be non-empty.
	UserAgent string

	// InsecureSkipVerify disables certificate verification.
	// Only meant for local testing against self-signed endpoints.
	InsecureSkipVerify bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxConnsPerHost:     64,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		UserAgent:           "outbound-http-client/1.0",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxConnsPerHost <= 0 {
		return fmt.Errorf("max_conns_per_host must be > 0, got %d", c.MaxConnsPerHost)
	}

	if c.MaxIdleConnsPerHost <= 0 {
		return fmt.Errorf("max_idle_conns_per_host must be > 0, got %d", c.MaxIdleConnsPerHost)
	}

	if c.MaxIdleConns < c.MaxIdleConnsPerHost {
		return fmt.Errorf("max_idle_conns (%d) must be >= max_idle_conns_per_host (%d)", c.MaxIdleConns, c.MaxIdleConnsPerHost)
	}

	if c.IdleConnTimeout < 0 {
		return fmt.Errorf("idle_conn_timeout cannot be negative")
	}

	if c.TLSHandshakeTimeout < 0 {
		return fmt.Errorf("tls_handshake_timeout cannot be negative")
	}

	if c.UserAgent == "" {
		return fmt.Errorf("user_agent is required and must be non-empty")
	}

	return nil
}

// Timeouts are the per-call limits applied by Client.Do.
// A zero duration means no limit.
type Timeouts struct {
	// Connect bounds establishing the TCP connection.
	Connect time.Duration

	// Read bounds inactivity while waiting for and reading the response.
	Read time.Duration
}

// TimeoutsFromSeconds converts request-level second values into Timeouts.
// A nil connect value falls back to DefaultTimeoutSeconds; a nil read value
// falls back to the connect value.
func TimeoutsFromSeconds(connect, read *int) Timeouts {
	c := DefaultTimeoutSeconds
	if connect != nil {
		c = *connect
	}
	r := c
	if read != nil {
		r = *read
	}
	if c < 0 {
		c = 0
	}
	if r < 0 {
		r = 0
	}
	return Timeouts{
		Connect: time.Duration(c) * time.Second,
		Read:    time.Duration(r) * time.Second,
	}
}
