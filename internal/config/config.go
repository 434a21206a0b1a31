// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads the outbound engine configuration from YAML and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/tombee/outbound/internal/log"
	"github.com/tombee/outbound/internal/tracing"
	"github.com/tombee/outbound/internal/tracing/export"
	outbounderrors "github.com/tombee/outbound/pkg/errors"
	"github.com/tombee/outbound/pkg/httpclient"
	"github.com/tombee/outbound/pkg/security"
)

// ErrInvalidConfig is returned when configuration validation fails.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// EnvConfigPath names the environment variable holding the config file path.
const EnvConfigPath = "OUTBOUND_CONFIG"

// blockEnvPrefix starts environment variables declaring extra blocks, shaped
// CONNECTOR_HTTP_BLOCK_<NAME>_<PORT|REGEX|URL|HOST>.
const blockEnvPrefix = "CONNECTOR_HTTP_BLOCK_"

// Config represents the complete outbound engine configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Pool      PoolConfig      `yaml:"pool"`
	Blocklist BlocklistConfig `yaml:"blocklist"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	// Environment: LOG_LEVEL
	// Default: info
	Level string `yaml:"level,omitempty"`

	// Format is the output format (json, text).
	// Environment: LOG_FORMAT
	// Default: json
	Format string `yaml:"format,omitempty"`

	// AddSource adds source file and line to log records.
	AddSource bool `yaml:"add_source,omitempty"`
}

// PoolConfig configures the shared connection pool.
type PoolConfig struct {
	// MaxConnsPerHost caps concurrent connections to one host.
	// Environment: OUTBOUND_POOL_MAX_CONNS_PER_HOST
	// Default: 64
	MaxConnsPerHost int `yaml:"max_conns_per_host,omitempty"`

	// MaxIdleConns caps idle connections across all hosts.
	// Default: 256
	MaxIdleConns int `yaml:"max_idle_conns,omitempty"`

	// MaxIdleConnsPerHost caps idle connections per host.
	// Default: 32
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host,omitempty"`

	// IdleConnTimeout closes idle connections after this duration.
	// Default: 90s
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout,omitempty"`

	// TLSHandshakeTimeout bounds the TLS handshake.
	// Default: 10s
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`

	// UserAgent is sent when a request sets none.
	// Environment: OUTBOUND_USER_AGENT
	UserAgent string `yaml:"user_agent,omitempty"`

	// InsecureSkipVerify disables certificate verification. Local testing only.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty"`
}

// BlocklistConfig configures the SSRF blocklist.
type BlocklistConfig struct {
	// DisableDefaults drops the cloud metadata endpoint blocks.
	DisableDefaults bool `yaml:"disable_defaults,omitempty"`

	// Blocks are appended after the defaults, in order.
	Blocks []BlockConfig `yaml:"blocks,omitempty"`
}

// BlockConfig declares one block.
type BlockConfig struct {
	// Name labels the block in error messages. Optional.
	Name string `yaml:"name,omitempty"`

	// Type is one of port, regex, url, host.
	Type string `yaml:"type"`

	// Value is the port list, pattern, URL fragment or host.
	Value string `yaml:"value"`
}

// OAuthConfig configures the client-credentials token cache.
type OAuthConfig struct {
	// ExpiryMargin is subtracted from a token's lifetime before it is
	// considered expired.
	// Environment: OUTBOUND_OAUTH_EXPIRY_MARGIN
	// Default: 60s
	ExpiryMargin time.Duration `yaml:"expiry_margin,omitempty"`
}

// RateLimitConfig configures the optional process-wide call limiter.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate. 0 disables limiting.
	// Environment: OUTBOUND_RATE_LIMIT_RPS
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`

	// Burst is the bucket size. Defaults to 1 when a rate is set.
	Burst int `yaml:"burst,omitempty"`

	// Timeout bounds how long a call waits for the limiter.
	// Default: 30s when a rate is set.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// TracingConfig configures span export. Spans are always created; they are
// only exported when Enabled.
type TracingConfig struct {
	// Enabled turns on export.
	Enabled bool `yaml:"enabled,omitempty"`

	// Exporter is one of otlp, otlp-http, console.
	// Default: otlp
	Exporter string `yaml:"exporter,omitempty"`

	// Endpoint is the collector host:port for the OTLP exporters.
	// Environment: OTEL_EXPORTER_OTLP_ENDPOINT (also enables export)
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS to the collector.
	Insecure bool `yaml:"insecure,omitempty"`

	// Headers are sent with every export request.
	Headers map[string]string `yaml:"headers,omitempty"`

	// SampleRate is the fraction of root calls exported.
	// Default: 1
	SampleRate float64 `yaml:"sample_rate"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	pool := httpclient.DefaultConfig()

	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Pool: PoolConfig{
			MaxConnsPerHost:     pool.MaxConnsPerHost,
			MaxIdleConns:        pool.MaxIdleConns,
			MaxIdleConnsPerHost: pool.MaxIdleConnsPerHost,
			IdleConnTimeout:     pool.IdleConnTimeout,
			TLSHandshakeTimeout: pool.TLSHandshakeTimeout,
			UserAgent:           pool.UserAgent,
		},
		OAuth: OAuthConfig{
			ExpiryMargin: 60 * time.Second,
		},
		Tracing: TracingConfig{
			Exporter:   export.KindOTLP,
			SampleRate: 1,
		},
	}
}

// Load loads configuration from an optional YAML file, then applies
// environment overrides. Environment variables take precedence over the file.
// If configPath is empty, only defaults and environment variables are used.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &outbounderrors.ConfigError{
				Key:    "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.loadFromEnv(os.Environ()); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, &outbounderrors.ConfigError{
			Key:    "validation",
			Reason: "configuration validation failed",
			Cause:  err,
		}
	}

	return cfg, nil
}

// applyDefaults fills in zero values so minimal files still work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}

	if c.Pool.MaxConnsPerHost == 0 {
		c.Pool.MaxConnsPerHost = defaults.Pool.MaxConnsPerHost
	}
	if c.Pool.MaxIdleConns == 0 {
		c.Pool.MaxIdleConns = defaults.Pool.MaxIdleConns
	}
	if c.Pool.MaxIdleConnsPerHost == 0 {
		c.Pool.MaxIdleConnsPerHost = defaults.Pool.MaxIdleConnsPerHost
	}
	if c.Pool.IdleConnTimeout == 0 {
		c.Pool.IdleConnTimeout = defaults.Pool.IdleConnTimeout
	}
	if c.Pool.TLSHandshakeTimeout == 0 {
		c.Pool.TLSHandshakeTimeout = defaults.Pool.TLSHandshakeTimeout
	}
	if c.Pool.UserAgent == "" {
		c.Pool.UserAgent = defaults.Pool.UserAgent
	}

	if c.OAuth.ExpiryMargin == 0 {
		c.OAuth.ExpiryMargin = defaults.OAuth.ExpiryMargin
	}

	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 1
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Timeout == 0 {
		c.RateLimit.Timeout = 30 * time.Second
	}

	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = defaults.Tracing.Exporter
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies overrides from environ (KEY=VALUE pairs).
func (c *Config) loadFromEnv(environ []string) error {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}

	var errs *multierror.Error

	if level := env["OUTBOUND_LOG_LEVEL"]; level != "" {
		c.Log.Level = strings.ToLower(level)
	} else if level := env["LOG_LEVEL"]; level != "" {
		c.Log.Level = strings.ToLower(level)
	}
	if format := env["LOG_FORMAT"]; format != "" {
		c.Log.Format = strings.ToLower(format)
	}

	if val := env["OUTBOUND_POOL_MAX_CONNS_PER_HOST"]; val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			c.Pool.MaxConnsPerHost = n
		} else {
			errs = multierror.Append(errs, envError("OUTBOUND_POOL_MAX_CONNS_PER_HOST", val, err))
		}
	}
	if val := env["OUTBOUND_USER_AGENT"]; val != "" {
		c.Pool.UserAgent = val
	}

	if val := env["OUTBOUND_OAUTH_EXPIRY_MARGIN"]; val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.OAuth.ExpiryMargin = d
		} else {
			errs = multierror.Append(errs, envError("OUTBOUND_OAUTH_EXPIRY_MARGIN", val, err))
		}
	}

	if val := env["OUTBOUND_RATE_LIMIT_RPS"]; val != "" {
		if rps, err := strconv.ParseFloat(val, 64); err == nil {
			c.RateLimit.RequestsPerSecond = rps
			if rps > 0 && c.RateLimit.Burst == 0 {
				c.RateLimit.Burst = 1
			}
			if rps > 0 && c.RateLimit.Timeout == 0 {
				c.RateLimit.Timeout = 30 * time.Second
			}
		} else {
			errs = multierror.Append(errs, envError("OUTBOUND_RATE_LIMIT_RPS", val, err))
		}
	}

	if val := env["OTEL_EXPORTER_OTLP_ENDPOINT"]; val != "" {
		c.Tracing.Enabled = true
		c.Tracing.Endpoint = val
	}

	blocks, err := blocksFromEnv(env)
	if err != nil {
		errs = multierror.Append(errs, err)
	}
	c.Blocklist.Blocks = append(c.Blocklist.Blocks, blocks...)

	return errs.ErrorOrNil()
}

func envError(key, value string, cause error) error {
	return &outbounderrors.ConfigError{
		Key:    key,
		Reason: fmt.Sprintf("invalid value %q", value),
		Cause:  cause,
	}
}

// blocksFromEnv collects CONNECTOR_HTTP_BLOCK_<NAME>_<KIND> variables,
// sorted by variable name.
func blocksFromEnv(env map[string]string) ([]BlockConfig, error) {
	keys := make([]string, 0)
	for k := range env {
		if strings.HasPrefix(k, blockEnvPrefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var errs *multierror.Error
	blocks := make([]BlockConfig, 0, len(keys))
	for _, k := range keys {
		rest := strings.TrimPrefix(k, blockEnvPrefix)
		idx := strings.LastIndex(rest, "_")
		if idx <= 0 {
			errs = multierror.Append(errs, &outbounderrors.ConfigError{
				Key:    k,
				Reason: "expected " + blockEnvPrefix + "<NAME>_<PORT|REGEX|URL|HOST>",
			})
			continue
		}
		blocks = append(blocks, BlockConfig{
			Name:  strings.ToLower(strings.ReplaceAll(rest[:idx], "_", "-")),
			Type:  strings.ToLower(rest[idx+1:]),
			Value: env[k],
		})
	}
	return blocks, errs.ErrorOrNil()
}

// Validate checks that the configuration is valid. All problems are
// reported together.
func (c *Config) Validate() error {
	var errs *multierror.Error

	if !log.ValidLevel(c.Log.Level) {
		errs = multierror.Append(errs, fmt.Errorf("log.level must be one of [trace, debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != string(log.FormatJSON) && c.Log.Format != string(log.FormatText) {
		errs = multierror.Append(errs, fmt.Errorf("log.format must be one of [json, text], got %q", c.Log.Format))
	}

	pool := c.HTTPClientConfig()
	if err := pool.Validate(); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("pool: %w", err))
	}

	for i, b := range c.Blocklist.Blocks {
		if _, err := security.NewBlock(security.BlockKind(b.Type), b.Name, b.Value); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("blocklist.blocks[%d]: %w", i, err))
		}
	}

	if c.OAuth.ExpiryMargin < 0 {
		errs = multierror.Append(errs, fmt.Errorf("oauth.expiry_margin cannot be negative, got %v", c.OAuth.ExpiryMargin))
	}

	if c.RateLimit.RequestsPerSecond < 0 {
		errs = multierror.Append(errs, fmt.Errorf("rate_limit.requests_per_second cannot be negative, got %v", c.RateLimit.RequestsPerSecond))
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst < 1 {
		errs = multierror.Append(errs, fmt.Errorf("rate_limit.burst must be >= 1 when a rate is set, got %d", c.RateLimit.Burst))
	}
	if c.RateLimit.Timeout < 0 {
		errs = multierror.Append(errs, fmt.Errorf("rate_limit.timeout cannot be negative, got %v", c.RateLimit.Timeout))
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case export.KindOTLP, export.KindOTLPHTTP:
			if c.Tracing.Endpoint == "" {
				errs = multierror.Append(errs, fmt.Errorf("tracing.endpoint is required for the %s exporter", c.Tracing.Exporter))
			}
		case export.KindConsole:
		default:
			errs = multierror.Append(errs, fmt.Errorf("tracing.exporter must be one of [otlp, otlp-http, console], got %q", c.Tracing.Exporter))
		}
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		errs = multierror.Append(errs, fmt.Errorf("tracing.sample_rate must be within [0, 1], got %v", c.Tracing.SampleRate))
	}

	if errs.ErrorOrNil() != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errs)
	}
	return nil
}

// HTTPClientConfig maps the pool section onto the client configuration.
func (c *Config) HTTPClientConfig() httpclient.Config {
	return httpclient.Config{
		MaxConnsPerHost:     c.Pool.MaxConnsPerHost,
		MaxIdleConns:        c.Pool.MaxIdleConns,
		MaxIdleConnsPerHost: c.Pool.MaxIdleConnsPerHost,
		IdleConnTimeout:     c.Pool.IdleConnTimeout,
		TLSHandshakeTimeout: c.Pool.TLSHandshakeTimeout,
		UserAgent:           c.Pool.UserAgent,
		InsecureSkipVerify:  c.Pool.InsecureSkipVerify,
	}
}

// LogConfig returns the logging configuration for log.New.
func (c *Config) LogConfig() *log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = c.Log.Level
	cfg.Format = log.Format(c.Log.Format)
	cfg.AddSource = c.Log.AddSource
	return cfg
}

// TracingProviderConfig returns the export configuration for
// tracing.NewProvider. Console spans go to w.
func (c *Config) TracingProviderConfig(serviceVersion string, w io.Writer) tracing.Config {
	return tracing.Config{
		ServiceVersion: serviceVersion,
		SampleRate:     c.Tracing.SampleRate,
		Exporter: export.Config{
			Kind:     c.Tracing.Exporter,
			Endpoint: c.Tracing.Endpoint,
			Insecure: c.Tracing.Insecure,
			Headers:  c.Tracing.Headers,
			Writer:   w,
		},
	}
}

// BuildBlocklist builds the SSRF validator: the default metadata blocks unless
// disabled, followed by the configured blocks in order.
func (c *Config) BuildBlocklist() (*security.Blocklist, error) {
	var blocks []security.Block
	if !c.Blocklist.DisableDefaults {
		blocks = append(blocks, security.DefaultBlocks()...)
	}

	for i, b := range c.Blocklist.Blocks {
		block, err := security.NewBlock(security.BlockKind(b.Type), b.Name, b.Value)
		if err != nil {
			return nil, &outbounderrors.ConfigError{
				Key:    fmt.Sprintf("blocklist.blocks[%d]", i),
				Reason: "invalid block",
				Cause:  err,
			}
		}
		blocks = append(blocks, block)
	}

	return security.NewBlocklist(blocks...), nil
}
