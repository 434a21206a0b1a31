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

// Package log configures the structured slog logger shared by the
// outbound engine and its CLI.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Format represents the log output format.
type Format string

const (
	// FormatJSON outputs logs in JSON format for machine parsing.
	FormatJSON Format = "json"
	// FormatText outputs logs in human-readable text format.
	FormatText Format = "text"
)

// LevelTrace is more verbose than Debug. Request and response bodies are
// only ever logged at this level.
const LevelTrace = slog.Level(-8)

// Standard field keys for structured logging.
const (
	// CorrelationIDKey is the field key for the invocation correlation ID.
	CorrelationIDKey = "correlation_id"
	// ComponentKey is the field key for the emitting component.
	ComponentKey = "component"
	// MethodKey is the field key for the HTTP method.
	MethodKey = "method"
	// HostKey is the field key for the target host.
	HostKey = "host"
	// StatusKey is the field key for the HTTP status code.
	StatusKey = "status"
	// DurationKey is the field key for duration in milliseconds.
	DurationKey = "duration_ms"
	// ErrorTypeKey is the field key for the error category.
	ErrorTypeKey = "error_type"
	// EventKey is the field key for event types.
	EventKey = "event"
)

// Config holds the logging configuration.
type Config struct {
	// Level sets the minimum log level (trace, debug, info, warn, error).
	// Default: info
	Level string

	// Format sets the output format (json, text).
	// Default: json
	Format Format

	// Output is the writer for log output.
	// Default: os.Stderr
	Output io.Writer

	// AddSource adds source file and line information to logs.
	// Default: false
	AddSource bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Level:     "info",
		Format:    FormatJSON,
		Output:    os.Stderr,
		AddSource: false,
	}
}

// FromEnv creates a Config from environment variables.
// Supported environment variables:
//   - OUTBOUND_DEBUG: true/1 to enable debug level and source logging (takes precedence)
//   - OUTBOUND_LOG_LEVEL: trace, debug, info, warn, error (takes precedence over LOG_LEVEL)
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, text (default: json)
//   - LOG_SOURCE: 1 to enable source file/line (default: 0)
func FromEnv() *Config {
	cfg := DefaultConfig()

	debug := os.Getenv("OUTBOUND_DEBUG")
	if debug == "true" || debug == "1" {
		cfg.Level = "debug"
		cfg.AddSource = true
	}

	if debug == "" {
		if level := os.Getenv("OUTBOUND_LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		} else if level := os.Getenv("LOG_LEVEL"); level != "" {
			cfg.Level = strings.ToLower(level)
		}
	}

	if format := os.Getenv("LOG_FORMAT"); format != "" {
		cfg.Format = Format(strings.ToLower(format))
	}

	if os.Getenv("LOG_SOURCE") == "1" {
		cfg.AddSource = true
	}

	return cfg
}

// New creates a new structured logger from the given configuration.
func New(cfg *Config) *slog.Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level:     ParseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case FormatText:
		handler = slog.NewTextHandler(out, opts)
	case FormatJSON:
		fallthrough
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	return slog.New(handler)
}

// ParseLevel converts a string level to slog.Level. Unknown values map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ValidLevel reports whether level is a recognised level name.
func ValidLevel(level string) bool {
	switch strings.ToLower(level) {
	case "trace", "debug", "info", "warn", "warning", "error":
		return true
	}
	return false
}

// WithCorrelationID returns a new logger with a correlation ID field.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With(CorrelationIDKey, correlationID)
}

// WithComponent returns a new logger with a component name field.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(ComponentKey, component)
}

// SanitizeSecret completely redacts a secret value.
func SanitizeSecret(secret string) string {
	return "[REDACTED]"
}

// SanitizeAPIKey masks an API key, showing only the last 4 characters.
// Returns "[REDACTED]" if the key is 4 characters or shorter.
func SanitizeAPIKey(key string) string {
	if len(key) <= 4 {
		return "[REDACTED]"
	}
	return "..." + key[len(key)-4:]
}

// Trace logs a message at trace level with optional attributes.
func Trace(ctx context.Context, logger *slog.Logger, msg string, attrs ...slog.Attr) {
	if !logger.Enabled(ctx, LevelTrace) {
		return
	}
	logger.LogAttrs(ctx, LevelTrace, msg, attrs...)
}
