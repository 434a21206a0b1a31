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

package errors

import (
	"fmt"
	"time"
)

// ValidationError represents a request that cannot be sent as described.
// Use this for missing fields, malformed URLs, or unsupported values.
type ValidationError struct {
	// Field identifies which request field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid request: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// IsRetryable implements ErrorClassifier.
func (e *ValidationError) IsRetryable() bool { return false }

// ConfigError represents configuration problems.
// Use this for configuration file errors, bad environment variables, or invalid values.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "pool.max_conns_per_host")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }

// IsRetryable implements ErrorClassifier.
func (e *ConfigError) IsRetryable() bool { return false }

// TimeoutError represents an outbound call that exceeded a time limit.
type TimeoutError struct {
	// Operation describes what timed out (e.g., "connect", "read", "token fetch")
	Operation string

	// Duration is the limit that was exceeded. Zero if unknown.
	Duration time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	if e.Duration > 0 {
		return fmt.Sprintf("%s timed out after %v", e.Operation, e.Duration)
	}
	return fmt.Sprintf("%s timed out", e.Operation)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *TimeoutError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *TimeoutError) ErrorType() string { return "timeout" }

// IsRetryable implements ErrorClassifier.
func (e *TimeoutError) IsRetryable() bool { return true }
