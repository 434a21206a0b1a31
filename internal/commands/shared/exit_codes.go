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

package shared

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tombee/outbound/internal/operation"
	pkgerrors "github.com/tombee/outbound/pkg/errors"
)

// Exit codes. Failed calls exit with a code per failure class so scripts can
// branch without parsing output.
const (
	ExitSuccess        = 0
	ExitFailed         = 1
	ExitInvalidRequest = 2
	ExitBlocked        = 3
	ExitAuthFailed     = 4
	ExitUpstream       = 5
	ExitTransport      = 6
	ExitConfig         = 78 // EX_CONFIG from sysexits.h
)

// ExitError is an error that carries an exit code
type ExitError struct {
	Code    int
	Message string
	Cause   error
}

func (e *ExitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates an error for unusable configuration.
func NewConfigError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitConfig, Message: msg, Cause: cause}
}

// NewInvalidRequestError creates an error for an unreadable or invalid
// request description.
func NewInvalidRequestError(msg string, cause error) *ExitError {
	return &ExitError{Code: ExitInvalidRequest, Message: msg, Cause: cause}
}

// NewCallError wraps a failed outbound call with the exit code for its class.
func NewCallError(cause error) *ExitError {
	return &ExitError{Code: ExitCodeFor(cause), Message: "call failed", Cause: cause}
}

// ExitCodeFor maps an error to its exit code.
func ExitCodeFor(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	var opErr *operation.Error
	if errors.As(err, &opErr) {
		switch opErr.Type {
		case operation.ErrorTypeInvalidRequest:
			return ExitInvalidRequest
		case operation.ErrorTypeSSRF:
			return ExitBlocked
		case operation.ErrorTypeAuth:
			return ExitAuthFailed
		case operation.ErrorTypeUpstream:
			return ExitUpstream
		case operation.ErrorTypeTimeout, operation.ErrorTypeConnection, operation.ErrorTypeRateLimit:
			return ExitTransport
		}
	}

	var cfgErr *pkgerrors.ConfigError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}

	return ExitFailed
}

// HandleExitError prints err with its suggestion and exits with the matching code.
func HandleExitError(err error) {
	if err == nil {
		return
	}
	printError(os.Stderr, err)
	os.Exit(ExitCodeFor(err))
}

// printError writes the user-facing message and, when available, a suggestion.
func printError(w io.Writer, err error) {
	msg, suggestion := pkgerrors.Describe(err)
	fmt.Fprintln(w, "Error:", msg)
	if suggestion != "" {
		fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
	}
}
