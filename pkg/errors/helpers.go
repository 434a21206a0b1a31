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
	"errors"
	"fmt"
)

// Wrap creates a new error that wraps the given error with additional context.
// If err is nil, returns nil.
//
// Usage:
//
//	if err := client.Close(); err != nil {
//	    return errors.Wrap(err, "closing client")
//	}
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf creates a new error that wraps the given error with formatted context.
// If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s: %w", message, err)
}

// Describe returns the message and suggestion to show a user for err.
// The first UserVisibleError in the chain wins; a ValidationError supplies its
// own suggestion; anything else falls back to err.Error().
//
// Usage:
//
//	msg, hint := errors.Describe(err)
//	fmt.Fprintln(os.Stderr, msg)
//	if hint != "" {
//	    fmt.Fprintln(os.Stderr, "hint:", hint)
//	}
func Describe(err error) (message, suggestion string) {
	if err == nil {
		return "", ""
	}

	var visible UserVisibleError
	if errors.As(err, &visible) && visible.IsUserVisible() {
		return visible.UserMessage(), visible.Suggestion()
	}

	var validation *ValidationError
	if errors.As(err, &validation) {
		return validation.Error(), validation.Suggestion
	}

	return err.Error(), ""
}

// Classify returns the category of the first ErrorClassifier in the chain,
// or "internal" when none is found.
func Classify(err error) (errorType string, retryable bool) {
	var c ErrorClassifier
	if errors.As(err, &c) {
		return c.ErrorType(), c.IsRetryable()
	}
	return "internal", false
}
