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

// UserVisibleError is implemented by failures the CLI prints verbatim: a
// blocked target, a rejected credential, an upstream status. UserMessage
// must not carry secrets from the request (tokens, client secrets, query
// API keys).
type UserVisibleError interface {
	error

	// IsUserVisible is false for errors whose text is only useful in logs.
	IsUserVisible() bool

	// UserMessage is the one-line description printed after "Error:".
	UserMessage() string

	// Suggestion is the follow-up printed after "Suggestion:". May be empty.
	Suggestion() string
}

// ErrorClassifier exposes the outbound error category, which drives CLI
// exit codes and the JSON error "code" field.
type ErrorClassifier interface {
	error

	// ErrorType is one of "ssrf_blocked", "auth_error", "upstream",
	// "timeout", "connection_error", "invalid_request", "rate_limited",
	// "validation" or "config".
	ErrorType() string

	// IsRetryable reports whether the caller may send the same call again.
	// The engine never retries on its own.
	IsRetryable() bool
}
