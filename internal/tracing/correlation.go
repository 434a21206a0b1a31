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

// Package tracing carries correlation IDs and OpenTelemetry trace context
// onto outbound HTTP calls.
package tracing

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

// CorrelationID identifies one logical connector invocation across all the
// outbound calls it makes. It uses RFC 4122 UUID format (36 characters).
type CorrelationID string

type correlationKeyType struct{}

var correlationKey = correlationKeyType{}

// HeaderCorrelationID is the header carrying the correlation ID on outbound requests.
const HeaderCorrelationID = "X-Correlation-ID"

// uuidRegex validates RFC 4122 UUID format.
var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// NewCorrelationID generates a new unique correlation ID.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.New().String())
}

// String returns the string representation of the correlation ID.
func (c CorrelationID) String() string {
	return string(c)
}

// IsValid checks if the correlation ID is a valid UUID format.
func (c CorrelationID) IsValid() bool {
	return uuidRegex.MatchString(string(c))
}

// ParseCorrelationID validates s and returns it as a CorrelationID.
func ParseCorrelationID(s string) (CorrelationID, bool) {
	if uuidRegex.MatchString(s) {
		return CorrelationID(s), true
	}
	return "", false
}

// ToContext adds the correlation ID to the context.
func ToContext(ctx context.Context, id CorrelationID) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// Ensure returns ctx carrying a correlation ID, generating one if absent.
func Ensure(ctx context.Context) (context.Context, CorrelationID) {
	if id := FromContextOrEmpty(ctx); id != "" {
		return ctx, id
	}
	id := NewCorrelationID()
	return ToContext(ctx, id), id
}

// FromContextOrEmpty retrieves the correlation ID from the context.
// Returns empty string if no correlation ID is found.
func FromContextOrEmpty(ctx context.Context) CorrelationID {
	if id, ok := ctx.Value(correlationKey).(CorrelationID); ok {
		return id
	}
	return ""
}

// InjectIntoRequest adds the correlation ID to HTTP request headers.
// A header already set by the caller is left untouched.
func InjectIntoRequest(ctx context.Context, req *http.Request) {
	if req.Header.Get(HeaderCorrelationID) != "" {
		return
	}
	if id := FromContextOrEmpty(ctx); id != "" {
		req.Header.Set(HeaderCorrelationID, id.String())
	}
}
