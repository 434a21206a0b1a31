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

package log

import (
	"context"
	"log/slog"
)

// CallRecord describes one finished outbound call for logging purposes.
type CallRecord struct {
	// CorrelationID ties the call to its connector invocation.
	CorrelationID string

	// Method and Host identify the call. Host never includes credentials.
	Method string
	Host   string

	// AuthType is the authentication variant applied (none, basic, ...).
	AuthType string

	// StatusCode is the upstream status, zero when no response arrived.
	StatusCode int

	// DurationMs is the wall time of the call in milliseconds.
	DurationMs int64

	// ErrorType is the failure category; empty on success.
	ErrorType string

	// Error is the failure message; empty on success.
	Error string
}

// LogCall logs the outcome of an outbound call. Successful calls log at
// info, upstream failures at warn, everything else at error.
func LogCall(ctx context.Context, logger *slog.Logger, rec *CallRecord) {
	attrs := []any{
		EventKey, "outbound_call",
		MethodKey, rec.Method,
		HostKey, rec.Host,
		DurationKey, rec.DurationMs,
	}

	if rec.CorrelationID != "" {
		attrs = append(attrs, CorrelationIDKey, rec.CorrelationID)
	}

	if rec.AuthType != "" {
		attrs = append(attrs, "auth", rec.AuthType)
	}

	if rec.StatusCode > 0 {
		attrs = append(attrs, StatusKey, rec.StatusCode)
	}

	level := slog.LevelInfo
	message := "outbound call completed"

	if rec.ErrorType != "" {
		attrs = append(attrs, ErrorTypeKey, rec.ErrorType, "error", rec.Error)
		message = "outbound call failed"
		level = slog.LevelError
		if rec.ErrorType == "upstream" {
			level = slog.LevelWarn
		}
	}

	logger.Log(ctx, level, message, attrs...)
}
