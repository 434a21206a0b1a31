package httpclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/outbound/internal/tracing"
)

// loggingTransport wraps an http.RoundTripper to add:
// - Request logging with sanitized URLs
// - User-Agent header injection
// - Correlation ID and W3C trace context propagation
// - Duration tracking
type loggingTransport struct {
	base      http.RoundTripper
	userAgent string
	logger    *slog.Logger
}

// newLoggingTransport creates a new logging transport that wraps the base transport.
func newLoggingTransport(base http.RoundTripper, userAgent string, logger *slog.Logger) *loggingTransport {
	if base == nil {
		base = http.DefaultTransport
	}

	return &loggingTransport{
		base:      base,
		userAgent: userAgent,
		logger:    logger,
	}
}

func (t *loggingTransport) log() *slog.Logger {
	if t.logger != nil {
		return t.logger
	}
	return slog.Default()
}

// RoundTrip implements http.RoundTripper.
// Logs all requests with method, URL (sanitized), status/error, and duration.
func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	// RoundTrippers must not modify the caller's request
	req = req.Clone(req.Context())

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	tracing.InjectIntoRequest(req.Context(), req)
	tracing.InjectHTTPHeaders(req.Context(), req)

	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start).Milliseconds()

	logURL := sanitizeURL(req.URL)

	if err != nil {
		t.log().Warn("http request failed",
			"method", req.Method,
			"url", logURL,
			"duration_ms", duration,
			"error", err.Error(),
		)
	} else {
		level := slog.LevelDebug
		if resp.StatusCode >= 400 {
			level = slog.LevelWarn
		}
		t.log().Log(req.Context(), level, "http request",
			"method", req.Method,
			"url", logURL,
			"status", resp.StatusCode,
			"duration_ms", duration,
		)
	}

	return resp, err
}
