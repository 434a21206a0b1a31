package operation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"

	"github.com/tombee/outbound/internal/operation/auth"
	"github.com/tombee/outbound/pkg/httpclient"
	"github.com/tombee/outbound/pkg/security"
)

// ErrorType classifies outbound call failures.
type ErrorType string

const (
	// ErrorTypeSSRF indicates the blocklist rejected the target before any
	// connection was opened. Never retried.
	ErrorTypeSSRF ErrorType = "ssrf_blocked"

	// ErrorTypeAuth indicates credentials could not be resolved, including
	// token endpoint failures.
	ErrorTypeAuth ErrorType = "auth_error"

	// ErrorTypeUpstream indicates the target answered with status >= 400.
	ErrorTypeUpstream ErrorType = "upstream"

	// ErrorTypeTimeout indicates a connect or read timeout.
	ErrorTypeTimeout ErrorType = "timeout"

	// ErrorTypeConnection indicates any other transport failure: refused
	// connections, DNS errors, TLS or protocol errors.
	ErrorTypeConnection ErrorType = "connection_error"

	// ErrorTypeInvalidRequest indicates the request description cannot be
	// executed as given.
	ErrorTypeInvalidRequest ErrorType = "invalid_request"

	// ErrorTypeRateLimit indicates the local call limiter gave up waiting.
	ErrorTypeRateLimit ErrorType = "rate_limited"
)

// Error represents an outbound call failure with classification.
type Error struct {
	// Type classifies the error
	Type ErrorType

	// Message is the human-readable error description
	Message string

	// StatusCode is the upstream HTTP status (upstream errors only)
	StatusCode int

	// Host is the target host, for diagnostics
	Host string

	// Detail is a best-effort explanation taken from the upstream body
	Detail string

	// Result is the normalized upstream response (upstream errors only)
	Result *Result

	// SuggestText provides guidance on how to resolve the error.
	SuggestText string

	// CorrelationID links this error to the connector invocation
	CorrelationID string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("OperationError: %s", e.Message)

	if e.Type != "" {
		msg = fmt.Sprintf("%s (type: %s)", msg, e.Type)
	}

	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}

	if e.Host != "" {
		msg = fmt.Sprintf("%s (host: %s)", msg, e.Host)
	}

	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}

	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// ErrorType implements pkg/errors.ErrorClassifier.
func (e *Error) ErrorType() string {
	return string(e.Type)
}

// IsRetryable implements pkg/errors.ErrorClassifier. It is advisory: the
// engine itself makes exactly one attempt per call.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeTimeout, ErrorTypeConnection, ErrorTypeRateLimit:
		return true
	case ErrorTypeUpstream:
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	default:
		return false
	}
}

// IsUserVisible implements pkg/errors.UserVisibleError.
// Operation errors are always user-visible.
func (e *Error) IsUserVisible() bool {
	return true
}

// UserMessage implements pkg/errors.UserVisibleError.
func (e *Error) UserMessage() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Detail)
	}
	return e.Message
}

// Suggestion implements pkg/errors.UserVisibleError.
func (e *Error) Suggestion() string {
	return e.SuggestText
}

// ipAddressPattern matches IPv4 addresses.
var ipAddressPattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

// redactIPAddresses replaces IP addresses in a string with [REDACTED_IP].
func redactIPAddresses(s string) string {
	return ipAddressPattern.ReplaceAllString(s, "[REDACTED_IP]")
}

// NewSSRFError creates an error for a blocklist rejection.
// The message shown to users is sanitized to avoid leaking internal IP addresses.
func NewSSRFError(host string, cause error) *Error {
	msg := fmt.Sprintf("request blocked by security policy (host: %s)", redactIPAddresses(host))

	var blocked *security.BlockedError
	if errors.As(cause, &blocked) && blocked.Block != "" {
		msg = fmt.Sprintf("request blocked by %q (host: %s)", blocked.Block, redactIPAddresses(host))
	}

	return &Error{
		Type:        ErrorTypeSSRF,
		Message:     msg,
		Cause:       cause,
		SuggestText: "The target is on the outbound blocklist. Use a different endpoint or ask an operator to review the blocklist",
	}
}

// NewAuthError wraps an authentication failure.
func NewAuthError(host string, cause error) *Error {
	msg := "authentication failed"
	var authErr *auth.Error
	if errors.As(cause, &authErr) {
		msg = authErr.Error()
	}
	return &Error{
		Type:        ErrorTypeAuth,
		Message:     msg,
		Host:        host,
		Cause:       cause,
		SuggestText: "Check the authentication settings and that the token endpoint is reachable",
	}
}

// NewUpstreamError creates an error for a response with status >= 400.
// The response body is summarized in Detail and kept in Result, never in Message.
func NewUpstreamError(result *Result, host, detail string) *Error {
	err := &Error{
		Type:       ErrorTypeUpstream,
		StatusCode: result.Status,
		Message:    fmt.Sprintf("%d %s", result.Status, http.StatusText(result.Status)),
		Host:       host,
		Detail:     detail,
		Result:     result,
	}

	switch {
	case result.Status == http.StatusUnauthorized || result.Status == http.StatusForbidden:
		err.SuggestText = "Check authentication credentials and permissions"
	case result.Status == http.StatusNotFound:
		err.SuggestText = "Verify the resource exists and the path is correct"
	case result.Status == http.StatusTooManyRequests:
		err.SuggestText = "The target is rate limiting requests. Retry later"
	case result.Status >= 500:
		err.SuggestText = "Retry or contact the service provider"
	default:
		err.SuggestText = "Check the request against the target API's documentation"
	}

	return err
}

// NewTransportError classifies a failure that produced no response.
func NewTransportError(host string, cause error) *Error {
	if isTimeout(cause) {
		return &Error{
			Type:        ErrorTypeTimeout,
			Message:     "request could not be completed: timed out",
			Host:        host,
			Cause:       cause,
			SuggestText: "Increase the timeout or check service responsiveness",
		}
	}
	return &Error{
		Type:        ErrorTypeConnection,
		Message:     "request could not be completed",
		Host:        host,
		Cause:       cause,
		SuggestText: "Check network connectivity, DNS resolution and proxy settings",
	}
}

// NewInvalidRequestError creates an error for a request description that
// cannot be executed.
func NewInvalidRequestError(message string, cause error) *Error {
	return &Error{
		Type:        ErrorTypeInvalidRequest,
		Message:     message,
		Cause:       cause,
		SuggestText: "Check the request method, URL, headers and body",
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, httpclient.ErrReadTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func typeOf(err error) ErrorType {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr.Type
	}
	return ""
}

// IsSSRFBlocked reports whether err is a blocklist rejection.
func IsSSRFBlocked(err error) bool {
	return typeOf(err) == ErrorTypeSSRF
}

// IsAuthError reports whether err is an authentication failure.
func IsAuthError(err error) bool {
	return typeOf(err) == ErrorTypeAuth
}

// IsUpstreamError reports whether err is an upstream status >= 400.
func IsUpstreamError(err error) bool {
	return typeOf(err) == ErrorTypeUpstream
}

// IsTransportError reports whether err is a timeout or connection failure.
func IsTransportError(err error) bool {
	t := typeOf(err)
	return t == ErrorTypeTimeout || t == ErrorTypeConnection
}
