// Package operation executes outbound HTTP calls on behalf of connectors.
//
// Every call flows through the same pipeline:
//   - Build turns a Request description into an *http.Request
//   - the blocklist rejects SSRF targets before any socket is opened
//   - the optional RateLimiter throttles calls
//   - the auth.Resolver injects credentials, fetching OAuth tokens through
//     a shared cache
//   - the pooled httpclient.Client sends the request with per-call timeouts
//   - Normalize converts the response into a Result
//
// Architecture:
//
// An Executor is constructed once around a shared httpclient.Client and is
// safe for concurrent use. It makes a single attempt per call. Failures are
// returned as *Error values classified by ErrorType so callers can tell a
// security rejection from an authentication failure, an upstream status
// >= 400 or a transport problem, and apply their own retry policy.
package operation
