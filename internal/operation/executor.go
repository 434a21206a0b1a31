package operation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/outbound/internal/log"
	"github.com/tombee/outbound/internal/operation/auth"
	"github.com/tombee/outbound/internal/tracing"
	"github.com/tombee/outbound/pkg/httpclient"
	"github.com/tombee/outbound/pkg/security"
)

// Executor runs outbound calls: build, block check, rate limit,
// authenticate, send, normalize. It makes exactly one attempt per call and
// is safe for concurrent use.
type Executor struct {
	client    *httpclient.Client
	blocklist *security.Blocklist
	auth      *auth.Resolver
	limiter   *RateLimiter
	metrics   *Metrics
	tracer    trace.TracerProvider
	logger    *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithBlocklist sets the SSRF blocklist. Without one every target is allowed.
func WithBlocklist(bl *security.Blocklist) ExecutorOption {
	return func(e *Executor) {
		e.blocklist = bl
	}
}

// WithAuthResolver sets the authentication resolver. By default the executor
// creates one backed by a token cache that shares the client's pool and
// the executor's blocklist.
func WithAuthResolver(r *auth.Resolver) ExecutorOption {
	return func(e *Executor) {
		e.auth = r
	}
}

// WithRateLimiter throttles calls. A nil limiter disables throttling.
func WithRateLimiter(rl *RateLimiter) ExecutorOption {
	return func(e *Executor) {
		e.limiter = rl
	}
}

// WithMetrics records call metrics.
func WithMetrics(m *Metrics) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithTracerProvider sets the provider for call spans. Defaults to the
// global provider.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tp
	}
}

// WithLogger sets the logger for call records.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// NewExecutor creates an executor over client. The executor does not own
// the client; callers close it at shutdown.
func NewExecutor(client *httpclient.Client, opts ...ExecutorOption) (*Executor, error) {
	if client == nil {
		return nil, fmt.Errorf("http client is required")
	}

	e := &Executor{client: client}
	for _, opt := range opts {
		opt(e)
	}

	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = log.WithComponent(e.logger, "outbound")

	if e.auth == nil {
		tokens := auth.NewTokenCache(
			auth.WithHTTPClient(client.HTTPClient()),
			auth.WithBlocklist(e.blocklist),
			auth.WithCacheLogger(e.logger),
		)
		e.metrics.RegisterTokenCache(tokens)
		e.auth = auth.NewResolver(tokens, e.logger)
	}

	return e, nil
}

// Execute performs the call described by r. On success it returns the
// normalized result for any status below 400. Failures are *Error values
// classified as ssrf_blocked, auth_error, upstream, timeout,
// connection_error, invalid_request or rate_limited.
func (e *Executor) Execute(ctx context.Context, r *Request) (result *Result, err error) {
	ctx, correlationID := tracing.Ensure(ctx)
	start := time.Now()

	var (
		method     = ""
		host       = ""
		authType   = auth.TypeNone
		statusCode int
	)
	if r != nil {
		method = r.Method
	}

	ctx, span := tracing.StartCallSpan(ctx, e.tracer, method, "")

	defer func() {
		duration := time.Since(start)
		rec := &log.CallRecord{
			CorrelationID: correlationID.String(),
			Method:        method,
			Host:          host,
			AuthType:      authType,
			StatusCode:    statusCode,
			DurationMs:    duration.Milliseconds(),
		}

		var errType ErrorType
		if err != nil {
			var opErr *Error
			if errors.As(err, &opErr) {
				errType = opErr.Type
				opErr.CorrelationID = correlationID.String()
				if opErr.Host == "" {
					opErr.Host = host
				}
			}
			rec.ErrorType = string(errType)
			rec.Error = err.Error()
		}

		e.metrics.RecordCall(method, errType, statusCode, duration)
		tracing.EndCallSpan(span, statusCode, string(errType), err)
		log.LogCall(ctx, e.logger, rec)
	}()

	req, err := Build(ctx, r)
	if err != nil {
		return nil, err
	}
	method = req.Method
	host = req.URL.Hostname()
	span.SetName("HTTP " + method)
	tracing.SetCallAttributes(span, method, host)

	if err := e.blocklist.Validate(req.URL.String()); err != nil {
		e.recordBlocked(err)
		return nil, NewSSRFError(host, err)
	}

	authn, err := r.ResolveAuth()
	if err != nil {
		return nil, NewInvalidRequestError("invalid authentication", err)
	}
	authType = authn.Type()

	waited, err := e.limiter.Wait(ctx)
	if waited > time.Millisecond {
		e.metrics.RecordRateLimitWait(waited)
	}
	if err != nil {
		var opErr *Error
		if errors.As(err, &opErr) {
			return nil, opErr
		}
		return nil, NewTransportError(host, err)
	}

	target := req.URL.String()

	// Token endpoint calls get the same deadlines as the call itself.
	authCtx, cancelAuth := httpclient.CallContext(ctx, r.Timeouts())
	err = e.auth.Apply(authCtx, authn, req)
	cancelAuth()
	if err != nil {
		if errors.Is(err, security.ErrBlocked) {
			e.recordBlocked(err)
			return nil, NewSSRFError(host, err)
		}
		return nil, NewAuthError(host, err)
	}

	// Query API keys change the URL; the final URL must pass too.
	if final := req.URL.String(); final != target {
		if err := e.blocklist.Validate(final); err != nil {
			redactBlockedURL(err)
			e.recordBlocked(err)
			return nil, NewSSRFError(host, err)
		}
	}

	resp, err := e.client.Do(req, r.Timeouts())
	if err != nil {
		return nil, NewTransportError(host, err)
	}
	statusCode = resp.StatusCode

	result, err = Normalize(resp)
	if err != nil && statusCode == http.StatusUnauthorized {
		e.invalidateToken(authn)
	}
	return result, err
}

func (e *Executor) recordBlocked(err error) {
	var blocked *security.BlockedError
	if errors.As(err, &blocked) {
		e.metrics.RecordBlocked(blocked.Block)
	}
}

// redactBlockedURL masks credentials added by authentication before the
// URL reaches error messages and logs.
func redactBlockedURL(err error) {
	var blocked *security.BlockedError
	if errors.As(err, &blocked) {
		blocked.URL = httpclient.SanitizeURL(blocked.URL)
	}
}

// invalidateToken drops a cached OAuth token the target just rejected, so
// the next call fetches a fresh one.
func (e *Executor) invalidateToken(a auth.Authentication) {
	switch creds := a.(type) {
	case auth.OAuthClientCredentials:
		e.auth.Invalidate(creds)
	case *auth.OAuthClientCredentials:
		e.auth.Invalidate(*creds)
	}
}
