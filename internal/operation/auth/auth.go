// Package auth resolves request authentication: basic, bearer, API key and
// OAuth 2.0 client credentials with a shared token cache.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/net/http/httpguts"
)

// Authentication is one of the supported authentication variants:
// NoAuth, BasicAuth, BearerAuth, APIKeyAuth or OAuthClientCredentials.
// The set is closed.
type Authentication interface {
	// Type returns the variant name used in logs and descriptors.
	Type() string

	isAuthentication()
}

// Variant names returned by Authentication.Type.
const (
	TypeNone                   = "none"
	TypeBasic                  = "basic"
	TypeBearer                 = "bearer"
	TypeAPIKey                 = "api_key"
	TypeOAuthClientCredentials = "oauth_client_credentials"
)

// NoAuth sends the request without credentials.
type NoAuth struct{}

// BasicAuth sends HTTP Basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// BearerAuth sends a static bearer token.
type BearerAuth struct {
	Token string
}

// APIKeyLocation is where an API key is placed.
type APIKeyLocation string

const (
	// LocationHeader sends the key as a request header.
	LocationHeader APIKeyLocation = "header"
	// LocationQuery sends the key as a query parameter.
	LocationQuery APIKeyLocation = "query"
)

// APIKeyAuth sends a named key in a header or the query string.
type APIKeyAuth struct {
	Name     string
	Value    string
	Location APIKeyLocation
}

// ClientAuthentication is how client credentials reach the token endpoint.
type ClientAuthentication string

const (
	// ClientAuthBody sends client_id and client_secret as form fields.
	ClientAuthBody ClientAuthentication = "body"
	// ClientAuthBasicHeader sends them as an HTTP Basic Authorization header.
	ClientAuthBasicHeader ClientAuthentication = "basic-header"
)

// OAuthClientCredentials obtains a bearer token via the client-credentials grant.
type OAuthClientCredentials struct {
	TokenEndpoint string
	ClientID      string
	ClientSecret  string

	// Audience is sent as the "audience" form field when non-empty.
	Audience string

	// Scopes is a space or comma separated scope list.
	Scopes string

	// ClientAuthentication defaults to ClientAuthBody.
	ClientAuthentication ClientAuthentication
}

func (NoAuth) Type() string { return TypeNone }
func (BasicAuth) Type() string { return TypeBasic }
func (BearerAuth) Type() string { return TypeBearer }
func (APIKeyAuth) Type() string { return TypeAPIKey }
func (OAuthClientCredentials) Type() string { return TypeOAuthClientCredentials }

func (NoAuth) isAuthentication() {}
func (BasicAuth) isAuthentication() {}
func (BearerAuth) isAuthentication() {}
func (APIKeyAuth) isAuthentication() {}
func (OAuthClientCredentials) isAuthentication() {}

// ErrAuthentication is matched by every authentication failure.
var ErrAuthentication = errors.New("authentication failed")

// Error describes an authentication failure.
type Error struct {
	// AuthType is the variant that failed.
	AuthType string

	// Message is a description safe to show users. It never contains secrets.
	Message string

	// StatusCode is the token endpoint status when one was received.
	StatusCode int

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s authentication failed: %s", e.AuthType, e.Message)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrAuthentication) true for every *Error.
func (e *Error) Is(target error) bool {
	return target == ErrAuthentication
}

func newError(authType, message string, cause error) *Error {
	return &Error{AuthType: authType, Message: message, Cause: cause}
}

// Resolver applies an Authentication to outgoing requests.
// It is safe for concurrent use.
type Resolver struct {
	tokens *TokenCache
	logger *slog.Logger
}

// NewResolver creates a resolver. tokens may be nil when OAuth is not used;
// OAuth requests then fail with an authentication error.
func NewResolver(tokens *TokenCache, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{tokens: tokens, logger: logger}
}

// Apply injects the credentials described by a into req.
// A nil Authentication behaves like NoAuth.
func (r *Resolver) Apply(ctx context.Context, a Authentication, req *http.Request) error {
	switch a := a.(type) {
	case nil, NoAuth, *NoAuth:
		return nil

	case BasicAuth:
		return applyBasic(a, req)
	case *BasicAuth:
		return applyBasic(*a, req)

	case BearerAuth:
		return applyBearer(TypeBearer, a.Token, req)
	case *BearerAuth:
		return applyBearer(TypeBearer, a.Token, req)

	case APIKeyAuth:
		return applyAPIKey(a, req)
	case *APIKeyAuth:
		return applyAPIKey(*a, req)

	case OAuthClientCredentials:
		return r.applyOAuth(ctx, a, req)
	case *OAuthClientCredentials:
		return r.applyOAuth(ctx, *a, req)

	default:
		return newError(a.Type(), "unsupported authentication type", nil)
	}
}

// Invalidate drops any cached token for creds so the next call fetches anew.
func (r *Resolver) Invalidate(creds OAuthClientCredentials) {
	if r.tokens != nil {
		r.tokens.Invalidate(creds)
	}
}

func applyBasic(a BasicAuth, req *http.Request) error {
	if a.Username == "" {
		return newError(TypeBasic, "username is required", nil)
	}
	req.SetBasicAuth(a.Username, a.Password)
	return nil
}

func applyBearer(authType, token string, req *http.Request) error {
	if token == "" {
		return newError(authType, "token is required", nil)
	}
	value := "Bearer " + token
	if !httpguts.ValidHeaderFieldValue(value) {
		return newError(authType, "token contains characters not allowed in a header", nil)
	}
	req.Header.Set("Authorization", value)
	return nil
}

func applyAPIKey(a APIKeyAuth, req *http.Request) error {
	if a.Name == "" {
		return newError(TypeAPIKey, "name is required", nil)
	}

	switch a.Location {
	case LocationHeader, "":
		if !httpguts.ValidHeaderFieldName(a.Name) {
			return newError(TypeAPIKey, fmt.Sprintf("%q is not a valid header name", a.Name), nil)
		}
		if !httpguts.ValidHeaderFieldValue(a.Value) {
			return newError(TypeAPIKey, "value contains characters not allowed in a header", nil)
		}
		req.Header.Set(a.Name, a.Value)
	case LocationQuery:
		// The URL changes here, after the caller's blocklist check.
		q := req.URL.Query()
		q.Set(a.Name, a.Value)
		req.URL.RawQuery = q.Encode()
	default:
		return newError(TypeAPIKey, fmt.Sprintf("unsupported location %q", a.Location), nil)
	}
	return nil
}

func (r *Resolver) applyOAuth(ctx context.Context, creds OAuthClientCredentials, req *http.Request) error {
	if r.tokens == nil {
		return newError(TypeOAuthClientCredentials, "no token cache configured", nil)
	}

	token, err := r.tokens.Token(ctx, creds)
	if err != nil {
		var authErr *Error
		if errors.As(err, &authErr) {
			return authErr
		}
		return newError(TypeOAuthClientCredentials, "token request failed", err)
	}

	return applyBearer(TypeOAuthClientCredentials, token, req)
}
