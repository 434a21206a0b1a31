package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/tombee/outbound/pkg/httpclient"
	"github.com/tombee/outbound/pkg/security"
)

// DefaultExpiryMargin is how long before its real expiry a token is
// considered expired.
const DefaultExpiryMargin = 60 * time.Second

// cacheKey identifies a credential set. The client secret is not part of it.
type cacheKey struct {
	endpoint string
	clientID string
	audience string
	scopes   string
	mode     ClientAuthentication
}

func keyFor(creds OAuthClientCredentials) cacheKey {
	mode := creds.ClientAuthentication
	if mode == "" {
		mode = ClientAuthBody
	}
	return cacheKey{
		endpoint: creds.TokenEndpoint,
		clientID: creds.ClientID,
		audience: creds.Audience,
		scopes:   strings.Join(splitScopes(creds.Scopes), " "),
		mode:     mode,
	}
}

func (k cacheKey) String() string {
	return strings.Join([]string{k.endpoint, k.clientID, k.audience, k.scopes, string(k.mode)}, "\x00")
}

// cachedToken is a token with the instant after which it must not be used.
type cachedToken struct {
	accessToken string
	fetchedAt   time.Time
	expiresAt   time.Time
}

// CacheStats is a snapshot of token cache activity.
type CacheStats struct {
	// Fetches counts token endpoint calls, successful or not.
	Fetches int64

	// Hits counts requests served from the cache.
	Hits int64

	// Entries is the number of cached tokens.
	Entries int
}

// TokenCache fetches and caches OAuth client-credentials tokens.
// At most one fetch per credential set is in flight at any time; concurrent
// callers wait for and share its result.
type TokenCache struct {
	mu      sync.Mutex
	entries map[cacheKey]cachedToken

	group singleflight.Group

	client    *http.Client
	blocklist *security.Blocklist
	margin    time.Duration
	now       func() time.Time
	logger    *slog.Logger

	fetches atomic.Int64
	hits    atomic.Int64
}

// TokenCacheOption configures a TokenCache.
type TokenCacheOption func(*TokenCache)

// WithHTTPClient sets the client used for token endpoint calls, normally the
// engine's pooled client.
func WithHTTPClient(client *http.Client) TokenCacheOption {
	return func(c *TokenCache) {
		c.client = client
	}
}

// WithBlocklist checks token endpoint URLs against bl before calling them.
func WithBlocklist(bl *security.Blocklist) TokenCacheOption {
	return func(c *TokenCache) {
		c.blocklist = bl
	}
}

// WithExpiryMargin overrides DefaultExpiryMargin.
func WithExpiryMargin(margin time.Duration) TokenCacheOption {
	return func(c *TokenCache) {
		c.margin = margin
	}
}

// WithClock replaces time.Now for expiry bookkeeping.
func WithClock(now func() time.Time) TokenCacheOption {
	return func(c *TokenCache) {
		c.now = now
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) TokenCacheOption {
	return func(c *TokenCache) {
		c.logger = logger
	}
}

// NewTokenCache creates an empty cache.
func NewTokenCache(opts ...TokenCacheOption) *TokenCache {
	c := &TokenCache{
		entries: make(map[cacheKey]cachedToken),
		margin:  DefaultExpiryMargin,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.margin < 0 {
		c.margin = 0
	}
	return c
}

// Token returns a valid access token for creds, fetching one if the cache
// holds none. A failed fetch leaves any existing entry untouched.
func (c *TokenCache) Token(ctx context.Context, creds OAuthClientCredentials) (string, error) {
	if err := validateCredentials(creds); err != nil {
		return "", err
	}

	key := keyFor(creds)

	if tok, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return tok, nil
	}

	// The first caller's ctx drives the shared fetch. Callers whose own ctx
	// ends first stop waiting without cancelling it.
	ch := c.group.DoChan(key.String(), func() (any, error) {
		// Another flight may have filled the entry while we queued.
		if tok, ok := c.lookup(key); ok {
			c.hits.Add(1)
			return tok, nil
		}
		return c.fetch(ctx, key, creds)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", newError(TypeOAuthClientCredentials, "token request failed", ctx.Err())
	}
}

// Invalidate removes the cached token for creds.
func (c *TokenCache) Invalidate(creds OAuthClientCredentials) {
	key := keyFor(creds)

	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	c.logger.Debug("oauth token invalidated", "token_endpoint", httpclient.SanitizeURL(creds.TokenEndpoint), "client_id", creds.ClientID)
}

// Stats returns a snapshot of cache activity.
func (c *TokenCache) Stats() CacheStats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()

	return CacheStats{
		Fetches: c.fetches.Load(),
		Hits:    c.hits.Load(),
		Entries: n,
	}
}

func (c *TokenCache) lookup(key cacheKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return "", false
	}
	return entry.accessToken, true
}

func (c *TokenCache) fetch(ctx context.Context, key cacheKey, creds OAuthClientCredentials) (string, error) {
	if err := c.blocklist.Validate(creds.TokenEndpoint); err != nil {
		return "", &Error{
			AuthType: TypeOAuthClientCredentials,
			Message:  "token endpoint is blocked",
			Cause:    err,
		}
	}

	cfg := clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     creds.TokenEndpoint,
		Scopes:       splitScopes(creds.Scopes),
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if key.mode == ClientAuthBasicHeader {
		cfg.AuthStyle = oauth2.AuthStyleInHeader
	}
	if creds.Audience != "" {
		cfg.EndpointParams = url.Values{"audience": {creds.Audience}}
	}

	if c.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.client)
	}

	c.fetches.Add(1)
	fetchedAt := c.now()

	c.logger.Debug("fetching oauth token",
		"token_endpoint", httpclient.SanitizeURL(creds.TokenEndpoint),
		"client_id", creds.ClientID,
		"client_authentication", string(key.mode),
	)

	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", tokenError(err)
	}
	if tok.AccessToken == "" {
		return "", newError(TypeOAuthClientCredentials, "token response has no access_token", nil)
	}

	if tok.Expiry.IsZero() {
		c.logger.Debug("oauth token has no expiry, not caching", "client_id", creds.ClientID)
		return tok.AccessToken, nil
	}

	// x/oauth2 stamps Expiry against the wall clock at receipt.
	lifetime := time.Until(tok.Expiry)
	if lifetime <= 0 {
		return tok.AccessToken, nil
	}

	c.mu.Lock()
	c.entries[key] = cachedToken{
		accessToken: tok.AccessToken,
		fetchedAt:   fetchedAt,
		expiresAt:   fetchedAt.Add(c.usableLifetime(lifetime)),
	}
	c.mu.Unlock()

	c.logger.Debug("oauth token cached", "client_id", creds.ClientID, "lifetime", lifetime)

	return tok.AccessToken, nil
}

// usableLifetime applies the expiry margin. Short-lived tokens keep half
// their lifetime instead of becoming immediately stale.
func (c *TokenCache) usableLifetime(lifetime time.Duration) time.Duration {
	if lifetime <= c.margin {
		return lifetime / 2
	}
	return lifetime - c.margin
}

func tokenError(err error) error {
	authErr := newError(TypeOAuthClientCredentials, "token request failed", err)

	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil {
			authErr.StatusCode = retrieveErr.Response.StatusCode
		}
		if retrieveErr.ErrorCode != "" {
			authErr.Message = "token endpoint returned " + retrieveErr.ErrorCode
			if retrieveErr.ErrorDescription != "" {
				authErr.Message += ": " + retrieveErr.ErrorDescription
			}
		}
	}
	return authErr
}

func validateCredentials(creds OAuthClientCredentials) error {
	switch {
	case creds.TokenEndpoint == "":
		return newError(TypeOAuthClientCredentials, "token endpoint is required", nil)
	case creds.ClientID == "":
		return newError(TypeOAuthClientCredentials, "client id is required", nil)
	case creds.ClientSecret == "":
		return newError(TypeOAuthClientCredentials, "client secret is required", nil)
	}

	switch creds.ClientAuthentication {
	case "", ClientAuthBody, ClientAuthBasicHeader:
	default:
		return newError(TypeOAuthClientCredentials, "unsupported client authentication "+string(creds.ClientAuthentication), nil)
	}

	u, err := url.Parse(creds.TokenEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return newError(TypeOAuthClientCredentials, "token endpoint must be an absolute http(s) URL", err)
	}
	return nil
}

// splitScopes splits a scope list on whitespace and commas.
func splitScopes(scopes string) []string {
	return strings.FieldsFunc(scopes, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}
