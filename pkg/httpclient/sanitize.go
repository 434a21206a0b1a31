package httpclient

import (
	"net/url"
	"strings"
)

// sensitiveParams contains query parameter names that should be redacted from logs.
// These are matched case-insensitively as substrings.
var sensitiveParams = []string{
	"api_key",
	"apikey",
	"token",
	"password",
	"auth",
	"secret",
	"key",
	"credential",
	"signature",
}

const redacted = "[REDACTED]"

// SanitizeURL returns rawURL with credentials and sensitive query values
// redacted. Unparseable input is returned as a fixed placeholder so that
// secrets in malformed URLs never reach logs or error messages.
func SanitizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	return sanitizeURL(u)
}

// sanitizeURL removes user info and sensitive query parameters before logging.
func sanitizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	safe := *u
	if safe.User != nil {
		safe.User = url.User(redacted)
	}

	if safe.RawQuery != "" {
		q := safe.Query()
		for param := range q {
			if isSensitiveParam(param) {
				q.Set(param, redacted)
			}
		}
		safe.RawQuery = q.Encode()
	}

	return safe.String()
}

// isSensitiveParam checks if a parameter name matches the sensitive list.
func isSensitiveParam(param string) bool {
	lower := strings.ToLower(param)
	for _, sensitive := range sensitiveParams {
		if strings.Contains(lower, sensitive) {
			return true
		}
	}
	return false
}
