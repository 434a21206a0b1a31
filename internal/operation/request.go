package operation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/tombee/outbound/internal/operation/auth"
	"github.com/tombee/outbound/pkg/httpclient"
)

// Method is an HTTP method the engine can execute.
type Method string

const (
	MethodGet    Method = http.MethodGet
	MethodPost   Method = http.MethodPost
	MethodPut    Method = http.MethodPut
	MethodPatch  Method = http.MethodPatch
	MethodDelete Method = http.MethodDelete
)

// SupportsBody reports whether a body is sent for this method.
func (m Method) SupportsBody() bool {
	switch m {
	case MethodPost, MethodPut, MethodPatch:
		return true
	default:
		return false
	}
}

// ParseMethod validates a method name case-insensitively. An empty name is GET.
func ParseMethod(s string) (Method, error) {
	m := Method(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case "":
		return MethodGet, nil
	case MethodGet, MethodPost, MethodPut, MethodPatch, MethodDelete:
		return m, nil
	default:
		return "", fmt.Errorf("unsupported method %q", s)
	}
}

// Content types chosen by the builder.
const (
	ContentTypeJSON = "application/json"
	ContentTypeForm = "application/x-www-form-urlencoded"
	ContentTypeText = "text/plain; charset=UTF-8"
)

// urlPattern is the allow-pattern every target URL must satisfy: plain
// http(s), or an expression or secret reference still awaiting resolution.
var urlPattern = regexp.MustCompile(`^(=|(http://|https://|secrets|\{\{).*$)`)

// Request describes one outbound call. It can be built in code or loaded
// from YAML or JSON.
type Request struct {
	Method  string            `yaml:"method" json:"method"`
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers,omitempty" json:"headers,omitempty"`
	Query   map[string]string `yaml:"query,omitempty" json:"query,omitempty"`

	// Body is a string, a structured value or, for form requests, a map.
	// Ignored for methods without a body.
	Body any `yaml:"body,omitempty" json:"body,omitempty"`

	// ConnectTimeout and ReadTimeout are in seconds. A nil connect timeout
	// means httpclient.DefaultTimeoutSeconds, a nil read timeout falls back
	// to the connect timeout, and 0 means no limit.
	ConnectTimeout *int `yaml:"connect_timeout,omitempty" json:"connect_timeout,omitempty"`
	ReadTimeout    *int `yaml:"read_timeout,omitempty" json:"read_timeout,omitempty"`

	// IgnoreNullValues drops null map entries from structured bodies.
	IgnoreNullValues bool `yaml:"ignore_null_values,omitempty" json:"ignore_null_values,omitempty"`

	// Authentication is the serializable form of Auth.
	Authentication *auth.Descriptor `yaml:"authentication,omitempty" json:"authentication,omitempty"`

	// Auth takes precedence over Authentication when set.
	Auth auth.Authentication `yaml:"-" json:"-"`
}

// Timeouts converts the request's timeout seconds for httpclient.Client.Do.
func (r *Request) Timeouts() httpclient.Timeouts {
	return httpclient.TimeoutsFromSeconds(r.ConnectTimeout, r.ReadTimeout)
}

// ResolveAuth returns the authentication to apply.
func (r *Request) ResolveAuth() (auth.Authentication, error) {
	if r.Auth != nil {
		return r.Auth, nil
	}
	return r.Authentication.Decode()
}

// Build assembles the HTTP request for r. Credentials are not applied here.
// Header entries with invalid names or values are skipped.
func Build(ctx context.Context, r *Request) (*http.Request, error) {
	if r == nil {
		return nil, NewInvalidRequestError("request is required", nil)
	}

	method, err := ParseMethod(r.Method)
	if err != nil {
		return nil, NewInvalidRequestError(err.Error(), nil)
	}

	target, err := buildURL(r.URL, r.Query)
	if err != nil {
		return nil, err
	}

	var (
		body        io.Reader
		contentType = headerValue(r.Headers, "Content-Type")
	)
	if method.SupportsBody() {
		var payload []byte
		payload, contentType, err = encodeBody(r.Body, contentType, r.IgnoreNullValues)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			body = bytes.NewReader(payload)
		}
	}

	req, err := http.NewRequestWithContext(ctx, string(method), target.String(), body)
	if err != nil {
		return nil, NewInvalidRequestError("failed to create request", err)
	}

	for _, name := range sortedKeys(r.Headers) {
		value := r.Headers[name]
		if !httpguts.ValidHeaderFieldName(name) || !httpguts.ValidHeaderFieldValue(value) {
			slog.Default().DebugContext(ctx, "skipping invalid header", "header", name)
			continue
		}
		req.Header.Set(name, value)
	}

	if method.SupportsBody() && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// buildURL checks raw against the allow-pattern and appends query parameters.
func buildURL(raw string, query map[string]string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, NewInvalidRequestError("url is required", nil)
	}
	if !urlPattern.MatchString(raw) {
		return nil, NewInvalidRequestError(fmt.Sprintf("url %s must start with http:// or https://", httpclient.SanitizeURL(raw)), nil)
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return nil, NewInvalidRequestError("url is an unresolved expression or secret reference", nil)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, NewInvalidRequestError("url is not valid", err)
	}
	if u.Host == "" {
		return nil, NewInvalidRequestError("url has no host", nil)
	}

	if len(query) > 0 {
		q := u.Query()
		for _, k := range sortedKeys(query) {
			q.Add(k, query[k])
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// encodeBody serializes body and returns the content type to send. An
// explicit content type is kept; otherwise JSON is assumed, except for
// string bodies that are not JSON, which are sent as text.
func encodeBody(body any, contentType string, ignoreNulls bool) ([]byte, string, error) {
	if body == nil {
		if contentType == "" {
			contentType = ContentTypeJSON
		}
		return nil, contentType, nil
	}

	if isFormContentType(contentType) {
		payload, err := encodeForm(body)
		return payload, contentType, err
	}

	if s, ok := body.(string); ok {
		if contentType == "" {
			contentType = ContentTypeText
			if json.Valid([]byte(s)) {
				contentType = ContentTypeJSON
			}
		}
		return []byte(s), contentType, nil
	}

	if ignoreNulls {
		body = dropNulls(body)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return nil, "", NewInvalidRequestError("failed to encode request body as JSON", err)
	}

	if contentType == "" {
		contentType = ContentTypeJSON
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), contentType, nil
}

func isFormContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == ContentTypeForm
}

// encodeForm url-encodes a map body. A string body is assumed to be encoded already.
func encodeForm(body any) ([]byte, error) {
	var values url.Values

	switch b := body.(type) {
	case string:
		return []byte(b), nil
	case url.Values:
		values = b
	case map[string]string:
		values = make(url.Values, len(b))
		for k, v := range b {
			values.Set(k, v)
		}
	case map[string]any:
		values = make(url.Values, len(b))
		for k, v := range b {
			switch v := v.(type) {
			case nil:
				continue
			case []any:
				for _, item := range v {
					values.Add(k, formValue(item))
				}
			default:
				values.Set(k, formValue(v))
			}
		}
	default:
		return nil, NewInvalidRequestError(fmt.Sprintf("form body must be a map or string, got %T", body), nil)
	}

	return []byte(values.Encode()), nil
}

func formValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// dropNulls removes null-valued map entries recursively.
func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if val == nil {
				continue
			}
			out[k] = dropNulls(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = dropNulls(val)
		}
		return out
	default:
		return v
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
