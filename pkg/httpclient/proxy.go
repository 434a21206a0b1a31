package httpclient

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/net/http/httpproxy"

	pkgerrors "github.com/tombee/outbound/pkg/errors"
)

// Proxy sources reported in logs.
const (
	ProxySourceConnector   = "connector environment"
	ProxySourceEnvironment = "standard environment"
)

// proxySchemes are the target schemes that can be proxied.
var proxySchemes = []string{"http", "https"}

// LookupFunc looks up an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ProxySettings is the proxy configured for one target scheme.
type ProxySettings struct {
	// Scheme is the scheme used to reach the proxy itself. Default: http.
	Scheme string

	// Host and Port locate the proxy. Both are required.
	Host string
	Port int

	// User and Password are optional proxy credentials.
	User     string
	Password string

	// NonProxyHosts lists hosts contacted directly, separated by "|" or ",".
	// Entries without "*" match the host and its subdomains; entries with "*"
	// are wildcard patterns.
	NonProxyHosts string
}

// ProxyConfig is an immutable snapshot of proxy settings per target scheme.
type ProxyConfig struct {
	// Schemes maps a target scheme (http, https) to its proxy.
	Schemes map[string]ProxySettings

	// Environment holds HTTP_PROXY/HTTPS_PROXY/NO_PROXY values, consulted for
	// schemes without an explicit entry in Schemes. May be nil.
	Environment *httpproxy.Config
}

// LoadProxyConfig reads CONNECTOR_<SCHEME>_PROXY_* variables, falling back to
// the conventional HTTP_PROXY, HTTPS_PROXY and NO_PROXY variables.
// Supported variables per scheme (HTTP, HTTPS):
//   - CONNECTOR_<SCHEME>_PROXY_HOST and CONNECTOR_<SCHEME>_PROXY_PORT (both required)
//   - CONNECTOR_<SCHEME>_PROXY_USER, CONNECTOR_<SCHEME>_PROXY_PASSWORD
//   - CONNECTOR_<SCHEME>_PROXY_NON_PROXY_HOSTS
//   - CONNECTOR_<SCHEME>_PROXY_SCHEME (http or https, default http)
func LoadProxyConfig(lookup LookupFunc) (ProxyConfig, error) {
	cfg := ProxyConfig{Schemes: make(map[string]ProxySettings)}

	get := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	for _, scheme := range proxySchemes {
		prefix := "CONNECTOR_" + strings.ToUpper(scheme) + "_PROXY_"
		host := get(prefix + "HOST")
		portStr := get(prefix + "PORT")
		if host == "" || portStr == "" {
			continue
		}

		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return ProxyConfig{}, &pkgerrors.ConfigError{
				Key:    prefix + "PORT",
				Reason: fmt.Sprintf("invalid proxy port %q", portStr),
				Cause:  err,
			}
		}

		cfg.Schemes[scheme] = ProxySettings{
			Scheme:        get(prefix + "SCHEME"),
			Host:          host,
			Port:          port,
			User:          get(prefix + "USER"),
			Password:      get(prefix + "PASSWORD"),
			NonProxyHosts: get(prefix + "NON_PROXY_HOSTS"),
		}
	}

	env := &httpproxy.Config{
		HTTPProxy:  getEnvAny(lookup, "HTTP_PROXY", "http_proxy"),
		HTTPSProxy: getEnvAny(lookup, "HTTPS_PROXY", "https_proxy"),
		NoProxy:    getEnvAny(lookup, "NO_PROXY", "no_proxy"),
	}
	if env.HTTPProxy != "" || env.HTTPSProxy != "" {
		cfg.Environment = env
	}

	return cfg, nil
}

func getEnvAny(lookup LookupFunc, names ...string) string {
	for _, n := range names {
		if v, ok := lookup(n); ok && v != "" {
			return v
		}
	}
	return ""
}

// ProxyEndpoint is a resolved proxy for one outbound call.
type ProxyEndpoint struct {
	Scheme   string
	Host     string
	Port     int
	User     string
	Password string

	// Source is where the proxy configuration came from.
	Source string
}

// URL returns the proxy URL, carrying credentials as user info so the
// transport sends Proxy-Authorization for this route.
func (p *ProxyEndpoint) URL() *url.URL {
	u := &url.URL{
		Scheme: p.Scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.User != "" {
		u.User = url.UserPassword(p.User, p.Password)
	}
	return u
}

type schemeProxy struct {
	endpoint ProxyEndpoint
	nonProxy []string
}

// ProxyResolver decides per target host whether to route through a proxy.
// It is immutable after construction and safe for concurrent use.
type ProxyResolver struct {
	schemes map[string]schemeProxy
	env     func(*url.URL) (*url.URL, error)
	logger  *slog.Logger
}

// NewProxyResolver validates cfg and builds a resolver.
func NewProxyResolver(cfg ProxyConfig, logger *slog.Logger) (*ProxyResolver, error) {
	if logger == nil {
		logger = slog.Default()
	}

	r := &ProxyResolver{
		schemes: make(map[string]schemeProxy, len(cfg.Schemes)),
		logger:  logger,
	}

	for scheme, s := range cfg.Schemes {
		scheme = strings.ToLower(scheme)
		if s.Host == "" {
			return nil, fmt.Errorf("%s proxy: host is required", scheme)
		}
		if s.Port <= 0 || s.Port > 65535 {
			return nil, fmt.Errorf("%s proxy: invalid port %d", scheme, s.Port)
		}

		proxyScheme := strings.ToLower(s.Scheme)
		if proxyScheme == "" {
			proxyScheme = "http"
		}
		if proxyScheme != "http" && proxyScheme != "https" {
			return nil, fmt.Errorf("%s proxy: unsupported proxy scheme %q", scheme, s.Scheme)
		}

		patterns, err := parseNonProxyHosts(s.NonProxyHosts)
		if err != nil {
			return nil, fmt.Errorf("%s proxy: %w", scheme, err)
		}

		r.schemes[scheme] = schemeProxy{
			endpoint: ProxyEndpoint{
				Scheme:   proxyScheme,
				Host:     s.Host,
				Port:     s.Port,
				User:     s.User,
				Password: s.Password,
				Source:   ProxySourceConnector,
			},
			nonProxy: patterns,
		}
	}

	if cfg.Environment != nil {
		r.env = cfg.Environment.ProxyFunc()
	}

	return r, nil
}

// Resolve returns the proxy for a target scheme and host, or false when the
// call should go direct.
func (r *ProxyResolver) Resolve(scheme, host string) (*ProxyEndpoint, bool) {
	if r == nil {
		return nil, false
	}
	scheme = strings.ToLower(scheme)
	host = strings.ToLower(strings.TrimSuffix(host, "."))

	if sp, ok := r.schemes[scheme]; ok {
		if matchesNonProxyHost(host, sp.nonProxy) {
			return nil, false
		}
		ep := sp.endpoint
		return &ep, true
	}

	if r.env == nil {
		return nil, false
	}
	proxyURL, err := r.env(&url.URL{Scheme: scheme, Host: host})
	if err != nil || proxyURL == nil {
		return nil, false
	}
	return endpointFromURL(proxyURL), true
}

// ProxyFunc adapts the resolver to http.Transport.Proxy.
// A nil resolver yields a nil function, meaning no proxy.
func (r *ProxyResolver) ProxyFunc() func(*http.Request) (*url.URL, error) {
	if r == nil {
		return nil
	}
	return func(req *http.Request) (*url.URL, error) {
		ep, ok := r.Resolve(req.URL.Scheme, req.URL.Hostname())
		if !ok {
			r.logger.Debug("no proxy used", "host", req.URL.Hostname())
			return nil, nil
		}
		r.logger.Debug("using proxy",
			"scheme", req.URL.Scheme,
			"proxy_host", ep.Host,
			"proxy_port", ep.Port,
			"source", ep.Source,
		)
		return ep.URL(), nil
	}
}

func endpointFromURL(u *url.URL) *ProxyEndpoint {
	ep := &ProxyEndpoint{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Source: ProxySourceEnvironment,
	}
	if p, err := strconv.Atoi(u.Port()); err == nil {
		ep.Port = p
	} else if u.Scheme == "https" {
		ep.Port = 443
	} else {
		ep.Port = 80
	}
	if u.User != nil {
		ep.User = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	return ep
}

// parseNonProxyHosts splits and validates a non-proxy host list.
func parseNonProxyHosts(list string) ([]string, error) {
	if strings.TrimSpace(list) == "" {
		return nil, nil
	}
	fields := strings.FieldsFunc(list, func(r rune) bool { return r == '|' || r == ',' })

	patterns := make([]string, 0, len(fields))
	for _, f := range fields {
		p := strings.ToLower(strings.TrimSpace(f))
		if p == "" {
			continue
		}
		if strings.Contains(p, "*") && !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid non-proxy host pattern %q", f)
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// matchesNonProxyHost reports whether host must bypass the proxy.
func matchesNonProxyHost(host string, patterns []string) bool {
	for _, p := range patterns {
		if !strings.Contains(p, "*") {
			if host == p || strings.HasSuffix(host, "."+p) {
				return true
			}
			continue
		}
		if ok, _ := doublestar.Match(p, host); ok {
			return true
		}
	}
	return false
}
