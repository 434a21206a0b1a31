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

package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// BlockKind identifies the shape of a block in configuration.
type BlockKind string

const (
	// BlockKindPort blocks explicit URL ports.
	BlockKindPort BlockKind = "port"

	// BlockKindRegex blocks URLs fully matching a regular expression.
	BlockKindRegex BlockKind = "regex"

	// BlockKindURL blocks URLs containing a literal substring.
	BlockKindURL BlockKind = "url"

	// BlockKindHost blocks a host and all of its subdomains.
	BlockKindHost BlockKind = "host"
)

// NewBlock constructs a block of the given kind from its configured value.
func NewBlock(kind BlockKind, name, value string) (Block, error) {
	switch BlockKind(strings.ToLower(string(kind))) {
	case BlockKindPort:
		return NewPortBlock(name, value)
	case BlockKindRegex:
		return NewRegexBlock(name, value)
	case BlockKindURL:
		return NewURLBlock(name, value)
	case BlockKindHost:
		return NewHostBlock(name, value)
	default:
		return nil, fmt.Errorf("unknown block kind %q (expected port, regex, url or host)", kind)
	}
}

// DefaultBlocks returns the cloud metadata endpoint blocks applied when no
// blocklist is configured.
func DefaultBlocks() []Block {
	return []Block{
		mustRegexBlock("gcp-metadata", ".*computeMetadata.*"),
		&URLBlock{name: "metadata-ipv4", literal: "169.254.169.254"},
		&URLBlock{name: "metadata-ipv6", literal: "fd00:ec2::254"},
	}
}

// PortBlock rejects URLs whose explicit port is in a fixed set.
// A URL without an explicit port never matches.
type PortBlock struct {
	name  string
	ports map[int]struct{}
}

// NewPortBlock parses a comma-separated list of ports in [0, 65535].
func NewPortBlock(name, list string) (*PortBlock, error) {
	b := &PortBlock{name: name, ports: make(map[int]struct{})}
	for _, tok := range strings.Split(list, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		port, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("port block %q: %q is not a number", name, tok)
		}
		if port < 0 || port > 65535 {
			return nil, fmt.Errorf("port block %q: %d is outside [0, 65535]", name, port)
		}
		b.ports[port] = struct{}{}
	}
	if len(b.ports) == 0 {
		return nil, fmt.Errorf("port block %q: no ports given", name)
	}
	return b, nil
}

// Name implements Block.
func (b *PortBlock) Name() string { return b.name }

// Matches implements Block.
func (b *PortBlock) Matches(_ string, u *url.URL) bool {
	if u == nil {
		return false
	}
	p := u.Port()
	if p == "" {
		return false
	}
	port, err := strconv.Atoi(p)
	if err != nil {
		return false
	}
	_, blocked := b.ports[port]
	return blocked
}

// RegexBlock rejects URLs that match a pattern in full.
type RegexBlock struct {
	name    string
	pattern *regexp.Regexp
}

// NewRegexBlock compiles pattern, anchored so that it must match the whole URL.
func NewRegexBlock(name, pattern string) (*RegexBlock, error) {
	if pattern == "" {
		return nil, fmt.Errorf("regex block %q: empty pattern", name)
	}
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("regex block %q: %w", name, err)
	}
	return &RegexBlock{name: name, pattern: re}, nil
}

func mustRegexBlock(name, pattern string) *RegexBlock {
	b, err := NewRegexBlock(name, pattern)
	if err != nil {
		panic(err)
	}
	return b
}

// Name implements Block.
func (b *RegexBlock) Name() string { return b.name }

// Matches implements Block.
func (b *RegexBlock) Matches(rawURL string, _ *url.URL) bool {
	return b.pattern.MatchString(rawURL)
}

// URLBlock rejects URLs containing a literal, case-sensitive substring anywhere
// in the URL, including scheme and path.
type URLBlock struct {
	name    string
	literal string
}

// NewURLBlock creates a substring block.
func NewURLBlock(name, literal string) (*URLBlock, error) {
	if literal == "" {
		return nil, fmt.Errorf("url block %q: empty value", name)
	}
	return &URLBlock{name: name, literal: literal}, nil
}

// Name implements Block.
func (b *URLBlock) Name() string { return b.name }

// Matches implements Block.
func (b *URLBlock) Matches(rawURL string, _ *url.URL) bool {
	return strings.Contains(rawURL, b.literal)
}

// HostBlock rejects a host and its subdomains. Host comparison is
// case-insensitive.
type HostBlock struct {
	name string
	host string
}

// NewHostBlock creates a domain block. A leading "*." or "." is accepted and ignored.
func NewHostBlock(name, host string) (*HostBlock, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	host = strings.TrimPrefix(host, "*")
	host = strings.TrimPrefix(host, ".")
	if host == "" {
		return nil, fmt.Errorf("host block %q: empty host", name)
	}
	return &HostBlock{name: name, host: host}, nil
}

// Name implements Block.
func (b *HostBlock) Name() string { return b.name }

// Matches implements Block.
func (b *HostBlock) Matches(_ string, u *url.URL) bool {
	if u == nil {
		return false
	}
	return matchesDomain(strings.ToLower(u.Hostname()), b.host)
}

// matchesDomain reports whether host equals domain or is a subdomain of it.
func matchesDomain(host, domain string) bool {
	if host == "" {
		return false
	}
	return host == domain || strings.HasSuffix(host, "."+domain)
}
