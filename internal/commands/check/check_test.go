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

package check

import (
	"bytes"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tombee/outbound/internal/cli"
	"github.com/tombee/outbound/internal/commands/shared"
	"github.com/tombee/outbound/pkg/httpclient"
	"github.com/tombee/outbound/pkg/security"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("failed to parse %q: %v", raw, err)
	}
	return u
}

func TestEvaluate(t *testing.T) {
	proxy, err := httpclient.NewProxyResolver(httpclient.ProxyConfig{
		Schemes: map[string]httpclient.ProxySettings{
			"https": {
				Host:          "proxy.internal",
				Port:          3128,
				User:          "svc",
				Password:      "hunter2",
				NonProxyHosts: "*.corp.example|localhost",
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("failed to create proxy resolver: %v", err)
	}

	bl := security.NewBlocklist(security.DefaultBlocks()...)

	tests := []struct {
		name      string
		url       string
		allowed   bool
		block     string
		proxyHost string
	}{
		{
			name:      "proxied https",
			url:       "https://api.example.com/v1",
			allowed:   true,
			proxyHost: "proxy.internal",
		},
		{
			name:    "non-proxy host",
			url:     "https://build.corp.example/status",
			allowed: true,
		},
		{
			name:    "plain http has no proxy",
			url:     "http://api.example.com/v1",
			allowed: true,
		},
		{
			name:    "metadata endpoint",
			url:     "http://169.254.169.254/latest/meta-data",
			allowed: false,
			block:   "metadata-ipv4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report, err := Evaluate(bl, proxy, mustParse(t, tt.url))

			if report.Allowed != tt.allowed {
				t.Fatalf("expected allowed=%v, got %v (err %v)", tt.allowed, report.Allowed, err)
			}
			if !tt.allowed && err == nil {
				t.Error("expected a blocklist error")
			}
			if report.Block != tt.block {
				t.Errorf("expected block %q, got %q", tt.block, report.Block)
			}

			switch {
			case tt.proxyHost == "" && report.Proxy != nil:
				t.Errorf("expected direct connection, got proxy %+v", report.Proxy)
			case tt.proxyHost != "" && (report.Proxy == nil || report.Proxy.Host != tt.proxyHost):
				t.Errorf("expected proxy %q, got %+v", tt.proxyHost, report.Proxy)
			}
		})
	}
}

func TestEvaluate_ProxyCredentialsNotReported(t *testing.T) {
	proxy, err := httpclient.NewProxyResolver(httpclient.ProxyConfig{
		Schemes: map[string]httpclient.ProxySettings{
			"https": {Host: "proxy.internal", Port: 3128, User: "svc", Password: "hunter2"},
		},
	}, nil)
	if err != nil {
		t.Fatalf("failed to create proxy resolver: %v", err)
	}

	report, err := Evaluate(nil, proxy, mustParse(t, "https://api.example.com"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("failed to marshal report: %v", err)
	}
	if strings.Contains(string(data), "hunter2") || strings.Contains(string(data), "svc") {
		t.Errorf("report leaks proxy credentials: %s", data)
	}
	if !report.Proxy.Auth {
		t.Error("expected auth=true for a proxy with credentials")
	}
}

func runCheck(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(shared.ResetFlagsForTest)

	cfg := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfg, []byte("log:\n  level: error\n"), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	root := cli.NewRootCommand()
	root.AddCommand(NewCommand())

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append([]string{"check", "--config", cfg}, args...))

	err := root.Execute()
	return stdout.String(), err
}

func TestCheckCommand_ProxyFromEnvironment(t *testing.T) {
	t.Setenv("CONNECTOR_HTTPS_PROXY_HOST", "egress.internal")
	t.Setenv("CONNECTOR_HTTPS_PROXY_PORT", "8443")

	out, err := runCheck(t, "https://api.example.com/v1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if !strings.Contains(out, "status:  allowed") {
		t.Errorf("expected allowed status, got: %s", out)
	}
	if !strings.Contains(out, "http://egress.internal:8443") {
		t.Errorf("expected proxy in output, got: %s", out)
	}
}

func TestCheckCommand_BlockedJSON(t *testing.T) {
	out, err := runCheck(t, "--json", "http://169.254.169.254/latest/meta-data")
	if err == nil {
		t.Fatal("expected blocked URL to fail")
	}
	if code := shared.ExitCodeFor(err); code != shared.ExitBlocked {
		t.Errorf("expected exit code %d, got %d", shared.ExitBlocked, code)
	}

	var resp struct {
		Command string `json:"command"`
		Success bool   `json:"success"`
		Allowed bool   `json:"allowed"`
		Block   string `json:"block"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("failed to parse JSON output: %v\n%s", err, out)
	}
	if resp.Command != "check" || resp.Success || resp.Allowed {
		t.Errorf("unexpected response: %+v", resp)
	}
	if resp.Block != "metadata-ipv4" {
		t.Errorf("expected block metadata-ipv4, got %q", resp.Block)
	}
}

func TestCheckCommand_InvalidURL(t *testing.T) {
	for _, raw := range []string{"ftp://example.com", "not a url", "https://"} {
		_, err := runCheck(t, raw)
		if err == nil {
			t.Fatalf("expected error for %q", raw)
		}
		if code := shared.ExitCodeFor(err); code != shared.ExitInvalidRequest {
			t.Errorf("%q: expected exit code %d, got %d", raw, shared.ExitInvalidRequest, code)
		}
	}
}
