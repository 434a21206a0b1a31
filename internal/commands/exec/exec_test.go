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

package exec

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/tombee/outbound/internal/cli"
	"github.com/tombee/outbound/internal/commands/shared"
	"github.com/tombee/outbound/internal/operation/auth"
	pkgerrors "github.com/tombee/outbound/pkg/errors"
)

const quietConfig = "log:\n  level: error\n"

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

// runExec executes the command tree and returns stdout and stderr.
func runExec(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	t.Cleanup(shared.ResetFlagsForTest)

	root := cli.NewRootCommand()
	root.AddCommand(NewCommand())

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)

	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestExec_URLFlag(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"ok":true}`)
	}))
	defer server.Close()

	cfg := writeFile(t, "config.yaml", quietConfig)
	stdout, _, err := runExec(t, "", "exec", "--config", cfg, "--url", server.URL)
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}

	var result struct {
		Status int            `json:"status"`
		Body   map[string]any `json:"body"`
		Reason *string        `json:"reason"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to parse output: %v\n%s", err, stdout)
	}
	if result.Status != http.StatusOK {
		t.Errorf("expected status 200, got %d", result.Status)
	}
	if result.Body["ok"] != true {
		t.Errorf("expected body ok=true, got %v", result.Body)
	}
	if result.Reason != nil {
		t.Errorf("expected null reason, got %q", *result.Reason)
	}
}

func TestExec_RequestFromStdin(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"method":  r.Method,
			"tenant":  r.Header.Get("X-Tenant"),
			"payload": string(data),
		})
	}))
	defer server.Close()

	request := "method: POST\n" +
		"url: " + server.URL + "/items\n" +
		"headers:\n  Content-Type: application/json\n" +
		"body:\n  name: widget\n  count: 3\n"

	cfg := writeFile(t, "config.yaml", quietConfig)
	stdout, _, err := runExec(t, request, "exec", "--config", cfg, "-f", "-", "-H", "X-Tenant: acme")
	if err != nil {
		t.Fatalf("exec failed: %v", err)
	}

	var result struct {
		Status int               `json:"status"`
		Body   map[string]string `json:"body"`
	}
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("failed to parse output: %v\n%s", err, stdout)
	}
	if result.Status != http.StatusCreated {
		t.Errorf("expected status 201, got %d", result.Status)
	}
	if result.Body["method"] != http.MethodPost {
		t.Errorf("expected POST, got %q", result.Body["method"])
	}
	if result.Body["tenant"] != "acme" {
		t.Errorf("expected X-Tenant header 'acme', got %q", result.Body["tenant"])
	}
	if result.Body["payload"] != `{"count":3,"name":"widget"}` {
		t.Errorf("unexpected request body: %s", result.Body["payload"])
	}
}

func TestExec_RequestFile(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") != "2" {
			t.Errorf("expected page=2, got %q", r.URL.RawQuery)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	file := writeFile(t, "request.json", `{"url": "`+server.URL+`", "query": {"page": "2"}}`)
	cfg := writeFile(t, "config.yaml", quietConfig)

	if _, _, err := runExec(t, "", "exec", "--config", cfg, "-f", file); err != nil {
		t.Fatalf("exec failed: %v", err)
	}
}

func TestExec_UpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"message":"no such item"}`)
	}))
	defer server.Close()

	cfg := writeFile(t, "config.yaml", quietConfig)
	stdout, _, err := runExec(t, "", "exec", "--config", cfg, "--url", server.URL)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if code := shared.ExitCodeFor(err); code != shared.ExitUpstream {
		t.Errorf("expected exit code %d, got %d", shared.ExitUpstream, code)
	}
	if !strings.Contains(stdout, `"status": 404`) {
		t.Errorf("expected the 404 result to be printed, got: %s", stdout)
	}
	if msg, _ := pkgerrors.Describe(err); !strings.Contains(msg, "no such item") {
		t.Errorf("expected upstream detail in message, got: %s", msg)
	}
}

func TestExec_BlockedJSON(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	cfg := writeFile(t, "config.yaml", quietConfig+
		"blocklist:\n  blocks:\n    - name: no-loopback\n      type: host\n      value: 127.0.0.1\n")

	stdout, _, err := runExec(t, "", "exec", "--config", cfg, "--json", "--url", server.URL)
	if err == nil {
		t.Fatal("expected blocked call to fail")
	}
	if code := shared.ExitCodeFor(err); code != shared.ExitBlocked {
		t.Errorf("expected exit code %d, got %d", shared.ExitBlocked, code)
	}
	if hits.Load() != 0 {
		t.Errorf("blocked call reached the server %d times", hits.Load())
	}

	var resp struct {
		Command string             `json:"command"`
		Success bool               `json:"success"`
		Errors  []shared.JSONError `json:"errors"`
	}
	if err := json.Unmarshal([]byte(stdout), &resp); err != nil {
		t.Fatalf("failed to parse JSON output: %v\n%s", err, stdout)
	}
	if resp.Command != "exec" || resp.Success {
		t.Errorf("unexpected envelope: %+v", resp)
	}
	if len(resp.Errors) != 1 || resp.Errors[0].Code != "ssrf_blocked" {
		t.Fatalf("expected one ssrf_blocked error, got %+v", resp.Errors)
	}
	if !strings.Contains(resp.Errors[0].Message, "no-loopback") {
		t.Errorf("expected block name in message, got %q", resp.Errors[0].Message)
	}
}

func TestExec_InvalidInput(t *testing.T) {
	cfg := writeFile(t, "config.yaml", quietConfig)

	tests := []struct {
		name  string
		stdin string
		args  []string
	}{
		{
			name: "no url",
			args: []string{"exec", "--config", cfg},
		},
		{
			name: "bad header",
			args: []string{"exec", "--config", cfg, "--url", "https://example.com", "-H", "no-colon"},
		},
		{
			name:  "unparseable file",
			stdin: "url: [unterminated",
			args:  []string{"exec", "--config", cfg, "-f", "-"},
		},
		{
			name: "missing file",
			args: []string{"exec", "--config", cfg, "-f", filepath.Join(t.TempDir(), "absent.yaml")},
		},
		{
			name: "unsupported scheme",
			args: []string{"exec", "--config", cfg, "--url", "ftp://example.com/file"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runExec(t, tt.stdin, tt.args...)
			if err == nil {
				t.Fatal("expected error")
			}
			if code := shared.ExitCodeFor(err); code != shared.ExitInvalidRequest {
				t.Errorf("expected exit code %d, got %d (%v)", shared.ExitInvalidRequest, code, err)
			}
		})
	}
}

func TestExec_BadConfig(t *testing.T) {
	cfg := writeFile(t, "config.yaml", "blocklist:\n  blocks:\n    - type: port\n      value: not-a-port\n")

	_, _, err := runExec(t, "", "exec", "--config", cfg, "--url", "https://example.com")
	if err == nil {
		t.Fatal("expected configuration error")
	}
	if code := shared.ExitCodeFor(err); code != shared.ExitConfig {
		t.Errorf("expected exit code %d, got %d", shared.ExitConfig, code)
	}
}

func TestExec_HelpExampleParses(t *testing.T) {
	_, rest, ok := strings.Cut(NewCommand().Long, "The description is YAML (or JSON):\n\n")
	if !ok {
		t.Fatal("help text has no example request")
	}
	example, _, _ := strings.Cut(rest, "\n\nThe normalized result")

	req, err := loadRequest(strings.NewReader(example), &options{file: "-"})
	if err != nil {
		t.Fatalf("example request did not parse: %v", err)
	}
	if req.Method != http.MethodPost || req.URL != "https://api.example.com/v1/items" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL)
	}

	authn, err := req.ResolveAuth()
	if err != nil {
		t.Fatalf("example authentication did not decode: %v", err)
	}
	creds, ok := authn.(auth.OAuthClientCredentials)
	if !ok {
		t.Fatalf("expected OAuth client credentials, got %T", authn)
	}
	if creds.ClientID != "my-client" || creds.TokenEndpoint != "https://auth.example.com/oauth/token" {
		t.Errorf("unexpected credentials %+v", creds)
	}
}
