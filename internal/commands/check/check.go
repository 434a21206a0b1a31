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

// Package check implements the check command, which reports how a URL would
// be treated by the blocklist and proxy settings without contacting it.
package check

import (
	"errors"
	"net/url"

	"github.com/spf13/cobra"

	"github.com/tombee/outbound/internal/commands/shared"
	"github.com/tombee/outbound/internal/operation"
	"github.com/tombee/outbound/pkg/httpclient"
	"github.com/tombee/outbound/pkg/security"
)

// Report is the outcome of checking one URL.
type Report struct {
	URL     string `json:"url"`
	Allowed bool   `json:"allowed"`
	Block   string `json:"block,omitempty"`
	Proxy   *Proxy `json:"proxy,omitempty"`
}

// Proxy describes the proxy a call would use. Credentials are never reported.
type Proxy struct {
	Scheme string `json:"scheme"`
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Auth   bool   `json:"auth"`
	Source string `json:"source"`
}

type checkResponse struct {
	shared.JSONResponse
	Report
}

// NewCommand creates the check command.
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check <url>",
		Short: "Show blocklist and proxy decisions for a URL",
		Long: `Check validates a URL against the configured blocklist and reports the
proxy that would be used for it. No connection is made.`,
		Example: `  outbound check https://api.example.com/v1/items
  outbound check --json http://169.254.169.254/latest/meta-data`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0])
		},
	}
}

func run(cmd *cobra.Command, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Hostname() == "" {
		return shared.NewInvalidRequestError("url must be an absolute http:// or https:// URL", err)
	}

	engine, err := shared.NewEngine(shared.EngineOptions{
		ConfigPath: shared.GetConfigPath(),
		Verbose:    shared.GetVerbose(),
		LogOutput:  cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	report, blockErr := Evaluate(engine.Blocklist, engine.Proxy, u)

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		if err := shared.EmitJSON(out, checkResponse{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "check", Success: report.Allowed},
			Report:       report,
		}); err != nil {
			return err
		}
	} else if !shared.GetQuiet() {
		printReport(cmd, report)
	}

	if blockErr != nil {
		return shared.NewCallError(operation.NewSSRFError(u.Hostname(), blockErr))
	}
	return nil
}

// Evaluate applies the blocklist and proxy resolver to u. The returned error
// is the blocklist rejection, if any.
func Evaluate(bl *security.Blocklist, proxy *httpclient.ProxyResolver, u *url.URL) (Report, error) {
	report := Report{URL: httpclient.SanitizeURL(u.String()), Allowed: true}

	if err := bl.Validate(u.String()); err != nil {
		report.Allowed = false
		var blocked *security.BlockedError
		if errors.As(err, &blocked) {
			report.Block = blocked.Block
		}
		return report, err
	}

	if ep, ok := proxy.Resolve(u.Scheme, u.Hostname()); ok {
		report.Proxy = &Proxy{
			Scheme: ep.Scheme,
			Host:   ep.Host,
			Port:   ep.Port,
			Auth:   ep.User != "",
			Source: ep.Source,
		}
	}
	return report, nil
}

func printReport(cmd *cobra.Command, r Report) {
	cmd.Printf("url:     %s\n", r.URL)
	if !r.Allowed {
		if r.Block != "" {
			cmd.Printf("status:  blocked by %q\n", r.Block)
		} else {
			cmd.Println("status:  blocked")
		}
		return
	}
	cmd.Println("status:  allowed")
	if r.Proxy == nil {
		cmd.Println("proxy:   none (direct)")
		return
	}
	cmd.Printf("proxy:   %s://%s:%d (%s)\n", r.Proxy.Scheme, r.Proxy.Host, r.Proxy.Port, r.Proxy.Source)
}
