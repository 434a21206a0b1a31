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

// Package exec implements the exec command, which performs one outbound call
// from a YAML or JSON request description.
package exec

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/outbound/internal/commands/shared"
	"github.com/tombee/outbound/internal/operation"
)

type options struct {
	file    string
	url     string
	method  string
	headers []string
}

type execResponse struct {
	shared.JSONResponse
	Result *operation.Result  `json:"result,omitempty"`
	Errors []shared.JSONError `json:"errors,omitempty"`
}

// NewCommand creates the exec command.
func NewCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "exec",
		Short: "Execute an outbound HTTP request",
		Long: `Execute reads a request description and performs the call through the
configured pool, blocklist, proxy and authentication settings.

The description is YAML (or JSON):

  method: POST
  url: https://api.example.com/v1/items
  headers:
    Accept: application/json
  body:
    name: widget
  connect_timeout: 5
  read_timeout: 20
  authentication:
    type: oauth2_client_credentials
    token_endpoint: https://auth.example.com/oauth/token
    client_id: my-client
    client_secret: s3cret

The normalized result (status, headers, body, reason) is printed as JSON.`,
		Example: `  outbound exec -f request.yaml
  cat request.json | outbound exec -f -
  outbound exec --url https://api.example.com/health`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.file, "file", "f", "", "Request description file, or - for stdin")
	cmd.Flags().StringVar(&opts.url, "url", "", "Target URL (overrides the file)")
	cmd.Flags().StringVarP(&opts.method, "method", "X", "", "HTTP method (overrides the file)")
	cmd.Flags().StringArrayVarP(&opts.headers, "header", "H", nil, "Extra header as 'Name: value' (repeatable)")

	return cmd
}

func run(cmd *cobra.Command, opts *options) error {
	req, err := loadRequest(cmd.InOrStdin(), opts)
	if err != nil {
		return err
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

	result, callErr := engine.Executor.Execute(cmd.Context(), req)

	// Upstream failures still carry the normalized response.
	if result == nil {
		var opErr *operation.Error
		if errors.As(callErr, &opErr) {
			result = opErr.Result
		}
	}

	out := cmd.OutOrStdout()
	if shared.GetJSON() {
		resp := execResponse{
			JSONResponse: shared.JSONResponse{
				Version: "1.0",
				Command: "exec",
				Success: callErr == nil,
			},
			Result: result,
		}
		if callErr != nil {
			resp.Errors = []shared.JSONError{shared.NewJSONError(callErr)}
		}
		if err := shared.EmitJSON(out, resp); err != nil {
			return err
		}
	} else if result != nil && !shared.GetQuiet() {
		if err := shared.EmitJSON(out, result); err != nil {
			return err
		}
	}

	if callErr != nil {
		return shared.NewCallError(callErr)
	}
	return nil
}

// loadRequest reads the description and applies flag overrides.
func loadRequest(stdin io.Reader, opts *options) (*operation.Request, error) {
	req := &operation.Request{}

	if opts.file != "" {
		data, err := readSource(stdin, opts.file)
		if err != nil {
			return nil, shared.NewInvalidRequestError("failed to read request", err)
		}
		if err := yaml.Unmarshal(data, req); err != nil {
			return nil, shared.NewInvalidRequestError("failed to parse request", err)
		}
	}

	if opts.url != "" {
		req.URL = opts.url
	}
	if opts.method != "" {
		req.Method = opts.method
	}

	for _, h := range opts.headers {
		name, value, ok := strings.Cut(h, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, shared.NewInvalidRequestError(fmt.Sprintf("invalid header %q, expected 'Name: value'", h), nil)
		}
		if req.Headers == nil {
			req.Headers = make(map[string]string)
		}
		req.Headers[name] = strings.TrimSpace(value)
	}

	if req.URL == "" {
		return nil, shared.NewInvalidRequestError("no url given, use --file or --url", nil)
	}
	return req, nil
}

func readSource(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}
