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

package cli

import (
	"github.com/spf13/cobra"

	"github.com/tombee/outbound/internal/commands/shared"
)

// SetVersion records the build stamp reported by 'outbound version' and
// sent in the tracing resource.
func SetVersion(v, c, b string) {
	shared.SetVersion(v, c, b)
}

// NewRootCommand builds the 'outbound' command. Subcommands are added by
// main; each one builds its own engine from --config.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbound",
		Short: "outbound - guarded outbound HTTP calls",
		Long: `outbound executes HTTP requests described in YAML or JSON through a
shared connection pool, with SSRF blocking, proxy routing, per-call
timeouts and OAuth2 client-credentials token caching.

Run 'outbound exec -f request.yaml' to perform a call.
Run 'outbound check <url>' to see how a URL would be routed.`,
		// Call failures map to exit codes in HandleExitError, not usage text.
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	verbose, quiet, json, config := shared.RegisterFlagPointers()

	cmd.PersistentFlags().BoolVarP(verbose, "verbose", "v", false, "Log proxy decisions, token fetches and each call at debug level")
	cmd.PersistentFlags().BoolVarP(quiet, "quiet", "q", false, "Print nothing on success")
	cmd.PersistentFlags().BoolVar(json, "json", false, "Print results and errors as a JSON envelope")
	cmd.PersistentFlags().StringVar(config, "config", "", "Engine config file: pool, blocklist, oauth, rate_limit, tracing (default: ~/.config/outbound/config.yaml)")

	return cmd
}

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return shared.GetVersion()
}

// HandleExitError prints err and exits with the code for its category
// (blocked 3, auth 4, upstream 5, transport 6, config 78).
func HandleExitError(err error) {
	shared.HandleExitError(err)
}
