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

/*
Package cli provides the root command and shared configuration for the outbound CLI.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	outbound
	├── exec      Execute a request description
	├── check     Show blocklist and proxy decisions for a URL
	├── version   Show version
	└── help      Show help

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(exec.NewCommand())
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Enable debug logging
	--quiet, -q      Suppress non-error output
	--json           Output in JSON format
	--config         Path to config file

# Exit Codes

  - 0: Success
  - 1: General error
  - 2: Invalid request
  - 3: Blocked by the SSRF blocklist
  - 4: Authentication failed
  - 5: Upstream returned an error status
  - 6: Timeout, connection failure or rate limit
  - 78: Invalid configuration
*/
package cli
