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

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/tombee/outbound/internal/cli"
	"github.com/tombee/outbound/internal/commands/check"
	"github.com/tombee/outbound/internal/commands/exec"
	versioncmd "github.com/tombee/outbound/internal/commands/version"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()
	rootCmd.AddCommand(exec.NewCommand())
	rootCmd.AddCommand(check.NewCommand())
	rootCmd.AddCommand(versioncmd.NewVersionCommand())
	rootCmd.SetHelpCommand(cli.NewHelpCommand(rootCmd))

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		cli.HandleExitError(err)
	}
}
