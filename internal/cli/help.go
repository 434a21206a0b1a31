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
	"fmt"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tombee/outbound/internal/commands/shared"
)

// CommandInfo describes a command for machine-readable help.
type CommandInfo struct {
	Name     string     `json:"name"`
	Short    string     `json:"short"`
	Usage    string     `json:"usage"`
	Examples string     `json:"examples,omitempty"`
	Flags    []FlagInfo `json:"flags,omitempty"`
}

// FlagInfo describes one flag.
type FlagInfo struct {
	Name      string `json:"name"`
	Shorthand string `json:"shorthand,omitempty"`
	Type      string `json:"type"`
	Usage     string `json:"usage"`
	Default   string `json:"default,omitempty"`
}

type helpResponse struct {
	shared.JSONResponse
	Commands    []CommandInfo `json:"commands"`
	GlobalFlags []FlagInfo    `json:"global_flags"`
}

// NewHelpCommand replaces cobra's help command so that --json emits the
// command tree as JSON. Install it with root.SetHelpCommand.
func NewHelpCommand(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		RunE: func(cmd *cobra.Command, args []string) error {
			target := root
			if len(args) > 0 {
				found, _, err := root.Find(args)
				if err != nil || found == root {
					return shared.NewInvalidRequestError(fmt.Sprintf("unknown command %q", args[0]), nil)
				}
				target = found
			}

			if !shared.GetJSON() {
				return target.Help()
			}

			commands := []CommandInfo{describeCommand(target)}
			if target == root {
				commands = commands[:0]
				for _, c := range root.Commands() {
					if c.IsAvailableCommand() {
						commands = append(commands, describeCommand(c))
					}
				}
			}

			return shared.EmitJSON(cmd.OutOrStdout(), helpResponse{
				JSONResponse: shared.JSONResponse{Version: "1.0", Command: "help", Success: true},
				Commands:     commands,
				GlobalFlags:  describeFlags(root.PersistentFlags()),
			})
		},
	}
}

func describeCommand(c *cobra.Command) CommandInfo {
	return CommandInfo{
		Name:     c.Name(),
		Short:    c.Short,
		Usage:    c.UseLine(),
		Examples: c.Example,
		Flags:    describeFlags(c.LocalNonPersistentFlags()),
	}
}

func describeFlags(fs *pflag.FlagSet) []FlagInfo {
	var flags []FlagInfo
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		flags = append(flags, FlagInfo{
			Name:      f.Name,
			Shorthand: f.Shorthand,
			Type:      f.Value.Type(),
			Usage:     f.Usage,
			Default:   f.DefValue,
		})
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })
	return flags
}
