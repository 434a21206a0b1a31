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
	"testing"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "outbound" {
		t.Errorf("expected use 'outbound', got %q", cmd.Use)
	}

	if cmd.Short == "" {
		t.Error("expected short description to be set")
	}

	if !cmd.SilenceErrors || !cmd.SilenceUsage {
		t.Error("expected errors and usage to be silenced")
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"verbose", "quiet", "json", "config"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("%s flag not registered", name)
		}
	}

	if f := cmd.PersistentFlags().ShorthandLookup("v"); f == nil || f.Name != "verbose" {
		t.Error("expected -v to map to --verbose")
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2026-01-15")
	defer SetVersion("dev", "unknown", "unknown")

	v, c, b := GetVersion()
	if v != "1.2.3" {
		t.Errorf("expected version '1.2.3', got %q", v)
	}
	if c != "abc123" {
		t.Errorf("expected commit 'abc123', got %q", c)
	}
	if b != "2026-01-15" {
		t.Errorf("expected build date '2026-01-15', got %q", b)
	}
}
