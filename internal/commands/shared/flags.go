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

package shared

// Persistent flags shared by exec, check and version. The root command binds
// them; NewEngine reads verbose and config when it builds the engine.
var (
	verboseFlag bool
	quietFlag   bool
	jsonFlag    bool
	configFlag  string

	// Set by main from linker flags.
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns the flag targets in the order verbose, quiet,
// json, config.
func RegisterFlagPointers() (*bool, *bool, *bool, *string) {
	return &verboseFlag, &quietFlag, &jsonFlag, &configFlag
}

// SetVersion records the build stamp. The version also becomes the
// service.version of exported spans.
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns version, commit and build date.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetVerbose reports whether the engine logs at debug level.
func GetVerbose() bool {
	return verboseFlag
}

// GetQuiet reports whether a successful call prints nothing.
func GetQuiet() bool {
	return quietFlag
}

// GetJSON reports whether results and errors use the JSON envelope.
func GetJSON() bool {
	return jsonFlag
}

// GetConfigPath returns the --config value. Empty means OUTBOUND_CONFIG, then
// the XDG default.
func GetConfigPath() string {
	return configFlag
}

// ResetFlagsForTest clears the flags between command runs in one test binary.
func ResetFlagsForTest() {
	verboseFlag = false
	quietFlag = false
	jsonFlag = false
	configFlag = ""
}
