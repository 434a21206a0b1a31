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

import (
	"encoding/json"
	"io"

	pkgerrors "github.com/tombee/outbound/pkg/errors"
)

// JSONResponse is the base envelope for all JSON output
type JSONResponse struct {
	Version string `json:"@version"`
	Command string `json:"command"`
	Success bool   `json:"success"`
}

// JSONError is a structured error with its classification and suggestion.
type JSONError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
	Suggestion string `json:"suggestion,omitempty"`
}

// NewJSONError describes err for JSON output.
func NewJSONError(err error) JSONError {
	code, retryable := pkgerrors.Classify(err)
	msg, suggestion := pkgerrors.Describe(err)
	return JSONError{
		Code:       code,
		Message:    msg,
		Retryable:  retryable,
		Suggestion: suggestion,
	}
}

// EmitJSON writes response as indented JSON.
func EmitJSON(w io.Writer, response any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.SetEscapeHTML(false)
	return encoder.Encode(response)
}

// EmitJSONError writes a failed-command envelope.
func EmitJSONError(w io.Writer, command string, errs ...JSONError) error {
	type errorResponse struct {
		JSONResponse
		Errors []JSONError `json:"errors"`
	}

	return EmitJSON(w, errorResponse{
		JSONResponse: JSONResponse{
			Version: "1.0",
			Command: command,
			Success: false,
		},
		Errors: errs,
	})
}
