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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/tombee/outbound/internal/operation"
)

func TestEmitJSON(t *testing.T) {
	var buf bytes.Buffer
	resp := JSONResponse{Version: "1.0", Command: "exec", Success: true}

	if err := EmitJSON(&buf, resp); err != nil {
		t.Fatalf("EmitJSON failed: %v", err)
	}

	var parsed map[string]any
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if parsed["@version"] != "1.0" || parsed["command"] != "exec" || parsed["success"] != true {
		t.Errorf("unexpected envelope: %v", parsed)
	}
	if !strings.Contains(buf.String(), "\n  \"command\"") {
		t.Errorf("expected indented output, got: %s", buf.String())
	}
}

func TestEmitJSON_NoHTMLEscaping(t *testing.T) {
	var buf bytes.Buffer
	if err := EmitJSON(&buf, map[string]string{"url": "https://example.com/?a=1&b=<2>"}); err != nil {
		t.Fatalf("EmitJSON failed: %v", err)
	}
	if !strings.Contains(buf.String(), "a=1&b=<2>") {
		t.Errorf("expected unescaped URL, got: %s", buf.String())
	}
}

func TestNewJSONError(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCode      string
		wantRetryable bool
		wantHint      bool
	}{
		{
			name:     "blocked call",
			err:      operation.NewSSRFError("169.254.169.254", nil),
			wantCode: "ssrf_blocked",
			wantHint: true,
		},
		{
			name:          "timeout",
			err:           &operation.Error{Type: operation.ErrorTypeTimeout, Message: "read timeout"},
			wantCode:      "timeout",
			wantRetryable: true,
		},
		{
			name:     "unclassified",
			err:      errors.New("boom"),
			wantCode: "internal",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NewJSONError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Retryable != tt.wantRetryable {
				t.Errorf("retryable = %v, want %v", got.Retryable, tt.wantRetryable)
			}
			if (got.Suggestion != "") != tt.wantHint {
				t.Errorf("suggestion = %q, want present=%v", got.Suggestion, tt.wantHint)
			}
			if got.Message == "" {
				t.Error("expected a message")
			}
		})
	}
}

func TestEmitJSONError(t *testing.T) {
	var buf bytes.Buffer
	err := EmitJSONError(&buf, "exec", NewJSONError(operation.NewInvalidRequestError("url is required", nil)))
	if err != nil {
		t.Fatalf("EmitJSONError failed: %v", err)
	}

	var parsed struct {
		Command string      `json:"command"`
		Success bool        `json:"success"`
		Errors  []JSONError `json:"errors"`
	}
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if parsed.Command != "exec" || parsed.Success {
		t.Errorf("unexpected envelope: %+v", parsed)
	}
	if len(parsed.Errors) != 1 || parsed.Errors[0].Code != "invalid_request" {
		t.Errorf("unexpected errors: %+v", parsed.Errors)
	}
}
