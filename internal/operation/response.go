package operation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

// maxDetailBytes bounds the body snippet carried in upstream error details.
const maxDetailBytes = 512

// detailFields are the body fields consulted, in order, for an upstream
// error detail.
var detailFields = []string{"message", "error_description", "error", "detail"}

// Result is the normalized outcome of an outbound call.
type Result struct {
	// Status is the HTTP status code.
	Status int `json:"status" yaml:"status"`

	// Headers holds a string for single-valued headers and a []string for
	// repeated ones.
	Headers map[string]any `json:"headers" yaml:"headers"`

	// Body is the parsed JSON value if the payload is valid JSON, the raw
	// string otherwise, or nil when the response had no body.
	Body any `json:"body" yaml:"body"`

	// Reason is the status text for redirects and errors. Empty otherwise.
	Reason string `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// MarshalJSON encodes an empty Reason as null.
func (r *Result) MarshalJSON() ([]byte, error) {
	type wire struct {
		Status  int            `json:"status"`
		Headers map[string]any `json:"headers"`
		Body    any            `json:"body"`
		Reason  *string        `json:"reason"`
	}
	w := wire{Status: r.Status, Headers: r.Headers, Body: r.Body}
	if r.Reason != "" {
		w.Reason = &r.Reason
	}
	return json.Marshal(w)
}

// Normalize reads resp fully, closes its body and converts it into a Result.
// A status >= 400 yields an upstream *Error carrying the Result. A failure
// while reading the body is a transport error.
func Normalize(resp *http.Response) (*Result, error) {
	defer resp.Body.Close()

	host := ""
	if resp.Request != nil && resp.Request.URL != nil {
		host = resp.Request.URL.Hostname()
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, NewTransportError(host, fmt.Errorf("reading response body: %w", err))
	}

	result := &Result{
		Status:  resp.StatusCode,
		Headers: flattenHeaders(resp.Header),
		Body:    parseBody(raw),
	}

	if resp.StatusCode >= 300 {
		result.Reason = reasonPhrase(resp)
	}

	if resp.StatusCode >= 400 {
		return nil, NewUpstreamError(result, host, errorDetail(result.Body, raw, result.Reason))
	}
	return result, nil
}

func parseBody(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	if json.Valid(raw) {
		// Numbers stay json.Number so large integer ids survive re-encoding.
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		var v any
		if err := dec.Decode(&v); err == nil {
			return v
		}
	}
	return string(raw)
}

func flattenHeaders(h http.Header) map[string]any {
	out := make(map[string]any, len(h))
	for k, vals := range h {
		switch len(vals) {
		case 0:
			continue
		case 1:
			out[k] = vals[0]
		default:
			out[k] = append([]string(nil), vals...)
		}
	}
	return out
}

// reasonPhrase returns the status text from the status line, or the
// standard text for the code. resp.Status may or may not start with the code.
func reasonPhrase(resp *http.Response) string {
	text := strings.TrimSpace(resp.Status)
	text = strings.TrimSpace(strings.TrimPrefix(text, strconv.Itoa(resp.StatusCode)))
	if text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

// errorDetail explains an upstream failure: a well-known message field
// from a JSON body, else a body snippet, else the reason phrase.
func errorDetail(body any, raw []byte, reason string) string {
	if obj, ok := body.(map[string]any); ok {
		for _, field := range detailFields {
			switch v := obj[field].(type) {
			case string:
				if v != "" {
					return v
				}
			case map[string]any:
				if msg, ok := v["message"].(string); ok && msg != "" {
					return msg
				}
			}
		}
	}

	if snippet := strings.TrimSpace(string(raw)); snippet != "" {
		return truncate(snippet, maxDetailBytes)
	}
	return reason
}

// truncate shortens s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
