package operation

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResponse(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	req, _ := http.NewRequest(http.MethodGet, "https://api.example.com/orders/1", nil)
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestNormalize_JSONBody(t *testing.T) {
	resp := newResponse(200, `{"order":{"status":"processing"}}`, http.Header{"Content-Type": {"application/json"}})

	result, err := Normalize(resp)
	require.NoError(t, err)

	assert.Equal(t, 200, result.Status)
	assert.Equal(t, map[string]any{"order": map[string]any{"status": "processing"}}, result.Body)
	assert.Equal(t, "application/json", result.Headers["Content-Type"])
	assert.Empty(t, result.Reason)
}

func TestNormalize_Bodies(t *testing.T) {
	tests := []struct {
		name string
		body string
		want any
	}{
		{"empty", "", nil},
		{"text", "plain text", "plain text"},
		{"array", `[1,2]`, []any{json.Number("1"), json.Number("2")}},
		{"number", `42`, json.Number("42")},
		{"broken json", `{"a":`, `{"a":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Normalize(newResponse(200, tt.body, nil))
			require.NoError(t, err)
			assert.Equal(t, tt.want, result.Body)
		})
	}
}

func TestNormalize_RepeatedHeaders(t *testing.T) {
	header := http.Header{
		"Set-Cookie": {"a=1", "b=2"},
		"X-One":      {"1"},
	}
	result, err := Normalize(newResponse(204, "", header))
	require.NoError(t, err)

	assert.Equal(t, []string{"a=1", "b=2"}, result.Headers["Set-Cookie"])
	assert.Equal(t, "1", result.Headers["X-One"])
	assert.Nil(t, result.Body)
}

func TestNormalize_RedirectIsResult(t *testing.T) {
	header := http.Header{"Location": {"https://elsewhere.example.com"}}
	result, err := Normalize(newResponse(302, "", header))
	require.NoError(t, err)

	assert.Equal(t, 302, result.Status)
	assert.Equal(t, "Found", result.Reason)
	assert.Equal(t, "https://elsewhere.example.com", result.Headers["Location"])
}

func TestNormalize_LargeIntegersPreserved(t *testing.T) {
	body := `{"id":12345678901234567891,"price":19.99}`
	result, err := Normalize(newResponse(200, body, nil))
	require.NoError(t, err)

	obj, ok := result.Body.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, json.Number("12345678901234567891"), obj["id"])

	data, err := json.Marshal(result.Body)
	require.NoError(t, err)
	assert.JSONEq(t, body, string(data))
	assert.Contains(t, string(data), "12345678901234567891")
}

func TestNormalize_ReasonPhrase(t *testing.T) {
	tests := []struct {
		name   string
		status int
		line   string
		want   string
	}{
		{"status line with code", 404, "404 Not Found", "Not Found"},
		{"text only", 404, "Not Found", "Not Found"},
		{"custom text", 503, "503 Back Soon", "Back Soon"},
		{"multi word text only", 500, "Internal Server Error", "Internal Server Error"},
		{"empty falls back", 418, "", "I'm a teapot"},
		{"code only falls back", 500, "500", "Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := newResponse(tt.status, "", nil)
			resp.Status = tt.line
			_, err := Normalize(resp)
			require.Error(t, err)

			var opErr *Error
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, tt.want, opErr.Result.Reason)
		})
	}
}

func TestNormalize_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"not found without body", 404, "", "Not Found"},
		{"message field", 400, `{"message":"name is required"}`, "name is required"},
		{"oauth error description", 401, `{"error":"invalid_token","error_description":"expired"}`, "expired"},
		{"nested error", 422, `{"error":{"message":"bad field","code":7}}`, "bad field"},
		{"detail field", 409, `{"detail":"conflict on id"}`, "conflict on id"},
		{"text body", 500, "upstream exploded", "upstream exploded"},
		{"json without known field", 503, `{"retry":true}`, `{"retry":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Normalize(newResponse(tt.status, tt.body, nil))
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, IsUpstreamError(err))

			var opErr *Error
			require.True(t, errors.As(err, &opErr))
			assert.Equal(t, tt.status, opErr.StatusCode)
			assert.Equal(t, tt.wantDetail, opErr.Detail)
			assert.Equal(t, "api.example.com", opErr.Host)
			require.NotNil(t, opErr.Result)
			assert.Equal(t, tt.status, opErr.Result.Status)
		})
	}
}

func TestNormalize_LongBodySnippet(t *testing.T) {
	body := strings.Repeat("é", 400)
	_, err := Normalize(newResponse(502, body, nil))

	var opErr *Error
	require.True(t, errors.As(err, &opErr))
	assert.LessOrEqual(t, len(opErr.Detail), maxDetailBytes+len("..."))
	assert.True(t, strings.HasSuffix(opErr.Detail, "..."))
	assert.True(t, strings.HasPrefix(body, strings.TrimSuffix(opErr.Detail, "...")))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestNormalize_BodyReadFailure(t *testing.T) {
	resp := newResponse(200, "", nil)
	resp.Body = io.NopCloser(failingReader{})

	_, err := Normalize(resp)
	require.Error(t, err)
	assert.True(t, IsTransportError(err))
	assert.Equal(t, ErrorTypeConnection, typeOf(err))
}

func TestResult_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(&Result{Status: 200, Headers: map[string]any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":200,"headers":{},"body":null,"reason":null}`, string(data))

	data, err = json.Marshal(&Result{Status: 301, Headers: map[string]any{}, Body: "x", Reason: "Moved Permanently"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":301,"headers":{},"body":"x","reason":"Moved Permanently"}`, string(data))
}
