package operation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readBody(t *testing.T, req *http.Request) string {
	t.Helper()
	if req.Body == nil {
		return ""
	}
	data, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	return string(data)
}

func TestMethod_SupportsBody(t *testing.T) {
	assert.True(t, MethodPost.SupportsBody())
	assert.True(t, MethodPut.SupportsBody())
	assert.True(t, MethodPatch.SupportsBody())
	assert.False(t, MethodGet.SupportsBody())
	assert.False(t, MethodDelete.SupportsBody())
}

func TestParseMethod(t *testing.T) {
	m, err := ParseMethod("post")
	require.NoError(t, err)
	assert.Equal(t, MethodPost, m)

	m, err = ParseMethod("")
	require.NoError(t, err)
	assert.Equal(t, MethodGet, m)

	_, err = ParseMethod("TRACE")
	assert.Error(t, err)
}

func TestBuild_JSONObjectBody(t *testing.T) {
	body := map[string]any{
		"name":  "order <1>",
		"items": []any{"a", "b"},
		"total": 12.5,
	}

	req, err := Build(context.Background(), &Request{
		Method: "POST",
		URL:    "https://api.example.com/orders",
		Body:   body,
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, ContentTypeJSON, req.Header.Get("Content-Type"))

	got := readBody(t, req)
	assert.Equal(t, `{"items":["a","b"],"name":"order <1>","total":12.5}`, got)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(got), &decoded))
	assert.Equal(t, body, decoded)
}

func TestBuild_Bodies(t *testing.T) {
	tests := []struct {
		name        string
		method      string
		headers     map[string]string
		body        any
		ignoreNulls bool
		wantBody    string
		wantType    string
	}{
		{
			name:     "json string passes through",
			method:   "POST",
			body:     `{"a":"é"}`,
			wantBody: `{"a":"é"}`,
			wantType: ContentTypeJSON,
		},
		{
			name:     "plain string is text",
			method:   "PUT",
			body:     "hello world",
			wantBody: "hello world",
			wantType: ContentTypeText,
		},
		{
			name:     "explicit content type is kept",
			method:   "POST",
			headers:  map[string]string{"Content-Type": "application/xml"},
			body:     "<a/>",
			wantBody: "<a/>",
			wantType: "application/xml",
		},
		{
			name:     "form map",
			method:   "POST",
			headers:  map[string]string{"content-type": "application/x-www-form-urlencoded"},
			body:     map[string]any{"b": "two words", "a": 1, "skip": nil},
			wantBody: "a=1&b=two+words",
			wantType: ContentTypeForm,
		},
		{
			name:     "form with charset",
			method:   "PATCH",
			headers:  map[string]string{"Content-Type": "application/x-www-form-urlencoded; charset=UTF-8"},
			body:     map[string]string{"k": "v&w"},
			wantBody: "k=v%26w",
			wantType: "application/x-www-form-urlencoded; charset=UTF-8",
		},
		{
			name:        "null values dropped",
			method:      "POST",
			body:        map[string]any{"a": nil, "b": map[string]any{"c": nil, "d": 1}},
			ignoreNulls: true,
			wantBody:    `{"b":{"d":1}}`,
			wantType:    ContentTypeJSON,
		},
		{
			name:     "null values kept by default",
			method:   "POST",
			body:     map[string]any{"a": nil},
			wantBody: `{"a":null}`,
			wantType: ContentTypeJSON,
		},
		{
			name:     "no body still defaults content type",
			method:   "POST",
			wantBody: "",
			wantType: ContentTypeJSON,
		},
		{
			name:     "body ignored for GET",
			method:   "GET",
			body:     map[string]any{"a": 1},
			wantBody: "",
			wantType: "",
		},
		{
			name:     "body ignored for DELETE",
			method:   "DELETE",
			body:     "x",
			wantBody: "",
			wantType: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Build(context.Background(), &Request{
				Method:           tt.method,
				URL:              "https://api.example.com/x",
				Headers:          tt.headers,
				Body:             tt.body,
				IgnoreNullValues: tt.ignoreNulls,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.wantBody, readBody(t, req))
			assert.Equal(t, tt.wantType, req.Header.Get("Content-Type"))
		})
	}
}

func TestBuild_FormBodyRejectsUnsupportedType(t *testing.T) {
	_, err := Build(context.Background(), &Request{
		Method:  "POST",
		URL:     "https://api.example.com/x",
		Headers: map[string]string{"Content-Type": ContentTypeForm},
		Body:    []any{1, 2},
	})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeInvalidRequest, typeOf(err))
}

func TestBuild_URL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		query   map[string]string
		want    string
		wantErr string
	}{
		{name: "plain", url: "https://api.example.com/v1", want: "https://api.example.com/v1"},
		{name: "trimmed", url: "  http://api.example.com  ", want: "http://api.example.com"},
		{
			name:  "query appended",
			url:   "https://api.example.com/search?q=a",
			query: map[string]string{"page": "2", "sort": "name asc"},
			want:  "https://api.example.com/search?page=2&q=a&sort=name+asc",
		},
		{name: "empty", url: "", wantErr: "url is required"},
		{name: "ftp", url: "ftp://files.example.com", wantErr: "must start with http:// or https://"},
		{name: "relative", url: "/v1/orders", wantErr: "must start with http:// or https://"},
		{name: "expression", url: "=baseUrl + \"/orders\"", wantErr: "unresolved expression"},
		{name: "template", url: "{{secrets.BASE_URL}}/orders", wantErr: "unresolved expression"},
		{name: "secret", url: "secrets.BASE_URL", wantErr: "unresolved expression"},
		{name: "no host", url: "http:///path", wantErr: "no host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := Build(context.Background(), &Request{URL: tt.url, Query: tt.query})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Equal(t, ErrorTypeInvalidRequest, typeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, req.URL.String())
		})
	}
}

func TestBuild_Headers(t *testing.T) {
	req, err := Build(context.Background(), &Request{
		Method: "GET",
		URL:    "https://api.example.com",
		Headers: map[string]string{
			"X-Custom":    "value",
			"Bad Header":  "value",
			"X-Injection": "a\r\nX-Evil: 1",
			"accept":      "application/json",
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "value", req.Header.Get("X-Custom"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Empty(t, req.Header.Get("X-Injection"))
	assert.Empty(t, req.Header.Get("X-Evil"))
	assert.Len(t, req.Header, 2)
}

func TestBuild_InvalidMethod(t *testing.T) {
	_, err := Build(context.Background(), &Request{Method: "CONNECT", URL: "https://a.example.com"})
	require.Error(t, err)
	assert.Equal(t, ErrorTypeInvalidRequest, typeOf(err))

	_, err = Build(context.Background(), nil)
	require.Error(t, err)
}

func TestRequest_Timeouts(t *testing.T) {
	five, zero := 5, 0

	r := &Request{}
	assert.Equal(t, 20, int(r.Timeouts().Connect.Seconds()))
	assert.Equal(t, 20, int(r.Timeouts().Read.Seconds()))

	r = &Request{ConnectTimeout: &five}
	assert.Equal(t, 5, int(r.Timeouts().Read.Seconds()))

	r = &Request{ConnectTimeout: &five, ReadTimeout: &zero}
	assert.Zero(t, r.Timeouts().Read)
}

func TestEncodeForm_Values(t *testing.T) {
	payload, err := encodeForm(url.Values{"a": {"1", "2"}})
	require.NoError(t, err)
	assert.Equal(t, "a=1&a=2", string(payload))

	payload, err = encodeForm(map[string]any{"list": []any{"x", 2}})
	require.NoError(t, err)
	assert.Equal(t, "list=x&list=2", string(payload))
}
