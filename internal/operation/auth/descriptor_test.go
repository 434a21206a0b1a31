package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDescriptor_Decode(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		want    Authentication
		wantErr string
	}{
		{
			name: "empty is none",
			yaml: "{}",
			want: NoAuth{},
		},
		{
			name: "basic",
			yaml: "type: basic\nusername: u\npassword: p",
			want: BasicAuth{Username: "u", Password: "p"},
		},
		{
			name: "bearer",
			yaml: "type: bearer\ntoken: t",
			want: BearerAuth{Token: "t"},
		},
		{
			name: "api key query",
			yaml: "type: apiKey\nname: key\nvalue: v\nlocation: query",
			want: APIKeyAuth{Name: "key", Value: "v", Location: LocationQuery},
		},
		{
			name: "oauth with basic header",
			yaml: `
type: oauth-client-credentials
token_endpoint: https://auth.example.com/token
client_id: id
client_secret: secret
audience: https://api.example.com
scopes: read write
client_authentication: basic-header`,
			want: OAuthClientCredentials{
				TokenEndpoint:        "https://auth.example.com/token",
				ClientID:             "id",
				ClientSecret:         "secret",
				Audience:             "https://api.example.com",
				Scopes:               "read write",
				ClientAuthentication: ClientAuthBasicHeader,
			},
		},
		{
			name: "oauth defaults to body",
			yaml: "type: oauth\ntoken_endpoint: https://auth.example.com/token\nclient_id: id\nclient_secret: s",
			want: OAuthClientCredentials{
				TokenEndpoint:        "https://auth.example.com/token",
				ClientID:             "id",
				ClientSecret:         "s",
				ClientAuthentication: ClientAuthBody,
			},
		},
		{
			name: "oauth2 client credentials alias",
			yaml: `
type: oauth2_client_credentials
token_endpoint: https://auth.example.com/oauth/token
client_id: my-client
client_secret: s3cret`,
			want: OAuthClientCredentials{
				TokenEndpoint:        "https://auth.example.com/oauth/token",
				ClientID:             "my-client",
				ClientSecret:         "s3cret",
				ClientAuthentication: ClientAuthBody,
			},
		},
		{
			name:    "unknown type",
			yaml:    "type: kerberos",
			wantErr: "unknown authentication type",
		},
		{
			name:    "unknown location",
			yaml:    "type: api_key\nname: k\nlocation: cookie",
			wantErr: "unknown api key location",
		},
		{
			name:    "unknown client authentication",
			yaml:    "type: oauth\nclient_authentication: jwt",
			wantErr: "unknown client authentication",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Descriptor
			require.NoError(t, yaml.Unmarshal([]byte(tt.yaml), &d))

			got, err := d.Decode()
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescriptor_DecodeNil(t *testing.T) {
	var d *Descriptor
	got, err := d.Decode()
	require.NoError(t, err)
	assert.Equal(t, NoAuth{}, got)
}
