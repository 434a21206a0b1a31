package auth

import (
	"fmt"
	"strings"
)

// Descriptor is the serializable form of an Authentication, as found in
// request files. Type selects the variant; only that variant's fields are read.
type Descriptor struct {
	Type string `yaml:"type" json:"type"`

	// basic
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`

	// bearer
	Token string `yaml:"token,omitempty" json:"token,omitempty"`

	// api_key
	Name     string `yaml:"name,omitempty" json:"name,omitempty"`
	Value    string `yaml:"value,omitempty" json:"value,omitempty"`
	Location string `yaml:"location,omitempty" json:"location,omitempty"`

	// oauth_client_credentials
	TokenEndpoint        string `yaml:"token_endpoint,omitempty" json:"token_endpoint,omitempty"`
	ClientID             string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret         string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`
	Audience             string `yaml:"audience,omitempty" json:"audience,omitempty"`
	Scopes               string `yaml:"scopes,omitempty" json:"scopes,omitempty"`
	ClientAuthentication string `yaml:"client_authentication,omitempty" json:"client_authentication,omitempty"`
}

// Decode converts the descriptor into its Authentication variant.
// An empty type decodes to NoAuth.
func (d *Descriptor) Decode() (Authentication, error) {
	if d == nil {
		return NoAuth{}, nil
	}

	switch normalizeType(d.Type) {
	case "", TypeNone:
		return NoAuth{}, nil

	case TypeBasic:
		return BasicAuth{Username: d.Username, Password: d.Password}, nil

	case TypeBearer:
		return BearerAuth{Token: d.Token}, nil

	case TypeAPIKey:
		loc, err := parseLocation(d.Location)
		if err != nil {
			return nil, err
		}
		return APIKeyAuth{Name: d.Name, Value: d.Value, Location: loc}, nil

	case TypeOAuthClientCredentials:
		mode, err := parseClientAuthentication(d.ClientAuthentication)
		if err != nil {
			return nil, err
		}
		return OAuthClientCredentials{
			TokenEndpoint:        d.TokenEndpoint,
			ClientID:             d.ClientID,
			ClientSecret:         d.ClientSecret,
			Audience:             d.Audience,
			Scopes:               d.Scopes,
			ClientAuthentication: mode,
		}, nil

	default:
		return nil, fmt.Errorf("unknown authentication type %q", d.Type)
	}
}

func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = strings.ReplaceAll(t, "-", "_")
	switch t {
	case "noauth", "no_auth":
		return TypeNone
	case "apikey":
		return TypeAPIKey
	case "oauth", "oauth2", "oauth2_client_credentials", "oauth_client_credentials_flow", "client_credentials":
		return TypeOAuthClientCredentials
	}
	return t
}

func parseLocation(s string) (APIKeyLocation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "header", "headers":
		return LocationHeader, nil
	case "query", "query_params":
		return LocationQuery, nil
	default:
		return "", fmt.Errorf("unknown api key location %q", s)
	}
}

func parseClientAuthentication(s string) (ClientAuthentication, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "body", "credentials_body", "credentialsbody":
		return ClientAuthBody, nil
	case "basic-header", "basic_header", "basicauthheader", "basic":
		return ClientAuthBasicHeader, nil
	default:
		return "", fmt.Errorf("unknown client authentication %q", s)
	}
}
