package auth

import (
	"fmt"

	"golang.org/x/oauth2/clientcredentials"
)

// Conf selects how API calls are authenticated. A static Token is sent as
// is; client credentials are exchanged at AuthURL when the API sits behind
// an identity gateway. An empty Conf sends no credentials.
type Conf struct {
	Token        string   `json:"token"`
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret"`
	AuthURL      string   `json:"auth_url"`
	Scopes       []string `json:"scopes"`
}

// Validate rejects mixed or partial credentials.
func (c Conf) Validate() error {
	if c.Token != "" && c.ClientID != "" {
		return fmt.Errorf("auth: token and client credentials are exclusive")
	}
	if c.ClientID != "" && (c.ClientSecret == "" || c.AuthURL == "") {
		return fmt.Errorf("auth: client credentials need client_secret and auth_url")
	}
	return nil
}

func (c Conf) clientCredentials() bool { return c.ClientID != "" }

func (c Conf) toOauth2Config() clientcredentials.Config {
	return clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.AuthURL,
		Scopes:       c.Scopes,
	}
}
