// Package auth authenticates outbound calls to the coordinator API.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// ClientCred caches the access token described by a Conf.
type ClientCred struct {
	mu  sync.Mutex
	src oauth2.TokenSource
}

// NewClientCred returns a ClientCred for conf. It returns nil when conf
// carries no credentials.
func NewClientCred(conf Conf) *ClientCred {
	switch {
	case conf.clientCredentials():
		cc := conf.toOauth2Config()
		return &ClientCred{src: cc.TokenSource(context.Background())}
	case conf.Token != "":
		return &ClientCred{src: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: conf.Token, TokenType: "Bearer"})}
	default:
		return nil
	}
}

// GetToken returns a valid access token, fetching a new one when the cached
// token expired.
func (c *ClientCred) GetToken() (string, error) {
	tok, err := c.token()
	if err != nil {
		return "", err
	}
	return tok.AccessToken, nil
}

func (c *ClientCred) token() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tok, err := c.src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return tok, nil
}

// SetAuthHeader sets the Authorization header of r.
func (c *ClientCred) SetAuthHeader(r *http.Request) error {
	tok, err := c.token()
	if err != nil {
		return err
	}
	tok.SetAuthHeader(r)
	return nil
}

// Token implements oauth2.TokenSource.
func (c *ClientCred) Token() (*oauth2.Token, error) { return c.token() }

// NewHTTPClient returns a client that authenticates every request according
// to conf.
func NewHTTPClient(conf Conf, timeout time.Duration) (*http.Client, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	cli := &http.Client{Timeout: timeout}
	if cred := NewClientCred(conf); cred != nil {
		cli.Transport = &oauth2.Transport{Source: cred, Base: http.DefaultTransport}
	}
	return cli, nil
}
