// Package credentials obtains the short-lived access credentials required by
// the catalog APIs. Two strategies are provided: an OAuth client-credentials
// exchange (Spotify) and a locally signed ES256 developer token (Apple Music).
// Both return *oauth2.Token values so they can be wrapped by Cache, which
// reuses a credential until shortly before it expires.
//
// Every failure is reported as a *music.AuthenticationError.
package credentials

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"

	libspotify "github.com/zmb3/spotify"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/dcschmid/music-search/pkg/metrics"
	"github.com/dcschmid/music-search/pkg/music"
)

// ClientCredentials exchanges a client ID and secret for an application
// token using the OAuth client_credentials grant. The credentials are sent
// with HTTP Basic authentication. TokenURL defaults to the Spotify accounts
// endpoint and HTTP to the oauth2 package default client.
type ClientCredentials struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTP         *http.Client
	Platform     music.Platform
}

var _ music.TokenSource = (*ClientCredentials)(nil)

func (c *ClientCredentials) platform() music.Platform {
	if c.Platform == "" {
		return music.Spotify
	}
	return c.Platform
}

// Identity names the configured client: platform, client ID and a digest of
// the secret and token endpoint. Missing credentials fail as in Token.
func (c *ClientCredentials) Identity(context.Context) (string, error) {
	p := c.platform()
	if c.ClientID == "" || c.ClientSecret == "" {
		return "", &music.AuthenticationError{Platform: p, Err: music.ErrMissingCredentials}
	}
	sum := sha256.Sum256([]byte(c.ClientID + "\x00" + c.ClientSecret + "\x00" + c.TokenURL))
	return string(p) + ":" + c.ClientID + ":" + hex.EncodeToString(sum[:8]), nil
}

// Token performs a single token endpoint call. It never caches.
func (c *ClientCredentials) Token(ctx context.Context) (*oauth2.Token, error) {
	p := c.platform()
	if c.ClientID == "" || c.ClientSecret == "" {
		return nil, &music.AuthenticationError{Platform: p, Err: music.ErrMissingCredentials}
	}
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = libspotify.TokenURL
	}
	cfg := &clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	if c.HTTP != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		metrics.CredentialFetches.WithLabelValues(string(p), "error").Inc()
		return nil, &music.AuthenticationError{Platform: p, Err: err}
	}
	if tok.AccessToken == "" {
		metrics.CredentialFetches.WithLabelValues(string(p), "error").Inc()
		return nil, &music.AuthenticationError{Platform: p, Err: errors.New("token response carries no access token")}
	}
	metrics.CredentialFetches.WithLabelValues(string(p), "ok").Inc()
	return tok, nil
}
