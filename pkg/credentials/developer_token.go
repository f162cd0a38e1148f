package credentials

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/dcschmid/music-search/pkg/metrics"
	"github.com/dcschmid/music-search/pkg/music"
)

// DeveloperTokenTTL is the validity window of a signed developer token.
const DeveloperTokenTTL = 180 * 24 * time.Hour

// DeveloperToken signs an ES256 JWT with a private key issued by Apple. The
// key identifier is placed in the token header and the team identifier is
// used as issuer.
type DeveloperToken struct {
	KeyPath string
	TeamID  string
	KeyID   string
	TTL     time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

var _ music.TokenSource = (*DeveloperToken)(nil)

// Token reads the key file and signs a fresh token on every call.
func (d *DeveloperToken) Token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := d.sign(ctx)
	if err != nil {
		metrics.CredentialFetches.WithLabelValues(string(music.AppleMusic), "error").Inc()
		return nil, &music.AuthenticationError{Platform: music.AppleMusic, Err: err}
	}
	metrics.CredentialFetches.WithLabelValues(string(music.AppleMusic), "ok").Inc()
	return tok, nil
}

// Identity names the signing material: team, key ID and a digest of the key
// file. It fails like Token when the configuration is incomplete or the key
// cannot be read or parsed.
func (d *DeveloperToken) Identity(ctx context.Context) (string, error) {
	_, sum, err := d.load(ctx)
	if err != nil {
		return "", &music.AuthenticationError{Platform: music.AppleMusic, Err: err}
	}
	return fmt.Sprintf("%s:%s:%s:%s", music.AppleMusic, d.TeamID, d.KeyID, sum), nil
}

// load reads and parses the private key and returns it together with a
// short digest of the PEM file.
func (d *DeveloperToken) load(ctx context.Context) (*ecdsa.PrivateKey, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	if d.KeyPath == "" || d.TeamID == "" || d.KeyID == "" {
		return nil, "", music.ErrMissingCredentials
	}
	pemBytes, err := os.ReadFile(d.KeyPath)
	if err != nil {
		return nil, "", fmt.Errorf("read private key: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, "", fmt.Errorf("parse private key: %w", err)
	}
	sum := sha256.Sum256(pemBytes)
	return key, hex.EncodeToString(sum[:8]), nil
}

func (d *DeveloperToken) sign(ctx context.Context) (*oauth2.Token, error) {
	key, _, err := d.load(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	if d.Now != nil {
		now = d.Now()
	}
	ttl := d.TTL
	if ttl <= 0 {
		ttl = DeveloperTokenTTL
	}
	exp := now.Add(ttl)

	t := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.RegisteredClaims{
		Issuer:    d.TeamID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	t.Header["kid"] = d.KeyID
	signed, err := t.SignedString(key)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	if signed == "" {
		return nil, errors.New("sign token: empty result")
	}
	return &oauth2.Token{AccessToken: signed, TokenType: "Bearer", Expiry: exp}, nil
}
