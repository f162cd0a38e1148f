package music

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusError(t *testing.T) {
	err := StatusError(Spotify, "search", http.StatusServiceUnavailable, []byte(strings.Repeat("x", 500)))
	assert.Equal(t, http.StatusServiceUnavailable, err.Status)
	assert.Contains(t, err.Error(), "spotify search returned 503")
	assert.LessOrEqual(t, len(err.Err.Error()), 200)
	assert.False(t, errors.Is(err, ErrUnexpectedPayload))
}

func TestPayloadError(t *testing.T) {
	err := PayloadError(AppleMusic, "search", "missing results")
	assert.Zero(t, err.Status)
	assert.ErrorIs(t, err, ErrUnexpectedPayload)
	assert.Contains(t, err.Error(), "appleMusic search failed")
}

func TestAuthenticationErrorUnwrap(t *testing.T) {
	err := &AuthenticationError{Platform: Spotify, Err: ErrMissingCredentials}
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Equal(t, "spotify authentication failed: missing credentials", err.Error())
}
