package credentials

import (
	"context"
	"crypto/elliptic"
	"database/sql"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dcschmid/music-search/pkg/music"
)

type countingSource struct {
	calls  atomic.Int32
	expiry time.Duration
	err    error
}

func (s *countingSource) Token(context.Context) (*oauth2.Token, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	tok := &oauth2.Token{AccessToken: "tok-" + string(rune('0'+n))}
	if s.expiry > 0 {
		tok.Expiry = time.Now().Add(s.expiry)
	}
	return tok, nil
}

type memStore struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

func (m *memStore) SaveToken(_ context.Context, key string, tok *oauth2.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[key] = tok
	return nil
}

func (m *memStore) GetToken(_ context.Context, key string) (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return tok, nil
}

func (m *memStore) DeleteToken(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tokens, key)
	return nil
}

func TestCacheReusesToken(t *testing.T) {
	src := &countingSource{expiry: time.Hour}
	log, _ := test.NewNullLogger()
	c := NewCache(music.Spotify, src, nil, log)

	first, err := c.Token(context.Background())
	require.NoError(t, err)
	second, err := c.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCacheRefreshesExpired(t *testing.T) {
	src := &countingSource{expiry: time.Hour}
	log, _ := test.NewNullLogger()
	c := NewCache(music.Spotify, src, nil, log)

	_, err := c.Token(context.Background())
	require.NoError(t, err)

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCacheSkipsTokensWithoutExpiry(t *testing.T) {
	src := &countingSource{}
	c := NewCache(music.Spotify, src, nil, nil)

	for i := 0; i < 3; i++ {
		_, err := c.Token(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), src.calls.Load())
}

func TestCacheInvalidate(t *testing.T) {
	src := &countingSource{expiry: time.Hour}
	c := NewCache(music.AppleMusic, src, nil, nil)

	_, _ = c.Token(context.Background())
	c.Invalidate(context.Background())
	_, _ = c.Token(context.Background())
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCacheInvalidateDeletesStoredToken(t *testing.T) {
	store := &memStore{tokens: map[string]*oauth2.Token{}}
	src := &countingSource{expiry: time.Hour}
	c := NewCache(music.Spotify, src, store, nil)

	first, err := c.Token(context.Background())
	require.NoError(t, err)
	require.Contains(t, store.tokens, "spotify")

	c.Invalidate(context.Background())
	assert.NotContains(t, store.tokens, "spotify")

	// A restarted cache must not restore the rejected token either.
	restarted := NewCache(music.Spotify, src, store, nil)
	second, err := restarted.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.Equal(t, int32(2), src.calls.Load())
}

func TestCacheLiteral(t *testing.T) {
	src := &countingSource{expiry: time.Hour}
	c := &Cache{Platform: music.Spotify, Source: src}

	_, err := c.Token(context.Background())
	require.NoError(t, err)
	_, err = c.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), src.calls.Load())

	c.Invalidate(context.Background())
	(&Cache{}).Invalidate(context.Background())
}

func kid(t *testing.T, tok *oauth2.Token) string {
	t.Helper()
	parsed, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, &jwt.RegisteredClaims{})
	require.NoError(t, err)
	v, _ := parsed.Header["kid"].(string)
	return v
}

func TestCacheStoreKeyRotation(t *testing.T) {
	store := &memStore{tokens: map[string]*oauth2.Token{}}
	oldPath, _ := writeKey(t, elliptic.P256())

	before := NewCache(music.AppleMusic, &DeveloperToken{KeyPath: oldPath, TeamID: "TEAM", KeyID: "OLDKID"}, store, nil)
	tok, err := before.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "OLDKID", kid(t, tok))

	// Restart with a new key: the stored token belongs to the old one.
	newPath, _ := writeKey(t, elliptic.P256())
	after := NewCache(music.AppleMusic, &DeveloperToken{KeyPath: newPath, TeamID: "TEAM", KeyID: "NEWKID"}, store, nil)
	tok, err = after.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "NEWKID", kid(t, tok))

	// Same key ID, replaced key file.
	swapped := NewCache(music.AppleMusic, &DeveloperToken{KeyPath: oldPath, TeamID: "TEAM", KeyID: "NEWKID"}, store, nil)
	again, err := swapped.Token(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, tok.AccessToken, again.AccessToken)
}

func TestCacheStoreCredentialsRemoved(t *testing.T) {
	path, _ := writeKey(t, elliptic.P256())

	tests := []struct {
		name string
		src  func() music.TokenSource
	}{
		{"apple team cleared", func() music.TokenSource {
			return &DeveloperToken{KeyPath: path, KeyID: "KID"}
		}},
		{"apple key file gone", func() music.TokenSource {
			return &DeveloperToken{KeyPath: filepath.Join(t.TempDir(), "gone.p8"), TeamID: "TEAM", KeyID: "KID"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{tokens: map[string]*oauth2.Token{}}
			warm := NewCache(music.AppleMusic, &DeveloperToken{KeyPath: path, TeamID: "TEAM", KeyID: "KID"}, store, nil)
			_, err := warm.Token(context.Background())
			require.NoError(t, err)
			require.Len(t, store.tokens, 1)

			tok, err := NewCache(music.AppleMusic, tt.src(), store, nil).Token(context.Background())
			var authErr *music.AuthenticationError
			require.ErrorAs(t, err, &authErr)
			assert.Equal(t, music.AppleMusic, authErr.Platform)
			assert.Nil(t, tok)
		})
	}

	t.Run("spotify secret cleared", func(t *testing.T) {
		store := &memStore{tokens: map[string]*oauth2.Token{}}
		srv := tokenServer(t, map[string]any{"access_token": "abc", "token_type": "Bearer", "expires_in": 3600}, http.StatusOK)
		cc := &ClientCredentials{ClientID: "test-id", ClientSecret: "test-secret", TokenURL: srv.URL, HTTP: srv.Client()}
		_, err := NewCache(music.Spotify, cc, store, nil).Token(context.Background())
		require.NoError(t, err)
		require.Len(t, store.tokens, 1)

		cleared := &ClientCredentials{ClientID: "test-id", TokenURL: srv.URL, HTTP: srv.Client()}
		_, err = NewCache(music.Spotify, cleared, store, nil).Token(context.Background())
		assert.ErrorIs(t, err, music.ErrMissingCredentials)
	})
}

func TestCacheStore(t *testing.T) {
	store := &memStore{tokens: map[string]*oauth2.Token{}}
	src := &countingSource{expiry: time.Hour}

	first := NewCache(music.AppleMusic, src, store, nil)
	tok, err := first.Token(context.Background())
	require.NoError(t, err)
	require.Contains(t, store.tokens, "appleMusic")

	// A second cache, as after a restart, restores the token from the store.
	second := NewCache(music.AppleMusic, src, store, nil)
	restored, err := second.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok.AccessToken, restored.AccessToken)
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCacheConcurrentMisses(t *testing.T) {
	src := &countingSource{expiry: time.Hour}
	c := NewCache(music.Spotify, src, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Token(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), src.calls.Load())
}

func TestCacheSourceError(t *testing.T) {
	boom := &music.AuthenticationError{Platform: music.Spotify, Err: errors.New("invalid_client")}
	src := &countingSource{err: boom}
	c := NewCache(music.Spotify, src, nil, nil)

	_, err := c.Token(context.Background())
	assert.ErrorIs(t, err, boom)
}
