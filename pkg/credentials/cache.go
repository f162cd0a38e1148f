package credentials

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/dcschmid/music-search/pkg/music"
)

// DefaultSkew is subtracted from a token's expiry so it is never handed out
// moments before it lapses.
const DefaultSkew = time.Minute

// Store persists credentials across restarts. *db.DB satisfies it.
type Store interface {
	SaveToken(ctx context.Context, key string, token *oauth2.Token) error
	GetToken(ctx context.Context, key string) (*oauth2.Token, error)
	DeleteToken(ctx context.Context, key string) error
}

// Identifier is implemented by sources whose credential depends on their
// configuration. The identity keys cached tokens, so a token issued for one
// client ID or signing key is never served for another. Identity fails when
// the source is not usable, e.g. missing credentials or an unreadable key.
type Identifier interface {
	Identity(ctx context.Context) (string, error)
}

// Cache wraps a TokenSource and reuses its credential until expiry. On a
// memory miss the optional Store is consulted before the source is asked for
// a new credential. Tokens without an expiry are passed through uncached.
//
// A Cache may be built as a literal; Skew then defaults to DefaultSkew and
// Log to the standard logger.
type Cache struct {
	Platform music.Platform
	Source   music.TokenSource
	Store    Store
	Skew     time.Duration
	Log      logrus.FieldLogger

	once    sync.Once
	now     func() time.Time
	mu      sync.Mutex
	mem     *cache.Cache
	current string
}

var _ music.TokenSource = (*Cache)(nil)

// NewCache returns a Cache for platform p backed by src. store may be nil.
func NewCache(p music.Platform, src music.TokenSource, store Store, log logrus.FieldLogger) *Cache {
	c := &Cache{Platform: p, Source: src, Store: store, Log: log}
	c.init()
	return c
}

func (c *Cache) init() {
	c.once.Do(func() {
		if c.Skew == 0 {
			c.Skew = DefaultSkew
		}
		if c.Log == nil {
			c.Log = logrus.StandardLogger()
		}
		if c.now == nil {
			c.now = time.Now
		}
		c.mem = cache.New(cache.NoExpiration, 10*time.Minute)
	})
}

// key derives the cache key from the source identity. Sources without one
// are keyed by platform.
func (c *Cache) key(ctx context.Context) (string, error) {
	if id, ok := c.Source.(Identifier); ok {
		return id.Identity(ctx)
	}
	return string(c.Platform), nil
}

// Token returns the cached credential or acquires a new one. Concurrent
// misses share a single acquisition. The source identity is checked on every
// call so a removed or replaced credential fails at once.
func (c *Cache) Token(ctx context.Context) (*oauth2.Token, error) {
	c.init()
	key, err := c.key(ctx)
	if err != nil {
		return nil, err
	}
	if tok, ok := c.lookup(key); ok {
		return tok, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if tok, ok := c.lookup(key); ok {
		return tok, nil
	}

	log := c.Log.WithField("platform", c.Platform)
	if c.Store != nil {
		tok, err := c.Store.GetToken(ctx, key)
		if err == nil && c.fresh(tok) {
			log.Debug("credential restored from store")
			c.remember(key, tok)
			return tok, nil
		}
	}

	tok, err := c.Source.Token(ctx)
	if err != nil {
		return nil, err
	}
	log.WithField("expiry", tok.Expiry).Debug("credential acquired")
	c.remember(key, tok)
	if c.Store != nil && c.fresh(tok) {
		if err := c.Store.SaveToken(ctx, key, tok); err != nil {
			log.WithError(err).Warn("persist credential")
		}
	}
	return tok, nil
}

// Invalidate drops the credential last handed out, from memory and from the
// Store, so the next call acquires a new one. It is called when an upstream
// rejects the credential.
func (c *Cache) Invalidate(ctx context.Context) {
	c.init()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem.Flush()
	if c.Store == nil || c.current == "" {
		return
	}
	if err := c.Store.DeleteToken(ctx, c.current); err != nil {
		c.Log.WithField("platform", c.Platform).WithError(err).Warn("delete stored credential")
	}
	c.current = ""
}

func (c *Cache) lookup(key string) (*oauth2.Token, bool) {
	v, ok := c.mem.Get(key)
	if !ok {
		return nil, false
	}
	tok, ok := v.(*oauth2.Token)
	if !ok || !c.fresh(tok) {
		return nil, false
	}
	return tok, true
}

func (c *Cache) fresh(tok *oauth2.Token) bool {
	if tok == nil || tok.AccessToken == "" || tok.Expiry.IsZero() {
		return false
	}
	return c.now().Add(c.Skew).Before(tok.Expiry)
}

// remember must be called with mu held.
func (c *Cache) remember(key string, tok *oauth2.Token) {
	if !c.fresh(tok) {
		return
	}
	c.current = key
	c.mem.Set(key, tok, tok.Expiry.Sub(c.now())-c.Skew)
}
