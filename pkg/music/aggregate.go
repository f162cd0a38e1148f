// This file implements the Aggregator which combines the three provider
// adapters into one response.
//
// Credentials are acquired before any adapter is touched. The adapters then
// run concurrently and their results are collected per platform. By default a
// single failing platform fails the whole aggregation; with Isolate set the
// failure is recorded in SearchResult.Status and the platform contributes an
// empty list instead.
package music

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/dcschmid/music-search/pkg/metrics"
)

// Status values reported per platform when failures are isolated.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// SearchResult is the merged multi-platform response. Status is only
// populated when the Aggregator isolates platform failures.
type SearchResult struct {
	Spotify    []Album             `json:"spotify"`
	AppleMusic []Album             `json:"appleMusic"`
	Deezer     []Album             `json:"deezer"`
	Status     map[Platform]string `json:"status,omitempty"`
}

func (r *SearchResult) set(p Platform, albums []Album) {
	switch p {
	case Spotify:
		r.Spotify = albums
	case AppleMusic:
		r.AppleMusic = albums
	case Deezer:
		r.Deezer = albums
	}
}

// Aggregator queries all three platforms for one artist/album pair.
//
// SpotifyAuth and AppleMusicAuth provide the credentials handed to the
// respective adapters. Deezer is unauthenticated. Limit defaults to
// DefaultLimit. Timeout, when positive, bounds each platform branch.
type Aggregator struct {
	Spotify    Searcher
	AppleMusic Searcher
	Deezer     Searcher

	SpotifyAuth    TokenSource
	AppleMusicAuth TokenSource

	Limit   int
	Isolate bool
	Timeout time.Duration
	Log     logrus.FieldLogger
}

func (a *Aggregator) logger() logrus.FieldLogger {
	if a.Log == nil {
		return logrus.StandardLogger()
	}
	return a.Log
}

func (a *Aggregator) limit() int {
	if a.Limit <= 0 {
		return DefaultLimit
	}
	return a.Limit
}

// SearchAllPlatforms runs the query against every platform and returns the
// merged result. Credential failures always abort with an
// *AuthenticationError; adapter failures abort with a *ProviderError unless
// Isolate is set.
func (a *Aggregator) SearchAllPlatforms(ctx context.Context, artistName, albumName string) (*SearchResult, error) {
	q := Query{Artist: strings.TrimSpace(artistName), Album: strings.TrimSpace(albumName)}
	log := a.logger().WithFields(logrus.Fields{"artist": q.Artist, "album": q.Album})
	start := time.Now()

	spotifyToken, appleToken, err := a.credentials(ctx)
	if err != nil {
		metrics.Searches.WithLabelValues("auth_error").Inc()
		log.WithError(err).Error("credential acquisition failed")
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type branch struct {
		platform   Platform
		searcher   Searcher
		credential string
	}
	branches := []branch{
		{Spotify, a.Spotify, spotifyToken},
		{AppleMusic, a.AppleMusic, appleToken},
		{Deezer, a.Deezer, ""},
	}
	type result struct {
		platform Platform
		albums   []Album
		err      error
	}

	var wg sync.WaitGroup
	resCh := make(chan result, len(branches))
	for _, b := range branches {
		wg.Add(1)
		go func() {
			defer wg.Done()
			albums, err := a.searchPlatform(ctx, b.searcher, q, b.credential)
			resCh <- result{platform: b.platform, albums: albums, err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(resCh)
	}()

	res := &SearchResult{}
	if a.Isolate {
		res.Status = make(map[Platform]string, len(branches))
	}
	var firstErr error
	for r := range resCh {
		plog := log.WithField("platform", r.platform)
		if r.err != nil {
			metrics.PlatformFailures.WithLabelValues(string(r.platform)).Inc()
			a.rejected(ctx, r.platform, r.err, plog)
			if a.Isolate {
				plog.WithError(r.err).Warn("platform search failed")
				res.Status[r.platform] = StatusFailed
				res.set(r.platform, []Album{})
				continue
			}
			if firstErr == nil {
				firstErr = r.err
				// Siblings are pointless once the aggregation has failed.
				cancel()
			}
			continue
		}
		plog.WithField("count", len(r.albums)).Debug("platform search finished")
		if a.Isolate {
			res.Status[r.platform] = StatusOK
		}
		res.set(r.platform, Truncate(r.albums, a.limit()))
	}
	if firstErr != nil {
		metrics.Searches.WithLabelValues("provider_error").Inc()
		log.WithError(firstErr).Error("album search failed")
		return nil, firstErr
	}

	outcome := "ok"
	for _, s := range res.Status {
		if s == StatusFailed {
			outcome = "partial"
		}
	}
	metrics.Searches.WithLabelValues(outcome).Inc()
	log.WithFields(logrus.Fields{
		"elapsed":    time.Since(start).String(),
		"spotify":    len(res.Spotify),
		"appleMusic": len(res.AppleMusic),
		"deezer":     len(res.Deezer),
	}).Info("album search finished")
	return res, nil
}

func (a *Aggregator) searchPlatform(ctx context.Context, s Searcher, q Query, credential string) ([]Album, error) {
	if s == nil {
		return nil, nil
	}
	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}
	return s.SearchAlbums(ctx, q, credential)
}

// rejected discards a cached credential the upstream answered with 401 so
// the next search acquires a fresh one.
func (a *Aggregator) rejected(ctx context.Context, p Platform, err error, log logrus.FieldLogger) {
	var perr *ProviderError
	if !errors.As(err, &perr) || perr.Status != http.StatusUnauthorized {
		return
	}
	var src TokenSource
	switch p {
	case Spotify:
		src = a.SpotifyAuth
	case AppleMusic:
		src = a.AppleMusicAuth
	}
	inv, ok := src.(Invalidator)
	if !ok {
		return
	}
	log.Warn("credential rejected, invalidating")
	// Sibling cancellation must not abort the store cleanup.
	inv.Invalidate(context.WithoutCancel(ctx))
}

// credentials acquires the Spotify and Apple Music credentials concurrently.
func (a *Aggregator) credentials(ctx context.Context) (spotifyToken, appleToken string, err error) {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		spotifyToken, err = acquire(gctx, Spotify, a.SpotifyAuth)
		return err
	})
	g.Go(func() error {
		var err error
		appleToken, err = acquire(gctx, AppleMusic, a.AppleMusicAuth)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", "", err
	}
	return spotifyToken, appleToken, nil
}

func acquire(ctx context.Context, p Platform, src TokenSource) (string, error) {
	if src == nil {
		return "", &AuthenticationError{Platform: p, Err: ErrMissingCredentials}
	}
	tok, err := src.Token(ctx)
	if err != nil {
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			return "", err
		}
		return "", &AuthenticationError{Platform: p, Err: err}
	}
	if tok == nil || tok.AccessToken == "" {
		return "", &AuthenticationError{Platform: p, Err: errors.New("empty access token")}
	}
	return tok.AccessToken, nil
}
