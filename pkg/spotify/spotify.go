// Package spotify implements the Spotify provider adapter. It searches the
// Web API catalog for albums, fetches the full record of every hit and maps
// the result into music.Album values.
//
// Payloads are decoded into the schema types of github.com/zmb3/spotify. The
// requests themselves are issued directly so that every call carries the
// caller's context; the wrapped library offers no context support.
package spotify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	libspotify "github.com/zmb3/spotify"
	"golang.org/x/sync/errgroup"

	"github.com/dcschmid/music-search/pkg/metrics"
	"github.com/dcschmid/music-search/pkg/music"
)

// DefaultAPIURL is the base of the Spotify Web API.
const DefaultAPIURL = "https://api.spotify.com"

// maxTrackPages bounds how many tracklist pages are followed per album.
const maxTrackPages = 20

// Client talks to the Spotify Web API. The zero value is ready for use; HTTP
// defaults to a client with a 10 second timeout and APIURL to DefaultAPIURL.
// CallTimeout, when positive, bounds every single upstream call.
type Client struct {
	HTTP        *http.Client
	APIURL      string
	CallTimeout time.Duration
}

var _ music.Searcher = (*Client)(nil)

// defaultHTTP serves Clients built without an HTTP client.
var defaultHTTP = &http.Client{Timeout: 10 * time.Second}

// New returns a Client whose requests are recorded by the metrics package.
func New(httpClient *http.Client) *Client {
	return &Client{HTTP: metrics.InstrumentClient(string(music.Spotify), httpClient)}
}

// SearchAlbums searches for at most music.DefaultLimit albums and resolves
// the full tracklist of each hit. token is the bearer credential obtained
// through the client credentials flow.
func (c *Client) SearchAlbums(ctx context.Context, q music.Query, token string) ([]music.Album, error) {
	params := url.Values{
		"q":     {music.SearchTerm(q)},
		"type":  {"album"},
		"limit": {strconv.Itoa(music.DefaultLimit)},
	}
	var res libspotify.SearchResult
	if err := c.get(ctx, "search", c.base()+"/v1/search?"+params.Encode(), token, &res); err != nil {
		return nil, err
	}
	if res.Albums == nil {
		return nil, music.PayloadError(music.Spotify, "search", "missing albums container")
	}

	hits := res.Albums.Albums
	albums := make([]music.Album, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		g.Go(func() error {
			full, err := c.album(gctx, hit.ID, token)
			if err != nil {
				return err
			}
			albums[i] = toAlbum(full)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return albums, nil
}

// album fetches one album including every page of its tracklist.
func (c *Client) album(ctx context.Context, id libspotify.ID, token string) (*libspotify.FullAlbum, error) {
	if id == "" {
		return nil, music.PayloadError(music.Spotify, "album", "search hit without id")
	}
	var full libspotify.FullAlbum
	if err := c.get(ctx, "album", c.base()+"/v1/albums/"+url.PathEscape(string(id)), token, &full); err != nil {
		return nil, err
	}
	next := full.Tracks.Next
	for page := 1; next != "" && page < maxTrackPages; page++ {
		var tp libspotify.SimpleTrackPage
		if err := c.get(ctx, "tracks", next, token, &tp); err != nil {
			return nil, err
		}
		full.Tracks.Tracks = append(full.Tracks.Tracks, tp.Tracks...)
		next = tp.Next
	}
	return &full, nil
}

func (c *Client) base() string {
	if c.APIURL == "" {
		return DefaultAPIURL
	}
	return c.APIURL
}

// get issues an authenticated GET request and decodes the JSON body into v.
func (c *Client) get(ctx context.Context, op, u, token string, v any) error {
	client := c.HTTP
	if client == nil {
		client = defaultHTTP
	}
	if c.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.CallTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return &music.ProviderError{Platform: music.Spotify, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return &music.ProviderError{Platform: music.Spotify, Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// The Web API wraps failures as {"error":{"status":..,"message":..}}.
		var env struct {
			Error libspotify.Error `json:"error"`
		}
		if json.Unmarshal(body, &env) == nil && env.Error.Message != "" {
			body = []byte(env.Error.Message)
		}
		return music.StatusError(music.Spotify, op, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return music.PayloadError(music.Spotify, op, fmt.Sprintf("decode: %v", err))
	}
	return nil
}

func toAlbum(a *libspotify.FullAlbum) music.Album {
	album := music.Album{
		Name:     a.Name,
		Year:     music.YearFromDate(a.ReleaseDate),
		CoverURL: pickCover(a.Images),
		AlbumURL: a.ExternalURLs["spotify"],
	}
	if len(a.Artists) > 0 {
		album.Artist = a.Artists[0].Name
		album.ArtistURL = a.Artists[0].ExternalURLs["spotify"]
	}
	previews := make([]string, 0, len(a.Tracks.Tracks))
	album.Tracklist = make([]music.Track, 0, len(a.Tracks.Tracks))
	for _, t := range a.Tracks.Tracks {
		album.Tracklist = append(album.Tracklist, music.Track{
			TrackNumber: t.TrackNumber,
			Name:        t.Name,
			Duration:    t.Duration,
		})
		previews = append(previews, t.PreviewURL)
	}
	album.PreviewURL = music.FirstPreview(previews)
	return album
}

// pickCover prefers the 300px variant Spotify usually offers between its
// 640px and 64px images.
func pickCover(images []libspotify.Image) string {
	if len(images) == 0 {
		return ""
	}
	for _, img := range images {
		if img.Width == music.CoverSize {
			return img.URL
		}
	}
	return images[len(images)/2].URL
}
