// Package applemusic implements the Apple Music provider adapter on top of
// the catalog API. Requests are authorized with a signed developer token and
// scoped to a storefront. The zero value Client is ready for use; an
// http.Client with a reasonable timeout will be created when nil.
package applemusic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dcschmid/music-search/pkg/metrics"
	"github.com/dcschmid/music-search/pkg/music"
)

const (
	// DefaultAPIURL is the base of the Apple Music API.
	DefaultAPIURL = "https://api.music.apple.com"
	// DefaultStorefront is used when Client.Storefront is empty.
	DefaultStorefront = "de"
)

// maxTrackPages bounds how many relationship pages are followed per album.
const maxTrackPages = 20

// Client provides access to the Apple Music catalog.
type Client struct {
	HTTP        *http.Client
	APIURL      string
	Storefront  string
	CallTimeout time.Duration
}

var _ music.Searcher = (*Client)(nil)

// defaultHTTP serves Clients built without an HTTP client.
var defaultHTTP = &http.Client{Timeout: 10 * time.Second}

// New returns a Client for storefront whose requests are recorded by the
// metrics package.
func New(httpClient *http.Client, storefront string) *Client {
	return &Client{
		HTTP:       metrics.InstrumentClient(string(music.AppleMusic), httpClient),
		Storefront: storefront,
	}
}

// Raw catalog schema. Only the fields mapped into music.Album are modelled.
type (
	searchResponse struct {
		Results *struct {
			Albums *struct {
				Data []resource `json:"data"`
			} `json:"albums"`
		} `json:"results"`
	}

	albumResponse struct {
		Data []albumResource `json:"data"`
	}

	resource struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}

	albumResource struct {
		ID         string `json:"id"`
		Attributes struct {
			Name        string `json:"name"`
			ArtistName  string `json:"artistName"`
			ReleaseDate string `json:"releaseDate"`
			URL         string `json:"url"`
			Artwork     struct {
				URL string `json:"url"`
			} `json:"artwork"`
		} `json:"attributes"`
		Relationships struct {
			Artists struct {
				Data []artistResource `json:"data"`
			} `json:"artists"`
			Tracks trackPage `json:"tracks"`
		} `json:"relationships"`
	}

	artistResource struct {
		ID         string `json:"id"`
		Attributes struct {
			URL string `json:"url"`
		} `json:"attributes"`
	}

	trackPage struct {
		Data []trackResource `json:"data"`
		Next string          `json:"next"`
	}

	trackResource struct {
		Attributes struct {
			Name             string `json:"name"`
			TrackNumber      int    `json:"trackNumber"`
			DurationInMillis int    `json:"durationInMillis"`
			Previews         []struct {
				URL string `json:"url"`
			} `json:"previews"`
		} `json:"attributes"`
	}
)

// SearchAlbums searches the storefront catalog and fetches every album hit.
// token is the signed developer token.
func (c *Client) SearchAlbums(ctx context.Context, q music.Query, token string) ([]music.Album, error) {
	params := url.Values{
		"term":  {music.SearchTerm(q)},
		"types": {"albums"},
		"limit": {strconv.Itoa(music.DefaultLimit)},
	}
	var res searchResponse
	if err := c.get(ctx, "search", c.catalog()+"/search?"+params.Encode(), token, &res); err != nil {
		return nil, err
	}
	if res.Results == nil {
		return nil, music.PayloadError(music.AppleMusic, "search", "missing results container")
	}
	// A search without album hits omits the albums key entirely.
	if res.Results.Albums == nil {
		return []music.Album{}, nil
	}

	hits := res.Results.Albums.Data
	albums := make([]music.Album, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		g.Go(func() error {
			a, err := c.album(gctx, hit.ID, token)
			if err != nil {
				return err
			}
			albums[i] = c.toAlbum(a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return albums, nil
}

func (c *Client) album(ctx context.Context, id, token string) (*albumResource, error) {
	if id == "" {
		return nil, music.PayloadError(music.AppleMusic, "album", "search hit without id")
	}
	var res albumResponse
	if err := c.get(ctx, "album", c.catalog()+"/albums/"+url.PathEscape(id), token, &res); err != nil {
		return nil, err
	}
	if len(res.Data) == 0 {
		return nil, music.PayloadError(music.AppleMusic, "album", "empty data for "+id)
	}
	a := &res.Data[0]
	tracks := &a.Relationships.Tracks
	next := tracks.Next
	for page := 1; next != "" && page < maxTrackPages; page++ {
		var tp trackPage
		if err := c.get(ctx, "tracks", c.resolve(next), token, &tp); err != nil {
			return nil, err
		}
		tracks.Data = append(tracks.Data, tp.Data...)
		next = tp.Next
	}
	return a, nil
}

func (c *Client) toAlbum(a *albumResource) music.Album {
	attr := a.Attributes
	album := music.Album{
		Name:     attr.Name,
		Artist:   attr.ArtistName,
		Year:     music.YearFromDate(attr.ReleaseDate),
		CoverURL: music.ResolveCoverTemplate(attr.Artwork.URL),
		AlbumURL: attr.URL,
	}
	if artists := a.Relationships.Artists.Data; len(artists) > 0 {
		album.ArtistURL = artists[0].Attributes.URL
		if album.ArtistURL == "" && artists[0].ID != "" {
			album.ArtistURL = fmt.Sprintf("https://music.apple.com/%s/artist/%s", c.storefront(), artists[0].ID)
		}
	}
	tracks := a.Relationships.Tracks.Data
	previews := make([]string, 0, len(tracks))
	album.Tracklist = make([]music.Track, 0, len(tracks))
	for _, t := range tracks {
		album.Tracklist = append(album.Tracklist, music.Track{
			TrackNumber: t.Attributes.TrackNumber,
			Name:        t.Attributes.Name,
			Duration:    t.Attributes.DurationInMillis,
		})
		var preview string
		if len(t.Attributes.Previews) > 0 {
			preview = t.Attributes.Previews[0].URL
		}
		previews = append(previews, preview)
	}
	album.PreviewURL = music.FirstPreview(previews)
	return album
}

func (c *Client) base() string {
	if c.APIURL == "" {
		return DefaultAPIURL
	}
	return strings.TrimSuffix(c.APIURL, "/")
}

func (c *Client) storefront() string {
	if c.Storefront == "" {
		return DefaultStorefront
	}
	return c.Storefront
}

func (c *Client) catalog() string {
	return c.base() + "/v1/catalog/" + url.PathEscape(c.storefront())
}

// resolve turns the relative "next" links of the catalog API into absolute
// URLs on the configured host.
func (c *Client) resolve(next string) string {
	if strings.HasPrefix(next, "http://") || strings.HasPrefix(next, "https://") {
		return next
	}
	return c.base() + "/" + strings.TrimPrefix(next, "/")
}

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
		return &music.ProviderError{Platform: music.AppleMusic, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return &music.ProviderError{Platform: music.AppleMusic, Op: op, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return music.StatusError(music.AppleMusic, op, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return music.PayloadError(music.AppleMusic, op, fmt.Sprintf("decode: %v", err))
	}
	return nil
}
