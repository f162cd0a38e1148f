// Package deezer implements the Deezer provider adapter. The public API is
// unauthenticated so the credential argument of SearchAlbums is ignored.
//
// Deezer reports failures with HTTP 200 and an {"error":{...}} envelope;
// every body is sniffed for that envelope before it is decoded.
package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/dcschmid/music-search/pkg/metrics"
	"github.com/dcschmid/music-search/pkg/music"
)

// DefaultAPIURL is the base of the Deezer API.
const DefaultAPIURL = "https://api.deezer.com"

// coverURL renders a 300x300 cover from the md5_image hash of an album.
const coverURL = "https://e-cdns-images.dzcdn.net/images/cover/%s/300x300-000000-80-0-0.jpg"

// maxBody bounds the size of a single API response.
const maxBody = 4 << 20

// Client provides access to the Deezer API. The zero value is ready for use.
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
	return &Client{HTTP: metrics.InstrumentClient(string(music.Deezer), httpClient)}
}

type searchResponse struct {
	Data *[]struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

type album struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Link        string `json:"link"`
	CoverMedium string `json:"cover_medium"`
	MD5Image    string `json:"md5_image"`
	ReleaseDate string `json:"release_date"`
	Artist      struct {
		Name string `json:"name"`
		Link string `json:"link"`
	} `json:"artist"`
	Tracks struct {
		Data []struct {
			Title    string `json:"title"`
			Duration int    `json:"duration"`
			Preview  string `json:"preview"`
		} `json:"data"`
	} `json:"tracks"`
}

// SearchAlbums searches for albums and fetches the tracklist of every hit.
func (c *Client) SearchAlbums(ctx context.Context, q music.Query, _ string) ([]music.Album, error) {
	params := url.Values{
		"q":     {music.SearchTerm(q)},
		"limit": {strconv.Itoa(music.DefaultLimit)},
	}
	var res searchResponse
	if err := c.get(ctx, "search", c.base()+"/search/album?"+params.Encode(), &res); err != nil {
		return nil, err
	}
	if res.Data == nil {
		return nil, music.PayloadError(music.Deezer, "search", "missing data container")
	}

	hits := *res.Data
	albums := make([]music.Album, len(hits))
	g, gctx := errgroup.WithContext(ctx)
	for i, hit := range hits {
		g.Go(func() error {
			var a album
			if err := c.get(gctx, "album", c.base()+"/album/"+strconv.FormatInt(hit.ID, 10), &a); err != nil {
				return err
			}
			albums[i] = toAlbum(&a)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return albums, nil
}

func toAlbum(a *album) music.Album {
	res := music.Album{
		Name:      a.Title,
		Artist:    a.Artist.Name,
		ArtistURL: a.Artist.Link,
		Year:      music.YearFromDate(a.ReleaseDate),
		CoverURL:  a.CoverMedium,
		AlbumURL:  a.Link,
	}
	if a.MD5Image != "" {
		res.CoverURL = fmt.Sprintf(coverURL, a.MD5Image)
	}
	tracks := a.Tracks.Data
	previews := make([]string, 0, len(tracks))
	res.Tracklist = make([]music.Track, 0, len(tracks))
	for i, t := range tracks {
		// Deezer has no track number field; position is the number.
		res.Tracklist = append(res.Tracklist, music.Track{
			TrackNumber: i + 1,
			Name:        t.Title,
			Duration:    music.SecondsToMillis(t.Duration),
		})
		previews = append(previews, t.Preview)
	}
	res.PreviewURL = music.FirstPreview(previews)
	return res
}

func (c *Client) base() string {
	if c.APIURL == "" {
		return DefaultAPIURL
	}
	return c.APIURL
}

func (c *Client) get(ctx context.Context, op, u string, v any) error {
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
		return &music.ProviderError{Platform: music.Deezer, Op: op, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return &music.ProviderError{Platform: music.Deezer, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &music.ProviderError{Platform: music.Deezer, Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return music.StatusError(music.Deezer, op, resp.StatusCode, body)
	}
	if e := gjson.GetBytes(body, "error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.Raw
		}
		return &music.ProviderError{
			Platform: music.Deezer,
			Op:       op,
			Err:      fmt.Errorf("%s (code %d)", msg, e.Get("code").Int()),
		}
	}
	if err := json.Unmarshal(body, v); err != nil {
		return music.PayloadError(music.Deezer, op, fmt.Sprintf("decode: %v", err))
	}
	return nil
}
