package applemusic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcschmid/music-search/pkg/music"
)

// roundTripper mocks HTTP responses for tests.
type roundTripper struct {
	status int
	body   string
}

func (rt roundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	rec.WriteHeader(rt.status)
	if rt.body != "" {
		rec.WriteString(rt.body)
	}
	return rec.Result(), nil
}

const albumJSON = `{"data":[{
  "id": "1",
  "attributes": {
    "name": "Parachutes",
    "artistName": "Coldplay",
    "releaseDate": "2000-07-10",
    "url": "https://music.apple.com/de/album/parachutes/1",
    "artwork": {"url": "https://is1.mzstatic.com/image/{w}x{h}bb.jpg"}
  },
  "relationships": {
    "artists": {"data": [{"id": "471744", "attributes": {"url": "https://music.apple.com/de/artist/coldplay/471744"}}]},
    "tracks": {"data": [
      {"attributes": {"name": "Don't Panic", "trackNumber": 1, "durationInMillis": 137000, "previews": []}},
      {"attributes": {"name": "Shiver", "trackNumber": 2, "durationInMillis": 304000, "previews": [{"url": "https://audio/X"}]}},
      {"attributes": {"name": "Spies", "trackNumber": 3, "durationInMillis": 318000, "previews": [{"url": "https://audio/Y"}]}}
    ]}
  }
}]}`

func newServer(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &Client{HTTP: srv.Client(), APIURL: srv.URL}
}

func TestSearchAlbums(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog/de/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer jwt", r.Header.Get("Authorization"))
		assert.Equal(t, "Coldplay Parachutes", r.URL.Query().Get("term"))
		assert.Equal(t, "albums", r.URL.Query().Get("types"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		fmt.Fprint(w, `{"results":{"albums":{"data":[{"id":"1","type":"albums"}]}}}`)
	})
	mux.HandleFunc("/v1/catalog/de/albums/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, albumJSON)
	})
	c := newServer(t, mux)

	albums, err := c.SearchAlbums(context.Background(), music.Query{Artist: "Coldplay", Album: "Parachutes"}, "jwt")
	require.NoError(t, err)
	require.Len(t, albums, 1)

	a := albums[0]
	assert.Equal(t, "Parachutes", a.Name)
	assert.Equal(t, "Coldplay", a.Artist)
	assert.Equal(t, "2000", a.Year)
	assert.Equal(t, "https://is1.mzstatic.com/image/300x300bb.jpg", a.CoverURL)
	assert.NotContains(t, a.CoverURL, "{w}")
	assert.NotContains(t, a.CoverURL, "{h}")
	assert.Equal(t, "https://music.apple.com/de/artist/coldplay/471744", a.ArtistURL)
	assert.Equal(t, "https://music.apple.com/de/album/parachutes/1", a.AlbumURL)
	require.NotNil(t, a.PreviewURL)
	assert.Equal(t, "https://audio/X", *a.PreviewURL)
	require.Len(t, a.Tracklist, 3)
	assert.Equal(t, music.Track{TrackNumber: 2, Name: "Shiver", Duration: 304000}, a.Tracklist[1])
}

func TestSearchAlbumsStorefront(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog/us/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{}}`)
	})
	c := newServer(t, mux)
	c.Storefront = "us"

	albums, err := c.SearchAlbums(context.Background(), music.Query{Artist: "Coldplay"}, "jwt")
	require.NoError(t, err)
	assert.NotNil(t, albums)
	assert.Empty(t, albums)
}

func TestSearchAlbumsMissingReleaseDate(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog/de/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"albums":{"data":[{"id":"2"}]}}}`)
	})
	mux.HandleFunc("/v1/catalog/de/albums/2", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"2","attributes":{"name":"Demo","artistName":"X","artwork":{"url":"u/{w}x{h}.jpg"}},
			"relationships":{"artists":{"data":[{"id":"99"}]},"tracks":{"data":[]}}}]}`)
	})
	c := newServer(t, mux)

	albums, err := c.SearchAlbums(context.Background(), music.Query{Artist: "X"}, "jwt")
	require.NoError(t, err)
	require.Len(t, albums, 1)
	assert.Equal(t, music.UnknownYear, albums[0].Year)
	assert.Nil(t, albums[0].PreviewURL)
	assert.Equal(t, "https://music.apple.com/de/artist/99", albums[0].ArtistURL)
}

func TestSearchAlbumsFollowsTrackPages(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog/de/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"albums":{"data":[{"id":"3"}]}}}`)
	})
	mux.HandleFunc("/v1/catalog/de/albums/3", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"id":"3","attributes":{"name":"Long","releaseDate":"2010"},
			"relationships":{"tracks":{"data":[{"attributes":{"name":"a","trackNumber":1}}],"next":"/v1/catalog/de/albums/3/tracks?offset=1"}}}]}`)
	})
	mux.HandleFunc("/v1/catalog/de/albums/3/tracks", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1", r.URL.Query().Get("offset"))
		fmt.Fprint(w, `{"data":[{"attributes":{"name":"b","trackNumber":2,"previews":[{"url":"p"}]}}]}`)
	})
	c := newServer(t, mux)

	albums, err := c.SearchAlbums(context.Background(), music.Query{Artist: "X"}, "jwt")
	require.NoError(t, err)
	require.Len(t, albums[0].Tracklist, 2)
	assert.Equal(t, "b", albums[0].Tracklist[1].Name)
	require.NotNil(t, albums[0].PreviewURL)
	assert.Equal(t, "p", *albums[0].PreviewURL)
	assert.Equal(t, "2010", albums[0].Year)
}

// TestSearchStatusError verifies non-200 responses return a ProviderError.
func TestSearchStatusError(t *testing.T) {
	c := &Client{HTTP: &http.Client{Transport: roundTripper{status: 503, body: "down"}}}
	_, err := c.SearchAlbums(context.Background(), music.Query{Artist: "q"}, "jwt")
	var perr *music.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, music.AppleMusic, perr.Platform)
	assert.Equal(t, 503, perr.Status)
}

func TestSearchMissingResults(t *testing.T) {
	c := &Client{HTTP: &http.Client{Transport: roundTripper{status: 200, body: `{"meta":{}}`}}}
	_, err := c.SearchAlbums(context.Background(), music.Query{Artist: "q"}, "jwt")
	assert.ErrorIs(t, err, music.ErrUnexpectedPayload)
}

func TestSearchMalformedJSON(t *testing.T) {
	c := &Client{HTTP: &http.Client{Transport: roundTripper{status: 200, body: `{"results":`}}}
	_, err := c.SearchAlbums(context.Background(), music.Query{Artist: "q"}, "jwt")
	assert.ErrorIs(t, err, music.ErrUnexpectedPayload)
}

func TestAlbumEmptyData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog/de/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"albums":{"data":[{"id":"4"}]}}}`)
	})
	mux.HandleFunc("/v1/catalog/de/albums/4", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[]}`)
	})
	c := newServer(t, mux)

	_, err := c.SearchAlbums(context.Background(), music.Query{Artist: "X"}, "jwt")
	assert.ErrorIs(t, err, music.ErrUnexpectedPayload)
}

func TestZeroValueClientConcurrent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/catalog/de/search", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"results":{"albums":{"data":[{"id":"1","type":"albums"}]}}}`)
	})
	mux.HandleFunc("/v1/catalog/de/albums/1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, albumJSON)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	c := &Client{APIURL: srv.URL}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			albums, err := c.SearchAlbums(context.Background(), music.Query{Artist: "Coldplay"}, "jwt")
			assert.NoError(t, err)
			assert.Len(t, albums, 1)
		}()
	}
	wg.Wait()
	assert.Nil(t, c.HTTP)
}
