// Package music defines the platform-agnostic album model shared by every
// provider adapter, the error taxonomy used across the service and the
// Aggregator which fans a single query out to Spotify, Apple Music and Deezer.
//
// Adapters convert their native payloads into Album and Track values
// immediately after decoding so nothing outside an adapter ever sees a
// provider specific shape.
package music

import (
	"context"
	"encoding/json"

	"golang.org/x/oauth2"
)

// Platform identifies one of the supported music catalogs. The string value
// doubles as the JSON key of the platform in a SearchResult.
type Platform string

const (
	Spotify    Platform = "spotify"
	AppleMusic Platform = "appleMusic"
	Deezer     Platform = "deezer"
)

// Platforms lists the supported catalogs in their fixed output order.
var Platforms = []Platform{Spotify, AppleMusic, Deezer}

// Track is a single entry of an album tracklist. Duration is always in
// milliseconds regardless of the unit the platform reports.
type Track struct {
	TrackNumber int    `json:"trackNumber"`
	Name        string `json:"name"`
	Duration    int    `json:"duration"`
}

// Album is the unified representation produced by every adapter. PreviewURL
// is nil when no track of the album exposes a preview and serializes as null.
type Album struct {
	Name       string  `json:"name"`
	Artist     string  `json:"artist"`
	ArtistURL  string  `json:"artistUrl,omitempty"`
	Year       string  `json:"year"`
	CoverURL   string  `json:"coverUrl"`
	AlbumURL   string  `json:"albumUrl,omitempty"`
	PreviewURL *string `json:"previewUrl"`
	Tracklist  []Track `json:"tracklist"`
}

// MarshalJSON keeps an empty tracklist as [] instead of null.
func (a Album) MarshalJSON() ([]byte, error) {
	type album Album
	if a.Tracklist == nil {
		a.Tracklist = []Track{}
	}
	return json.Marshal(album(a))
}

// Query is the validated search input. Album may be empty.
type Query struct {
	Artist string
	Album  string
}

// Searcher is implemented by each provider adapter. credential carries the
// platform specific bearer value and is ignored by unauthenticated platforms.
type Searcher interface {
	SearchAlbums(ctx context.Context, q Query, credential string) ([]Album, error)
}

// TokenSource yields a credential for one platform. Implementations live in
// the credentials package.
type TokenSource interface {
	Token(ctx context.Context) (*oauth2.Token, error)
}

// Invalidator is implemented by caching TokenSources. Invalidate discards the
// credential last handed out so the next Token call acquires a new one.
type Invalidator interface {
	Invalidate(ctx context.Context)
}
