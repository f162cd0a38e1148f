// Package handlers is the HTTP boundary of the service. It parses and
// validates the search form, invokes the Aggregator and translates its
// result or failure into JSON. Upstream error details are logged here and
// never sent to clients.
package handlers

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/dcschmid/music-search/pkg/db"
	"github.com/dcschmid/music-search/pkg/music"
)

// User facing messages. The UI is German.
const (
	msgMissingArtist = "Bitte gib einen Künstlernamen ein."
	msgSearchFailed  = "Fehler bei der Albumsuche."
	msgInvalidBody   = "Ungültige Anfrage."
)

// AlbumSearcher is implemented by *music.Aggregator.
type AlbumSearcher interface {
	SearchAllPlatforms(ctx context.Context, artistName, albumName string) (*music.SearchResult, error)
}

// SearchLog records searched queries. *db.DB implements it.
type SearchLog interface {
	AddSearch(ctx context.Context, s db.Search) error
	RecentSearches(ctx context.Context, limit int) ([]db.Search, error)
}

// Application bundles the dependencies used by the HTTP handlers. DB is
// optional; without it searches are not logged and /api/searches is empty.
type Application struct {
	Music AlbumSearcher
	DB    SearchLog
	Log   logrus.FieldLogger
	// HTTP fetches cover images. It defaults to a client with a 10 second
	// timeout.
	HTTP      *http.Client
	StaticDir string
}

func (app *Application) logger(r *http.Request) logrus.FieldLogger {
	log := app.Log
	if log == nil {
		log = logrus.StandardLogger()
	}
	if id := RequestID(r.Context()); id != "" {
		return log.WithField("request_id", id)
	}
	return log
}

type searchRequest struct {
	ArtistName string `json:"artistName"`
	AlbumName  string `json:"albumName"`
}

// parseSearch reads artistName and albumName from a JSON body or from the
// form/query values and validates them.
func parseSearch(w http.ResponseWriter, r *http.Request) (searchRequest, error) {
	var req searchRequest
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := decodeJSON(w, r, &req); err != nil {
			return req, err
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return req, err
		}
		req.ArtistName = r.Form.Get("artistName")
		req.AlbumName = r.Form.Get("albumName")
	}
	req.ArtistName = strings.TrimSpace(req.ArtistName)
	req.AlbumName = strings.TrimSpace(req.AlbumName)
	if req.ArtistName == "" {
		return req, &music.ValidationError{Field: "artistName", Message: msgMissingArtist}
	}
	return req, nil
}

// SearchAlbums handles GET and POST searches. An empty artist yields 400,
// any failure of the aggregation a generic 500.
func (app *Application) SearchAlbums(w http.ResponseWriter, r *http.Request) {
	log := app.logger(r)
	req, err := parseSearch(w, r)
	if err != nil {
		var verr *music.ValidationError
		if errors.As(err, &verr) {
			respondJSONError(w, http.StatusBadRequest, verr.Message)
			return
		}
		respondJSONError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	log = log.WithFields(logrus.Fields{"artist": req.ArtistName, "album": req.AlbumName})

	res, err := app.Music.SearchAllPlatforms(r.Context(), req.ArtistName, req.AlbumName)
	if err != nil {
		log.WithError(err).Error("album search failed")
		app.record(r.Context(), log, req, nil, outcome(err, nil))
		respondJSONError(w, http.StatusInternalServerError, msgSearchFailed)
		return
	}
	app.record(r.Context(), log, req, res, outcome(nil, res))
	respondJSON(w, http.StatusOK, res)
}

// outcome classifies a search for the query log.
func outcome(err error, res *music.SearchResult) string {
	var authErr *music.AuthenticationError
	switch {
	case errors.As(err, &authErr):
		return "auth_error"
	case err != nil:
		return "provider_error"
	}
	for _, s := range res.Status {
		if s == music.StatusFailed {
			return "partial"
		}
	}
	return "ok"
}

func (app *Application) record(ctx context.Context, log logrus.FieldLogger, req searchRequest, res *music.SearchResult, outcome string) {
	if app.DB == nil {
		return
	}
	s := db.Search{Artist: req.ArtistName, Album: req.AlbumName, Outcome: outcome}
	if res != nil {
		s.Spotify = len(res.Spotify)
		s.AppleMusic = len(res.AppleMusic)
		s.Deezer = len(res.Deezer)
	}
	// The log is best effort and must not fail the search.
	if err := app.DB.AddSearch(context.WithoutCancel(ctx), s); err != nil {
		log.WithError(err).Warn("recording search failed")
	}
}

// RecentSearches returns the latest entries of the query log. The optional
// limit parameter is capped at 100.
func (app *Application) RecentSearches(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			respondJSONError(w, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		limit = min(n, 100)
	}
	if app.DB == nil {
		respondJSON(w, http.StatusOK, []db.Search{})
		return
	}
	searches, err := app.DB.RecentSearches(r.Context(), limit)
	if err != nil {
		app.logger(r).WithError(err).Error("loading searches failed")
		respondJSONError(w, http.StatusInternalServerError, "Fehler beim Laden der Suchen.")
		return
	}
	if searches == nil {
		searches = []db.Search{}
	}
	respondJSON(w, http.StatusOK, searches)
}

// Health reports liveness.
func (app *Application) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
