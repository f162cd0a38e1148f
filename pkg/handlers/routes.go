package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Routes registers every endpoint and wraps the mux with the middleware
// chain: request logging, security headers, then rate limiting.
func (app *Application) Routes(limiter *rate.Limiter) http.Handler {
	mux := http.NewServeMux()
	limit := RateLimit(limiter)

	search := limit(http.HandlerFunc(app.SearchAlbums))
	mux.Handle("GET /api/search", search)
	mux.Handle("POST /api/search", search)
	mux.Handle("POST /search", search)
	mux.Handle("GET /api/cover", limit(http.HandlerFunc(app.Cover)))
	mux.HandleFunc("GET /api/searches", app.RecentSearches)
	mux.HandleFunc("GET /healthz", app.Health)
	mux.Handle("GET /metrics", promhttp.Handler())
	if app.StaticDir != "" {
		mux.Handle("GET /", http.FileServer(http.Dir(app.StaticDir)))
	}

	var log logrus.FieldLogger = logrus.StandardLogger()
	if app.Log != nil {
		log = app.Log
	}
	return RequestLogger(log)(SecurityHeaders(mux))
}
