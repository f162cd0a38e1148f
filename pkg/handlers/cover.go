package handlers

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// coverHosts lists the CDNs the cover proxy may fetch from. Entries starting
// with a dot match any subdomain.
var coverHosts = []string{"i.scdn.co", ".mzstatic.com", ".dzcdn.net"}

const (
	maxCoverSize      = 5 << 20
	maxCoverRedirects = 10
)

func allowedCover(raw string) (*url.URL, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.User != nil {
		return nil, false
	}
	host := strings.ToLower(u.Hostname())
	for _, h := range coverHosts {
		if host == h || (strings.HasPrefix(h, ".") && strings.HasSuffix(host, h)) {
			return u, true
		}
	}
	return nil, false
}

// coverRedirect applies the host allowlist to every redirect hop.
func coverRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxCoverRedirects {
		return fmt.Errorf("stopped after %d redirects", maxCoverRedirects)
	}
	if _, ok := allowedCover(req.URL.String()); !ok {
		return fmt.Errorf("redirect to %q not allowed", req.URL.Host)
	}
	return nil
}

// coverFilename derives the download name from artist and album, e.g.
// "coldplay-parachutes.jpg".
func coverFilename(artist, album string) string {
	name := slug.Make(strings.TrimSpace(artist + " " + album))
	if name == "" {
		name = "cover"
	}
	return name + ".jpg"
}

// Cover streams an album cover from one of the catalog CDNs as a file
// download. Query parameters: url, artist and album.
func (app *Application) Cover(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	u, ok := allowedCover(q.Get("url"))
	if !ok {
		respondJSONError(w, http.StatusBadRequest, "Ungültige Cover-URL.")
		return
	}
	client := http.Client{Timeout: 10 * time.Second}
	if app.HTTP != nil {
		client = *app.HTTP
	}
	client.CheckRedirect = coverRedirect
	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		respondJSONError(w, http.StatusBadRequest, "Ungültige Cover-URL.")
		return
	}
	resp, err := client.Do(req)
	if err != nil {
		app.logger(r).WithError(err).Warn("cover download failed")
		respondJSONError(w, http.StatusBadGateway, "Cover konnte nicht geladen werden.")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		app.logger(r).WithField("status", resp.StatusCode).Warn("cover download failed")
		respondJSONError(w, http.StatusBadGateway, "Cover konnte nicht geladen werden.")
		return
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct = "image/jpeg"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", coverFilename(q.Get("artist"), q.Get("album"))))
	io.Copy(w, io.LimitReader(resp.Body, maxCoverSize))
}
