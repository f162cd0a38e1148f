package music

import (
	"strconv"
	"strings"
)

const (
	// DefaultLimit caps the number of albums per platform.
	DefaultLimit = 5
	// UnknownYear is used when a platform supplies no release date.
	UnknownYear = "Unknown"
	// CoverSize is the edge length requested from templated cover URLs.
	CoverSize = 300
)

// SearchTerm builds the free text query sent to every platform: the artist
// alone, or artist and album separated by a space. Percent-encoding is left
// to the adapters which put the term into a query string.
func SearchTerm(q Query) string {
	if q.Album == "" {
		return q.Artist
	}
	return q.Artist + " " + q.Album
}

// YearFromDate returns the leading segment of a release date such as
// "2021-10-15" or "2021". An empty date yields UnknownYear.
func YearFromDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" {
		return UnknownYear
	}
	year, _, _ := strings.Cut(date, "-")
	return year
}

// SecondsToMillis normalizes a duration reported in seconds.
func SecondsToMillis(seconds int) int {
	return seconds * 1000
}

// ResolveCoverTemplate substitutes the {w} and {h} placeholders of a
// templated artwork URL with CoverSize.
func ResolveCoverTemplate(tmpl string) string {
	size := strconv.Itoa(CoverSize)
	return strings.NewReplacer("{w}", size, "{h}", size).Replace(tmpl)
}

// FirstPreview scans previews in native track order and returns the first
// non-empty one. The scan stops at the first match.
func FirstPreview(previews []string) *string {
	for _, p := range previews {
		if p != "" {
			p := p
			return &p
		}
	}
	return nil
}

// Truncate returns at most n albums. A nil input becomes an empty slice so
// the platform serializes as [].
func Truncate(albums []Album, n int) []Album {
	if albums == nil {
		return []Album{}
	}
	if n >= 0 && len(albums) > n {
		return albums[:n]
	}
	return albums
}
