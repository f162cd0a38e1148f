// Package db provides the persistence layer of the service. It wraps a
// SQLite database holding the credential cache, so signed and exchanged
// tokens survive restarts, and a log of the queries that were searched.
// Album results themselves are never stored.
//
// Callers open a single DB with New and share it; the underlying sql.DB is
// safe for concurrent use.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/oauth2"
)

// DB wraps a sql.DB connection and exposes helper methods for the
// application's persistence layer.
type DB struct {
	*sql.DB
}

// New opens the SQLite database located at path. If the file does not
// exist it is created along with the required schema.
func New(path string) (*DB, error) {
	d, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		d.SetMaxOpenConns(1)
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tokens (name TEXT PRIMARY KEY, token TEXT NOT NULL)`,
		`CREATE TABLE IF NOT EXISTS searches (id INTEGER PRIMARY KEY AUTOINCREMENT, artist TEXT NOT NULL, album TEXT, spotify INTEGER, apple_music INTEGER, deezer INTEGER, outcome TEXT NOT NULL, searched_at TIMESTAMP NOT NULL)`,
		`CREATE INDEX IF NOT EXISTS idx_searches_time ON searches(searched_at)`,
	}
	// Errors here likely mean the database file is not writable.
	for _, s := range stmts {
		if _, err := d.Exec(s); err != nil {
			d.Close()
			return nil, fmt.Errorf("init db: %w", err)
		}
	}
	return &DB{d}, nil
}

// SaveToken persists the credential under key. Keys start with the platform
// name followed by the identity of the credential source. An existing entry
// is replaced.
func (db *DB) SaveToken(ctx context.Context, key string, token *oauth2.Token) error {
	b, err := json.Marshal(token)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `INSERT INTO tokens(name, token) VALUES(?, ?) ON CONFLICT(name) DO UPDATE SET token=excluded.token`, key, string(b))
	return err
}

// GetToken retrieves the credential stored under key. sql.ErrNoRows is
// returned when none exists.
func (db *DB) GetToken(ctx context.Context, key string) (*oauth2.Token, error) {
	var data string
	if err := db.QueryRowContext(ctx, `SELECT token FROM tokens WHERE name=?`, key).Scan(&data); err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(data), &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

// DeleteToken removes the credential stored under key. Deleting a missing
// key is not an error.
func (db *DB) DeleteToken(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM tokens WHERE name=?`, key)
	return err
}

// Search is one entry of the query log. The counts are the number of albums
// each platform contributed.
type Search struct {
	ID         int64     `json:"id"`
	Artist     string    `json:"artist"`
	Album      string    `json:"album,omitempty"`
	Spotify    int       `json:"spotify"`
	AppleMusic int       `json:"appleMusic"`
	Deezer     int       `json:"deezer"`
	Outcome    string    `json:"outcome"`
	SearchedAt time.Time `json:"searchedAt"`
}

// AddSearch appends a query to the log. SearchedAt defaults to now.
func (db *DB) AddSearch(ctx context.Context, s Search) error {
	if s.SearchedAt.IsZero() {
		s.SearchedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `INSERT INTO searches(artist, album, spotify, apple_music, deezer, outcome, searched_at) VALUES(?,?,?,?,?,?,?)`,
		s.Artist, s.Album, s.Spotify, s.AppleMusic, s.Deezer, s.Outcome, s.SearchedAt.UTC())
	return err
}

// RecentSearches returns up to limit log entries, most recent first.
func (db *DB) RecentSearches(ctx context.Context, limit int) ([]Search, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.QueryContext(ctx, `SELECT id, artist, album, spotify, apple_music, deezer, outcome, searched_at FROM searches ORDER BY searched_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Search
	for rows.Next() {
		var s Search
		var album sql.NullString
		if err := rows.Scan(&s.ID, &s.Artist, &album, &s.Spotify, &s.AppleMusic, &s.Deezer, &s.Outcome, &s.SearchedAt); err != nil {
			return nil, err
		}
		s.Album = album.String
		res = append(res, s)
	}
	// rows.Err returns the first error encountered while iterating.
	return res, rows.Err()
}

// PruneSearches deletes log entries older than the given time and returns
// the number of removed rows.
func (db *DB) PruneSearches(ctx context.Context, before time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM searches WHERE searched_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
