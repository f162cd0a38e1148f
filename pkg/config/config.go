// Package config loads the service configuration from a TOML file layered on
// top of embedded defaults, followed by environment overrides.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig     `toml:"server"`
	Spotify    SpotifyConfig    `toml:"spotify"`
	AppleMusic AppleMusicConfig `toml:"apple_music"`
	Deezer     DeezerConfig     `toml:"deezer"`
	Search     SearchConfig     `toml:"search"`
	Database   DatabaseConfig   `toml:"database"`
	Log        LogConfig        `toml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Addr      string  `toml:"addr"`
	StaticDir string  `toml:"static_dir"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

// SpotifyConfig contains the client credentials of the Spotify app.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	APIURL       string `toml:"api_url"`
	TokenURL     string `toml:"token_url"`
}

// AppleMusicConfig contains the developer token signing material.
type AppleMusicConfig struct {
	PrivateKeyPath string   `toml:"private_key_path"`
	TeamID         string   `toml:"team_id"`
	KeyID          string   `toml:"key_id"`
	Storefront     string   `toml:"storefront"`
	APIURL         string   `toml:"api_url"`
	TokenTTL       Duration `toml:"token_ttl"`
}

// DeezerConfig only carries the API location; Deezer needs no credentials.
type DeezerConfig struct {
	APIURL string `toml:"api_url"`
}

// SearchConfig tunes the aggregation.
type SearchConfig struct {
	Limit            int      `toml:"limit"`
	IsolateFailures  bool     `toml:"isolate_failures"`
	PlatformTimeout  Duration `toml:"platform_timeout"`
	UpstreamTimeout  Duration `toml:"upstream_timeout"`
	CacheCredentials bool     `toml:"cache_credentials"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path            string   `toml:"path"`
	SearchRetention Duration `toml:"search_retention"`
}

// LogConfig selects the logrus level and formatter.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DefaultConfig returns a Config with defaults loaded from the embedded
// example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// LoadConfig reads the TOML file at path over the defaults. An empty path
// yields the defaults. Keys absent from the file keep their default value.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

// Load combines LoadConfig with the process environment.
func Load(path string) (*Config, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return config, nil
}

// ApplyEnv overrides configuration values with the environment variables
// that are set. lookup is usually os.LookupEnv. Credentials are not
// validated here; missing ones surface when they are first used.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"SPOTIFY_CLIENT_ID":            &c.Spotify.ClientID,
		"SPOTIFY_CLIENT_SECRET":        &c.Spotify.ClientSecret,
		"APPLE_MUSIC_PRIVATE_KEY_PATH": &c.AppleMusic.PrivateKeyPath,
		"APPLE_MUSIC_TEAM_ID":          &c.AppleMusic.TeamID,
		"APPLE_MUSIC_KEY_ID":           &c.AppleMusic.KeyID,
		"APPLE_MUSIC_STOREFRONT":       &c.AppleMusic.Storefront,
		"DATABASE_PATH":                &c.Database.Path,
		"LOG_LEVEL":                    &c.Log.Level,
	}
	for name, dst := range strs {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		if _, err := strconv.Atoi(v); err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Addr = ":" + v
	}
	return nil
}

// CreateConfigFile writes the embedded example config to path. It refuses to
// overwrite an existing file.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.WriteFile(path, exampleConf, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
