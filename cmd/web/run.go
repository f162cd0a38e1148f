package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
	"golang.org/x/time/rate"

	"github.com/dcschmid/music-search/pkg/applemusic"
	"github.com/dcschmid/music-search/pkg/config"
	"github.com/dcschmid/music-search/pkg/credentials"
	"github.com/dcschmid/music-search/pkg/db"
	"github.com/dcschmid/music-search/pkg/deezer"
	"github.com/dcschmid/music-search/pkg/handlers"
	"github.com/dcschmid/music-search/pkg/metrics"
	"github.com/dcschmid/music-search/pkg/music"
	"github.com/dcschmid/music-search/pkg/spotify"
)

// env bundles what every command needs.
type env struct {
	cfg *config.Config
	log *logrus.Logger
	db  *db.DB
}

func setup(ctx context.Context, cmd *cli.Command) (*env, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log}
	if cfg.Database.Path != "" {
		database, err := db.New(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("db init: %w", err)
		}
		e.db = database
		if keep := cfg.Database.SearchRetention.Duration; keep > 0 {
			n, err := database.PruneSearches(ctx, time.Now().Add(-keep))
			if err != nil {
				log.WithError(err).Warn("pruning search log failed")
			} else if n > 0 {
				log.WithField("removed", n).Info("pruned search log")
			}
		}
	}
	return e, nil
}

func (e *env) Close() {
	if e.db != nil {
		e.db.Close()
	}
}

func newLogger(cfg config.LogConfig) (*logrus.Logger, error) {
	log := logrus.New()
	if cfg.Level != "" {
		lvl, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		log.SetLevel(lvl)
	}
	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	return log, nil
}

// aggregator wires credential sources, caches and adapters from the config.
func (e *env) aggregator() *music.Aggregator {
	cfg := e.cfg
	timeout := cfg.Search.UpstreamTimeout.Duration

	var spotifyAuth music.TokenSource = &credentials.ClientCredentials{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		TokenURL:     cfg.Spotify.TokenURL,
		HTTP:         metrics.InstrumentClient("spotify_accounts", nil),
		Platform:     music.Spotify,
	}
	var appleAuth music.TokenSource = &credentials.DeveloperToken{
		KeyPath: cfg.AppleMusic.PrivateKeyPath,
		TeamID:  cfg.AppleMusic.TeamID,
		KeyID:   cfg.AppleMusic.KeyID,
		TTL:     cfg.AppleMusic.TokenTTL.Duration,
	}
	if cfg.Search.CacheCredentials {
		var store credentials.Store
		if e.db != nil {
			store = e.db
		}
		spotifyAuth = credentials.NewCache(music.Spotify, spotifyAuth, store, e.log)
		appleAuth = credentials.NewCache(music.AppleMusic, appleAuth, store, e.log)
	}

	sp := spotify.New(nil)
	sp.APIURL = cfg.Spotify.APIURL
	sp.CallTimeout = timeout
	am := applemusic.New(nil, cfg.AppleMusic.Storefront)
	am.APIURL = cfg.AppleMusic.APIURL
	am.CallTimeout = timeout
	dz := deezer.New(nil)
	dz.APIURL = cfg.Deezer.APIURL
	dz.CallTimeout = timeout

	return &music.Aggregator{
		Spotify:        sp,
		AppleMusic:     am,
		Deezer:         dz,
		SpotifyAuth:    spotifyAuth,
		AppleMusicAuth: appleAuth,
		Limit:          cfg.Search.Limit,
		Isolate:        cfg.Search.IsolateFailures,
		Timeout:        cfg.Search.PlatformTimeout.Duration,
		Log:            e.log,
	}
}

func serve(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	app := &handlers.Application{
		Music:     e.aggregator(),
		Log:       e.log,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
		StaticDir: e.cfg.Server.StaticDir,
	}
	if e.db != nil {
		app.DB = e.db
	}
	var limiter *rate.Limiter
	if e.cfg.Server.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(e.cfg.Server.RateLimit), max(e.cfg.Server.RateBurst, 1))
	}

	srv := &http.Server{
		Addr:              e.cfg.Server.Addr,
		Handler:           app.Routes(limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	errCh := make(chan error, 1)
	go func() {
		e.log.WithField("addr", srv.Addr).Info("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	e.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func search(ctx context.Context, cmd *cli.Command) error {
	artist := cmd.Args().Get(0)
	if artist == "" {
		return &music.ValidationError{Field: "artist", Message: "usage: search <artist> [album]"}
	}
	e, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer e.Close()

	res, err := e.aggregator().SearchAllPlatforms(ctx, artist, cmd.Args().Get(1))
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.Root().Writer)
	if cmd.Bool("pretty") {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res)
}

func initConfig(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().Get(0)
	if path == "" {
		path = "config.toml"
	}
	if err := config.CreateConfigFile(path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Root().Writer, "wrote %s\n", path)
	return nil
}
