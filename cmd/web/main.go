// Command web runs the album search service. "serve" (the default) starts the
// HTTP server; "search" runs one aggregation and prints the JSON result.
//
// Configuration comes from a TOML file (see pkg/config) with environment
// overrides for credentials, database location, port and log level.
package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		logrus.Fatalf("application error: %v", err)
	}
}

func newApp() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Sources: cli.EnvVars("MUSIC_SEARCH_CONFIG"),
	}
	return &cli.Command{
		Name:   "music-search",
		Usage:  "Search albums on Spotify, Apple Music and Deezer at once",
		Flags:  []cli.Flag{configFlag},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP server",
				Action: serve,
			},
			{
				Name:      "search",
				Usage:     "Search once and print the result as JSON",
				ArgsUsage: "<artist> [album]",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "pretty",
						Usage: "Pretty-print output",
					},
				},
				Action: search,
			},
			{
				Name:      "init",
				Usage:     "Write an example configuration file",
				ArgsUsage: "[path]",
				Action:    initConfig,
			},
		},
	}
}
