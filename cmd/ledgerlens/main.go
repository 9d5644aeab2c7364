package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	appcli "ledgerlens/internal/cli"
	"ledgerlens/internal/config"
)

func main() {
	appcli.LoadEnvFile()

	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to an optional YAML config file",
		Sources: cli.EnvVars(config.FileEnvVar),
	}

	cmd := &cli.Command{
		Name:  "ledgerlens",
		Usage: "Personal expense ledger with spreadsheet and receipt capture and a chat assistant",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringFlag{
				Name:  "port",
				Usage: "Override the listen port",
			},
		},
		Action: serve,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the JSON API and event stream",
				Action: serve,
			},
			{
				Name:  "events",
				Usage: "Inspect the ledger event exchange",
				Commands: []*cli.Command{
					{
						Name:   "tail",
						Usage:  "Print ledger events from the AMQP queue until interrupted",
						Action: tailEvents,
					},
				},
			},
			{
				Name:   "config",
				Usage:  "Validate the configuration and print the effective agent backend",
				Action: checkConfig,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
