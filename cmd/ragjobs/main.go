// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/ragjobs/config"
)

const (
	metaConfig     = "config"
	metaLogCleanup = "log-cleanup"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ragjobs",
		Usage: "Asynchronous document ingestion and question answering",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the TOML configuration file",
				EnvVars: []string{"RAGJOBS_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error); overrides the config file",
			},
		},
		Before: setupLogger,
		After:  closeLogger,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the cleanup scheduler and expose metrics until interrupted",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "shutdown-timeout",
						Usage: "How long to wait for running jobs on shutdown",
						Value: 30 * time.Second,
					},
				},
			},
			{
				Name:      "ingest",
				Usage:     "Ingest files into a collection and wait for the jobs",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.StringFlag{
						Name:  "user",
						Usage: "User recorded as the document's uploader",
					},
				},
			},
			{
				Name:      "query",
				Usage:     "Ask a question against a collection",
				ArgsUsage: "QUESTION",
				Action:    queryCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.StringFlag{
						Name:  "model",
						Usage: "Generation model (defaults to ai.llm_model)",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "Number of chunks to retrieve (defaults to query.top_k)",
					},
				},
			},
			{
				Name:  "jobs",
				Usage: "Inspect jobs",
				Subcommands: []*cli.Command{
					{
						Name:      "get",
						Usage:     "Show one job",
						ArgsUsage: "ID",
						Action:    jobsGetCommand,
					},
					{
						Name:   "list",
						Usage:  "List jobs, newest first",
						Action: jobsListCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "status", Usage: "QUEUED, PROCESSING, COMPLETED or FAILED"},
							&cli.StringFlag{Name: "type", Usage: "INSERTION or QUERY"},
							&cli.IntFlag{Name: "limit", Usage: "Maximum number of jobs", Value: 50},
						},
					},
				},
			},
			{
				Name:  "collection",
				Usage: "Manage collections",
				Subcommands: []*cli.Command{
					{
						Name:      "create",
						Usage:     "Create a collection",
						ArgsUsage: "NAME",
						Action:    collectionCreateCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "description", Usage: "Free-form description"},
							&cli.StringFlag{Name: "owner", Usage: "Owner user id"},
						},
					},
					{
						Name:   "list",
						Usage:  "List collections",
						Action: collectionListCommand,
					},
					{
						Name:      "get",
						Usage:     "Show a collection by id or name",
						ArgsUsage: "ID|NAME",
						Action:    collectionGetCommand,
					},
					{
						Name:      "delete",
						Usage:     "Delete a collection with its documents and chunks",
						ArgsUsage: "ID|NAME",
						Action:    collectionDeleteCommand,
					},
				},
			},
			{
				Name:   "cleanup",
				Usage:  "Run one cleanup sweep",
				Action: cleanupCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "days",
						Usage: "Delete finished jobs older than this many days (defaults to cleanup.retention_days)",
					},
				},
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed every chunk of a collection with the configured embedder",
				Action: reindexCommand,
				Flags: []cli.Flag{
					collectionFlag(),
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to embed per request",
						Value: 64,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 256,
					},
					&cli.IntFlag{
						Name:  "max-retries",
						Usage: "Maximum attempts per batch",
						Value: 3,
					},
					&cli.DurationFlag{
						Name:  "retry-delay",
						Usage: "Base delay for exponential backoff",
						Value: 1 * time.Second,
					},
				},
			},
		},
	}
}

func collectionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "collection",
		Aliases:  []string{"C"},
		Usage:    "Collection id or name",
		Required: true,
	}
}

// setupLogger loads the configuration and installs the default logger.
// --log-level wins over the config file.
func setupLogger(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if lvl := c.String("log-level"); lvl != "" {
		if _, err := config.ParseLevel(lvl); err != nil {
			return err
		}
		cfg.Log.Level = lvl
	}

	logger, cleanup, err := config.SetupLogger(cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if c.App.Metadata == nil {
		c.App.Metadata = map[string]any{}
	}
	c.App.Metadata[metaConfig] = cfg
	c.App.Metadata[metaLogCleanup] = cleanup
	return nil
}

func closeLogger(c *cli.Context) error {
	if cleanup, ok := c.App.Metadata[metaLogCleanup].(func() error); ok {
		return cleanup()
	}
	return nil
}

func loadedConfig(c *cli.Context) (*config.Config, error) {
	cfg, ok := c.App.Metadata[metaConfig].(*config.Config)
	if !ok {
		return nil, fmt.Errorf("configuration not loaded")
	}
	return cfg, nil
}
