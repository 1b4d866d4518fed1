package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/ragjobs"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/metrics"
	"github.com/poiesic/ragjobs/reindex"
	"github.com/poiesic/ragjobs/storage"
)

const pollInterval = 200 * time.Millisecond

// withSystem opens the system for one command and closes it afterwards,
// waiting for any job the command queued.
func withSystem(c *cli.Context, fn func(ctx context.Context, sys *ragjobs.System) error) error {
	cfg, err := loadedConfig(c)
	if err != nil {
		return err
	}
	sys, err := ragjobs.New(cfg, ragjobs.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = fn(ctx, sys)
	return errors.Join(err, sys.Close())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCommand(c *cli.Context) error {
	cfg, err := loadedConfig(c)
	if err != nil {
		return err
	}
	sys, err := ragjobs.New(cfg, ragjobs.WithLogger(slog.Default()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sys.StartCleanup(ctx)

	var srv *http.Server
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		srv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server failed", "addr", cfg.Metrics.Addr, "err", err)
				stop()
			}
		}()
		slog.Info("metrics listening", "addr", cfg.Metrics.Addr)
	}

	slog.Info("ragjobs running", "workers", cfg.Workers.WorkerCount(), "storage", cfg.Storage.Backend)
	<-ctx.Done()
	slog.Info("shutting down")

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown", "err", err)
		}
	}
	return sys.Shutdown(c.Duration("shutdown-timeout"))
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one file is required", 1)
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		collection, err := sys.Collection(ctx, c.String("collection"))
		if err != nil {
			return err
		}

		var queued []*core.Job
		for _, arg := range c.Args().Slice() {
			path, err := filepath.Abs(arg)
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return err
			}
			job, err := sys.Ingest(ctx, collection.ID, path, c.String("user"))
			if err != nil {
				return fmt.Errorf("submitting %s: %w", arg, err)
			}
			queued = append(queued, job)
		}

		failed := 0
		for _, job := range queued {
			done, err := sys.Wait(ctx, job.ID, pollInterval)
			if err != nil {
				return err
			}
			if done.Status == core.JobStatusFailed {
				failed++
			}
			if err := printJSON(c.App.Writer, done); err != nil {
				return err
			}
		}
		if failed > 0 {
			return cli.Exit(fmt.Sprintf("%d of %d ingestion jobs failed", failed, len(queued)), 1)
		}
		return nil
	})
}

func queryCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return cli.Exit("a question is required", 1)
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		collection, err := sys.Collection(ctx, c.String("collection"))
		if err != nil {
			return err
		}
		job, err := sys.Ask(ctx, collection.ID, question, c.String("model"), c.Int("top-k"))
		if err != nil {
			return err
		}
		done, err := sys.Wait(ctx, job.ID, pollInterval)
		if err != nil {
			return err
		}
		if done.Status == core.JobStatusFailed {
			return cli.Exit(fmt.Sprintf("query failed: %s", done.Error), 1)
		}

		var result core.QueryResult
		if err := json.Unmarshal(done.Result, &result); err != nil {
			return fmt.Errorf("decoding result: %w", err)
		}
		printAnswer(c.App.Writer, &result)
		return nil
	})
}

func printAnswer(w io.Writer, result *core.QueryResult) {
	fmt.Fprintln(w, result.Response.Answer)
	if len(result.Response.Sources) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for _, src := range result.Response.Sources {
		line := "  - " + src.Filename
		if src.Section != "" {
			line += " (" + src.Section + ")"
		}
		if len(src.Pages) > 0 {
			pages := make([]string, len(src.Pages))
			for i, p := range src.Pages {
				pages[i] = fmt.Sprint(p)
			}
			line += " p. " + strings.Join(pages, ", ")
		}
		fmt.Fprintln(w, line)
	}
}

func jobsGetCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one job id is required", 1)
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		job, err := sys.Jobs().Get(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, job)
	})
}

func jobsListCommand(c *cli.Context) error {
	filter := storage.JobFilter{Limit: c.Int("limit")}
	if s := c.String("status"); s != "" {
		status, err := core.ParseJobStatus(s)
		if err != nil {
			return err
		}
		filter.Status = status
	}
	if s := c.String("type"); s != "" {
		jobType, err := core.ParseJobType(s)
		if err != nil {
			return err
		}
		filter.Type = jobType
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		list, err := sys.Jobs().List(ctx, filter)
		if err != nil {
			return err
		}
		for _, job := range list {
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%s\t%s\n",
				job.ID, job.Type, job.Status, job.Progress, job.CreatedAt.Format(time.RFC3339))
		}
		return nil
	})
}

func collectionCreateCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one collection name is required", 1)
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		collection, err := sys.CreateCollection(ctx, c.Args().First(), c.String("description"), c.String("owner"))
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, collection)
	})
}

func collectionListCommand(c *cli.Context) error {
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		list, err := sys.Collections(ctx)
		if err != nil {
			return err
		}
		for _, col := range list {
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", col.ID, col.Name, col.Description)
		}
		return nil
	})
}

func collectionGetCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one collection id or name is required", 1)
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		collection, err := sys.Collection(ctx, c.Args().First())
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, collection)
	})
}

func collectionDeleteCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("exactly one collection id or name is required", 1)
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		collection, err := sys.Collection(ctx, c.Args().First())
		if err != nil {
			return err
		}
		if err := sys.DeleteCollection(ctx, collection.ID); err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "deleted collection %s\n", collection.Name)
		return nil
	})
}

func cleanupCommand(c *cli.Context) error {
	days := c.Int("days")
	if c.IsSet("days") && days < 1 {
		return cli.Exit("days must be at least 1", 1)
	}
	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		var (
			report any
			err    error
		)
		if days > 0 {
			report, err = sys.Cleanup().SweepWithRetention(ctx, time.Duration(days)*24*time.Hour)
		} else {
			report, err = sys.Cleanup().Sweep(ctx)
		}
		if err != nil {
			return err
		}
		return printJSON(c.App.Writer, report)
	})
}

func reindexCommand(c *cli.Context) error {
	cfg := reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		MaxRetries:     c.Int("max-retries"),
		RetryDelay:     c.Duration("retry-delay"),
	}
	if cfg.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if cfg.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	if cfg.MaxRetries <= 0 {
		return fmt.Errorf("max-retries must be greater than 0")
	}

	return withSystem(c, func(ctx context.Context, sys *ragjobs.System) error {
		collection, err := sys.Collection(ctx, c.String("collection"))
		if err != nil {
			return err
		}
		r, err := sys.NewReindexer(cfg, c.App.ErrWriter)
		if err != nil {
			return err
		}
		if _, err := r.Run(ctx, collection.ID); err != nil {
			return fmt.Errorf("reindex failed: %w", err)
		}
		return nil
	})
}
