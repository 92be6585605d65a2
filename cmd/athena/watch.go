package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/athena"
	"github.com/poiesic/athena/ingestion"
)

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:   "watch",
		Usage:  "Ingest saved queries on a schedule and serve metrics",
		Action: watchAction,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "query",
				Aliases: []string{"q"},
				Usage:   "Query to ingest on every run (repeatable, overrides ATHENA_WATCH_QUERIES)",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "Cron schedule (overrides ATHENA_WATCH_SCHEDULE)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Address to serve /metrics on; empty disables (overrides ATHENA_METRICS_ADDR)",
			},
			&cli.IntFlag{
				Name:    "max-results",
				Aliases: []string{"n"},
				Usage:   "Maximum number of search results per query and run",
				Value:   10,
			},
			&cli.BoolFlag{
				Name:  "run-now",
				Usage: "Run once immediately instead of waiting for the first scheduled time",
			},
		},
	}
}

func watchAction(c *cli.Context) error {
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}
	if c.IsSet("query") {
		cfg.WatchQueries = c.StringSlice("query")
	}
	if c.IsSet("schedule") {
		cfg.WatchSchedule = c.String("schedule")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}
	if len(cfg.WatchQueries) == 0 {
		return fmt.Errorf("at least one query is required")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	res := &resources{}
	defer res.Close()
	db, err := openDatabase(ctx, cfg, res)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(ctx, cfg, db, res, ingestion.WithMetrics(registry))
	if err != nil {
		return err
	}

	w := &watcher{
		db:         db,
		pipeline:   pipeline,
		queries:    cfg.WatchQueries,
		maxResults: c.Int("max-results"),
		logger:     slog.Default().With("component", "watch"),
	}

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc(cfg.WatchSchedule, func() { w.run(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.WatchSchedule, err)
	}

	var srv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		srv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				w.logger.Error("metrics server failed", "err", err)
				stop()
			}
		}()
		w.logger.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	if c.Bool("run-now") {
		w.run(ctx)
	}
	scheduler.Start()
	w.logger.Info("watching", "schedule", cfg.WatchSchedule, "queries", len(cfg.WatchQueries))

	<-ctx.Done()
	w.logger.Info("shutting down")
	<-scheduler.Stop().Done()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			w.logger.Warn("metrics server shutdown", "err", err)
		}
	}
	return nil
}

// watcher ingests every saved query once per run and records each run in the database.
type watcher struct {
	db         *athena.Database
	pipeline   *ingestion.Pipeline
	queries    []string
	maxResults int
	logger     *slog.Logger
}

func (w *watcher) run(ctx context.Context) {
	for _, query := range w.queries {
		if ctx.Err() != nil {
			return
		}
		reports, err := w.pipeline.Ingest(ctx, query, w.maxResults)
		stored, partial, failed, incomplete := ingestion.Totals(reports)
		if err != nil {
			w.logger.Error("scheduled ingestion failed", "query", query, "err", err)
		}
		w.logger.Info("scheduled ingestion finished", "query", query,
			"stored", stored, "partial", partial, "failed", failed, "incomplete", incomplete)
		if err := w.db.RecordWatchRun(ctx, query, stored+partial); err != nil {
			w.logger.Warn("failed to record watch run", "query", query, "err", err)
		}
	}
}
