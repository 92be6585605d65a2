package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/poiesic/athena"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/ingestion"
	"github.com/poiesic/athena/reembed"
	"github.com/poiesic/athena/search"
)

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Search for papers and ingest them",
		ArgsUsage: "QUERY",
		Action:    ingestAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "max-results",
				Aliases: []string{"n"},
				Usage:   "Maximum number of search results to ingest",
				Value:   10,
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Papers processed concurrently per batch (overrides ATHENA_BATCH_SIZE)",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Search provider, exa or arxiv (overrides ATHENA_SEARCH_PROVIDER)",
			},
		},
	}
}

func ingestAction(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("a search query is required")
	}
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("provider") {
		cfg.SearchProvider = c.String("provider")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := &resources{}
	defer res.Close()
	db, err := openDatabase(ctx, cfg, res)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(ctx, cfg, db, res)
	if err != nil {
		return err
	}

	reports, err := pipeline.Ingest(ctx, query, c.Int("max-results"))
	printReports(c.App.Writer, reports)
	if err != nil {
		return fmt.Errorf("ingestion failed: %w", err)
	}
	return nil
}

func reprocessCommand() *cli.Command {
	return &cli.Command{
		Name:   "reprocess",
		Usage:  "Summarize and link papers whose enrichment failed earlier",
		Action: reprocessAction,
	}
}

func reprocessAction(c *cli.Context) error {
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := &resources{}
	defer res.Close()
	db, err := openDatabase(ctx, cfg, res)
	if err != nil {
		return err
	}
	pipeline, err := newPipeline(ctx, cfg, db, res)
	if err != nil {
		return err
	}

	reports, err := pipeline.Reprocess(ctx)
	if len(reports) == 0 && err == nil {
		fmt.Fprintln(c.App.Writer, "No papers need reprocessing")
		return nil
	}
	printReports(c.App.Writer, reports)
	if err != nil {
		return fmt.Errorf("reprocessing failed: %w", err)
	}
	return nil
}

func printReports(w io.Writer, reports []*ingestion.BatchReport) {
	for _, r := range reports {
		fmt.Fprintln(w, r)
		for _, p := range r.Papers {
			switch p.Outcome {
			case ingestion.OutcomeFailed:
				fmt.Fprintf(w, "  failed: %q: %v\n", p.Title, p.Failure)
			case ingestion.OutcomePartial:
				for _, f := range p.Partial {
					fmt.Fprintf(w, "  partial: %q: %v\n", p.Title, f)
				}
			case ingestion.OutcomeIncomplete:
				fmt.Fprintf(w, "  incomplete: %q (stopped after %s)\n", p.Title, p.Stage)
			}
		}
	}
	stored, partial, failed, incomplete := ingestion.Totals(reports)
	fmt.Fprintf(w, "Total: %d stored, %d partial, %d failed, %d incomplete\n", stored, partial, failed, incomplete)
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search stored papers",
		ArgsUsage: "QUERY",
		Action:    searchAction,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Maximum number of hits",
				Value:   5,
			},
			&cli.Float64Flag{
				Name:  "min-score",
				Usage: "Minimum cosine similarity for a semantic hit",
				Value: float64(search.DefaultMinScore),
			},
		},
	}
}

func searchAction(c *cli.Context) error {
	query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if query == "" {
		return fmt.Errorf("a search query is required")
	}
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}

	res := &resources{}
	defer res.Close()
	db, err := openDatabase(c.Context, cfg, res)
	if err != nil {
		return err
	}
	searcher, err := db.NewSearcher(search.WithMinScore(float32(c.Float64("min-score"))))
	if err != nil {
		return err
	}

	results, err := searcher.FindSimilar(c.Context, query, c.Int("limit"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Found %d hits\n", len(results))
	for i, hit := range results {
		fmt.Fprintf(c.App.Writer, "%d: %s [%0.3f] %s\n", i, hit.Record.Id, hit.Score, hit.Record.Title)
	}
	return nil
}

func deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete papers by id from the store and the exporters that support removal",
		ArgsUsage: "ID [ID...]",
		Action:    deleteAction,
	}
}

func deleteAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return fmt.Errorf("at least one paper id is required")
	}
	ids := make([]core.ID, 0, c.NArg())
	for _, arg := range c.Args().Slice() {
		id, err := core.ParseID(arg)
		if err != nil {
			return fmt.Errorf("invalid paper id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}

	res := &resources{}
	defer res.Close()
	db, err := openDatabase(c.Context, cfg, res)
	if err != nil {
		return err
	}
	exporter, err := newExporter(cfg, res)
	if err != nil {
		return err
	}

	for _, id := range ids {
		existed, err := db.DeletePaper(c.Context, id)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
		if err := exporter.Remove(c.Context, id); err != nil {
			return fmt.Errorf("removing %s from exporters: %w", id, err)
		}
		if existed {
			fmt.Fprintf(c.App.Writer, "Deleted %s\n", id)
		} else {
			fmt.Fprintf(c.App.Writer, "%s not found\n", id)
		}
	}
	return nil
}

func reembedCommand() *cli.Command {
	return &cli.Command{
		Name:   "reembed",
		Usage:  "Reembed all papers and concepts with the configured embedding model",
		Action: reembedAction,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL (overrides ATHENA_EMBEDDING_HOST)",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name (overrides ATHENA_EMBEDDING_MODEL)",
			},
			&cli.IntFlag{
				Name:  "embedding-dimension",
				Usage: "Vector length of the embedding model (overrides ATHENA_EMBEDDING_DIMENSION)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Number of records to process in each batch",
				Value: reembed.DefaultBatchSize,
			},
			&cli.IntFlag{
				Name:  "report-interval",
				Usage: "Report progress every N records",
				Value: 100,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "Reembed even when the store already uses the configured model",
			},
		},
	}
}

func reembedAction(c *cli.Context) error {
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}
	if c.IsSet("embedding-host") {
		cfg.EmbeddingHost = c.String("embedding-host")
	}
	if c.IsSet("embedding-model") {
		cfg.EmbeddingModel = c.String("embedding-model")
	}
	if c.IsSet("embedding-dimension") {
		cfg.EmbeddingDimension = c.Int("embedding-dimension")
	}
	reembedConfig := &reembed.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
	}
	if reembedConfig.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if reembedConfig.ReportInterval <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res := &resources{}
	defer res.Close()
	db, err := openDatabase(ctx, cfg, res, athena.WithAllowModelChange())
	if err != nil {
		return err
	}
	if !db.Store().ModelChangePending() && !c.Bool("force") {
		fmt.Fprintf(c.App.ErrWriter, "Store already uses %s (%d); use --force to reembed anyway\n",
			cfg.EmbeddingModel, cfg.EmbeddingDimension)
		return nil
	}

	reembedder, err := db.NewReembedder(reembedConfig, c.App.ErrWriter)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", cfg.DBPath)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s (%d)\n", cfg.EmbeddingModel, cfg.EmbeddingDimension)
	fmt.Fprintln(c.App.ErrWriter)

	if _, err := reembedder.Run(ctx); err != nil {
		return fmt.Errorf("reembedding failed: %w", err)
	}
	return nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show what the store holds",
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	cfg, err := configFrom(c)
	if err != nil {
		return err
	}
	res := &resources{}
	defer res.Close()
	db, err := openDatabase(c.Context, cfg, res, athena.WithAllowModelChange())
	if err != nil {
		return err
	}
	return printStatus(c.Context, c.App.Writer, db, cfg.DBPath)
}

func printStatus(ctx context.Context, w io.Writer, db *athena.Database, path string) error {
	status, err := db.Status(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Database: %s\n", path)
	fmt.Fprintf(w, "Papers: %d (%d need reprocessing)\n", status.Papers, status.NeedsReprocessing)
	fmt.Fprintf(w, "Concepts: %d\n", status.Concepts)
	fmt.Fprintf(w, "Embedding model: %s (%d)\n", status.EmbeddingModel, status.Dimension)
	if status.ModelChangePending {
		fmt.Fprintln(w, "Embedding model changed: run 'athena reembed'")
	}
	for _, run := range status.Watches {
		fmt.Fprintf(w, "Watch %q: %d papers, last run %s\n", run.Query, run.Papers, run.LastRunAt.Local().Format(time.DateTime))
	}
	return nil
}
