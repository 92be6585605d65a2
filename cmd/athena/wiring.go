package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/poiesic/athena"
	"github.com/poiesic/athena/ai/openai"
	"github.com/poiesic/athena/config"
	"github.com/poiesic/athena/export"
	"github.com/poiesic/athena/export/catalog"
	"github.com/poiesic/athena/export/events"
	"github.com/poiesic/athena/export/obsidian"
	"github.com/poiesic/athena/ingestion"
	"github.com/poiesic/athena/sources"
	"github.com/poiesic/athena/sources/arxiv"
	"github.com/poiesic/athena/sources/exa"
	"github.com/poiesic/athena/sources/tika"
	"github.com/poiesic/athena/storage/rediscache"
)

// resources closes what a command opened, in reverse order.
type resources struct {
	closers []func() error
}

func (r *resources) add(fn func() error) {
	r.closers = append(r.closers, fn)
}

func (r *resources) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		errs = append(errs, r.closers[i]())
	}
	return errors.Join(errs...)
}

// openDatabase wires the database from cfg.
func openDatabase(ctx context.Context, cfg *config.Config, res *resources, extra ...athena.DatabaseOption) (*athena.Database, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts := []athena.DatabaseOption{
		athena.WithAIConfig(cfg.AIConfig()),
		athena.WithRetryPolicy(cfg.RetryPolicy()),
		athena.WithMaxConcurrentCalls(cfg.MaxConcurrentCalls),
		athena.WithLinkThreshold(cfg.LinkThreshold),
	}

	if cfg.RedisAddr != "" {
		cache, err := rediscache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		res.add(cache.Close)
		opts = append(opts, athena.WithSharedCache(cache, cfg.CacheTTL))
	}

	if strings.EqualFold(cfg.ConceptExtractor, config.ExtractorLLM) {
		extractor, err := openai.NewConceptExtractor(cfg.AIConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create concept extractor: %w", err)
		}
		opts = append(opts, athena.WithConceptExtractor(extractor))
	}

	db, err := athena.NewDatabase(cfg.DBPath, append(opts, extra...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	res.add(db.Close)
	return db, nil
}

func newSearchProvider(cfg *config.Config) (sources.Searcher, error) {
	switch strings.ToLower(cfg.SearchProvider) {
	case config.ProviderArxiv:
		return arxiv.New(), nil
	default:
		return exa.New(cfg.ExaAPIKey,
			exa.WithDomains(cfg.ExaDomains...),
			exa.WithYears(cfg.StartYear, cfg.EndYear))
	}
}

// newTextExtractor returns nil when no Tika server is configured.
func newTextExtractor(ctx context.Context, cfg *config.Config) (sources.Extractor, error) {
	if cfg.TikaURL == "" {
		return nil, nil
	}
	var opts []tika.Option
	if cfg.MinioEndpoint != "" {
		archive, err := tika.NewMinioArchive(ctx, tika.MinioConfig{
			Endpoint:        cfg.MinioEndpoint,
			AccessKeyID:     cfg.MinioAccessKey,
			SecretAccessKey: cfg.MinioSecretKey,
			Bucket:          cfg.MinioBucket,
			UseSSL:          cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, tika.WithArchive(archive))
	}
	return tika.New(cfg.TikaURL, opts...)
}

// newExporter combines every configured exporter. An empty result exports nothing.
func newExporter(cfg *config.Config, res *resources) (export.Multi, error) {
	var exporters export.Multi
	if cfg.VaultPath != "" {
		if err := os.MkdirAll(cfg.VaultPath, 0o755); err != nil {
			return nil, fmt.Errorf("creating vault: %w", err)
		}
		vault, err := obsidian.New(cfg.VaultPath)
		if err != nil {
			return nil, err
		}
		exporters = append(exporters, vault)
	}
	if cfg.CatalogPath != "" {
		cat, err := catalog.Open(cfg.CatalogPath)
		if err != nil {
			return nil, err
		}
		res.add(cat.Close)
		exporters = append(exporters, cat)
	}
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := events.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return nil, err
		}
		res.add(publisher.Close)
		exporters = append(exporters, publisher)
	}
	slog.Debug("exporters configured", "count", len(exporters))
	return exporters, nil
}

// newPipeline builds an ingestion pipeline with every configured collaborator.
func newPipeline(ctx context.Context, cfg *config.Config, db *athena.Database, res *resources, opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	searcher, err := newSearchProvider(cfg)
	if err != nil {
		return nil, err
	}
	extractor, err := newTextExtractor(ctx, cfg)
	if err != nil {
		return nil, err
	}
	exporter, err := newExporter(cfg, res)
	if err != nil {
		return nil, err
	}

	defaults := []ingestion.Option{
		ingestion.WithSearcher(searcher),
		ingestion.WithBatchSize(cfg.BatchSize),
		ingestion.WithExportTimeout(cfg.ExportTimeout),
	}
	if cfg.PoolSize > 0 {
		defaults = append(defaults, ingestion.WithPoolSize(cfg.PoolSize))
	}
	if extractor != nil {
		defaults = append(defaults, ingestion.WithTextExtractor(extractor))
	}
	if len(exporter) > 0 {
		defaults = append(defaults, ingestion.WithExporter(exporter))
	}

	pipeline, err := db.NewIngestionPipeline(append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}
	res.add(func() error {
		pipeline.Wait()
		pipeline.Release()
		return nil
	})
	return pipeline, nil
}
