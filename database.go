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


package athena

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/ai/openai"
	"github.com/poiesic/athena/ai/wikilink"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
	"github.com/poiesic/athena/ingestion"
	"github.com/poiesic/athena/linker"
	"github.com/poiesic/athena/reembed"
	"github.com/poiesic/athena/retry"
	"github.com/poiesic/athena/search"
	"github.com/poiesic/athena/semantic"
	"github.com/poiesic/athena/storage"
	"github.com/poiesic/athena/storage/badger"
)

// DefaultMaxConcurrentCalls bounds in-flight external calls across every component.
const DefaultMaxConcurrentCalls = 8

type Database struct {
	repos      *badger.Repositories
	store      *semantic.Store
	embedder   *embedding.Service
	linker     *linker.Linker
	provider   ai.AIProvider
	summarizer ai.Summarizer
	concepts   ai.ConceptExtractor
	gate       *semaphore.Weighted
	options    *databaseOptions
	logger     *slog.Logger
}

// DatabaseOption configures a Database.
type DatabaseOption func(*databaseOptions)

type databaseOptions struct {
	aiConfig         *ai.Config
	provider         ai.AIProvider
	conceptExtractor ai.ConceptExtractor
	cache            storage.Cache
	cacheTTL         time.Duration
	policy           retry.Policy
	maxCalls         int64
	threshold        float32
	allowModelChange bool
	inMemory         bool
	logger           *slog.Logger
}

// WithAIConfig sets the configuration the OpenAI-compatible provider is built from.
func WithAIConfig(config *ai.Config) DatabaseOption {
	return func(o *databaseOptions) {
		o.aiConfig = config
	}
}

// WithAIProvider uses provider instead of building one from the AI config.
// The database closes it.
func WithAIProvider(provider ai.AIProvider) DatabaseOption {
	return func(o *databaseOptions) {
		o.provider = provider
	}
}

// WithConceptExtractor replaces the default [[wikilink]] extractor.
func WithConceptExtractor(extractor ai.ConceptExtractor) DatabaseOption {
	return func(o *databaseOptions) {
		o.conceptExtractor = extractor
	}
}

// WithSharedCache caches vectors and summaries in cache instead of the database itself.
func WithSharedCache(cache storage.Cache, ttl time.Duration) DatabaseOption {
	return func(o *databaseOptions) {
		o.cache = cache
		o.cacheTTL = ttl
	}
}

// WithRetryPolicy sets the policy for every external call.
func WithRetryPolicy(policy retry.Policy) DatabaseOption {
	return func(o *databaseOptions) {
		o.policy = policy
	}
}

// WithMaxConcurrentCalls bounds in-flight embedding, summary and extraction calls.
func WithMaxConcurrentCalls(n int) DatabaseOption {
	return func(o *databaseOptions) {
		o.maxCalls = int64(n)
	}
}

// WithLinkThreshold sets the similarity at which concept phrases merge.
func WithLinkThreshold(threshold float32) DatabaseOption {
	return func(o *databaseOptions) {
		o.threshold = threshold
	}
}

// WithAllowModelChange opens a store built with another embedding model so it can be re-embedded.
func WithAllowModelChange() DatabaseOption {
	return func(o *databaseOptions) {
		o.allowModelChange = true
	}
}

// WithInMemory keeps everything in memory. The path is ignored.
func WithInMemory() DatabaseOption {
	return func(o *databaseOptions) {
		o.inMemory = true
	}
}

// WithLogger sets the logger passed to every component.
func WithLogger(logger *slog.Logger) DatabaseOption {
	return func(o *databaseOptions) {
		o.logger = logger
	}
}

func NewDatabase(filePath string, opts ...DatabaseOption) (*Database, error) {
	// Apply options
	options := &databaseOptions{
		aiConfig:  ai.DefaultConfig(), // Default if not provided
		policy:    retry.DefaultPolicy(),
		maxCalls:  DefaultMaxConcurrentCalls,
		threshold: linker.DefaultThreshold,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	if options.maxCalls < 1 {
		options.maxCalls = 1
	}
	if err := options.policy.Validate(); err != nil {
		return nil, err
	}

	repos, err := badger.OpenRepositories(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}
	db := &Database{
		repos:   repos,
		gate:    semaphore.NewWeighted(options.maxCalls),
		options: options,
		logger:  options.logger.With("component", "database"),
	}
	if err := db.init(options); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (db *Database) init(options *databaseOptions) error {
	provider := options.provider
	if provider == nil {
		var err error
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			return err
		}
	}
	db.provider = provider

	cache := options.cache
	if cache == nil {
		cache = db.repos.Cache
	}

	embedder, err := embedding.NewService(provider.Embedder(),
		options.aiConfig.EmbeddingModel, options.aiConfig.EmbeddingDimension,
		embedding.WithRetryPolicy(options.policy),
		embedding.WithSharedCache(cache, options.cacheTTL),
		embedding.WithGate(db.gate),
		embedding.WithLogger(options.logger.With("component", "embedding")),
	)
	if err != nil {
		return err
	}
	db.embedder = embedder

	storeOpts := []semantic.Option{semantic.WithLogger(options.logger.With("component", "semantic"))}
	if options.allowModelChange {
		storeOpts = append(storeOpts, semantic.WithAllowModelChange())
	}
	db.store, err = semantic.Open(context.Background(), semantic.Repositories{
		Papers:   db.repos.Papers,
		Concepts: db.repos.Concepts,
		Links:    db.repos.Links,
		Schema:   db.repos.Schema,
	}, embedder, storeOpts...)
	if err != nil {
		return err
	}

	db.linker, err = linker.New(db.store, embedder,
		linker.WithThreshold(options.threshold),
		linker.WithLogger(options.logger.With("component", "linker")))
	if err != nil {
		return err
	}

	db.summarizer = ai.NewCachingSummarizer(provider.Summarizer(), cache, options.cacheTTL)
	db.concepts = options.conceptExtractor
	if db.concepts == nil {
		db.concepts = wikilink.New()
	}
	return nil
}

func (db *Database) Close() error {
	var errs []error
	// Close AI provider first
	if db.provider != nil {
		if err := db.provider.Close(); err != nil {
			db.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if db.embedder != nil {
		db.embedder.Close()
	}

	if err := db.repos.Close(); err != nil {
		db.logger.Error("error closing storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Store returns the semantic store.
func (db *Database) Store() *semantic.Store {
	return db.store
}

// Embedder returns the embedding service shared by every component.
func (db *Database) Embedder() *embedding.Service {
	return db.embedder
}

func (db *Database) CheckpointRepository() storage.CheckpointRepository {
	return db.repos.Checkpoints
}

// Gate returns the semaphore that admits external calls.
func (db *Database) Gate() *semaphore.Weighted {
	return db.gate
}

// NewIngestionPipeline builds a pipeline over the store. The pipeline shares the
// database's call gate and retry policy; opts may override either.
func (db *Database) NewIngestionPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	defaults := []ingestion.Option{
		ingestion.WithGate(db.gate),
		ingestion.WithRetryPolicy(db.options.policy),
		ingestion.WithSummaryOptions(db.options.aiConfig.SummaryOptions()),
		ingestion.WithLogger(db.options.logger.With("component", "ingestion")),
	}
	return ingestion.NewPipeline(db.store, db.linker, db.summarizer, db.concepts, append(defaults, opts...)...)
}

func (db *Database) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	defaults := []search.Option{
		search.WithConceptThreshold(db.options.threshold),
		search.WithLogger(db.options.logger.With("component", "search")),
	}
	return search.NewSearcher(db.store, db.embedder, append(defaults, opts...)...)
}

// NewReembedder builds a reembedder that checkpoints into the database.
func (db *Database) NewReembedder(config *reembed.Config, progress io.Writer) (*reembed.Reembedder, error) {
	return reembed.NewReembedder(db.store, db.embedder, db.repos.Checkpoints, config, progress)
}

// Status summarizes what the store holds.
type Status struct {
	Papers             int
	Concepts           int
	NeedsReprocessing  int
	EmbeddingModel     string
	Dimension          int
	ModelChangePending bool
	Watches            []WatchRun
}

// WatchRun is the bookkeeping kept for one watched query.
type WatchRun struct {
	Query     string
	Papers    int // papers stored across all runs
	LastRunAt time.Time
}

const watchCheckpointPrefix = "watch:"

// RecordWatchRun adds stored to the query's running total and stamps the run time.
func (db *Database) RecordWatchRun(ctx context.Context, query string, stored int) error {
	name := watchCheckpointPrefix + query
	cp, err := db.repos.Checkpoints.LoadCheckpoint(ctx, name)
	if err != nil {
		return err
	}
	if cp == nil {
		cp = &core.Checkpoint{Name: name}
	}
	cp.Processed += stored
	cp.LastRunAt = time.Now().UTC()
	return db.repos.Checkpoints.SaveCheckpoint(ctx, cp)
}

// WatchRuns lists every watched query that has run at least once, ordered by query.
func (db *Database) WatchRuns(ctx context.Context) ([]WatchRun, error) {
	checkpoints, err := db.repos.Checkpoints.ListCheckpoints(ctx, watchCheckpointPrefix)
	if err != nil {
		return nil, err
	}
	runs := make([]WatchRun, 0, len(checkpoints))
	for _, cp := range checkpoints {
		runs = append(runs, WatchRun{
			Query:     strings.TrimPrefix(cp.Name, watchCheckpointPrefix),
			Papers:    cp.Processed,
			LastRunAt: cp.LastRunAt,
		})
	}
	return runs, nil
}

// Status counts papers and concepts and reports the embedding model in use.
func (db *Database) Status(ctx context.Context) (*Status, error) {
	papers, err := db.store.CountPapers(ctx)
	if err != nil {
		return nil, err
	}
	concepts, err := db.store.CountConcepts(ctx)
	if err != nil {
		return nil, err
	}
	flagged, err := db.store.PapersNeedingReprocessing(ctx)
	if err != nil {
		return nil, err
	}
	watches, err := db.WatchRuns(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Papers:             papers,
		Concepts:           concepts,
		NeedsReprocessing:  len(flagged),
		EmbeddingModel:     db.embedder.Model(),
		Dimension:          db.embedder.Dimension(),
		ModelChangePending: db.store.ModelChangePending(),
		Watches:            watches,
	}, nil
}

// DeletePaper removes a paper, its links and its vector. Deleting an unknown
// paper is not an error; existed reports whether anything was removed.
func (db *Database) DeletePaper(ctx context.Context, id core.ID) (existed bool, err error) {
	return db.store.DeletePaper(ctx, id)
}
