package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/export"
	"github.com/poiesic/athena/linker"
	"github.com/poiesic/athena/retry"
	"github.com/poiesic/athena/semantic"
	"github.com/poiesic/athena/sources"
)

const (
	// DefaultBatchSize is the number of papers processed per batch.
	DefaultBatchSize = 10

	// DefaultExportTimeout bounds one detached export.
	DefaultExportTimeout = 30 * time.Second
)

// Store is the part of the semantic store the pipeline writes through.
type Store interface {
	GetPaper(ctx context.Context, id core.ID) (*core.PaperRecord, error)
	UpsertPaper(ctx context.Context, record *core.PaperRecord) (*core.PaperRecord, semantic.Change, error)
	UpsertLinks(ctx context.Context, links ...core.Link) error
	LinksForPaper(ctx context.Context, paperID core.ID) ([]core.Link, error)
	GetConcept(ctx context.Context, id core.ID) (*core.ConceptRecord, error)
	PapersForConcept(ctx context.Context, conceptID core.ID) ([]core.ID, error)
	PapersNeedingReprocessing(ctx context.Context) ([]*core.PaperRecord, error)
}

// Linker resolves extracted phrases to canonical concepts.
type Linker interface {
	Resolve(ctx context.Context, paperID core.ID, concepts []ai.ExtractedConcept) (*linker.Resolution, error)
}

// Pipeline orchestrates the ingestion of research papers.
// It is safe for concurrent use; each call gets its own reports.
type Pipeline struct {
	store      Store
	linker     Linker
	summarizer ai.Summarizer
	concepts   ai.ConceptExtractor
	searcher   sources.Searcher
	extractor  sources.Extractor
	exporter   export.Exporter

	policy        retry.Policy
	summaryOpts   ai.SummaryOptions
	batchSize     int
	poolSize      int
	maxCalls      int64
	gate          *semaphore.Weighted
	exportTimeout time.Duration
	registerer    prometheus.Registerer

	pool    *ants.Pool
	metrics *metrics
	exports sync.WaitGroup
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithSearcher sets the search provider used by Ingest.
func WithSearcher(searcher sources.Searcher) Option {
	return func(p *Pipeline) error {
		p.searcher = searcher
		return nil
	}
}

// WithTextExtractor sets the full-text extractor. Without one, papers keep
// only the text their search provider returned.
func WithTextExtractor(extractor sources.Extractor) Option {
	return func(p *Pipeline) error {
		p.extractor = extractor
		return nil
	}
}

// WithExporter sets the exporter invoked after a paper is stored.
func WithExporter(exporter export.Exporter) Option {
	return func(p *Pipeline) error {
		p.exporter = exporter
		return nil
	}
}

// WithRetryPolicy sets the policy wrapped around every external call.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(p *Pipeline) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		p.policy = policy
		return nil
	}
}

// WithSummaryOptions sets the model and sampling passed to the summarizer.
func WithSummaryOptions(opts ai.SummaryOptions) Option {
	return func(p *Pipeline) error {
		p.summaryOpts = opts
		return nil
	}
}

// WithBatchSize sets how many papers make up one batch.
// Default is DefaultBatchSize.
func WithBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("%w: batch size must be at least 1", core.ErrInvalidInput)
		}
		p.batchSize = size
		return nil
	}
}

// WithPoolSize caps the papers in flight across all concurrent calls.
// Default is the batch size.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		p.poolSize = size
		return nil
	}
}

// WithMaxConcurrentCalls caps concurrent external calls. Default is the batch size.
// Ignored when WithGate supplies a shared gate.
func WithMaxConcurrentCalls(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("%w: concurrent call limit must be at least 1", core.ErrInvalidInput)
		}
		p.maxCalls = int64(n)
		return nil
	}
}

// WithGate shares an admission semaphore with other components, typically the embedding service.
func WithGate(gate *semaphore.Weighted) Option {
	return func(p *Pipeline) error {
		p.gate = gate
		return nil
	}
}

// WithExportTimeout bounds each detached export.
func WithExportTimeout(timeout time.Duration) Option {
	return func(p *Pipeline) error {
		if timeout <= 0 {
			return fmt.Errorf("%w: export timeout must be positive", core.ErrInvalidInput)
		}
		p.exportTimeout = timeout
		return nil
	}
}

// WithMetrics registers the pipeline's Prometheus collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Pipeline) error {
		p.registerer = reg
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	store Store,
	linker Linker,
	summarizer ai.Summarizer,
	concepts ai.ConceptExtractor,
	opts ...Option,
) (*Pipeline, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if linker == nil {
		return nil, ErrLinkerRequired
	}
	if summarizer == nil {
		return nil, ErrSummarizerRequired
	}
	if concepts == nil {
		return nil, ErrConceptExtractorRequired
	}

	p := &Pipeline{
		store:         store,
		linker:        linker,
		summarizer:    summarizer,
		concepts:      concepts,
		policy:        retry.DefaultPolicy(),
		batchSize:     DefaultBatchSize,
		exportTimeout: DefaultExportTimeout,
		now:           time.Now,
		logger:        slog.Default().With("component", "ingestion"),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.poolSize == 0 {
		p.poolSize = p.batchSize
	}
	if p.gate == nil {
		if p.maxCalls == 0 {
			p.maxCalls = int64(p.batchSize)
		}
		p.gate = semaphore.NewWeighted(p.maxCalls)
	}

	m, err := newMetrics(p.registerer)
	if err != nil {
		return nil, fmt.Errorf("registering ingestion metrics: %w", err)
	}
	p.metrics = m

	pool, err := ants.NewPool(p.poolSize)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Ingest searches for query and ingests up to maxResults papers in batches.
func (p *Pipeline) Ingest(ctx context.Context, query string, maxResults int) ([]*BatchReport, error) {
	if p.searcher == nil {
		return nil, ErrSearcherRequired
	}
	if maxResults < 1 {
		return nil, fmt.Errorf("%w: max results must be at least 1", core.ErrInvalidInput)
	}
	results, err := call(ctx, p, func(ctx context.Context) ([]sources.Result, error) {
		return p.searcher.Search(ctx, query, maxResults)
	})
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", query, err)
	}
	p.logger.Info("search complete", "query", query, "results", len(results))
	return p.IngestResults(ctx, query, results)
}

// IngestResults ingests search results discovered by query, one batch at a time.
//
// Batches stop being admitted once ctx is done; the papers left behind are reported
// incomplete. A batch-wide failure stops further batches and is returned with the
// reports gathered so far.
func (p *Pipeline) IngestResults(ctx context.Context, query string, results []sources.Result) ([]*BatchReport, error) {
	jobs := make([]*job, len(results))
	for i, r := range results {
		jobs[i] = &job{result: r}
	}
	return p.runBatches(ctx, query, jobs)
}

// Reprocess runs summarization and concept extraction again for every paper flagged
// NeedsReprocessing.
func (p *Pipeline) Reprocess(ctx context.Context) ([]*BatchReport, error) {
	papers, err := p.store.PapersNeedingReprocessing(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing papers to reprocess: %w", err)
	}
	p.logger.Info("reprocessing papers", "count", len(papers))
	jobs := make([]*job, len(papers))
	for i, paper := range papers {
		cp := *paper
		jobs[i] = &job{
			result:   sources.Result{Title: paper.Title},
			existing: paper,
			paper:    &cp,
			stage:    StageFetched,
		}
	}
	return p.runBatches(ctx, "", jobs)
}

func (p *Pipeline) runBatches(ctx context.Context, query string, jobs []*job) ([]*BatchReport, error) {
	var reports []*BatchReport
	for start, index := 0, 0; start < len(jobs); start, index = start+p.batchSize, index+1 {
		end := min(start+p.batchSize, len(jobs))
		report, err := p.runBatch(ctx, query, index, jobs[start:end])
		reports = append(reports, report)
		if err != nil {
			for rest, i := jobs[end:], index+1; len(rest) > 0; i++ {
				n := min(p.batchSize, len(rest))
				reports = append(reports, p.unadmitted(query, i, rest[:n]))
				rest = rest[n:]
			}
			return reports, err
		}
	}
	return reports, nil
}

// runBatch processes one batch and waits for all of its papers.
func (p *Pipeline) runBatch(ctx context.Context, query string, index int, jobs []*job) (*BatchReport, error) {
	report := &BatchReport{Query: query, Index: index, Started: p.now()}
	bctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var wg sync.WaitGroup
	for _, j := range jobs {
		if bctx.Err() != nil {
			if j.stage == 0 {
				j.stage = StageFetched
			}
			continue
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			p.process(bctx, cancel, query, j)
		})
		if err != nil {
			wg.Done()
			j.fail(StageFetched, "worker pool rejected paper", err)
		}
	}
	wg.Wait()

	for _, j := range jobs {
		report.add(j.report())
	}
	report.Finished = p.now()
	p.metrics.observe(report)
	p.logger.Info("batch finished", "query", query, "batch", index,
		"stored", report.Stored, "partial", report.Partial, "failed", report.Failed, "incomplete", report.Incomplete)

	if cause := context.Cause(bctx); cause != nil && fatal(cause) {
		return report, cause
	}
	if err := ctx.Err(); err != nil {
		return report, context.Cause(ctx)
	}
	return report, nil
}

func (p *Pipeline) unadmitted(query string, index int, jobs []*job) *BatchReport {
	now := p.now()
	report := &BatchReport{Query: query, Index: index, Started: now, Finished: now}
	for _, j := range jobs {
		if j.stage == 0 {
			j.stage = StageFetched
		}
		report.add(j.report())
	}
	return report
}

// Wait blocks until every detached export has finished.
func (p *Pipeline) Wait() {
	p.exports.Wait()
}

// Release waits for outstanding exports and releases the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	p.exports.Wait()
	if p.pool != nil {
		p.pool.Release()
	}
}

// call runs op under the retry policy, holding one admission unit per attempt.
func call[T any](ctx context.Context, p *Pipeline, op func(ctx context.Context) (T, error)) (T, error) {
	return retry.DoValue(ctx, p.policy, func(ctx context.Context) (T, error) {
		if err := p.gate.Acquire(ctx, 1); err != nil {
			var zero T
			return zero, err
		}
		defer p.gate.Release(1)
		return op(ctx)
	})
}

// fatal reports whether err must abort the whole batch.
func fatal(err error) bool {
	return errors.Is(err, core.ErrEmbeddingDimensionMismatch) ||
		errors.Is(err, core.ErrEmbeddingModelChanged) ||
		errors.Is(err, core.ErrStoreUnavailable)
}
