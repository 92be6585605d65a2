package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/ai/mock"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
	"github.com/poiesic/athena/export"
	"github.com/poiesic/athena/linker"
	"github.com/poiesic/athena/retry"
	"github.com/poiesic/athena/semantic"
	"github.com/poiesic/athena/sources"
	"github.com/poiesic/athena/storage/badger"
)

const dim = 16

var fastPolicy = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}

type fixture struct {
	store      *semantic.Store
	embedder   *mock.MockEmbedder
	summarizer *mock.MockSummarizer
	extractor  *mock.MockConceptExtractor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	embedder := mock.NewMockEmbedder()
	embedder.Dimension = dim
	svc, err := embedding.NewService(embedder, "mock", dim, embedding.WithRetryPolicy(fastPolicy))
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	store, err := semantic.Open(context.Background(), semantic.Repositories{
		Papers: repos.Papers, Concepts: repos.Concepts, Links: repos.Links, Schema: repos.Schema,
	}, svc)
	require.NoError(t, err)

	return &fixture{
		store:      store,
		embedder:   embedder,
		summarizer: mock.NewMockSummarizer(),
		extractor:  mock.NewMockConceptExtractor(),
	}
}

func (f *fixture) pipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	svc, err := embedding.NewService(f.embedder, "mock", dim, embedding.WithRetryPolicy(fastPolicy))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	l, err := linker.New(f.store, svc)
	require.NoError(t, err)

	opts = append([]Option{WithRetryPolicy(fastPolicy)}, opts...)
	p, err := NewPipeline(f.store, l, f.summarizer, f.extractor, opts...)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func result(title, abstract string) sources.Result {
	return sources.Result{
		Title:    title,
		Authors:  []string{"Ada Lovelace"},
		Abstract: abstract,
		URL:      "https://example.org/" + strings.ReplaceAll(strings.ToLower(title), " ", "-"),
	}
}

func TestNewPipelineValidation(t *testing.T) {
	f := newFixture(t)
	l, err := linker.New(f.store, mustService(t, f.embedder))
	require.NoError(t, err)

	_, err = NewPipeline(nil, l, f.summarizer, f.extractor)
	assert.ErrorIs(t, err, ErrStoreRequired)
	_, err = NewPipeline(f.store, nil, f.summarizer, f.extractor)
	assert.ErrorIs(t, err, ErrLinkerRequired)
	_, err = NewPipeline(f.store, l, nil, f.extractor)
	assert.ErrorIs(t, err, ErrSummarizerRequired)
	_, err = NewPipeline(f.store, l, f.summarizer, nil)
	assert.ErrorIs(t, err, ErrConceptExtractorRequired)

	_, err = NewPipeline(f.store, l, f.summarizer, f.extractor, WithBatchSize(0))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = NewPipeline(f.store, l, f.summarizer, f.extractor, WithRetryPolicy(retry.Policy{}))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	_, err = NewPipeline(f.store, l, f.summarizer, f.extractor, WithExportTimeout(0))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func mustService(t *testing.T, embedder *mock.MockEmbedder) *embedding.Service {
	t.Helper()
	svc, err := embedding.NewService(embedder, "mock", dim, embedding.WithRetryPolicy(fastPolicy))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestIngestResultsStoresPapers(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	reports, err := p.IngestResults(ctx, "plasticity", []sources.Result{
		result("Synaptic Plasticity Rules", "Hebbian learning strengthens synapses that fire together."),
		result("Swarm Neuroplasticity", "Collective adaptation in robot swarms."),
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, 2, r.Stored)
	assert.Zero(t, r.Partial+r.Failed+r.Incomplete)
	assert.Equal(t, "plasticity", r.Query)

	for _, pr := range r.Papers {
		assert.Equal(t, OutcomeStored, pr.Outcome)
		assert.Equal(t, StageStored, pr.Stage)
		assert.Positive(t, pr.Concepts)

		paper, err := f.store.GetPaper(ctx, pr.ID)
		require.NoError(t, err)
		assert.Contains(t, paper.Summary, "### Core Problem")
		assert.Equal(t, []string{"mock"}, paper.Tags)
		assert.Equal(t, "plasticity", paper.Query)
		assert.Len(t, paper.Vector, dim)

		links, err := f.store.LinksForPaper(ctx, pr.ID)
		require.NoError(t, err)
		assert.Len(t, links, pr.Concepts)
	}
}

func TestReingestIsIdempotent(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()
	res := result("Deep Q Networks", "Learning to play Atari from pixels.")

	_, err := p.IngestResults(ctx, "rl", []sources.Result{res})
	require.NoError(t, err)
	reports, err := p.IngestResults(ctx, "rl", []sources.Result{res})
	require.NoError(t, err)

	assert.Equal(t, 1, reports[0].Stored)
	assert.Equal(t, 1, f.summarizer.CallCount(), "already summarized papers skip summarization")
	assert.Equal(t, 1, f.extractor.CallCount())

	count, err := f.store.CountPapers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestDuplicateDOIKeepsLongerAbstract(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx := context.Background()

	short := result("Swarm Neuroplasticity Review", "Swarms adapt their")
	short.DOI = "10.1234/swarm.2024"
	long := result("Swarm Neuroplasticity Review", "Swarms adapt their collective behaviour through plasticity-like rules.")
	long.DOI = "https://doi.org/10.1234/SWARM.2024"

	reports, err := p.IngestResults(ctx, "swarms", []sources.Result{short, long})
	require.NoError(t, err)
	assert.Equal(t, 2, reports[0].Stored+reports[0].Partial)
	assert.Equal(t, reports[0].Papers[0].ID, reports[0].Papers[1].ID)

	count, err := f.store.CountPapers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	paper, err := f.store.GetPaper(ctx, reports[0].Papers[0].ID)
	require.NoError(t, err)
	assert.Equal(t, long.Abstract, paper.Abstract)
}

func TestSummaryFailureIsIsolated(t *testing.T) {
	f := newFixture(t)
	f.summarizer.SummarizeFunc = func(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error) {
		if strings.Contains(text, "unlucky") {
			return nil, core.ErrTransientProvider
		}
		return &ai.Summary{Text: "### Core Problem\n\n" + text, Tags: []string{"ok"}}, nil
	}
	p := f.pipeline(t)
	ctx := context.Background()

	reports, err := p.IngestResults(ctx, "q", []sources.Result{
		result("Paper A", "An unlucky abstract."),
		result("Paper B", "A lucky abstract."),
	})
	require.NoError(t, err)
	r := reports[0]
	assert.Equal(t, 1, r.Stored)
	assert.Equal(t, 1, r.Partial)

	byTitle := map[string]PaperReport{}
	for _, pr := range r.Papers {
		byTitle[pr.Title] = pr
	}

	a := byTitle["Paper A"]
	assert.Equal(t, OutcomePartial, a.Outcome)
	assert.True(t, a.NeedsReprocessing)
	require.Len(t, a.Partial, 1)
	assert.Equal(t, StageSummarized, a.Partial[0].Stage)
	assert.ErrorIs(t, a.Partial[0], core.ErrPersistentProvider)

	stored, err := f.store.GetPaper(ctx, a.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Summary)
	assert.True(t, stored.NeedsReprocessing)

	b := byTitle["Paper B"]
	assert.Equal(t, OutcomeStored, b.Outcome)
	stored, err = f.store.GetPaper(ctx, b.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, stored.Summary)
}

func TestConceptFailureStoresPaperWithoutLinks(t *testing.T) {
	f := newFixture(t)
	f.extractor.ExtractConceptsFunc = func(ctx context.Context, text string) ([]ai.ExtractedConcept, error) {
		return nil, core.ErrInvalidInput
	}
	p := f.pipeline(t)

	reports, err := p.IngestResults(context.Background(), "q", []sources.Result{result("Lonely Paper", "Nothing to link.")})
	require.NoError(t, err)
	pr := reports[0].Papers[0]
	assert.Equal(t, OutcomePartial, pr.Outcome)
	assert.Equal(t, StageStored, pr.Stage)
	assert.Zero(t, pr.Concepts)
	require.Len(t, pr.Partial, 1)
	assert.Equal(t, StageConceptExtracted, pr.Partial[0].Stage)
	assert.Equal(t, 1, f.extractor.CallCount(), "invalid input is not retried")
}

type stubExtractor struct {
	text string
	err  error
	docs []sources.Document
	mu   sync.Mutex
}

func (s *stubExtractor) Extract(ctx context.Context, doc sources.Document) (string, error) {
	s.mu.Lock()
	s.docs = append(s.docs, doc)
	s.mu.Unlock()
	return s.text, s.err
}

func TestTextExtraction(t *testing.T) {
	t.Run("failure continues with metadata", func(t *testing.T) {
		f := newFixture(t)
		ex := &stubExtractor{err: sources.ErrNoText}
		p := f.pipeline(t, WithTextExtractor(ex))

		reports, err := p.IngestResults(context.Background(), "q", []sources.Result{result("Scanned Paper", "Only an abstract.")})
		require.NoError(t, err)
		pr := reports[0].Papers[0]
		assert.Equal(t, OutcomeStored, pr.Outcome)
		assert.False(t, pr.FullText)
		require.Len(t, ex.docs, 1)
		assert.Equal(t, pr.ID.String(), ex.docs[0].Name)
	})

	t.Run("usable text is kept and summarized", func(t *testing.T) {
		f := newFixture(t)
		body := "Full text line.\n" + strings.Repeat("body ", 100)
		ex := &stubExtractor{text: body}
		var summarized string
		f.summarizer.SummarizeFunc = func(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error) {
			summarized = text
			return &ai.Summary{Text: "summary"}, nil
		}
		p := f.pipeline(t, WithTextExtractor(ex))

		res := result("Readable Paper", "Abstract.")
		res.URL = "https://arxiv.org/abs/2101.00001"
		reports, err := p.IngestResults(context.Background(), "q", []sources.Result{res})
		require.NoError(t, err)
		pr := reports[0].Papers[0]
		assert.True(t, pr.FullText)
		assert.Equal(t, strings.TrimSpace(body), summarized)
		assert.Equal(t, "https://arxiv.org/pdf/2101.00001.pdf", ex.docs[0].URL)
	})

	t.Run("short text is dropped", func(t *testing.T) {
		f := newFixture(t)
		p := f.pipeline(t, WithTextExtractor(&stubExtractor{text: "too short"}))
		reports, err := p.IngestResults(context.Background(), "q", []sources.Result{result("Short", "Abstract.")})
		require.NoError(t, err)
		assert.False(t, reports[0].Papers[0].FullText)
	})
}

func TestUnfingerprintableResultFails(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)

	reports, err := p.IngestResults(context.Background(), "q", []sources.Result{{Abstract: "no title, no id"}})
	require.NoError(t, err)
	pr := reports[0].Papers[0]
	assert.Equal(t, OutcomeFailed, pr.Outcome)
	require.NotNil(t, pr.Failure)
	assert.Equal(t, StageFetched, pr.Failure.Stage)
	assert.ErrorIs(t, pr.Failure, core.ErrNoFingerprint)
	assert.Len(t, reports[0].Failures(), 1)
}

func TestDimensionMismatchAbortsRemainingBatches(t *testing.T) {
	f := newFixture(t)
	f.embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return make([]float32, dim+1), nil
	}
	p := f.pipeline(t, WithBatchSize(1))

	reports, err := p.IngestResults(context.Background(), "q", []sources.Result{
		result("First", "a"), result("Second", "b"), result("Third", "c"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrEmbeddingDimensionMismatch)
	require.Len(t, reports, 3)

	assert.Equal(t, 1, reports[0].Failed)
	assert.Equal(t, 1, reports[1].Incomplete)
	assert.Equal(t, 1, reports[2].Incomplete)
	assert.Equal(t, StageFetched, reports[2].Papers[0].Stage)

	count, err := f.store.CountPapers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCancelledBatchReportsIncomplete(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports, err := p.IngestResults(ctx, "q", []sources.Result{result("One", "a"), result("Two", "b")})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, reports, 1)
	assert.Equal(t, 2, reports[0].Incomplete)
	assert.Zero(t, f.summarizer.CallCount())
}

func TestCancellationMidBatch(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.summarizer.SummarizeFunc = func(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p := f.pipeline(t)

	reports, err := p.IngestResults(ctx, "q", []sources.Result{result("Interrupted", "a")})
	assert.ErrorIs(t, err, context.Canceled)
	pr := reports[0].Papers[0]
	assert.Equal(t, OutcomeIncomplete, pr.Outcome)
	assert.Equal(t, StageExtracted, pr.Stage)

	count, err := f.store.CountPapers(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestReprocessFillsMissingSummaries(t *testing.T) {
	f := newFixture(t)
	failing := atomic.Bool{}
	failing.Store(true)
	f.summarizer.SummarizeFunc = func(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error) {
		if failing.Load() {
			return nil, core.ErrTransientProvider
		}
		return &ai.Summary{Text: "recovered", Tags: []string{"late"}}, nil
	}
	p := f.pipeline(t)
	ctx := context.Background()

	reports, err := p.IngestResults(ctx, "q", []sources.Result{result("Flaky", "Abstract text here.")})
	require.NoError(t, err)
	id := reports[0].Papers[0].ID
	assert.True(t, reports[0].Papers[0].NeedsReprocessing)

	failing.Store(false)
	reports, err = p.Reprocess(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, 1, reports[0].Stored)

	paper, err := f.store.GetPaper(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "recovered", paper.Summary)
	assert.False(t, paper.NeedsReprocessing)

	pending, err := f.store.PapersNeedingReprocessing(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	reports, err = p.Reprocess(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

type recordingExporter struct {
	mu       sync.Mutex
	papers   []core.ID
	concepts map[core.ID][]export.ConceptRef
	err      error
}

func (r *recordingExporter) Export(ctx context.Context, paper *core.PaperRecord, concepts []export.ConceptRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.papers = append(r.papers, paper.Id)
	if r.concepts == nil {
		r.concepts = map[core.ID][]export.ConceptRef{}
	}
	r.concepts[paper.Id] = concepts
	return r.err
}

func TestExporterRunsAfterStore(t *testing.T) {
	f := newFixture(t)
	exp := &recordingExporter{}
	p := f.pipeline(t, WithExporter(exp))
	ctx := context.Background()
	res := result("Exported Paper", "Graph neural networks for molecules.")

	reports, err := p.IngestResults(ctx, "q", []sources.Result{res})
	require.NoError(t, err)
	p.Wait()

	id := reports[0].Papers[0].ID
	exp.mu.Lock()
	assert.Equal(t, []core.ID{id}, exp.papers)
	refs := exp.concepts[id]
	exp.mu.Unlock()
	require.Len(t, refs, reports[0].Papers[0].Concepts)
	for _, ref := range refs {
		require.NotNil(t, ref.Concept)
		assert.Equal(t, 1, ref.PaperCount)
	}

	// Unchanged re-ingest does not export again.
	_, err = p.IngestResults(ctx, "q", []sources.Result{res})
	require.NoError(t, err)
	p.Wait()
	exp.mu.Lock()
	assert.Len(t, exp.papers, 1)
	exp.mu.Unlock()
}

func TestSameFingerprintInOneBatchExportsOnce(t *testing.T) {
	f := newFixture(t)
	exp := &recordingExporter{}
	p := f.pipeline(t, WithExporter(exp))
	res := result("Twice Listed", "The same paper returned by two queries.")

	reports, err := p.IngestResults(context.Background(), "q", []sources.Result{res, res})
	require.NoError(t, err)
	p.Wait()

	require.Len(t, reports[0].Papers, 2)
	assert.Equal(t, reports[0].Papers[0].ID, reports[0].Papers[1].ID)
	exp.mu.Lock()
	defer exp.mu.Unlock()
	assert.Equal(t, []core.ID{reports[0].Papers[0].ID}, exp.papers)
}

func TestExportFailureDoesNotAffectReport(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	exp := &recordingExporter{err: errors.New("vault locked")}
	p := f.pipeline(t, WithExporter(exp), WithMetrics(reg))

	reports, err := p.IngestResults(context.Background(), "q", []sources.Result{result("Kept", "Stored anyway.")})
	require.NoError(t, err)
	p.Wait()

	assert.Equal(t, 1, reports[0].Stored)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.exportFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.metrics.papers.WithLabelValues("stored")))
}

func TestMetricsShareRegistry(t *testing.T) {
	f := newFixture(t)
	reg := prometheus.NewRegistry()
	a := f.pipeline(t, WithMetrics(reg))
	b := f.pipeline(t, WithMetrics(reg))

	_, err := a.IngestResults(context.Background(), "q", []sources.Result{result("One", "a")})
	require.NoError(t, err)
	_, err = b.IngestResults(context.Background(), "q", []sources.Result{{}})
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.papers.WithLabelValues("stored")))
	assert.Equal(t, 1.0, testutil.ToFloat64(a.metrics.papers.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(b.metrics.stageFailures.WithLabelValues("fetched")))
}

func TestConcurrentCallsAreGated(t *testing.T) {
	f := newFixture(t)
	var inFlight, peak atomic.Int32
	f.summarizer.SummarizeFunc = func(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return &ai.Summary{Text: "s"}, nil
	}
	p := f.pipeline(t, WithBatchSize(8), WithMaxConcurrentCalls(2))

	results := make([]sources.Result, 8)
	for i := range results {
		results[i] = result("Paper "+string(rune('A'+i)), "abstract")
	}
	reports, err := p.IngestResults(context.Background(), "q", results)
	require.NoError(t, err)
	assert.Equal(t, 8, reports[0].Stored)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

type fakeSearcher struct {
	calls   atomic.Int32
	results []sources.Result
	failFor int32
}

func (s *fakeSearcher) Search(ctx context.Context, query string, maxResults int) ([]sources.Result, error) {
	if s.calls.Add(1) <= s.failFor {
		return nil, core.ErrTransientProvider
	}
	if len(s.results) > maxResults {
		return s.results[:maxResults], nil
	}
	return s.results, nil
}

func TestIngestSearches(t *testing.T) {
	f := newFixture(t)
	searcher := &fakeSearcher{
		failFor: 1,
		results: []sources.Result{result("Found One", "a"), result("Found Two", "b"), result("Found Three", "c")},
	}
	p := f.pipeline(t, WithSearcher(searcher), WithBatchSize(1))

	reports, err := p.Ingest(context.Background(), "found", 2)
	require.NoError(t, err)
	assert.Len(t, reports, 2)
	assert.Equal(t, int32(2), searcher.calls.Load(), "transient search failure retried")

	stored, partial, failed, incomplete := Totals(reports)
	assert.Equal(t, 2, stored)
	assert.Zero(t, partial+failed+incomplete)
}

func TestIngestRequiresSearcher(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t)
	_, err := p.Ingest(context.Background(), "q", 5)
	assert.ErrorIs(t, err, ErrSearcherRequired)

	p = f.pipeline(t, WithSearcher(&fakeSearcher{}))
	_, err = p.Ingest(context.Background(), "q", 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestSearchExhaustion(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, WithSearcher(&fakeSearcher{failFor: 10}))
	_, err := p.Ingest(context.Background(), "q", 5)
	assert.ErrorIs(t, err, core.ErrPersistentProvider)
}
