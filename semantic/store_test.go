package semantic

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/athena/ai/mock"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
	"github.com/poiesic/athena/retry"
	"github.com/poiesic/athena/storage"
	"github.com/poiesic/athena/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

func reposOf(r *badger.Repositories) Repositories {
	return Repositories{Papers: r.Papers, Concepts: r.Concepts, Links: r.Links, Schema: r.Schema}
}

func newEmbeddingService(t *testing.T, model string) (*embedding.Service, *mock.MockEmbedder) {
	t.Helper()
	embedder := mock.NewMockEmbedder()
	embedder.Dimension = testDimension
	svc, err := embedding.NewService(embedder, model, testDimension,
		embedding.WithCacheBytes(0),
		embedding.WithRetryPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc, embedder
}

func newTestStore(t *testing.T) (*Store, *badger.Repositories, *mock.MockEmbedder) {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	svc, embedder := newEmbeddingService(t, "mock-model")
	store, err := Open(context.Background(), reposOf(repos), svc)
	require.NoError(t, err)
	return store, repos, embedder
}

func TestUpsertPaperCreatesAndFingerprints(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	stored, change, err := store.UpsertPaper(ctx, &core.PaperRecord{DOI: "10.1000/ABC", Title: "Bandits"})
	require.NoError(t, err)
	assert.Equal(t, Created, change)
	assert.Equal(t, core.IDFromContent("doi:10.1000/abc"), stored.Id)
	assert.Len(t, stored.Vector, testDimension)
	assert.Equal(t, core.IDFromContent(stored.EmbeddingText()), stored.ContentHash)
	assert.EqualValues(t, 1, stored.Revision)
}

func TestUpsertPaperRejectsUnidentifiable(t *testing.T) {
	store, _, _ := newTestStore(t)

	_, _, err := store.UpsertPaper(context.Background(), &core.PaperRecord{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, _, err = store.UpsertPaper(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestUpsertPaperIdempotent(t *testing.T) {
	store, _, embedder := newTestStore(t)
	ctx := context.Background()
	paper := &core.PaperRecord{DOI: "10.1/x", Title: "Title", Abstract: "Abstract"}

	first, change, err := store.UpsertPaper(ctx, paper)
	require.NoError(t, err)
	require.Equal(t, Created, change)

	second, change, err := store.UpsertPaper(ctx, paper)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, change)
	assert.Equal(t, first.Revision, second.Revision)
	assert.Equal(t, 1, embedder.CallCount())

	count, err := store.CountPapers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertPaperDuplicateDOIKeepsLongerAbstract(t *testing.T) {
	store, _, embedder := newTestStore(t)
	ctx := context.Background()

	first, _, err := store.UpsertPaper(ctx, &core.PaperRecord{DOI: "10.1/X", Title: "T", Abstract: "Truncated..."})
	require.NoError(t, err)

	complete := "The complete abstract, considerably longer than the truncated one."
	second, change, err := store.UpsertPaper(ctx, &core.PaperRecord{DOI: "https://doi.org/10.1/x", Title: "T", Abstract: complete, Venue: "NeurIPS"})
	require.NoError(t, err)

	assert.Equal(t, Updated, change)
	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, complete, second.Abstract)
	assert.Equal(t, "NeurIPS", second.Venue)
	assert.EqualValues(t, 2, second.Revision)
	assert.NotEqual(t, first.ContentHash, second.ContentHash)
	assert.Equal(t, 2, embedder.CallCount())

	// A later shorter abstract does not replace the longer one and does not re-embed.
	third, change, err := store.UpsertPaper(ctx, &core.PaperRecord{DOI: "10.1/x", Title: "T", Abstract: "Short"})
	require.NoError(t, err)
	assert.Equal(t, Unchanged, change)
	assert.Equal(t, complete, third.Abstract)
	assert.EqualValues(t, 2, third.Revision)
	assert.Equal(t, 2, embedder.CallCount())

	count, err := store.CountPapers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUpsertPaperConcurrentSameFingerprint(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	const writers = 16
	var wg sync.WaitGroup
	var createdCount atomic.Int32
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, change, err := store.UpsertPaper(ctx, &core.PaperRecord{
				DOI:      "10.1/concurrent",
				Title:    "Concurrent",
				Abstract: strings.Repeat("a", i+1),
			})
			if change == Created {
				createdCount.Add(1)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, createdCount.Load())

	count, err := store.CountPapers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	id, err := core.Fingerprint(&core.PaperRecord{DOI: "10.1/concurrent"})
	require.NoError(t, err)
	paper, err := store.GetPaper(ctx, id)
	require.NoError(t, err)
	assert.Len(t, paper.Abstract, writers)
	assert.Equal(t, 0, store.locks.size())
}

func TestDeletePaperRemovesLinks(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	paper, _, err := store.UpsertPaper(ctx, &core.PaperRecord{DOI: "10.1/del", Title: "Delete me"})
	require.NoError(t, err)
	concept, err := store.CreateConcept(ctx, "Transformer", paper.Vector)
	require.NoError(t, err)
	require.NoError(t, store.UpsertLinks(ctx, core.Link{PaperId: paper.Id, ConceptId: concept.Id, Confidence: 0.9}))

	concepts, err := store.ConceptsForPaper(ctx, paper.Id)
	require.NoError(t, err)
	require.Len(t, concepts, 1)
	assert.Equal(t, "Transformer", concepts[0].Phrase)

	existed, err := store.DeletePaper(ctx, paper.Id)
	require.NoError(t, err)
	assert.True(t, existed)

	links, err := store.LinksForPaper(ctx, paper.Id)
	require.NoError(t, err)
	assert.Empty(t, links)
	ids, err := store.PapersForConcept(ctx, concept.Id)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = store.GetConcept(ctx, concept.Id)
	assert.NoError(t, err, "concepts survive losing their last link")

	existed, err = store.DeletePaper(ctx, paper.Id)
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = store.GetPaper(ctx, paper.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQuerySimilarPapersMonotonic(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	var first *core.PaperRecord
	for i := 0; i < 6; i++ {
		p, _, err := store.UpsertPaper(ctx, &core.PaperRecord{DOI: fmt.Sprintf("10.1/m%d", i), Title: fmt.Sprintf("Paper %d", i)})
		require.NoError(t, err)
		if first == nil {
			first = p
		}
	}

	var previous map[core.ID]bool
	for _, threshold := range []float32{-1, 0, 0.2, 0.5, 0.99} {
		hits, err := store.QuerySimilarPapers(ctx, first.Vector, 10, threshold)
		require.NoError(t, err)
		current := make(map[core.ID]bool, len(hits))
		for i, h := range hits {
			assert.GreaterOrEqual(t, h.Score, threshold)
			if i > 0 {
				assert.LessOrEqual(t, h.Score, hits[i-1].Score)
			}
			current[h.Record.Id] = true
		}
		if previous != nil {
			for id := range current {
				assert.True(t, previous[id], "raising the threshold never adds results")
			}
		}
		previous = current
	}
	require.True(t, previous[first.Id])
}

func TestQueryValidation(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.QuerySimilarPapers(ctx, make([]float32, testDimension), 0, 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = store.QuerySimilarConcepts(ctx, nil, 5, 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = store.QuerySimilarConcepts(ctx, []float32{1, 0}, 5, 0)
	assert.ErrorIs(t, err, core.ErrEmbeddingDimensionMismatch)

	hits, err := store.SearchPapers(ctx, "nothing stored yet", 5, 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestOpenDetectsModelChange(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()
	ctx := context.Background()

	original, _ := newEmbeddingService(t, "model-a")
	_, err = Open(ctx, reposOf(repos), original)
	require.NoError(t, err)

	replacement, _ := newEmbeddingService(t, "model-b")
	_, err = Open(ctx, reposOf(repos), replacement)
	assert.ErrorIs(t, err, core.ErrEmbeddingModelChanged)

	store, err := Open(ctx, reposOf(repos), replacement, WithAllowModelChange())
	require.NoError(t, err)
	assert.True(t, store.ModelChangePending())

	require.NoError(t, store.SaveSchema(ctx))
	assert.False(t, store.ModelChangePending())

	_, err = Open(ctx, reposOf(repos), replacement)
	assert.NoError(t, err)
}

func TestStoreUnavailableAfterClose(t *testing.T) {
	store, repos, _ := newTestStore(t)
	require.NoError(t, repos.Close())

	_, _, err := store.UpsertPaper(context.Background(), &core.PaperRecord{DOI: "10.1/closed", Title: "Closed"})
	assert.ErrorIs(t, err, core.ErrStoreUnavailable)
}

func TestPapersNeedingReprocessing(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()

	_, _, err := store.UpsertPaper(ctx, &core.PaperRecord{DOI: "10.1/a", Title: "A", NeedsReprocessing: true})
	require.NoError(t, err)
	_, _, err = store.UpsertPaper(ctx, &core.PaperRecord{DOI: "10.1/b", Title: "B", Summary: "done"})
	require.NoError(t, err)

	flagged, err := store.PapersNeedingReprocessing(ctx)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "A", flagged[0].Title)
}
