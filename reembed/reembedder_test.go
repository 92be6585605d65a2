package reembed

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/athena/ai/mock"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
	"github.com/poiesic/athena/retry"
	"github.com/poiesic/athena/semantic"
	"github.com/poiesic/athena/storage/badger"
)

const (
	oldDim = 4
	newDim = 8
)

var fastPolicy = retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond}

func newService(t *testing.T, model string, dim int, embedder *mock.MockEmbedder) *embedding.Service {
	t.Helper()
	embedder.Dimension = dim
	svc, err := embedding.NewService(embedder, model, dim, embedding.WithRetryPolicy(fastPolicy), embedding.WithCacheBytes(0))
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func storeRepos(repos *badger.Repositories) semantic.Repositories {
	return semantic.Repositories{Papers: repos.Papers, Concepts: repos.Concepts, Links: repos.Links, Schema: repos.Schema}
}

// seed stores papers and concepts under the old model and returns the repositories.
func seed(t *testing.T, papers, concepts int) *badger.Repositories {
	t.Helper()
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { repos.Close() })

	ctx := context.Background()
	old := newService(t, "old-model", oldDim, mock.NewMockEmbedder())
	store, err := semantic.Open(ctx, storeRepos(repos), old)
	require.NoError(t, err)

	for i := range papers {
		_, _, err := store.UpsertPaper(ctx, &core.PaperRecord{
			Title:   fmt.Sprintf("Paper %d", i),
			Authors: []string{"Grace Hopper"},
		})
		require.NoError(t, err)
	}
	for i := range concepts {
		vector, err := old.Embed(ctx, fmt.Sprintf("concept %d", i), embedding.KindConcept)
		require.NoError(t, err)
		_, err = store.CreateConcept(ctx, fmt.Sprintf("concept %d", i), vector)
		require.NoError(t, err)
	}
	return repos
}

func openNew(t *testing.T, repos *badger.Repositories, embedder *mock.MockEmbedder) (*semantic.Store, *embedding.Service) {
	t.Helper()
	svc := newService(t, "new-model", newDim, embedder)
	_, err := semantic.Open(context.Background(), storeRepos(repos), svc)
	require.ErrorIs(t, err, core.ErrEmbeddingModelChanged)

	store, err := semantic.Open(context.Background(), storeRepos(repos), svc, semantic.WithAllowModelChange())
	require.NoError(t, err)
	require.True(t, store.ModelChangePending())
	return store, svc
}

func TestReembedder_Run(t *testing.T) {
	repos := seed(t, 5, 3)
	store, svc := openNew(t, repos, mock.NewMockEmbedder())
	ctx := context.Background()

	var buf bytes.Buffer
	r, err := NewReembedder(store, svc, repos.Checkpoints, &Config{BatchSize: 2, ReportInterval: 1}, &buf)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, result.Papers)
	assert.Equal(t, 3, result.Concepts)

	papers, err := store.ListPapers(ctx, 0, 100)
	require.NoError(t, err)
	for _, p := range papers {
		require.Len(t, p.Vector, newDim, "paper %s", p.Id)
		assert.Equal(t, core.IDFromContent(p.EmbeddingText()), p.ContentHash)
		assert.Equal(t, "Paper", p.Title[:5], "other fields untouched")
	}
	concepts, err := store.ListConcepts(ctx, 0, 100)
	require.NoError(t, err)
	for _, c := range concepts {
		assert.Len(t, c.Vector, newDim)
	}

	// The schema now names the new model.
	_, err = semantic.Open(ctx, storeRepos(repos), svc)
	require.NoError(t, err)
	old := newService(t, "old-model", oldDim, mock.NewMockEmbedder())
	_, err = semantic.Open(ctx, storeRepos(repos), old)
	assert.ErrorIs(t, err, core.ErrEmbeddingModelChanged)

	output := buf.String()
	assert.Contains(t, output, "papers: 5/5")
	assert.Contains(t, output, "concepts: 3/3")
	assert.Contains(t, output, "Reembedding complete")
}

func TestReembedder_EmptyStore(t *testing.T) {
	repos := seed(t, 0, 0)
	store, svc := openNew(t, repos, mock.NewMockEmbedder())

	var buf bytes.Buffer
	r, err := NewReembedder(store, svc, nil, nil, &buf)
	require.NoError(t, err)

	result, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, result.Papers+result.Concepts)
	assert.Contains(t, buf.String(), "0 papers")
}

func TestReembedder_ResumesFromCheckpoint(t *testing.T) {
	repos := seed(t, 5, 0)
	embedder := mock.NewMockEmbedder()

	var mu sync.Mutex
	var embedded []string
	failOnCall := 2
	calls := 0
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == failOnCall {
			return nil, core.ErrInvalidInput
		}
		embedded = append(embedded, texts...)
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = make([]float32, newDim)
			out[i][i%newDim] = 1
		}
		return out, nil
	}
	store, svc := openNew(t, repos, embedder)
	ctx := context.Background()

	r, err := NewReembedder(store, svc, repos.Checkpoints, &Config{BatchSize: 2, ReportInterval: 10}, nil)
	require.NoError(t, err)

	result, err := r.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Equal(t, 2, result.Papers)
	assert.True(t, store.ModelChangePending())

	cp, err := repos.Checkpoints.LoadCheckpoint(ctx, "reembed:new-model:8:papers")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, cp.Processed)

	mu.Lock()
	embedded = nil
	mu.Unlock()
	result, err = r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Papers)
	assert.Len(t, embedded, 3)

	cp, err = repos.Checkpoints.LoadCheckpoint(ctx, "reembed:new-model:8:papers")
	require.NoError(t, err)
	assert.Nil(t, cp, "checkpoint forgotten after a complete run")
}

func TestReembedder_ContextCancellation(t *testing.T) {
	repos := seed(t, 4, 0)
	ctx, cancel := context.WithCancel(context.Background())
	embedder := mock.NewMockEmbedder()
	calls := 0
	embedder.EmbedTextsFunc = func(c context.Context, texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			cancel()
		}
		out := make([][]float32, len(texts))
		for i := range out {
			out[i] = make([]float32, newDim)
			out[i][0] = 1
		}
		return out, nil
	}
	store, svc := openNew(t, repos, embedder)

	r, err := NewReembedder(store, svc, nil, &Config{BatchSize: 2, ReportInterval: 1}, nil)
	require.NoError(t, err)
	_, err = r.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewReembedderValidation(t *testing.T) {
	_, err := NewReembedder(nil, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrStoreRequired)

	repos := seed(t, 0, 0)
	store, _ := openNew(t, repos, mock.NewMockEmbedder())
	_, err = NewReembedder(store, nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmbedderRequired)
}
