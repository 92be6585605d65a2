package embedding

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/athena/ai/mock"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/retry"
	"github.com/poiesic/athena/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

var fastPolicy = retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

// fixedEmbedder returns [3, 4, 0] for every text and records what it was asked to embed.
func fixedEmbedder(seen *[]string) *mock.MockEmbedder {
	m := mock.NewMockEmbedder()
	m.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if seen != nil {
			*seen = append(*seen, texts...)
		}
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{3, 4, 0}
		}
		return out, nil
	}
	return m
}

func newTestService(t *testing.T, embedder *mock.MockEmbedder, opts ...Option) *Service {
	t.Helper()
	opts = append([]Option{WithRetryPolicy(fastPolicy)}, opts...)
	s, err := NewService(embedder, "test-model", 3, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestNewServiceValidation(t *testing.T) {
	_, err := NewService(nil, "m", 3)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = NewService(mock.NewMockEmbedder(), "m", 0)
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = NewService(mock.NewMockEmbedder(), "m", 3, WithPrefix(Kind(9), "x"))
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	embedder := fixedEmbedder(nil)
	s := newTestService(t, embedder)

	_, err := s.Embed(context.Background(), "  \n", KindPaper)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.Equal(t, 0, embedder.CallCount())
}

func TestEmbedNormalizes(t *testing.T) {
	s := newTestService(t, fixedEmbedder(nil))

	vector, err := s.Embed(context.Background(), "text", KindPaper)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, vector, 1e-6)
}

func TestEmbedCachesPerKind(t *testing.T) {
	embedder := fixedEmbedder(nil)
	s := newTestService(t, embedder)
	ctx := context.Background()

	_, err := s.Embed(ctx, "reinforcement learning", KindConcept)
	require.NoError(t, err)
	_, err = s.Embed(ctx, "reinforcement learning", KindConcept)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.CallCount())
	assert.InDelta(t, 0.5, s.HitRate(), 1e-9)

	_, err = s.Embed(ctx, "reinforcement learning", KindQuery)
	require.NoError(t, err)
	assert.Equal(t, 2, embedder.CallCount())
}

func TestEmbedCacheReturnsCopies(t *testing.T) {
	s := newTestService(t, fixedEmbedder(nil))
	ctx := context.Background()

	first, err := s.Embed(ctx, "text", KindPaper)
	require.NoError(t, err)
	first[0] = 42

	second, err := s.Embed(ctx, "text", KindPaper)
	require.NoError(t, err)
	assert.InDelta(t, 0.6, second[0], 1e-6)
}

func TestEmbedBatchOnlySendsMisses(t *testing.T) {
	var seen []string
	s := newTestService(t, fixedEmbedder(&seen))
	ctx := context.Background()

	_, err := s.Embed(ctx, "b", KindPaper)
	require.NoError(t, err)

	vectors, err := s.EmbedBatch(ctx, []string{"a", "b", "c"}, KindPaper)
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []string{"b", "a", "c"}, seen)
}

func TestEmbedAppliesPrefix(t *testing.T) {
	var seen []string
	s := newTestService(t, fixedEmbedder(&seen), WithPrefix(KindQuery, "search_query: "))

	_, err := s.Embed(context.Background(), "bandits", KindQuery)
	require.NoError(t, err)
	_, err = s.Embed(context.Background(), "bandits", KindPaper)
	require.NoError(t, err)
	assert.Equal(t, []string{"search_query: bandits", "bandits"}, seen)
}

func TestEmbedDimensionMismatch(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return [][]float32{{1, 2}}, nil
	}
	s := newTestService(t, embedder)

	_, err := s.Embed(context.Background(), "text", KindPaper)
	assert.ErrorIs(t, err, core.ErrEmbeddingDimensionMismatch)
	assert.Equal(t, 1, embedder.CallCount())
}

func TestEmbedRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if calls.Add(1) < 3 {
			return nil, core.ErrTransientProvider
		}
		return [][]float32{{0, 0, 2}}, nil
	}
	s := newTestService(t, embedder)

	vector, err := s.Embed(context.Background(), "text", KindPaper)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 1}, vector)
	assert.EqualValues(t, 3, calls.Load())
}

func TestEmbedExhaustedRetries(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.Join(core.ErrTransientProvider, errors.New("rate limited"))
	}
	s := newTestService(t, embedder)

	_, err := s.Embed(context.Background(), "text", KindPaper)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrPersistentProvider)
	assert.ErrorIs(t, err, core.ErrEmbeddingUnavailable)
	assert.Equal(t, fastPolicy.MaxAttempts, embedder.CallCount())
}

func TestEmbedInvalidInputNotRetried(t *testing.T) {
	embedder := mock.NewMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, core.ErrInvalidInput
	}
	s := newTestService(t, embedder)

	_, err := s.Embed(context.Background(), "text", KindPaper)
	assert.ErrorIs(t, err, core.ErrInvalidInput)
	assert.NotErrorIs(t, err, core.ErrEmbeddingUnavailable)
	assert.Equal(t, 1, embedder.CallCount())
}

func TestSharedCacheTier(t *testing.T) {
	repos, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer repos.Close()

	first := newTestService(t, fixedEmbedder(nil), WithSharedCache(repos.Cache, time.Hour))
	_, err = first.Embed(context.Background(), "shared text", KindPaper)
	require.NoError(t, err)

	embedder := fixedEmbedder(nil)
	second := newTestService(t, embedder, WithSharedCache(repos.Cache, time.Hour), WithCacheBytes(0))
	vector, err := second.Embed(context.Background(), "shared text", KindPaper)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8, 0}, vector, 1e-6)
	assert.Equal(t, 0, embedder.CallCount())
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, Normalize([]float32{0, 0}))
	assert.InDeltaSlice(t, []float32{1, 0}, Normalize([]float32{5, 0}), 1e-6)
}

func TestGateBoundsProviderCalls(t *testing.T) {
	gate := semaphore.NewWeighted(1)
	require.NoError(t, gate.Acquire(context.Background(), 1))

	embedder := fixedEmbedder(nil)
	s := newTestService(t, embedder, WithGate(gate))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Embed(ctx, "blocked", KindQuery)
	require.Error(t, err)
	assert.Equal(t, 0, embedder.CallCount())

	gate.Release(1)
	_, err = s.Embed(context.Background(), "free", KindQuery)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.CallCount())
	assert.True(t, gate.TryAcquire(1), "gate released after the call")
}
