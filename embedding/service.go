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


package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"golang.org/x/sync/semaphore"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/retry"
	"github.com/poiesic/athena/storage"
)

// DefaultCacheBytes bounds the in-process vector cache.
const DefaultCacheBytes = 64 << 20

// Service turns text into unit-length vectors of a fixed dimension.
// It is safe for concurrent use.
type Service struct {
	embedder  ai.Embedder
	model     string
	dimension int
	policy    retry.Policy
	prefixes  map[Kind]string
	gate      *semaphore.Weighted
	logger    *slog.Logger

	cacheBytes int64
	local      *ristretto.Cache[string, []float32]
	shared     storage.Cache
	sharedTTL  time.Duration

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Option configures a Service.
type Option func(*Service) error

// WithRetryPolicy sets the policy applied to every provider call.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(s *Service) error {
		if err := policy.Validate(); err != nil {
			return err
		}
		s.policy = policy
		return nil
	}
}

// WithPrefix prepends prefix to every text of the given kind before embedding.
// Used by asymmetric models such as nomic-embed-text ("search_query: ").
func WithPrefix(kind Kind, prefix string) Option {
	return func(s *Service) error {
		if !kind.valid() {
			return fmt.Errorf("%w: unknown embedding kind %d", core.ErrInvalidInput, kind)
		}
		s.prefixes[kind] = prefix
		return nil
	}
}

// WithCacheBytes sets the in-process cache budget. 0 disables the cache.
func WithCacheBytes(n int64) Option {
	return func(s *Service) error {
		if n < 0 {
			return fmt.Errorf("%w: cache size must not be negative", core.ErrInvalidInput)
		}
		s.cacheBytes = n
		return nil
	}
}

// WithSharedCache adds a second cache tier shared between processes.
func WithSharedCache(cache storage.Cache, ttl time.Duration) Option {
	return func(s *Service) error {
		s.shared = cache
		s.sharedTTL = ttl
		return nil
	}
}

// WithGate makes every provider call hold one unit of gate.
// Sharing the gate with other callers caps concurrent external calls across components.
func WithGate(gate *semaphore.Weighted) Option {
	return func(s *Service) error {
		s.gate = gate
		return nil
	}
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}

// NewService creates an embedding service for model producing vectors of dimension.
func NewService(embedder ai.Embedder, model string, dimension int, opts ...Option) (*Service, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", core.ErrInvalidInput)
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", core.ErrInvalidInput)
	}
	s := &Service{
		embedder:   embedder,
		model:      model,
		dimension:  dimension,
		policy:     retry.DefaultPolicy(),
		prefixes:   make(map[Kind]string),
		cacheBytes: DefaultCacheBytes,
		logger:     slog.Default().With("component", "embedding"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.cacheBytes > 0 {
		local, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
			NumCounters:        max(s.cacheBytes/int64(dimension*4)*10, 1000),
			MaxCost:            s.cacheBytes,
			BufferItems:        64,
			IgnoreInternalCost: true,
		})
		if err != nil {
			return nil, err
		}
		s.local = local
	}
	return s, nil
}

// Model returns the embedding model id.
func (s *Service) Model() string {
	return s.model
}

// Dimension returns the vector length every result has.
func (s *Service) Dimension() int {
	return s.dimension
}

// Embed returns the unit vector of text.
func (s *Service) Embed(ctx context.Context, text string, kind Kind) ([]float32, error) {
	vectors, err := s.EmbedBatch(ctx, []string{text}, kind)
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in order. Cache misses go to the provider in one batch call.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, kind Kind) ([][]float32, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: unknown embedding kind %d", core.ErrInvalidInput, kind)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: %w: text %d is empty", core.ErrInvalidInput, core.ErrEmptyContent, i)
		}
	}

	results := make([][]float32, len(texts))
	keys := make([]string, len(texts))
	var missing []int
	for i, text := range texts {
		keys[i] = s.cacheKey(kind, text)
		if vector, ok := s.lookup(ctx, keys[i]); ok {
			results[i] = vector
			continue
		}
		missing = append(missing, i)
	}
	s.hits.Add(uint64(len(texts) - len(missing)))
	s.misses.Add(uint64(len(missing)))
	if len(missing) == 0 {
		return results, nil
	}

	inputs := make([]string, len(missing))
	for j, i := range missing {
		inputs[j] = s.prefixes[kind] + texts[i]
	}

	vectors, err := retry.DoValue(ctx, s.policy, func(ctx context.Context) ([][]float32, error) {
		if s.gate != nil {
			if err := s.gate.Acquire(ctx, 1); err != nil {
				return nil, err
			}
			defer s.gate.Release(1)
		}
		vectors, err := s.embedder.EmbedTexts(ctx, inputs)
		if err != nil {
			return nil, classify(err)
		}
		return vectors, nil
	})
	if err != nil {
		s.logger.Error("embedding failed", "kind", kind, "count", len(inputs), "err", err)
		return nil, err
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("%w: %w: provider returned %d vectors for %d texts",
			core.ErrEmbeddingUnavailable, core.ErrTransientProvider, len(vectors), len(inputs))
	}

	for j, i := range missing {
		vector := vectors[j]
		if len(vector) != s.dimension {
			return nil, fmt.Errorf("%w: model %q returned %d, expected %d",
				core.ErrEmbeddingDimensionMismatch, s.model, len(vector), s.dimension)
		}
		vector = Normalize(vector)
		results[i] = vector
		s.store(ctx, keys[i], vector)
	}
	return results, nil
}

// HitRate returns the fraction of texts served from cache.
func (s *Service) HitRate() float64 {
	hits := s.hits.Load()
	total := hits + s.misses.Load()
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// Close releases the in-process cache.
func (s *Service) Close() {
	if s.local != nil {
		s.local.Close()
	}
}

// Normalize scales vector to unit length in place and returns it.
// The zero vector is returned unchanged.
func Normalize(vector []float32) []float32 {
	var sum float64
	for _, v := range vector {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vector
	}
	norm := 1 / math.Sqrt(sum)
	for i, v := range vector {
		vector[i] = float32(float64(v) * norm)
	}
	return vector
}

// classify marks provider failures as embedding unavailability.
func classify(err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, context.Canceled):
		return err
	case errors.Is(err, core.ErrTransientProvider):
		return fmt.Errorf("%w: %w", core.ErrEmbeddingUnavailable, err)
	case core.IsRetryable(err):
		return fmt.Errorf("%w: %w: %w", core.ErrEmbeddingUnavailable, core.ErrTransientProvider, err)
	default:
		return err
	}
}

func (s *Service) lookup(ctx context.Context, key string) ([]float32, bool) {
	if s.local != nil {
		if vector, ok := s.local.Get(key); ok {
			return slices.Clone(vector), true
		}
	}
	if s.shared == nil {
		return nil, false
	}
	data, ok, err := s.shared.Get(ctx, key)
	if err != nil {
		s.logger.Warn("shared cache read failed", "err", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	vector, err := storage.UnmarshalVector(data)
	if err != nil || len(vector) != s.dimension {
		s.logger.Warn("discarding unreadable cached vector", "key", key, "err", err)
		return nil, false
	}
	s.remember(key, vector)
	return slices.Clone(vector), true
}

func (s *Service) store(ctx context.Context, key string, vector []float32) {
	s.remember(key, vector)
	if s.shared == nil {
		return
	}
	if err := s.shared.Put(ctx, key, storage.MarshalVector(vector), s.sharedTTL); err != nil {
		s.logger.Warn("shared cache write failed", "err", err)
	}
}

func (s *Service) remember(key string, vector []float32) {
	if s.local == nil {
		return
	}
	s.local.Set(key, slices.Clone(vector), int64(len(vector)*4))
	s.local.Wait()
}
