// Package linker resolves extracted concept phrases to canonical concepts and links them to papers.
package linker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
)

// DefaultThreshold is the similarity at or above which two phrases name the same concept.
const DefaultThreshold float32 = 0.92

// Store is the part of semantic.Store the linker writes through.
type Store interface {
	QuerySimilarConcepts(ctx context.Context, vector []float32, topK int, minScore float32) ([]core.ScoredConcept, error)
	CreateConcept(ctx context.Context, phrase string, vector []float32) (*core.ConceptRecord, error)
	UpsertLinks(ctx context.Context, links ...core.Link) error
}

// Embedder embeds concept phrases.
type Embedder interface {
	Embed(ctx context.Context, text string, kind embedding.Kind) ([]float32, error)
}

// PhraseFailure records a phrase that could not be resolved.
type PhraseFailure struct {
	Phrase string
	Err    error
}

func (f PhraseFailure) Error() string {
	return fmt.Sprintf("concept %q: %v", f.Phrase, f.Err)
}

func (f PhraseFailure) Unwrap() error {
	return f.Err
}

// Resolution is the outcome of resolving one paper's phrases.
type Resolution struct {
	// Links holds one link per distinct phrase, in extraction order.
	// Synonymous phrases share a concept but keep their own links.
	Links []core.Link

	// Created counts concepts created while resolving.
	Created int

	// Failures lists phrases skipped because they could not be embedded.
	Failures []PhraseFailure
}

// Linker maps phrases onto concepts. It is safe for concurrent use.
type Linker struct {
	store     Store
	embedder  Embedder
	threshold float32
	mu        sync.Mutex // serializes query+create so concurrent papers cannot create near-duplicates
	logger    *slog.Logger
}

// Option configures a Linker.
type Option func(*Linker) error

// WithThreshold sets the similarity at which a phrase reuses an existing concept.
func WithThreshold(threshold float32) Option {
	return func(l *Linker) error {
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("%w: threshold must be in (0, 1]", core.ErrInvalidInput)
		}
		l.threshold = threshold
		return nil
	}
}

// WithLogger sets the linker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Linker) error {
		l.logger = logger
		return nil
	}
}

// New creates a linker over store.
func New(store Store, embedder Embedder, opts ...Option) (*Linker, error) {
	if store == nil || embedder == nil {
		return nil, fmt.Errorf("%w: store and embedder are required", core.ErrInvalidInput)
	}
	l := &Linker{
		store:     store,
		embedder:  embedder,
		threshold: DefaultThreshold,
		logger:    slog.Default().With("component", "linker"),
	}
	for _, opt := range opts {
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Threshold returns the configured reuse threshold.
func (l *Linker) Threshold() float32 {
	return l.threshold
}

// Resolve maps each phrase, in order, to an existing or new concept and returns
// the links the paper should get. Nothing is linked yet.
//
// A phrase that fails to embed is recorded in Failures and skipped. Failures of
// the store, a dimension mismatch or cancellation abort the whole resolution.
func (l *Linker) Resolve(ctx context.Context, paperID core.ID, concepts []ai.ExtractedConcept) (*Resolution, error) {
	if paperID == 0 {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, core.ErrNoFingerprint)
	}

	type linkKey struct {
		concept core.ID
		phrase  string
	}
	result := &Resolution{}
	index := make(map[linkKey]int, len(concepts))
	now := time.Now().UTC()

	for _, extracted := range concepts {
		phrase := strings.Join(strings.Fields(extracted.Phrase), " ")
		if phrase == "" {
			continue
		}

		vector, err := l.embedder.Embed(ctx, phrase, embedding.KindConcept)
		if err != nil {
			if fatal(ctx, err) {
				return nil, err
			}
			l.logger.Warn("skipping concept that could not be embedded", "phrase", phrase, "err", err)
			result.Failures = append(result.Failures, PhraseFailure{Phrase: phrase, Err: err})
			continue
		}

		concept, created, err := l.resolve(ctx, phrase, vector)
		if err != nil {
			return nil, err
		}
		if created {
			result.Created++
		}

		confidence := min(max(extracted.Confidence, 0), 1)
		key := linkKey{concept: concept.Id, phrase: strings.ToLower(phrase)}
		if i, ok := index[key]; ok {
			if confidence > result.Links[i].Confidence {
				result.Links[i].Confidence = confidence
			}
			continue
		}
		index[key] = len(result.Links)
		result.Links = append(result.Links, core.Link{
			PaperId:    paperID,
			ConceptId:  concept.Id,
			Phrase:     phrase,
			Confidence: confidence,
			CreatedAt:  now,
		})
	}

	l.logger.Debug("resolved concepts", "paper", paperID, "links", len(result.Links),
		"created", result.Created, "failures", len(result.Failures))
	return result, nil
}

// Link resolves the phrases and stores the resulting links.
func (l *Linker) Link(ctx context.Context, paperID core.ID, concepts []ai.ExtractedConcept) (*Resolution, error) {
	result, err := l.Resolve(ctx, paperID, concepts)
	if err != nil {
		return nil, err
	}
	if err := l.store.UpsertLinks(ctx, result.Links...); err != nil {
		return nil, err
	}
	return result, nil
}

// resolve returns the best concept at or above the threshold, creating one when none exists.
// The lock spans the query and the create. It cannot be keyed by phrase: two different
// phrases may be near-duplicates of each other, and only the vector scan can tell.
func (l *Linker) resolve(ctx context.Context, phrase string, vector []float32) (*core.ConceptRecord, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	hits, err := l.store.QuerySimilarConcepts(ctx, vector, 1, l.threshold)
	if err != nil {
		return nil, false, err
	}
	if len(hits) > 0 {
		if !strings.EqualFold(hits[0].Record.Phrase, phrase) {
			l.logger.Debug("merged near-duplicate concept", "phrase", phrase,
				"concept", hits[0].Record.Phrase, "score", hits[0].Score)
		}
		return hits[0].Record, false, nil
	}

	concept, err := l.store.CreateConcept(ctx, phrase, vector)
	if err != nil {
		return nil, false, err
	}
	return concept, true, nil
}

// fatal reports errors that must stop the paper rather than skip a phrase.
func fatal(ctx context.Context, err error) bool {
	return ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, core.ErrEmbeddingDimensionMismatch) ||
		errors.Is(err, core.ErrStoreUnavailable)
}
