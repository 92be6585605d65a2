package search

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
	"github.com/poiesic/athena/linker"
	"github.com/poiesic/athena/storage"
)

const (
	// DefaultMinScore is the cosine similarity a paper needs to count as a semantic hit.
	DefaultMinScore float32 = 0.60

	// DefaultConceptsPerPhrase bounds how many stored concepts one query phrase may resolve to.
	DefaultConceptsPerPhrase = 3
)

// Store is the part of the semantic store the searcher reads.
type Store interface {
	QuerySimilarPapers(ctx context.Context, vector []float32, topK int, minScore float32) ([]core.ScoredPaper, error)
	QuerySimilarConcepts(ctx context.Context, vector []float32, topK int, minScore float32) ([]core.ScoredConcept, error)
	PapersForConcept(ctx context.Context, conceptID core.ID) ([]core.ID, error)
	GetPaper(ctx context.Context, id core.ID) (*core.PaperRecord, error)
}

// Embedder embeds query text and query phrases.
type Embedder interface {
	Embed(ctx context.Context, text string, kind embedding.Kind) ([]float32, error)
}

// Searcher provides hybrid semantic and conceptual search over papers.
type Searcher struct {
	store             Store
	embedder          Embedder
	extractor         ai.ConceptExtractor
	minScore          float32
	conceptThreshold  float32
	conceptsPerPhrase int
	logger            *slog.Logger
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithConceptExtractor pulls concept phrases out of the query.
// Without one the whole query is treated as a single phrase.
func WithConceptExtractor(extractor ai.ConceptExtractor) Option {
	return func(s *Searcher) error {
		s.extractor = extractor
		return nil
	}
}

// WithMinScore sets the similarity floor for semantic hits.
func WithMinScore(score float32) Option {
	return func(s *Searcher) error {
		if score < -1 || score > 1 {
			return fmt.Errorf("%w: min score %v outside [-1, 1]", core.ErrInvalidInput, score)
		}
		s.minScore = score
		return nil
	}
}

// WithConceptThreshold sets how close a query phrase must be to a stored concept to use it.
// Defaults to the linker's threshold so searching resolves phrases the way ingestion does.
func WithConceptThreshold(threshold float32) Option {
	return func(s *Searcher) error {
		if threshold <= 0 || threshold > 1 {
			return fmt.Errorf("%w: concept threshold %v outside (0, 1]", core.ErrInvalidInput, threshold)
		}
		s.conceptThreshold = threshold
		return nil
	}
}

// WithConceptsPerPhrase sets how many concepts a single phrase may match.
func WithConceptsPerPhrase(n int) Option {
	return func(s *Searcher) error {
		if n < 1 {
			return fmt.Errorf("%w: concepts per phrase must be at least 1", core.ErrInvalidInput)
		}
		s.conceptsPerPhrase = n
		return nil
	}
}

// NewSearcher creates a new searcher.
func NewSearcher(store Store, embedder Embedder, opts ...Option) (*Searcher, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	s := &Searcher{
		store:             store,
		embedder:          embedder,
		minScore:          DefaultMinScore,
		conceptThreshold:  linker.DefaultThreshold,
		conceptsPerPhrase: DefaultConceptsPerPhrase,
		logger:            slog.Default().With("component", "search"),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// FindSimilar searches for papers related to the query.
// Returns up to maxHits results, ranked by relevance score.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int) ([]core.ScoredPaper, error) {
	return s.FindSimilarWithMonitor(ctx, query, maxHits, nil)
}

// FindSimilarWithMonitor searches for papers related to the query with monitoring.
// The monitor receives callbacks at each stage of the search process.
//
// Scoring:
//   - semantic and conceptual: 1.5 times the similarity
//   - conceptual only: 1.2
//   - semantic only: the similarity
//
// A paper whose title and abstract contain every non-stop query word gets 0.3 on top.
func (s *Searcher) FindSimilarWithMonitor(ctx context.Context, query string, maxHits int, monitor SearchMonitor) ([]core.ScoredPaper, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidInput, ErrEmptyQuery)
	}
	if maxHits <= 0 {
		return nil, fmt.Errorf("%w: maxHits must be positive", core.ErrInvalidInput)
	}
	if monitor == nil {
		monitor = &noopMonitor{}
	}

	monitor.Start(query)

	// 1. Semantic search
	vector, err := s.embedder.Embed(ctx, query, embedding.KindQuery)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}
	matches, err := s.store.QuerySimilarPapers(ctx, vector, maxHits, s.minScore)
	if err != nil {
		s.logger.Error("error querying for similar papers", "err", err)
		return nil, err
	}

	semantic := make(map[core.ID]core.ScoredPaper, len(matches))
	semanticIDs := make([]core.ID, 0, len(matches))
	for _, match := range matches {
		semantic[match.Record.Id] = match
		semanticIDs = append(semanticIDs, match.Record.Id)
	}
	monitor.AfterSemanticSearch(semanticIDs)

	// 2. Query phrases
	phrases := s.queryPhrases(ctx, query)
	monitor.AfterQueryConceptExtraction(phrases)

	// 3. Papers linked to the concepts the phrases resolve to
	conceptual := make(map[core.ID]bool)
	for _, phrase := range phrases {
		concepts, err := s.resolve(ctx, phrase)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn("error resolving query phrase", "phrase", phrase, "err", err)
			continue
		}
		monitor.FoundRelatedConcepts(phrase, concepts)

		for _, concept := range concepts {
			paperIDs, err := s.store.PapersForConcept(ctx, concept.Id)
			if err != nil {
				s.logger.Warn("failed to get papers for concept", "concept", concept.Id, "err", err)
				continue
			}
			for _, id := range paperIDs {
				conceptual[id] = true
			}
		}
	}
	monitor.AfterConceptuallyRelatedSearch(maps.Keys(conceptual))

	if len(semantic) == 0 && len(conceptual) == 0 {
		monitor.Finish(nil)
		return []core.ScoredPaper{}, nil
	}

	// 4. Fetch papers only the concept path found
	papers := make([]*core.PaperRecord, 0, len(semantic)+len(conceptual))
	for _, match := range matches {
		papers = append(papers, match.Record)
	}
	for _, id := range slices.Sorted(maps.Keys(conceptual)) {
		if _, ok := semantic[id]; ok {
			continue
		}
		paper, err := s.store.GetPaper(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			s.logger.Debug("linked paper no longer stored", "paper", id)
			continue
		}
		if err != nil {
			s.logger.Error("error retrieving paper", "paper", id, "err", err)
			return nil, err
		}
		papers = append(papers, paper)
	}
	monitor.AfterRecordRetrieval(papers)

	// 5. Score and rank
	results := make([]core.ScoredPaper, 0, len(papers))
	for _, paper := range papers {
		match, inSemantic := semantic[paper.Id]
		inConceptual := conceptual[paper.Id]

		var score float32
		switch {
		case inSemantic && inConceptual:
			score = 1.5 * match.Score
			monitor.SemanticAndConceptualHit(paper)
		case inConceptual:
			score = 1.2
			monitor.ConceptualHit(paper)
		default:
			score = match.Score
			monitor.SemanticHit(paper)
		}

		if mentionsAllTerms(paper.Title+" "+paper.Abstract, query) {
			score += 0.3
		}
		results = append(results, core.ScoredPaper{Record: paper, Score: score})
	}

	slices.SortStableFunc(results, func(a, b core.ScoredPaper) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(results) > maxHits {
		results = results[:maxHits]
	}
	monitor.Finish(results)

	return results, nil
}

// queryPhrases returns the concept phrases to look up for query.
// Extraction failures fall back to the whole query.
func (s *Searcher) queryPhrases(ctx context.Context, query string) []string {
	if s.extractor == nil {
		return []string{strings.TrimSpace(query)}
	}
	extracted, err := s.extractor.ExtractConcepts(ctx, query)
	if err != nil {
		s.logger.Warn("error extracting concepts from query, using the query itself", "err", err)
		return []string{strings.TrimSpace(query)}
	}

	seen := make(map[string]bool, len(extracted))
	phrases := make([]string, 0, len(extracted))
	for _, ec := range extracted {
		phrase := strings.TrimSpace(ec.Phrase)
		key := strings.ToLower(phrase)
		if phrase == "" || seen[key] {
			continue
		}
		seen[key] = true
		phrases = append(phrases, phrase)
	}
	if len(phrases) == 0 {
		return []string{strings.TrimSpace(query)}
	}
	return phrases
}

// resolve finds the stored concepts phrase names.
func (s *Searcher) resolve(ctx context.Context, phrase string) ([]*core.ConceptRecord, error) {
	vector, err := s.embedder.Embed(ctx, phrase, embedding.KindConcept)
	if err != nil {
		return nil, err
	}
	hits, err := s.store.QuerySimilarConcepts(ctx, vector, s.conceptsPerPhrase, s.conceptThreshold)
	if err != nil {
		return nil, err
	}
	concepts := make([]*core.ConceptRecord, len(hits))
	for i, hit := range hits {
		concepts[i] = hit.Record
	}
	return concepts, nil
}
