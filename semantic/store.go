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


package semantic

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
	"github.com/poiesic/athena/storage"
)

// DefaultConflictRetries bounds how often an upsert re-reads after a revision conflict.
const DefaultConflictRetries = 8

// Embedder is the part of embedding.Service the store depends on.
type Embedder interface {
	Embed(ctx context.Context, text string, kind embedding.Kind) ([]float32, error)
	Model() string
	Dimension() int
}

var _ Embedder = (*embedding.Service)(nil)

// Repositories are the collections a Store is built on.
type Repositories struct {
	Papers   storage.PaperRepository
	Concepts storage.ConceptRepository
	Links    storage.LinkRepository
	Schema   storage.SchemaRepository
}

// Store is the semantic index. It is safe for concurrent use.
type Store struct {
	papers   storage.PaperRepository
	concepts storage.ConceptRepository
	links    storage.LinkRepository
	schema   storage.SchemaRepository
	embedder Embedder
	locks    *keyedMutex

	conflictRetries    int
	allowModelChange   bool
	modelChangePending bool
	logger             *slog.Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		s.logger = logger
		return nil
	}
}

// WithConflictRetries sets how many revision conflicts an upsert absorbs.
func WithConflictRetries(n int) Option {
	return func(s *Store) error {
		if n < 1 {
			return fmt.Errorf("%w: conflict retries must be at least 1", core.ErrInvalidInput)
		}
		s.conflictRetries = n
		return nil
	}
}

// WithAllowModelChange opens a store built with another embedding model.
// Used by re-embedding, which records the new schema once every vector is replaced.
func WithAllowModelChange() Option {
	return func(s *Store) error {
		s.allowModelChange = true
		return nil
	}
}

// Open checks the stored schema against the embedder and returns a Store.
// A fresh store records the embedder's model and dimension.
func Open(ctx context.Context, repos Repositories, embedder Embedder, opts ...Option) (*Store, error) {
	if repos.Papers == nil || repos.Concepts == nil || repos.Links == nil || repos.Schema == nil {
		return nil, fmt.Errorf("%w: all repositories are required", core.ErrInvalidInput)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", core.ErrInvalidInput)
	}
	s := &Store{
		papers:          repos.Papers,
		concepts:        repos.Concepts,
		links:           repos.Links,
		schema:          repos.Schema,
		embedder:        embedder,
		locks:           newKeyedMutex(),
		conflictRetries: DefaultConflictRetries,
		logger:          slog.Default().With("component", "semantic-store"),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if err := s.checkSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) checkSchema(ctx context.Context) error {
	info, err := s.schema.LoadSchema(ctx)
	if err != nil {
		return storeError("load schema", err)
	}
	if info == nil {
		s.logger.Info("initializing schema", "model", s.embedder.Model(), "dimension", s.embedder.Dimension())
		return s.SaveSchema(ctx)
	}
	if info.Version > core.SchemaVersion {
		return fmt.Errorf("%w: schema version %d is newer than supported %d",
			core.ErrStoreUnavailable, info.Version, core.SchemaVersion)
	}
	if info.EmbeddingModel == s.embedder.Model() && info.Dimension == s.embedder.Dimension() {
		return nil
	}
	if !s.allowModelChange {
		return fmt.Errorf("%w: store uses %s (%d), configured %s (%d)", core.ErrEmbeddingModelChanged,
			info.EmbeddingModel, info.Dimension, s.embedder.Model(), s.embedder.Dimension())
	}
	s.modelChangePending = true
	s.logger.Warn("embedding model changed, vectors must be re-embedded",
		"stored", info.EmbeddingModel, "configured", s.embedder.Model())
	return nil
}

// SaveSchema records the embedder's model and dimension as the store's vector space.
func (s *Store) SaveSchema(ctx context.Context) error {
	info := &core.SchemaInfo{
		Version:        core.SchemaVersion,
		EmbeddingModel: s.embedder.Model(),
		Dimension:      s.embedder.Dimension(),
		UpdatedAt:      time.Now().UTC(),
	}
	if err := s.schema.SaveSchema(ctx, info); err != nil {
		return storeError("save schema", err)
	}
	s.modelChangePending = false
	return nil
}

// ModelChangePending reports whether the store was opened over vectors of another model.
func (s *Store) ModelChangePending() bool {
	return s.modelChangePending
}

// Change reports what an upsert did to the stored paper.
type Change int

const (
	// Unchanged means the record added nothing and nothing was written.
	Unchanged Change = iota
	// Created means the paper was new.
	Created
	// Updated means an existing paper was merged and rewritten.
	Updated
)

func (c Change) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return fmt.Sprintf("Change(%d)", int(c))
	}
}

// UpsertPaper stores record, merging it into an existing paper with the same fingerprint.
//
// A record without an Id is fingerprinted first. The paper vector is recomputed
// only when the embedded text changed or no vector exists. Upserting an unchanged
// record returns the stored paper untouched with Unchanged.
func (s *Store) UpsertPaper(ctx context.Context, record *core.PaperRecord) (*core.PaperRecord, Change, error) {
	if record == nil {
		return nil, Unchanged, fmt.Errorf("%w: %w: paper is nil", core.ErrInvalidInput, core.ErrInvalidPaper)
	}
	incoming := *record
	if incoming.Id == 0 {
		id, err := core.Fingerprint(&incoming)
		if err != nil {
			return nil, Unchanged, err
		}
		incoming.Id = id
	}
	if err := core.ValidatePaper(&incoming); err != nil {
		return nil, Unchanged, err
	}

	unlock := s.locks.Lock(incoming.Id)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= s.conflictRetries; attempt++ {
		existing, err := s.papers.GetPaper(ctx, incoming.Id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, Unchanged, storeError("read paper", err)
		}
		if errors.Is(err, storage.ErrNotFound) {
			existing = nil
		}

		merged, changed := core.MergePaper(existing, &incoming)
		if existing != nil && !changed && s.vectorCurrent(existing) {
			return existing, Unchanged, nil
		}

		if !s.vectorCurrent(merged) {
			text := merged.EmbeddingText()
			vector, err := s.embedder.Embed(ctx, text, embedding.KindPaper)
			if err != nil {
				return nil, Unchanged, err
			}
			merged.Vector = vector
			merged.ContentHash = core.IDFromContent(text)
		}

		var expected uint64
		if existing != nil {
			expected = existing.Revision
		}
		stored, err := s.papers.PutPaper(ctx, merged, expected)
		if err == nil {
			change := Updated
			if existing == nil {
				change = Created
			}
			s.logger.Debug("upserted paper", "id", stored.Id, "change", change, "revision", stored.Revision)
			return stored, change, nil
		}
		if !errors.Is(err, core.ErrStoreConsistency) {
			return nil, Unchanged, storeError("write paper", err)
		}
		lastErr = err
		s.logger.Warn("near miss: concurrent write to paper, retrying", "id", incoming.Id, "attempt", attempt)
	}
	return nil, Unchanged, fmt.Errorf("%w: paper %s kept conflicting: %w", core.ErrStoreUnavailable, incoming.Id, lastErr)
}

// vectorCurrent reports whether p's vector was computed from its current text by this model.
func (s *Store) vectorCurrent(p *core.PaperRecord) bool {
	return len(p.Vector) == s.embedder.Dimension() && p.ContentHash == core.IDFromContent(p.EmbeddingText())
}

// GetPaper returns the paper with the given fingerprint, or storage.ErrNotFound.
func (s *Store) GetPaper(ctx context.Context, id core.ID) (*core.PaperRecord, error) {
	paper, err := s.papers.GetPaper(ctx, id)
	if err != nil {
		return nil, storeError("get paper", err)
	}
	return paper, nil
}

// DeletePaper removes a paper and its links. Deleting an absent paper is a no-op.
func (s *Store) DeletePaper(ctx context.Context, id core.ID) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	existed, err := s.papers.DeletePaper(ctx, id)
	if err != nil {
		return false, storeError("delete paper", err)
	}
	if existed {
		s.logger.Info("deleted paper", "id", id)
	}
	return existed, nil
}

// ListPapers pages through papers in fingerprint order.
func (s *Store) ListPapers(ctx context.Context, after core.ID, limit int) ([]*core.PaperRecord, error) {
	papers, err := s.papers.ListPapers(ctx, after, limit)
	if err != nil {
		return nil, storeError("list papers", err)
	}
	return papers, nil
}

// PapersNeedingReprocessing returns every paper stored without a summary after summarization failed.
func (s *Store) PapersNeedingReprocessing(ctx context.Context) ([]*core.PaperRecord, error) {
	const page = 256
	var result []*core.PaperRecord
	var after core.ID
	for {
		papers, err := s.ListPapers(ctx, after, page)
		if err != nil {
			return nil, err
		}
		for _, p := range papers {
			if p.NeedsReprocessing {
				result = append(result, p)
			}
		}
		if len(papers) < page {
			return result, nil
		}
		after = papers[len(papers)-1].Id
	}
}

// ReplacePaperVector stores a recomputed vector for a paper, keeping every other field.
// Used when re-embedding a store under a new model.
func (s *Store) ReplacePaperVector(ctx context.Context, id core.ID, vector []float32, contentHash core.ID) error {
	if err := s.checkVector(vector); err != nil {
		return err
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	for attempt := 1; attempt <= s.conflictRetries; attempt++ {
		paper, err := s.papers.GetPaper(ctx, id)
		if err != nil {
			return storeError("read paper", err)
		}
		paper.Vector = vector
		paper.ContentHash = contentHash
		_, err = s.papers.PutPaper(ctx, paper, paper.Revision)
		if err == nil {
			return nil
		}
		if !errors.Is(err, core.ErrStoreConsistency) {
			return storeError("write paper", err)
		}
		s.logger.Warn("near miss: concurrent write while re-embedding, retrying", "id", id, "attempt", attempt)
	}
	return fmt.Errorf("%w: paper %s kept conflicting", core.ErrStoreUnavailable, id)
}

// CountPapers returns the number of stored papers.
func (s *Store) CountPapers(ctx context.Context) (int, error) {
	n, err := s.papers.CountPapers(ctx)
	if err != nil {
		return 0, storeError("count papers", err)
	}
	return n, nil
}

// QuerySimilarPapers returns up to topK papers scoring at least minScore against vector.
// Scores are cosine similarities; ties go to the most recently inserted paper.
func (s *Store) QuerySimilarPapers(ctx context.Context, vector []float32, topK int, minScore float32) ([]core.ScoredPaper, error) {
	if err := s.checkQuery(vector, topK); err != nil {
		return nil, err
	}
	hits, err := s.papers.FindSimilarPapers(ctx, vector, minScore, topK)
	if err != nil {
		return nil, storeError("query papers", err)
	}
	return hits, nil
}

// QuerySimilarConcepts returns up to topK concepts scoring at least minScore against vector.
func (s *Store) QuerySimilarConcepts(ctx context.Context, vector []float32, topK int, minScore float32) ([]core.ScoredConcept, error) {
	if err := s.checkQuery(vector, topK); err != nil {
		return nil, err
	}
	hits, err := s.concepts.FindSimilarConcepts(ctx, vector, minScore, topK)
	if err != nil {
		return nil, storeError("query concepts", err)
	}
	return hits, nil
}

// SearchPapers embeds query text and returns the most similar papers.
func (s *Store) SearchPapers(ctx context.Context, query string, topK int, minScore float32) ([]core.ScoredPaper, error) {
	vector, err := s.embedder.Embed(ctx, query, embedding.KindQuery)
	if err != nil {
		return nil, err
	}
	return s.QuerySimilarPapers(ctx, vector, topK, minScore)
}

// CreateConcept stores a new concept. Callers check for near-duplicates first.
func (s *Store) CreateConcept(ctx context.Context, phrase string, vector []float32) (*core.ConceptRecord, error) {
	if err := s.checkVector(vector); err != nil {
		return nil, err
	}
	concept, err := s.concepts.CreateConcept(ctx, phrase, vector)
	if err != nil {
		return nil, storeError("create concept", err)
	}
	s.logger.Debug("created concept", "id", concept.Id, "phrase", concept.Phrase)
	return concept, nil
}

// UpdateConcepts replaces stored concepts, typically with re-embedded vectors.
func (s *Store) UpdateConcepts(ctx context.Context, concepts ...*core.ConceptRecord) error {
	for _, c := range concepts {
		if err := s.checkVector(c.Vector); err != nil {
			return err
		}
	}
	if _, err := s.concepts.UpdateConcepts(ctx, concepts...); err != nil {
		return storeError("update concepts", err)
	}
	return nil
}

// GetConcept returns a concept by id, or storage.ErrNotFound.
func (s *Store) GetConcept(ctx context.Context, id core.ID) (*core.ConceptRecord, error) {
	concept, err := s.concepts.GetConcept(ctx, id)
	if err != nil {
		return nil, storeError("get concept", err)
	}
	return concept, nil
}

// ListConcepts pages through concepts in id order.
func (s *Store) ListConcepts(ctx context.Context, after core.ID, limit int) ([]*core.ConceptRecord, error) {
	concepts, err := s.concepts.ListConcepts(ctx, after, limit)
	if err != nil {
		return nil, storeError("list concepts", err)
	}
	return concepts, nil
}

// CountConcepts returns the number of stored concepts.
func (s *Store) CountConcepts(ctx context.Context) (int, error) {
	n, err := s.concepts.CountConcepts(ctx)
	if err != nil {
		return 0, storeError("count concepts", err)
	}
	return n, nil
}

// UpsertLinks records paper/concept links.
func (s *Store) UpsertLinks(ctx context.Context, links ...core.Link) error {
	if len(links) == 0 {
		return nil
	}
	if err := s.links.UpsertLinks(ctx, links...); err != nil {
		return storeError("upsert links", err)
	}
	return nil
}

// LinksForPaper returns the links of a paper ordered by concept id, one per linked phrase.
func (s *Store) LinksForPaper(ctx context.Context, paperID core.ID) ([]core.Link, error) {
	links, err := s.links.LinksForPaper(ctx, paperID)
	if err != nil {
		return nil, storeError("links for paper", err)
	}
	return links, nil
}

// PapersForConcept returns the fingerprints of papers linked to a concept.
func (s *Store) PapersForConcept(ctx context.Context, conceptID core.ID) ([]core.ID, error) {
	ids, err := s.links.PapersForConcept(ctx, conceptID)
	if err != nil {
		return nil, storeError("papers for concept", err)
	}
	return ids, nil
}

// ConceptsForPaper returns the concepts a paper links to.
func (s *Store) ConceptsForPaper(ctx context.Context, paperID core.ID) ([]*core.ConceptRecord, error) {
	links, err := s.LinksForPaper(ctx, paperID)
	if err != nil {
		return nil, err
	}
	ids := make([]core.ID, 0, len(links))
	for _, link := range links {
		// links are ordered by concept, so synonyms of one concept are adjacent
		if n := len(ids); n > 0 && ids[n-1] == link.ConceptId {
			continue
		}
		ids = append(ids, link.ConceptId)
	}
	concepts, err := s.concepts.GetConcepts(ctx, ids...)
	if err != nil {
		return nil, storeError("get concepts", err)
	}
	return concepts, nil
}

// Dimension returns the vector dimension the store holds.
func (s *Store) Dimension() int {
	return s.embedder.Dimension()
}

func (s *Store) checkQuery(vector []float32, topK int) error {
	if topK <= 0 {
		return fmt.Errorf("%w: topK must be positive", core.ErrInvalidInput)
	}
	return s.checkVector(vector)
}

func (s *Store) checkVector(vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: empty vector", core.ErrInvalidInput)
	}
	if len(vector) != s.embedder.Dimension() {
		return fmt.Errorf("%w: got %d, store holds %d", core.ErrEmbeddingDimensionMismatch, len(vector), s.embedder.Dimension())
	}
	return nil
}

// storeError wraps failures of the store itself; caller mistakes and lookups pass through.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, core.ErrInvalidInput),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return fmt.Errorf("%w: %s: %w", core.ErrStoreUnavailable, op, err)
}
