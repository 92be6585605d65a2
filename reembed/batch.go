package reembed

import (
	"context"
	"fmt"

	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/embedding"
)

// embedPapers recomputes vectors for a batch of papers and stores them.
// Papers with no text to embed are skipped and not counted.
func (r *Reembedder) embedPapers(ctx context.Context, papers []*core.PaperRecord) (int, error) {
	texts := make([]string, 0, len(papers))
	targets := make([]*core.PaperRecord, 0, len(papers))
	for _, p := range papers {
		text := p.EmbeddingText()
		if text == "" {
			r.logger.Warn("paper has no text to embed, skipping", "paper", p.Id)
			continue
		}
		texts = append(texts, text)
		targets = append(targets, p)
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vectors, err := r.embedder.EmbedBatch(ctx, texts, embedding.KindPaper)
	if err != nil {
		return 0, fmt.Errorf("embedding papers: %w", err)
	}
	for i, p := range targets {
		if err := r.store.ReplacePaperVector(ctx, p.Id, vectors[i], core.IDFromContent(texts[i])); err != nil {
			return i, fmt.Errorf("storing vector for paper %s: %w", p.Id, err)
		}
	}
	return len(targets), nil
}

// embedConcepts recomputes vectors for a batch of concepts and stores them in one write.
func (r *Reembedder) embedConcepts(ctx context.Context, concepts []*core.ConceptRecord) (int, error) {
	texts := make([]string, len(concepts))
	for i, c := range concepts {
		texts[i] = c.Phrase
	}
	vectors, err := r.embedder.EmbedBatch(ctx, texts, embedding.KindConcept)
	if err != nil {
		return 0, fmt.Errorf("embedding concepts: %w", err)
	}

	updated := make([]*core.ConceptRecord, len(concepts))
	for i, c := range concepts {
		cp := *c
		cp.Vector = vectors[i]
		updated[i] = &cp
	}
	if err := r.store.UpdateConcepts(ctx, updated...); err != nil {
		return 0, fmt.Errorf("storing concept vectors: %w", err)
	}
	return len(updated), nil
}
