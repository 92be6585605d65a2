// Package wikilink extracts concepts marked as [[wikilinks]] in generated summaries.
package wikilink

import (
	"context"
	"regexp"
	"strings"

	"github.com/poiesic/athena/ai"
)

var linkPattern = regexp.MustCompile(`\[\[([^\]|]+)(\|[^\]]*)?\]\]`)

// Extractor implements ai.ConceptExtractor over [[concept]] markup.
// Aliased links ([[target|label]]) yield the target.
type Extractor struct{}

var _ ai.ConceptExtractor = Extractor{}

// New returns a wikilink extractor.
func New() Extractor {
	return Extractor{}
}

// ExtractConcepts returns each linked phrase once, in order of first appearance,
// with confidence 1.0. Matching is case-insensitive; the first spelling wins.
func (Extractor) ExtractConcepts(_ context.Context, text string) ([]ai.ExtractedConcept, error) {
	matches := linkPattern.FindAllStringSubmatch(text, -1)
	concepts := make([]ai.ExtractedConcept, 0, len(matches))
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		phrase := strings.Join(strings.Fields(m[1]), " ")
		key := strings.ToLower(phrase)
		if phrase == "" || seen[key] {
			continue
		}
		seen[key] = true
		concepts = append(concepts, ai.ExtractedConcept{Phrase: phrase, Confidence: 1.0})
	}
	return concepts, nil
}
