package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/athena/ai"
)

// MockConceptExtractor is a test double for ai.ConceptExtractor.
// It allows custom behavior injection via function fields.
type MockConceptExtractor struct {
	// ExtractConceptsFunc is called by ExtractConcepts if set.
	// If nil, uses default simple word extraction.
	ExtractConceptsFunc func(ctx context.Context, text string) ([]ai.ExtractedConcept, error)

	callCount atomic.Int64
}

// NewMockConceptExtractor creates a mock concept extractor with default behavior.
// Note: Returns concrete type to allow test assertions via GetMockExtractor().
func NewMockConceptExtractor() *MockConceptExtractor {
	return &MockConceptExtractor{}
}

// ExtractConcepts extracts simple mock concepts from text.
// Default behavior: the first five distinct words longer than three letters,
// with confidence falling from 1.0 in steps of 0.1.
func (m *MockConceptExtractor) ExtractConcepts(ctx context.Context, text string) ([]ai.ExtractedConcept, error) {
	m.callCount.Add(1)

	if m.ExtractConceptsFunc != nil {
		return m.ExtractConceptsFunc(ctx, text)
	}

	concepts := make([]ai.ExtractedConcept, 0, 5)
	seen := make(map[string]bool)
	confidence := float32(1.0)
	for _, word := range strings.Fields(text) {
		if len(concepts) == 5 {
			break
		}
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		key := strings.ToLower(word)
		if len(word) <= 3 || seen[key] {
			continue
		}
		seen[key] = true
		concepts = append(concepts, ai.ExtractedConcept{Phrase: word, Confidence: confidence})
		confidence -= 0.1
	}

	return concepts, nil
}

// CallCount returns the number of times ExtractConcepts was called.
func (m *MockConceptExtractor) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom functions.
func (m *MockConceptExtractor) Reset() {
	m.callCount.Store(0)
	m.ExtractConceptsFunc = nil
}
