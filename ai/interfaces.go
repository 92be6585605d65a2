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


package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// The returned slice contains embeddings in the same order as the input texts.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer produces a summary and topical tags for a paper's text.
// Implementations must be thread-safe for concurrent use.
type Summarizer interface {
	// Summarize returns the summary of text. The summary is opaque Markdown;
	// it may mark concepts as [[wikilinks]].
	Summarize(ctx context.Context, text string, opts SummaryOptions) (*Summary, error)
}

// ConceptExtractor extracts key concept phrases from text.
// Implementations must be thread-safe for concurrent use.
type ConceptExtractor interface {
	// ExtractConcepts returns concepts in the order they appear in text.
	// Returns an empty slice if no concepts are found.
	ExtractConcepts(ctx context.Context, text string) ([]ExtractedConcept, error)
}

// AIProvider aggregates AI services for convenient initialization and lifecycle management.
type AIProvider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Summarizer returns the summarization service.
	Summarizer() Summarizer

	// ConceptExtractor returns the concept extraction service.
	ConceptExtractor() ConceptExtractor

	// Close releases resources held by the provider and its services.
	Close() error
}
