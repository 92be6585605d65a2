package ingestion

import "errors"

var (
	// ErrStoreRequired is returned when a semantic store is not provided.
	ErrStoreRequired = errors.New("semantic store required")

	// ErrLinkerRequired is returned when a concept linker is not provided.
	ErrLinkerRequired = errors.New("concept linker required")

	// ErrSummarizerRequired is returned when a summarizer is not provided.
	ErrSummarizerRequired = errors.New("summarizer required")

	// ErrConceptExtractorRequired is returned when a concept extractor is not provided.
	ErrConceptExtractorRequired = errors.New("concept extractor required")

	// ErrSearcherRequired is returned by Ingest when the pipeline has no search provider.
	ErrSearcherRequired = errors.New("search provider required")
)
