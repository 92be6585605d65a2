package reembed

import "errors"

var (
	// ErrStoreRequired is returned when no store is provided.
	ErrStoreRequired = errors.New("store required")

	// ErrEmbedderRequired is returned when no embedding service is provided.
	ErrEmbedderRequired = errors.New("embedder required")
)
