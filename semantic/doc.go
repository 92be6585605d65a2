// Package semantic is the persistent index of papers, concepts and the links between them.
//
// A Store owns deduplication and embedding consistency on top of the storage
// repositories: papers are keyed by fingerprint and merged on re-ingestion,
// vectors are recomputed only when the embedded text changes, and the schema
// guard refuses to mix vectors from different embedding models.
//
//	store, err := semantic.Open(ctx, repos, embedder)
//	stored, change, err := store.UpsertPaper(ctx, paper)
//	hits, err := store.QuerySimilarPapers(ctx, vector, 10, 0.5)
package semantic
