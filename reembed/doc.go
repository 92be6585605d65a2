// Package reembed recomputes every stored vector after the embedding model changes.
//
// Papers and concepts are re-embedded in batches, in id order, with progress
// reported to a writer. Each collection keeps a checkpoint so an interrupted run
// resumes where it stopped. Once both collections are done the store's schema
// info is switched to the new model.
package reembed
