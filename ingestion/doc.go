// Package ingestion drives search results through extraction, summarization,
// concept linking and storage.
//
// Each paper moves through the stages fetched, extracted, summarized,
// concept-extracted and stored. A failure in one paper never blocks the others:
//   - a missing full text lets the paper continue with metadata only
//   - an exhausted summarizer stores the paper flagged for reprocessing
//   - concept failures store the paper with the links that did resolve
//
// Papers are processed in fixed-size batches on a shared worker pool, and every
// external call passes through one admission semaphore and an explicit retry
// policy. Each batch returns a BatchReport; nothing is tracked between calls.
//
// An embedding dimension mismatch or an unavailable store aborts the batch.
// The partial report is returned together with the error.
package ingestion
