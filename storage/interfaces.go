package storage

import (
	"context"
	"time"

	"github.com/poiesic/athena/core"
)

// Repository provides common storage operations shared across all repositories.
// Implementations must be thread-safe and support concurrent access.
type Repository interface {
	// Close releases resources held by the repository.
	// The shared backend is closed separately.
	Close() error
}

// PaperRepository provides operations for managing paper records.
type PaperRepository interface {
	Repository

	// GetPaper retrieves a single paper by fingerprint.
	// Returns ErrNotFound if the paper doesn't exist.
	GetPaper(ctx context.Context, id core.ID) (*core.PaperRecord, error)

	// GetPapers retrieves multiple papers by fingerprint.
	// Returns only the papers that exist (no error for missing papers).
	GetPapers(ctx context.Context, ids ...core.ID) ([]*core.PaperRecord, error)

	// PutPaper writes a paper if the stored revision equals expectedRevision.
	// expectedRevision 0 means the paper must not exist yet.
	// On success the returned copy carries Revision expectedRevision+1 and fresh timestamps.
	// A revision mismatch or a transaction conflict returns ErrRevisionConflict.
	PutPaper(ctx context.Context, paper *core.PaperRecord, expectedRevision uint64) (*core.PaperRecord, error)

	// DeletePaper removes a paper and every link that references it in one transaction.
	// Reports whether the paper existed; deleting an absent paper is not an error.
	DeletePaper(ctx context.Context, id core.ID) (bool, error)

	// FindSimilarPapers returns papers whose vector scores >= minSimilarity against vector,
	// highest first, ties broken by most recent InsertedAt, up to limit results.
	FindSimilarPapers(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]core.ScoredPaper, error)

	// ListPapers returns up to limit papers with fingerprints greater than after, in key order.
	ListPapers(ctx context.Context, after core.ID, limit int) ([]*core.PaperRecord, error)

	// CountPapers returns the number of stored papers.
	CountPapers(ctx context.Context) (int, error)
}

// ConceptRepository provides operations for managing concepts.
type ConceptRepository interface {
	Repository

	// CreateConcept stores a new concept under a sequence-assigned ID.
	CreateConcept(ctx context.Context, phrase string, vector []float32) (*core.ConceptRecord, error)

	// UpdateConcepts replaces existing concepts.
	// Returns ErrNotFound if any concept doesn't exist.
	UpdateConcepts(ctx context.Context, concepts ...*core.ConceptRecord) ([]*core.ConceptRecord, error)

	// GetConcept retrieves a single concept by ID.
	// Returns ErrNotFound if the concept doesn't exist.
	GetConcept(ctx context.Context, id core.ID) (*core.ConceptRecord, error)

	// GetConcepts retrieves multiple concepts by their IDs.
	// Returns only the concepts that exist (no error for missing concepts).
	GetConcepts(ctx context.Context, ids ...core.ID) ([]*core.ConceptRecord, error)

	// FindSimilarConcepts returns concepts whose vector scores >= minSimilarity against vector,
	// highest first, ties broken by most recent InsertedAt, up to limit results.
	FindSimilarConcepts(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]core.ScoredConcept, error)

	// ListConcepts returns up to limit concepts with IDs greater than after, in ID order.
	ListConcepts(ctx context.Context, after core.ID, limit int) ([]*core.ConceptRecord, error)

	// CountConcepts returns the number of stored concepts.
	CountConcepts(ctx context.Context) (int, error)
}

// LinkRepository provides operations for paper/concept links.
// Links are indexed in both directions.
type LinkRepository interface {
	Repository

	// UpsertLinks stores links, replacing the confidence of an existing (paper, concept, phrase) link.
	// The original CreatedAt of a replaced link is kept.
	UpsertLinks(ctx context.Context, links ...core.Link) error

	// LinksForPaper returns every link of a paper ordered by concept ID.
	LinksForPaper(ctx context.Context, paperID core.ID) ([]core.Link, error)

	// PapersForConcept returns the fingerprints of papers linked to a concept.
	PapersForConcept(ctx context.Context, conceptID core.ID) ([]core.ID, error)
}

// SchemaRepository persists the store's schema info.
type SchemaRepository interface {
	// LoadSchema returns nil, nil when the store has never been initialized.
	LoadSchema(ctx context.Context) (*core.SchemaInfo, error)

	// SaveSchema records the schema info.
	SaveSchema(ctx context.Context, info *core.SchemaInfo) error
}

// CheckpointRepository persists progress markers for long-running jobs.
type CheckpointRepository interface {
	// SaveCheckpoint persists a checkpoint under its name.
	SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error

	// LoadCheckpoint returns nil, nil if no checkpoint exists.
	LoadCheckpoint(ctx context.Context, name string) (*core.Checkpoint, error)

	// DeleteCheckpoint forgets a checkpoint; absent names are not an error.
	DeleteCheckpoint(ctx context.Context, name string) error

	// ListCheckpoints returns the checkpoints whose names start with prefix, ordered by name.
	ListCheckpoints(ctx context.Context, prefix string) ([]*core.Checkpoint, error)
}

// Cache is a byte-oriented cache with per-entry expiry.
// Used as the shared tier behind in-process caches.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Put stores value under key. A ttl of 0 means no expiry.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
}
