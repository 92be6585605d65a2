package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/storage"
)

// PaperRepository implements storage.PaperRepository for BadgerDB.
type PaperRepository struct {
	backend *Backend
}

var _ storage.PaperRepository = (*PaperRepository)(nil)

// NewPaperRepository creates a new PaperRepository.
func NewPaperRepository(backend *Backend) *PaperRepository {
	return &PaperRepository{
		backend: backend,
	}
}

// Close releases resources. PaperRepository has no resources to release.
func (r *PaperRepository) Close() error {
	return nil
}

// PutPaper writes a paper guarded by a revision compare-and-swap.
func (r *PaperRepository) PutPaper(ctx context.Context, paper *core.PaperRecord, expectedRevision uint64) (*core.PaperRecord, error) {
	if err := core.ValidatePaper(paper); err != nil {
		return nil, err
	}

	var stored *core.PaperRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makePaperKey(paper.Id)
		current, err := readPaper(tx, key)
		if err != nil {
			return err
		}

		var currentRevision uint64
		if current != nil {
			currentRevision = current.Revision
		}
		if currentRevision != expectedRevision {
			return storage.ErrRevisionConflict
		}

		record := *paper
		now := time.Now().UTC()
		if current != nil {
			record.InsertedAt = current.InsertedAt
		} else {
			record.InsertedAt = now
		}
		record.UpdatedAt = now
		record.Revision = expectedRevision + 1

		if err := tx.Set(key, storage.MarshalPaper(&record)); err != nil {
			return err
		}

		vectorKey := makePaperVectorKey(record.Id)
		if len(record.Vector) > 0 {
			if err := tx.Set(vectorKey, marshalVectorEntry(record.InsertedAt, record.Vector)); err != nil {
				return err
			}
		} else if err := tx.Delete(vectorKey); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			if errors.Is(err, badger.ErrConflict) {
				return storage.ErrRevisionConflict
			}
			return err
		}
		stored = &record
		return nil
	}, true)
	return stored, err
}

// DeletePaper removes a paper, its vector and its links in one transaction.
func (r *PaperRepository) DeletePaper(ctx context.Context, id core.ID) (bool, error) {
	existed := false
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makePaperKey(id)
		paper, err := readPaper(tx, key)
		if err != nil {
			return err
		}
		existed = paper != nil

		links := paperLinkKeys(tx, id)
		if !existed && len(links) == 0 {
			return nil
		}

		for _, linkKey := range links {
			if err := tx.Delete(linkKey); err != nil {
				return err
			}
			if conceptID, ok := conceptFromPaperLinkKey(linkKey); ok {
				if err := tx.Delete(makeConceptLinkKey(conceptID, id)); err != nil {
					return err
				}
			}
		}
		if err := tx.Delete(makePaperVectorKey(id)); err != nil {
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return existed, err
}

// GetPaper retrieves a single paper by fingerprint.
func (r *PaperRepository) GetPaper(ctx context.Context, id core.ID) (*core.PaperRecord, error) {
	var result *core.PaperRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readPaper(tx, makePaperKey(id))
		if err != nil {
			return err
		}
		if result == nil {
			return storage.ErrNotFound
		}
		return nil
	}, false)
	return result, err
}

// GetPapers retrieves multiple papers by fingerprint.
func (r *PaperRepository) GetPapers(ctx context.Context, ids ...core.ID) ([]*core.PaperRecord, error) {
	var result []*core.PaperRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			paper, err := readPaper(tx, makePaperKey(id))
			if err != nil {
				return err
			}
			if paper != nil {
				result = append(result, paper)
			}
		}
		return nil
	}, false)
	return result, err
}

// FindSimilarPapers scans the paper vector index.
func (r *PaperRepository) FindSimilarPapers(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]core.ScoredPaper, error) {
	hits, err := r.backend.findSimilar(paperVectorPrefix, vector, minSimilarity, limit)
	if err != nil {
		return nil, err
	}

	results := make([]core.ScoredPaper, 0, len(hits))
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		for _, hit := range hits {
			paper, err := readPaper(tx, makePaperKey(hit.id))
			if err != nil {
				return err
			}
			// Deleted between the scan and the read
			if paper == nil {
				continue
			}
			results = append(results, core.ScoredPaper{Record: paper, Score: hit.score})
		}
		return nil
	}, false)
	return results, err
}

// ListPapers pages through papers in fingerprint order.
func (r *PaperRepository) ListPapers(ctx context.Context, after core.ID, limit int) ([]*core.PaperRecord, error) {
	ids, err := r.backend.listIDs(paperPrefix, after, limit)
	if err != nil {
		return nil, err
	}
	return r.GetPapers(ctx, ids...)
}

// CountPapers returns the number of stored papers.
func (r *PaperRepository) CountPapers(ctx context.Context) (int, error) {
	return r.backend.countPrefix([]byte(paperPrefix))
}

// readPaper reads a paper from the transaction.
// Returns nil, nil if the paper does not exist.
func readPaper(tx *badger.Txn, key []byte) (*core.PaperRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var paper *core.PaperRecord
	err = item.Value(func(val []byte) error {
		var err error
		paper, err = storage.UnmarshalPaper(val)
		return err
	})
	return paper, err
}
