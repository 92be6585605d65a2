package badger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/storage"
)

// ConceptRepository implements storage.ConceptRepository for BadgerDB.
type ConceptRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.ConceptRepository = (*ConceptRepository)(nil)

// NewConceptRepository creates a new ConceptRepository.
func NewConceptRepository(backend *Backend) (*ConceptRepository, error) {
	idSeq, err := backend.GetSequence(conceptIDSeq)
	if err != nil {
		return nil, err
	}

	return &ConceptRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *ConceptRepository) Close() error {
	return r.idSeq.Release()
}

// CreateConcept stores a new concept under the next sequence ID.
func (r *ConceptRepository) CreateConcept(ctx context.Context, phrase string, vector []float32) (*core.ConceptRecord, error) {
	concept := &core.ConceptRecord{
		Phrase: strings.TrimSpace(phrase),
		Vector: vector,
	}
	if err := core.ValidateConcept(concept); err != nil {
		return nil, err
	}

	nextID, err := r.idSeq.Next()
	if err != nil {
		return nil, err
	}
	// BadgerDB sequences can return 0 on first call, so we skip it
	if nextID == 0 {
		nextID, err = r.idSeq.Next()
		if err != nil {
			return nil, err
		}
	}
	concept.Id = core.ID(nextID)
	concept.InsertedAt = time.Now().UTC()
	concept.UpdatedAt = concept.InsertedAt

	err = r.backend.WithTx(func(tx *badger.Txn) error {
		if err := writeConcept(tx, concept); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return concept, nil
}

// UpdateConcepts replaces existing concepts.
func (r *ConceptRepository) UpdateConcepts(ctx context.Context, concepts ...*core.ConceptRecord) ([]*core.ConceptRecord, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, concept := range concepts {
			if err := core.ValidateConcept(concept); err != nil {
				return err
			}
			old, err := readConcept(tx, makeConceptKey(concept.Id))
			if err != nil {
				return err
			}
			if old == nil {
				return storage.ErrNotFound
			}

			concept.InsertedAt = old.InsertedAt
			concept.UpdatedAt = time.Now().UTC()
			if err := writeConcept(tx, concept); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)

	return concepts, err
}

// GetConcept retrieves a single concept by ID.
func (r *ConceptRepository) GetConcept(ctx context.Context, id core.ID) (*core.ConceptRecord, error) {
	var result *core.ConceptRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readConcept(tx, makeConceptKey(id))
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

// GetConcepts retrieves multiple concepts by their IDs.
func (r *ConceptRepository) GetConcepts(ctx context.Context, ids ...core.ID) ([]*core.ConceptRecord, error) {
	var result []*core.ConceptRecord
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		for _, id := range ids {
			concept, err := readConcept(tx, makeConceptKey(id))
			if err != nil {
				return err
			}
			if concept != nil {
				result = append(result, concept)
			}
		}
		return nil
	}, false)
	return result, err
}

// FindSimilarConcepts scans the concept vector index.
func (r *ConceptRepository) FindSimilarConcepts(ctx context.Context, vector []float32, minSimilarity float32, limit int) ([]core.ScoredConcept, error) {
	hits, err := r.backend.findSimilar(conceptVectorPrefix, vector, minSimilarity, limit)
	if err != nil {
		return nil, err
	}

	results := make([]core.ScoredConcept, 0, len(hits))
	err = r.backend.WithTx(func(tx *badger.Txn) error {
		for _, hit := range hits {
			concept, err := readConcept(tx, makeConceptKey(hit.id))
			if err != nil {
				return err
			}
			if concept == nil {
				continue
			}
			results = append(results, core.ScoredConcept{Record: concept, Score: hit.score})
		}
		return nil
	}, false)
	return results, err
}

// ListConcepts pages through concepts in ID order.
func (r *ConceptRepository) ListConcepts(ctx context.Context, after core.ID, limit int) ([]*core.ConceptRecord, error) {
	ids, err := r.backend.listIDs(conceptPrefix, after, limit)
	if err != nil {
		return nil, err
	}
	return r.GetConcepts(ctx, ids...)
}

// CountConcepts returns the number of stored concepts.
func (r *ConceptRepository) CountConcepts(ctx context.Context) (int, error) {
	return r.backend.countPrefix([]byte(conceptPrefix))
}

// Helper methods

// writeConcept stores a concept and its vector entry.
func writeConcept(tx *badger.Txn, concept *core.ConceptRecord) error {
	if err := tx.Set(makeConceptKey(concept.Id), storage.MarshalConcept(concept)); err != nil {
		return err
	}
	vectorKey := makeConceptVectorKey(concept.Id)
	if len(concept.Vector) == 0 {
		return tx.Delete(vectorKey)
	}
	return tx.Set(vectorKey, marshalVectorEntry(concept.InsertedAt, concept.Vector))
}

// readConcept reads a concept from the transaction.
func readConcept(tx *badger.Txn, key []byte) (*core.ConceptRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var concept *core.ConceptRecord
	err = item.Value(func(val []byte) error {
		var err error
		concept, err = storage.UnmarshalConcept(val)
		return err
	})
	return concept, err
}
