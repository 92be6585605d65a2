package badger

import (
	"context"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/storage"
)

// LinkRepository implements storage.LinkRepository for BadgerDB.
// The paper-side key holds the link, one per (concept, phrase); the concept-side key
// is an empty index entry shared by every phrase of a paper.
type LinkRepository struct {
	backend *Backend
}

var _ storage.LinkRepository = (*LinkRepository)(nil)

// NewLinkRepository creates a new LinkRepository.
func NewLinkRepository(backend *Backend) *LinkRepository {
	return &LinkRepository{
		backend: backend,
	}
}

// Close releases resources. LinkRepository has no resources to release.
func (r *LinkRepository) Close() error {
	return nil
}

// UpsertLinks stores links in both directions.
func (r *LinkRepository) UpsertLinks(ctx context.Context, links ...core.Link) error {
	if len(links) == 0 {
		return nil
	}
	for i := range links {
		if err := core.ValidateLink(&links[i]); err != nil {
			return err
		}
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		now := time.Now().UTC()
		for _, link := range links {
			key := makePaperLinkKey(link.PaperId, link.ConceptId, link.Phrase)
			existing, err := readLink(tx, key)
			if err != nil {
				return err
			}
			switch {
			case existing != nil:
				link.CreatedAt = existing.CreatedAt
			case link.CreatedAt.IsZero():
				link.CreatedAt = now
			}

			if err := tx.Set(key, storage.MarshalLink(link)); err != nil {
				return err
			}
			if err := tx.Set(makeConceptLinkKey(link.ConceptId, link.PaperId), nil); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
}

// LinksForPaper returns every link of a paper ordered by concept ID.
// A concept reached through several phrases appears once per phrase.
func (r *LinkRepository) LinksForPaper(ctx context.Context, paperID core.ID) ([]core.Link, error) {
	var links []core.Link
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeIDKey(linkByPaperPrefix, paperID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				link, err := storage.UnmarshalLink(val)
				if err != nil {
					return err
				}
				links = append(links, link)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	return links, err
}

// PapersForConcept returns the fingerprints of papers linked to a concept.
func (r *LinkRepository) PapersForConcept(ctx context.Context, conceptID core.ID) ([]core.ID, error) {
	var ids []core.ID
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = makeIDKey(linkByConceptPrefix, conceptID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if _, paperID, ok := pairFromKey(linkByConceptPrefix, iter.Item().Key()); ok {
				ids = append(ids, paperID)
			}
		}
		return nil
	}, false)
	return ids, err
}

// paperLinkKeys returns copies of every paper-side link key of a paper.
func paperLinkKeys(tx *badger.Txn, paperID core.ID) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = makeIDKey(linkByPaperPrefix, paperID)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}
	return keys
}

// readLink reads a link from the transaction.
// Returns nil, nil if the link does not exist.
func readLink(tx *badger.Txn, key []byte) (*core.Link, error) {
	item, err := tx.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}

	var link core.Link
	err = item.Value(func(val []byte) error {
		var err error
		link, err = storage.UnmarshalLink(val)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}
