package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/athena/core"
	"github.com/poiesic/athena/storage"
)

// SchemaRepository implements storage.SchemaRepository for BadgerDB.
type SchemaRepository struct {
	backend *Backend
}

var _ storage.SchemaRepository = (*SchemaRepository)(nil)

// NewSchemaRepository creates a new SchemaRepository.
func NewSchemaRepository(backend *Backend) *SchemaRepository {
	return &SchemaRepository{backend: backend}
}

// LoadSchema returns the stored schema info, or nil, nil for a fresh store.
func (r *SchemaRepository) LoadSchema(ctx context.Context) (*core.SchemaInfo, error) {
	var info *core.SchemaInfo
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(schemaKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var err error
			info, err = storage.UnmarshalSchemaInfo(val)
			return err
		})
	}, false)
	return info, err
}

// SaveSchema records the schema info.
func (r *SchemaRepository) SaveSchema(ctx context.Context, info *core.SchemaInfo) error {
	return r.backend.WithTx(func(tx *badger.Txn) error {
		info.UpdatedAt = time.Now().UTC()
		if err := tx.Set([]byte(schemaKey), storage.MarshalSchemaInfo(info)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}
