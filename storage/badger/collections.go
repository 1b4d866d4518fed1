package badger

import (
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/timshannon/badgerhold/v4"
)

// CollectionRepository implements storage.CollectionRepository.
type CollectionRepository struct {
	backend *Backend
}

var _ storage.CollectionRepository = (*CollectionRepository)(nil)

// NewCollectionRepository creates a new CollectionRepository.
func NewCollectionRepository(backend *Backend) *CollectionRepository {
	return &CollectionRepository{backend: backend}
}

// CreateCollection stores a new collection with a unique name.
func (r *CollectionRepository) CreateCollection(ctx context.Context, collection *core.Collection) error {
	if err := core.ValidateCollection(collection); err != nil {
		return err
	}
	err := r.backend.Update(func(tx *badger.Txn) error {
		var existing []core.Collection
		if err := r.backend.store.TxFind(tx, &existing, badgerhold.Where("Name").Eq(collection.Name).Limit(1)); err != nil {
			return err
		}
		if len(existing) > 0 {
			return fmt.Errorf("%w: collection name %q", storage.ErrDuplicateKey, collection.Name)
		}
		return r.backend.store.TxInsert(tx, collection.ID, collection)
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("%w: collection %s", storage.ErrDuplicateKey, collection.ID)
	}
	return err
}

// GetCollection retrieves a collection by ID.
func (r *CollectionRepository) GetCollection(ctx context.Context, id string) (*core.Collection, error) {
	var collection core.Collection
	if err := r.backend.store.Get(id, &collection); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrCollectionNotFound, id)
		}
		return nil, err
	}
	return &collection, nil
}

// FindCollectionByName retrieves a collection by its unique name.
func (r *CollectionRepository) FindCollectionByName(ctx context.Context, name string) (*core.Collection, error) {
	var found []core.Collection
	if err := r.backend.store.Find(&found, badgerhold.Where("Name").Eq(name).Limit(1)); err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrCollectionNotFound, name)
	}
	return &found[0], nil
}

// ListCollections returns all collections ordered by name.
func (r *CollectionRepository) ListCollections(ctx context.Context) ([]*core.Collection, error) {
	var found []core.Collection
	if err := r.backend.store.Find(&found, badgerhold.Where("ID").Ne("").SortBy("Name")); err != nil {
		return nil, err
	}
	out := make([]*core.Collection, len(found))
	for i := range found {
		out[i] = &found[i]
	}
	return out, nil
}

// DeleteCollection removes a collection row.
func (r *CollectionRepository) DeleteCollection(ctx context.Context, id string) error {
	err := r.backend.Update(func(tx *badger.Txn) error {
		return r.backend.store.TxDelete(tx, id, core.Collection{})
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%w: %s", core.ErrCollectionNotFound, id)
	}
	return err
}
