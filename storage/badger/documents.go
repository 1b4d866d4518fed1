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

// DocumentRepository implements storage.DocumentRepository.
// Content hash uniqueness per collection is enforced by a raw reservation key
// written in the same transaction as the document record.
type DocumentRepository struct {
	backend *Backend
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) *DocumentRepository {
	return &DocumentRepository{backend: backend}
}

// CreateDocument stores a document and reserves its content hash.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) error {
	if doc.ID == "" || doc.CollectionID == "" || doc.ContentHash == "" {
		return fmt.Errorf("%w: document needs id, collection and content hash", core.ErrInvalidInput)
	}
	hashKey := makeDocHashKey(doc.CollectionID, doc.ContentHash)

	err := r.backend.Update(func(tx *badger.Txn) error {
		_, err := tx.Get(hashKey)
		if err == nil {
			return fmt.Errorf("%w: content %s in collection %s", storage.ErrDuplicateKey, doc.ContentHash, doc.CollectionID)
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := tx.Set(hashKey, []byte(doc.ID)); err != nil {
			return err
		}
		return r.backend.store.TxInsert(tx, doc.ID, doc)
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("%w: document %s", storage.ErrDuplicateKey, doc.ID)
	}
	return err
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	var doc core.Document
	if err := r.backend.store.Get(id, &doc); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
		}
		return nil, err
	}
	return &doc, nil
}

// FindDocumentByHash looks a document up through its hash reservation.
func (r *DocumentRepository) FindDocumentByHash(ctx context.Context, collectionID, hash string) (*core.Document, error) {
	var doc core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		item, err := tx.Get(makeDocHashKey(collectionID, hash))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return r.backend.store.TxGet(tx, string(id), &doc)
	})
	if errors.Is(err, badger.ErrKeyNotFound) || errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("%w: hash %s", core.ErrDocumentNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments returns the documents of a collection in insertion order.
func (r *DocumentRepository) ListDocuments(ctx context.Context, collectionID string) ([]*core.Document, error) {
	var docs []core.Document
	query := badgerhold.Where("CollectionID").Eq(collectionID).SortBy("InsertedAt")
	if err := r.backend.store.Find(&docs, query); err != nil {
		return nil, err
	}
	out := make([]*core.Document, len(docs))
	for i := range docs {
		out[i] = &docs[i]
	}
	return out, nil
}

// MarkIndexed flags a document as fully embedded.
func (r *DocumentRepository) MarkIndexed(ctx context.Context, id string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		var doc core.Document
		if err := r.backend.store.TxGet(tx, id, &doc); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
			}
			return err
		}
		doc.IsIndexed = true
		return r.backend.store.TxUpdate(tx, id, &doc)
	})
}

// DeleteDocument removes the document and releases its hash reservation.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		var doc core.Document
		if err := r.backend.store.TxGet(tx, id, &doc); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
			}
			return err
		}
		if err := tx.Delete(makeDocHashKey(doc.CollectionID, doc.ContentHash)); err != nil {
			return err
		}
		return r.backend.store.TxDelete(tx, id, core.Document{})
	})
}
