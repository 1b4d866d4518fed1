package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

// ChunkRepository implements storage.ChunkRepository on raw badger keys.
// Chunks are mus-encoded under chunk:<collection>:<id> with a
// chunkdoc:<document>:<id> index pointing back at the primary key.
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// PutChunks stores chunks and their document index entries in one transaction.
func (r *ChunkRepository) PutChunks(ctx context.Context, chunks []core.Chunk) error {
	for i := range chunks {
		if chunks[i].ID == "" || chunks[i].CollectionID == "" || chunks[i].DocumentID == "" {
			return fmt.Errorf("%w: chunk needs id, collection and document", core.ErrInvalidInput)
		}
		if len(chunks[i].Vector) == 0 {
			return fmt.Errorf("%w: %s", storage.ErrMissingVector, chunks[i].ID)
		}
	}
	return r.backend.Update(func(tx *badger.Txn) error {
		for i := range chunks {
			key := makeChunkKey(chunks[i].CollectionID, chunks[i].ID)
			if err := tx.Set(key, storage.MarshalChunk(&chunks[i])); err != nil {
				return err
			}
			if err := tx.Set(makeChunkDocKey(chunks[i].DocumentID, chunks[i].ID), key); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetChunk retrieves one chunk.
func (r *ChunkRepository) GetChunk(ctx context.Context, collectionID, id string) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		chunk, err = readChunk(tx, makeChunkKey(collectionID, id))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: chunk %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return chunk, nil
}

// UpdateVectors replaces the vectors of existing chunks.
func (r *ChunkRepository) UpdateVectors(ctx context.Context, chunks []core.Chunk) error {
	return r.backend.Update(func(tx *badger.Txn) error {
		for i := range chunks {
			key := makeChunkKey(chunks[i].CollectionID, chunks[i].ID)
			stored, err := readChunk(tx, key)
			if err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return fmt.Errorf("%w: chunk %s", storage.ErrNotFound, chunks[i].ID)
				}
				return err
			}
			stored.Vector = chunks[i].Vector
			if err := tx.Set(key, storage.MarshalChunk(stored)); err != nil {
				return err
			}
		}
		return nil
	})
}

// DeleteDocumentChunks removes every chunk of a document.
func (r *ChunkRepository) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	var deleted int
	err := r.backend.Update(func(tx *badger.Txn) error {
		deleted = 0
		prefix := makeChunkDocPrefix(documentID)
		var indexKeys, chunkKeys [][]byte

		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			primary, err := item.ValueCopy(nil)
			if err != nil {
				iter.Close()
				return err
			}
			indexKeys = append(indexKeys, item.KeyCopy(nil))
			chunkKeys = append(chunkKeys, primary)
		}
		iter.Close()

		for i := range indexKeys {
			if err := tx.Delete(chunkKeys[i]); err != nil {
				return err
			}
			if err := tx.Delete(indexKeys[i]); err != nil {
				return err
			}
		}
		deleted = len(indexKeys)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// DeleteCollectionChunks removes every chunk of a collection.
func (r *ChunkRepository) DeleteCollectionChunks(ctx context.Context, collectionID string) (int, error) {
	var deleted int
	err := r.backend.Update(func(tx *badger.Txn) error {
		deleted = 0
		var keys [][]byte

		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkCollectionPrefix(collectionID)
		iter := tx.NewIterator(opts)
		for iter.Rewind(); iter.Valid(); iter.Next() {
			item := iter.Item()
			var chunk *core.Chunk
			err := item.Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				iter.Close()
				return err
			}
			keys = append(keys, item.KeyCopy(nil), makeChunkDocKey(chunk.DocumentID, chunk.ID))
		}
		iter.Close()

		for _, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(keys) / 2
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// CountChunks counts a collection's chunks without decoding them.
func (r *ChunkRepository) CountChunks(ctx context.Context, collectionID string) (int, error) {
	var count int
	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkCollectionPrefix(collectionID)
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()
		for iter.Rewind(); iter.Valid(); iter.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// IterateChunks pages through a collection's chunks in key order.
// Each page is read in its own transaction and fn runs outside of it,
// so fn may write to the repository.
func (r *ChunkRepository) IterateChunks(ctx context.Context, collectionID string, batchSize int, fn func([]core.Chunk) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}
	prefix := makeChunkCollectionPrefix(collectionID)
	start := prefix

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := make([]core.Chunk, 0, batchSize)
		var last []byte
		err := r.backend.View(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			iter := tx.NewIterator(opts)
			defer iter.Close()

			for iter.Seek(start); iter.Valid() && len(batch) < batchSize; iter.Next() {
				item := iter.Item()
				// Skip the resume key itself.
				if last == nil && !bytes.Equal(start, prefix) && bytes.Equal(item.Key(), start) {
					continue
				}
				var chunk *core.Chunk
				err := item.Value(func(val []byte) error {
					var err error
					chunk, err = storage.UnmarshalChunk(val)
					return err
				})
				if err != nil {
					return err
				}
				batch = append(batch, *chunk)
				last = item.KeyCopy(nil)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(batch) < batchSize {
			return nil
		}
		start = last
	}
}

// SearchChunks scans a collection and returns the best matches for vector.
func (r *ChunkRepository) SearchChunks(ctx context.Context, collectionID string, vector []float32, minScore float32, limit int) ([]core.SearchHit, error) {
	collector := storage.NewHitCollector(vector, minScore)

	err := r.backend.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeChunkCollectionPrefix(collectionID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var chunk *core.Chunk
			err := iter.Item().Value(func(val []byte) error {
				var err error
				chunk, err = storage.UnmarshalChunk(val)
				return err
			})
			if err != nil {
				return err
			}
			collector.Offer(*chunk)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return collector.Top(limit), nil
}

func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		return nil, err
	}
	var chunk *core.Chunk
	err = item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
