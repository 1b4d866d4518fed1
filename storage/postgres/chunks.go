package postgres

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

// ChunkRepository implements storage.ChunkRepository.
// Similarity is computed in process over the collection's rows.
type ChunkRepository struct {
	db *gorm.DB
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// PutChunks stores chunks in one transaction.
func (r *ChunkRepository) PutChunks(ctx context.Context, chunks []core.Chunk) error {
	rows := make([]*chunkRow, 0, len(chunks))
	for i := range chunks {
		if chunks[i].ID == "" || chunks[i].CollectionID == "" || chunks[i].DocumentID == "" {
			return fmt.Errorf("%w: chunk needs id, collection and document", core.ErrInvalidInput)
		}
		if len(chunks[i].Vector) == 0 {
			return fmt.Errorf("%w: %s", storage.ErrMissingVector, chunks[i].ID)
		}
		row, err := newChunkRow(&chunks[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(rows).Error
}

// GetChunk retrieves one chunk.
func (r *ChunkRepository) GetChunk(ctx context.Context, collectionID, id string) (*core.Chunk, error) {
	var row chunkRow
	err := r.db.WithContext(ctx).Where("collection_id = ? AND id = ?", collectionID, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: chunk %s", storage.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return row.toChunk()
}

// UpdateVectors replaces the vectors of existing chunks.
func (r *ChunkRepository) UpdateVectors(ctx context.Context, chunks []core.Chunk) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range chunks {
			res := tx.Model(&chunkRow{}).
				Where("collection_id = ? AND id = ?", chunks[i].CollectionID, chunks[i].ID).
				Update("vector", storage.MarshalVector(chunks[i].Vector))
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("%w: chunk %s", storage.ErrNotFound, chunks[i].ID)
			}
		}
		return nil
	})
}

// DeleteDocumentChunks removes every chunk of a document.
func (r *ChunkRepository) DeleteDocumentChunks(ctx context.Context, documentID string) (int, error) {
	res := r.db.WithContext(ctx).Where("document_id = ?", documentID).Delete(&chunkRow{})
	return int(res.RowsAffected), res.Error
}

// DeleteCollectionChunks removes every chunk of a collection.
func (r *ChunkRepository) DeleteCollectionChunks(ctx context.Context, collectionID string) (int, error) {
	res := r.db.WithContext(ctx).Where("collection_id = ?", collectionID).Delete(&chunkRow{})
	return int(res.RowsAffected), res.Error
}

// CountChunks returns the number of chunks in a collection.
func (r *ChunkRepository) CountChunks(ctx context.Context, collectionID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&chunkRow{}).Where("collection_id = ?", collectionID).Count(&count).Error
	return int(count), err
}

// IterateChunks pages through a collection's chunks ordered by ID.
func (r *ChunkRepository) IterateChunks(ctx context.Context, collectionID string, batchSize int, fn func([]core.Chunk) error) error {
	if batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive", storage.ErrInvalidQuery)
	}
	after := ""
	for {
		var rows []chunkRow
		err := r.db.WithContext(ctx).
			Where("collection_id = ? AND id > ?", collectionID, after).
			Order("id").Limit(batchSize).Find(&rows).Error
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		batch := make([]core.Chunk, 0, len(rows))
		for i := range rows {
			chunk, err := rows[i].toChunk()
			if err != nil {
				return err
			}
			batch = append(batch, *chunk)
		}
		if err := fn(batch); err != nil {
			return err
		}
		if len(rows) < batchSize {
			return nil
		}
		after = rows[len(rows)-1].ID
	}
}

// SearchChunks scans a collection and returns the best matches for vector.
func (r *ChunkRepository) SearchChunks(ctx context.Context, collectionID string, vector []float32, minScore float32, limit int) ([]core.SearchHit, error) {
	collector := storage.NewHitCollector(vector, minScore)
	var rows []chunkRow
	err := r.db.WithContext(ctx).Where("collection_id = ?", collectionID).
		FindInBatches(&rows, 500, func(tx *gorm.DB, batch int) error {
			for i := range rows {
				chunk, err := rows[i].toChunk()
				if err != nil {
					return err
				}
				collector.Offer(*chunk)
			}
			return nil
		}).Error
	if err != nil {
		return nil, err
	}
	return collector.Top(limit), nil
}
