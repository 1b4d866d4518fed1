package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

// CollectionRepository implements storage.CollectionRepository.
type CollectionRepository struct {
	db *gorm.DB
}

var _ storage.CollectionRepository = (*CollectionRepository)(nil)

// CreateCollection stores a new collection with a unique name.
func (r *CollectionRepository) CreateCollection(ctx context.Context, collection *core.Collection) error {
	if err := core.ValidateCollection(collection); err != nil {
		return err
	}
	row := &collectionRow{
		ID:          collection.ID,
		Name:        collection.Name,
		Description: collection.Description,
		OwnerID:     collection.OwnerID,
		CreatedAt:   collection.CreatedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: collection %q", storage.ErrDuplicateKey, collection.Name)
		}
		return err
	}
	return nil
}

// GetCollection retrieves a collection by ID.
func (r *CollectionRepository) GetCollection(ctx context.Context, id string) (*core.Collection, error) {
	return r.first(ctx, "id = ?", id)
}

// FindCollectionByName retrieves a collection by its unique name.
func (r *CollectionRepository) FindCollectionByName(ctx context.Context, name string) (*core.Collection, error) {
	return r.first(ctx, "name = ?", name)
}

// ListCollections returns all collections ordered by name.
func (r *CollectionRepository) ListCollections(ctx context.Context) ([]*core.Collection, error) {
	var rows []collectionRow
	if err := r.db.WithContext(ctx).Order("name").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*core.Collection, len(rows))
	for i := range rows {
		out[i] = rows[i].toCollection()
	}
	return out, nil
}

// DeleteCollection removes a collection row.
func (r *CollectionRepository) DeleteCollection(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&collectionRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", core.ErrCollectionNotFound, id)
	}
	return nil
}

func (r *CollectionRepository) first(ctx context.Context, cond string, arg string) (*core.Collection, error) {
	var row collectionRow
	if err := r.db.WithContext(ctx).Where(cond, arg).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrCollectionNotFound, arg)
		}
		return nil, err
	}
	return row.toCollection(), nil
}

// DocumentRepository implements storage.DocumentRepository.
// The unique index on (collection_id, content_hash) rejects concurrent duplicates.
type DocumentRepository struct {
	db *gorm.DB
}

var _ storage.DocumentRepository = (*DocumentRepository)(nil)

// CreateDocument stores a new, not yet indexed document.
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *core.Document) error {
	row := &documentRow{
		ID:           doc.ID,
		Filename:     doc.Filename,
		CollectionID: doc.CollectionID,
		ContentHash:  doc.ContentHash,
		IsIndexed:    doc.IsIndexed,
		InsertedBy:   doc.InsertedBy,
		InsertedAt:   doc.InsertedAt,
		RenderedPath: doc.RenderedPath,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: content %s in collection %s", storage.ErrDuplicateKey, doc.ContentHash, doc.CollectionID)
		}
		return err
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	return r.first(ctx, r.db.WithContext(ctx).Where("id = ?", id), id)
}

// FindDocumentByHash retrieves the document of a collection with the given content hash.
func (r *DocumentRepository) FindDocumentByHash(ctx context.Context, collectionID, hash string) (*core.Document, error) {
	query := r.db.WithContext(ctx).Where("collection_id = ? AND content_hash = ?", collectionID, hash)
	return r.first(ctx, query, hash)
}

// ListDocuments returns the documents of a collection in insertion order.
func (r *DocumentRepository) ListDocuments(ctx context.Context, collectionID string) ([]*core.Document, error) {
	var rows []documentRow
	err := r.db.WithContext(ctx).Where("collection_id = ?", collectionID).Order("inserted_at").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*core.Document, len(rows))
	for i := range rows {
		out[i] = rows[i].toDocument()
	}
	return out, nil
}

// MarkIndexed flags a document as fully embedded.
func (r *DocumentRepository) MarkIndexed(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&documentRow{}).Where("id = ?", id).Update("is_indexed", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

// DeleteDocument removes the document row.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&documentRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", core.ErrDocumentNotFound, id)
	}
	return nil
}

func (r *DocumentRepository) first(ctx context.Context, query *gorm.DB, key string) (*core.Document, error) {
	var row documentRow
	if err := query.First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrDocumentNotFound, key)
		}
		return nil, err
	}
	return row.toDocument(), nil
}

// BlacklistRepository implements storage.BlacklistRepository.
type BlacklistRepository struct {
	db *gorm.DB
}

var _ storage.BlacklistRepository = (*BlacklistRepository)(nil)

// AddToken stores or replaces a blacklist entry.
func (r *BlacklistRepository) AddToken(ctx context.Context, entry *core.BlacklistEntry) error {
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = time.Now().UTC()
	}
	row := &blacklistRow{JTI: entry.JTI, ExpiresAt: entry.ExpiresAt, BlacklistedAt: entry.BlacklistedAt}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
}

// IsBlacklisted reports whether jti is present and not yet expired.
func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&blacklistRow{}).
		Where("jti = ? AND expires_at > ?", jti, time.Now().UTC()).
		Count(&count).Error
	return count > 0, err
}

// DeleteExpired removes entries that expired before now.
func (r *BlacklistRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := r.db.WithContext(ctx).Where("expires_at < ?", now).Delete(&blacklistRow{})
	return int(res.RowsAffected), res.Error
}
