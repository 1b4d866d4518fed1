package badger

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/timshannon/badgerhold/v4"
)

// BlacklistRepository implements storage.BlacklistRepository.
type BlacklistRepository struct {
	backend *Backend
}

var _ storage.BlacklistRepository = (*BlacklistRepository)(nil)

// NewBlacklistRepository creates a new BlacklistRepository.
func NewBlacklistRepository(backend *Backend) *BlacklistRepository {
	return &BlacklistRepository{backend: backend}
}

// AddToken stores or replaces a blacklist entry.
func (r *BlacklistRepository) AddToken(ctx context.Context, entry *core.BlacklistEntry) error {
	if entry.BlacklistedAt.IsZero() {
		entry.BlacklistedAt = time.Now().UTC()
	}
	return r.backend.store.Upsert(entry.JTI, entry)
}

// IsBlacklisted reports whether jti is present and not yet expired.
func (r *BlacklistRepository) IsBlacklisted(ctx context.Context, jti string) (bool, error) {
	var entry core.BlacklistEntry
	if err := r.backend.store.Get(jti, &entry); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return entry.ExpiresAt.After(time.Now()), nil
}

// DeleteExpired removes entries that expired before now.
func (r *BlacklistRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var deleted int
	err := r.backend.Update(func(tx *badger.Txn) error {
		var expired []core.BlacklistEntry
		if err := r.backend.store.TxFind(tx, &expired, badgerhold.Where("ExpiresAt").Lt(now)); err != nil {
			return err
		}
		for _, entry := range expired {
			if err := r.backend.store.TxDelete(tx, entry.JTI, core.BlacklistEntry{}); err != nil {
				return err
			}
		}
		deleted = len(expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}
