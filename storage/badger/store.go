package badger

import "github.com/poiesic/ragjobs/storage"

// Store implements storage.Store on one embedded BadgerDB.
type Store struct {
	backend     *Backend
	jobs        *JobRepository
	collections *CollectionRepository
	documents   *DocumentRepository
	blacklist   *BlacklistRepository
	chunks      *ChunkRepository
}

var _ storage.Store = (*Store)(nil)

// Open opens the embedded store described by opts.
func Open(opts Options) (storage.Store, error) {
	backend, err := OpenBackend(opts)
	if err != nil {
		return nil, err
	}
	return newStore(backend), nil
}

func newStore(backend *Backend) *Store {
	return &Store{
		backend:     backend,
		jobs:        NewJobRepository(backend),
		collections: NewCollectionRepository(backend),
		documents:   NewDocumentRepository(backend),
		blacklist:   NewBlacklistRepository(backend),
		chunks:      NewChunkRepository(backend),
	}
}

func (s *Store) Jobs() storage.JobRepository               { return s.jobs }
func (s *Store) Collections() storage.CollectionRepository { return s.collections }
func (s *Store) Documents() storage.DocumentRepository     { return s.documents }
func (s *Store) Blacklist() storage.BlacklistRepository    { return s.blacklist }
func (s *Store) Chunks() storage.ChunkRepository           { return s.chunks }

// Backend exposes the underlying database handle.
func (s *Store) Backend() *Backend { return s.backend }

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.backend.Close()
}
