package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/poiesic/ragjobs/core"
)

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	Status core.JobStatus
	Type   core.JobType
	// Limit caps the number of jobs returned, newest first. Zero means no limit.
	Limit int
}

// JobRepository persists jobs and enforces the lifecycle on every write.
// Each method is a single atomic write; no caller ever rewrites a whole job.
type JobRepository interface {
	// CreateJob stores a new QUEUED job.
	// Returns ErrDuplicateKey if a job with the same ID exists.
	CreateJob(ctx context.Context, job *core.Job) error

	// GetJob retrieves a job by ID.
	// Returns core.ErrJobNotFound if the job doesn't exist.
	GetJob(ctx context.Context, id string) (*core.Job, error)

	// ListJobs returns jobs matching the filter ordered by creation time descending.
	ListJobs(ctx context.Context, filter JobFilter) ([]*core.Job, error)

	// StartJob moves a QUEUED job to PROCESSING at the initialisation stage,
	// stamps StartedAt and appends entry. Returns core.ErrInvalidTransition
	// if the job is not QUEUED.
	StartJob(ctx context.Context, id string, entry core.LogEntry) (*core.Job, error)

	// UpdateProgress advances progress to stage and appends entry in the same write.
	// Rejects regressions, unknown stages and jobs that are not PROCESSING.
	UpdateProgress(ctx context.Context, id string, stage core.Stage, entry core.LogEntry) error

	// AppendLog appends one entry to the job log.
	AppendLog(ctx context.Context, id string, entry core.LogEntry) error

	// CompleteJob stores result, sets progress to done and status to COMPLETED,
	// stamps FinishedAt and appends entry.
	CompleteJob(ctx context.Context, id string, result json.RawMessage, entry core.LogEntry) error

	// FailJob stores message as the job error, sets status to FAILED,
	// stamps FinishedAt and appends entry. Progress is left where it was.
	FailJob(ctx context.Context, id string, message string, entry core.LogEntry) error

	// DeleteJob removes a job regardless of its state.
	DeleteJob(ctx context.Context, id string) error

	// DeleteFinishedBefore removes terminal jobs created before cutoff
	// and returns how many were removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// CollectionRepository provides operations for managing collections.
type CollectionRepository interface {
	// CreateCollection stores a new collection.
	// Returns ErrDuplicateKey if the name is taken.
	CreateCollection(ctx context.Context, collection *core.Collection) error

	// GetCollection returns core.ErrCollectionNotFound if the collection doesn't exist.
	GetCollection(ctx context.Context, id string) (*core.Collection, error)

	// FindCollectionByName returns core.ErrCollectionNotFound if no collection has the name.
	FindCollectionByName(ctx context.Context, name string) (*core.Collection, error)

	// ListCollections returns all collections ordered by name.
	ListCollections(ctx context.Context) ([]*core.Collection, error)

	// DeleteCollection removes a collection.
	DeleteCollection(ctx context.Context, id string) error
}

// DocumentRepository provides operations for managing document metadata.
type DocumentRepository interface {
	// CreateDocument stores a new, not yet indexed document.
	// Returns ErrDuplicateKey when the collection already holds a document
	// with the same content hash.
	CreateDocument(ctx context.Context, doc *core.Document) error

	// GetDocument returns core.ErrDocumentNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// FindDocumentByHash returns core.ErrDocumentNotFound if no document in
	// the collection has the hash.
	FindDocumentByHash(ctx context.Context, collectionID, hash string) (*core.Document, error)

	// ListDocuments returns the documents of a collection ordered by insertion time.
	ListDocuments(ctx context.Context, collectionID string) ([]*core.Document, error)

	// MarkIndexed flags a document as fully embedded.
	MarkIndexed(ctx context.Context, id string) error

	// DeleteDocument removes the document row and its hash reservation.
	DeleteDocument(ctx context.Context, id string) error
}

// BlacklistRepository stores revoked tokens until they expire.
type BlacklistRepository interface {
	// AddToken stores or replaces a blacklist entry.
	AddToken(ctx context.Context, entry *core.BlacklistEntry) error

	// IsBlacklisted reports whether jti is present and not yet expired.
	IsBlacklisted(ctx context.Context, jti string) (bool, error)

	// DeleteExpired removes entries with ExpiresAt before now
	// and returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// ChunkRepository stores embedded chunks and answers similarity queries.
type ChunkRepository interface {
	// PutChunks stores chunks in one write. Every chunk must carry an ID and a vector.
	PutChunks(ctx context.Context, chunks []core.Chunk) error

	// GetChunk returns ErrNotFound if the chunk doesn't exist.
	GetChunk(ctx context.Context, collectionID, id string) (*core.Chunk, error)

	// UpdateVectors replaces the vectors of existing chunks.
	UpdateVectors(ctx context.Context, chunks []core.Chunk) error

	// DeleteDocumentChunks removes every chunk of a document and returns how many were removed.
	DeleteDocumentChunks(ctx context.Context, documentID string) (int, error)

	// DeleteCollectionChunks removes every chunk of a collection.
	DeleteCollectionChunks(ctx context.Context, collectionID string) (int, error)

	// CountChunks returns the number of chunks in a collection.
	CountChunks(ctx context.Context, collectionID string) (int, error)

	// IterateChunks calls fn with batches of up to batchSize chunks of a collection.
	// Iteration stops at the first error returned by fn.
	IterateChunks(ctx context.Context, collectionID string, batchSize int, fn func([]core.Chunk) error) error

	// SearchChunks returns up to limit chunks of the collection whose similarity
	// to vector is at least minScore, best first. Vectors are expected normalized.
	SearchChunks(ctx context.Context, collectionID string, vector []float32, minScore float32, limit int) ([]core.SearchHit, error)
}

// Store bundles the repositories of one backend.
type Store interface {
	Jobs() JobRepository
	Collections() CollectionRepository
	Documents() DocumentRepository
	Blacklist() BlacklistRepository
	Chunks() ChunkRepository

	// Close closes the storage backend and releases resources.
	Close() error
}
