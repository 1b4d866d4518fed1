// Package vectorstore embeds chunks and answers similarity queries over them.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/poiesic/ragjobs/ai"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

const (
	defaultBatchSize = 32
)

var (
	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmbeddingMismatch is returned when the embedder returns the wrong number of vectors.
	ErrEmbeddingMismatch = errors.New("embedding result mismatch")
)

// VectorStore is the retrieval capability used by the pipelines.
type VectorStore interface {
	// Embed computes vectors for chunks and persists them. Either every chunk
	// is stored or none of the chunks of the affected documents remain.
	Embed(ctx context.Context, collectionID string, chunks []core.Chunk) error

	// Search returns up to topK chunks of the collection most similar to query.
	Search(ctx context.Context, collectionID, query string, topK int) ([]core.SearchHit, error)

	// Delete removes every chunk of a document and reports how many were removed.
	Delete(ctx context.Context, documentID string) (int, error)
}

// Option configures a Store.
type Option func(*Store)

// WithBatchSize sets how many chunks are embedded per embedder call.
func WithBatchSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMinScore drops search hits scoring below score.
func WithMinScore(score float32) Option {
	return func(s *Store) {
		s.minScore = score
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store implements VectorStore over a chunk repository and an embedder.
type Store struct {
	chunks    storage.ChunkRepository
	embedder  ai.Embedder
	batchSize int
	minScore  float32
	logger    *slog.Logger
}

var _ VectorStore = (*Store)(nil)

// New creates a Store.
func New(chunks storage.ChunkRepository, embedder ai.Embedder, opts ...Option) (*Store, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	s := &Store{
		chunks:    chunks,
		embedder:  embedder,
		batchSize: defaultBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "vectorstore")
	return s, nil
}

// Embed embeds chunks in batches and writes each batch as it completes.
// On failure the chunks already written for the same documents are removed.
func (s *Store) Embed(ctx context.Context, collectionID string, chunks []core.Chunk) error {
	written := make(map[string]struct{})

	for start := 0; start < len(chunks); start += s.batchSize {
		end := min(start+s.batchSize, len(chunks))
		batch := make([]core.Chunk, end-start)
		copy(batch, chunks[start:end])

		if err := s.embedBatch(ctx, collectionID, batch); err != nil {
			s.rollback(ctx, written)
			return err
		}
		if err := s.chunks.PutChunks(ctx, batch); err != nil {
			for i := range batch {
				written[batch[i].DocumentID] = struct{}{}
			}
			s.rollback(ctx, written)
			return fmt.Errorf("storing chunks: %w", err)
		}
		for i := range batch {
			written[batch[i].DocumentID] = struct{}{}
		}
		s.logger.Debug("stored chunk batch", "collection", collectionID, "chunks", len(batch))
	}
	return nil
}

func (s *Store) embedBatch(ctx context.Context, collectionID string, batch []core.Chunk) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}

	vectors, err := s.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(batch), len(vectors))
	}

	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.NewString()
		}
		batch[i].CollectionID = collectionID
		batch[i].Vector = storage.NormalizeVector(vectors[i])
	}
	return nil
}

// rollback removes chunks of documents touched by a failed Embed.
func (s *Store) rollback(ctx context.Context, documents map[string]struct{}) {
	ctx = context.WithoutCancel(ctx)
	for documentID := range documents {
		n, err := s.chunks.DeleteDocumentChunks(ctx, documentID)
		if err != nil {
			s.logger.Error("failed to remove partial chunks", "document", documentID, "err", err)
			continue
		}
		s.logger.Warn("removed partial chunks", "document", documentID, "chunks", n)
	}
}

// Search embeds query and returns the closest chunks of the collection.
func (s *Store) Search(ctx context.Context, collectionID, query string, topK int) ([]core.SearchHit, error) {
	vector, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	hits, err := s.chunks.SearchChunks(ctx, collectionID, storage.NormalizeVector(vector), s.minScore, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	s.logger.Debug("search complete", "collection", collectionID, "hits", len(hits))
	return hits, nil
}

// Delete removes the chunks of documentID.
func (s *Store) Delete(ctx context.Context, documentID string) (int, error) {
	n, err := s.chunks.DeleteDocumentChunks(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks: %w", err)
	}
	return n, nil
}
