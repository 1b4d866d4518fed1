// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/ragjobs/ai"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

var (
	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")
)

// Config holds the tuning of a reindex run.
type Config struct {
	// BatchSize is the number of chunks embedded per embedder call.
	BatchSize int

	// ReportInterval is how many chunks pass between progress lines.
	ReportInterval int

	// MaxRetries is the number of attempts per batch.
	MaxRetries int

	// RetryDelay is the pause after the first failed attempt. It doubles
	// after each further failure.
	RetryDelay time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		BatchSize:      64,
		ReportInterval: 256,
		MaxRetries:     3,
		RetryDelay:     time.Second,
	}
}

// Summary describes a finished run.
type Summary struct {
	Chunks   int
	Duration time.Duration
}

// Reindexer re-embeds the chunks of a collection.
type Reindexer struct {
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	config   Config
	out      io.Writer
	logger   *slog.Logger
}

// New creates a Reindexer that prints progress to out. Zero config fields
// take their default.
func New(chunks storage.ChunkRepository, embedder ai.Embedder, config Config, out io.Writer) (*Reindexer, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.ReportInterval <= 0 {
		config.ReportInterval = def.ReportInterval
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = def.MaxRetries
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if out == nil {
		out = io.Discard
	}
	return &Reindexer{
		chunks:   chunks,
		embedder: embedder,
		config:   config,
		out:      out,
		logger:   slog.Default().With("component", "reindex"),
	}, nil
}

// Run replaces the vector of every chunk in the collection.
// A batch that still fails after the configured retries stops the run;
// batches already written keep their new vectors.
func (r *Reindexer) Run(ctx context.Context, collectionID string) (Summary, error) {
	total, err := r.chunks.CountChunks(ctx, collectionID)
	if err != nil {
		return Summary{}, fmt.Errorf("counting chunks: %w", err)
	}
	if total == 0 {
		fmt.Fprintf(r.out, "Collection %s has no chunks\n", collectionID)
		return Summary{}, nil
	}
	fmt.Fprintf(r.out, "Reindexing %d chunks of collection %s (batch size %d)\n", total, collectionID, r.config.BatchSize)

	prog := newProgress(r.out, total, r.config.ReportInterval)
	processed := 0
	err = r.chunks.IterateChunks(ctx, collectionID, r.config.BatchSize, func(batch []core.Chunk) error {
		if err := r.embedBatch(ctx, batch); err != nil {
			return err
		}
		if err := r.chunks.UpdateVectors(ctx, batch); err != nil {
			return fmt.Errorf("writing vectors: %w", err)
		}
		processed += len(batch)
		prog.add(len(batch))
		return nil
	})
	if err != nil {
		r.logger.Error("reindex stopped", "collection", collectionID, "processed", processed, "err", err)
		return Summary{Chunks: processed}, err
	}

	elapsed := prog.finish()
	fmt.Fprintf(r.out, "Reindex complete: %d chunks in %v\n", processed, elapsed.Round(time.Millisecond))
	return Summary{Chunks: processed, Duration: elapsed}, nil
}

func (r *Reindexer) embedBatch(ctx context.Context, batch []core.Chunk) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}

	var vectors [][]float32
	err := retry(ctx, r.config.MaxRetries, r.config.RetryDelay, func() error {
		var err error
		vectors, err = r.embedder.EmbedTexts(ctx, texts)
		return err
	})
	if err != nil {
		return fmt.Errorf("embedding batch after %d attempts: %w", r.config.MaxRetries, err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
	}
	for i := range batch {
		batch[i].Vector = storage.NormalizeVector(vectors[i])
	}
	return nil
}
