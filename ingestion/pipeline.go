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

package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/poiesic/ragjobs/chunking"
	"github.com/poiesic/ragjobs/converter"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/poiesic/ragjobs/vectorstore"
)

// Pipeline runs ingestion jobs.
type Pipeline struct {
	collections   storage.CollectionRepository
	documents     storage.DocumentRepository
	converter     converter.Converter
	vectors       vectorstore.VectorStore
	chunker       *chunking.Chunker
	renderDir     string
	dedupFirst    bool
	removeUploads bool
	embedModel    string
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithChunker replaces the default chunker.
func WithChunker(c *chunking.Chunker) Option {
	return func(p *Pipeline) error {
		if c != nil {
			p.chunker = c
		}
		return nil
	}
}

// WithRenderDir sets where markdown renderings are written.
// An empty directory disables rendering.
func WithRenderDir(dir string) Option {
	return func(p *Pipeline) error {
		p.renderDir = dir
		return nil
	}
}

// WithDedupBeforeConversion checks the content hash before converting the
// file, saving the conversion of a duplicate upload.
func WithDedupBeforeConversion(enabled bool) Option {
	return func(p *Pipeline) error {
		p.dedupFirst = enabled
		return nil
	}
}

// WithRemoveUploads deletes the uploaded file once the job reaches a
// terminal state.
func WithRemoveUploads(enabled bool) Option {
	return func(p *Pipeline) error {
		p.removeUploads = enabled
		return nil
	}
}

// WithEmbeddingModel names the embedding model in job logs.
func WithEmbeddingModel(model string) Option {
	return func(p *Pipeline) error {
		p.embedModel = model
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	collections storage.CollectionRepository,
	documents storage.DocumentRepository,
	conv converter.Converter,
	vectors vectorstore.VectorStore,
	opts ...Option,
) (*Pipeline, error) {
	if collections == nil {
		return nil, ErrCollectionRepositoryRequired
	}
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if conv == nil {
		return nil, ErrConverterRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}

	p := &Pipeline{
		collections: collections,
		documents:   documents,
		converter:   conv,
		vectors:     vectors,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.chunker == nil {
		c, err := chunking.New()
		if err != nil {
			return nil, err
		}
		p.chunker = c
	}
	p.logger = p.logger.With("component", "ingestion")
	return p, nil
}

// run holds the state of one job execution.
type run struct {
	in        *core.IngestionInput
	tracker   core.Tracker
	hash      string
	rendering string
	document  *core.Document
}

// Run executes the ingestion job and returns its *core.IngestionResult.
func (p *Pipeline) Run(ctx context.Context, job *core.Job, tracker core.Tracker) (any, error) {
	in := job.Input.Ingestion
	if in == nil {
		return nil, core.Precondition(core.StageInitialisation, fmt.Errorf("%w: missing ingestion input", core.ErrInvalidInput))
	}
	if p.removeUploads {
		defer p.removeUpload(in.FilePath)
	}

	r := &run{in: in, tracker: tracker}
	result, err := p.execute(ctx, r)
	if err != nil {
		p.discard(ctx, r)
		return nil, err
	}
	return result, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) (*core.IngestionResult, error) {
	start := time.Now()
	in := r.in

	collection, err := p.collections.GetCollection(ctx, in.CollectionID)
	if err != nil {
		if errors.Is(err, core.ErrCollectionNotFound) {
			return nil, core.Precondition(core.StageInitialisation, err)
		}
		return nil, err
	}
	if err := r.tracker.Log(ctx, core.LogLevelInfo, fmt.Sprintf("ingesting %s into collection %s", in.Filename, collection.Name)); err != nil {
		return nil, err
	}

	if p.dedupFirst {
		if err := p.checkDuplicate(ctx, r); err != nil {
			return nil, err
		}
	}

	// conversion
	if err := r.tracker.Stage(ctx, core.StageConversion, "converting document to markdown"); err != nil {
		return nil, err
	}
	convStart := time.Now()
	target := converter.RenderTarget{Dir: p.renderDir, Collection: collection.Name, DocumentID: in.DocumentID}
	doc, rendering, err := p.converter.Convert(ctx, in.FilePath, target)
	if err != nil {
		if !errors.Is(err, core.ErrDocumentParsing) && !errors.Is(err, core.ErrUnsupportedFormat) {
			err = fmt.Errorf("%w: %v", core.ErrDocumentParsing, err)
		}
		return nil, core.Collaborator(core.StageConversion, err)
	}
	r.rendering = rendering
	conversionTime := time.Since(convStart)

	// deduplication
	if err := r.tracker.Stage(ctx, core.StageDeduplication, "checking for duplicate content"); err != nil {
		return nil, err
	}
	if err := p.checkDuplicate(ctx, r); err != nil {
		return nil, err
	}

	// metadata
	if err := r.tracker.Stage(ctx, core.StageMetadata, "recording document metadata"); err != nil {
		return nil, err
	}
	document := &core.Document{
		ID:           in.DocumentID,
		Filename:     in.Filename,
		CollectionID: in.CollectionID,
		ContentHash:  r.hash,
		InsertedBy:   in.UserID,
		InsertedAt:   time.Now().UTC(),
		RenderedPath: rendering,
	}
	if err := p.documents.CreateDocument(ctx, document); err != nil {
		if errors.Is(err, storage.ErrDuplicateKey) {
			return nil, core.Precondition(core.StageMetadata, fmt.Errorf("%w: %v", core.ErrDuplicateContent, err))
		}
		return nil, err
	}
	r.document = document

	// chunking
	if err := r.tracker.Stage(ctx, core.StageChunking, "splitting document into chunks"); err != nil {
		return nil, err
	}
	chunks, err := p.chunker.Split(doc, chunking.Source{
		DocumentID:   in.DocumentID,
		CollectionID: in.CollectionID,
		Filename:     in.Filename,
	})
	if err != nil {
		return nil, core.Collaborator(core.StageChunking, err)
	}
	if len(chunks) == 0 {
		if err := r.tracker.Log(ctx, core.LogLevelWarning, "document has no text content, indexing without chunks"); err != nil {
			return nil, err
		}
	} else if err := r.tracker.Log(ctx, core.LogLevelInfo, fmt.Sprintf("document split into %d chunks", len(chunks))); err != nil {
		return nil, err
	}

	// embeddings
	msg := "embedding chunks"
	if p.embedModel != "" {
		msg = fmt.Sprintf("embedding chunks with %s", p.embedModel)
	}
	if err := r.tracker.Stage(ctx, core.StageEmbeddings, msg); err != nil {
		return nil, err
	}
	embedStart := time.Now()
	if len(chunks) > 0 {
		if err := p.vectors.Embed(ctx, in.CollectionID, chunks); err != nil {
			return nil, core.Collaborator(core.StageEmbeddings, err)
		}
	}
	embeddingTime := time.Since(embedStart)

	// commit
	if err := r.tracker.Stage(ctx, core.StageCommit, "marking document indexed"); err != nil {
		return nil, err
	}
	if err := p.documents.MarkIndexed(ctx, document.ID); err != nil {
		return nil, err
	}
	document.IsIndexed = true

	total := time.Since(start)
	if err := r.tracker.Log(ctx, core.LogLevelInfo, fmt.Sprintf("indexing finished in %.2fs", total.Seconds())); err != nil {
		return nil, err
	}
	p.logger.Info("document ingested",
		"document", document.ID,
		"collection", in.CollectionID,
		"chunks", len(chunks),
		"duration", total)

	return &core.IngestionResult{
		DocumentID:     document.ID,
		Chunks:         len(chunks),
		ConversionTime: conversionTime.Seconds(),
		EmbeddingTime:  embeddingTime.Seconds(),
		TotalTime:      total.Seconds(),
	}, nil
}

// checkDuplicate hashes the upload once and fails if the collection already
// holds the same content.
func (p *Pipeline) checkDuplicate(ctx context.Context, r *run) error {
	if r.hash == "" {
		hash, err := core.FileContentHash(r.in.FilePath)
		if err != nil {
			return core.Collaborator(core.StageDeduplication, fmt.Errorf("hashing upload: %w", err))
		}
		r.hash = hash
	}
	existing, err := p.documents.FindDocumentByHash(ctx, r.in.CollectionID, r.hash)
	switch {
	case errors.Is(err, core.ErrDocumentNotFound):
		return nil
	case err != nil:
		return err
	}
	return core.Precondition(core.StageDeduplication,
		fmt.Errorf("%w: already ingested as %s (%s)", core.ErrDuplicateContent, existing.Filename, existing.ID))
}

// discard cleans up after a failed run. Once the metadata row exists it is
// kept unindexed, so it stays out of search results and the content hash
// still counts as ingested. Chunks written by a partial embedding and the
// rendering are removed.
func (p *Pipeline) discard(ctx context.Context, r *run) {
	ctx = context.WithoutCancel(ctx)
	if r.document != nil {
		if _, err := p.vectors.Delete(ctx, r.document.ID); err != nil {
			p.logger.Error("failed to remove chunks", "document", r.document.ID, "err", err)
		}
		p.logger.Warn("document left unindexed", "document", r.document.ID, "collection", r.in.CollectionID)
	}
	if err := converter.RemoveRendering(r.rendering); err != nil {
		p.logger.Error("failed to remove rendering", "path", r.rendering, "err", err)
	}
}

func (p *Pipeline) removeUpload(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		p.logger.Warn("failed to remove upload", "path", path, "err", err)
	}
}
