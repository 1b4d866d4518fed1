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

package ragjobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/ragjobs/ai"
	"github.com/poiesic/ragjobs/ai/langchain"
	"github.com/poiesic/ragjobs/chunking"
	"github.com/poiesic/ragjobs/cleanup"
	"github.com/poiesic/ragjobs/config"
	"github.com/poiesic/ragjobs/converter"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/ingestion"
	"github.com/poiesic/ragjobs/jobs"
	"github.com/poiesic/ragjobs/metrics"
	"github.com/poiesic/ragjobs/query"
	"github.com/poiesic/ragjobs/reindex"
	"github.com/poiesic/ragjobs/storage"
	"github.com/poiesic/ragjobs/storage/badger"
	"github.com/poiesic/ragjobs/storage/postgres"
	"github.com/poiesic/ragjobs/vectorstore"
)

// DefaultShutdownTimeout bounds Close.
const DefaultShutdownTimeout = 30 * time.Second

// System owns every long-lived component of a ragjobs process.
type System struct {
	config   *config.Config
	store    storage.Store
	provider ai.AIProvider
	vectors  *vectorstore.Store
	engine   *jobs.Engine
	pool     *jobs.Pool
	service  *jobs.Service
	cleanup  *cleanup.Scheduler
	logger   *slog.Logger

	baseCtx   context.Context
	cancel    context.CancelFunc
	cleanupWG sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Option configures a System.
type Option func(*options)

type options struct {
	store     storage.Store
	provider  ai.AIProvider
	converter converter.Converter
	logger    *slog.Logger
}

// WithStore uses an already opened store instead of the configured backend.
// The System takes ownership and closes it.
func WithStore(store storage.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithAIProvider replaces the langchaingo provider built from config.
func WithAIProvider(provider ai.AIProvider) Option {
	return func(o *options) {
		o.provider = provider
	}
}

// WithConverter replaces the file converter.
func WithConverter(conv converter.Converter) Option {
	return func(o *options) {
		o.converter = conv
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// New opens storage, connects the AI provider and assembles the pipelines,
// the job engine, the worker pool and the cleanup scheduler.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	metrics.Register()

	store := o.store
	if store == nil {
		var err error
		if store, err = openStore(cfg.Storage, o.logger); err != nil {
			return nil, err
		}
	}

	provider := o.provider
	if provider == nil {
		var err error
		if provider, err = langchain.NewProvider(cfg.AIConfig()); err != nil {
			store.Close()
			return nil, fmt.Errorf("creating AI provider: %w", err)
		}
	}

	s := &System{config: cfg, store: store, provider: provider, logger: o.logger.With("component", "system")}
	if err := s.assemble(o); err != nil {
		provider.Close()
		store.Close()
		return nil, err
	}
	return s, nil
}

func (s *System) assemble(o *options) error {
	cfg := s.config
	var err error

	s.vectors, err = vectorstore.New(s.store.Chunks(), s.provider.Embedder(), vectorstore.WithLogger(o.logger))
	if err != nil {
		return err
	}

	chunker, err := chunking.New(
		chunking.WithMaxChars(cfg.Ingestion.ChunkMaxChars),
		chunking.WithOverlap(cfg.Ingestion.ChunkOverlap),
	)
	if err != nil {
		return err
	}

	conv := o.converter
	if conv == nil {
		conv = converter.New(converter.WithLogger(o.logger))
	}

	ingest, err := ingestion.NewPipeline(s.store.Collections(), s.store.Documents(), conv, s.vectors,
		ingestion.WithChunker(chunker),
		ingestion.WithRenderDir(cfg.Ingestion.RenderDir),
		ingestion.WithDedupBeforeConversion(cfg.Ingestion.DedupBeforeConversion),
		ingestion.WithRemoveUploads(cfg.Ingestion.RemoveUploads),
		ingestion.WithEmbeddingModel(cfg.AI.EmbeddingModel),
		ingestion.WithLogger(o.logger),
	)
	if err != nil {
		return fmt.Errorf("creating ingestion pipeline: %w", err)
	}

	ask, err := query.NewPipeline(s.store.Collections(), s.vectors, s.provider.LanguageModel(), s.provider.DefaultModel(),
		query.WithTopK(cfg.Query.TopK),
		query.WithParseAttempts(cfg.Query.ParseAttempts),
		query.WithLogger(o.logger),
	)
	if err != nil {
		return fmt.Errorf("creating query pipeline: %w", err)
	}

	s.engine, err = jobs.NewEngine(s.store.Jobs(),
		jobs.WithRunner(core.JobTypeInsertion, ingest),
		jobs.WithRunner(core.JobTypeQuery, ask),
		jobs.WithTimeout(cfg.Jobs.TimeoutDuration()),
		jobs.WithEngineLogger(o.logger),
	)
	if err != nil {
		return err
	}

	s.pool, err = jobs.NewPool(
		jobs.WithWorkers(cfg.Workers.WorkerCount()),
		jobs.WithQueueSize(cfg.Workers.QueueSize),
		jobs.WithPoolLogger(o.logger),
	)
	if err != nil {
		return err
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s.baseCtx, s.cancel = baseCtx, cancel
	s.service, err = jobs.NewService(s.store.Jobs(), s.store.Collections(), s.engine, s.pool,
		jobs.WithBaseContext(baseCtx),
		jobs.WithServiceLogger(o.logger),
	)
	if err != nil {
		cancel()
		s.pool.Shutdown(0)
		return err
	}

	s.cleanup, err = cleanup.New(s.store.Jobs(), s.store.Blacklist(),
		cleanup.WithInterval(cfg.Cleanup.IntervalDuration()),
		cleanup.WithRetryBackoff(cfg.Cleanup.RetryBackoffDuration()),
		cleanup.WithRetention(cfg.Cleanup.Retention()),
		cleanup.WithLogger(o.logger),
	)
	if err != nil {
		cancel()
		s.pool.Shutdown(0)
		return err
	}
	return nil
}

func openStore(cfg config.StorageConfig, logger *slog.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case "postgres":
		pg := cfg.Postgres
		store, err := postgres.Open(postgres.Options{
			DSN:        pg.DSN,
			Host:       pg.Host,
			Port:       pg.Port,
			User:       pg.User,
			Password:   pg.Password,
			DBName:     pg.DBName,
			SSLEnabled: pg.SSL,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return store, nil
	default:
		store, err := badger.Open(badger.Options{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("opening badger store: %w", err)
		}
		return store, nil
	}
}

// Jobs returns the submission service.
func (s *System) Jobs() *jobs.Service { return s.service }

// Store returns the underlying repositories.
func (s *System) Store() storage.Store { return s.store }

// Cleanup returns the cleanup scheduler.
func (s *System) Cleanup() *cleanup.Scheduler { return s.cleanup }

// Pool returns the worker pool.
func (s *System) Pool() *jobs.Pool { return s.pool }

// StartCleanup runs the cleanup scheduler in the background until ctx is
// done or the System shuts down.
func (s *System) StartCleanup(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.baseCtx, cancel)
	s.cleanupWG.Add(1)
	go func() {
		defer s.cleanupWG.Done()
		defer stop()
		defer cancel()
		s.cleanup.Run(ctx)
	}()
}

// CreateCollection creates a named collection.
func (s *System) CreateCollection(ctx context.Context, name, description, ownerID string) (*core.Collection, error) {
	c := &core.Collection{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.store.Collections().CreateCollection(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Collection looks a collection up by id, then by name.
func (s *System) Collection(ctx context.Context, idOrName string) (*core.Collection, error) {
	c, err := s.store.Collections().GetCollection(ctx, idOrName)
	if errors.Is(err, core.ErrCollectionNotFound) {
		return s.store.Collections().FindCollectionByName(ctx, idOrName)
	}
	return c, err
}

// Collections lists every collection.
func (s *System) Collections(ctx context.Context) ([]*core.Collection, error) {
	return s.store.Collections().ListCollections(ctx)
}

// DeleteCollection removes a collection with its documents, chunks and
// renderings.
func (s *System) DeleteCollection(ctx context.Context, id string) error {
	c, err := s.store.Collections().GetCollection(ctx, id)
	if err != nil {
		return err
	}
	docs, err := s.store.Documents().ListDocuments(ctx, c.ID)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	if _, err := s.store.Chunks().DeleteCollectionChunks(ctx, c.ID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	for _, doc := range docs {
		if err := s.store.Documents().DeleteDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("deleting document %s: %w", doc.ID, err)
		}
	}
	if dir := s.config.Ingestion.RenderDir; dir != "" {
		if err := os.RemoveAll(filepath.Join(dir, c.Name)); err != nil {
			s.logger.Warn("failed to remove renderings", "collection", c.Name, "err", err)
		}
	}
	if err := s.store.Collections().DeleteCollection(ctx, c.ID); err != nil {
		return err
	}
	s.logger.Info("collection deleted", "collection", c.Name, "documents", len(docs))
	return nil
}

// Ingest queues the file at path for ingestion into a collection.
func (s *System) Ingest(ctx context.Context, collectionID, path, userID string) (*core.Job, error) {
	return s.service.SubmitIngestion(ctx, core.IngestionInput{
		Filename:     filepath.Base(path),
		FilePath:     path,
		CollectionID: collectionID,
		UserID:       userID,
	})
}

// Ask queues a question. An empty model selects the default model.
func (s *System) Ask(ctx context.Context, collectionID, question, model string, topK int) (*core.Job, error) {
	return s.service.SubmitQuery(ctx, core.QueryInput{
		Query:        question,
		Model:        model,
		CollectionID: collectionID,
		TopK:         topK,
	})
}

// Wait polls a job until it reaches a terminal state or ctx ends.
func (s *System) Wait(ctx context.Context, id string, every time.Duration) (*core.Job, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := s.service.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status.IsTerminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// NewReindexer creates a reindexer over this System's chunks and embedder.
func (s *System) NewReindexer(cfg reindex.Config, out io.Writer) (*reindex.Reindexer, error) {
	return reindex.New(s.store.Chunks(), s.provider.Embedder(), cfg, out)
}

// Shutdown stops accepting jobs and waits up to timeout for queued and
// running ones, then stops cleanup and releases the provider and storage.
// Jobs still running at the deadline are interrupted.
func (s *System) Shutdown(timeout time.Duration) error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.pool.Shutdown(timeout); err != nil {
			errs = append(errs, err)
		}
		s.cancel()
		s.cleanupWG.Wait()

		if err := s.provider.Close(); err != nil {
			s.logger.Error("error closing AI provider", "err", err)
		}
		if err := s.store.Close(); err != nil {
			s.logger.Error("error closing storage", "err", err)
			errs = append(errs, err)
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Close is Shutdown with DefaultShutdownTimeout.
func (s *System) Close() error {
	return s.Shutdown(DefaultShutdownTimeout)
}
