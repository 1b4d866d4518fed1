package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/metrics"
	"github.com/poiesic/ragjobs/storage"
)

// Service accepts job requests and exposes their state.
type Service struct {
	jobs        storage.JobRepository
	collections storage.CollectionRepository
	engine      *Engine
	submitter   Submitter
	validate    *validator.Validate
	baseCtx     context.Context
	logger      *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithBaseContext sets the context jobs execute under. Cancelling it
// interrupts running pipelines; their terminal state is still written.
func WithBaseContext(ctx context.Context) ServiceOption {
	return func(s *Service) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

// WithServiceLogger sets the logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a submission service.
func NewService(
	jobs storage.JobRepository,
	collections storage.CollectionRepository,
	engine *Engine,
	submitter Submitter,
	opts ...ServiceOption,
) (*Service, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if collections == nil {
		return nil, ErrCollectionRepositoryRequired
	}
	if engine == nil {
		return nil, ErrEngineRequired
	}
	if submitter == nil {
		return nil, ErrSubmitterRequired
	}
	s := &Service{
		jobs:        jobs,
		collections: collections,
		engine:      engine,
		submitter:   submitter,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		baseCtx:     context.Background(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "jobs")
	return s, nil
}

// SubmitIngestion queues the ingestion of one uploaded file. A missing
// document id is generated.
func (s *Service) SubmitIngestion(ctx context.Context, in core.IngestionInput) (*core.Job, error) {
	if in.DocumentID == "" {
		in.DocumentID = uuid.NewString()
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	collection, err := s.collections.GetCollection(ctx, in.CollectionID)
	if err != nil {
		return nil, err
	}
	if in.CollectionName == "" {
		in.CollectionName = collection.Name
	}
	return s.submit(ctx, core.JobTypeInsertion, core.JobInput{Ingestion: &in})
}

// SubmitQuery queues a question against a collection.
func (s *Service) SubmitQuery(ctx context.Context, in core.QueryInput) (*core.Job, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	collection, err := s.collections.GetCollection(ctx, in.CollectionID)
	if err != nil {
		return nil, err
	}
	if in.CollectionName == "" {
		in.CollectionName = collection.Name
	}
	return s.submit(ctx, core.JobTypeQuery, core.JobInput{Query: &in})
}

func (s *Service) submit(ctx context.Context, jobType core.JobType, input core.JobInput) (*core.Job, error) {
	job := core.NewJob(uuid.NewString(), jobType, input)
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}

	id := job.ID
	err := s.submitter.Submit(func() {
		if err := s.engine.Execute(s.baseCtx, id); err != nil {
			s.logger.Error("job execution failed", "job", id, "err", err)
		}
	})
	if err != nil {
		metrics.JobsRejected.WithLabelValues(string(jobType)).Inc()
		if derr := s.jobs.DeleteJob(context.WithoutCancel(ctx), id); derr != nil {
			s.logger.Error("failed to remove rejected job", "job", id, "err", derr)
			return nil, errors.Join(err, derr)
		}
		return nil, err
	}
	metrics.JobsSubmitted.WithLabelValues(string(jobType)).Inc()
	s.logger.Debug("job queued", "job", id, "type", jobType)
	return job, nil
}

// Get returns the current state of a job.
func (s *Service) Get(ctx context.Context, id string) (*core.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// List returns jobs matching filter.
func (s *Service) List(ctx context.Context, filter storage.JobFilter) ([]*core.Job, error) {
	return s.jobs.ListJobs(ctx, filter)
}
