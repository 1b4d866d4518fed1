package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/timshannon/badgerhold/v4"
)

// JobRepository implements storage.JobRepository with badgerhold records.
// Every lifecycle write reads, checks and rewrites the job inside one
// serializable transaction, so concurrent writers can never lose a log entry.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// CreateJob stores a new QUEUED job.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.Job) error {
	if job.Status != core.JobStatusQueued {
		return fmt.Errorf("%w: new job must be %s", core.ErrInvalidTransition, core.JobStatusQueued)
	}
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	err := r.backend.Update(func(tx *badger.Txn) error {
		return r.backend.store.TxInsert(tx, job.ID, job)
	})
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.ID)
	}
	return err
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.Job, error) {
	var job core.Job
	if err := r.backend.store.Get(id, &job); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
		}
		return nil, err
	}
	return &job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*core.Job, error) {
	query := badgerhold.Where("ID").Ne("")
	if filter.Status != "" {
		query = query.And("Status").Eq(filter.Status)
	}
	if filter.Type != "" {
		query = query.And("Type").Eq(filter.Type)
	}
	query = query.SortBy("CreatedAt").Reverse()
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var jobs []core.Job
	if err := r.backend.store.Find(&jobs, query); err != nil {
		return nil, err
	}
	out := make([]*core.Job, len(jobs))
	for i := range jobs {
		out[i] = &jobs[i]
	}
	return out, nil
}

// StartJob moves a QUEUED job to PROCESSING.
func (r *JobRepository) StartJob(ctx context.Context, id string, entry core.LogEntry) (*core.Job, error) {
	return r.mutate(id, func(job *core.Job) error {
		return storage.ApplyStart(job, entry, time.Now().UTC())
	})
}

// UpdateProgress advances progress and appends entry in the same write.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, stage core.Stage, entry core.LogEntry) error {
	_, err := r.mutate(id, func(job *core.Job) error {
		return storage.ApplyProgress(job, stage, entry)
	})
	return err
}

// AppendLog appends one entry to the job log.
func (r *JobRepository) AppendLog(ctx context.Context, id string, entry core.LogEntry) error {
	_, err := r.mutate(id, func(job *core.Job) error {
		return storage.ApplyLog(job, entry)
	})
	return err
}

// CompleteJob writes the terminal COMPLETED state.
func (r *JobRepository) CompleteJob(ctx context.Context, id string, result json.RawMessage, entry core.LogEntry) error {
	_, err := r.mutate(id, func(job *core.Job) error {
		return storage.ApplyComplete(job, result, entry, time.Now().UTC())
	})
	return err
}

// FailJob writes the terminal FAILED state.
func (r *JobRepository) FailJob(ctx context.Context, id string, message string, entry core.LogEntry) error {
	_, err := r.mutate(id, func(job *core.Job) error {
		return storage.ApplyFail(job, message, entry, time.Now().UTC())
	})
	return err
}

// DeleteJob removes a job regardless of its state.
func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	err := r.backend.Update(func(tx *badger.Txn) error {
		return r.backend.store.TxDelete(tx, id, core.Job{})
	})
	if errors.Is(err, badgerhold.ErrNotFound) {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	return err
}

// DeleteFinishedBefore removes terminal jobs created before cutoff.
func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("CreatedAt").Lt(cutoff).
		And("Status").In(core.JobStatusCompleted, core.JobStatusFailed)

	var deleted int
	err := r.backend.Update(func(tx *badger.Txn) error {
		var jobs []core.Job
		if err := r.backend.store.TxFind(tx, &jobs, query); err != nil {
			return err
		}
		for _, job := range jobs {
			if err := r.backend.store.TxDelete(tx, job.ID, core.Job{}); err != nil {
				return err
			}
		}
		deleted = len(jobs)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// mutate applies fn to the stored job and writes it back in one transaction.
func (r *JobRepository) mutate(id string, fn func(job *core.Job) error) (*core.Job, error) {
	var out *core.Job
	err := r.backend.Update(func(tx *badger.Txn) error {
		var job core.Job
		if err := r.backend.store.TxGet(tx, id, &job); err != nil {
			if errors.Is(err, badgerhold.ErrNotFound) {
				return fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
			}
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		out = &job
		return r.backend.store.TxUpdate(tx, id, &job)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
