package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

// JobRepository implements storage.JobRepository.
// Lifecycle writes lock the row, check the transition on a copy, then issue
// one UPDATE whose log column is appended with jsonb concatenation.
type JobRepository struct {
	db *gorm.DB
}

var _ storage.JobRepository = (*JobRepository)(nil)

// CreateJob stores a new QUEUED job.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.Job) error {
	if job.Status != core.JobStatusQueued {
		return fmt.Errorf("%w: new job must be %s", core.ErrInvalidTransition, core.JobStatusQueued)
	}
	if err := core.ValidateJob(job); err != nil {
		return err
	}
	row, err := newJobRow(job)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		if IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: job %s", storage.ErrDuplicateKey, job.ID)
		}
		return err
	}
	return nil
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, id string) (*core.Job, error) {
	row, err := r.load(r.db.WithContext(ctx), id, false)
	if err != nil {
		return nil, err
	}
	return row.toJob()
}

// ListJobs returns jobs matching the filter, newest first.
func (r *JobRepository) ListJobs(ctx context.Context, filter storage.JobFilter) ([]*core.Job, error) {
	query := r.db.WithContext(ctx).Model(&jobRow{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Type != "" {
		query = query.Where("type = ?", string(filter.Type))
	}
	query = query.Order("created_at DESC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []jobRow
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	jobs := make([]*core.Job, 0, len(rows))
	for i := range rows {
		job, err := rows[i].toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// StartJob moves a QUEUED job to PROCESSING.
func (r *JobRepository) StartJob(ctx context.Context, id string, entry core.LogEntry) (*core.Job, error) {
	now := time.Now().UTC()
	return r.mutate(ctx, id, entry, func(job *core.Job) (map[string]any, error) {
		if err := storage.ApplyStart(job, entry, now); err != nil {
			return nil, err
		}
		return map[string]any{
			"status":     string(job.Status),
			"progress":   string(job.Progress),
			"started_at": now,
		}, nil
	})
}

// UpdateProgress advances progress and appends entry in the same write.
func (r *JobRepository) UpdateProgress(ctx context.Context, id string, stage core.Stage, entry core.LogEntry) error {
	_, err := r.mutate(ctx, id, entry, func(job *core.Job) (map[string]any, error) {
		if err := storage.ApplyProgress(job, stage, entry); err != nil {
			return nil, err
		}
		return map[string]any{"progress": string(stage)}, nil
	})
	return err
}

// AppendLog appends one entry to the job log.
func (r *JobRepository) AppendLog(ctx context.Context, id string, entry core.LogEntry) error {
	_, err := r.mutate(ctx, id, entry, func(job *core.Job) (map[string]any, error) {
		if err := storage.ApplyLog(job, entry); err != nil {
			return nil, err
		}
		return map[string]any{}, nil
	})
	return err
}

// CompleteJob writes the terminal COMPLETED state.
func (r *JobRepository) CompleteJob(ctx context.Context, id string, result json.RawMessage, entry core.LogEntry) error {
	now := time.Now().UTC()
	_, err := r.mutate(ctx, id, entry, func(job *core.Job) (map[string]any, error) {
		if err := storage.ApplyComplete(job, result, entry, now); err != nil {
			return nil, err
		}
		return map[string]any{
			"status":      string(job.Status),
			"progress":    string(job.Progress),
			"result":      string(result),
			"error":       nil,
			"finished_at": now,
		}, nil
	})
	return err
}

// FailJob writes the terminal FAILED state.
func (r *JobRepository) FailJob(ctx context.Context, id string, message string, entry core.LogEntry) error {
	now := time.Now().UTC()
	_, err := r.mutate(ctx, id, entry, func(job *core.Job) (map[string]any, error) {
		if err := storage.ApplyFail(job, message, entry, now); err != nil {
			return nil, err
		}
		return map[string]any{
			"status":      string(job.Status),
			"result":      nil,
			"error":       message,
			"finished_at": now,
		}, nil
	})
	return err
}

// DeleteJob removes a job regardless of its state.
func (r *JobRepository) DeleteJob(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&jobRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
	}
	return nil
}

// DeleteFinishedBefore removes terminal jobs created before cutoff.
func (r *JobRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res := r.db.WithContext(ctx).
		Where("created_at < ? AND status IN ?", cutoff,
			[]string{string(core.JobStatusCompleted), string(core.JobStatusFailed)}).
		Delete(&jobRow{})
	return int(res.RowsAffected), res.Error
}

// mutate locks the job row, lets fn validate the change and name the columns
// to set, and appends entry to the log in the same statement.
func (r *JobRepository) mutate(ctx context.Context, id string, entry core.LogEntry, fn func(job *core.Job) (map[string]any, error)) (*core.Job, error) {
	entryJSON, err := json.Marshal([]core.LogEntry{entry})
	if err != nil {
		return nil, err
	}

	var out *core.Job
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, err := r.load(tx, id, true)
		if err != nil {
			return err
		}
		job, err := row.toJob()
		if err != nil {
			return err
		}
		updates, err := fn(job)
		if err != nil {
			return err
		}
		updates["log"] = gorm.Expr("log || ?::jsonb", string(entryJSON))
		if err := tx.Model(&jobRow{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return err
		}
		out = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *JobRepository) load(db *gorm.DB, id string, forUpdate bool) (*jobRow, error) {
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row jobRow
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", core.ErrJobNotFound, id)
		}
		return nil, err
	}
	return &row, nil
}
