package jobs

import (
	"context"
	"sync"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

// repositoryTracker persists progress through the job repository. Each call
// is one repository write.
type repositoryTracker struct {
	jobs  storage.JobRepository
	id    string
	mu    sync.Mutex
	stage core.Stage
}

var _ core.Tracker = (*repositoryTracker)(nil)

func newRepositoryTracker(jobs storage.JobRepository, id string) *repositoryTracker {
	return &repositoryTracker{jobs: jobs, id: id, stage: core.StageInitialisation}
}

func (t *repositoryTracker) Stage(ctx context.Context, stage core.Stage, message string) error {
	if err := t.jobs.UpdateProgress(ctx, t.id, stage, core.NewLogEntry(core.LogLevelInfo, message)); err != nil {
		return err
	}
	t.mu.Lock()
	t.stage = stage
	t.mu.Unlock()
	return nil
}

func (t *repositoryTracker) Log(ctx context.Context, level core.LogLevel, message string) error {
	return t.jobs.AppendLog(ctx, t.id, core.NewLogEntry(level, message))
}

// current returns the last stage persisted.
func (t *repositoryTracker) current() core.Stage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stage
}
