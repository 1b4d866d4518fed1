package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/poiesic/ragjobs/core"
)

// These helpers apply one lifecycle write to an in-memory job after checking
// it against the status machine. Backends that load and save whole records
// call them inside their write transaction.

// ApplyStart moves a QUEUED job to PROCESSING at the initialisation stage.
func ApplyStart(job *core.Job, entry core.LogEntry, now time.Time) error {
	if err := core.ValidateTransition(job.Status, core.JobStatusProcessing); err != nil {
		return err
	}
	job.Status = core.JobStatusProcessing
	job.Progress = core.StageInitialisation
	job.StartedAt = &now
	job.Log = append(job.Log, entry)
	return nil
}

// ApplyProgress advances a PROCESSING job to stage.
func ApplyProgress(job *core.Job, stage core.Stage, entry core.LogEntry) error {
	if job.Status != core.JobStatusProcessing {
		return fmt.Errorf("%w: progress update on %s job", core.ErrInvalidTransition, job.Status)
	}
	if stage == core.StageDone {
		return fmt.Errorf("%w: done is only set on completion", core.ErrUnknownStage)
	}
	if err := core.ValidateProgress(job.Type, job.Progress, stage); err != nil {
		return err
	}
	job.Progress = stage
	job.Log = append(job.Log, entry)
	return nil
}

// ApplyLog appends entry to a job log. Terminal jobs accept no new entries.
func ApplyLog(job *core.Job, entry core.LogEntry) error {
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: log append on %s job", core.ErrInvalidTransition, job.Status)
	}
	job.Log = append(job.Log, entry)
	return nil
}

// ApplyComplete marks a PROCESSING job COMPLETED with result.
func ApplyComplete(job *core.Job, result json.RawMessage, entry core.LogEntry, now time.Time) error {
	if err := core.ValidateTransition(job.Status, core.JobStatusCompleted); err != nil {
		return err
	}
	job.Status = core.JobStatusCompleted
	job.Progress = core.StageDone
	job.Result = result
	job.Error = ""
	job.FinishedAt = &now
	job.Log = append(job.Log, entry)
	return nil
}

// ApplyFail marks a PROCESSING job FAILED with message, keeping its progress.
func ApplyFail(job *core.Job, message string, entry core.LogEntry, now time.Time) error {
	if err := core.ValidateTransition(job.Status, core.JobStatusFailed); err != nil {
		return err
	}
	job.Status = core.JobStatusFailed
	job.Result = nil
	job.Error = message
	job.FinishedAt = &now
	job.Log = append(job.Log, entry)
	return nil
}
