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

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/metrics"
	"github.com/poiesic/ragjobs/storage"
)

const internalErrorMessage = "internal error while processing job"

// Engine drives jobs through their lifecycle.
type Engine struct {
	jobs    storage.JobRepository
	runners map[core.JobType]Runner
	timeout time.Duration
	logger  *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRunner binds the runner executing jobs of jobType.
func WithRunner(jobType core.JobType, runner Runner) EngineOption {
	return func(e *Engine) {
		e.runners[jobType] = runner
	}
}

// WithTimeout bounds the time a runner may spend on one job. Zero means no limit.
func WithTimeout(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.timeout = d
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewEngine creates an Engine over the job repository.
func NewEngine(jobs storage.JobRepository, opts ...EngineOption) (*Engine, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	e := &Engine{
		jobs:    jobs,
		runners: make(map[core.JobType]Runner),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "engine")
	return e, nil
}

// Execute runs the queued job id to a terminal state.
//
// It returns core.ErrJobNotFound for an unknown id and
// core.ErrInvalidTransition when the job is not QUEUED; neither writes
// anything. A pipeline failure is recorded on the job, not returned. The
// returned error is otherwise a failed terminal write.
func (e *Engine) Execute(ctx context.Context, id string) error {
	job, err := e.jobs.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != core.JobStatusQueued {
		return fmt.Errorf("%w: job %s is %s", core.ErrInvalidTransition, id, job.Status)
	}

	job, err = e.jobs.StartJob(ctx, id, core.NewLogEntry(core.LogLevelInfo, "processing started"))
	if err != nil {
		return err
	}
	started := time.Now()
	metrics.JobsStarted.WithLabelValues(string(job.Type)).Inc()
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	logger := e.logger.With("job", id, "type", job.Type)
	logger.Info("job started")

	tracker := newRepositoryTracker(e.jobs, id)
	result, runErr := e.run(ctx, job, tracker)

	var raw json.RawMessage
	if runErr == nil {
		raw, runErr = json.Marshal(result)
	}

	// Terminal writes must land even when the worker context is gone.
	writeCtx := context.WithoutCancel(ctx)
	elapsed := time.Since(started)
	if runErr == nil {
		entry := core.NewLogEntry(core.LogLevelInfo, fmt.Sprintf("job completed in %.2fs", elapsed.Seconds()))
		if err := e.jobs.CompleteJob(writeCtx, id, raw, entry); err != nil {
			logger.Error("failed to record completion", "err", err)
			return err
		}
		metrics.JobsCompleted.WithLabelValues(string(job.Type)).Inc()
		metrics.JobDuration.WithLabelValues(string(job.Type), string(core.JobStatusCompleted)).Observe(elapsed.Seconds())
		logger.Info("job completed", "duration", elapsed)
		return nil
	}

	level, kind, message := classify(runErr, tracker.current())
	if level == core.LogLevelCritical {
		logger.Error("job failed unexpectedly", "stage", tracker.current(), "err", runErr)
	} else {
		logger.Warn("job failed", "err", runErr)
	}
	if err := e.jobs.FailJob(writeCtx, id, message, core.NewLogEntry(level, message)); err != nil {
		logger.Error("failed to record failure", "err", err)
		return err
	}
	metrics.JobsFailed.WithLabelValues(string(job.Type), kind.String()).Inc()
	metrics.JobDuration.WithLabelValues(string(job.Type), string(core.JobStatusFailed)).Observe(elapsed.Seconds())
	return nil
}

// run invokes the runner, turning a panic into an unexpected error.
func (e *Engine) run(ctx context.Context, job *core.Job, tracker *repositoryTracker) (result any, err error) {
	runner, ok := e.runners[job.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoRunner, job.Type)
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("runner panicked", "job", job.ID, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()
	return runner.Run(ctx, job, tracker)
}

// classify maps a runner error to the log level, origin and stored message
// of the failed job. Only stage errors expose their cause.
func classify(err error, current core.Stage) (core.LogLevel, core.ErrorKind, string) {
	var stageErr *core.StageError
	if errors.As(err, &stageErr) && stageErr.Kind != core.KindUnexpected {
		stage := stageErr.Stage
		if stage == "" {
			stage = current
		}
		return core.LogLevelError, stageErr.Kind, fmt.Sprintf("%s: %v", stage, stageErr.Err)
	}
	return core.LogLevelCritical, core.KindUnexpected, fmt.Sprintf("%s: %s", current, internalErrorMessage)
}
