// Package cleanup periodically purges finished jobs and expired revoked tokens.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/poiesic/ragjobs/metrics"
	"github.com/poiesic/ragjobs/storage"
)

const (
	DefaultInterval     = 24 * time.Hour
	DefaultRetryBackoff = 60 * time.Second
	DefaultRetention    = 7 * 24 * time.Hour
)

var (
	// ErrJobRepositoryRequired is returned when a job repository is not provided.
	ErrJobRepositoryRequired = errors.New("job repository required")

	// ErrBlacklistRepositoryRequired is returned when a blacklist repository is not provided.
	ErrBlacklistRepositoryRequired = errors.New("blacklist repository required")
)

// Report counts what one sweep removed.
type Report struct {
	Jobs   int
	Tokens int
}

// Scheduler runs Sweep on a fixed interval.
type Scheduler struct {
	jobs      storage.JobRepository
	blacklist storage.BlacklistRepository
	interval  time.Duration
	backoff   time.Duration
	retention time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval sets the pause after a successful sweep.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRetryBackoff sets the pause after a failed sweep.
func WithRetryBackoff(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.backoff = d
		}
	}
}

// WithRetention sets how long finished jobs are kept, measured from creation.
func WithRetention(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Scheduler.
func New(jobs storage.JobRepository, blacklist storage.BlacklistRepository, opts ...Option) (*Scheduler, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if blacklist == nil {
		return nil, ErrBlacklistRepositoryRequired
	}
	s := &Scheduler{
		jobs:      jobs,
		blacklist: blacklist,
		interval:  DefaultInterval,
		backoff:   DefaultRetryBackoff,
		retention: DefaultRetention,
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cleanup")
	return s, nil
}

// Run sweeps until ctx is done. A failed or panicking sweep is logged and
// retried after the backoff.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("cleanup scheduler started", "interval", s.interval, "retention", s.retention)
	for {
		wait := s.interval
		if _, err := s.safeSweep(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.CleanupFailures.Inc()
			s.logger.Error("cleanup sweep failed", "err", err, "retry_in", s.backoff)
			wait = s.backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("cleanup scheduler stopped")
			return
		case <-timer.C:
		}
	}
	s.logger.Info("cleanup scheduler stopped")
}

func (s *Scheduler) safeSweep(ctx context.Context) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("cleanup sweep panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()
	return s.Sweep(ctx)
}

// Sweep deletes terminal jobs older than the retention and blacklist entries
// past their expiry. Both passes always run; their errors are joined.
func (s *Scheduler) Sweep(ctx context.Context) (Report, error) {
	return s.SweepWithRetention(ctx, s.retention)
}

// SweepWithRetention is Sweep with a one-off retention.
func (s *Scheduler) SweepWithRetention(ctx context.Context, retention time.Duration) (Report, error) {
	now := s.now().UTC()
	var (
		report Report
		errs   []error
	)

	n, err := s.jobs.DeleteFinishedBefore(ctx, now.Add(-retention))
	if err != nil {
		errs = append(errs, fmt.Errorf("purging jobs: %w", err))
	} else {
		report.Jobs = n
		metrics.CleanupDeleted.WithLabelValues("jobs").Add(float64(n))
	}

	n, err = s.blacklist.DeleteExpired(ctx, now)
	if err != nil {
		errs = append(errs, fmt.Errorf("purging revoked tokens: %w", err))
	} else {
		report.Tokens = n
		metrics.CleanupDeleted.WithLabelValues("tokens").Add(float64(n))
	}

	s.logger.Info("cleanup sweep finished", "jobs", report.Jobs, "tokens", report.Tokens)
	return report, errors.Join(errs...)
}
