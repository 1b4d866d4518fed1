package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/poiesic/ragjobs/storage/badger"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedJob stores a job created at createdAt and drives it to status.
func seedJob(t *testing.T, jobs storage.JobRepository, id string, createdAt time.Time, status core.JobStatus) {
	t.Helper()
	ctx := context.Background()
	job := core.NewJob(id, core.JobTypeQuery, core.JobInput{Query: &core.QueryInput{Query: "q", CollectionID: "c"}})
	job.CreatedAt = createdAt
	require.NoError(t, jobs.CreateJob(ctx, job))
	if status == core.JobStatusQueued {
		return
	}
	_, err := jobs.StartJob(ctx, id, core.NewLogEntry(core.LogLevelInfo, "processing started"))
	require.NoError(t, err)
	switch status {
	case core.JobStatusCompleted:
		require.NoError(t, jobs.CompleteJob(ctx, id, []byte(`{}`), core.NewLogEntry(core.LogLevelInfo, "done")))
	case core.JobStatusFailed:
		require.NoError(t, jobs.FailJob(ctx, id, "x: y", core.NewLogEntry(core.LogLevelError, "x: y")))
	}
}

type failingJobs struct {
	storage.JobRepository
	err   error
	panic bool
	calls atomic.Int32
}

func (f *failingJobs) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	n := f.calls.Add(1)
	if f.panic && n == 1 {
		panic("index corrupted")
	}
	if f.err != nil {
		return 0, f.err
	}
	return 0, nil
}

func TestNew_RequiresRepositories(t *testing.T) {
	store := newTestStore(t)
	_, err := New(nil, store.Blacklist())
	assert.ErrorIs(t, err, ErrJobRepositoryRequired)
	_, err = New(store.Jobs(), nil)
	assert.ErrorIs(t, err, ErrBlacklistRepositoryRequired)
}

func TestSweep(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()
	old := now.Add(-8 * 24 * time.Hour)

	seedJob(t, store.Jobs(), "old-completed", old, core.JobStatusCompleted)
	seedJob(t, store.Jobs(), "old-failed", old, core.JobStatusFailed)
	seedJob(t, store.Jobs(), "old-queued", old, core.JobStatusQueued)
	seedJob(t, store.Jobs(), "old-processing", old, core.JobStatusProcessing)
	seedJob(t, store.Jobs(), "new-completed", now.Add(-time.Hour), core.JobStatusCompleted)

	require.NoError(t, store.Blacklist().AddToken(ctx, &core.BlacklistEntry{JTI: "expired", ExpiresAt: now.Add(-time.Minute), BlacklistedAt: old}))
	require.NoError(t, store.Blacklist().AddToken(ctx, &core.BlacklistEntry{JTI: "live", ExpiresAt: now.Add(time.Hour), BlacklistedAt: now}))

	s, err := New(store.Jobs(), store.Blacklist(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Jobs: 2, Tokens: 1}, report)

	for _, id := range []string{"old-queued", "old-processing", "new-completed"} {
		_, err := store.Jobs().GetJob(ctx, id)
		assert.NoError(t, err, id)
	}
	for _, id := range []string{"old-completed", "old-failed"} {
		_, err := store.Jobs().GetJob(ctx, id)
		assert.ErrorIs(t, err, core.ErrJobNotFound, id)
	}

	revoked, err := store.Blacklist().IsBlacklisted(ctx, "live")
	require.NoError(t, err)
	assert.True(t, revoked)
	revoked, err = store.Blacklist().IsBlacklisted(ctx, "expired")
	require.NoError(t, err)
	assert.False(t, revoked)

	report, err = s.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{}, report, "a second sweep finds nothing")
}

func TestSweepWithRetention(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()
	seedJob(t, store.Jobs(), "two-days", now.Add(-48*time.Hour), core.JobStatusCompleted)

	s, err := New(store.Jobs(), store.Blacklist(), WithClock(func() time.Time { return now }))
	require.NoError(t, err)

	report, err := s.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Jobs)

	report, err = s.SweepWithRetention(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Jobs)
}

func TestSweep_PassesAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, store.Blacklist().AddToken(ctx, &core.BlacklistEntry{JTI: "expired", ExpiresAt: now.Add(-time.Minute)}))

	jobs := &failingJobs{JobRepository: store.Jobs(), err: errors.New("disk full")}
	s, err := New(jobs, store.Blacklist())
	require.NoError(t, err)

	report, err := s.Sweep(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, report.Tokens, "token pass runs even when the job pass fails")
}

func TestRun_SurvivesPanicsAndStopsOnCancel(t *testing.T) {
	store := newTestStore(t)
	jobs := &failingJobs{JobRepository: store.Jobs(), panic: true}
	s, err := New(jobs, store.Blacklist(),
		WithInterval(5*time.Millisecond),
		WithRetryBackoff(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return jobs.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func TestRun_BacksOffAfterFailure(t *testing.T) {
	store := newTestStore(t)
	jobs := &failingJobs{JobRepository: store.Jobs(), err: errors.New("locked")}
	s, err := New(jobs, store.Blacklist(),
		WithInterval(time.Hour),
		WithRetryBackoff(2*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	// With an hour-long interval only the short backoff can produce repeats.
	require.Eventually(t, func() bool { return jobs.calls.Load() >= 3 }, time.Second, time.Millisecond)
}
