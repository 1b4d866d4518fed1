package jobs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
)

// inlineSubmitter runs tasks synchronously.
type inlineSubmitter struct{}

func (inlineSubmitter) Submit(task func()) error {
	task()
	return nil
}

type rejectingSubmitter struct{}

func (rejectingSubmitter) Submit(func()) error { return ErrQueueFull }

func newTestService(t *testing.T, submitter Submitter, runner Runner) (*Service, storage.Store) {
	t.Helper()
	store := newTestStore(t)
	require.NoError(t, store.Collections().CreateCollection(context.Background(), &core.Collection{ID: "col-1", Name: "manuals"}))

	engine, err := NewEngine(store.Jobs(),
		WithRunner(core.JobTypeQuery, runner),
		WithRunner(core.JobTypeInsertion, runner))
	require.NoError(t, err)
	svc, err := NewService(store.Jobs(), store.Collections(), engine, submitter)
	require.NoError(t, err)
	return svc, store
}

var okRunner = RunnerFunc(func(context.Context, *core.Job, core.Tracker) (any, error) {
	return map[string]int{"n": 1}, nil
})

func TestNewService_RequiresDependencies(t *testing.T) {
	store := newTestStore(t)
	engine, err := NewEngine(store.Jobs())
	require.NoError(t, err)

	_, err = NewService(nil, store.Collections(), engine, inlineSubmitter{})
	assert.ErrorIs(t, err, ErrJobRepositoryRequired)
	_, err = NewService(store.Jobs(), nil, engine, inlineSubmitter{})
	assert.ErrorIs(t, err, ErrCollectionRepositoryRequired)
	_, err = NewService(store.Jobs(), store.Collections(), nil, inlineSubmitter{})
	assert.ErrorIs(t, err, ErrEngineRequired)
	_, err = NewService(store.Jobs(), store.Collections(), engine, nil)
	assert.ErrorIs(t, err, ErrSubmitterRequired)
}

func TestSubmitQuery_RunsToCompletion(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, inlineSubmitter{}, okRunner)

	job, err := svc.SubmitQuery(ctx, core.QueryInput{Query: "why?", CollectionID: "col-1"})
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusQueued, job.Status)
	assert.Equal(t, "manuals", job.Input.Query.CollectionName)

	got, err := svc.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"n":1}`, string(got.Result))
}

func TestSubmitIngestion_AssignsDocumentID(t *testing.T) {
	svc, _ := newTestService(t, inlineSubmitter{}, okRunner)

	job, err := svc.SubmitIngestion(context.Background(), core.IngestionInput{
		Filename:     "guide.md",
		FilePath:     "/uploads/guide.md",
		CollectionID: "col-1",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.Input.Ingestion.DocumentID)
	assert.Equal(t, core.JobTypeInsertion, job.Type)
}

func TestSubmit_Validation(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, inlineSubmitter{}, okRunner)

	_, err := svc.SubmitQuery(ctx, core.QueryInput{CollectionID: "col-1"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.SubmitQuery(ctx, core.QueryInput{Query: "q", CollectionID: "col-1", TopK: 500})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.SubmitIngestion(ctx, core.IngestionInput{Filename: "a.md", CollectionID: "col-1"})
	assert.ErrorIs(t, err, core.ErrInvalidInput)

	_, err = svc.SubmitQuery(ctx, core.QueryInput{Query: "q", CollectionID: "nope"})
	assert.ErrorIs(t, err, core.ErrCollectionNotFound)

	jobs, err := store.Jobs().ListJobs(ctx, storage.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs, "rejected requests leave no job behind")
}

func TestSubmit_PoolRejectionRemovesJob(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService(t, rejectingSubmitter{}, okRunner)

	_, err := svc.SubmitQuery(ctx, core.QueryInput{Query: "q", CollectionID: "col-1"})
	assert.ErrorIs(t, err, ErrQueueFull)

	jobs, err := store.Jobs().ListJobs(ctx, storage.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, inlineSubmitter{}, okRunner)

	_, err := svc.SubmitQuery(ctx, core.QueryInput{Query: "a", CollectionID: "col-1"})
	require.NoError(t, err)
	_, err = svc.SubmitIngestion(ctx, core.IngestionInput{Filename: "a.md", FilePath: "/a.md", CollectionID: "col-1"})
	require.NoError(t, err)

	queries, err := svc.List(ctx, storage.JobFilter{Type: core.JobTypeQuery})
	require.NoError(t, err)
	assert.Len(t, queries, 1)

	completed, err := svc.List(ctx, storage.JobFilter{Status: core.JobStatusCompleted})
	require.NoError(t, err)
	assert.Len(t, completed, 2)
}
