package ragjobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragjobs/ai"
	"github.com/poiesic/ragjobs/ai/mock"
	"github.com/poiesic/ragjobs/config"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/reindex"
	"github.com/poiesic/ragjobs/storage/badger"
)

const handbook = `# Operations handbook

Services are deployed with the release tool.

## Backups

Backups run nightly and are kept for thirty days.

## Paging

The on-call engineer is paged for severity one incidents.
`

const answerJSON = `{"answer": "Backups run nightly.", "sources": [{"filename": "handbook.md", "section": "Operations handbook > Backups", "pages": []}]}`

// scriptedLLM answers reformulation, reranking and generation prompts.
func scriptedLLM() *mock.MockLanguageModel {
	llm := mock.NewMockLanguageModel("")
	llm.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		switch {
		case strings.HasPrefix(prompt, "You are an assistant specialised"):
			return "backup schedule", nil
		case strings.HasPrefix(prompt, "You are the reranking engine"):
			return "0", nil
		default:
			return answerJSON, nil
		}
	}
	return llm
}

type testSystem struct {
	*System
	llm     *mock.MockLanguageModel
	uploads string
}

func newTestSystem(t *testing.T, mutate ...func(*config.Config)) *testSystem {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.Badger = config.BadgerConfig{InMemory: true}
	cfg.Ingestion.RenderDir = t.TempDir()
	cfg.Workers.Count = 4
	for _, m := range mutate {
		m(cfg)
	}
	require.NoError(t, cfg.Validate())

	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	llm := scriptedLLM()

	sys, err := New(cfg,
		WithStore(store),
		WithAIProvider(mock.NewMockProviderWithServices(mock.NewMockEmbedder(), llm)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { sys.Shutdown(5 * time.Second) })
	return &testSystem{System: sys, llm: llm, uploads: t.TempDir()}
}

func (ts *testSystem) upload(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(ts.uploads, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (ts *testSystem) wait(t *testing.T, job *core.Job) *core.Job {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done, err := ts.Wait(ctx, job.ID, 5*time.Millisecond)
	require.NoError(t, err)
	return done
}

func TestSystem_IngestThenAsk(t *testing.T) {
	ctx := context.Background()
	ts := newTestSystem(t)

	collection, err := ts.CreateCollection(ctx, "handbooks", "ops docs", "user-1")
	require.NoError(t, err)

	job, err := ts.Ingest(ctx, collection.ID, ts.upload(t, "handbook.md", handbook), "user-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobStatusQueued, job.Status)

	job = ts.wait(t, job)
	require.Equal(t, core.JobStatusCompleted, job.Status, job.Error)
	assert.Equal(t, core.StageDone, job.Progress)

	var ingested core.IngestionResult
	require.NoError(t, json.Unmarshal(job.Result, &ingested))
	assert.Equal(t, 3, ingested.Chunks)
	assert.Equal(t, job.Input.Ingestion.DocumentID, ingested.DocumentID)

	job, err = ts.Ask(ctx, collection.ID, "When do backups run?", "", 0)
	require.NoError(t, err)
	job = ts.wait(t, job)
	require.Equal(t, core.JobStatusCompleted, job.Status, job.Error)

	var answered core.QueryResult
	require.NoError(t, json.Unmarshal(job.Result, &answered))
	assert.Equal(t, "Backups run nightly.", answered.Response.Answer)
	assert.Equal(t, "backup schedule", answered.ReformulatedQuery)
	assert.Equal(t, "mock-model", answered.Model)

	messages := make([]string, len(job.Log))
	for i, entry := range job.Log {
		messages[i] = entry.Message
	}
	assert.Equal(t, "job queued", messages[0])
	assert.Equal(t, "processing started", messages[1])
}

func TestSystem_ConcurrentDuplicateIngestion(t *testing.T) {
	ctx := context.Background()
	ts := newTestSystem(t)
	collection, err := ts.CreateCollection(ctx, "handbooks", "", "")
	require.NoError(t, err)

	const n = 4
	submitted := make([]*core.Job, n)
	var wg sync.WaitGroup
	for i := range n {
		path := ts.upload(t, "copy"+string(rune('a'+i))+".md", handbook)
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := ts.Ingest(ctx, collection.ID, path, "")
			assert.NoError(t, err)
			submitted[i] = job
		}()
	}
	wg.Wait()

	completed, failed := 0, 0
	for _, job := range submitted {
		require.NotNil(t, job)
		job = ts.wait(t, job)
		switch job.Status {
		case core.JobStatusCompleted:
			completed++
		case core.JobStatusFailed:
			failed++
			assert.Contains(t, job.Error, core.ErrDuplicateContent.Error())
		}
	}
	assert.Equal(t, 1, completed)
	assert.Equal(t, n-1, failed)

	docs, err := ts.Store().Documents().ListDocuments(ctx, collection.ID)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestSystem_QueryWithoutDocuments(t *testing.T) {
	ctx := context.Background()
	ts := newTestSystem(t)
	collection, err := ts.CreateCollection(ctx, "empty-col", "", "")
	require.NoError(t, err)

	job, err := ts.Ask(ctx, collection.ID, "Anything?", "", 0)
	require.NoError(t, err)
	job = ts.wait(t, job)
	require.Equal(t, core.JobStatusCompleted, job.Status)

	var result core.QueryResult
	require.NoError(t, json.Unmarshal(job.Result, &result))
	assert.Equal(t, core.NoDataAnswer, result.Response.Answer)
	assert.Equal(t, 1, ts.llm.CallCount(), "only reformulation should reach the model")
}

func TestSystem_SubmitToUnknownCollection(t *testing.T) {
	ts := newTestSystem(t)
	_, err := ts.Ask(context.Background(), "missing", "Anything?", "", 0)
	assert.ErrorIs(t, err, core.ErrCollectionNotFound)
}

func TestSystem_Collections(t *testing.T) {
	ctx := context.Background()
	ts := newTestSystem(t)

	_, err := ts.CreateCollection(ctx, "bad name", "", "")
	assert.ErrorIs(t, err, core.ErrInvalidCollection)

	created, err := ts.CreateCollection(ctx, "handbooks", "", "")
	require.NoError(t, err)

	byName, err := ts.Collection(ctx, "handbooks")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	byID, err := ts.Collection(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "handbooks", byID.Name)

	all, err := ts.Collections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSystem_DeleteCollectionCascades(t *testing.T) {
	ctx := context.Background()
	ts := newTestSystem(t)
	collection, err := ts.CreateCollection(ctx, "handbooks", "", "")
	require.NoError(t, err)

	job, err := ts.Ingest(ctx, collection.ID, ts.upload(t, "handbook.md", handbook), "")
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCompleted, ts.wait(t, job).Status)

	require.NoError(t, ts.DeleteCollection(ctx, collection.ID))

	_, err = ts.Collection(ctx, collection.ID)
	assert.ErrorIs(t, err, core.ErrCollectionNotFound)
	n, err := ts.Store().Chunks().CountChunks(ctx, collection.ID)
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = ts.Store().Documents().GetDocument(ctx, job.Input.Ingestion.DocumentID)
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	assert.NoDirExists(t, filepath.Join(ts.config.Ingestion.RenderDir, "handbooks"))
}

func TestSystem_Reindex(t *testing.T) {
	ctx := context.Background()
	ts := newTestSystem(t)
	collection, err := ts.CreateCollection(ctx, "handbooks", "", "")
	require.NoError(t, err)
	job, err := ts.Ingest(ctx, collection.ID, ts.upload(t, "handbook.md", handbook), "")
	require.NoError(t, err)
	require.Equal(t, core.JobStatusCompleted, ts.wait(t, job).Status)

	r, err := ts.NewReindexer(reindex.Config{BatchSize: 2}, nil)
	require.NoError(t, err)
	summary, err := r.Run(ctx, collection.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Chunks)
}

func TestSystem_CleanupSweep(t *testing.T) {
	ctx := context.Background()
	ts := newTestSystem(t)
	collection, err := ts.CreateCollection(ctx, "handbooks", "", "")
	require.NoError(t, err)
	job, err := ts.Ask(ctx, collection.ID, "Anything?", "", 0)
	require.NoError(t, err)
	ts.wait(t, job)

	report, err := ts.Cleanup().SweepWithRetention(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Jobs)

	_, err = ts.Jobs().Get(ctx, job.ID)
	assert.ErrorIs(t, err, core.ErrJobNotFound)
}

func TestSystem_ShutdownIsIdempotent(t *testing.T) {
	ts := newTestSystem(t)
	ts.StartCleanup(context.Background())
	require.NoError(t, ts.Shutdown(time.Second))
	assert.NoError(t, ts.Shutdown(time.Second))
}
