package ingestion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragjobs/ai/mock"
	"github.com/poiesic/ragjobs/converter"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/poiesic/ragjobs/storage/badger"
	"github.com/poiesic/ragjobs/vectorstore"
)

const guide = `# Agent guide

Install the agent with the package manager.

## Configuration

Set the proxy address in agent.toml.

## Logs

Logs rotate daily.
`

// recordingTracker keeps every stage and log line in order.
type recordingTracker struct {
	mu     sync.Mutex
	stages []core.Stage
	logs   []string
}

func (r *recordingTracker) Stage(ctx context.Context, stage core.Stage, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	r.logs = append(r.logs, msg)
	return nil
}

func (r *recordingTracker) Log(ctx context.Context, level core.LogLevel, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, msg)
	return nil
}

type failingConverter struct{ err error }

func (c failingConverter) Convert(context.Context, string, converter.RenderTarget) (*converter.Document, string, error) {
	return nil, "", c.err
}

type fixture struct {
	store     storage.Store
	embedder  *mock.MockEmbedder
	renderDir string
	uploadDir string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	require.NoError(t, store.Collections().CreateCollection(context.Background(), &core.Collection{
		ID:   "col-1",
		Name: "manuals",
	}))
	return &fixture{
		store:     store,
		embedder:  mock.NewMockEmbedder(),
		renderDir: t.TempDir(),
		uploadDir: t.TempDir(),
	}
}

func (f *fixture) pipeline(t *testing.T, conv converter.Converter, opts ...Option) *Pipeline {
	t.Helper()
	vs, err := vectorstore.New(f.store.Chunks(), f.embedder)
	require.NoError(t, err)
	if conv == nil {
		conv = converter.New()
	}
	opts = append([]Option{WithRenderDir(f.renderDir)}, opts...)
	p, err := NewPipeline(f.store.Collections(), f.store.Documents(), conv, vs, opts...)
	require.NoError(t, err)
	return p
}

func (f *fixture) upload(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(f.uploadDir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func ingestionJob(documentID, filename, path string) *core.Job {
	return core.NewJob("job-"+documentID, core.JobTypeInsertion, core.JobInput{Ingestion: &core.IngestionInput{
		DocumentID:     documentID,
		Filename:       filename,
		FilePath:       path,
		CollectionID:   "col-1",
		CollectionName: "manuals",
		UserID:         "user-1",
	}})
}

func stageOf(t *testing.T, err error) *core.StageError {
	t.Helper()
	var stageErr *core.StageError
	require.True(t, errors.As(err, &stageErr), "expected a stage error, got %v", err)
	return stageErr
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	f := newFixture(t)
	vs, err := vectorstore.New(f.store.Chunks(), f.embedder)
	require.NoError(t, err)
	conv := converter.New()

	_, err = NewPipeline(nil, f.store.Documents(), conv, vs)
	assert.ErrorIs(t, err, ErrCollectionRepositoryRequired)
	_, err = NewPipeline(f.store.Collections(), nil, conv, vs)
	assert.ErrorIs(t, err, ErrDocumentRepositoryRequired)
	_, err = NewPipeline(f.store.Collections(), f.store.Documents(), nil, vs)
	assert.ErrorIs(t, err, ErrConverterRequired)
	_, err = NewPipeline(f.store.Collections(), f.store.Documents(), conv, nil)
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
}

func TestRun_IndexesDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, nil, WithEmbeddingModel("nomic-embed-text"))
	tracker := &recordingTracker{}

	out, err := p.Run(ctx, ingestionJob("doc-1", "guide.md", f.upload(t, "guide.md", guide)), tracker)
	require.NoError(t, err)

	result, ok := out.(*core.IngestionResult)
	require.True(t, ok)
	assert.Equal(t, "doc-1", result.DocumentID)
	assert.Equal(t, 3, result.Chunks)
	assert.GreaterOrEqual(t, result.TotalTime, result.EmbeddingTime)

	assert.Equal(t, []core.Stage{
		core.StageConversion,
		core.StageDeduplication,
		core.StageMetadata,
		core.StageChunking,
		core.StageEmbeddings,
		core.StageCommit,
	}, tracker.stages)
	assert.Contains(t, tracker.logs, "document split into 3 chunks")
	assert.Contains(t, tracker.logs, "embedding chunks with nomic-embed-text")

	doc, err := f.store.Documents().GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, doc.IsIndexed)
	assert.Equal(t, "user-1", doc.InsertedBy)
	assert.FileExists(t, filepath.Join(f.renderDir, "manuals", "doc-1.md"))

	n, err := f.store.Chunks().CountChunks(ctx, "col-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRun_DuplicateContentRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, nil)

	_, err := p.Run(ctx, ingestionJob("doc-1", "guide.md", f.upload(t, "guide.md", guide)), &recordingTracker{})
	require.NoError(t, err)

	tracker := &recordingTracker{}
	_, err = p.Run(ctx, ingestionJob("doc-2", "copy.md", f.upload(t, "copy.md", guide)), tracker)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDuplicateContent)

	stageErr := stageOf(t, err)
	assert.Equal(t, core.StageDeduplication, stageErr.Stage)
	assert.Equal(t, core.KindPrecondition, stageErr.Kind)
	assert.Equal(t, core.StageDeduplication, tracker.stages[len(tracker.stages)-1])

	_, err = f.store.Documents().GetDocument(ctx, "doc-2")
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)
	assert.NoFileExists(t, filepath.Join(f.renderDir, "manuals", "doc-2.md"))
}

func TestRun_DedupBeforeConversionSkipsConverter(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.pipeline(t, nil).Run(ctx, ingestionJob("doc-1", "guide.md", f.upload(t, "guide.md", guide)), &recordingTracker{})
	require.NoError(t, err)

	p := f.pipeline(t, failingConverter{err: errors.New("converter must not run")}, WithDedupBeforeConversion(true))
	tracker := &recordingTracker{}
	_, err = p.Run(ctx, ingestionJob("doc-2", "copy.md", f.upload(t, "copy.md", guide)), tracker)
	assert.ErrorIs(t, err, core.ErrDuplicateContent)
	assert.Empty(t, tracker.stages)
}

func TestRun_SameContentInOtherCollection(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	require.NoError(t, f.store.Collections().CreateCollection(ctx, &core.Collection{ID: "col-2", Name: "handbook"}))
	p := f.pipeline(t, nil)

	_, err := p.Run(ctx, ingestionJob("doc-1", "guide.md", f.upload(t, "guide.md", guide)), &recordingTracker{})
	require.NoError(t, err)

	job := ingestionJob("doc-2", "guide.md", f.upload(t, "other.md", guide))
	job.Input.Ingestion.CollectionID = "col-2"
	_, err = p.Run(ctx, job, &recordingTracker{})
	require.NoError(t, err)
}

func TestRun_MissingCollection(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)
	job := ingestionJob("doc-1", "guide.md", f.upload(t, "guide.md", guide))
	job.Input.Ingestion.CollectionID = "nope"

	tracker := &recordingTracker{}
	_, err := p.Run(context.Background(), job, tracker)
	assert.ErrorIs(t, err, core.ErrCollectionNotFound)
	assert.Equal(t, core.KindPrecondition, stageOf(t, err).Kind)
	assert.Empty(t, tracker.stages)
}

func TestRun_ConversionFailure(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, failingConverter{err: errors.New("corrupt xref table")})

	_, err := p.Run(context.Background(), ingestionJob("doc-1", "broken.pdf", f.upload(t, "broken.pdf", "%PDF")), &recordingTracker{})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrDocumentParsing)
	stageErr := stageOf(t, err)
	assert.Equal(t, core.StageConversion, stageErr.Stage)
	assert.Equal(t, core.KindCollaborator, stageErr.Kind)
}

func TestRun_EmbeddingFailureLeavesDocumentUnindexed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("connection refused")
	}
	p := f.pipeline(t, nil)

	_, err := p.Run(ctx, ingestionJob("doc-1", "guide.md", f.upload(t, "guide.md", guide)), &recordingTracker{})
	require.Error(t, err)
	stageErr := stageOf(t, err)
	assert.Equal(t, core.StageEmbeddings, stageErr.Stage)
	assert.Equal(t, core.KindCollaborator, stageErr.Kind)

	doc, err := f.store.Documents().GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.False(t, doc.IsIndexed)
	n, err := f.store.Chunks().CountChunks(ctx, "col-1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.NoFileExists(t, filepath.Join(f.renderDir, "manuals", "doc-1.md"))

	// The unindexed row still holds the content hash.
	f.embedder.Reset()
	f.embedder.EmbedTextsFunc = nil
	_, err = p.Run(ctx, ingestionJob("doc-2", "guide.md", f.upload(t, "again.md", guide)), &recordingTracker{})
	assert.ErrorIs(t, err, core.ErrDuplicateContent)
}

func TestRun_EmptyDocument(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.pipeline(t, nil)

	tracker := &recordingTracker{}
	out, err := p.Run(ctx, ingestionJob("doc-1", "empty.md", f.upload(t, "empty.md", "# Title only\n")), tracker)
	require.NoError(t, err)
	result, ok := out.(*core.IngestionResult)
	require.True(t, ok)
	assert.Zero(t, result.Chunks)
	assert.Equal(t, core.StageCommit, tracker.stages[len(tracker.stages)-1])
	assert.Zero(t, f.embedder.CallCount())

	doc, err := f.store.Documents().GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.True(t, doc.IsIndexed)
}

func TestRun_RemoveUploads(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil, WithRemoveUploads(true))
	path := f.upload(t, "guide.md", guide)

	_, err := p.Run(context.Background(), ingestionJob("doc-1", "guide.md", path), &recordingTracker{})
	require.NoError(t, err)
	assert.NoFileExists(t, path)
}

func TestRun_MissingInput(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(t, nil)

	_, err := p.Run(context.Background(), &core.Job{ID: "j", Type: core.JobTypeInsertion}, &recordingTracker{})
	assert.ErrorIs(t, err, core.ErrInvalidInput)
}
