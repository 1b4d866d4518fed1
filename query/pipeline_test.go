package query

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragjobs/ai"
	"github.com/poiesic/ragjobs/ai/mock"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/poiesic/ragjobs/storage/badger"
)

type stubVectors struct {
	hits     []core.SearchHit
	err      error
	gotQuery string
	gotTopK  int
}

func (s *stubVectors) Embed(context.Context, string, []core.Chunk) error { return nil }

func (s *stubVectors) Search(ctx context.Context, collectionID, query string, topK int) ([]core.SearchHit, error) {
	s.gotQuery, s.gotTopK = query, topK
	if s.err != nil {
		return nil, s.err
	}
	if len(s.hits) > topK {
		return s.hits[:topK], nil
	}
	return s.hits, nil
}

func (s *stubVectors) Delete(context.Context, string) (int, error) { return 0, nil }

type recordingTracker struct {
	mu     sync.Mutex
	stages []core.Stage
	logs   []string
}

func (r *recordingTracker) Stage(ctx context.Context, stage core.Stage, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	return nil
}

func (r *recordingTracker) Log(ctx context.Context, level core.LogLevel, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, msg)
	return nil
}

// scriptedModel answers each prompt kind with a fixed reply.
type scriptedModel struct {
	reformulation string
	ranking       string
	answers       []string
	err           map[string]error
}

func (s *scriptedModel) install(m *mock.MockLanguageModel) {
	answerCalls := 0
	m.GenerateFunc = func(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
		switch {
		case strings.HasPrefix(prompt, "You are an assistant specialised"):
			return s.reformulation, s.err["reformulation"]
		case strings.HasPrefix(prompt, "You are the reranking engine"):
			return s.ranking, s.err["ranking"]
		default:
			if err := s.err["answer"]; err != nil {
				return "", err
			}
			reply := s.answers[min(answerCalls, len(s.answers)-1)]
			answerCalls++
			return reply, nil
		}
	}
}

var sampleHits = []core.SearchHit{
	{Chunk: core.Chunk{ID: "k0", Filename: "guide.md", SectionPath: "Install", Text: "Use the package manager."}, Score: 0.9},
	{Chunk: core.Chunk{ID: "k1", Filename: "guide.md", SectionPath: "Logs", Pages: []int{4}, Text: "Logs rotate daily."}, Score: 0.8},
	{Chunk: core.Chunk{ID: "k2", Filename: "faq.pdf", SectionPath: "Misc", Text: "Unrelated."}, Score: 0.7},
}

const goodAnswer = `{"answer": "Logs rotate daily.", "sources": [{"filename": "guide.md", "section": "Logs", "pages": [4]}]}`

func newCollections(t *testing.T) storage.CollectionRepository {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Collections().CreateCollection(context.Background(), &core.Collection{ID: "col-1", Name: "manuals"}))
	return store.Collections()
}

func newPipeline(t *testing.T, vectors *stubVectors, script *scriptedModel, opts ...Option) (*Pipeline, *mock.MockLanguageModel) {
	t.Helper()
	llm := mock.NewMockLanguageModel("")
	script.install(llm)
	p, err := NewPipeline(newCollections(t), vectors, llm, "llama3", opts...)
	require.NoError(t, err)
	return p, llm
}

func queryJob(q string) *core.Job {
	return core.NewJob("job-1", core.JobTypeQuery, core.JobInput{Query: &core.QueryInput{
		Query:        q,
		CollectionID: "col-1",
	}})
}

func TestNewPipeline_RequiresDependencies(t *testing.T) {
	llm := mock.NewMockLanguageModel("")
	cols := newCollections(t)

	_, err := NewPipeline(nil, &stubVectors{}, llm, "m")
	assert.ErrorIs(t, err, ErrCollectionRepositoryRequired)
	_, err = NewPipeline(cols, nil, llm, "m")
	assert.ErrorIs(t, err, ErrVectorStoreRequired)
	_, err = NewPipeline(cols, &stubVectors{}, nil, "m")
	assert.ErrorIs(t, err, ErrLanguageModelRequired)
	_, err = NewPipeline(cols, &stubVectors{}, llm, "")
	assert.ErrorIs(t, err, ErrDefaultModelRequired)
	_, err = NewPipeline(cols, &stubVectors{}, llm, "m", WithTopK(0))
	assert.Error(t, err)
}

func TestRun_Answers(t *testing.T) {
	vectors := &stubVectors{hits: sampleHits}
	p, llm := newPipeline(t, vectors, &scriptedModel{
		reformulation: ` "log rotation schedule" `,
		ranking:       "1, 0",
		answers:       []string{goodAnswer},
	})
	tracker := &recordingTracker{}

	out, err := p.Run(context.Background(), queryJob("how often do logs rotate?"), tracker)
	require.NoError(t, err)

	result := out.(*core.QueryResult)
	assert.Equal(t, "llama3", result.Model)
	assert.Equal(t, "how often do logs rotate?", result.Query)
	assert.Equal(t, "log rotation schedule", result.ReformulatedQuery)
	assert.Equal(t, DoneReasonAnswered, result.DoneReason)
	assert.Equal(t, 2, result.Documents)
	assert.Equal(t, "Logs rotate daily.", result.Response.Answer)
	assert.Equal(t, []core.Source{{Filename: "guide.md", Section: "Logs", Pages: []int{4}}}, result.Response.Sources)

	assert.Equal(t, []core.Stage{core.StageReformulation, core.StageRetrieval, core.StageReranking, core.StageGeneration}, tracker.stages)
	assert.Equal(t, "log rotation schedule", vectors.gotQuery)
	assert.Equal(t, DefaultTopK, vectors.gotTopK)

	calls := llm.Calls()
	require.Len(t, calls, 3)
	assert.Contains(t, calls[1].Prompt, "how often do logs rotate?", "reranking uses the original question")
	assert.Zero(t, calls[0].Options.Temperature)
	assert.True(t, calls[2].Options.JSON)

	answerPrompt := calls[2].Prompt
	assert.Less(t, strings.Index(answerPrompt, "Logs rotate daily."), strings.Index(answerPrompt, "Use the package manager."))
	assert.NotContains(t, answerPrompt, "Unrelated.")
}

func TestRun_InputModelAndTopK(t *testing.T) {
	vectors := &stubVectors{hits: sampleHits}
	p, llm := newPipeline(t, vectors, &scriptedModel{reformulation: "q", ranking: "0", answers: []string{goodAnswer}})

	job := queryJob("q")
	job.Input.Query.Model = "mistral"
	job.Input.Query.TopK = 2
	out, err := p.Run(context.Background(), job, &recordingTracker{})
	require.NoError(t, err)
	assert.Equal(t, "mistral", out.(*core.QueryResult).Model)
	assert.Equal(t, 2, vectors.gotTopK)

	calls := llm.Calls()
	assert.Equal(t, "mistral", calls[0].Options.Model)
	assert.Equal(t, "llama3", calls[1].Options.Model, "reranking uses the default model")
	assert.Equal(t, "mistral", calls[2].Options.Model)
}

func TestRun_NoDocumentsCompletes(t *testing.T) {
	p, llm := newPipeline(t, &stubVectors{}, &scriptedModel{reformulation: "q"})
	tracker := &recordingTracker{}

	out, err := p.Run(context.Background(), queryJob("anything?"), tracker)
	require.NoError(t, err)

	result := out.(*core.QueryResult)
	assert.Equal(t, core.NoDataResponse(), result.Response)
	assert.Equal(t, DoneReasonNoDocuments, result.DoneReason)
	assert.Zero(t, result.Documents)
	assert.Equal(t, []core.Stage{core.StageReformulation, core.StageRetrieval}, tracker.stages)
	assert.Equal(t, 1, llm.CallCount())
}

func TestRun_EmptyRankingKeepsRetrievalOrder(t *testing.T) {
	p, llm := newPipeline(t, &stubVectors{hits: sampleHits}, &scriptedModel{reformulation: "q", ranking: "none of them", answers: []string{goodAnswer}})
	tracker := &recordingTracker{}

	out, err := p.Run(context.Background(), queryJob("q"), tracker)
	require.NoError(t, err)
	assert.Equal(t, 3, out.(*core.QueryResult).Documents)
	assert.Contains(t, tracker.logs, "reranking returned no usable index, keeping retrieval order")

	answerPrompt := llm.Calls()[2].Prompt
	assert.Less(t, strings.Index(answerPrompt, "Use the package manager."), strings.Index(answerPrompt, "Unrelated."))
}

func TestRun_ReformulationFailures(t *testing.T) {
	t.Run("model error", func(t *testing.T) {
		p, _ := newPipeline(t, &stubVectors{}, &scriptedModel{err: map[string]error{"reformulation": errors.New("timeout")}})
		_, err := p.Run(context.Background(), queryJob("q"), &recordingTracker{})
		var stageErr *core.StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, core.StageReformulation, stageErr.Stage)
		assert.Equal(t, core.KindCollaborator, stageErr.Kind)
	})

	t.Run("empty rewrite", func(t *testing.T) {
		p, _ := newPipeline(t, &stubVectors{}, &scriptedModel{reformulation: "  \"\" "})
		_, err := p.Run(context.Background(), queryJob("q"), &recordingTracker{})
		assert.ErrorIs(t, err, core.ErrMalformedResponse)
	})
}

func TestRun_RetrievalFailure(t *testing.T) {
	p, _ := newPipeline(t, &stubVectors{err: errors.New("index offline")}, &scriptedModel{reformulation: "q"})
	_, err := p.Run(context.Background(), queryJob("q"), &recordingTracker{})
	var stageErr *core.StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, core.StageRetrieval, stageErr.Stage)
	assert.Equal(t, core.KindCollaborator, stageErr.Kind)
}

func TestRun_MalformedAnswer(t *testing.T) {
	t.Run("retries then succeeds", func(t *testing.T) {
		p, llm := newPipeline(t, &stubVectors{hits: sampleHits}, &scriptedModel{
			reformulation: "q", ranking: "0", answers: []string{"not json", goodAnswer},
		})
		tracker := &recordingTracker{}
		_, err := p.Run(context.Background(), queryJob("q"), tracker)
		require.NoError(t, err)
		assert.Equal(t, 4, llm.CallCount())
		assert.Contains(t, tracker.logs, "unparsable answer (attempt 1 of 3)")
	})

	t.Run("gives up", func(t *testing.T) {
		p, llm := newPipeline(t, &stubVectors{hits: sampleHits}, &scriptedModel{
			reformulation: "q", ranking: "0", answers: []string{"still not json"},
		}, WithParseAttempts(2))
		_, err := p.Run(context.Background(), queryJob("q"), &recordingTracker{})
		assert.ErrorIs(t, err, core.ErrMalformedResponse)
		var stageErr *core.StageError
		require.ErrorAs(t, err, &stageErr)
		assert.Equal(t, core.StageGeneration, stageErr.Stage)
		assert.Equal(t, core.KindPrecondition, stageErr.Kind)
		assert.Equal(t, 4, llm.CallCount())
	})
}

func TestRun_MissingCollection(t *testing.T) {
	p, llm := newPipeline(t, &stubVectors{}, &scriptedModel{})
	job := queryJob("q")
	job.Input.Query.CollectionID = "gone"

	_, err := p.Run(context.Background(), job, &recordingTracker{})
	assert.ErrorIs(t, err, core.ErrCollectionNotFound)
	assert.Zero(t, llm.CallCount())
}
