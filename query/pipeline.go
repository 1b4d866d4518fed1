package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/poiesic/ragjobs/ai"
	"github.com/poiesic/ragjobs/core"
	"github.com/poiesic/ragjobs/storage"
	"github.com/poiesic/ragjobs/vectorstore"
)

const (
	// DefaultTopK is the number of chunks retrieved when a query names none.
	DefaultTopK = 5

	// DefaultParseAttempts bounds how many answers are generated before a
	// malformed reply fails the job.
	DefaultParseAttempts = 3

	// DoneReasonNoDocuments marks a query completed without any retrieved chunk.
	DoneReasonNoDocuments = "no documents found"

	// DoneReasonAnswered marks a query completed with a generated answer.
	DoneReasonAnswered = "stop"
)

// Pipeline runs query jobs.
type Pipeline struct {
	collections   storage.CollectionRepository
	vectors       vectorstore.VectorStore
	llm           ai.LanguageModel
	defaultModel  string
	topK          int
	parseAttempts int
	logger        *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithTopK sets the number of chunks retrieved when the input names none.
func WithTopK(k int) Option {
	return func(p *Pipeline) error {
		if k < 1 {
			return fmt.Errorf("top-k must be positive, got %d", k)
		}
		p.topK = k
		return nil
	}
}

// WithParseAttempts sets how many generations are tried before a malformed
// answer fails the job.
func WithParseAttempts(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			return fmt.Errorf("parse attempts must be positive, got %d", n)
		}
		p.parseAttempts = n
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a query pipeline. defaultModel answers queries that
// name no model and always performs the reranking.
func NewPipeline(
	collections storage.CollectionRepository,
	vectors vectorstore.VectorStore,
	llm ai.LanguageModel,
	defaultModel string,
	opts ...Option,
) (*Pipeline, error) {
	if collections == nil {
		return nil, ErrCollectionRepositoryRequired
	}
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if llm == nil {
		return nil, ErrLanguageModelRequired
	}
	if defaultModel == "" {
		return nil, ErrDefaultModelRequired
	}

	p := &Pipeline{
		collections:   collections,
		vectors:       vectors,
		llm:           llm,
		defaultModel:  defaultModel,
		topK:          DefaultTopK,
		parseAttempts: DefaultParseAttempts,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.logger = p.logger.With("component", "query")
	return p, nil
}

// Run executes the query job and returns its *core.QueryResult.
func (p *Pipeline) Run(ctx context.Context, job *core.Job, tracker core.Tracker) (any, error) {
	in := job.Input.Query
	if in == nil {
		return nil, core.Precondition(core.StageInitialisation, fmt.Errorf("%w: missing query input", core.ErrInvalidInput))
	}
	start := time.Now()

	if _, err := p.collections.GetCollection(ctx, in.CollectionID); err != nil {
		if errors.Is(err, core.ErrCollectionNotFound) {
			return nil, core.Precondition(core.StageInitialisation, err)
		}
		return nil, err
	}

	model := in.Model
	if model == "" {
		model = p.defaultModel
	}
	result := &core.QueryResult{Model: model, Query: in.Query}

	// reformulation
	if err := tracker.Stage(ctx, core.StageReformulation, "reformulating query"); err != nil {
		return nil, err
	}
	reply, err := p.llm.Generate(ctx, buildReformulationPrompt(in.Query), ai.Deterministic(model))
	if err != nil {
		return nil, core.Collaborator(core.StageReformulation, err)
	}
	reformulated := strings.Trim(strings.TrimSpace(reply), `"`)
	if reformulated == "" {
		return nil, core.Precondition(core.StageReformulation, fmt.Errorf("%w: empty reformulation", core.ErrMalformedResponse))
	}
	result.ReformulatedQuery = reformulated

	// retrieval
	if err := tracker.Stage(ctx, core.StageRetrieval, "searching the vector store"); err != nil {
		return nil, err
	}
	topK := in.TopK
	if topK <= 0 {
		topK = p.topK
	}
	hits, err := p.vectors.Search(ctx, in.CollectionID, reformulated, topK)
	if err != nil {
		return nil, core.Collaborator(core.StageRetrieval, err)
	}
	if len(hits) == 0 {
		if err := tracker.Log(ctx, core.LogLevelInfo, "no documents found"); err != nil {
			return nil, err
		}
		result.Response = core.NoDataResponse()
		result.DoneReason = DoneReasonNoDocuments
		result.TotalDuration = time.Since(start).Seconds()
		return result, nil
	}
	if err := tracker.Log(ctx, core.LogLevelInfo, fmt.Sprintf("retrieved %d extracts", len(hits))); err != nil {
		return nil, err
	}

	// reranking
	if err := tracker.Stage(ctx, core.StageReranking, "reranking extracts"); err != nil {
		return nil, err
	}
	reply, err = p.llm.Generate(ctx, buildRerankPrompt(in.Query, hits), ai.Deterministic(p.defaultModel))
	if err != nil {
		return nil, core.Collaborator(core.StageReranking, err)
	}
	ranked := rerank(hits, parseRanking(reply, len(hits)))
	if ranked == nil {
		ranked = hits
		if err := tracker.Log(ctx, core.LogLevelWarning, "reranking returned no usable index, keeping retrieval order"); err != nil {
			return nil, err
		}
	}

	// generation
	if err := tracker.Stage(ctx, core.StageGeneration, fmt.Sprintf("generating answer with %s", model)); err != nil {
		return nil, err
	}
	answer, err := p.generate(ctx, tracker, model, in.Query, ranked)
	if err != nil {
		return nil, err
	}

	result.Response = answer
	result.DoneReason = DoneReasonAnswered
	result.Documents = len(ranked)
	result.TotalDuration = time.Since(start).Seconds()
	if err := tracker.Log(ctx, core.LogLevelInfo, fmt.Sprintf("answered in %.2fs", result.TotalDuration)); err != nil {
		return nil, err
	}
	p.logger.Info("query answered",
		"collection", in.CollectionID,
		"model", model,
		"documents", len(ranked),
		"sources", len(answer.Sources),
		"duration", time.Since(start))
	return result, nil
}

// generate asks for a JSON answer until one parses or attempts run out.
func (p *Pipeline) generate(ctx context.Context, tracker core.Tracker, model, query string, hits []core.SearchHit) (core.Answer, error) {
	opts := ai.Deterministic(model)
	opts.JSON = true
	prompt := buildAnswerPrompt(query, hits)

	var lastErr error
	for attempt := 1; attempt <= p.parseAttempts; attempt++ {
		reply, err := p.llm.Generate(ctx, prompt, opts)
		if err != nil {
			return core.Answer{}, core.Collaborator(core.StageGeneration, err)
		}
		answer, err := parseAnswer(reply)
		if err == nil {
			return answer, nil
		}
		lastErr = err
		p.logger.Debug("unparsable answer", "attempt", attempt, "reply", reply, "err", err)
		if err := tracker.Log(ctx, core.LogLevelWarning, fmt.Sprintf("unparsable answer (attempt %d of %d)", attempt, p.parseAttempts)); err != nil {
			return core.Answer{}, err
		}
	}
	return core.Answer{}, core.Precondition(core.StageGeneration, fmt.Errorf("%w: %v", core.ErrMalformedResponse, lastErr))
}

// rerank reorders hits by order. It returns nil when order is empty.
func rerank(hits []core.SearchHit, order []int) []core.SearchHit {
	if len(order) == 0 {
		return nil
	}
	out := make([]core.SearchHit, len(order))
	for i, idx := range order {
		out[i] = hits[idx]
	}
	return out
}
