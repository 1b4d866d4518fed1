package langchain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragjobs/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder implements ai.Embedder using a langchaingo embedding client.
type Embedder struct {
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// newEmbedder is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var client embeddings.EmbedderClient
	switch config.EmbeddingProvider {
	case ai.ProviderOllama:
		llm, err := ollama.New(
			ollama.WithServerURL(config.EmbeddingHost),
			ollama.WithModel(config.EmbeddingModel),
		)
		if err != nil {
			return nil, err
		}
		client = llm
	case ai.ProviderOpenAI:
		// Local OpenAI-compatible services accept any token
		llm, err := openai.New(
			openai.WithBaseURL(config.EmbeddingHost),
			openai.WithToken(tokenOrNone(config.APIKey)),
			openai.WithEmbeddingModel(config.EmbeddingModel),
		)
		if err != nil {
			return nil, err
		}
		client = llm
	default:
		return nil, fmt.Errorf("embedding provider %q not supported", config.EmbeddingProvider)
	}

	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		logger:   slog.Default().With("component", "langchain-embedder", "provider", config.EmbeddingProvider),
	}, nil
}

// NewEmbedder creates a new embedder using the provided configuration.
//
// Returns ai.Embedder interface to enforce abstraction.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText generates a vector embedding for a single text string.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	e.logger.Debug("generating embedding for single text", "length", len(text))

	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("failed to generate embedding", "err", err)
		return nil, err
	}

	return vector, nil
}

// EmbedTexts generates vector embeddings for multiple text strings in a batch.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	e.logger.Debug("generating embeddings for texts", "count", len(texts))

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(texts), "err", err)
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}

	return vectors, nil
}

func tokenOrNone(key string) string {
	if key == "" {
		return "none"
	}
	return key
}
