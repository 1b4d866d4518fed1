package langchain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/ragjobs/ai"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// ErrEmptyResponse is returned when the model produced no choices.
var ErrEmptyResponse = errors.New("model returned no choices")

// LanguageModel implements ai.LanguageModel using a langchaingo chat model.
type LanguageModel struct {
	client       llms.Model
	defaultModel string
	logger       *slog.Logger
}

// newLanguageModel is an internal constructor that returns the concrete type.
func newLanguageModel(config *ai.Config) (*LanguageModel, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := newChatClient(config)
	if err != nil {
		return nil, err
	}

	return &LanguageModel{
		client:       client,
		defaultModel: config.LLMModel,
		logger:       slog.Default().With("component", "langchain-llm", "provider", config.LLMProvider),
	}, nil
}

// NewLanguageModel creates a new language model using the provided configuration.
//
// Returns ai.LanguageModel interface to enforce abstraction.
func NewLanguageModel(config *ai.Config) (ai.LanguageModel, error) {
	return newLanguageModel(config)
}

func newChatClient(config *ai.Config) (llms.Model, error) {
	switch config.LLMProvider {
	case ai.ProviderOllama:
		return ollama.New(
			ollama.WithServerURL(config.LLMHost),
			ollama.WithModel(config.LLMModel),
		)
	case ai.ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(config.APIKey),
			anthropic.WithModel(config.LLMModel),
		}
		if config.LLMHost != "" {
			opts = append(opts, anthropic.WithBaseURL(config.LLMHost))
		}
		return anthropic.New(opts...)
	case ai.ProviderOpenAI:
		return openai.New(
			openai.WithBaseURL(config.LLMHost),
			openai.WithToken(tokenOrNone(config.APIKey)),
			openai.WithModel(config.LLMModel),
		)
	default:
		return nil, fmt.Errorf("llm provider %q not supported", config.LLMProvider)
	}
}

// Generate sends prompt to the model and returns the first choice's text.
func (m *LanguageModel) Generate(ctx context.Context, prompt string, opts ai.GenerateOptions) (string, error) {
	content := buildMessages(prompt, opts.System)
	callOpts := buildCallOptions(m.defaultModel, opts)

	m.logger.Debug("generating content", "model", modelName(m.defaultModel, opts), "json", opts.JSON, "length", len(prompt))

	response, err := m.client.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		m.logger.Error("failed to generate content", "err", err)
		return "", err
	}
	if len(response.Choices) < 1 {
		return "", ErrEmptyResponse
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}

func buildMessages(prompt, system string) []llms.MessageContent {
	content := make([]llms.MessageContent, 0, 2)
	if system != "" {
		content = append(content, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		})
	}
	return append(content, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(prompt)},
	})
}

func buildCallOptions(defaultModel string, opts ai.GenerateOptions) []llms.CallOption {
	callOpts := []llms.CallOption{
		llms.WithModel(modelName(defaultModel, opts)),
		llms.WithTemperature(opts.Temperature),
	}
	if opts.JSON {
		callOpts = append(callOpts, llms.WithJSONMode())
	}
	return callOpts
}

func modelName(defaultModel string, opts ai.GenerateOptions) string {
	if opts.Model != "" {
		return opts.Model
	}
	return defaultModel
}
