package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, ProviderOpenAI, cfg.EmbeddingProvider)
	assert.Equal(t, ProviderOpenAI, cfg.LLMProvider)
	assert.Equal(t, "http://localhost:11434/v1", cfg.EmbeddingHost)
	assert.Equal(t, "http://localhost:11434/v1", cfg.LLMHost)
	assert.Equal(t, "nomic-embed-text", cfg.EmbeddingModel)
	assert.Equal(t, "qwen2.5:7b", cfg.LLMModel)
	require.NoError(t, cfg.Validate())
}

func TestNewConfig(t *testing.T) {
	t.Run("with no options", func(t *testing.T) {
		cfg := NewConfig()
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("with custom host", func(t *testing.T) {
		cfg := NewConfig(WithHost("http://custom:8080/v1"))

		assert.Equal(t, "http://custom:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://custom:8080/v1", cfg.LLMHost)
	})

	t.Run("with separate hosts", func(t *testing.T) {
		cfg := NewConfig(
			WithEmbeddingHost("http://embed:8080/v1"),
			WithLLMHost("http://generate:9090/v1"),
		)

		assert.Equal(t, "http://embed:8080/v1", cfg.EmbeddingHost)
		assert.Equal(t, "http://generate:9090/v1", cfg.LLMHost)
	})

	t.Run("with multiple options", func(t *testing.T) {
		cfg := NewConfig(
			WithProvider(ProviderOllama),
			WithEmbeddingModel("custom-embed"),
			WithLLMModel("custom-llm"),
			WithAPIKey("secret"),
		)

		assert.Equal(t, ProviderOllama, cfg.EmbeddingProvider)
		assert.Equal(t, ProviderOllama, cfg.LLMProvider)
		assert.Equal(t, "custom-embed", cfg.EmbeddingModel)
		assert.Equal(t, "custom-llm", cfg.LLMModel)
		assert.Equal(t, "secret", cfg.APIKey)
	})
}

func TestConfigNormalize(t *testing.T) {
	tests := []struct {
		name     string
		provider Provider
		host     string
		want     string
	}{
		{"openai adds v1", ProviderOpenAI, "http://localhost:11434", "http://localhost:11434/v1"},
		{"openai trailing slash", ProviderOpenAI, "http://localhost:11434/", "http://localhost:11434/v1"},
		{"openai keeps v1", ProviderOpenAI, "http://localhost:11434/v1", "http://localhost:11434/v1"},
		{"ollama strips v1", ProviderOllama, "http://localhost:11434/v1", "http://localhost:11434"},
		{"ollama untouched", ProviderOllama, "http://localhost:11434", "http://localhost:11434"},
		{"empty stays empty", ProviderOpenAI, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig(WithProvider(tt.provider), WithHost(tt.host))
			cfg.Normalize()
			assert.Equal(t, tt.want, cfg.EmbeddingHost)
			assert.Equal(t, tt.want, cfg.LLMHost)
		})
	}

	t.Run("provider case is folded", func(t *testing.T) {
		cfg := NewConfig(WithProvider("OLLAMA"))
		cfg.Normalize()
		assert.Equal(t, ProviderOllama, cfg.LLMProvider)
	})
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    []ConfigOption
		wantErr string
	}{
		{"valid default", nil, ""},
		{"missing embedding host", []ConfigOption{WithEmbeddingHost("")}, "EmbeddingHost is required"},
		{"missing llm host", []ConfigOption{WithLLMHost("")}, "LLMHost is required"},
		{"missing embedding model", []ConfigOption{WithEmbeddingModel("")}, "EmbeddingModel is required"},
		{"missing llm model", []ConfigOption{WithLLMModel("")}, "LLMModel is required"},
		{"anthropic embeddings unsupported", []ConfigOption{WithProvider(ProviderAnthropic)}, "unsupported embedding provider"},
		{"unknown llm provider", []ConfigOption{WithLLMProvider("bard")}, "unsupported llm provider"},
		{"anthropic needs key", []ConfigOption{WithLLMProvider(ProviderAnthropic)}, "APIKey is required"},
		{"anthropic with key", []ConfigOption{WithLLMProvider(ProviderAnthropic), WithAPIKey("k"), WithLLMHost("")}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewConfig(tt.opts...).Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
