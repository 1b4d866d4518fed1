// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ai

import (
	"errors"
	"fmt"
	"strings"
)

// Config holds configuration for AI service providers.
type Config struct {
	// EmbeddingProvider selects the embedding backend. Anthropic is not supported here.
	EmbeddingProvider Provider

	// LLMProvider selects the generation backend.
	LLMProvider Provider

	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// LLMHost is the base URL for the generation service API.
	LLMHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "nomic-embed-text", "text-embedding-3-small"
	EmbeddingModel string

	// LLMModel is the default generation model, used for reranking and when a
	// query names no model.
	// Example: "qwen2.5:7b", "gpt-4o-mini"
	LLMModel string

	// APIKey authenticates against hosted providers. Local servers accept any value.
	APIKey string
}

// ConfigOption is a functional option for configuring a Config.
type ConfigOption func(*Config)

// WithEmbeddingHost sets the embedding service host URL.
func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

// WithLLMHost sets the generation service host URL.
func WithLLMHost(host string) ConfigOption {
	return func(c *Config) {
		c.LLMHost = host
	}
}

// WithHost sets both embedding and generation hosts to the same URL.
func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.LLMHost = host
	}
}

// WithProvider sets both embedding and generation providers.
func WithProvider(p Provider) ConfigOption {
	return func(c *Config) {
		c.EmbeddingProvider = p
		c.LLMProvider = p
	}
}

// WithLLMProvider sets the generation provider only.
func WithLLMProvider(p Provider) ConfigOption {
	return func(c *Config) {
		c.LLMProvider = p
	}
}

// WithEmbeddingModel sets the embedding model identifier.
func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

// WithLLMModel sets the default generation model identifier.
func WithLLMModel(model string) ConfigOption {
	return func(c *Config) {
		c.LLMModel = model
	}
}

// WithAPIKey sets the API key for hosted providers.
func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

// DefaultConfig returns a Config with sensible defaults for a local OpenAI-compatible server.
func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingProvider: ProviderOpenAI,
		LLMProvider:       ProviderOpenAI,
		EmbeddingHost:     defaultHost,
		LLMHost:           defaultHost,
		EmbeddingModel:    "nomic-embed-text",
		LLMModel:          "qwen2.5:7b",
	}
}

// NewConfig creates a Config with the default values and applies the provided options.
//
// Example:
//
//	cfg := NewConfig(
//	    WithHost("http://localhost:11434/v1"),
//	    WithLLMModel("mistral"),
//	)
func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Normalize ensures the configuration is in a canonical form.
// OpenAI-compatible hosts get a /v1 suffix; Ollama's native API must not have one.
func (c *Config) Normalize() {
	c.EmbeddingProvider = Provider(strings.ToLower(string(c.EmbeddingProvider)))
	c.LLMProvider = Provider(strings.ToLower(string(c.LLMProvider)))
	c.EmbeddingHost = normalizeHost(c.EmbeddingProvider, c.EmbeddingHost)
	c.LLMHost = normalizeHost(c.LLMProvider, c.LLMHost)
}

func normalizeHost(p Provider, host string) string {
	if host == "" {
		return host
	}
	host = strings.TrimSuffix(host, "/")
	switch p {
	case ProviderOpenAI:
		if !strings.HasSuffix(host, "/v1") {
			host += "/v1"
		}
	case ProviderOllama:
		host = strings.TrimSuffix(host, "/v1")
	}
	return host
}

// Validate checks that the configuration is valid and complete.
// It automatically normalizes the configuration before validation.
func (c *Config) Validate() error {
	c.Normalize()

	switch c.EmbeddingProvider {
	case ProviderOpenAI, ProviderOllama:
	default:
		return fmt.Errorf("ai config: unsupported embedding provider %q", c.EmbeddingProvider)
	}
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderOllama, ProviderAnthropic:
	default:
		return fmt.Errorf("ai config: unsupported llm provider %q", c.LLMProvider)
	}
	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.LLMHost == "" && c.LLMProvider != ProviderAnthropic {
		return errors.New("ai config: LLMHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.LLMModel == "" {
		return errors.New("ai config: LLMModel is required")
	}
	if c.LLMProvider == ProviderAnthropic && c.APIKey == "" {
		return errors.New("ai config: APIKey is required for anthropic")
	}
	return nil
}
