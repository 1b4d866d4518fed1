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

// Package ai provides abstractions for the AI services used by the pipelines.
//
// The package is designed around three interfaces:
//
//   - Embedder: Generates vector embeddings from text
//   - LanguageModel: Generates text (query reformulation, reranking, answers)
//   - AIProvider: Aggregates both for convenient initialization
//
// # Implementation Packages
//
//   - ai/langchain: Production implementation on top of langchaingo, reaching
//     OpenAI-compatible servers, Ollama and Anthropic
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors (langchain.NewProvider, langchain.NewEmbedder, ...) return
// INTERFACE types to enforce abstraction. Test utility constructors
// (mock.NewMockEmbedder, mock.NewMockLanguageModel) return CONCRETE types so
// tests can inject behaviour and inspect call counts.
//
// # Usage Example
//
//	config := ai.NewConfig(ai.WithHost("http://localhost:11434/v1"))
//	provider, err := langchain.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "Hello world")
//	text, err := provider.LanguageModel().Generate(ctx, "Rewrite this query", ai.Deterministic(""))
package ai
