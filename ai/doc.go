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


// Package ai provides abstractions for the AI services athena depends on.
//
// This package defines interfaces for text embeddings, paper summarization and
// concept extraction. The pipeline and the semantic store depend on these
// abstractions rather than on concrete model clients.
//
// # Design Principles
//
// The package is designed around four interfaces:
//   - Embedder: Generates vector embeddings from text
//   - Summarizer: Produces a Markdown summary and tags for a paper
//   - ConceptExtractor: Extracts key concept phrases with a confidence
//   - AIProvider: Aggregates AI services for convenient initialization
//
// CachingSummarizer memoizes summaries in any storage.Cache so a paper seen in
// several searches is summarized once.
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/wikilink: Concept extraction from [[wikilink]] markup in summaries
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Constructor Return Type Pattern
//
// Public constructors in ai/openai return INTERFACE types to prevent coupling
// to a concrete client:
//
//	provider, err := openai.NewProvider(config)  // returns ai.AIProvider
//
// Test utility constructors return CONCRETE types so tests can inject behavior
// and assert on calls:
//
//	mockEmbed := mock.NewMockEmbedder()  // returns *mock.MockEmbedder
//	mockEmbed.EmbedTextFunc = ...
//	count := mockEmbed.CallCount()
//
// # Usage Example
//
//	config := ai.DefaultConfig()
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	summary, err := provider.Summarizer().Summarize(ctx, text, config.SummaryOptions())
package ai
