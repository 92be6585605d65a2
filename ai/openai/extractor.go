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


package openai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// ConceptExtractor implements ai.ConceptExtractor using OpenAI-compatible chat APIs.
type ConceptExtractor struct {
	client        llms.Model
	minConfidence float32
	logger        *slog.Logger
}

// concept is an internal type used for JSON unmarshaling.
// It matches the structure expected by the LLM.
type concept struct {
	Phrase     string  `json:"phrase"`
	Confidence float32 `json:"confidence"`
}

// analysis is the wrapper structure for the LLM's JSON response.
type analysis struct {
	Concepts []concept `json:"concepts"`
}

// newConceptExtractor is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newConceptExtractor(config *ai.Config) (*ConceptExtractor, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.ConceptModel),
	)
	if err != nil {
		return nil, err
	}

	return &ConceptExtractor{
		client:        client,
		minConfidence: config.MinConfidence,
		logger:        slog.Default().With("component", "openai-extractor"),
	}, nil
}

// NewConceptExtractor creates a new concept extractor using the provided configuration.
//
// Returns ai.ConceptExtractor interface to enforce abstraction.
func NewConceptExtractor(config *ai.Config) (ai.ConceptExtractor, error) {
	return newConceptExtractor(config)
}

// ExtractConcepts extracts concept phrases from text using an LLM.
// Concepts below the minimum confidence are dropped; the rest keep the model's order.
func (e *ConceptExtractor) ExtractConcepts(ctx context.Context, text string) ([]ai.ExtractedConcept, error) {
	text = truncateRunes(scrubString(text), maxPromptRunes)
	if text == "" {
		return []ai.ExtractedConcept{}, nil
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, buildConceptPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, text),
	}

	// Try up to 3 times in case of malformed JSON
	var result analysis
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := e.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			e.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return nil, classifyError(err)
		}

		if len(response.Choices) < 1 {
			e.logger.Debug("no choices returned from model")
			return []ai.ExtractedConcept{}, nil
		}

		if err := decodeModelJSON(response.Choices[0].Content, &result, e.logger); err != nil {
			lastErr = err
			e.logger.Warn("error parsing extractor response", "attempt", attempt+1, "err", err)
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		e.logger.Error("failed to parse extractor response after retries", "err", lastErr)
		return nil, fmt.Errorf("%w: unparseable concept response: %w", core.ErrTransientProvider, lastErr)
	}

	extracted := filterConcepts(result.Concepts, e.minConfidence)
	e.logger.Debug("extracted concepts", "total", len(result.Concepts), "filtered", len(extracted))
	return extracted, nil
}

// filterConcepts clamps confidences, drops low-confidence and empty phrases,
// and removes case-insensitive duplicates keeping the first occurrence.
func filterConcepts(concepts []concept, minConfidence float32) []ai.ExtractedConcept {
	extracted := make([]ai.ExtractedConcept, 0, len(concepts))
	seen := make(map[string]int, len(concepts))
	for _, c := range concepts {
		phrase := strings.Join(strings.Fields(c.Phrase), " ")
		if phrase == "" {
			continue
		}
		confidence := min(max(c.Confidence, 0), 1)
		if confidence < minConfidence {
			continue
		}
		key := strings.ToLower(phrase)
		if idx, ok := seen[key]; ok {
			if confidence > extracted[idx].Confidence {
				extracted[idx].Confidence = confidence
			}
			continue
		}
		seen[key] = len(extracted)
		extracted = append(extracted, ai.ExtractedConcept{Phrase: phrase, Confidence: confidence})
	}
	return extracted
}
