package openai

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var blankLinesPattern = regexp.MustCompile(`\n{3,}`)

// Summarizer implements ai.Summarizer using OpenAI-compatible chat APIs.
type Summarizer struct {
	client llms.Model
	logger *slog.Logger
}

// summaryResponse is the JSON the model is asked for.
// Some models answer with gpt_summary instead of summary.
type summaryResponse struct {
	Tags       []string `json:"tags"`
	Summary    string   `json:"summary"`
	GPTSummary string   `json:"gpt_summary"`
}

func (r summaryResponse) text() string {
	if r.GPTSummary != "" {
		return r.GPTSummary
	}
	return r.Summary
}

// newSummarizer is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newSummarizer(config *ai.Config) (*Summarizer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.ChatHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.SummaryModel),
	)
	if err != nil {
		return nil, err
	}

	return &Summarizer{
		client: client,
		logger: slog.Default().With("component", "openai-summarizer"),
	}, nil
}

// NewSummarizer creates a new summarizer using the provided configuration.
//
// Returns ai.Summarizer interface to enforce abstraction.
func NewSummarizer(config *ai.Config) (ai.Summarizer, error) {
	return newSummarizer(config)
}

// Summarize asks the model for tags and a Markdown summary of text.
func (s *Summarizer) Summarize(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: nothing to summarize", core.ErrInvalidInput)
	}

	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, summarySystemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, buildSummaryPrompt(text)),
	}

	callOpts := []llms.CallOption{llms.WithTemperature(opts.Temperature), llms.WithJSONMode()}
	if opts.Model != "" {
		callOpts = append(callOpts, llms.WithModel(opts.Model))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	response, err := s.client.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		s.logger.Error("failed to generate summary", "err", err)
		return nil, classifyError(err)
	}
	if len(response.Choices) < 1 || strings.TrimSpace(response.Choices[0].Content) == "" {
		s.logger.Warn("model returned an empty summary")
		return nil, fmt.Errorf("%w: empty summary response", core.ErrTransientProvider)
	}

	summary := parseSummary(response.Choices[0].Content, s.logger)
	s.logger.Debug("generated summary", "length", len(summary.Text), "tags", len(summary.Tags))
	return summary, nil
}

// parseSummary extracts tags and summary from model output.
//
// It tolerates output wrapped in quotes, code fences or chatter around the JSON
// object, and summaries that themselves contain the whole JSON object. Output
// that cannot be parsed at all is kept verbatim as the summary.
func parseSummary(raw string, logger *slog.Logger) *ai.Summary {
	var parsed summaryResponse
	if err := decodeModelJSON(raw, &parsed, logger); err != nil {
		logger.Warn("failed to parse summary JSON, keeping raw text", "err", err)
		return &ai.Summary{Text: strings.TrimSpace(raw)}
	}

	text, tags := parsed.text(), parsed.Tags
	if len(tags) == 0 {
		if inner, innerTags, ok := unwrapEmbeddedSummary(text, logger); ok {
			text, tags = inner, innerTags
		}
	}

	if strings.TrimSpace(text) == "" {
		logger.Warn("summary extracted but is empty")
	}

	return &ai.Summary{Text: formatSummary(text), Tags: cleanTags(tags)}
}

// formatSummary turns single newlines into paragraph breaks and collapses runs of blank lines.
func formatSummary(text string) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", "\n\n"))
	return blankLinesPattern.ReplaceAllString(text, "\n\n")
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		key := strings.ToLower(tag)
		if tag == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, tag)
	}
	return out
}
