package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/poiesic/athena/ai"
)

// MockSummarizer is a test double for ai.Summarizer.
type MockSummarizer struct {
	// SummarizeFunc is called by Summarize if set.
	// If nil, the summary is the first line of the text.
	SummarizeFunc func(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error)

	callCount atomic.Int64
}

// NewMockSummarizer creates a mock summarizer with default behavior.
func NewMockSummarizer() *MockSummarizer {
	return &MockSummarizer{}
}

// Summarize returns a short deterministic summary.
func (m *MockSummarizer) Summarize(ctx context.Context, text string, opts ai.SummaryOptions) (*ai.Summary, error) {
	m.callCount.Add(1)

	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, text, opts)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	first, _, _ := strings.Cut(strings.TrimSpace(text), "\n")
	return &ai.Summary{Text: "### Core Problem\n\n" + first, Tags: []string{"mock"}}, nil
}

// CallCount returns the number of times Summarize was called.
func (m *MockSummarizer) CallCount() int {
	return int(m.callCount.Load())
}

// Reset clears the call count and custom functions.
func (m *MockSummarizer) Reset() {
	m.callCount.Store(0)
	m.SummarizeFunc = nil
}
