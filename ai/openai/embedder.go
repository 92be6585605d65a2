package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/athena/ai"
	"github.com/poiesic/athena/core"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	// maxEmbeddingRunes bounds one embedded text. Paper text is title, abstract and
	// summary; anything past this is beyond what sentence-embedding models attend to.
	maxEmbeddingRunes = 8000

	// embeddingBatchSize is the number of texts sent per embeddings request.
	embeddingBatchSize = 64
)

// Embedder implements ai.Embedder over an OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

func newEmbedder(config *ai.Config) (*Embedder, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.APIKey),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(embeddingBatchSize),
	)
	if err != nil {
		return nil, err
	}

	return &Embedder{
		embedder: embedder,
		model:    config.EmbeddingModel,
		logger:   slog.Default().With("component", "openai-embedder", "model", config.EmbeddingModel),
	}, nil
}

// NewEmbedder creates an embedder for config.EmbeddingModel.
func NewEmbedder(config *ai.Config) (ai.Embedder, error) {
	return newEmbedder(config)
}

// EmbedText embeds one text.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedTexts embeds texts in request-sized batches, one vector per text in order.
// Control characters left by PDF extraction are removed and long texts are cut
// to maxEmbeddingRunes before sending.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	truncated := 0
	for i, text := range texts {
		clean := scrubString(text)
		inputs[i] = truncateRunes(clean, maxEmbeddingRunes)
		if len(inputs[i]) < len(clean) {
			truncated++
		}
	}
	if truncated > 0 {
		e.logger.Debug("truncated long texts before embedding", "count", truncated, "maxRunes", maxEmbeddingRunes)
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, inputs)
	if err != nil {
		e.logger.Error("failed to generate embeddings", "count", len(inputs), "err", err)
		return nil, classifyError(err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts",
			core.ErrTransientProvider, e.model, len(vectors), len(inputs))
	}
	return vectors, nil
}
