package embeddings

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
)

// ollamaProvider talks to a local Ollama instance, which embeds one text
// per call. The run loop drives it through EmbedOne with a pause between
// calls.
type ollamaProvider struct {
	embedder embeddings.Embedder
	model    string
}

func newOllamaProvider(cfg ProviderConfig) (*ollamaProvider, error) {
	llm, err := ollama.New(
		ollama.WithModel(cfg.Model),
		ollama.WithServerURL(cfg.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama embedder: %w", err)
	}

	return &ollamaProvider{embedder: embedder, model: cfg.Model}, nil
}

func (p *ollamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vector, err := p.EmbedOne(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

func (p *ollamaProvider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, classifyProviderError(err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}
	return vectors[0], nil
}

func (p *ollamaProvider) SupportsBatch() bool { return false }

func (p *ollamaProvider) isProvider() {}
