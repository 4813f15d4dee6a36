// Package embedding turns text into vectors. Two backends exist: the
// OpenAI embeddings API for deployments with credentials, and a local
// Ollama instance for air-gapped setups. Both honor the batch ceiling
// and preserve input order.
package embedding

import (
	"context"
	"fmt"

	"github.com/blueberrycongee/ragmux/internal/config"
)

// maxBatchSize is the largest input slice sent upstream in one call.
// Larger batches are split transparently.
const maxBatchSize = 100

// Provider produces embedding vectors for text.
type Provider interface {
	// Name identifies the backend in logs.
	Name() string

	// EmbedText embeds a single string with the given model.
	EmbedText(ctx context.Context, model, text string) ([]float32, error)

	// EmbedBatch embeds a slice of strings, preserving order. Inputs
	// beyond the batch ceiling are split into sequential upstream calls.
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// NewProvider selects a backend from global config.
func NewProvider(cfg config.EmbeddingConfig) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg.APIKey, cfg.BaseURL), nil
	case "ollama":
		return NewOllama(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}

// VerifyDimension embeds a probe string and checks the vector length
// against the tenant's declared dimension. Run at startup for every
// tenant: a mismatch means stored vectors are unsearchable, which is a
// configuration error and fatal.
func VerifyDimension(ctx context.Context, p Provider, model string, want int) error {
	vec, err := p.EmbedText(ctx, model, "dimension probe")
	if err != nil {
		return fmt.Errorf("probe embedding with model %s: %w", model, err)
	}
	if len(vec) != want {
		return fmt.Errorf("model %s produces %d-dimensional vectors, config declares %d",
			model, len(vec), want)
	}
	return nil
}

// chunkBatches splits texts into slices no longer than maxBatchSize.
func chunkBatches(texts []string) [][]string {
	if len(texts) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(texts)+maxBatchSize-1)/maxBatchSize)
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batches = append(batches, texts[start:end])
	}
	return batches
}
