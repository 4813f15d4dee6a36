// Package retrieval runs the embed-then-search stage of the pipeline and
// shapes raw vector hits into context chunks.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/embedding"
	"github.com/blueberrycongee/ragmux/internal/ragerrors"
	"github.com/blueberrycongee/ragmux/internal/types"
	"github.com/blueberrycongee/ragmux/internal/vector"
)

// Retriever embeds a question and finds the closest stored chunks.
type Retriever struct {
	embedder embedding.Provider
	store    vector.Store
}

// New creates a Retriever.
func New(embedder embedding.Provider, store vector.Store) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns the top chunks for a question, filtered by the
// tenant's score threshold and ordered by descending similarity.
// An empty result is a valid outcome, not an error.
func (r *Retriever) Retrieve(ctx context.Context, ragCfg *config.RAGConfig, question string, topK int) ([]types.ContextChunk, error) {
	vec, err := r.embedder.EmbedText(ctx, ragCfg.Embedding.Model, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	// The startup probe catches persistent mismatches; this guards against
	// a provider that changed behavior while the service was running.
	if len(vec) != ragCfg.Embedding.Dimension {
		return nil, ragerrors.NewEmbeddingMisconfiguredError(fmt.Sprintf(
			"embedding model %s returned %d dimensions, rag %s expects %d",
			ragCfg.Embedding.Model, len(vec), ragCfg.ID, ragCfg.Embedding.Dimension))
	}

	hits, err := r.store.Search(ctx, types.CollectionName(ragCfg.ID), vec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	chunks := make([]types.ContextChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < ragCfg.Retrieval.ScoreThreshold {
			continue
		}
		chunks = append(chunks, types.ContextChunk{
			ID:     hit.ID,
			Source: hit.Source,
			Text:   hit.Text,
			Score:  hit.Score,
		})
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Score > chunks[j].Score
	})

	if ragCfg.Retrieval.FilterDuplicates {
		chunks = dedupeByText(chunks)
	}
	return chunks, nil
}

// dedupeByText drops chunks whose normalized text matches an earlier one.
// Input is score-descending, so the best-scoring copy wins.
func dedupeByText(chunks []types.ContextChunk) []types.ContextChunk {
	seen := make(map[string]struct{}, len(chunks))
	out := chunks[:0]
	for _, chunk := range chunks {
		key := strings.Join(strings.Fields(strings.ToLower(chunk.Text)), " ")
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, chunk)
	}
	return out
}
