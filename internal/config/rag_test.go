package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRAGFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestLoadRAGFile(t *testing.T) {
	dir := t.TempDir()
	writeRAGFile(t, dir, "product_docs.yaml", testRAGYAML)

	cfg, err := LoadRAGFile(filepath.Join(dir, "product_docs.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "product_docs", cfg.ID)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.Equal(t, 5, cfg.Retrieval.TopK)
	assert.InDelta(t, 0.35, cfg.Retrieval.ScoreThreshold, 1e-9)
	assert.True(t, cfg.Retrieval.FilterDuplicates) // default preserved
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Model.Primary)
	assert.Equal(t, "meta-llama/llama-3.1-70b-instruct", cfg.Model.Fallback)
	assert.Equal(t, 10.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 20, cfg.RateLimit.Burst)
	assert.Equal(t, 10*time.Minute, cfg.Cache.TTL)
	assert.Equal(t, 3, cfg.Sessions.HistoryTurns)
	assert.Equal(t, "nothing found", cfg.Messages.NoContext)
}

func TestLoadRAGDir(t *testing.T) {
	dir := t.TempDir()
	writeRAGFile(t, dir, "docs.yaml", testRAGYAML)
	writeRAGFile(t, dir, "wiki.yml", testRAGYAML)
	writeRAGFile(t, dir, "README.md", "not yaml")

	rags, err := LoadRAGDir(dir)
	require.NoError(t, err)
	assert.Len(t, rags, 2)
	assert.Contains(t, rags, "docs")
	assert.Contains(t, rags, "wiki")
	assert.Equal(t, []string{"docs", "wiki"}, RAGIDs(rags))
}

func TestLoadRAGDirEmpty(t *testing.T) {
	_, err := LoadRAGDir(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rag configs")
}

func TestRAGValidateErrors(t *testing.T) {
	base := func() *RAGConfig {
		cfg := defaultRAGConfig()
		cfg.ID = "docs"
		cfg.Embedding = RAGEmbedding{Model: "m", Dimension: 768}
		cfg.Model.Primary = "openai/gpt-4o-mini"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*RAGConfig)
		wantErr string
	}{
		{"bad id", func(c *RAGConfig) { c.ID = "docs-v2" }, "invalid rag id"},
		{"missing embedding model", func(c *RAGConfig) { c.Embedding.Model = "" }, "embedding.model"},
		{"zero dimension", func(c *RAGConfig) { c.Embedding.Dimension = 0 }, "embedding.dimension"},
		{"top_k too high", func(c *RAGConfig) { c.Retrieval.TopK = 50 }, "retrieval.top_k"},
		{"threshold above one", func(c *RAGConfig) { c.Retrieval.ScoreThreshold = 1.5 }, "score_threshold"},
		{"no primary model", func(c *RAGConfig) { c.Model.Primary = "" }, "model.primary"},
		{"zero rate", func(c *RAGConfig) { c.RateLimit.RequestsPerSecond = 0 }, "requests_per_second"},
		{"zero burst", func(c *RAGConfig) { c.RateLimit.Burst = 0 }, "burst"},
		{"cache without ttl", func(c *RAGConfig) { c.Cache.TTL = 0 }, "cache.ttl"},
		{"sessions without ttl", func(c *RAGConfig) { c.Sessions.TTL = 0 }, "sessions.ttl"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
