package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	dir := t.TempDir()
	ragDir := filepath.Join(dir, "rags")
	require.NoError(t, os.Mkdir(ragDir, 0o755))
	writeRAGFile(t, ragDir, "docs.yaml", testRAGYAML)

	path := filepath.Join(dir, "config.yaml")
	content := "embedding:\n  provider: ollama\n" +
		"rag_dir: " + ragDir + "\ndefault_rag: docs\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := NewManager(path, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	return m, ragDir
}

func TestManagerGetAndRAG(t *testing.T) {
	m, _ := newTestManager(t)
	defer m.Close()

	assert.Equal(t, "docs", m.Get().DefaultRAG)

	cfg, ok := m.RAG("docs")
	require.True(t, ok)
	assert.Equal(t, "docs", cfg.ID)

	_, ok = m.RAG("missing")
	assert.False(t, ok)

	assert.Len(t, m.RAGs(), 1)
}

func TestManagerWatchReloadsNewTenant(t *testing.T) {
	m, ragDir := newTestManager(t)
	defer m.Close()

	changed := make(chan map[string]*RAGConfig, 1)
	m.OnChange(func(rags map[string]*RAGConfig) {
		select {
		case changed <- rags:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Watch(ctx))

	writeRAGFile(t, ragDir, "wiki.yaml", testRAGYAML)

	select {
	case rags := <-changed:
		assert.Contains(t, rags, "wiki")
	case <-time.After(5 * time.Second):
		t.Fatal("reload callback not invoked")
	}

	_, ok := m.RAG("wiki")
	assert.True(t, ok)
}

func TestManagerKeepsCurrentOnBadReload(t *testing.T) {
	m, ragDir := newTestManager(t)
	defer m.Close()

	// Corrupt the only tenant file and reload directly; the previous
	// snapshot must survive.
	writeRAGFile(t, ragDir, "docs.yaml", "embedding: [broken")
	m.reload()

	cfg, ok := m.RAG("docs")
	require.True(t, ok)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
}
