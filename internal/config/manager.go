package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager handles configuration loading and hot-reload.
// The global config is loaded once at startup; the per-RAG directory is
// watched and reloaded with atomic pointer swaps, so tenant changes land
// without a restart.
type Manager struct {
	config   atomic.Pointer[Config]
	rags     atomic.Pointer[map[string]*RAGConfig]
	path     string
	watcher  *fsnotify.Watcher
	onChange []func(map[string]*RAGConfig)
	logger   *slog.Logger
}

// NewManager loads the global config file and the tenant directory.
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}

	rags, err := LoadRAGDir(cfg.RAGDir)
	if err != nil {
		return nil, err
	}

	m := &Manager{
		path:   path,
		logger: logger,
	}
	m.config.Store(cfg)
	m.rags.Store(&rags)

	return m, nil
}

// Get returns the current global configuration.
// This is safe to call concurrently from multiple goroutines.
func (m *Manager) Get() *Config {
	return m.config.Load()
}

// RAG returns the configuration for one tenant, or false if unknown.
func (m *Manager) RAG(id string) (*RAGConfig, bool) {
	rags := *m.rags.Load()
	cfg, ok := rags[id]
	return cfg, ok
}

// RAGs returns the current tenant map. The map must not be mutated.
func (m *Manager) RAGs() map[string]*RAGConfig {
	return *m.rags.Load()
}

// OnChange registers a callback invoked after a successful tenant reload.
// Must be called before Watch.
func (m *Manager) OnChange(fn func(map[string]*RAGConfig)) {
	m.onChange = append(m.onChange, fn)
}

// Watch starts watching the tenant directory for changes.
// It debounces rapid changes and reloads the whole directory atomically.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher

	if err := watcher.Add(m.Get().RAGDir); err != nil {
		_ = watcher.Close()
		return err
	}

	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	// Debounce timer to avoid rapid reloads
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					m.reload()
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

func (m *Manager) reload() {
	rags, err := LoadRAGDir(m.Get().RAGDir)
	if err != nil {
		m.logger.Error("failed to reload rag configs, keeping current",
			"error", err,
		)
		return
	}

	// Atomic swap
	m.rags.Store(&rags)
	m.logger.Info("rag configurations reloaded", "count", len(rags))

	for _, fn := range m.onChange {
		fn(rags)
	}
}

// Close stops the configuration watcher.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
