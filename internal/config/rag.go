package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blueberrycongee/ragmux/internal/types"
)

// RAGConfig holds the per-tenant settings loaded from one YAML file under
// rag_dir. The tenant ID is the file name without extension.
type RAGConfig struct {
	ID        string          `yaml:"-"`
	Embedding RAGEmbedding    `yaml:"embedding"`
	Retrieval RAGRetrieval    `yaml:"retrieval"`
	Model     RAGModel        `yaml:"model"`
	Prompting RAGPrompting    `yaml:"prompting"`
	RateLimit RAGRateLimit    `yaml:"rate_limit"`
	Cache     RAGCache        `yaml:"cache"`
	Sessions  RAGSessions     `yaml:"sessions"`
	Messages  RAGUserMessages `yaml:"messages"`
}

// RAGEmbedding pins the embedding model and its vector dimension.
// The dimension is checked against the provider at startup; a mismatch
// is fatal because stored vectors would be unsearchable.
type RAGEmbedding struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

// RAGRetrieval controls the vector search stage.
type RAGRetrieval struct {
	TopK             int     `yaml:"top_k"`
	MaxTopK          int     `yaml:"max_top_k"`
	ScoreThreshold   float64 `yaml:"score_threshold"`
	FilterDuplicates bool    `yaml:"filter_duplicates"`
}

// RAGModel names the primary chat model and its optional fallback.
type RAGModel struct {
	Primary  string `yaml:"primary"`
	Fallback string `yaml:"fallback"`
}

// RAGPrompting points at the tenant's template files and generation knobs.
type RAGPrompting struct {
	SystemTemplate string  `yaml:"system_template"`
	UserTemplate   string  `yaml:"user_template"`
	MaxTokens      int     `yaml:"max_tokens"`
	Temperature    float64 `yaml:"temperature"`
}

// RAGRateLimit is the token-bucket admission policy for this tenant.
type RAGRateLimit struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	PerClient         bool    `yaml:"per_client"`
}

// RAGCache controls the response cache for this tenant.
type RAGCache struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl"`
}

// RAGSessions controls conversational history for this tenant.
type RAGSessions struct {
	Enabled      bool          `yaml:"enabled"`
	TTL          time.Duration `yaml:"ttl"`
	HistoryTurns int           `yaml:"history_turns"`
}

// RAGUserMessages are the client-facing answer strings for degraded
// outcomes. Both ship as 200 responses, not errors.
type RAGUserMessages struct {
	NoContext     string `yaml:"no_context"`
	ProviderError string `yaml:"provider_error"`
}

// defaultRAGConfig returns per-tenant defaults applied before unmarshal.
func defaultRAGConfig() *RAGConfig {
	return &RAGConfig{
		Retrieval: RAGRetrieval{
			TopK:             5,
			MaxTopK:          20,
			ScoreThreshold:   0.0,
			FilterDuplicates: true,
		},
		Prompting: RAGPrompting{
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		RateLimit: RAGRateLimit{
			Enabled:           true,
			RequestsPerSecond: 5,
			Burst:             10,
			PerClient:         true,
		},
		Cache: RAGCache{
			Enabled: true,
			TTL:     10 * time.Minute,
		},
		Sessions: RAGSessions{
			Enabled:      true,
			TTL:          30 * time.Minute,
			HistoryTurns: 3,
		},
		Messages: RAGUserMessages{
			NoContext:     "I could not find relevant information to answer that question.",
			ProviderError: "The answer service is temporarily unavailable. Please try again shortly.",
		},
	}
}

// LoadRAGFile parses a single per-tenant YAML file.
func LoadRAGFile(path string) (*RAGConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rag config: %w", err)
	}

	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	cfg := defaultRAGConfig()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("parse rag config %q: %w", id, err)
	}
	cfg.ID = id

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate rag config %q: %w", id, err)
	}
	return cfg, nil
}

// LoadRAGDir loads every *.yaml/*.yml file under dir into a tenant map.
// At least one tenant must exist; a service with no tenants cannot answer
// anything.
func LoadRAGDir(dir string) (map[string]*RAGConfig, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read rag dir: %w", err)
	}

	rags := make(map[string]*RAGConfig)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		cfg, err := LoadRAGFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		rags[cfg.ID] = cfg
	}

	if len(rags) == 0 {
		return nil, fmt.Errorf("no rag configs found in %s", dir)
	}
	return rags, nil
}

// Validate checks the per-tenant configuration for errors.
func (c *RAGConfig) Validate() error {
	if !types.ValidRAGID(c.ID) {
		return fmt.Errorf("invalid rag id %q", c.ID)
	}
	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding.model is required")
	}
	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding.dimension must be positive")
	}
	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > c.Retrieval.MaxTopK {
		return fmt.Errorf("retrieval.top_k must be in [1, %d]", c.Retrieval.MaxTopK)
	}
	if c.Retrieval.ScoreThreshold < 0 || c.Retrieval.ScoreThreshold > 1 {
		return fmt.Errorf("retrieval.score_threshold must be in [0, 1]")
	}
	if c.Model.Primary == "" {
		return fmt.Errorf("model.primary is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit.burst must be at least 1")
		}
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive when cache is enabled")
	}
	if c.Sessions.Enabled {
		if c.Sessions.TTL <= 0 {
			return fmt.Errorf("sessions.ttl must be positive")
		}
		if c.Sessions.HistoryTurns < 0 {
			return fmt.Errorf("sessions.history_turns cannot be negative")
		}
	}
	return nil
}

// RAGIDs returns the tenant IDs of a loaded map in stable order.
func RAGIDs(rags map[string]*RAGConfig) []string {
	ids := make([]string, 0, len(rags))
	for id := range rags {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
