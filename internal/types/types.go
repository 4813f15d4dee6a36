// Package types defines the core data structures for the RAG query service.
// All wire types are JSON-tagged to match the public HTTP contract.
package types

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ragIDPattern restricts tenant identifiers to a filesystem- and
// key-safe alphabet. Collection and cache key names are derived from it.
var ragIDPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidRAGID reports whether id is a well-formed tenant identifier.
func ValidRAGID(id string) bool {
	return ragIDPattern.MatchString(id)
}

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	RAGID     string `json:"rag_id"`
	Question  string `json:"question"`
	SessionID string `json:"session_id,omitempty"`
	TopK      *int   `json:"top_k,omitempty"`
}

// Validate checks the request against the public contract.
// maxTopK bounds the optional top_k override; a non-positive value skips
// the upper bound, for callers that cannot resolve a tenant maximum yet.
func (r *QueryRequest) Validate(maxTopK int) error {
	if r.RAGID == "" {
		return fmt.Errorf("rag_id is required")
	}
	if !ValidRAGID(r.RAGID) {
		return fmt.Errorf("rag_id must match [A-Za-z0-9_]+")
	}
	if strings.TrimSpace(r.Question) == "" {
		return fmt.Errorf("question is required")
	}
	if r.TopK != nil {
		if *r.TopK < 1 {
			return fmt.Errorf("top_k must be at least 1")
		}
		if maxTopK > 0 && *r.TopK > maxTopK {
			return fmt.Errorf("top_k must be in [1, %d]", maxTopK)
		}
	}
	return nil
}

// ContextChunk is a retrieved passage returned alongside the answer.
// Score is cosine similarity in [0, 1], higher is more similar.
type ContextChunk struct {
	ID     string  `json:"id"`
	Source string  `json:"source"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
}

// QueryResponse is the body of a successful POST /query.
// ContextChunks may be empty (no-context path) but is never null.
type QueryResponse struct {
	RAGID         string         `json:"rag_id"`
	Answer        string         `json:"answer"`
	ContextChunks []ContextChunk `json:"context_chunks"`
	LatencyMS     int64          `json:"latency_ms"`
	CacheHit      bool           `json:"cache_hit"`
	SessionID     string         `json:"session_id"`
}

// CachedResponse is the portion of a QueryResponse that is stable across
// invocations and therefore safe to memoize. Latency, cache_hit and
// session_id are per-invocation and deliberately excluded.
type CachedResponse struct {
	Answer        string         `json:"answer"`
	ContextChunks []ContextChunk `json:"context_chunks"`
}

// ChatMessage is a single message in the prompt sent to the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Chat roles used when assembling prompts.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one question/answer exchange in a conversational session.
// Timestamp is ISO-8601 UTC.
type Turn struct {
	Question  string `json:"question"`
	Answer    string `json:"answer"`
	Timestamp string `json:"timestamp"`
}

// NewTurn builds a Turn stamped with the current UTC time.
func NewTurn(question, answer string) Turn {
	return Turn{
		Question:  question,
		Answer:    answer,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// MetricsSnapshot is the body of GET /metrics. Key names are part of the
// public contract and must not change.
type MetricsSnapshot struct {
	RequestsTotal    int64   `json:"requests_total"`
	ErrorsTotal      int64   `json:"errors_total"`
	CacheHitsTotal   int64   `json:"cache_hits_total"`
	RateLimitedTotal int64   `json:"rate_limited_total"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	P95LatencyMS     float64 `json:"p95_latency_ms"`
	LatencySamples   int     `json:"latency_samples"`
}

// CollectionName returns the vector collection that backs a tenant.
// One RAG maps to exactly one collection; collections are never shared.
func CollectionName(ragID string) string {
	return ragID + "_collection"
}
