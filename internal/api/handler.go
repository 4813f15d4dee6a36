// Package api provides the HTTP handlers for the query service: the
// query endpoint itself plus health, metrics, and tenant administration.
package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/ragmux/internal/cache"
	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/observability"
	"github.com/blueberrycongee/ragmux/internal/pipeline"
	"github.com/blueberrycongee/ragmux/internal/ragerrors"
	"github.com/blueberrycongee/ragmux/internal/telemetry"
	"github.com/blueberrycongee/ragmux/internal/types"
)

// maxBodyBytes caps query request bodies. Questions are short text.
const maxBodyBytes = 1 << 20

// Handler handles HTTP requests for the query service.
type Handler struct {
	manager  *config.Manager
	pipeline *pipeline.Pipeline
	cache    *cache.ResponseCache
	metrics  *telemetry.Collector
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(manager *config.Manager, pipe *pipeline.Pipeline, respCache *cache.ResponseCache, metrics *telemetry.Collector, logger *slog.Logger) *Handler {
	return &Handler{
		manager:  manager,
		pipeline: pipe,
		cache:    respCache,
		metrics:  metrics,
		logger:   logger,
	}
}

// HealthCheck handles GET /health requests.
func (h *Handler) HealthCheck(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Query handles POST /query requests.
func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithRequestID(r.Context(), h.logger)

	var req types.QueryRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer body.Close()
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		h.writeError(w, ragerrors.NewValidationError("invalid JSON: "+err.Error()))
		return
	}

	if req.RAGID == "" {
		req.RAGID = h.manager.Get().DefaultRAG
	}

	// An unknown tenant leaves maxTopK at 0, deferring the top_k upper
	// bound so the pipeline's not-found error wins over a 400.
	maxTopK := 0
	if ragCfg, ok := h.manager.RAG(req.RAGID); ok {
		maxTopK = ragCfg.Retrieval.MaxTopK
	}
	if err := req.Validate(maxTopK); err != nil {
		h.writeError(w, ragerrors.NewValidationError(err.Error()))
		return
	}

	resp, err := h.pipeline.Execute(r.Context(), &req, clientID(r))
	if err != nil {
		re, ok := ragerrors.As(err)
		if !ok {
			re = ragerrors.NewInternalError(err.Error())
		}
		if re.StatusCode >= http.StatusInternalServerError {
			logger.Error("query failed", "rag", req.RAGID, "type", re.Type, "error", re.Message)
		}
		h.writeError(w, re)
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// Metrics handles GET /metrics requests with a JSON counter snapshot.
func (h *Handler) Metrics(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.metrics.Snapshot())
}

// ListRAGs handles GET /rags requests.
func (h *Handler) ListRAGs(w http.ResponseWriter, _ *http.Request) {
	rags := h.manager.RAGs()
	out := make([]ragSummary, 0, len(rags))
	for _, id := range config.RAGIDs(rags) {
		ragCfg := rags[id]
		out = append(out, ragSummary{
			ID:             ragCfg.ID,
			EmbeddingModel: ragCfg.Embedding.Model,
			PrimaryModel:   ragCfg.Model.Primary,
			CacheEnabled:   ragCfg.Cache.Enabled,
		})
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"rags": out})
}

// InvalidateCache handles POST /admin/invalidate requests. The
// tenant is named by the rag query parameter.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	ragID := r.URL.Query().Get("rag")
	if !types.ValidRAGID(ragID) {
		h.writeError(w, ragerrors.NewValidationError("rag parameter is required"))
		return
	}
	if _, ok := h.manager.RAG(ragID); !ok {
		h.writeError(w, ragerrors.NewRAGNotFoundError(ragID))
		return
	}

	removed, err := h.cache.InvalidateRAG(r.Context(), ragID)
	if err != nil {
		h.writeError(w, ragerrors.NewDependencyDownError("redis", "cache invalidation failed", true))
		return
	}

	h.logger.Info("cache invalidated", "rag", ragID, "removed", removed)
	h.writeJSON(w, http.StatusOK, map[string]any{"rag": ragID, "removed": removed})
}

type ragSummary struct {
	ID             string `json:"id"`
	EmbeddingModel string `json:"embedding_model"`
	PrimaryModel   string `json:"primary_model"`
	CacheEnabled   bool   `json:"cache_enabled"`
}

// clientID identifies the caller for per-client rate limiting. The first
// X-Forwarded-For hop wins when present, else the peer address.
func clientID(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, re *ragerrors.Error) {
	h.writeJSON(w, re.HTTPStatusCode(), ErrorResponse{
		Error: ErrorDetail{Code: re.Type, Message: re.Message},
	})
}
