// Package pipeline orchestrates one query end to end: admission, cache,
// retrieval, prompt assembly, generation, and session bookkeeping. It is
// the only place that constructs terminal responses and the only place
// that updates telemetry, so the counting rules live here: requests and
// latency are recorded exactly once per query, rate-limited rejections
// are not errors, empty retrieval is a valid outcome, and a provider-down
// degraded answer counts as an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/blueberrycongee/ragmux/internal/cache"
	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/llm"
	"github.com/blueberrycongee/ragmux/internal/observability"
	"github.com/blueberrycongee/ragmux/internal/prompt"
	"github.com/blueberrycongee/ragmux/internal/ragerrors"
	"github.com/blueberrycongee/ragmux/internal/ratelimit"
	"github.com/blueberrycongee/ragmux/internal/retrieval"
	"github.com/blueberrycongee/ragmux/internal/session"
	"github.com/blueberrycongee/ragmux/internal/telemetry"
	"github.com/blueberrycongee/ragmux/internal/types"
)

// Pipeline wires the stages together.
type Pipeline struct {
	manager   *config.Manager
	admitter  ratelimit.Admitter
	cache     *cache.ResponseCache
	sessions  *session.Store
	retriever *retrieval.Retriever
	assembler *prompt.Assembler
	invoker   *llm.Invoker
	metrics   *telemetry.Collector
	tracer    trace.Tracer
	logger    *slog.Logger

	// inflight bounds concurrent queries across all tenants.
	inflight chan struct{}
	timeout  time.Duration
}

// Options collects the pipeline's collaborators.
type Options struct {
	Manager   *config.Manager
	Admitter  ratelimit.Admitter
	Cache     *cache.ResponseCache
	Sessions  *session.Store
	Retriever *retrieval.Retriever
	Assembler *prompt.Assembler
	Invoker   *llm.Invoker
	Metrics   *telemetry.Collector
	Tracer    trace.Tracer
	Logger    *slog.Logger
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	srv := opts.Manager.Get().Server
	return &Pipeline{
		manager:   opts.Manager,
		admitter:  opts.Admitter,
		cache:     opts.Cache,
		sessions:  opts.Sessions,
		retriever: opts.Retriever,
		assembler: opts.Assembler,
		invoker:   opts.Invoker,
		metrics:   opts.Metrics,
		tracer:    opts.Tracer,
		logger:    opts.Logger,
		inflight:  make(chan struct{}, srv.MaxInflight),
		timeout:   srv.RequestTimeout,
	}
}

// Execute runs one validated query. The returned response is terminal:
// degraded outcomes (no context, provider unavailable) arrive as normal
// responses carrying the tenant's configured message, while structural
// failures arrive as *ragerrors.Error values for the HTTP layer to map.
func (p *Pipeline) Execute(ctx context.Context, req *types.QueryRequest, clientID string) (*types.QueryResponse, error) {
	start := time.Now()
	p.metrics.RecordRequest(req.RAGID)

	resp, err := p.execute(ctx, req, clientID, start)

	p.metrics.ObserveLatency(req.RAGID, time.Since(start))
	return resp, err
}

func (p *Pipeline) execute(ctx context.Context, req *types.QueryRequest, clientID string, start time.Time) (*types.QueryResponse, error) {
	logger := observability.WithRequestID(ctx, p.logger).With("rag", req.RAGID)

	select {
	case p.inflight <- struct{}{}:
		defer func() { <-p.inflight }()
	default:
		err := ragerrors.NewOverloadedError()
		p.metrics.RecordError(req.RAGID, err.Type)
		return nil, err
	}

	ragCfg, ok := p.manager.RAG(req.RAGID)
	if !ok {
		err := ragerrors.NewRAGNotFoundError(req.RAGID)
		p.metrics.RecordError(req.RAGID, err.Type)
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "query",
		trace.WithAttributes(attribute.String("rag.id", req.RAGID)))
	defer span.End()

	resp, err := p.run(ctx, logger, ragCfg, req, clientID, start)
	if err != nil {
		observability.RecordError(span, err)
		re := p.asTerminalError(ctx, err)
		if re.Type != ragerrors.TypeRateLimited {
			p.metrics.RecordError(req.RAGID, re.Type)
		}
		return nil, re
	}
	return resp, nil
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, ragCfg *config.RAGConfig, req *types.QueryRequest, clientID string, start time.Time) (*types.QueryResponse, error) {
	topK := ragCfg.Retrieval.TopK
	if req.TopK != nil {
		topK = *req.TopK
	}

	// Admission before any expensive work.
	if !p.admit(ctx, ragCfg, clientID) {
		p.metrics.RecordRateLimited(req.RAGID)
		return nil, ragerrors.NewRateLimitedError(req.RAGID)
	}

	// Every response carries a session identifier, echoed when supplied
	// and minted otherwise. History storage is a separate, per-tenant
	// concern gated on the sessions toggle.
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = session.NewSessionID()
	}

	// Cache lookup. Hits skip retrieval and generation entirely but still
	// count toward the session: the user saw the answer either way.
	var fingerprint string
	if ragCfg.Cache.Enabled {
		fingerprint = cache.Fingerprint(req.RAGID, req.Question, topK)
		if cached := p.cache.Get(ctx, fingerprint); cached != nil {
			p.metrics.RecordCacheHit(req.RAGID)
			p.appendTurn(ctx, ragCfg, sessionID, req.Question, cached.Answer)
			return p.response(ragCfg, cached.Answer, cached.ContextChunks, sessionID, true, start), nil
		}
	}

	chunks, err := p.retrieve(ctx, ragCfg, req.Question, topK)
	if err != nil {
		return nil, err
	}

	// Empty retrieval is a valid outcome: answer with the tenant's
	// no-context message and cache it like any other terminal answer,
	// so repeats skip the embedding and search round trips too.
	if len(chunks) == 0 {
		logger.Info("no context above threshold", "question_len", len(req.Question))
		if ragCfg.Cache.Enabled {
			p.cache.Set(ctx, fingerprint, &types.CachedResponse{
				Answer:        ragCfg.Messages.NoContext,
				ContextChunks: []types.ContextChunk{},
			}, ragCfg.Cache.TTL)
		}
		p.appendTurn(ctx, ragCfg, sessionID, req.Question, ragCfg.Messages.NoContext)
		return p.response(ragCfg, ragCfg.Messages.NoContext, nil, sessionID, false, start), nil
	}

	history := p.history(ctx, ragCfg, sessionID)

	messages, err := p.assembler.Build(ragCfg, req.Question, chunks, history)
	if err != nil {
		return nil, fmt.Errorf("assemble prompt: %w", err)
	}

	result, err := p.generate(ctx, ragCfg, messages)
	if err != nil {
		if re, ok := ragerrors.As(err); ok && re.Type == ragerrors.TypeLLMUnavailable && ctx.Err() == nil {
			logger.Error("all models unavailable", "error", err)
			p.metrics.RecordError(req.RAGID, ragerrors.TypeLLMUnavailable)
			p.appendTurn(ctx, ragCfg, sessionID, req.Question, ragCfg.Messages.ProviderError)
			return p.response(ragCfg, ragCfg.Messages.ProviderError, chunks, sessionID, false, start), nil
		}
		return nil, err
	}

	if result.FallbackUsed {
		logger.Warn("answered by fallback model", "model", result.Model)
	}

	if ragCfg.Cache.Enabled {
		p.cache.Set(ctx, fingerprint, &types.CachedResponse{
			Answer:        result.Content,
			ContextChunks: chunks,
		}, ragCfg.Cache.TTL)
	}
	p.appendTurn(ctx, ragCfg, sessionID, req.Question, result.Content)

	return p.response(ragCfg, result.Content, chunks, sessionID, false, start), nil
}

func (p *Pipeline) admit(ctx context.Context, ragCfg *config.RAGConfig, clientID string) bool {
	ctx, span := p.tracer.Start(ctx, "admit")
	defer span.End()
	return p.admitter.Allow(ctx, ragCfg.ID, clientID, ragCfg.RateLimit)
}

func (p *Pipeline) retrieve(ctx context.Context, ragCfg *config.RAGConfig, question string, topK int) ([]types.ContextChunk, error) {
	ctx, span := p.tracer.Start(ctx, "retrieve",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	chunks, err := p.retriever.Retrieve(ctx, ragCfg, question, topK)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	return chunks, nil
}

func (p *Pipeline) generate(ctx context.Context, ragCfg *config.RAGConfig, messages []types.ChatMessage) (*llm.Result, error) {
	ctx, span := p.tracer.Start(ctx, "generate",
		trace.WithAttributes(attribute.String("model", ragCfg.Model.Primary)))
	defer span.End()

	result, err := p.invoker.Invoke(ctx, ragCfg, messages)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("fallback_used", result.FallbackUsed))
	return result, nil
}

func (p *Pipeline) history(ctx context.Context, ragCfg *config.RAGConfig, sessionID string) []types.Turn {
	if !ragCfg.Sessions.Enabled {
		return nil
	}
	return p.sessions.History(ctx, sessionID, ragCfg.Sessions.HistoryTurns, ragCfg.Sessions.TTL)
}

func (p *Pipeline) appendTurn(ctx context.Context, ragCfg *config.RAGConfig, sessionID, question, answer string) {
	if !ragCfg.Sessions.Enabled || sessionID == "" {
		return
	}
	p.sessions.Append(ctx, sessionID, types.NewTurn(question, answer),
		ragCfg.Sessions.HistoryTurns, ragCfg.Sessions.TTL)
}

func (p *Pipeline) response(ragCfg *config.RAGConfig, answer string, chunks []types.ContextChunk, sessionID string, cacheHit bool, start time.Time) *types.QueryResponse {
	if chunks == nil {
		chunks = []types.ContextChunk{}
	}
	return &types.QueryResponse{
		RAGID:         ragCfg.ID,
		Answer:        answer,
		ContextChunks: chunks,
		LatencyMS:     time.Since(start).Milliseconds(),
		CacheHit:      cacheHit,
		SessionID:     sessionID,
	}
}

// asTerminalError maps any stage failure to a taxonomy error. Deadline
// expiry wins over whatever error it caused downstream.
func (p *Pipeline) asTerminalError(ctx context.Context, err error) *ragerrors.Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ragerrors.NewTimeoutError("")
	}
	if re, ok := ragerrors.As(err); ok {
		return re
	}
	return ragerrors.NewInternalError(err.Error())
}
