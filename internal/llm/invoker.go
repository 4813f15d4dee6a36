package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/ragerrors"
	"github.com/blueberrycongee/ragmux/internal/types"
)

// Invoker runs chat completions with retry and model fallback. The primary
// model gets the full retry budget first; only when it is exhausted does
// the fallback model get its own budget.
type Invoker struct {
	provider   Provider
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
}

// NewInvoker creates an Invoker from global LLM config.
func NewInvoker(provider Provider, cfg config.LLMConfig, logger *slog.Logger) *Invoker {
	return &Invoker{
		provider:   provider,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		maxRetries: cfg.MaxRetries,
		backoff:    cfg.RetryBackoff,
		logger:     logger,
	}
}

// Invoke sends the messages to the tenant's primary model, falling back to
// the configured fallback when the primary's retries are exhausted.
// Non-retryable upstream errors (4xx other than 429) abort immediately.
func (inv *Invoker) Invoke(ctx context.Context, ragCfg *config.RAGConfig, messages []types.ChatMessage) (*Result, error) {
	req := &Request{
		Messages:    messages,
		MaxTokens:   ragCfg.Prompting.MaxTokens,
		Temperature: ragCfg.Prompting.Temperature,
	}

	req.Model = ragCfg.Model.Primary
	content, primaryErr := inv.invokeWithRetry(ctx, req)
	if primaryErr == nil {
		return &Result{Content: content, Model: ragCfg.Model.Primary}, nil
	}
	if ctx.Err() != nil {
		return nil, primaryErr
	}

	if ragCfg.Model.Fallback == "" {
		return nil, ragerrors.NewLLMUnavailableError(
			fmt.Sprintf("model %s failed: %v", ragCfg.Model.Primary, primaryErr))
	}

	inv.logger.Warn("primary model exhausted, trying fallback",
		"rag", ragCfg.ID,
		"primary", ragCfg.Model.Primary,
		"fallback", ragCfg.Model.Fallback,
		"error", primaryErr,
	)

	req.Model = ragCfg.Model.Fallback
	content, fallbackErr := inv.invokeWithRetry(ctx, req)
	if fallbackErr == nil {
		return &Result{Content: content, Model: ragCfg.Model.Fallback, FallbackUsed: true}, nil
	}

	return nil, ragerrors.NewLLMUnavailableError(fmt.Sprintf(
		"primary %s failed (%v); fallback %s failed (%v)",
		ragCfg.Model.Primary, primaryErr, ragCfg.Model.Fallback, fallbackErr))
}

// invokeWithRetry runs one model with exponential backoff. Network errors
// and retryable upstream statuses consume attempts; anything else returns
// immediately.
func (inv *Invoker) invokeWithRetry(ctx context.Context, req *Request) (string, error) {
	var lastErr error

	for attempt := 0; attempt <= inv.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := inv.backoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		content, err := inv.invokeOnce(ctx, req)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if re, ok := ragerrors.As(err); ok && !re.Retryable {
			return "", err
		}
		if ctx.Err() != nil {
			return "", err
		}

		inv.logger.Debug("llm attempt failed",
			"model", req.Model, "attempt", attempt, "error", err)
	}
	return "", lastErr
}

func (inv *Invoker) invokeOnce(ctx context.Context, req *Request) (string, error) {
	httpReq, err := inv.provider.BuildRequest(ctx, req)
	if err != nil {
		return "", err
	}

	resp, err := inv.httpClient.Do(httpReq)
	if err != nil {
		// Network errors are always worth retrying.
		return "", fmt.Errorf("request %s: %w", inv.provider.Name(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", inv.provider.MapError(resp)
	}
	return inv.provider.ParseResponse(resp)
}
