package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/ragmux/internal/httputil"
	"github.com/blueberrycongee/ragmux/internal/ragerrors"
	"github.com/blueberrycongee/ragmux/internal/types"
)

// OpenRouter adapts the OpenRouter chat completions API. The wire format
// is OpenAI-compatible, so pointing BaseURL at any compatible server works.
type OpenRouter struct {
	apiKey  string
	baseURL string
	referer string
}

// NewOpenRouter creates the adapter.
func NewOpenRouter(apiKey, baseURL, referer string) *OpenRouter {
	return &OpenRouter{
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		referer: referer,
	}
}

// Name implements Provider.
func (p *OpenRouter) Name() string { return "openrouter" }

type chatCompletionRequest struct {
	Model       string              `json:"model"`
	Messages    []types.ChatMessage `json:"messages"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
	Temperature float64             `json:"temperature"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// BuildRequest implements Provider.
func (p *OpenRouter) BuildRequest(ctx context.Context, req *Request) (*http.Request, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	if p.referer != "" {
		// OpenRouter attribution headers.
		httpReq.Header.Set("HTTP-Referer", p.referer)
		httpReq.Header.Set("X-Title", "ragmux")
	}
	return httpReq, nil
}

// ParseResponse implements Provider.
func (p *OpenRouter) ParseResponse(resp *http.Response) (string, error) {
	data, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("unmarshal response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("response contains no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// MapError implements Provider. Retryability follows upstream semantics:
// 429 and 5xx may succeed later, other 4xx never will.
func (p *OpenRouter) MapError(resp *http.Response) error {
	data, _ := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)

	msg := "unknown error"
	var parsed chatCompletionResponse
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error != nil {
		msg = parsed.Error.Message
	}

	return &ragerrors.Error{
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("upstream returned %d: %s", resp.StatusCode, msg),
		Type:       ragerrors.TypeLLMUnavailable,
		Retryable:  ragerrors.IsRetryableStatus(resp.StatusCode),
	}
}
