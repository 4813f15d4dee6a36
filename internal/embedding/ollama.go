package embedding

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/ragmux/internal/httputil"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// Ollama calls a local Ollama instance. No credentials required, which
// makes it the fallback backend when no API key is configured.
type Ollama struct {
	baseURL string
	client  *http.Client
}

// NewOllama creates the Ollama backend.
func NewOllama(baseURL string) *Ollama {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &Ollama{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

// Name implements Provider.
func (p *Ollama) Name() string { return "ollama" }

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error"`
}

// EmbedText implements Provider.
func (p *Ollama) EmbedText(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := p.embedOnce(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch implements Provider.
func (p *Ollama) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, batch := range chunkBatches(texts) {
		vecs, err := p.embedOnce(ctx, model, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Ollama) embedOnce(ctx context.Context, model string, input []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: model, Input: input})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama request: %w", err)
	}
	defer resp.Body.Close()

	data, err := httputil.ReadLimitedBody(resp.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var parsed ollamaEmbedResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := parsed.Error
		if msg == "" {
			msg = "unknown error"
		}
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, msg)
	}

	if len(parsed.Embeddings) != len(input) {
		return nil, fmt.Errorf("ollama returned %d vectors for %d inputs", len(parsed.Embeddings), len(input))
	}
	return parsed.Embeddings, nil
}
