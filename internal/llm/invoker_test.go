package llm

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/ragerrors"
	"github.com/blueberrycongee/ragmux/internal/types"
)

// fakeUpstream scripts per-model response sequences keyed by model name.
type fakeUpstream struct {
	t *testing.T
	// statusByModel maps model name to a sequence of status codes; the
	// final entry repeats. Status 200 answers with the model name.
	statusByModel map[string][]int
	calls         atomic.Int64
	callsPerModel map[string]*atomic.Int64
}

func (f *fakeUpstream) handler(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)

	var req chatCompletionRequest
	require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))

	counter := f.callsPerModel[req.Model]
	n := int(counter.Add(1))

	seq := f.statusByModel[req.Model]
	status := seq[len(seq)-1]
	if n <= len(seq) {
		status = seq[n-1]
	}

	if status != http.StatusOK {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"scripted failure"}}`))
		return
	}

	resp := chatCompletionResponse{}
	resp.Choices = append(resp.Choices, struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	}{})
	resp.Choices[0].Message.Content = "answer from " + req.Model
	_ = json.NewEncoder(w).Encode(resp)
}

func newFakeUpstream(t *testing.T, statusByModel map[string][]int) *httptest.Server {
	f := &fakeUpstream{t: t, statusByModel: statusByModel, callsPerModel: map[string]*atomic.Int64{}}
	for model := range statusByModel {
		f.callsPerModel[model] = &atomic.Int64{}
	}
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return srv
}

func newTestInvoker(t *testing.T, baseURL string) *Invoker {
	t.Helper()
	return NewInvoker(
		NewOpenRouter("or-test", baseURL, "https://example.com"),
		config.LLMConfig{MaxRetries: 2, RetryBackoff: time.Millisecond, Timeout: 5 * time.Second},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
}

func invokeRAGConfig() *config.RAGConfig {
	return &config.RAGConfig{
		ID:        "docs",
		Model:     config.RAGModel{Primary: "primary-model", Fallback: "fallback-model"},
		Prompting: config.RAGPrompting{MaxTokens: 256, Temperature: 0.2},
	}
}

func testMessages() []types.ChatMessage {
	return []types.ChatMessage{
		{Role: types.RoleSystem, Content: "sys"},
		{Role: types.RoleUser, Content: "question"},
	}
}

func TestInvokePrimarySucceeds(t *testing.T) {
	srv := newFakeUpstream(t, map[string][]int{
		"primary-model":  {200},
		"fallback-model": {200},
	})
	inv := newTestInvoker(t, srv.URL)

	res, err := inv.Invoke(context.Background(), invokeRAGConfig(), testMessages())
	require.NoError(t, err)
	assert.Equal(t, "answer from primary-model", res.Content)
	assert.Equal(t, "primary-model", res.Model)
	assert.False(t, res.FallbackUsed)
}

func TestInvokeRetriesTransientThenSucceeds(t *testing.T) {
	srv := newFakeUpstream(t, map[string][]int{
		"primary-model":  {503, 429, 200},
		"fallback-model": {200},
	})
	inv := newTestInvoker(t, srv.URL)

	res, err := inv.Invoke(context.Background(), invokeRAGConfig(), testMessages())
	require.NoError(t, err)
	assert.Equal(t, "primary-model", res.Model)
	assert.False(t, res.FallbackUsed)
}

func TestInvokeFallsBackWhenPrimaryExhausted(t *testing.T) {
	srv := newFakeUpstream(t, map[string][]int{
		"primary-model":  {500},
		"fallback-model": {200},
	})
	inv := newTestInvoker(t, srv.URL)

	res, err := inv.Invoke(context.Background(), invokeRAGConfig(), testMessages())
	require.NoError(t, err)
	assert.Equal(t, "answer from fallback-model", res.Content)
	assert.True(t, res.FallbackUsed)
}

func TestInvokeNonRetryable4xxAbortsImmediately(t *testing.T) {
	f := &fakeUpstream{
		t: t,
		statusByModel: map[string][]int{
			"primary-model":  {400},
			"fallback-model": {400},
		},
		callsPerModel: map[string]*atomic.Int64{
			"primary-model":  {},
			"fallback-model": {},
		},
	}
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	defer srv.Close()
	inv := newTestInvoker(t, srv.URL)

	_, err := inv.Invoke(context.Background(), invokeRAGConfig(), testMessages())
	require.Error(t, err)

	// One call per model: a 400 must not consume the retry budget.
	assert.Equal(t, int64(1), f.callsPerModel["primary-model"].Load())
	assert.Equal(t, int64(1), f.callsPerModel["fallback-model"].Load())
}

func TestInvokeBothModelsExhausted(t *testing.T) {
	srv := newFakeUpstream(t, map[string][]int{
		"primary-model":  {503},
		"fallback-model": {503},
	})
	inv := newTestInvoker(t, srv.URL)

	_, err := inv.Invoke(context.Background(), invokeRAGConfig(), testMessages())
	require.Error(t, err)

	re, ok := ragerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ragerrors.TypeLLMUnavailable, re.Type)
	assert.Contains(t, re.Message, "primary-model")
	assert.Contains(t, re.Message, "fallback-model")
}

func TestInvokeNoFallbackConfigured(t *testing.T) {
	srv := newFakeUpstream(t, map[string][]int{
		"primary-model": {503},
	})
	inv := newTestInvoker(t, srv.URL)

	cfg := invokeRAGConfig()
	cfg.Model.Fallback = ""

	_, err := inv.Invoke(context.Background(), cfg, testMessages())
	require.Error(t, err)

	re, ok := ragerrors.As(err)
	require.True(t, ok)
	assert.Equal(t, ragerrors.TypeLLMUnavailable, re.Type)
}

func TestInvokeRespectsContextCancellation(t *testing.T) {
	srv := newFakeUpstream(t, map[string][]int{
		"primary-model":  {503},
		"fallback-model": {503},
	})
	inv := newTestInvoker(t, srv.URL)
	inv.backoff = time.Hour // force the wait into the backoff select

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := inv.Invoke(ctx, invokeRAGConfig(), testMessages())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestOpenRouterHeaders(t *testing.T) {
	var gotAuth, gotReferer, gotTitle string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		gotTitle = r.Header.Get("X-Title")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	inv := newTestInvoker(t, srv.URL)
	cfg := invokeRAGConfig()
	cfg.Model.Fallback = ""

	_, err := inv.Invoke(context.Background(), cfg, testMessages())
	require.NoError(t, err)
	assert.Equal(t, "Bearer or-test", gotAuth)
	assert.Equal(t, "https://example.com", gotReferer)
	assert.Equal(t, "ragmux", gotTitle)
}
