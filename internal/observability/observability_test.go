package observability

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/ragmux/internal/config"
)

func TestNewLoggerLevelsAndFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("visible")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, `"level":"WARN"`)

	buf.Reset()
	logger = NewLogger(config.LoggingConfig{Level: "debug", Format: "text"}, &buf)
	logger.Debug("dbg")
	assert.Contains(t, buf.String(), "level=DEBUG")
}

func TestRequestIDMiddleware(t *testing.T) {
	var captured string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = RequestIDFromContext(r.Context())
	}))

	t.Run("generates when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		require.NotEmpty(t, captured)
		assert.Equal(t, captured, rec.Header().Get(RequestIDHeader))
	})

	t.Run("preserves valid caller ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "caller-id-42")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "caller-id-42", captured)
	})

	t.Run("rejects malformed caller ID", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "bad id\n{}")
		handler.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, "bad id\n{}", captured)
		assert.NotEmpty(t, captured)
	})
}

func TestWithRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(config.LoggingConfig{Level: "info", Format: "json"}, &buf)

	ctx := ContextWithRequestID(context.Background(), "abc123")
	WithRequestID(ctx, logger).Info("hello")
	assert.Contains(t, buf.String(), `"request_id":"abc123"`)

	buf.Reset()
	WithRequestID(context.Background(), logger).Info("hello")
	assert.NotContains(t, buf.String(), "request_id")
}

func TestInitTracingDisabled(t *testing.T) {
	tp, err := InitTracing(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, tp.Tracer())

	_, span := tp.Tracer().Start(context.Background(), "test")
	span.End()
	assert.NoError(t, tp.Shutdown(context.Background()))
}
