// Package llm sends assembled prompts to a chat-completion upstream.
// An Invoker wraps a provider adapter with retry and primary/fallback
// model routing.
package llm

import (
	"context"
	"net/http"

	"github.com/blueberrycongee/ragmux/internal/types"
)

// Request is one chat-completion call.
type Request struct {
	Model       string
	Messages    []types.ChatMessage
	MaxTokens   int
	Temperature float64
}

// Result is the outcome of a successful invocation. Model names the model
// that actually answered, which differs from the primary when the
// fallback was used.
type Result struct {
	Content      string
	Model        string
	FallbackUsed bool
}

// Provider adapts one upstream API. Implementations build the wire
// request, extract the answer text, and classify failures.
type Provider interface {
	// Name identifies the upstream in logs.
	Name() string

	// BuildRequest creates the HTTP request for one invocation.
	BuildRequest(ctx context.Context, req *Request) (*http.Request, error)

	// ParseResponse extracts the answer text from a 2xx response.
	ParseResponse(resp *http.Response) (string, error)

	// MapError converts a non-2xx response into an error carrying
	// retryability. The body may be consumed.
	MapError(resp *http.Response) error
}
