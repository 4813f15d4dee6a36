// Package prompt assembles the chat messages sent to the LLM: a system
// message from the tenant's template, the recent session history as
// alternating user/assistant messages, and the templated user question
// with retrieved context inlined.
package prompt

import (
	"fmt"
	"os"
	"strings"

	gocache "github.com/patrickmn/go-cache"

	"github.com/blueberrycongee/ragmux/internal/config"
	"github.com/blueberrycongee/ragmux/internal/types"
)

// Placeholders recognized in templates.
const (
	questionPlaceholder = "{question}"
	contextPlaceholder  = "{context}"
)

// noContextPlaceholder is substituted for {context} when retrieval found
// nothing, so the model sees an explicit signal instead of empty text.
const noContextPlaceholder = "[No relevant context found]"

// chunkSeparator joins formatted context blocks.
const chunkSeparator = "\n\n"

// Default templates for tenants that configure no template files.
const (
	defaultSystemTemplate = "You are a helpful assistant. Answer using only the provided context. " +
		"If the context does not contain the answer, say so."
	defaultUserTemplate = "Context:\n{context}\n\nQuestion: {question}"
)

// Assembler builds prompts with an in-process template file cache.
// Template files change only on config reload, which flushes the cache,
// so entries never expire on their own.
type Assembler struct {
	templates *gocache.Cache
}

// NewAssembler creates an Assembler.
func NewAssembler() *Assembler {
	return &Assembler{
		templates: gocache.New(gocache.NoExpiration, 0),
	}
}

// Flush drops all cached templates. Wired to config reload.
func (a *Assembler) Flush() {
	a.templates.Flush()
}

// Build assembles the full message list for one query.
func (a *Assembler) Build(ragCfg *config.RAGConfig, question string, chunks []types.ContextChunk, history []types.Turn) ([]types.ChatMessage, error) {
	systemTmpl, err := a.template(ragCfg.Prompting.SystemTemplate, defaultSystemTemplate)
	if err != nil {
		return nil, err
	}
	userTmpl, err := a.template(ragCfg.Prompting.UserTemplate, defaultUserTemplate)
	if err != nil {
		return nil, err
	}

	contextBlock := FormatContext(chunks)

	messages := make([]types.ChatMessage, 0, 2+2*len(history))
	messages = append(messages, types.ChatMessage{
		Role:    types.RoleSystem,
		Content: substitute(systemTmpl, question, contextBlock),
	})

	for _, turn := range history {
		messages = append(messages,
			types.ChatMessage{Role: types.RoleUser, Content: turn.Question},
			types.ChatMessage{Role: types.RoleAssistant, Content: turn.Answer},
		)
	}

	messages = append(messages, types.ChatMessage{
		Role:    types.RoleUser,
		Content: substitute(userTmpl, question, contextBlock),
	})
	return messages, nil
}

// FormatContext renders retrieved chunks as numbered source blocks.
func FormatContext(chunks []types.ContextChunk) string {
	if len(chunks) == 0 {
		return noContextPlaceholder
	}

	blocks := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		blocks = append(blocks, fmt.Sprintf("[Source %d: %s (relevance: %.2f)]\n%s",
			i+1, chunk.Source, chunk.Score, chunk.Text))
	}
	return strings.Join(blocks, chunkSeparator)
}

// template returns the contents of path, reading through the cache.
// An empty path selects the built-in default.
func (a *Assembler) template(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	if cached, ok := a.templates.Get(path); ok {
		return cached.(string), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read template: %w", err)
	}
	tmpl := string(data)
	a.templates.Set(path, tmpl, gocache.NoExpiration)
	return tmpl, nil
}

func substitute(tmpl, question, contextBlock string) string {
	out := strings.ReplaceAll(tmpl, questionPlaceholder, question)
	return strings.ReplaceAll(out, contextPlaceholder, contextBlock)
}
