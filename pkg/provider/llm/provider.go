// Package llm defines the Provider interface for chat-completion backends.
//
// The conversation server sends the full dialogue history plus the newly
// transcribed line and needs exactly one reply back, so the interface is a
// single blocking Complete call. CountTokens and Capabilities let the server
// trim the oldest exchanges when a long routine outgrows the model's context
// window.
//
// Implementations must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/ventriloquist/pkg/types"
)

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce the next
// line. Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation, ending with the line to respond to.
	Messages []types.Message

	// Temperature controls randomness in [0.0, 2.0]. Zero selects the
	// provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero selects the provider default.
	MaxTokens int

	// SystemPrompt is prepended as a system message when non-empty. The
	// character prompt normally travels inside Messages instead.
	SystemPrompt string
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	// Content is the raw reply text, before dialogue extraction.
	Content string

	// Usage contains token accounting for this request.
	Usage Usage
}

// Provider is the abstraction over any chat-completion backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It returns promptly
	// when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the context-window cost of messages. The result
	// need not be exact but should not undercount.
	CountTokens(messages []types.Message) (int, error)

	// Capabilities returns static metadata about the configured model.
	Capabilities() types.ModelCapabilities
}
