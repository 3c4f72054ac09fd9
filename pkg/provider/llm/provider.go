// Package llm is the seam between the rewrite stage and whichever model
// backend is configured. A [Provider] takes one prompt and returns one
// complete reply; streaming and tool calls are not needed for copyediting.
//
// Implementations must be safe for concurrent use and return promptly once
// ctx is cancelled. Failures should wrap types.ErrConfiguration when the
// backend rejects the credentials or model, and types.ErrUpstream otherwise.
package llm

import "context"

// Message roles understood by every backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the prompt.
type Message struct {
	Role    string
	Content string
}

// CompletionRequest is a single prompt. Messages must not be empty.
type CompletionRequest struct {
	// SystemPrompt carries the editing instructions. Backends without a
	// dedicated field send it as a leading [RoleSystem] message.
	SystemPrompt string

	// Messages holds the paragraph to edit, normally as one [RoleUser] turn.
	Messages []Message

	// Temperature is passed through unless zero, which keeps the backend
	// default.
	Temperature float64

	// MaxTokens caps the reply length. Zero keeps the backend default.
	MaxTokens int

	// JSONMode asks for a JSON object reply where the backend can enforce
	// it. Backends that cannot simply ignore it.
	JSONMode bool
}

// Usage is the token accounting reported for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionResponse is the model's full reply.
type CompletionResponse struct {
	Content string
	Usage   Usage
}

// ModelCapabilities are static limits of the configured model.
type ModelCapabilities struct {
	ContextWindow    int
	MaxOutputTokens  int
	SupportsJSONMode bool
}

// Provider is implemented by every model backend.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	Capabilities() ModelCapabilities
}
