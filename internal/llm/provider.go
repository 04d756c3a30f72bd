// Package llm defines the provider-agnostic interface to the AI backend.
//
// The session core only depends on this contract: a model tier selector
// and a streamed-text completion. Backend protocol details live in the
// provider subpackages.
package llm

import "context"

// Tier selects the model class for a request.
type Tier string

const (
	// TierLarge is the stronger, slower model for complex tasks.
	TierLarge Tier = "large"
	// TierSmall is the faster model for simple tasks.
	TierSmall Tier = "small"
)

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends a conversation and returns the full response text.
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

// Request represents one completion request.
type Request struct {
	SystemPrompt string
	// Instructions are user-supplied custom instructions folded into the
	// request after the system prompt.
	Instructions string
	Messages     []Message
	Tier         Tier
	MaxTokens    int
}

// Role identifies the author of a message.
type Role string

const (
	// RoleUser marks user input.
	RoleUser Role = "user"
	// RoleAssistant marks model output.
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Response is the complete model output.
type Response struct {
	Content    string
	Model      string
	StopReason string
}
