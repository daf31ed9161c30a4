// Package llm talks to chat completion providers and adds the uniform
// retry policy and structured-output helpers used by handlers,
// guardrails, and the job extractor.
package llm

import "context"

// Client is the interface every provider implements.
type Client interface {
	// Chat sends a chat completion request. tools is a list of
	// OpenAI-format function definitions and may be nil.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// ChatSchema asks for a JSON answer conforming to schema. The JSON
	// document is returned in the response message content.
	ChatSchema(ctx context.Context, model string, messages []Message, schema *Schema) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
