// Package llm talks to the language model that drives the recruiting
// loop and condenses tool results.
package llm

import "context"

// Client is the interface a model provider implements.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// Tools are OpenAI-style function definitions; see [FunctionTool].
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable and accepts our credentials.
	Ping(ctx context.Context) error
}
