// Package llm: LLMProvider interface.
// Adapters (OpenAI, Ollama) implement this interface so the relay is never
// coupled to a specific vendor.
package llm

import "context"

// LLMProvider is the model-agnostic interface for completion providers.
// Streaming is deliberately absent: replies are delivered whole.
type LLMProvider interface {
	// ChatCompletion performs a single non-streaming chat completion.
	// Failures are one of *ProviderError, *NetworkError, ErrMalformedResponse,
	// or a plain error for local failures (request construction etc).
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// ModelInfo returns static metadata about the provider/model.
	ModelInfo() ModelMeta

	// HealthCheck returns nil if the provider is reachable and accepts our credentials.
	HealthCheck(ctx context.Context) error
}
