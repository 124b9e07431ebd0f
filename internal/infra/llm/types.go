// Package llm defines the model-agnostic completion provider abstraction.
// All types here are shared between the provider interface and adapters.
package llm

// Roles accepted by chat-completion providers.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a single turn in a conversation (role + content).
type Message struct {
	Role    string // "system" | "user" | "assistant"
	Content string
}

// ChatRequest is the input for a non-streaming chat completion.
type ChatRequest struct {
	// Model overrides the provider default when non-empty.
	Model       string
	Messages    []Message
	Temperature float32
	MaxTokens   int
}

// ChatResponse is the output from a non-streaming chat completion.
type ChatResponse struct {
	Content    string // The assistant message text.
	StopReason string // "stop" | "length" | ...
	Tokens     int    // Total tokens consumed (prompt + completion), 0 when not reported.
}

// ModelMeta describes the model / provider identity.
type ModelMeta struct {
	ID        string // e.g. "gpt-3.5-turbo", "llama3.2:3b"
	Provider  string // e.g. "openai", "ollama"
	Version   string // API version, e.g. "v1"
	MaxTokens int    // Maximum context window size.
}
