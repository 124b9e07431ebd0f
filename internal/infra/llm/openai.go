// Package llm: OpenAI chat-completions HTTP adapter.
// Endpoints used:
//   - POST /v1/chat/completions  non-streaming chat completion
//   - GET  /v1/models            health check (validates reachability + API key)
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	mimeJSON            = "application/json"
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	// maxResponseBytes caps how much of a provider body is read into memory.
	maxResponseBytes = 4 << 20
)

// OpenAIProvider implements LLMProvider against the OpenAI chat-completions API
// or any endpoint speaking the same wire format.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	instr      instrumentation
}

// Option customizes an HTTP provider.
type Option func(*http.Client)

// WithTimeout sets an overall per-call timeout. The default is no timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *http.Client) { c.Timeout = d }
}

// WithTransport replaces the HTTP transport (tests, proxies).
func WithTransport(rt http.RoundTripper) Option {
	return func(c *http.Client) { c.Transport = rt }
}

func newHTTPClient(opts []Option) *http.Client {
	c := &http.Client{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewOpenAIProvider creates an OpenAIProvider. apiKey is sent as a bearer token
// on every call and never changes for the provider's lifetime.
func NewOpenAIProvider(baseURL, apiKey, model string, opts ...Option) *OpenAIProvider {
	return &OpenAIProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		model:      model,
		httpClient: newHTTPClient(opts),
		instr:      newInstrumentation("openai"),
	}
}

// ─── internal OpenAI JSON types ──────────────────────────────────────────────

type openAIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Stream      bool                `json:"stream"`
	Temperature float32             `json:"temperature,omitempty"`
	MaxTokens   int                 `json:"max_tokens,omitempty"`
}

type openAIChoice struct {
	Index        int                `json:"index"`
	Message      *openAIChatMessage `json:"message"`
	FinishReason string             `json:"finish_reason"`
}

type openAIChatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []openAIChoice `json:"choices"`
	Usage   *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorBody struct {
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ─── LLMProvider implementation ─────────────────────────────────────────────

// ChatCompletion performs a non-streaming chat via POST /v1/chat/completions.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	ctx, span := p.instr.start(ctx, "chat_completion", model)
	started := time.Now()
	resp, err := p.chat(ctx, model, req)
	p.instr.end(ctx, span, started, err)
	return resp, err
}

func (p *OpenAIProvider) chat(ctx context.Context, model string, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]openAIChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = openAIChatMessage(m)
	}

	body, err := json.Marshal(openAIChatRequest{
		Model:       model,
		Messages:    msgs,
		Stream:      false,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat: encode request: %w", err)
	}

	raw, status, err := p.do(ctx, http.MethodPost, "/v1/chat/completions", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ProviderError{Provider: "openai", StatusCode: status, Message: openAIErrorMessage(raw, status)}
	}

	var out openAIChatResponse
	if decodeErr := json.Unmarshal(raw, &out); decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message == nil || out.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf("%w: no choice with message content", ErrMalformedResponse)
	}

	resp := &ChatResponse{
		Content:    out.Choices[0].Message.Content,
		StopReason: out.Choices[0].FinishReason,
	}
	if out.Usage != nil {
		resp.Tokens = out.Usage.TotalTokens
	}
	return resp, nil
}

// ModelInfo returns static metadata for this provider/model.
func (p *OpenAIProvider) ModelInfo() ModelMeta {
	return ModelMeta{
		ID:        p.model,
		Provider:  "openai",
		Version:   "v1",
		MaxTokens: 4096,
	}
}

// HealthCheck calls GET /v1/models and returns nil if the API is reachable and the key is accepted.
func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	raw, status, err := p.do(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return fmt.Errorf("openai healthcheck: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("openai healthcheck: %w", &ProviderError{Provider: "openai", StatusCode: status, Message: openAIErrorMessage(raw, status)})
	}
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

// do sends one request and returns the (size-capped) body and status code.
// A transport failure, or a body that cannot be read, is a *NetworkError.
func (p *OpenAIProvider) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("openai %s %s: build request: %w", method, path, err)
	}
	req.Header.Set(headerAuthorization, "Bearer "+p.apiKey)
	if body != nil {
		req.Header.Set(headerContentType, mimeJSON)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, &NetworkError{Provider: "openai", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, &NetworkError{Provider: "openai", Err: fmt.Errorf("read body: %w", err)}
	}
	return raw, resp.StatusCode, nil
}

// openAIErrorMessage extracts error.message from an OpenAI error body.
func openAIErrorMessage(raw []byte, status int) string {
	var eb openAIErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	return statusText(status)
}

func statusText(status int) string {
	if txt := http.StatusText(status); txt != "" {
		return txt
	}
	return fmt.Sprintf("status %d", status)
}
