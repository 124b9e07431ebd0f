// Package llm: Ollama HTTP adapter.
// Endpoints used:
//   - POST /api/chat  non-streaming chat completion
//   - GET  /api/tags  health check (lists available models)
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

// OllamaProvider implements LLMProvider against a running Ollama instance.
type OllamaProvider struct {
	baseURL    string
	model      string
	httpClient *http.Client
	instr      instrumentation
}

// NewOllamaProvider creates an OllamaProvider for the given chat model.
func NewOllamaProvider(baseURL, model string, opts ...Option) *OllamaProvider {
	return &OllamaProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		httpClient: newHTTPClient(opts),
		instr:      newInstrumentation("ollama"),
	}
}

// ─── internal Ollama JSON types ──────────────────────────────────────────────

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message         *ollamaChatMessage `json:"message"`
	DoneReason      string             `json:"done_reason"`
	Done            bool               `json:"done"`
	PromptEvalCount int                `json:"prompt_eval_count"`
	EvalCount       int                `json:"eval_count"`
}

type ollamaErrorBody struct {
	Error string `json:"error"`
}

// ─── LLMProvider implementation ─────────────────────────────────────────────

// ChatCompletion performs a non-streaming chat via POST /api/chat.
func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
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

func (p *OllamaProvider) chat(ctx context.Context, model string, req ChatRequest) (*ChatResponse, error) {
	msgs := make([]ollamaChatMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollamaChatMessage(m)
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    model,
		Messages: msgs,
		Stream:   false,
		Options:  buildChatOptions(req),
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: encode request: %w", err)
	}

	raw, status, err := p.do(ctx, http.MethodPost, "/api/chat", body)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &ProviderError{Provider: "ollama", StatusCode: status, Message: ollamaErrorMessage(raw, status)}
	}

	var out ollamaChatResponse
	if decodeErr := json.Unmarshal(raw, &out); decodeErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, decodeErr)
	}
	if out.Message == nil || out.Message.Content == "" {
		return nil, fmt.Errorf("%w: no message content", ErrMalformedResponse)
	}
	return &ChatResponse{
		Content:    out.Message.Content,
		StopReason: out.DoneReason,
		Tokens:     out.PromptEvalCount + out.EvalCount,
	}, nil
}

// buildChatOptions converts ChatRequest fields into Ollama options map.
func buildChatOptions(req ChatRequest) map[string]any {
	opts := map[string]any{}
	if req.Temperature != 0 {
		opts["temperature"] = req.Temperature
	}
	if req.MaxTokens != 0 {
		opts["num_predict"] = req.MaxTokens
	}
	if len(opts) == 0 {
		return nil
	}
	return opts
}

// ModelInfo returns static metadata for this provider/model.
func (p *OllamaProvider) ModelInfo() ModelMeta {
	return ModelMeta{
		ID:        p.model,
		Provider:  "ollama",
		Version:   "v1",
		MaxTokens: 4096,
	}
}

// HealthCheck calls GET /api/tags and returns nil if Ollama is reachable.
func (p *OllamaProvider) HealthCheck(ctx context.Context) error {
	_, status, err := p.do(ctx, http.MethodGet, "/api/tags", nil)
	if err != nil {
		return fmt.Errorf("ollama healthcheck: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("ollama healthcheck: status %d", status)
	}
	return nil
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func (p *OllamaProvider) do(ctx context.Context, method, path string, body []byte) ([]byte, int, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("ollama %s %s: build request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set(headerContentType, mimeJSON)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, 0, &NetworkError{Provider: "ollama", Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, &NetworkError{Provider: "ollama", Err: fmt.Errorf("read body: %w", err)}
	}
	return raw, resp.StatusCode, nil
}

func ollamaErrorMessage(raw []byte, status int) string {
	var eb ollamaErrorBody
	if err := json.Unmarshal(raw, &eb); err == nil && eb.Error != "" {
		return eb.Error
	}
	return statusText(status)
}
