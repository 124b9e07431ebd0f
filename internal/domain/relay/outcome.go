package relay

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matiasleandrokruk/voxrelay/internal/infra/llm"
)

// result is a classified exchange ready to be rendered to the client.
type result struct {
	Outcome Outcome
	Reply   string
}

// classify maps a provider call result onto exactly one Outcome and its reply text.
func classify(resp *llm.ChatResponse, err error) result {
	var provErr *llm.ProviderError
	var netErr *llm.NetworkError

	switch {
	case err == nil && resp != nil && strings.TrimSpace(resp.Content) != "":
		return result{Outcome: OutcomeSuccess, Reply: resp.Content}
	case err == nil, errors.Is(err, llm.ErrMalformedResponse):
		return result{Outcome: OutcomeMalformed, Reply: ReplyMalformed}
	case errors.As(err, &provErr):
		return result{Outcome: OutcomeProviderError, Reply: fmt.Sprintf(ReplyProviderErrorFmt, provErr.Message)}
	case errors.As(err, &netErr):
		return result{Outcome: OutcomeNetworkError, Reply: ReplyNetworkError}
	default:
		return result{Outcome: OutcomeLocalError, Reply: ReplyLocalError}
	}
}

// buildMessages assembles the two-message completion request. No prior turns are kept.
func buildMessages(prompt, text string) []llm.Message {
	if prompt == "" {
		prompt = DefaultSystemPrompt
	}
	return []llm.Message{
		{Role: llm.RoleSystem, Content: prompt},
		{Role: llm.RoleUser, Content: text},
	}
}
