package llm

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when the provider answered 2xx but the body
// does not carry a usable completion.
var ErrMalformedResponse = errors.New("llm: malformed completion response")

// ProviderError is a non-2xx answer from the provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	// Message is the provider's own error text, or the HTTP status text when
	// the body carried none.
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// NetworkError means the request was sent but no response was received.
type NetworkError struct {
	Provider string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: no response: %v", e.Provider, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
