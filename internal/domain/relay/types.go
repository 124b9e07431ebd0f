// Package relay holds per-connection conversation state and runs the
// utterance → completion → reply exchange.
package relay

import (
	"errors"
	"time"
)

// Event names on the client connection.
const (
	EventSetSystemMessage = "set-system-message"
	EventUserMessage      = "user-message"
	EventBotResponse      = "bot-response"
	EventBotResponseEnd   = "bot-response-end"
)

// Bus topics published by the relay.
const (
	TopicConnected    = "relay.connected"
	TopicConfigured   = "relay.configured"
	TopicExchanged    = "relay.exchanged"
	TopicDisconnected = "relay.disconnected"
)

// DefaultSystemPrompt is sent when the connection never configured one.
const DefaultSystemPrompt = "You are a helpful assistant."

// Fixed reply texts for failed exchanges.
const (
	ReplyMalformed        = "Sorry, I couldn't process that. Please try again."
	ReplyProviderErrorFmt = "OpenAI API Error: %s"
	ReplyNetworkError     = "No response from OpenAI API. Please try again later."
	ReplyLocalError       = "An error occurred while processing your request."
)

var (
	// ErrEmptyPrompt is returned by Configure for blank text; the stored prompt is untouched.
	ErrEmptyPrompt = errors.New("relay: empty system prompt")
	// ErrUnknownConnection is returned for ids that never connected or already disconnected.
	ErrUnknownConnection = errors.New("relay: unknown connection")
	// ErrConnectionGone is returned by Submit when the connection closed while
	// the completion call was in flight. Nothing was emitted.
	ErrConnectionGone = errors.New("relay: connection closed before reply")
)

// Outcome classifies one completion exchange.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeMalformed     Outcome = "malformed"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeNetworkError  Outcome = "network_error"
	OutcomeLocalError    Outcome = "local_error"
)

// Emitter delivers server→client events on one connection.
// data is empty for EventBotResponseEnd.
type Emitter interface {
	Emit(event, data string) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event, data string) error

func (f EmitterFunc) Emit(event, data string) error { return f(event, data) }

// LifecycleEvent is the bus payload for every relay topic.
// It never carries prompt or message text.
type LifecycleEvent struct {
	ConnectionID string
	Kind         string // connected | configured | exchanged | disconnected
	Outcome      Outcome
	Model        string
	Duration     time.Duration
	// Delivered is false when an exchange finished after its connection closed.
	Delivered  bool
	OccurredAt time.Time
}

// Lifecycle kinds, one per topic.
const (
	KindConnected    = "connected"
	KindConfigured   = "configured"
	KindExchanged    = "exchanged"
	KindDisconnected = "disconnected"
)
