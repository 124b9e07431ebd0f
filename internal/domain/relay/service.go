package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/matiasleandrokruk/voxrelay/internal/infra/eventbus"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/llm"
)

const instrumentationName = "github.com/matiasleandrokruk/voxrelay/internal/domain/relay"

// State of a registered connection.
type State string

const (
	StateConnected  State = "connected"
	StateConfigured State = "configured"
)

type session struct {
	prompt      string // empty until configured
	connectedAt time.Time
}

// Service is the conversation relay. It owns the connection registry;
// sessions live from Connect until Disconnect and nothing survives a reconnect.
type Service struct {
	provider llm.LLMProvider
	bus      eventbus.EventBus
	logger   zerolog.Logger
	replies  metric.Int64Counter
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService creates a relay calling provider. bus may be nil.
func NewService(provider llm.LLMProvider, bus eventbus.EventBus, logger zerolog.Logger) *Service {
	s := &Service{
		provider: provider,
		bus:      bus,
		logger:   logger.With().Str("component", "relay").Logger(),
		now:      time.Now,
		sessions: make(map[string]*session),
	}
	counter, err := otel.Meter(instrumentationName).Int64Counter(
		"voxrelay.replies",
		metric.WithDescription("Replies emitted to clients, by outcome"),
	)
	if err == nil {
		s.replies = counter
	}
	return s
}

// Connect registers an empty session for id.
func (s *Service) Connect(id string) error {
	if id == "" {
		return fmt.Errorf("relay: connect: empty connection id")
	}
	s.mu.Lock()
	if _, exists := s.sessions[id]; exists {
		s.mu.Unlock()
		return fmt.Errorf("relay: connect %s: already registered", id)
	}
	s.sessions[id] = &session{connectedAt: s.now()}
	s.mu.Unlock()

	s.logger.Info().Str("conn_id", id).Msg("connection registered")
	s.publish(TopicConnected, LifecycleEvent{ConnectionID: id, Kind: KindConnected})
	return nil
}

// Configure stores text, trimmed, as the system prompt for id. Last write wins.
func (s *Service) Configure(id, text string) error {
	prompt := strings.TrimSpace(text)
	if prompt == "" {
		return ErrEmptyPrompt
	}

	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		sess.prompt = prompt
	}
	s.mu.Unlock()
	if !ok {
		return ErrUnknownConnection
	}

	s.logger.Debug().Str("conn_id", id).Int("prompt_len", len(prompt)).Msg("system prompt set")
	s.publish(TopicConfigured, LifecycleEvent{ConnectionID: id, Kind: KindConfigured})
	return nil
}

// Submit sends text to the provider with the connection's current prompt and
// emits exactly one EventBotResponse followed by EventBotResponseEnd.
//
// The provider is called once. If id disconnects while the call is in flight
// the reply is dropped and ErrConnectionGone is returned. The returned Outcome
// is set whenever the provider was called.
func (s *Service) Submit(ctx context.Context, id, text string, out Emitter) (Outcome, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	var prompt string
	if ok {
		prompt = sess.prompt
	}
	s.mu.Unlock()
	if !ok {
		return "", ErrUnknownConnection
	}

	model := s.provider.ModelInfo().ID
	started := s.now()
	resp, err := s.provider.ChatCompletion(ctx, llm.ChatRequest{Messages: buildMessages(prompt, text)})
	res := classify(resp, err)
	elapsed := s.now().Sub(started)

	delivered := s.isCurrent(id, sess)
	s.publish(TopicExchanged, LifecycleEvent{
		ConnectionID: id,
		Kind:         KindExchanged,
		Outcome:      res.Outcome,
		Model:        model,
		Duration:     elapsed,
		Delivered:    delivered,
	})

	evt := s.logger.Info()
	if res.Outcome != OutcomeSuccess {
		evt = s.logger.Warn().Err(err)
	}
	evt.Str("conn_id", id).
		Str("outcome", string(res.Outcome)).
		Str("model", model).
		Dur("duration", elapsed).
		Bool("delivered", delivered).
		Msg("exchange finished")

	if !delivered {
		return res.Outcome, ErrConnectionGone
	}
	s.countReply(ctx, res.Outcome)

	if err := out.Emit(EventBotResponse, res.Reply); err != nil {
		return res.Outcome, fmt.Errorf("relay: emit %s: %w", EventBotResponse, err)
	}
	if err := out.Emit(EventBotResponseEnd, ""); err != nil {
		return res.Outcome, fmt.Errorf("relay: emit %s: %w", EventBotResponseEnd, err)
	}
	return res.Outcome, nil
}

// Disconnect drops the session for id. In-flight submits are not cancelled.
// Disconnecting an unknown id is a no-op.
func (s *Service) Disconnect(id string) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return
	}

	s.logger.Info().
		Str("conn_id", id).
		Dur("lifetime", s.now().Sub(sess.connectedAt)).
		Msg("connection removed")
	s.publish(TopicDisconnected, LifecycleEvent{ConnectionID: id, Kind: KindDisconnected})
}

// State reports the state of id; false when it is not registered.
func (s *Service) State(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	if sess.prompt != "" {
		return StateConfigured, true
	}
	return StateConnected, true
}

// Active returns the number of registered connections.
func (s *Service) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// isCurrent reports whether sess is still the registered session for id.
func (s *Service) isCurrent(id string, sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[id] == sess
}

func (s *Service) publish(topic string, evt LifecycleEvent) {
	if s.bus == nil {
		return
	}
	evt.OccurredAt = s.now()
	s.bus.Publish(topic, evt)
}

func (s *Service) countReply(ctx context.Context, outcome Outcome) {
	if s.replies == nil {
		return
	}
	s.replies.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}
