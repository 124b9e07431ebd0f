package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/matiasleandrokruk/voxrelay/internal/infra/eventbus"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/llm"
)

// fakeProvider records every request and answers with answer, or "ok" when unset.
type fakeProvider struct {
	mu       sync.Mutex
	requests []llm.ChatRequest
	answer   func(req llm.ChatRequest) (*llm.ChatResponse, error)
}

func (f *fakeProvider) ChatCompletion(_ context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	answer := f.answer
	f.mu.Unlock()
	if answer == nil {
		return &llm.ChatResponse{Content: "ok"}, nil
	}
	return answer(req)
}

func (f *fakeProvider) ModelInfo() llm.ModelMeta {
	return llm.ModelMeta{ID: "fake-model", Provider: "fake"}
}

func (f *fakeProvider) HealthCheck(context.Context) error { return nil }

func (f *fakeProvider) calls() []llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.ChatRequest(nil), f.requests...)
}

type emitted struct {
	Event string
	Data  string
}

// recorder is an Emitter capturing everything sent to one connection.
type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(event, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{Event: event, Data: data})
	return nil
}

func (r *recorder) all() []emitted {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]emitted(nil), r.events...)
}

func newTestService(t *testing.T, p llm.LLMProvider) *Service {
	t.Helper()
	return NewService(p, nil, zerolog.Nop())
}

func reply(text string) []emitted {
	return []emitted{{Event: EventBotResponse, Data: text}, {Event: EventBotResponseEnd}}
}

func TestSubmit_WithoutConfigure_UsesDefaultPrompt(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{answer: func(llm.ChatRequest) (*llm.ChatResponse, error) {
		return &llm.ChatResponse{Content: "Hi there!"}, nil
	}}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("c1"))

	out := &recorder{}
	outcome, err := s.Submit(context.Background(), "c1", "Hello", out)
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
	require.Equal(t, reply("Hi there!"), out.all())

	calls := p.calls()
	require.Len(t, calls, 1)
	require.Equal(t, []llm.Message{
		{Role: llm.RoleSystem, Content: DefaultSystemPrompt},
		{Role: llm.RoleUser, Content: "Hello"},
	}, calls[0].Messages)
}

func TestConfigure_PromptUsedOnSubmit_Trimmed(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("c1"))
	require.NoError(t, s.Configure("c1", "  You are a pirate.  "))

	_, err := s.Submit(context.Background(), "c1", "Hello", &recorder{})
	require.NoError(t, err)
	require.Equal(t, "You are a pirate.", p.calls()[0].Messages[0].Content)
}

func TestConfigure_LastWriteWins(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("c1"))
	require.NoError(t, s.Configure("c1", "P1"))
	require.NoError(t, s.Configure("c1", "P2"))

	for i := 0; i < 2; i++ {
		_, err := s.Submit(context.Background(), "c1", "q", &recorder{})
		require.NoError(t, err)
	}
	for _, req := range p.calls() {
		require.Equal(t, "P2", req.Messages[0].Content)
	}
}

func TestConfigure_EmptyIsNoOp(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("fresh"))
	require.NoError(t, s.Connect("set"))
	require.NoError(t, s.Configure("set", "P1"))

	require.ErrorIs(t, s.Configure("fresh", ""), ErrEmptyPrompt)
	require.ErrorIs(t, s.Configure("set", " \t\n "), ErrEmptyPrompt)

	_, err := s.Submit(context.Background(), "fresh", "q", &recorder{})
	require.NoError(t, err)
	_, err = s.Submit(context.Background(), "set", "q", &recorder{})
	require.NoError(t, err)

	calls := p.calls()
	require.Equal(t, DefaultSystemPrompt, calls[0].Messages[0].Content)
	require.Equal(t, "P1", calls[1].Messages[0].Content)
}

func TestSubmit_Outcomes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		resp    *llm.ChatResponse
		err     error
		outcome Outcome
		reply   string
	}{
		{"success", &llm.ChatResponse{Content: "Hi there!"}, nil, OutcomeSuccess, "Hi there!"},
		{"empty content", &llm.ChatResponse{Content: ""}, nil, OutcomeMalformed, ReplyMalformed},
		{"nil response", nil, nil, OutcomeMalformed, ReplyMalformed},
		{"malformed", nil, llm.ErrMalformedResponse, OutcomeMalformed, ReplyMalformed},
		{"wrapped malformed", nil, errors.Join(errors.New("decode"), llm.ErrMalformedResponse), OutcomeMalformed, ReplyMalformed},
		{
			"provider error",
			nil,
			&llm.ProviderError{Provider: "openai", StatusCode: 401, Message: "Invalid API key"},
			OutcomeProviderError,
			"OpenAI API Error: Invalid API key",
		},
		{"network", nil, &llm.NetworkError{Provider: "openai", Err: errors.New("connection refused")}, OutcomeNetworkError, ReplyNetworkError},
		{"local", nil, errors.New("build request: bad url"), OutcomeLocalError, ReplyLocalError},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := &fakeProvider{answer: func(llm.ChatRequest) (*llm.ChatResponse, error) { return tc.resp, tc.err }}
			s := newTestService(t, p)
			require.NoError(t, s.Connect("c1"))

			out := &recorder{}
			outcome, err := s.Submit(context.Background(), "c1", "Hello", out)
			require.NoError(t, err)
			require.Equal(t, tc.outcome, outcome)
			require.Equal(t, reply(tc.reply), out.all())
			require.Len(t, p.calls(), 1, "provider must be called exactly once")
		})
	}
}

func TestSubmit_UnknownConnection_EmitsNothing(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	s := newTestService(t, p)

	out := &recorder{}
	_, err := s.Submit(context.Background(), "ghost", "Hello", out)
	require.ErrorIs(t, err, ErrUnknownConnection)
	require.Empty(t, out.all())
	require.Empty(t, p.calls())

	require.NoError(t, s.Connect("c1"))
	s.Disconnect("c1")
	_, err = s.Submit(context.Background(), "c1", "Hello", out)
	require.ErrorIs(t, err, ErrUnknownConnection)
	require.ErrorIs(t, s.Configure("c1", "P"), ErrUnknownConnection)
	require.Empty(t, out.all())
}

func TestSubmit_DisconnectWhileInFlight_DropsReply(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	p := &fakeProvider{answer: func(llm.ChatRequest) (*llm.ChatResponse, error) {
		close(entered)
		<-release
		return &llm.ChatResponse{Content: "too late"}, nil
	}}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("c1"))

	out := &recorder{}
	done := make(chan error, 1)
	go func() {
		_, err := s.Submit(context.Background(), "c1", "Hello", out)
		done <- err
	}()

	<-entered
	s.Disconnect("c1")
	close(release)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrConnectionGone)
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return")
	}
	require.Empty(t, out.all())
}

func TestSubmit_SnapshotsPromptAtCallTime(t *testing.T) {
	t.Parallel()

	entered := make(chan struct{})
	release := make(chan struct{})
	var first sync.Once
	p := &fakeProvider{answer: func(llm.ChatRequest) (*llm.ChatResponse, error) {
		blocked := false
		first.Do(func() { blocked = true })
		if blocked {
			close(entered)
			<-release
		}
		return &llm.ChatResponse{Content: "ok"}, nil
	}}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("c1"))
	require.NoError(t, s.Configure("c1", "P1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Submit(context.Background(), "c1", "first", &recorder{})
	}()
	<-entered

	// Configure is not blocked by the in-flight call.
	require.NoError(t, s.Configure("c1", "P2"))
	_, err := s.Submit(context.Background(), "c1", "second", &recorder{})
	require.NoError(t, err)
	close(release)
	<-done

	byText := map[string]string{}
	for _, req := range p.calls() {
		byText[req.Messages[1].Content] = req.Messages[0].Content
	}
	require.Equal(t, map[string]string{"first": "P1", "second": "P2"}, byText)
}

func TestSubmit_ConcurrentCallsAreIndependent(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{answer: func(req llm.ChatRequest) (*llm.ChatResponse, error) {
		if req.Messages[1].Content == "fail" {
			return nil, &llm.NetworkError{Provider: "fake", Err: errors.New("reset")}
		}
		return &llm.ChatResponse{Content: "answer to " + req.Messages[1].Content}, nil
	}}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("a"))
	require.NoError(t, s.Connect("b"))
	require.NoError(t, s.Configure("a", "prompt A"))

	outA, outB := &recorder{}, &recorder{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Submit(context.Background(), "a", "fail", outA)
	}()
	go func() {
		defer wg.Done()
		_, _ = s.Submit(context.Background(), "b", "ok", outB)
	}()
	wg.Wait()

	require.Equal(t, reply(ReplyNetworkError), outA.all())
	require.Equal(t, reply("answer to ok"), outB.all())

	for _, req := range p.calls() {
		if req.Messages[1].Content == "ok" {
			require.Equal(t, DefaultSystemPrompt, req.Messages[0].Content, "prompt leaked across connections")
		}
	}
}

func TestSubmit_EmitError_IsReturned(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeProvider{})
	require.NoError(t, s.Connect("c1"))

	broken := EmitterFunc(func(string, string) error { return errors.New("closed") })
	outcome, err := s.Submit(context.Background(), "c1", "Hello", broken)
	require.Error(t, err)
	require.Equal(t, OutcomeSuccess, outcome)
}

func TestLifecycle_States(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &fakeProvider{})

	_, ok := s.State("c1")
	require.False(t, ok)

	require.NoError(t, s.Connect("c1"))
	require.Error(t, s.Connect("c1"), "duplicate id must be rejected")
	require.Error(t, s.Connect(""))

	st, ok := s.State("c1")
	require.True(t, ok)
	require.Equal(t, StateConnected, st)

	_, err := s.Submit(context.Background(), "c1", "Hello", &recorder{})
	require.NoError(t, err)
	st, _ = s.State("c1")
	require.Equal(t, StateConnected, st, "submit does not change state")

	require.NoError(t, s.Configure("c1", "P"))
	st, _ = s.State("c1")
	require.Equal(t, StateConfigured, st)
	require.Equal(t, 1, s.Active())

	s.Disconnect("c1")
	s.Disconnect("c1")
	_, ok = s.State("c1")
	require.False(t, ok)
	require.Equal(t, 0, s.Active())
}

func TestReconnect_StartsFresh(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	s := newTestService(t, p)
	require.NoError(t, s.Connect("c1"))
	require.NoError(t, s.Configure("c1", "P1"))
	s.Disconnect("c1")
	require.NoError(t, s.Connect("c1"))

	_, err := s.Submit(context.Background(), "c1", "Hello", &recorder{})
	require.NoError(t, err)
	require.Equal(t, DefaultSystemPrompt, p.calls()[0].Messages[0].Content)
}

func TestService_PublishesLifecycleEvents(t *testing.T) {
	t.Parallel()

	bus := eventbus.New()
	defer bus.Close()
	connected := bus.Subscribe(TopicConnected)
	configured := bus.Subscribe(TopicConfigured)
	exchanged := bus.Subscribe(TopicExchanged)
	disconnected := bus.Subscribe(TopicDisconnected)

	p := &fakeProvider{answer: func(llm.ChatRequest) (*llm.ChatResponse, error) {
		return nil, &llm.ProviderError{Provider: "fake", StatusCode: 500, Message: "boom"}
	}}
	s := NewService(p, bus, zerolog.Nop())

	require.NoError(t, s.Connect("c1"))
	require.NoError(t, s.Configure("c1", "secret prompt"))
	_, err := s.Submit(context.Background(), "c1", "secret text", &recorder{})
	require.NoError(t, err)
	s.Disconnect("c1")

	next := func(ch <-chan eventbus.Event) LifecycleEvent {
		t.Helper()
		select {
		case evt := <-ch:
			le, ok := evt.Payload.(LifecycleEvent)
			require.True(t, ok)
			return le
		case <-time.After(time.Second):
			t.Fatal("no event published")
			return LifecycleEvent{}
		}
	}

	require.Equal(t, KindConnected, next(connected).Kind)
	require.Equal(t, KindConfigured, next(configured).Kind)

	ex := next(exchanged)
	require.Equal(t, "c1", ex.ConnectionID)
	require.Equal(t, OutcomeProviderError, ex.Outcome)
	require.Equal(t, "fake-model", ex.Model)
	require.True(t, ex.Delivered)
	require.False(t, ex.OccurredAt.IsZero())

	require.Equal(t, KindDisconnected, next(disconnected).Kind)
}
