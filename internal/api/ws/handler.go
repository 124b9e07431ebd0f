// Package ws is the websocket transport for the relay. Each upgraded
// connection becomes one relay session for as long as its read loop runs.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/voxrelay/internal/domain/relay"
)

const (
	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second
	maxFrameBytes    = 64 << 10
)

// Relay is the subset of relay.Service the transport drives.
type Relay interface {
	Connect(id string) error
	Configure(id, text string) error
	Submit(ctx context.Context, id, text string, out relay.Emitter) (relay.Outcome, error)
	Disconnect(id string)
}

// Option customizes a Handler.
type Option func(*Handler)

// WithPongWait sets how long a silent peer is kept; pings go out at 9/10 of it.
func WithPongWait(d time.Duration) Option {
	return func(h *Handler) { h.pongWait = d }
}

// WithWriteWait bounds every write.
func WithWriteWait(d time.Duration) Option {
	return func(h *Handler) { h.writeWait = d }
}

// WithIDGenerator replaces the UUID connection-id source.
func WithIDGenerator(fn func() string) Option {
	return func(h *Handler) { h.newID = fn }
}

// Handler upgrades requests and runs one read loop per connection.
type Handler struct {
	relay     Relay
	upgrader  websocket.Upgrader
	logger    zerolog.Logger
	newID     func() string
	writeWait time.Duration
	pongWait  time.Duration

	mu       sync.Mutex
	conns    map[string]*conn
	inflight sync.WaitGroup
}

// NewHandler returns a websocket handler bound to r.
func NewHandler(r Relay, logger zerolog.Logger, opts ...Option) *Handler {
	h := &Handler{
		relay:     r,
		upgrader:  websocket.Upgrader{CheckOrigin: allowAnyOrigin},
		logger:    logger.With().Str("component", "ws").Logger(),
		newID:     uuid.NewString,
		writeWait: defaultWriteWait,
		pongWait:  defaultPongWait,
		conns:     make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// No authentication; any origin may connect.
func allowAnyOrigin(*http.Request) bool { return true }

// ServeHTTP upgrades the request and blocks until the connection ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	id := h.newID()
	log := h.logger.With().Str("conn_id", id).Str("remote", r.RemoteAddr).Logger()
	if err := h.relay.Connect(id); err != nil {
		log.Error().Err(err).Msg("relay rejected connection")
		_ = wsConn.Close()
		return
	}
	c := newConn(id, wsConn, h.writeWait)
	h.track(c)
	log.Info().Msg("ws connected")

	defer func() {
		h.untrack(c)
		c.close()
		h.relay.Disconnect(id)
		log.Info().Msg("ws disconnected")
	}()

	// Submits keep running after the read loop ends; the request context must not cancel them.
	ctx := context.WithoutCancel(r.Context())

	stop := make(chan struct{})
	defer close(stop)
	go h.keepalive(c, stop, log)

	wsConn.SetReadLimit(maxFrameBytes)
	_ = wsConn.SetReadDeadline(time.Now().Add(h.pongWait))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		msgType, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Warn().Err(err).Msg("ws read loop end")
			} else {
				log.Debug().Err(err).Msg("ws read loop end")
			}
			return
		}
		if msgType != websocket.TextMessage {
			log.Debug().Int("type", msgType).Msg("ignoring non-text frame")
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Warn().Err(err).Int("bytes", len(data)).Msg("ignoring malformed frame")
			continue
		}
		h.dispatch(ctx, c, env, log)
	}
}

func (h *Handler) dispatch(ctx context.Context, c *conn, env Envelope, log zerolog.Logger) {
	switch env.Event {
	case relay.EventSetSystemMessage:
		if err := h.relay.Configure(c.id, env.Data); err != nil {
			if errors.Is(err, relay.ErrEmptyPrompt) {
				log.Debug().Msg("ignoring empty system prompt")
				return
			}
			log.Warn().Err(err).Msg("configure failed")
		}
	case relay.EventUserMessage:
		// Runs on its own goroutine so later frames are read while the provider call is in flight.
		h.inflight.Add(1)
		go func() {
			defer h.inflight.Done()
			if _, err := h.relay.Submit(ctx, c.id, env.Data, c); err != nil {
				if errors.Is(err, relay.ErrConnectionGone) || errors.Is(err, relay.ErrUnknownConnection) {
					log.Debug().Err(err).Msg("reply discarded")
					return
				}
				log.Warn().Err(err).Msg("submit failed")
			}
		}()
	default:
		log.Warn().Str("event", env.Event).Msg("ignoring unknown event")
	}
}

func (h *Handler) keepalive(c *conn, stop <-chan struct{}, log zerolog.Logger) {
	ticker := time.NewTicker(h.pongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.ping(); err != nil {
				log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

func (h *Handler) track(c *conn) {
	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()
}

func (h *Handler) untrack(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	h.mu.Unlock()
}

// Count returns the number of open connections.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Shutdown closes every open connection, then waits for in-flight submits
// to finish or ctx to expire.
func (h *Handler) Shutdown(ctx context.Context) error {
	h.mu.Lock()
	open := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		open = append(open, c)
	}
	h.mu.Unlock()
	for _, c := range open {
		c.close()
	}

	done := make(chan struct{})
	go func() {
		h.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
