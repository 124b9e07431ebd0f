// Package journal appends relay lifecycle events to SQLite.
// The journal is append-only: there are no updates or deletes.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matiasleandrokruk/voxrelay/internal/domain/relay"
	"github.com/matiasleandrokruk/voxrelay/internal/infra/eventbus"
)

// Fixed-width so created_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const defaultListLimit = 100

// Service records and lists relay lifecycle events.
type Service struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewService creates a journal over a migrated database.
func NewService(db *sql.DB, logger zerolog.Logger) *Service {
	return &Service{db: db, logger: logger.With().Str("component", "journal").Logger()}
}

// Record appends evt.
func (s *Service) Record(ctx context.Context, evt relay.LifecycleEvent) error {
	occurred := evt.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}

	var outcome, model any
	var duration any
	if evt.Kind == relay.KindExchanged {
		outcome = string(evt.Outcome)
		model = evt.Model
		duration = evt.Duration.Milliseconds()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO relay_event (id, connection_id, kind, outcome, model, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, uuid.NewString(), evt.ConnectionID, evt.Kind, outcome, model, duration, occurred.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("journal: record %s for %s: %w", evt.Kind, evt.ConnectionID, err)
	}
	return nil
}

// ListByConnection returns the events of connectionID, oldest first.
// limit <= 0 uses the default of 100.
func (s *Service) ListByConnection(ctx context.Context, connectionID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, kind, outcome, model, duration_ms, created_at
		FROM relay_event
		WHERE connection_id = ?
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?
	`, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: list %s: %w", connectionID, err)
	}
	defer rows.Close() //nolint:errcheck

	entries := []Entry{}
	for rows.Next() {
		var (
			e        Entry
			outcome  sql.NullString
			model    sql.NullString
			duration sql.NullInt64
			created  string
		)
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.Kind, &outcome, &model, &duration, &created); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if outcome.Valid {
			e.Outcome = &outcome.String
		}
		if model.Valid {
			e.Model = &model.String
		}
		if duration.Valid {
			e.DurationMS = &duration.Int64
		}
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("journal: parse created_at %q: %w", created, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Start subscribes to the relay topics and records every event until ctx is
// done or the bus is closed. Events already buffered when the bus closes are
// still recorded.
func (s *Service) Start(ctx context.Context, bus eventbus.EventBus) {
	connected := bus.Subscribe(relay.TopicConnected)
	configured := bus.Subscribe(relay.TopicConfigured)
	exchanged := bus.Subscribe(relay.TopicExchanged)
	disconnected := bus.Subscribe(relay.TopicDisconnected)

	for connected != nil || configured != nil || exchanged != nil || disconnected != nil {
		var (
			evt eventbus.Event
			ok  bool
		)
		select {
		case <-ctx.Done():
			return
		case evt, ok = <-connected:
			if !ok {
				connected = nil
			}
		case evt, ok = <-configured:
			if !ok {
				configured = nil
			}
		case evt, ok = <-exchanged:
			if !ok {
				exchanged = nil
			}
		case evt, ok = <-disconnected:
			if !ok {
				disconnected = nil
			}
		}
		if !ok {
			continue
		}

		le, isLifecycle := evt.Payload.(relay.LifecycleEvent)
		if !isLifecycle {
			continue
		}
		// A write in progress finishes even if ctx is cancelled.
		if err := s.Record(context.WithoutCancel(ctx), le); err != nil {
			s.logger.Error().Err(err).Str("topic", evt.Topic).Msg("journal write failed")
		}
	}
}
