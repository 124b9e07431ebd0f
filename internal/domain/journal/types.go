package journal

import "time"

// Entry is one recorded relay lifecycle event. Entries never hold prompt or message text.
type Entry struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connection_id"`
	Kind         string    `json:"kind"`
	Outcome      *string   `json:"outcome,omitempty"`
	Model        *string   `json:"model,omitempty"`
	DurationMS   *int64    `json:"duration_ms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
