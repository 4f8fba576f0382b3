package models

import (
	"encoding/json"
	"time"
)

// Event is a single durable bus message, persisted by the Postgres
// LISTEN/NOTIFY side channel so a reconnecting subscriber can catch up on
// anything published while it was offline (pkg/bus mirrors tarsy's
// pkg/events listener/manager split for this).
type Event struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
