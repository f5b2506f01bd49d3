package feed

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Op is the kind of row change carried by a notification.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Table names carried in change notifications.
const (
	TableRunState = "event_run_state"
	TablePresence = "event_presence"
	TableMessages = "event_messages"
)

// Change is one row change delivered over the notify channel. Row carries
// the after-image for inserts and updates; deletes carry only the key.
// Delivery is not gap-free: consumers pair a subscription with a periodic
// full resync (see Sync).
type Change struct {
	Table   string          `json:"table"`
	Op      Op              `json:"op"`
	EventID uuid.UUID       `json:"event_id"`
	Key     string          `json:"key"`
	Row     json.RawMessage `json:"row,omitempty"`
}
