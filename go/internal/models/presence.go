package models

import (
	"time"

	"github.com/google/uuid"
)

// PresenceRow is a per-user liveness record for an event, refreshed by
// heartbeats. At most one row exists per (event, user); JoinedAt is
// preserved across heartbeats and reset only by an explicit leave
// followed by a rejoin.
type PresenceRow struct {
	EventID    uuid.UUID `json:"event_id"`
	UserID     uuid.UUID `json:"user_id"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at"`
}
