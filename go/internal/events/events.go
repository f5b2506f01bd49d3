package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/egregor-app/egregor/go/internal/models"
)

// Type identifies a room event.
type Type string

const (
	TypeRunStateChanged Type = "RunStateChanged"
	TypePresenceJoined  Type = "PresenceJoined"
	TypePresenceLeft    Type = "PresenceLeft"
	TypeChatMessage     Type = "ChatMessagePosted"
)

// RoomEvent is the envelope published for every room-visible change and
// broadcast to connected viewers.
type RoomEvent struct {
	ID        uuid.UUID       `json:"id"`
	EventID   uuid.UUID       `json:"event_id"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// RunStateChangedPayload carries the full normalized state after a write.
// Viewers replace their cached copy wholesale rather than patching.
type RunStateChangedPayload struct {
	State models.RunState `json:"state"`
}

// PresencePayload carries a join or leave.
type PresencePayload struct {
	UserID   uuid.UUID  `json:"user_id"`
	JoinedAt *time.Time `json:"joined_at,omitempty"`
}

// ChatMessagePayload carries a newly posted message or energy gift.
type ChatMessagePayload struct {
	Message models.ChatMessage `json:"message"`
}

// New builds a RoomEvent envelope with a fresh ID and marshaled payload.
func New(eventID uuid.UUID, typ Type, payload any) (RoomEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return RoomEvent{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return RoomEvent{
		ID:        uuid.New(),
		EventID:   eventID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   data,
	}, nil
}
