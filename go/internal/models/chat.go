package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageKind defines the kind of a chat message.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindEnergy MessageKind = "energy"
)

// ChatMessage is one message in an event room. The ID is assigned by the
// sending client before the write confirms, so the eventual change-feed
// echo deduplicates against the optimistic entry by ID. Render order is
// (CreatedAt, ID) ascending.
type ChatMessage struct {
	ID         uuid.UUID   `json:"id"`
	EventID    uuid.UUID   `json:"event_id"`
	UserID     uuid.UUID   `json:"user_id"`
	Kind       MessageKind `json:"kind"`
	Body       string      `json:"body,omitempty"`
	GiftAmount int         `json:"gift_amount,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}
