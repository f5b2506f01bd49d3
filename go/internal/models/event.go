package models

import (
	"time"

	"github.com/google/uuid"
)

// Event represents a scheduled collective intention session.
type Event struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	HostUserID  uuid.UUID  `json:"host_user_id"`
	ScriptID    *uuid.UUID `json:"script_id,omitempty"`
	ScheduledAt time.Time  `json:"scheduled_at"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}
