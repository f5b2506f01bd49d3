package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ScriptSection is one timed section of a guided script.
type ScriptSection struct {
	Name    string  `json:"name"`
	Minutes float64 `json:"minutes"`
	Text    string  `json:"text"`
}

// Script is a guided session script attached to an event. Consumed
// read-only by the room; a script whose sections fail validation makes
// the room fall back to display-only behavior.
type Script struct {
	ID              uuid.UUID       `json:"id"`
	Title           string          `json:"title"`
	DurationMinutes int             `json:"duration_minutes"`
	Tone            string          `json:"tone,omitempty"`
	Sections        []ScriptSection `json:"sections"`
	SpeakerNotes    json.RawMessage `json:"speaker_notes,omitempty"`
}
