package models

import (
	"time"

	"github.com/google/uuid"
)

// RunMode defines the playback mode of an event's run state.
type RunMode string

const (
	RunModeIdle    RunMode = "idle"
	RunModeRunning RunMode = "running"
	RunModePaused  RunMode = "paused"
	RunModeEnded   RunMode = "ended"
)

// RunStateVersion is the current run-state schema tag.
const RunStateVersion = 1

// RunState is the shared, host-authoritative playback position for one
// event. Every viewer derives its countdown from this record plus the
// current time; StartedAt is always stamped with server time so device
// clock drift cannot desynchronize viewers.
type RunState struct {
	EventID               uuid.UUID  `json:"event_id"`
	Version               int        `json:"version"`
	Mode                  RunMode    `json:"mode"`
	SectionIndex          int        `json:"section_index"`
	StartedAt             *time.Time `json:"started_at,omitempty"`
	ElapsedBeforePauseSec int        `json:"elapsed_before_pause_sec"`
	UpdatedAt             time.Time  `json:"updated_at"`
}
