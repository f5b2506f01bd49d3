package room

import (
	"github.com/google/uuid"

	"github.com/egregor-app/egregor/go/internal/models"
)

// View is the read-only model a viewer renders on each display tick.
type View struct {
	EventID            uuid.UUID            `json:"event_id"`
	IsHost             bool                 `json:"is_host"`
	Joined             bool                 `json:"joined"`
	ScriptAttached     bool                 `json:"script_attached"`
	Mode               models.RunMode       `json:"mode"`
	RunStatusLabel     string               `json:"run_status_label"`
	SectionIndex       int                  `json:"section_index"`
	Previewing         bool                 `json:"previewing"`
	PreviewSection     int                  `json:"preview_section"`
	SecondsLeft        int                  `json:"seconds_left"`
	SectionProgressPct float64              `json:"section_progress_pct"`
	TotalProgressPct   float64              `json:"total_progress_pct"`
	ActiveCount        int                  `json:"active_count"`
	Active             []models.PresenceRow `json:"active"`
	Recent             []models.PresenceRow `json:"recent"`
	Messages           []models.ChatMessage `json:"messages"`
	UnreadCount        int                  `json:"unread_count"`
	LastError          string               `json:"last_error,omitempty"`
}

// RunStatusLabel maps a mode to its display label.
func RunStatusLabel(mode models.RunMode) string {
	switch mode {
	case models.RunModeRunning:
		return "In session"
	case models.RunModePaused:
		return "Paused"
	case models.RunModeEnded:
		return "Completed"
	default:
		return "Waiting to begin"
	}
}
