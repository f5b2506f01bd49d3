package runstate

import (
	"errors"

	"github.com/egregor-app/egregor/go/internal/models"
)

// TransitionRequest is a host-side write against an event's run state.
// ResetTimer forces the accumulated elapsed time to zero and, when the
// next mode is running, refreshes the start stamp; it is the path used
// for start, restart and jump-to-section.
type TransitionRequest struct {
	Mode                  models.RunMode `json:"mode"`
	SectionIndex          int            `json:"section_index"`
	ElapsedBeforePauseSec int            `json:"elapsed_before_pause_sec"`
	ResetTimer            bool           `json:"reset_timer"`
}

// ErrInvalidTransition is returned when a transition request fails
// validation before reaching storage.
var ErrInvalidTransition = errors.New("invalid run state transition")
