package runstate

import (
	"encoding/json"

	"github.com/egregor-app/egregor/go/internal/models"
)

// Normalize fills defaults for any missing or malformed field of a run
// state. The store is shared infrastructure and must tolerate partially
// written or future-versioned rows, so every reader passes stored or
// received state through here before use.
//
// Unrecognized modes map to idle. Negative integers are coerced to zero.
// StartedAt is present iff the mode is running: a stray stamp is dropped,
// and a running state missing its stamp degrades to paused so the
// countdown freezes at the accumulated elapsed time instead of guessing
// a start.
func Normalize(raw models.RunState) models.RunState {
	out := raw

	if out.Version <= 0 {
		out.Version = models.RunStateVersion
	}

	switch out.Mode {
	case models.RunModeIdle, models.RunModeRunning, models.RunModePaused, models.RunModeEnded:
	default:
		out.Mode = models.RunModeIdle
	}

	if out.SectionIndex < 0 {
		out.SectionIndex = 0
	}
	if out.ElapsedBeforePauseSec < 0 {
		out.ElapsedBeforePauseSec = 0
	}

	if out.Mode == models.RunModeRunning && out.StartedAt == nil {
		out.Mode = models.RunModePaused
	}
	if out.Mode != models.RunModeRunning {
		out.StartedAt = nil
	}

	return out
}

// NormalizeJSON parses raw state received over the change feed. Parsing
// is best effort: fields that fail to decode are left at their zero
// value and normalized like any other malformed field.
func NormalizeJSON(data []byte) models.RunState {
	var rs models.RunState
	_ = json.Unmarshal(data, &rs)
	return Normalize(rs)
}

// ClampSectionIndex clamps idx to the valid range for a script with
// sectionCount sections.
func ClampSectionIndex(idx, sectionCount int) int {
	if sectionCount <= 0 {
		return 0
	}
	if idx < 0 {
		return 0
	}
	if idx > sectionCount-1 {
		return sectionCount - 1
	}
	return idx
}
