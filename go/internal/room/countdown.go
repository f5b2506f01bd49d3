package room

import (
	"time"

	"github.com/egregor-app/egregor/go/internal/models"
	"github.com/egregor-app/egregor/go/internal/runstate"
)

// Countdown is the derived timer display for one run state at one
// instant. It is a pure function of (state, script, now): the display
// tick re-evaluates it for smoothness, but it never writes anywhere.
type Countdown struct {
	SectionIndex       int
	SectionDurationSec int
	ElapsedSec         int
	SecondsLeft        int
	SectionProgress    float64 // [0,1]
	TotalProgress      float64 // [0,1]
}

// SectionDurationSec converts a section's minutes to whole seconds,
// never less than one second.
func SectionDurationSec(sec models.ScriptSection) int {
	d := int(sec.Minutes * 60)
	if d < 1 {
		return 1
	}
	return d
}

// TotalDurationSec sums every section's duration.
func TotalDurationSec(script *models.Script) int {
	total := 0
	for _, sec := range script.Sections {
		total += SectionDurationSec(sec)
	}
	return total
}

// Derive computes the countdown for a run state against a script at now.
// Elapsed time is the accumulated pre-pause seconds plus, while running,
// whole seconds since the server-stamped start. With no usable script
// the room is display-only and everything is zero.
func Derive(state models.RunState, script *models.Script, now time.Time) Countdown {
	if script == nil || len(script.Sections) == 0 {
		return Countdown{}
	}

	idx := runstate.ClampSectionIndex(state.SectionIndex, len(script.Sections))
	dur := SectionDurationSec(script.Sections[idx])

	elapsed := state.ElapsedBeforePauseSec
	if state.Mode == models.RunModeRunning && state.StartedAt != nil {
		elapsed += int(now.Sub(*state.StartedAt).Seconds())
	}
	if elapsed < 0 {
		elapsed = 0
	}

	secondsLeft := dur - elapsed
	if secondsLeft < 0 {
		secondsLeft = 0
	}

	cd := Countdown{
		SectionIndex:       idx,
		SectionDurationSec: dur,
		ElapsedSec:         elapsed,
		SecondsLeft:        secondsLeft,
	}

	if state.Mode == models.RunModeEnded {
		cd.SecondsLeft = 0
		cd.SectionProgress = 1
		cd.TotalProgress = 1
		return cd
	}

	within := elapsed
	if within > dur {
		within = dur
	}
	cd.SectionProgress = clampUnit(float64(within) / float64(dur))

	completed := 0
	for _, sec := range script.Sections[:idx] {
		completed += SectionDurationSec(sec)
	}
	total := TotalDurationSec(script)
	cd.TotalProgress = clampUnit(float64(completed+within) / float64(total))

	return cd
}

// PreviewCountdown is the static display for a locally previewed section:
// its full duration, no running timeline.
func PreviewCountdown(script *models.Script, idx int) Countdown {
	if script == nil || len(script.Sections) == 0 {
		return Countdown{}
	}
	idx = runstate.ClampSectionIndex(idx, len(script.Sections))
	dur := SectionDurationSec(script.Sections[idx])
	return Countdown{
		SectionIndex:       idx,
		SectionDurationSec: dur,
		SecondsLeft:        dur,
	}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
