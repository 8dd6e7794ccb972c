// Package schedule resolves the persisted configuration and an instant into
// the desired filter state.
package schedule

import (
	"math"
	"time"

	"github.com/dokzlo13/nightbuddy/internal/model"
)

// Phase reports which rule decided a resolution.
type Phase int

const (
	PhaseOff Phase = iota
	PhaseSnoozed
	PhaseManual
	PhaseWindDown
	PhaseActive
	PhaseFadeOut
)

// String returns a human-readable name for the phase.
func (p Phase) String() string {
	switch p {
	case PhaseOff:
		return "off"
	case PhaseSnoozed:
		return "snoozed"
	case PhaseManual:
		return "manual"
	case PhaseWindDown:
		return "wind_down"
	case PhaseActive:
		return "active"
	case PhaseFadeOut:
		return "fade_out"
	default:
		return "unknown"
	}
}

// Transitioning reports whether the phase is one of the ramps.
func (p Phase) Transitioning() bool {
	return p == PhaseWindDown || p == PhaseFadeOut
}

// Resolved is the outcome of a resolution.
type Resolved struct {
	DesiredOn bool
	Payload   model.Payload
	Phase     Phase
	// Fraction is the elapsed share of a ramp, 0 outside ramps.
	Fraction float64
}

// Resolve decides whether the filter should be on at now and with which
// parameters. isWeekend selects the weekend window when the schedule has one.
func Resolve(state model.PersistedState, now time.Time, isWeekend bool) Resolved {
	if state.Snoozed(now) {
		return Resolved{DesiredOn: false, Payload: state.ActivePayload(), Phase: PhaseSnoozed}
	}

	switch state.Schedule.Mode {
	case model.ModeAutomatic:
		return resolveAutomatic(state, now, isWeekend)
	case model.ModeManual:
		return Resolved{DesiredOn: state.OverlayEnabled, Payload: state.ActivePayload(), Phase: PhaseManual}
	default:
		phase := PhaseOff
		if state.OverlayEnabled {
			phase = PhaseManual
		}
		return Resolved{DesiredOn: state.OverlayEnabled, Payload: state.ActivePayload(), Phase: phase}
	}
}

func resolveAutomatic(state model.PersistedState, now time.Time, isWeekend bool) Resolved {
	sched := state.Schedule
	target := state.TargetPayload()
	off := Resolved{DesiredOn: false, Payload: target, Phase: PhaseOff}

	window := sched.EffectiveWindow(isWeekend)
	if window == nil || window.Empty() {
		return off
	}

	if window.Contains(MinuteOfDay(now)) {
		return Resolved{DesiredOn: true, Payload: target, Phase: PhaseActive}
	}

	minute := fractionalMinuteOfDay(now)

	// Ramps apply strictly before the start and from the end onward.
	if w := float64(sched.WindDownMinutes); w > 0 {
		elapsed := wrapMinutes(minute - (float64(window.StartMinuteOfDay) - w))
		if elapsed < w {
			fraction := elapsed / w
			return Resolved{
				DesiredOn: true,
				Payload:   model.OffPayload().Lerp(target, fraction),
				Phase:     PhaseWindDown,
				Fraction:  fraction,
			}
		}
	}

	if f := float64(sched.FadeOutMinutes); f > 0 {
		elapsed := wrapMinutes(minute - float64(window.EndMinuteOfDay))
		if elapsed < f {
			fraction := elapsed / f
			return Resolved{
				DesiredOn: true,
				Payload:   target.Lerp(model.OffPayload(), fraction),
				Phase:     PhaseFadeOut,
				Fraction:  fraction,
			}
		}
	}

	return off
}

// MinuteOfDay returns the whole minute of day of t in t's location.
func MinuteOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

func fractionalMinuteOfDay(t time.Time) float64 {
	return float64(MinuteOfDay(t)) +
		float64(t.Second())/60 +
		float64(t.Nanosecond())/float64(time.Minute)
}

func wrapMinutes(m float64) float64 {
	m = math.Mod(m, model.MinutesPerDay)
	if m < 0 {
		m += model.MinutesPerDay
	}
	return m
}
