// Package model holds the persisted configuration of the filter and the
// values derived from it. Everything here is an immutable snapshot; the
// daemon's control logic never mutates a PersistedState it was handed.
package model

import "time"

// Default preset values, used when a preset or one of its fields is missing.
const (
	DefaultTemperature = 50.0
	DefaultOpacity     = 50.0
	DefaultBrightness  = 100.0
)

// MinutesPerDay is the length of a day in minutes of day.
const MinutesPerDay = 24 * 60

// Payload is the set of resolved filter parameters, each in [0,100].
type Payload struct {
	Temperature float64 `json:"temperature"`
	Opacity     float64 `json:"opacity"`
	Brightness  float64 `json:"brightness"`
}

// DefaultPayload returns the payload used when no preset is available.
func DefaultPayload() Payload {
	return Payload{
		Temperature: DefaultTemperature,
		Opacity:     DefaultOpacity,
		Brightness:  DefaultBrightness,
	}
}

// OffPayload is the "filter off" end of a ramp: no tint, full brightness.
func OffPayload() Payload {
	return Payload{Temperature: 0, Opacity: 0, Brightness: 100}
}

// Clamp returns p with every field clamped into [0,100].
func (p Payload) Clamp() Payload {
	return Payload{
		Temperature: Clamp100(p.Temperature),
		Opacity:     Clamp100(p.Opacity),
		Brightness:  Clamp100(p.Brightness),
	}
}

// Lerp interpolates from p toward to by fraction t (clamped to [0,1]).
func (p Payload) Lerp(to Payload, t float64) Payload {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return Payload{
		Temperature: p.Temperature + (to.Temperature-p.Temperature)*t,
		Opacity:     p.Opacity + (to.Opacity-p.Opacity)*t,
		Brightness:  p.Brightness + (to.Brightness-p.Brightness)*t,
	}
}

// Clamp100 clamps v into [0,100]. NaN maps to 0.
func Clamp100(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// FilterPreset is a named temperature/opacity/brightness tuple.
type FilterPreset struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Temperature float64 `json:"temperature"`
	Opacity     float64 `json:"opacity"`
	Brightness  float64 `json:"brightness"`
}

// Payload returns the preset's parameters.
func (p FilterPreset) Payload() Payload {
	return Payload{Temperature: p.Temperature, Opacity: p.Opacity, Brightness: p.Brightness}
}

// TimeWindow is a daily window in minutes of day. End < Start means the
// window spans midnight.
type TimeWindow struct {
	StartMinuteOfDay int `json:"start"`
	EndMinuteOfDay   int `json:"end"`
}

// Contains reports whether minute falls inside the window: start inclusive,
// end exclusive, honoring midnight wraparound. An empty window (start == end)
// contains nothing.
func (w TimeWindow) Contains(minute int) bool {
	if w.EndMinuteOfDay < w.StartMinuteOfDay {
		return minute >= w.StartMinuteOfDay || minute < w.EndMinuteOfDay
	}
	return minute >= w.StartMinuteOfDay && minute < w.EndMinuteOfDay
}

// Empty reports whether the window never contains any minute.
func (w TimeWindow) Empty() bool {
	return w.StartMinuteOfDay == w.EndMinuteOfDay
}

// ScheduleMode selects how the desired on/off state is decided.
type ScheduleMode string

const (
	ModeOff       ScheduleMode = "off"
	ModeManual    ScheduleMode = "manual"
	ModeAutomatic ScheduleMode = "automatic"
)

// ParseScheduleMode maps a stored mode string to a mode. Unknown values map to Off.
func ParseScheduleMode(s string) ScheduleMode {
	switch ScheduleMode(s) {
	case ModeManual:
		return ModeManual
	case ModeAutomatic:
		return ModeAutomatic
	default:
		return ModeOff
	}
}

// Schedule is the user's automatic on/off configuration.
type Schedule struct {
	Mode            ScheduleMode
	Weekday         *TimeWindow
	Weekend         *TimeWindow
	WeekendDiffers  bool
	WindDownMinutes int
	FadeOutMinutes  int
	TargetPresetID  string // empty means unset
}

// EffectiveWindow returns the window that applies on a weekday or weekend
// day. The weekend window is only consulted when WeekendDiffers is set, and
// falls back to the weekday window when absent.
func (s Schedule) EffectiveWindow(isWeekend bool) *TimeWindow {
	if s.WeekendDiffers && isWeekend && s.Weekend != nil {
		return s.Weekend
	}
	return s.Weekday
}

// PersistedState is the durable configuration owned by the application.
type PersistedState struct {
	OverlayEnabled      bool
	Schedule            Schedule
	StartOnBootReminder bool
	SnoozeUntil         *time.Time
	Presets             []FilterPreset
	ActivePresetID      string
}

// PresetByID returns the preset with the given id.
func (s PersistedState) PresetByID(id string) (FilterPreset, bool) {
	if id == "" {
		return FilterPreset{}, false
	}
	for _, p := range s.Presets {
		if p.ID == id {
			return p, true
		}
	}
	return FilterPreset{}, false
}

// ActivePayload returns the active preset's payload, falling back to the
// first preset and then to DefaultPayload.
func (s PersistedState) ActivePayload() Payload {
	return s.presetPayload(s.ActivePresetID)
}

// TargetPayload returns the scheduled target preset's payload, falling back
// to the first preset and then to DefaultPayload.
func (s PersistedState) TargetPayload() Payload {
	return s.presetPayload(s.Schedule.TargetPresetID)
}

func (s PersistedState) presetPayload(id string) Payload {
	if p, ok := s.PresetByID(id); ok {
		return p.Payload()
	}
	if len(s.Presets) > 0 {
		return s.Presets[0].Payload()
	}
	return DefaultPayload()
}

// Snoozed reports whether a snooze is in effect at now.
func (s PersistedState) Snoozed(now time.Time) bool {
	return s.SnoozeUntil != nil && now.Before(*s.SnoozeUntil)
}
