package bootconfig

import (
	"encoding/json"
	"time"

	"github.com/dokzlo13/nightbuddy/internal/model"
)

type timeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
}

type scheduleDoc struct {
	Mode             string     `json:"mode"`
	WeekendDifferent bool       `json:"weekendDifferent"`
	WindDownMinutes  int        `json:"windDownMinutes"`
	FadeOutMinutes   int        `json:"fadeOutMinutes"`
	TargetPresetID   *string    `json:"targetPresetId"`
	StartTime        *timeOfDay `json:"startTime,omitempty"`
	EndTime          *timeOfDay `json:"endTime,omitempty"`
	WeekendStartTime *timeOfDay `json:"weekendStartTime,omitempty"`
	WeekendEndTime   *timeOfDay `json:"weekendEndTime,omitempty"`
}

type stateDoc struct {
	OverlayEnabled      bool                 `json:"overlayEnabled"`
	StartOnBootReminder bool                 `json:"startOnBootReminder"`
	SnoozeUntil         *string              `json:"snoozeUntil"`
	ActivePresetID      string               `json:"activePresetId"`
	Presets             []model.FilterPreset `json:"presets"`
	Schedule            scheduleDoc          `json:"schedule"`
}

// Encode serializes a persisted state in the layout Decode reads.
func Encode(state model.PersistedState) ([]byte, error) {
	doc := stateDoc{
		OverlayEnabled:      state.OverlayEnabled,
		StartOnBootReminder: state.StartOnBootReminder,
		ActivePresetID:      state.ActivePresetID,
		Presets:             state.Presets,
		Schedule: scheduleDoc{
			Mode:             string(state.Schedule.Mode),
			WeekendDifferent: state.Schedule.WeekendDiffers,
			WindDownMinutes:  state.Schedule.WindDownMinutes,
			FadeOutMinutes:   state.Schedule.FadeOutMinutes,
		},
	}
	if doc.Presets == nil {
		doc.Presets = []model.FilterPreset{}
	}
	if doc.Schedule.Mode == "" {
		doc.Schedule.Mode = string(model.ModeOff)
	}
	if state.SnoozeUntil != nil {
		s := state.SnoozeUntil.UTC().Format(time.RFC3339Nano)
		doc.SnoozeUntil = &s
	}
	if id := state.Schedule.TargetPresetID; id != "" {
		doc.Schedule.TargetPresetID = &id
	}
	if w := state.Schedule.Weekday; w != nil {
		doc.Schedule.StartTime = toTimeOfDay(w.StartMinuteOfDay)
		doc.Schedule.EndTime = toTimeOfDay(w.EndMinuteOfDay)
	}
	if w := state.Schedule.Weekend; w != nil {
		doc.Schedule.WeekendStartTime = toTimeOfDay(w.StartMinuteOfDay)
		doc.Schedule.WeekendEndTime = toTimeOfDay(w.EndMinuteOfDay)
	}

	return json.Marshal(doc)
}

func toTimeOfDay(minute int) *timeOfDay {
	return &timeOfDay{Hour: minute / 60, Minute: minute % 60}
}
