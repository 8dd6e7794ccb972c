// Package bootconfig decodes the persisted application state blob into the
// model consumed by the schedule resolver.
//
// Decoding is tolerant: wrong-typed or out-of-range fields fall back to
// defaults. Only unreadable JSON or a missing schedule object make the whole
// blob unusable.
package bootconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dokzlo13/nightbuddy/internal/model"
)

var (
	// ErrAbsent means no persisted state exists.
	ErrAbsent = errors.New("persisted state absent")
	// ErrMalformed means the persisted state could not be decoded.
	ErrMalformed = errors.New("persisted state malformed")
)

// Decode parses a persisted state blob.
func Decode(raw []byte) (*model.PersistedState, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, ErrAbsent
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformed)
	}

	sched, ok := doc["schedule"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing schedule object", ErrMalformed)
	}

	state := &model.PersistedState{
		OverlayEnabled:      optBool(doc, "overlayEnabled", false),
		StartOnBootReminder: optBool(doc, "startOnBootReminder", false),
		SnoozeUntil:         optInstant(doc, "snoozeUntil"),
		Presets:             decodePresets(doc["presets"]),
		ActivePresetID:      optString(doc, "activePresetId", ""),
		Schedule:            decodeSchedule(sched),
	}
	return state, nil
}

func decodeSchedule(obj map[string]any) model.Schedule {
	return model.Schedule{
		Mode:            model.ParseScheduleMode(optString(obj, "mode", string(model.ModeOff))),
		Weekday:         decodeWindow(obj, "startTime", "endTime"),
		Weekend:         decodeWindow(obj, "weekendStartTime", "weekendEndTime"),
		WeekendDiffers:  optBool(obj, "weekendDifferent", false),
		WindDownMinutes: nonNegative(optInt(obj, "windDownMinutes", 0)),
		FadeOutMinutes:  nonNegative(optInt(obj, "fadeOutMinutes", 0)),
		TargetPresetID:  optString(obj, "targetPresetId", ""),
	}
}

// decodeWindow returns nil unless both ends decode to valid times of day.
func decodeWindow(obj map[string]any, startKey, endKey string) *model.TimeWindow {
	start, ok := decodeTime(obj, startKey)
	if !ok {
		return nil
	}
	end, ok := decodeTime(obj, endKey)
	if !ok {
		return nil
	}
	return &model.TimeWindow{StartMinuteOfDay: start, EndMinuteOfDay: end}
}

func decodeTime(obj map[string]any, key string) (int, bool) {
	t, ok := obj[key].(map[string]any)
	if !ok {
		return 0, false
	}
	hour := optInt(t, "hour", -1)
	minute := optInt(t, "minute", -1)
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

func decodePresets(v any) []model.FilterPreset {
	items, ok := v.([]any)
	if !ok {
		return nil
	}

	presets := make([]model.FilterPreset, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		presets = append(presets, model.FilterPreset{
			ID:          optString(obj, "id", ""),
			Name:        optString(obj, "name", ""),
			Temperature: model.Clamp100(optFloat(obj, "temperature", model.DefaultTemperature)),
			Opacity:     model.Clamp100(optFloat(obj, "opacity", model.DefaultOpacity)),
			Brightness:  model.Clamp100(optFloat(obj, "brightness", model.DefaultBrightness)),
		})
	}
	return presets
}

func optBool(obj map[string]any, key string, fallback bool) bool {
	switch v := obj[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(v) {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return fallback
}

// optString returns fallback for missing, null and non-string values.
func optString(obj map[string]any, key, fallback string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return fallback
}

func optFloat(obj map[string]any, key string, fallback float64) float64 {
	switch v := obj[key].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fallback
		}
		return v
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%g", &f); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return fallback
}

func optInt(obj map[string]any, key string, fallback int) int {
	f := optFloat(obj, key, math.NaN())
	if math.IsNaN(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return fallback
	}
	return int(f)
}

func optInstant(obj map[string]any, key string) *time.Time {
	s, ok := obj[key].(string)
	if !ok || s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil
	}
	return &t
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}
