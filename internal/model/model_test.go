package model

import (
	"math"
	"testing"
	"time"
)

func TestTimeWindowContains(t *testing.T) {
	tests := []struct {
		name   string
		window TimeWindow
		minute int
		want   bool
	}{
		{"plain/start_inclusive", TimeWindow{8 * 60, 17 * 60}, 8 * 60, true},
		{"plain/end_exclusive", TimeWindow{8 * 60, 17 * 60}, 17 * 60, false},
		{"plain/before", TimeWindow{8 * 60, 17 * 60}, 7*60 + 59, false},
		{"wrap/late_evening", TimeWindow{22 * 60, 6 * 60}, 23 * 60, true},
		{"wrap/early_morning", TimeWindow{22 * 60, 6 * 60}, 5*60 + 59, true},
		{"wrap/midday", TimeWindow{22 * 60, 6 * 60}, 12 * 60, false},
		{"wrap/end_exclusive", TimeWindow{22 * 60, 6 * 60}, 6 * 60, false},
		{"empty", TimeWindow{600, 600}, 600, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.window.Contains(tt.minute); got != tt.want {
				t.Errorf("Contains(%d) = %v, want %v", tt.minute, got, tt.want)
			}
		})
	}
}

func TestPresetFallbacks(t *testing.T) {
	state := PersistedState{
		Presets: []FilterPreset{
			{ID: "first", Temperature: 10, Opacity: 20, Brightness: 30},
			{ID: "warm", Temperature: 80, Opacity: 60, Brightness: 70},
		},
		ActivePresetID: "warm",
		Schedule:       Schedule{TargetPresetID: "missing"},
	}

	if got := state.ActivePayload(); got.Temperature != 80 {
		t.Errorf("ActivePayload().Temperature = %v, want 80", got.Temperature)
	}
	if got := state.TargetPayload(); got.Temperature != 10 {
		t.Errorf("TargetPayload() should fall back to first preset, got %+v", got)
	}

	empty := PersistedState{}
	if got := empty.TargetPayload(); got != DefaultPayload() {
		t.Errorf("TargetPayload() with no presets = %+v, want default", got)
	}
}

func TestEffectiveWindow(t *testing.T) {
	weekday := &TimeWindow{21 * 60, 7 * 60}
	weekend := &TimeWindow{23 * 60, 9 * 60}

	s := Schedule{Weekday: weekday, Weekend: weekend}
	if s.EffectiveWindow(true) != weekday {
		t.Error("weekend window must be ignored when WeekendDiffers is false")
	}

	s.WeekendDiffers = true
	if s.EffectiveWindow(true) != weekend {
		t.Error("weekend window should apply on weekends")
	}
	if s.EffectiveWindow(false) != weekday {
		t.Error("weekday window should apply on weekdays")
	}

	s.Weekend = nil
	if s.EffectiveWindow(true) != weekday {
		t.Error("absent weekend window should fall back to weekday")
	}
}

func TestPayloadLerp(t *testing.T) {
	target := Payload{Temperature: 80, Opacity: 60, Brightness: 70}
	mid := OffPayload().Lerp(target, 0.5)

	if math.Abs(mid.Temperature-40) > 1e-9 || math.Abs(mid.Opacity-30) > 1e-9 || math.Abs(mid.Brightness-85) > 1e-9 {
		t.Errorf("Lerp(0.5) = %+v", mid)
	}
	if got := OffPayload().Lerp(target, 2); got != target {
		t.Errorf("Lerp should clamp fraction, got %+v", got)
	}
}

func TestSnoozed(t *testing.T) {
	now := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
	until := now.Add(time.Hour)

	if (PersistedState{}).Snoozed(now) {
		t.Error("no snooze set should not be snoozed")
	}
	if !(PersistedState{SnoozeUntil: &until}).Snoozed(now) {
		t.Error("snooze in the future should be active")
	}
	if (PersistedState{SnoozeUntil: &until}).Snoozed(until) {
		t.Error("snooze ends at snoozeUntil")
	}
}

func TestParseScheduleMode(t *testing.T) {
	cases := map[string]ScheduleMode{
		"off":       ModeOff,
		"manual":    ModeManual,
		"automatic": ModeAutomatic,
		"sunset":    ModeOff,
		"":          ModeOff,
	}
	for in, want := range cases {
		if got := ParseScheduleMode(in); got != want {
			t.Errorf("ParseScheduleMode(%q) = %q, want %q", in, got, want)
		}
	}
}
