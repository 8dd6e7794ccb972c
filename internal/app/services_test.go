package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/nightbuddy/internal/config"
)

const manualState = `{
  "overlayEnabled": true,
  "activePresetId": "warm",
  "presets": [{"id": "warm", "temperature": 80, "opacity": 60, "brightness": 70}],
  "schedule": {"mode": "manual"}
}`

func newTestServices(t *testing.T, extra string) *Services {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nightbuddy.sqlite")
	cfg, err := config.Parse([]byte("database:\n  path: " + path + "\n" + extra))
	if err != nil {
		t.Fatal(err)
	}
	s, err := NewServices(cfg)
	if err != nil {
		t.Fatalf("NewServices() error = %v", err)
	}
	return s
}

func TestServices_ImportAndClearState(t *testing.T) {
	s := newTestServices(t, "")
	defer s.Close()

	if err := s.ImportState([]byte("{not json")); err == nil {
		t.Fatal("ImportState() accepted malformed state")
	}
	if s.Loader.Load() != nil {
		t.Fatal("malformed import was stored")
	}

	if err := s.ImportState([]byte(manualState)); err != nil {
		t.Fatalf("ImportState() error = %v", err)
	}
	state := s.Loader.Load()
	if state == nil || !state.OverlayEnabled || len(state.Presets) != 1 {
		t.Fatalf("Load() = %+v", state)
	}

	if err := s.ClearState(); err != nil {
		t.Fatal(err)
	}
	if s.Loader.Load() != nil {
		t.Error("state still present after ClearState")
	}
}

func TestServices_InvalidWeekendDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nightbuddy.sqlite")
	cfg, err := config.Parse([]byte("database:\n  path: " + path + "\nresolver:\n  weekend_days: [\"funday\"]\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewServices(cfg); err == nil {
		t.Fatal("NewServices() accepted an unknown weekend day")
	}
}

func TestServices_StartAppliesStoredState(t *testing.T) {
	s := newTestServices(t, "platform:\n  overlay_granted: true\nledger:\n  enabled: true\n")
	if err := s.ImportState([]byte(manualState)); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx, func(err error) { t.Errorf("fatal: %v", err) }); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, func() bool { return s.Machine.Snapshot().Shown })
	if got := s.Machine.Snapshot().Payload.Temperature; got != 80 {
		t.Errorf("Temperature = %v, want 80", got)
	}
	waitFor(t, func() bool {
		entries, err := s.Ledger.Recent(10)
		return err == nil && len(entries) > 0
	})

	cancel()
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if s.Machine.Snapshot().Shown {
		t.Error("overlay still shown after Stop")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
