package ledger

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dokzlo13/nightbuddy/internal/db"
	"github.com/dokzlo13/nightbuddy/internal/eventbus"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("db.Open() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return New(database.DB)
}

func TestLedger_AppendDedupe(t *testing.T) {
	l := openTestLedger(t)

	for i := 0; i < 2; i++ {
		if err := l.Append(EventStatusChanged, "k1", "toggle", map[string]any{"shown": true}); err != nil {
			t.Fatal(err)
		}
	}
	// Empty keys never collide.
	for i := 0; i < 2; i++ {
		if err := l.Append(EventStateSaved, "", "api", nil); err != nil {
			t.Fatal(err)
		}
	}

	status, err := l.GetByType(EventStatusChanged, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(status) != 1 {
		t.Fatalf("status entries = %d, want 1", len(status))
	}
	if status[0].Source != "toggle" || status[0].Payload["shown"] != true {
		t.Errorf("entry = %+v", status[0])
	}

	all, err := l.Recent(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("Recent() = %d entries, want 3", len(all))
	}
	if !l.Has("k1") || l.Has("missing") || l.Has("") {
		t.Error("Has() mismatch")
	}
}

func TestLedger_DeleteOlderThan(t *testing.T) {
	l := openTestLedger(t)

	if err := l.Append(EventStateSaved, "", "api", nil); err != nil {
		t.Fatal(err)
	}
	old := time.Now().Add(-48 * time.Hour).UTC().UnixMilli()
	if _, err := l.db.Exec(`UPDATE event_ledger SET timestamp = ?`, old); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(EventStateSaved, "", "api", nil); err != nil {
		t.Fatal(err)
	}

	n, err := l.DeleteOlderThan(24 * time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted = %d, want 1", n)
	}
}

type fakeStatus struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
	Shown  bool   `json:"shown"`
}

func TestRecorder(t *testing.T) {
	l := openTestLedger(t)
	bus := eventbus.New()

	r := NewRecorder(l, bus)
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStatus, Data: fakeStatus{ID: "a", Reason: "enable", Shown: true}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStatus, Data: fakeStatus{ID: "a", Reason: "enable", Shown: true}})
	bus.Publish(eventbus.Event{Type: eventbus.EventTypeStatus, Data: fakeStatus{ID: "b", Reason: "disable"}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Close(ctx)
	r.Stop()

	entries, err := l.GetByType(EventStatusChanged, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if !l.Has("a") || !l.Has("b") {
		t.Error("recorded keys missing")
	}
}
