package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dokzlo13/nightbuddy/internal/bootconfig"
	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/ledger"
	"github.com/dokzlo13/nightbuddy/internal/overlay"
	"github.com/dokzlo13/nightbuddy/internal/platform"
	"github.com/dokzlo13/nightbuddy/internal/schedule"
)

const sampleState = `{
  "overlayEnabled": false,
  "presets": [{"id": "warm", "temperature": 80, "opacity": 60, "brightness": 70}],
  "schedule": {
    "mode": "automatic",
    "startTime": {"hour": 21, "minute": 0},
    "endTime": {"hour": 7, "minute": 0},
    "windDownMinutes": 15,
    "fadeOutMinutes": 15,
    "targetPresetId": "warm"
  }
}`

type memState struct {
	mu  sync.Mutex
	raw []byte
}

func (m *memState) ReadState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw, nil
}

func (m *memState) WriteState(raw []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raw = raw
	return nil
}

type fakePlanner struct {
	state       *memState
	reschedules int
}

func (p *fakePlanner) Preview(at time.Time) (schedule.Resolved, bool) {
	raw, _ := p.state.ReadState()
	st, err := bootconfig.Decode(raw)
	if err != nil {
		return schedule.Resolved{}, false
	}
	return schedule.Resolve(*st, at.UTC(), false), true
}

func (p *fakePlanner) Reschedule() { p.reschedules++ }

type testEnv struct {
	api     *API
	handler http.Handler
	machine *overlay.Machine
	perms   *platform.StaticPermissions
	state   *memState
	planner *fakePlanner
	bus     *eventbus.Bus
}

func newTestEnv(t *testing.T, deps Deps) *testEnv {
	t.Helper()

	bus := eventbus.New()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bus.Close(ctx)
	})

	perms := platform.NewStaticPermissions(false)
	machine := overlay.New(overlay.NewState(), overlay.Deps{Permissions: perms, Bus: bus})
	state := &memState{}
	planner := &fakePlanner{state: state}

	deps.Machine = machine
	deps.State = state
	deps.Planner = planner
	deps.Permissions = perms
	deps.Bus = bus
	if deps.Now == nil {
		deps.Now = func() time.Time { return time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC) }
	}

	a := New(deps)
	return &testEnv{api: a, handler: a.Handler(), machine: machine, perms: perms, state: state, planner: planner, bus: bus}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: invalid JSON %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code, out
}

func TestAPI_PermissionGate(t *testing.T) {
	e := newTestEnv(t, Deps{})

	code, body := e.do(t, http.MethodPost, "/api/overlay/enable", "")
	if code != http.StatusForbidden || body["error"] != "permission_denied" {
		t.Fatalf("enable without permission = %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/api/permissions/overlay", `{"granted": true}`)
	if code != http.StatusOK || body["granted"] != true {
		t.Fatalf("grant = %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/api/overlay/enable", "")
	if code != http.StatusOK || body["shown"] != true {
		t.Fatalf("enable = %d %v", code, body)
	}

	code, body = e.do(t, http.MethodPost, "/api/overlay/toggle", "")
	if code != http.StatusOK || body["shown"] != false {
		t.Fatalf("toggle = %d %v", code, body)
	}

	code, body = e.do(t, http.MethodGet, "/api/permissions", "")
	if code != http.StatusOK || body["overlay_draw_granted"] != true || body["has_flash_hardware"] != false {
		t.Errorf("permissions = %d %v", code, body)
	}
}

func TestAPI_PayloadUpdateActivates(t *testing.T) {
	e := newTestEnv(t, Deps{})
	e.perms.SetOverlayGranted(true)

	code, body := e.do(t, http.MethodPut, "/api/overlay/payload", `{"temperature": 100, "opacity": 100}`)
	if code != http.StatusOK || body["shown"] != true {
		t.Fatalf("update = %d %v", code, body)
	}
	if body["color"] != "#FFFFB347" {
		t.Errorf("color = %v, want #FFFFB347", body["color"])
	}

	code, body = e.do(t, http.MethodPost, "/api/overlay/start", `{"enable": false}`)
	if code != http.StatusOK || body["shown"] != false {
		t.Errorf("start(enable=false) = %d %v", code, body)
	}

	code, _ = e.do(t, http.MethodPut, "/api/overlay/payload", `{"temperature": "hot"}`)
	if code != http.StatusBadRequest {
		t.Errorf("bad payload = %d, want 400", code)
	}
}

func TestAPI_TorchWithoutHardware(t *testing.T) {
	e := newTestEnv(t, Deps{})

	code, body := e.do(t, http.MethodPost, "/api/torch/toggle", "")
	if code != http.StatusOK || body["torch_on"] != false {
		t.Errorf("torch toggle = %d %v", code, body)
	}
}

func TestAPI_NotificationActions(t *testing.T) {
	e := newTestEnv(t, Deps{})
	e.perms.SetOverlayGranted(true)

	code, body := e.do(t, http.MethodPost, "/api/notification/actions/toggle_filter", "")
	if code != http.StatusOK || body["shown"] != true {
		t.Fatalf("toggle_filter = %d %v", code, body)
	}
	code, body = e.do(t, http.MethodPost, "/api/notification/actions/toggle_filter", "")
	if code != http.StatusOK || body["shown"] != false {
		t.Fatalf("second toggle_filter = %d %v", code, body)
	}

	code, _ = e.do(t, http.MethodPost, "/api/notification/actions/toggle_torch", "")
	if code != http.StatusOK {
		t.Errorf("toggle_torch = %d", code)
	}

	code, body = e.do(t, http.MethodPost, "/api/notification/actions/snooze", "")
	if code != http.StatusNotFound || body["error"] != "unknown_action" {
		t.Errorf("unknown action = %d %v", code, body)
	}
}

type failingNotifier struct{}

func (failingNotifier) Present(overlay.Notification) bool { return false }
func (failingNotifier) Dismiss() bool                     { return true }
func (failingNotifier) Remind() bool                      { return true }

func TestAPI_NotifyFailure(t *testing.T) {
	perms := platform.NewStaticPermissions(true)
	machine := overlay.New(overlay.NewState(), overlay.Deps{Notifier: failingNotifier{}, Permissions: perms})
	state := &memState{}
	e := &testEnv{handler: New(Deps{
		Machine: machine,
		State:   state,
		Planner: &fakePlanner{state: state},
	}).Handler()}

	code, body := e.do(t, http.MethodPost, "/api/overlay/enable", "")
	if code != http.StatusBadGateway || body["error"] != "notify_failed" {
		t.Fatalf("enable = %d %v", code, body)
	}
	if machine.Snapshot().Shown {
		t.Error("overlay shown although the notification failed")
	}
}

func TestAPI_ConcurrentPatchesKeepFields(t *testing.T) {
	e := newTestEnv(t, Deps{})
	e.perms.SetOverlayGranted(true)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPut, "/api/overlay/payload", strings.NewReader(`{"temperature": 90}`))
			e.handler.ServeHTTP(httptest.NewRecorder(), req)
		}()
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPut, "/api/overlay/payload", strings.NewReader(`{"brightness": 40}`))
			e.handler.ServeHTTP(httptest.NewRecorder(), req)
		}()
	}
	wg.Wait()

	p := e.machine.Snapshot().Payload
	if p.Temperature != 90 || p.Brightness != 40 {
		t.Errorf("Payload = %+v, want temperature 90 and brightness 40", p)
	}
}

func TestAPI_Closed(t *testing.T) {
	e := newTestEnv(t, Deps{})
	e.machine.Shutdown()

	code, body := e.do(t, http.MethodPost, "/api/overlay/toggle", "")
	if code != http.StatusServiceUnavailable || body["error"] != "closed" {
		t.Errorf("toggle after shutdown = %d %v", code, body)
	}
	_, body = e.do(t, http.MethodGet, "/health", "")
	if body["status"] != "closed" {
		t.Errorf("health = %v", body)
	}
}

func TestAPI_State(t *testing.T) {
	e := newTestEnv(t, Deps{})

	code, body := e.do(t, http.MethodGet, "/api/state", "")
	if code != http.StatusNotFound || body["error"] != "state_absent" {
		t.Fatalf("get absent = %d %v", code, body)
	}

	code, _ = e.do(t, http.MethodPut, "/api/state", `{"overlayEnabled": true}`)
	if code != http.StatusBadRequest {
		t.Fatalf("put without schedule = %d, want 400", code)
	}

	code, body = e.do(t, http.MethodPut, "/api/state", sampleState)
	if code != http.StatusOK {
		t.Fatalf("put = %d %v", code, body)
	}
	if e.planner.reschedules != 1 {
		t.Errorf("reschedules = %d, want 1", e.planner.reschedules)
	}

	code, body = e.do(t, http.MethodGet, "/api/state", "")
	if code != http.StatusOK {
		t.Fatalf("get = %d %v", code, body)
	}
	sched := body["schedule"].(map[string]any)
	if sched["mode"] != "automatic" || sched["targetPresetId"] != "warm" {
		t.Errorf("schedule = %v", sched)
	}

	e.state.WriteState([]byte("{broken"))
	code, _ = e.do(t, http.MethodGet, "/api/state", "")
	if code != http.StatusUnprocessableEntity {
		t.Errorf("get malformed = %d, want 422", code)
	}
}

func TestAPI_Snooze(t *testing.T) {
	e := newTestEnv(t, Deps{})

	code, _ := e.do(t, http.MethodPost, "/api/snooze", `{"minutes": 30}`)
	if code != http.StatusNotFound {
		t.Fatalf("snooze without state = %d, want 404", code)
	}

	e.state.WriteState([]byte(sampleState))

	code, _ = e.do(t, http.MethodPost, "/api/snooze", `{}`)
	if code != http.StatusBadRequest {
		t.Errorf("empty snooze = %d, want 400", code)
	}

	code, body := e.do(t, http.MethodPost, "/api/snooze", `{"minutes": 30}`)
	if code != http.StatusOK || body["snooze_until"] != "2024-03-05T12:30:00Z" {
		t.Fatalf("snooze = %d %v", code, body)
	}

	raw, _ := e.state.ReadState()
	st, err := bootconfig.Decode(raw)
	if err != nil || st.SnoozeUntil == nil {
		t.Fatalf("stored snooze missing: %v", err)
	}

	code, _ = e.do(t, http.MethodDelete, "/api/snooze", "")
	if code != http.StatusOK {
		t.Fatalf("unsnooze = %d", code)
	}
	raw, _ = e.state.ReadState()
	st, _ = bootconfig.Decode(raw)
	if st.SnoozeUntil != nil {
		t.Error("snooze not cleared")
	}
}

func TestAPI_Resolve(t *testing.T) {
	e := newTestEnv(t, Deps{})

	code, _ := e.do(t, http.MethodGet, "/api/resolve", "")
	if code != http.StatusNotFound {
		t.Errorf("resolve without state = %d, want 404", code)
	}

	e.state.WriteState([]byte(sampleState))

	code, _ = e.do(t, http.MethodGet, "/api/resolve?at=tonight", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad at = %d, want 400", code)
	}

	code, body := e.do(t, http.MethodGet, "/api/resolve?at=2024-03-05T22:00:00Z", "")
	if code != http.StatusOK || body["desired_on"] != true || body["phase"] != "active" {
		t.Errorf("resolve 22:00 = %d %v", code, body)
	}

	_, body = e.do(t, http.MethodGet, "/api/resolve", "")
	if body["desired_on"] != false || body["color"] != "#00000000" {
		t.Errorf("resolve noon = %v", body)
	}
}

type memHistory struct {
	entries []*ledger.Entry
}

func (m *memHistory) Recent(limit int) ([]*ledger.Entry, error) {
	if limit > len(m.entries) {
		limit = len(m.entries)
	}
	return m.entries[:limit], nil
}

func (m *memHistory) Append(t ledger.EventType, key, source string, payload map[string]any) error {
	m.entries = append(m.entries, &ledger.Entry{EventType: t, Source: source, Payload: payload})
	return nil
}

func TestAPI_History(t *testing.T) {
	e := newTestEnv(t, Deps{})
	code, body := e.do(t, http.MethodGet, "/api/history", "")
	if code != http.StatusNotFound || body["error"] != "history_disabled" {
		t.Errorf("history disabled = %d %v", code, body)
	}

	h := &memHistory{}
	e = newTestEnv(t, Deps{History: h})
	e.do(t, http.MethodPut, "/api/state", sampleState)

	code, body = e.do(t, http.MethodGet, "/api/history?limit=10", "")
	if code != http.StatusOK {
		t.Fatalf("history = %d %v", code, body)
	}
	items := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", items)
	}
	if items[0].(map[string]any)["source"] != "put" {
		t.Errorf("item = %v", items[0])
	}

	code, _ = e.do(t, http.MethodGet, "/api/history?limit=-1", "")
	if code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", code)
	}
}

func TestAPI_RateLimit(t *testing.T) {
	e := newTestEnv(t, Deps{RateLimitRPS: 0.001, RateBurst: 1})

	if code, _ := e.do(t, http.MethodGet, "/api/status", ""); code != http.StatusOK {
		t.Fatalf("first = %d", code)
	}
	code, body := e.do(t, http.MethodGet, "/api/status", "")
	if code != http.StatusTooManyRequests || body["error"] != "rate_limited" {
		t.Errorf("second = %d %v", code, body)
	}
	// Health is not limited.
	if code, _ := e.do(t, http.MethodGet, "/health", ""); code != http.StatusOK {
		t.Errorf("health = %d", code)
	}
}

func TestAPI_WebsocketStream(t *testing.T) {
	bus := eventbus.New()
	hub := NewHub(bus)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	perms := platform.NewStaticPermissions(true)
	machine := overlay.New(overlay.NewState(), overlay.Deps{Permissions: perms, Bus: bus})
	a := New(Deps{Machine: machine, State: &memState{}, Planner: &fakePlanner{state: &memState{}}, Bus: bus, Hub: hub})

	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	if err := machine.Enable(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { _, ok := bus.Latest(eventbus.EventTypeStatus); return ok })

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	first := readEnvelope(t, conn)
	if first.Type != "status" || first.Data["shown"] != true {
		t.Fatalf("first message = %+v", first)
	}

	waitFor(t, func() bool { return hub.Clients() == 1 })
	resp, err := http.Post(srv.URL+"/api/overlay/disable", "application/json", bytes.NewReader(nil))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	for i := 0; i < 10; i++ {
		msg := readEnvelope(t, conn)
		if msg.Type == "status" && msg.Data["shown"] == false {
			return
		}
	}
	t.Fatal("disable status not streamed")
}

type wireEnvelope struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wireEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wireEnvelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
