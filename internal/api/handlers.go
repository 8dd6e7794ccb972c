package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/bootconfig"
	"github.com/dokzlo13/nightbuddy/internal/compositor"
	"github.com/dokzlo13/nightbuddy/internal/ledger"
	"github.com/dokzlo13/nightbuddy/internal/model"
	"github.com/dokzlo13/nightbuddy/internal/overlay"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type statusView struct {
	Shown          bool          `json:"shown"`
	TorchOn        bool          `json:"torch_on"`
	TorchAvailable bool          `json:"torch_available"`
	OverlayGranted bool          `json:"overlay_granted"`
	Payload        model.Payload `json:"payload"`
	Color          string        `json:"color"`
	Closed         bool          `json:"closed"`
}

// payloadPatch carries optional payload fields; missing ones keep their
// current value.
type payloadPatch struct {
	Temperature *float64 `json:"temperature"`
	Opacity     *float64 `json:"opacity"`
	Brightness  *float64 `json:"brightness"`
	Enable      *bool    `json:"enable"`
}

func (p payloadPatch) apply(base model.Payload) model.Payload {
	if p.Temperature != nil {
		base.Temperature = *p.Temperature
	}
	if p.Opacity != nil {
		base.Opacity = *p.Opacity
	}
	if p.Brightness != nil {
		base.Brightness = *p.Brightness
	}
	return base.Clamp()
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	if a.deps.Machine.Closed() {
		status = "closed"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

func (a *API) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.currentStatus())
}

func (a *API) currentStatus() statusView {
	snap := a.deps.Machine.Snapshot()
	caps := a.deps.Machine.Capabilities()
	color := compositor.Color(0)
	if snap.Shown {
		color = compositor.ComposePayload(snap.Payload)
	}
	return statusView{
		Shown:          snap.Shown,
		TorchOn:        snap.TorchOn,
		TorchAvailable: caps.HasFlashHardware,
		OverlayGranted: caps.OverlayDrawGranted,
		Payload:        snap.Payload,
		Color:          color.Hex(),
		Closed:         a.deps.Machine.Closed(),
	}
}

// command wraps a no-argument machine command.
func (a *API) command(fn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		a.respond(w, fn())
	}
}

func (a *API) start(w http.ResponseWriter, r *http.Request) {
	var patch payloadPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	enable := true
	if patch.Enable != nil {
		enable = *patch.Enable
	}
	a.respond(w, a.deps.Machine.StartWith(patch.apply, enable))
}

func (a *API) updatePayload(w http.ResponseWriter, r *http.Request) {
	var patch payloadPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	a.respond(w, a.deps.Machine.UpdateWith(patch.apply))
}

// notificationAction runs the command behind a notification button.
func (a *API) notificationAction(w http.ResponseWriter, r *http.Request) {
	switch action := chi.URLParam(r, "action"); action {
	case overlay.ActionToggleFilter:
		a.respond(w, a.deps.Machine.Toggle())
	case overlay.ActionToggleTorch:
		a.respond(w, a.deps.Machine.ToggleTorch())
	default:
		writeError(w, http.StatusNotFound, "unknown_action", "unknown notification action: "+action)
	}
}

// respond maps a machine result onto a response carrying the current status.
func (a *API) respond(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, a.currentStatus())
	case errors.Is(err, overlay.ErrNotifyFailed):
		writeError(w, http.StatusBadGateway, "notify_failed", err.Error())
	case errors.Is(err, overlay.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "permission_denied", err.Error())
	case errors.Is(err, overlay.ErrRenderFailed):
		writeError(w, http.StatusBadGateway, "render_failed", err.Error())
	case errors.Is(err, overlay.ErrTorchFailed):
		writeError(w, http.StatusBadGateway, "torch_failed", err.Error())
	case errors.Is(err, overlay.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "closed", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func (a *API) permissions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.deps.Machine.Capabilities())
}

func (a *API) requestOverlay(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Granted *bool `json:"granted"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	if body.Granted != nil {
		if a.deps.Permissions == nil {
			writeError(w, http.StatusNotImplemented, "not_supported", "permission cannot be changed")
			return
		}
		a.deps.Permissions.SetOverlayGranted(*body.Granted)
	}
	writeJSON(w, http.StatusOK, map[string]any{"granted": a.deps.Machine.RequestOverlayPermission()})
}

func (a *API) getState(w http.ResponseWriter, _ *http.Request) {
	state, ok := a.loadState(w)
	if !ok {
		return
	}
	raw, err := bootconfig.Encode(*state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (a *API) putState(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}
	state, err := bootconfig.Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_state", err.Error())
		return
	}
	raw, ok := a.saveState(w, *state, "put")
	if !ok {
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (a *API) snooze(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Minutes int    `json:"minutes"`
		Until   string `json:"until"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_payload", err.Error())
		return
	}

	var until time.Time
	switch {
	case body.Until != "":
		t, err := time.Parse(time.RFC3339, body.Until)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_until", "until must be RFC3339")
			return
		}
		until = t
	case body.Minutes > 0:
		until = a.deps.Now().Add(time.Duration(body.Minutes) * time.Minute)
	default:
		writeError(w, http.StatusBadRequest, "invalid_snooze", "minutes or until required")
		return
	}

	state, ok := a.loadState(w)
	if !ok {
		return
	}
	until = until.UTC()
	state.SnoozeUntil = &until
	if _, ok := a.saveState(w, *state, "snooze"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snooze_until": until})
}

func (a *API) clearSnooze(w http.ResponseWriter, _ *http.Request) {
	state, ok := a.loadState(w)
	if !ok {
		return
	}
	state.SnoozeUntil = nil
	if _, ok := a.saveState(w, *state, "unsnooze"); !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"snooze_until": nil})
}

func (a *API) resolve(w http.ResponseWriter, r *http.Request) {
	at := a.deps.Now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_at", "at must be RFC3339")
			return
		}
		at = t
	}

	res, ok := a.deps.Planner.Preview(at)
	if !ok {
		writeError(w, http.StatusNotFound, "state_absent", "no usable persisted state")
		return
	}

	color := compositor.Color(0)
	if res.DesiredOn {
		color = compositor.ComposePayload(res.Payload)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"at":         at,
		"desired_on": res.DesiredOn,
		"phase":      res.Phase.String(),
		"fraction":   res.Fraction,
		"payload":    res.Payload,
		"color":      color.Hex(),
	})
}

func (a *API) history(w http.ResponseWriter, r *http.Request) {
	if a.deps.History == nil {
		writeError(w, http.StatusNotFound, "history_disabled", "transition history is disabled")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := a.deps.History.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history_failed", err.Error())
		return
	}
	if entries == nil {
		entries = []*ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}

// loadState writes the error response itself when ok is false.
func (a *API) loadState(w http.ResponseWriter) (*model.PersistedState, bool) {
	raw, err := a.deps.State.ReadState()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_failed", err.Error())
		return nil, false
	}
	state, err := bootconfig.Decode(raw)
	switch {
	case errors.Is(err, bootconfig.ErrAbsent):
		writeError(w, http.StatusNotFound, "state_absent", "no persisted state")
		return nil, false
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, "state_malformed", err.Error())
		return nil, false
	}
	return state, true
}

// saveState writes the normalized blob, records it and triggers a resolve.
func (a *API) saveState(w http.ResponseWriter, state model.PersistedState, source string) ([]byte, bool) {
	raw, err := bootconfig.Encode(state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_failed", err.Error())
		return nil, false
	}
	if err := a.deps.State.WriteState(raw); err != nil {
		writeError(w, http.StatusInternalServerError, "write_failed", err.Error())
		return nil, false
	}

	if a.deps.History != nil {
		payload := map[string]any{"mode": string(state.Schedule.Mode), "snoozed": state.SnoozeUntil != nil}
		if err := a.deps.History.Append(ledger.EventStateSaved, "", source, payload); err != nil {
			log.Warn().Err(err).Msg("Failed to record state change")
		}
	}
	a.deps.Planner.Reschedule()
	return raw, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRaw(w http.ResponseWriter, status int, raw []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": code, "message": message})
}
