// Package overlay owns the live filter state and the transitions that change it.
//
// A Machine serializes every command coming from independent triggers (API,
// notification actions, boot, toggle broadcasts, the schedule runner). Each
// transition runs to completion under one lock, invokes the platform sinks
// and publishes exactly one status event.
package overlay

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/compositor"
	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/model"
	"github.com/dokzlo13/nightbuddy/internal/permission"
)

var (
	// ErrPermissionDenied is returned when activation is refused by the gate.
	ErrPermissionDenied = errors.New("overlay permission denied")
	// ErrRenderFailed is returned when the renderer could not apply a change.
	ErrRenderFailed = errors.New("overlay renderer failed")
	// ErrNotifyFailed is returned when the notification could not be updated.
	// The transition is rolled back.
	ErrNotifyFailed = errors.New("notification update failed")
	// ErrTorchFailed is returned when the torch refused a state change.
	ErrTorchFailed = errors.New("torch toggle failed")
	// ErrClosed is returned for commands arriving after Shutdown.
	ErrClosed = errors.New("overlay machine closed")
)

// State is the live filter state. Exactly one exists per process; it is
// mutated only by a Machine.
type State struct {
	Shown   bool          `json:"shown"`
	Payload model.Payload `json:"payload"`
	TorchOn bool          `json:"torch_on"`
}

// NewState returns a hidden state holding the default payload.
func NewState() *State {
	return &State{Payload: model.DefaultPayload()}
}

// Renderer draws and removes the tint overlay.
type Renderer interface {
	Render(c compositor.Color) bool
	Remove() bool
}

// Notifier presents the persistent control notification.
type Notifier interface {
	Present(n Notification) bool
	Dismiss() bool
	Remind() bool
}

// Torch controls the camera flash.
type Torch interface {
	HasHardware() bool
	HasPermission() bool
	Set(on bool) bool
}

// Permissions queries and requests the overlay-draw permission.
type Permissions interface {
	OverlayGranted() bool
	RequestOverlay() bool
}

// Deps are the collaborators a Machine invokes.
type Deps struct {
	Renderer    Renderer
	Notifier    Notifier
	Torch       Torch
	Permissions Permissions
	Bus         *eventbus.Bus
}

// Reason names the command that caused a transition.
type Reason string

const (
	ReasonStart    Reason = "start"
	ReasonEnable   Reason = "enable"
	ReasonDisable  Reason = "disable"
	ReasonUpdate   Reason = "update"
	ReasonToggle   Reason = "toggle"
	ReasonTorch    Reason = "torch"
	ReasonShutdown Reason = "shutdown"
)

// Status is published on the bus after every transition.
type Status struct {
	ID             string        `json:"id"`
	Shown          bool          `json:"shown"`
	TorchOn        bool          `json:"torch_on"`
	TorchAvailable bool          `json:"torch_available"`
	Payload        model.Payload `json:"payload"`
	Color          string        `json:"color"`
	Reason         Reason        `json:"reason"`
	At             time.Time     `json:"at"`
}

// Machine is the filter state machine.
type Machine struct {
	mu     sync.Mutex
	state  *State
	deps   Deps
	closed bool
}

// New creates a machine driving the given state. Missing collaborators are
// replaced by inert ones.
func New(state *State, deps Deps) *Machine {
	if deps.Renderer == nil {
		deps.Renderer = nopRenderer{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Torch == nil {
		deps.Torch = noTorch{}
	}
	if deps.Permissions == nil {
		deps.Permissions = deniedPermissions{}
	}
	return &Machine{state: state, deps: deps}
}

// Start applies payload and shows the overlay when enable is set and the
// gate allows it. Otherwise the overlay is hidden; a refused enable returns
// ErrPermissionDenied even when the overlay was shown before.
func (m *Machine) Start(payload model.Payload, enable bool) error {
	return m.StartWith(replace(payload), enable)
}

// StartWith is Start with the payload derived from the current one under the
// machine lock.
func (m *Machine) StartWith(patch func(model.Payload) model.Payload, enable bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	payload := patch(m.state.Payload).Clamp()

	if enable && permission.CanActivate(m.capabilitiesLocked()) {
		return m.enableLocked(payload, ReasonStart)
	}

	err := m.disableLocked(payload, ReasonStart)
	if enable && err == nil {
		log.Warn().Msg("Overlay start refused, permission not granted")
		return ErrPermissionDenied
	}
	return err
}

// Enable shows the overlay with the current payload. While already shown it
// re-applies the payload and refreshes listeners.
func (m *Machine) Enable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.enableLocked(m.state.Payload, ReasonEnable)
}

// Disable hides the overlay. While already hidden it only refreshes listeners.
func (m *Machine) Disable() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.disableLocked(m.state.Payload, ReasonDisable)
}

// Update replaces the payload. A hidden overlay is shown when the gate allows
// it.
func (m *Machine) Update(payload model.Payload) error {
	return m.UpdateWith(replace(payload))
}

// UpdateWith is Update with the payload derived from the current one under
// the machine lock.
func (m *Machine) UpdateWith(patch func(model.Payload) model.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	return m.enableLocked(patch(m.state.Payload).Clamp(), ReasonUpdate)
}

func replace(p model.Payload) func(model.Payload) model.Payload {
	return func(model.Payload) model.Payload { return p }
}

// Toggle flips the overlay between shown and hidden.
func (m *Machine) Toggle() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.state.Shown {
		return m.disableLocked(m.state.Payload, ReasonToggle)
	}
	return m.enableLocked(m.state.Payload, ReasonToggle)
}

// ToggleTorch flips the torch. Without hardware or camera permission the
// torch is forced off and no error is returned.
func (m *Machine) ToggleTorch() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	caps := m.capabilitiesLocked()
	if !permission.CanEnableTorch(caps) {
		if caps.HasFlashHardware {
			m.deps.Torch.Set(false)
		}
		m.state.TorchOn = false
		err := m.presentLocked(m.state.Shown, false, caps)
		m.emitLocked(ReasonTorch, caps)
		return err
	}

	next := !m.state.TorchOn
	if !m.deps.Torch.Set(next) {
		log.Warn().Bool("torch_on", next).Msg("Torch refused state change")
		m.emitLocked(ReasonTorch, caps)
		return ErrTorchFailed
	}

	if err := m.presentLocked(m.state.Shown, next, caps); err != nil {
		m.deps.Torch.Set(!next)
		m.emitLocked(ReasonTorch, caps)
		return err
	}
	m.state.TorchOn = next
	m.emitLocked(ReasonTorch, caps)
	return nil
}

// Shutdown hides the overlay, turns the torch off, dismisses the
// notification and publishes a final status. Later commands return ErrClosed.
func (m *Machine) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	caps := m.capabilitiesLocked()
	if m.state.Shown && !m.deps.Renderer.Remove() {
		log.Warn().Msg("Failed to remove overlay during shutdown")
	}
	if caps.HasFlashHardware {
		m.deps.Torch.Set(false)
	}
	m.deps.Notifier.Dismiss()

	m.state.Shown = false
	m.state.TorchOn = false
	m.emitLocked(ReasonShutdown, caps)
	m.closed = true

	log.Info().Msg("Overlay machine shut down")
}

// RequestOverlayPermission asks the platform for the overlay-draw grant and
// reports whether it was granted immediately.
func (m *Machine) RequestOverlayPermission() bool {
	if m.deps.Permissions.OverlayGranted() {
		return true
	}
	return m.deps.Permissions.RequestOverlay()
}

// Capabilities returns the current capability flags.
func (m *Machine) Capabilities() permission.Capabilities {
	return permission.Probe(prober{perms: m.deps.Permissions, torch: m.deps.Torch})
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.state
}

// Closed reports whether Shutdown has run.
func (m *Machine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// enableLocked shows the overlay with payload. State is committed only after
// both the renderer and the notifier succeeded.
func (m *Machine) enableLocked(payload model.Payload, reason Reason) error {
	caps := m.capabilitiesLocked()

	if !m.state.Shown && !permission.CanActivate(caps) {
		log.Warn().Str("reason", string(reason)).Msg("Overlay activation refused, permission not granted")
		m.emitLocked(reason, caps)
		return ErrPermissionDenied
	}

	if !m.deps.Renderer.Render(compositor.ComposePayload(payload)) {
		log.Warn().Str("reason", string(reason)).Bool("shown", m.state.Shown).Msg("Overlay renderer failed")
		m.emitLocked(reason, caps)
		return ErrRenderFailed
	}

	if err := m.presentLocked(true, m.state.TorchOn, caps); err != nil {
		m.restoreLocked()
		m.emitLocked(reason, caps)
		return err
	}

	if !m.state.Shown {
		log.Info().Str("reason", string(reason)).Msg("Overlay shown")
	}
	m.state.Shown = true
	m.state.Payload = payload
	m.emitLocked(reason, caps)
	return nil
}

// disableLocked hides the overlay and stores payload for the next show.
func (m *Machine) disableLocked(payload model.Payload, reason Reason) error {
	caps := m.capabilitiesLocked()

	if m.state.Shown && !m.deps.Renderer.Remove() {
		log.Warn().Str("reason", string(reason)).Msg("Overlay removal failed")
		m.emitLocked(reason, caps)
		return ErrRenderFailed
	}

	if err := m.presentLocked(false, m.state.TorchOn, caps); err != nil {
		if m.state.Shown {
			m.restoreLocked()
		}
		m.emitLocked(reason, caps)
		return err
	}

	if m.state.Shown {
		log.Info().Str("reason", string(reason)).Msg("Overlay hidden")
	}
	m.state.Shown = false
	m.state.Payload = payload
	m.emitLocked(reason, caps)
	return nil
}

// restoreLocked puts the renderer back to what the committed state shows.
func (m *Machine) restoreLocked() {
	var ok bool
	if m.state.Shown {
		ok = m.deps.Renderer.Render(compositor.ComposePayload(m.state.Payload))
	} else {
		ok = m.deps.Renderer.Remove()
	}
	if !ok {
		log.Error().Bool("shown", m.state.Shown).Msg("Failed to restore overlay after notification failure")
	}
}

func (m *Machine) presentLocked(shown, torchOn bool, caps permission.Capabilities) error {
	n := Notification{
		Shown:          shown,
		TorchAvailable: caps.HasFlashHardware,
		TorchOn:        torchOn,
	}
	if !m.deps.Notifier.Present(n) {
		log.Warn().Bool("shown", n.Shown).Msg("Failed to present notification")
		return ErrNotifyFailed
	}
	return nil
}

func (m *Machine) emitLocked(reason Reason, caps permission.Capabilities) {
	if m.deps.Bus == nil {
		return
	}

	status := Status{
		ID:             uuid.NewString(),
		Shown:          m.state.Shown,
		TorchOn:        m.state.TorchOn,
		TorchAvailable: caps.HasFlashHardware,
		Payload:        m.state.Payload,
		Color:          compositor.ComposePayload(m.state.Payload).Hex(),
		Reason:         reason,
		At:             time.Now().UTC(),
	}

	log.Debug().
		Str("id", status.ID).
		Bool("shown", status.Shown).
		Bool("torch_on", status.TorchOn).
		Str("reason", string(reason)).
		Msg("Overlay status")

	m.deps.Bus.Publish(eventbus.Event{Type: eventbus.EventTypeStatus, At: status.At, Data: status})
}

func (m *Machine) capabilitiesLocked() permission.Capabilities {
	return permission.Probe(prober{perms: m.deps.Permissions, torch: m.deps.Torch})
}

type prober struct {
	perms Permissions
	torch Torch
}

func (p prober) OverlayGranted() bool { return p.perms.OverlayGranted() }
func (p prober) HasHardware() bool    { return p.torch.HasHardware() }
func (p prober) HasPermission() bool  { return p.torch.HasPermission() }

type nopRenderer struct{}

func (nopRenderer) Render(compositor.Color) bool { return true }
func (nopRenderer) Remove() bool                 { return true }

type nopNotifier struct{}

func (nopNotifier) Present(Notification) bool { return true }
func (nopNotifier) Dismiss() bool             { return true }
func (nopNotifier) Remind() bool              { return true }

type noTorch struct{}

func (noTorch) HasHardware() bool   { return false }
func (noTorch) HasPermission() bool { return false }
func (noTorch) Set(bool) bool       { return false }

type deniedPermissions struct{}

func (deniedPermissions) OverlayGranted() bool { return false }
func (deniedPermissions) RequestOverlay() bool { return false }
