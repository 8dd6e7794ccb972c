// Package api exposes the filter controls over HTTP and streams status
// changes over a websocket.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/ledger"
	"github.com/dokzlo13/nightbuddy/internal/model"
	"github.com/dokzlo13/nightbuddy/internal/overlay"
	"github.com/dokzlo13/nightbuddy/internal/permission"
	"github.com/dokzlo13/nightbuddy/internal/schedule"
)

// Machine is the state machine surface the API drives.
type Machine interface {
	StartWith(patch func(model.Payload) model.Payload, enable bool) error
	Enable() error
	Disable() error
	UpdateWith(patch func(model.Payload) model.Payload) error
	Toggle() error
	ToggleTorch() error
	RequestOverlayPermission() bool
	Capabilities() permission.Capabilities
	Snapshot() overlay.State
	Closed() bool
}

// StateStore holds the persisted application blob.
type StateStore interface {
	ReadState() ([]byte, error)
	WriteState(raw []byte) error
}

// Planner previews the schedule and reacts to state edits.
type Planner interface {
	Preview(at time.Time) (schedule.Resolved, bool)
	Reschedule()
}

// History records and lists transitions.
type History interface {
	Recent(limit int) ([]*ledger.Entry, error)
	Append(eventType ledger.EventType, idempotencyKey, source string, payload map[string]any) error
}

// PermissionSetter changes the overlay grant.
type PermissionSetter interface {
	SetOverlayGranted(granted bool)
}

// Deps are the collaborators of the API. History and Permissions are
// optional.
type Deps struct {
	Machine     Machine
	State       StateStore
	Planner     Planner
	History     History
	Permissions PermissionSetter
	Bus         *eventbus.Bus
	Hub         *Hub
	Now         func() time.Time

	RateLimitRPS float64
	RateBurst    int
}

// API serves the control endpoints.
type API struct {
	deps Deps
}

// New creates the API.
func New(deps Deps) *API {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &API{deps: deps}
}

// Handler builds the routing tree.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", a.health)

	if a.deps.Hub != nil {
		// Outside the timeout middleware: the connection outlives the request.
		r.Get("/ws", a.deps.Hub.ServeWS)
	}

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.Timeout(20 * time.Second))
		if a.deps.RateLimitRPS > 0 {
			api.Use(rateLimit(a.deps.RateLimitRPS, a.deps.RateBurst))
		}

		api.Get("/status", a.status)

		api.Post("/overlay/start", a.start)
		api.Post("/overlay/enable", a.command(a.deps.Machine.Enable))
		api.Post("/overlay/disable", a.command(a.deps.Machine.Disable))
		api.Post("/overlay/toggle", a.command(a.deps.Machine.Toggle))
		api.Put("/overlay/payload", a.updatePayload)
		api.Post("/torch/toggle", a.command(a.deps.Machine.ToggleTorch))
		api.Post("/notification/actions/{action}", a.notificationAction)

		api.Get("/permissions", a.permissions)
		api.Post("/permissions/overlay", a.requestOverlay)

		api.Get("/state", a.getState)
		api.Put("/state", a.putState)
		api.Post("/snooze", a.snooze)
		api.Delete("/snooze", a.clearSnooze)

		api.Get("/resolve", a.resolve)
		api.Get("/history", a.history)
	})

	return r
}
