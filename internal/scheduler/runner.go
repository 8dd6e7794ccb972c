// Package scheduler drives the filter state machine from the persisted
// schedule.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/model"
	"github.com/dokzlo13/nightbuddy/internal/overlay"
	"github.com/dokzlo13/nightbuddy/internal/schedule"
)

// DefaultInterval is the resolve cadence used when none is configured.
const DefaultInterval = 30 * time.Second

// StateLoader returns the current persisted state, nil when absent.
type StateLoader interface {
	Load() *model.PersistedState
}

// Controller is the part of the state machine the runner drives.
type Controller interface {
	Start(payload model.Payload, enable bool) error
	Disable() error
	Snapshot() overlay.State
}

// Reminder shows the post-boot reminder.
type Reminder interface {
	Remind() bool
}

// Runner periodically resolves the schedule and applies changes to the
// controller.
type Runner struct {
	loader   StateLoader
	clock    schedule.Clock
	ctl      Controller
	reminder Reminder
	interval time.Duration

	mu      sync.Mutex
	applied *schedule.Resolved

	reschedule chan struct{}
}

// New creates a runner. A non-positive interval selects DefaultInterval.
func New(loader StateLoader, clock schedule.Clock, ctl Controller, reminder Reminder, interval time.Duration) *Runner {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Runner{
		loader:     loader,
		clock:      clock,
		ctl:        ctl,
		reminder:   reminder,
		interval:   interval,
		reschedule: make(chan struct{}, 1),
	}
}

// Reschedule asks the loop to resolve immediately, e.g. after the persisted
// state changed.
func (r *Runner) Reschedule() {
	select {
	case r.reschedule <- struct{}{}:
	default:
	}
}

// Run resolves once immediately and then on every tick or reschedule signal
// until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().Dur("interval", r.interval).Msg("Schedule runner started")

	for {
		r.tick()

		timer := time.NewTimer(r.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("Schedule runner stopping")
			return nil

		case <-r.reschedule:
			timer.Stop()
			log.Debug().Msg("State changed, resolving")

		case <-timer.C:
		}
	}
}

// Preview resolves the persisted state at the given instant without applying
// it. ok is false when no usable state is stored.
func (r *Runner) Preview(at time.Time) (res schedule.Resolved, ok bool) {
	state := r.loader.Load()
	if state == nil {
		return schedule.Resolved{}, false
	}
	at = at.In(r.location())
	return schedule.Resolve(*state, at, r.clock.IsWeekend(at)), true
}

// LastApplied returns the resolution most recently applied to the controller.
func (r *Runner) LastApplied() (schedule.Resolved, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applied == nil {
		return schedule.Resolved{}, false
	}
	return *r.applied, true
}

// RunBootReminder shows the reminder when the stored state asks for one.
func (r *Runner) RunBootReminder() bool {
	state := r.loader.Load()
	if state == nil || !state.StartOnBootReminder {
		return false
	}
	if !r.reminder.Remind() {
		log.Warn().Msg("Failed to post boot reminder")
		return false
	}
	log.Info().Msg("Boot reminder posted")
	return true
}

func (r *Runner) tick() {
	state := r.loader.Load()
	if state == nil {
		return
	}

	now := r.clock.Now()
	res := schedule.Resolve(*state, now, r.clock.IsWeekend(now))

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.applied != nil && sameResolution(*r.applied, res) {
		return
	}
	if r.heldOff(res) {
		log.Debug().Str("phase", res.Phase.String()).Msg("Overlay turned off manually, waiting for the next phase")
		return
	}

	var err error
	if res.DesiredOn {
		err = r.ctl.Start(res.Payload, true)
	} else {
		err = r.ctl.Disable()
	}

	if err != nil {
		// Forget the last apply so the next tick retries.
		r.applied = nil
	}

	switch {
	case err == nil:
		r.applied = &res
		log.Info().
			Str("phase", res.Phase.String()).
			Bool("on", res.DesiredOn).
			Float64("fraction", res.Fraction).
			Msg("Schedule applied")
	case errors.Is(err, overlay.ErrClosed):
		log.Debug().Msg("State machine closed, skipping schedule")
	case errors.Is(err, overlay.ErrPermissionDenied):
		log.Debug().Str("phase", res.Phase.String()).Msg("Schedule wants overlay but permission is missing")
	default:
		log.Warn().Err(err).Str("phase", res.Phase.String()).Msg("Failed to apply schedule")
	}
}

// heldOff reports whether the overlay was hidden by someone else while the
// runner wants it on in the same phase it last applied.
func (r *Runner) heldOff(res schedule.Resolved) bool {
	if r.applied == nil || !r.applied.DesiredOn || !res.DesiredOn || r.applied.Phase != res.Phase {
		return false
	}
	return !r.ctl.Snapshot().Shown
}

func (r *Runner) location() *time.Location {
	if l, ok := r.clock.(interface{ Location() *time.Location }); ok {
		return l.Location()
	}
	return time.Local
}

// sameResolution ignores the payload while off since nothing is drawn.
func sameResolution(a, b schedule.Resolved) bool {
	if a.DesiredOn != b.DesiredOn {
		return false
	}
	if !a.DesiredOn {
		return true
	}
	return a.Payload == b.Payload
}
