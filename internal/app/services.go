package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/bootconfig"
	"github.com/dokzlo13/nightbuddy/internal/config"
	"github.com/dokzlo13/nightbuddy/internal/db"
	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/ledger"
	"github.com/dokzlo13/nightbuddy/internal/overlay"
	"github.com/dokzlo13/nightbuddy/internal/platform"
	"github.com/dokzlo13/nightbuddy/internal/schedule"
	"github.com/dokzlo13/nightbuddy/internal/storage"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB       *db.DB
	Ledger   *ledger.Ledger // nil when the ledger is disabled
	Store    *storage.Store
	AppState *storage.AppState
	Bus      *eventbus.Bus

	// Filter core
	Permissions *platform.StaticPermissions
	Machine     *overlay.Machine
	Loader      *bootconfig.Loader
	Clock       *schedule.SystemClock

	// High-level services
	Scheduler *SchedulerService
	API       *APIService
	MQTT      *MQTTService
	Hook      *HookService

	recorder *ledger.Recorder

	// producers issue commands; listeners consume bus events and outlive
	// producers until the final status has been delivered.
	producers       *group
	listeners       *group
	cancelListeners context.CancelFunc
}

// group runs goroutines bound to one context and waits for them.
type group struct {
	ctx context.Context
	wg  sync.WaitGroup
}

func newGroup(ctx context.Context) *group {
	return &group{ctx: ctx}
}

// Go runs fn with the group's context.
func (g *group) Go(fn func(ctx context.Context)) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		fn(g.ctx)
	}()
}

// Wait blocks until every fn returned.
func (g *group) Wait() {
	g.wg.Wait()
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Store = storage.NewStore(database.DB)
	s.AppState = storage.NewAppState(s.Store)
	s.Bus = eventbus.NewWithQueueSize(cfg.EventBus.GetQueueSize())

	if cfg.Ledger.Enabled {
		s.Ledger = ledger.New(database.DB)
	}

	clock, err := newClock(cfg.Resolver)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Clock = clock

	s.Permissions = platform.NewStaticPermissions(cfg.Platform.OverlayGranted)
	deps := overlay.Deps{
		Renderer:    platform.NewBusRenderer(s.Bus),
		Notifier:    platform.NewBusNotifier(s.Bus),
		Permissions: s.Permissions,
		Bus:         s.Bus,
	}
	if cfg.Platform.TorchLED != "" {
		deps.Torch = platform.NewSysfsTorch(cfg.Platform.TorchLED)
	}
	s.Machine = overlay.New(overlay.NewState(), deps)

	s.Loader = bootconfig.NewLoader(s.AppState)

	s.Scheduler = NewSchedulerService(cfg, s.Loader, s.Clock, s.Machine, deps.Notifier, s.Ledger)
	s.API = NewAPIService(cfg, s)
	s.MQTT = NewMQTTService(cfg, s.Machine, s.Bus)
	s.Hook = NewHookService(cfg, s.Machine, s.Bus)

	return s, nil
}

func newClock(cfg config.ResolverConfig) (*schedule.SystemClock, error) {
	days := make([]time.Weekday, 0, len(cfg.WeekendDays))
	for _, name := range cfg.WeekendDays {
		d, err := schedule.ParseWeekday(name)
		if err != nil {
			return nil, fmt.Errorf("resolver.weekend_days: %w", err)
		}
		days = append(days, d)
	}
	return schedule.NewSystemClock(cfg.Timezone, days), nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a service cannot keep running.
// Cancelling ctx stops the producers; listeners keep running until Stop.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	// Load Lua script before starting worker
	if err := s.Hook.LoadScript(); err != nil {
		return err
	}

	if s.Ledger != nil {
		s.recorder = ledger.NewRecorder(s.Ledger, s.Bus)
	}

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancelListeners = cancel
	s.producers = newGroup(ctx)
	s.listeners = newGroup(listenCtx)

	s.Hook.Start(s.listeners)
	s.API.Start(s.producers, s.listeners, onFatalError)
	s.MQTT.Start(s.listeners)
	s.Scheduler.Start(s.producers)

	return nil
}

// ClearState removes the persisted application state.
func (s *Services) ClearState() error {
	return s.AppState.Reset()
}

// ImportState validates raw as persisted state and stores its normalized form.
func (s *Services) ImportState(raw []byte) error {
	state, err := bootconfig.Decode(raw)
	if err != nil {
		return err
	}
	normalized, err := bootconfig.Encode(*state)
	if err != nil {
		return err
	}
	return s.AppState.WriteState(normalized)
}

// Stop waits for the producers to exit, hides the filter, delivers the final
// status to the listeners and then stops them. The context passed to Start
// must be cancelled first.
func (s *Services) Stop() error {
	if s.producers != nil {
		s.producers.Wait()
	}

	s.Machine.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	s.Bus.Close(ctx)

	if s.listeners != nil {
		s.cancelListeners()
		s.listeners.Wait()
	}
	s.Hook.Detach()

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.recorder != nil {
		s.recorder.Stop()
		s.recorder = nil
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Error().Err(err).Msg("Failed to close database")
		}
		s.DB = nil
	}
}
