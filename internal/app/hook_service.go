package app

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/config"
	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/hook"
)

// HookService wraps the optional Lua status script.
type HookService struct {
	cfg     *config.Config
	bus     *eventbus.Bus
	Runtime *hook.Runtime // nil when no script is configured
	status  *hook.StatusHook
}

// NewHookService creates a new HookService.
func NewHookService(cfg *config.Config, ctl hook.Controller, bus *eventbus.Bus) *HookService {
	s := &HookService{cfg: cfg, bus: bus}
	if cfg.Script != "" {
		s.Runtime = hook.NewRuntime(ctl)
	}
	return s
}

// LoadScript loads and executes the Lua script.
// Must be called before Start().
func (s *HookService) LoadScript() error {
	if s.Runtime == nil {
		return nil
	}
	return s.Runtime.LoadScript(s.cfg.Script)
}

// Start begins the Lua worker goroutine and subscribes the script to status
// events.
func (s *HookService) Start(g *group) {
	if s.Runtime == nil {
		log.Debug().Msg("No Lua script configured")
		return
	}

	// Only this goroutine touches Lua from here on
	g.Go(s.Runtime.Run)

	s.status = hook.AttachStatusHook(s.Runtime, s.bus)
}

// Detach stops delivering status events to the script.
func (s *HookService) Detach() {
	if s.status != nil {
		s.status.Detach()
		s.status = nil
	}
}
