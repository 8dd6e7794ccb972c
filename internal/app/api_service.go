package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/api"
	"github.com/dokzlo13/nightbuddy/internal/config"
)

// APIService wraps the control API server and its websocket hub.
type APIService struct {
	cfg    *config.Config
	Hub    *api.Hub
	server *api.Server
}

// NewAPIService creates a new APIService from the core services.
func NewAPIService(cfg *config.Config, s *Services) *APIService {
	hub := api.NewHub(s.Bus)
	deps := api.Deps{
		Machine:      s.Machine,
		State:        s.AppState,
		Planner:      s.Scheduler.Runner,
		Permissions:  s.Permissions,
		Bus:          s.Bus,
		Hub:          hub,
		Now:          s.Clock.Now,
		RateLimitRPS: cfg.API.RateLimitRPS,
		RateBurst:    cfg.API.RateBurst,
	}
	// A nil *ledger.Ledger must not become a non-nil History.
	if s.Ledger != nil {
		deps.History = s.Ledger
	}

	return &APIService{
		cfg:    cfg,
		Hub:    hub,
		server: api.NewServer(cfg.API.Addr(), api.New(deps).Handler()),
	}
}

// Start begins the API server if enabled. The websocket hub is a listener
// and keeps streaming until the final status went out. A server that cannot
// listen is reported through onFatalError.
func (s *APIService) Start(producers, listeners *group, onFatalError func(error)) {
	if !s.cfg.API.Enabled {
		log.Debug().Msg("Control API disabled")
		return
	}

	listeners.Go(s.Hub.Run)
	producers.Go(func(ctx context.Context) {
		if err := s.server.Run(ctx, s.cfg.ShutdownTimeout.Duration()); err != nil {
			onFatalError(err)
		}
	})
}
