package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/config"
	"github.com/dokzlo13/nightbuddy/internal/ledger"
	"github.com/dokzlo13/nightbuddy/internal/schedule"
	"github.com/dokzlo13/nightbuddy/internal/scheduler"
)

// SchedulerService wraps the schedule runner and related periodic tasks.
type SchedulerService struct {
	cfg    *config.Config
	Runner *scheduler.Runner
	ledger *ledger.Ledger
}

// NewSchedulerService creates a new SchedulerService. l may be nil.
func NewSchedulerService(
	cfg *config.Config,
	loader scheduler.StateLoader,
	clock schedule.Clock,
	ctl scheduler.Controller,
	reminder scheduler.Reminder,
	l *ledger.Ledger,
) *SchedulerService {
	return &SchedulerService{
		cfg:    cfg,
		Runner: scheduler.New(loader, clock, ctl, reminder, cfg.Resolver.Interval.Duration()),
		ledger: l,
	}
}

// Start posts the boot reminder, then runs the resolver loop and ledger
// cleanup until the group's context is cancelled.
func (s *SchedulerService) Start(g *group) {
	s.Runner.RunBootReminder()

	g.Go(func(ctx context.Context) {
		if err := s.Runner.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Schedule runner error")
		}
	})

	if s.ledger != nil {
		g.Go(s.runLedgerCleanup)
	}
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := s.cfg.Ledger.Retention()
	interval := s.cfg.Ledger.CleanupInterval.Duration()
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := s.ledger.DeleteOlderThan(retention)
			if err != nil {
				log.Error().Err(err).Msg("Failed to cleanup old ledger entries")
			} else if deleted > 0 {
				log.Info().Int64("deleted", deleted).Dur("retention", retention).Msg("Cleaned up old ledger entries")
			}
		}
	}
}
