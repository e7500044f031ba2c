package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fountaind/internal/config"
	"github.com/dokzlo13/fountaind/internal/eventbus"
	"github.com/dokzlo13/fountaind/internal/ledger"
	"github.com/dokzlo13/fountaind/internal/scheduler"
)

// SchedulerService wraps the scheduler and related periodic tasks.
type SchedulerService struct {
	cfg       *config.Config
	Scheduler *scheduler.Scheduler // nil when disabled
	ledger    *ledger.Ledger
	enabled   bool
}

// NewSchedulerService creates a new SchedulerService.
func NewSchedulerService(cfg *config.Config, bus *eventbus.Bus, l *ledger.Ledger) *SchedulerService {
	enabled := cfg.Scheduler.IsEnabled()

	var sched *scheduler.Scheduler
	if enabled {
		sched = scheduler.New(bus, l, cfg.Scheduler.Timezone)
		sched.RecoveryWindow = cfg.Scheduler.RecoveryWindow.Duration()
	}

	return &SchedulerService{
		cfg:       cfg,
		Scheduler: sched,
		ledger:    l,
		enabled:   enabled,
	}
}

// IsEnabled returns whether the scheduler is enabled.
func (s *SchedulerService) IsEnabled() bool {
	return s.enabled
}

// Upcoming lists the next occurrence of every schedule for status output.
func (s *SchedulerService) Upcoming() []any {
	if !s.enabled {
		return nil
	}
	entries := s.Scheduler.Upcoming()
	out := make([]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":       e.ID,
			"spec":     e.Spec,
			"playlist": e.Playlist,
			"next":     e.Next,
		})
	}
	return out
}

// Start begins the scheduler and the ledger retention task.
func (s *SchedulerService) Start(ctx context.Context) {
	go s.runLedgerCleanup(ctx)

	if !s.enabled {
		log.Info().Msg("Scheduler is disabled")
		return
	}

	// Run boot recovery first
	s.Scheduler.RunBootRecovery()

	go func() {
		if err := s.Scheduler.Run(ctx); err != nil {
			log.Error().Err(err).Msg("Scheduler error")
		}
	}()
}

// runLedgerCleanup periodically cleans up old ledger entries.
func (s *SchedulerService) runLedgerCleanup(ctx context.Context) {
	retention := time.Duration(s.cfg.Ledger.RetentionDays) * 24 * time.Hour
	interval := s.cfg.Ledger.CleanupInterval.Duration()
	if retention <= 0 || interval <= 0 {
		return
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
