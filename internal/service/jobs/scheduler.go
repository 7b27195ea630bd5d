package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs maintenance every ten minutes.
const DefaultSchedule = "@every 10m"

// Scheduler runs job record GC and the retention sweep on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	svc    *Service
	logger *slog.Logger
}

// NewScheduler registers the maintenance task under schedule.
func NewScheduler(svc *Service, schedule string, logger *slog.Logger) (*Scheduler, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s := &Scheduler{
		cron:   cron.New(),
		svc:    svc,
		logger: logger.With("component", "maintenance"),
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.RunOnce(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins running the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("maintenance scheduler started")
}

// Stop waits for a running task and stops the scheduler.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("maintenance scheduler stopped")
}

// RunOnce collects job records and sweeps orphaned artifacts.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if _, err := s.svc.CollectGarbage(ctx); err != nil {
		s.logger.Warn("job gc failed", "error", err)
	}
	if _, err := s.svc.Retention().Sweep(ctx); err != nil {
		s.logger.Warn("artifact sweep failed", "error", err)
	}
}
