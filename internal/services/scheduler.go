package services

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Watchdog is the part of the session orchestrator the scheduler drives.
type Watchdog interface {
	CheckHeartbeats(ctx context.Context, now time.Time) int
	PruneEnded(cutoff time.Time) int
}

// Scheduler periodically flags silent clients and forgets sessions that
// ended longer than the retention window ago.
type Scheduler struct {
	log       *zap.Logger
	watchdog  Watchdog
	interval  time.Duration
	retention time.Duration
}

func NewScheduler(log *zap.Logger, watchdog Watchdog, interval, retention time.Duration) *Scheduler {
	return &Scheduler{
		log:       log,
		watchdog:  watchdog,
		interval:  interval,
		retention: retention,
	}
}

// Start runs the scheduler in a goroutine until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info("Starting heartbeat scheduler...", zap.Duration("interval", s.interval))
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.log.Info("Heartbeat scheduler stopped")
				return
			case now := <-ticker.C:
				s.runCheck(ctx, now.UTC())
			}
		}
	}()
}

func (s *Scheduler) runCheck(ctx context.Context, now time.Time) {
	lost := s.watchdog.CheckHeartbeats(ctx, now)
	pruned := s.watchdog.PruneEnded(now.Add(-s.retention))
	if lost > 0 || pruned > 0 {
		s.log.Debug("Heartbeat check",
			zap.Int("heartbeats_lost", lost),
			zap.Int("sessions_pruned", pruned))
	}
}
