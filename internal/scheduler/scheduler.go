// Package scheduler runs periodic housekeeping: pruning finished tasks from
// the registry and refreshing the quota gauges.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/candidate-discovery/internal/metrics"
	"github.com/JakeFAU/candidate-discovery/internal/quota"
)

// Pruner drops terminal tasks last updated before cutoff.
type Pruner interface {
	Prune(cutoff time.Time) int
}

// QuotaReporter exposes today's ledger counters.
type QuotaReporter interface {
	Snapshot() []quota.Usage
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Scheduler wraps robfig/cron.
type Scheduler struct {
	cron      *cron.Cron
	schedule  string
	retention time.Duration
	tasks     Pruner
	quota     QuotaReporter
	clock     Clock
	logger    *zap.Logger
}

// New creates a Scheduler that fires on schedule (standard cron syntax or
// descriptors such as "@every 10m").
func New(schedule string, retention time.Duration, tasks Pruner, quota QuotaReporter, clock Clock, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		cron:      cron.New(),
		schedule:  schedule,
		retention: retention,
		tasks:     tasks,
		quota:     quota,
		clock:     clock,
		logger:    logger.Named("scheduler"),
	}
}

// Start registers the housekeeping job and starts the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.Tick); err != nil {
		return fmt.Errorf("schedule housekeeping %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.schedule), zap.Duration("retention", s.retention))
	return nil
}

// Stop halts the cron loop and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	s.logger.Info("scheduler stopped")
}

// Tick runs one housekeeping pass.
func (s *Scheduler) Tick() {
	if s.tasks != nil && s.retention > 0 {
		cutoff := s.clock.Now().Add(-s.retention)
		if removed := s.tasks.Prune(cutoff); removed > 0 {
			s.logger.Info("pruned finished tasks", zap.Int("removed", removed), zap.Time("cutoff", cutoff))
		}
	}
	if s.quota != nil {
		for _, u := range s.quota.Snapshot() {
			metrics.SetQuotaUsed(string(u.Kind), u.Used)
		}
	}
}
