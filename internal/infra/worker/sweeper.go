package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"uplink/internal/observability/logging"
	"uplink/internal/observability/requestid"
	"uplink/internal/pkg/config"
)

// CacheSweeper removes expired cache entries. *retrieval.Service implements it.
type CacheSweeper interface {
	ClearExpiredCache(ctx context.Context) (int, error)
}

// Sweeper runs CacheSweeper on a cron schedule.
type Sweeper struct {
	target   CacheSweeper
	schedule string
	timeout  time.Duration
	metrics  *SweepMetrics
	logger   *slog.Logger
	cron     *cron.Cron
}

// NewSweeper creates a Sweeper. schedule accepts five-field expressions and
// descriptors such as "@every 1h". metrics may be nil.
func NewSweeper(target CacheSweeper, schedule string, metrics *SweepMetrics, logger *slog.Logger) (*Sweeper, error) {
	sched, err := config.ParseCronSchedule(schedule)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Sweeper{
		target:   target,
		schedule: schedule,
		timeout:  5 * time.Minute,
		metrics:  metrics,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		_, _ = s.RunOnce(context.Background())
	}))
	return s, nil
}

// Schedule returns the configured schedule expression.
func (s *Sweeper) Schedule() string { return s.schedule }

// Start begins running the schedule in the background.
func (s *Sweeper) Start() {
	s.cron.Start()
	s.logger.Info("cache sweep scheduled", slog.String("schedule", s.schedule))
}

// Stop stops scheduling and waits for a running sweep to finish or ctx to expire.
func (s *Sweeper) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("Stop: %w", ctx.Err())
	}
}

// RunOnce performs one sweep and records its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx = requestid.Ensure(ctx)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	logger := logging.WithRequestID(ctx, s.logger)
	start := time.Now()

	removed, err := s.target.ClearExpiredCache(ctx)
	duration := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordDuration(duration.Seconds())
	}
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordRun("failure")
		}
		logger.Error("cache sweep failed", slog.Any("error", err), slog.Duration("duration", duration))
		return removed, err
	}

	if s.metrics != nil {
		s.metrics.RecordRun("success")
		s.metrics.RecordRemoved(removed)
		s.metrics.RecordLastSuccess()
	}
	logger.Info("cache sweep completed", slog.Int("removed", removed), slog.Duration("duration", duration))
	return removed, nil
}
