package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

var standardCronParser = cron.NewParser(
	cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow,
)

// parseCronExpressionUTC parses a five-field cron expression. Schedules are
// UTC-only; timezone prefixes are rejected.
func parseCronExpressionUTC(expr string) (cron.Schedule, error) {
	clean := strings.TrimSpace(expr)
	if clean == "" {
		return nil, fmt.Errorf("cron expression is required")
	}

	upper := strings.ToUpper(clean)
	if strings.Contains(upper, "CRON_TZ=") || strings.Contains(upper, "TZ=") {
		return nil, fmt.Errorf("cron expression must be UTC-only (timezone prefixes are not allowed)")
	}

	schedule, err := standardCronParser.Parse(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule, nil
}

func nextCronRunUTC(expr string, now time.Time) (time.Time, error) {
	schedule, err := parseCronExpressionUTC(expr)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(now.UTC()), nil
}

// Scheduler fires unattended digest runs on a cron schedule and records them
// in the run store with the schedule trigger.
type Scheduler struct {
	schedule   cron.Schedule
	expr       string
	runner     DigestRunner
	store      RunStore
	emailCount int
	logger     *slog.Logger

	// now is swappable for tests.
	now func() time.Time
}

// SchedulerConfig wires a Scheduler.
type SchedulerConfig struct {
	// Expr is a five-field cron expression evaluated in UTC.
	Expr       string
	Runner     DigestRunner
	Store      RunStore
	EmailCount int
	Logger     *slog.Logger
}

// NewScheduler validates the expression and builds a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("scheduler: digest runner is required")
	}
	schedule, err := parseCronExpressionUTC(cfg.Expr)
	if err != nil {
		return nil, err
	}
	store := cfg.Store
	if store == nil {
		store = NewMemoryRunStore()
	}
	emailCount := cfg.EmailCount
	if emailCount <= 0 {
		emailCount = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		schedule:   schedule,
		expr:       strings.TrimSpace(cfg.Expr),
		runner:     cfg.Runner,
		store:      store,
		emailCount: emailCount,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Next returns the next firing time after now, in UTC.
func (s *Scheduler) Next(now time.Time) time.Time {
	return s.schedule.Next(now.UTC())
}

// Run blocks until ctx is canceled, firing a digest run at each scheduled
// time. Runs are sequential; a slow run delays the next firing rather than
// overlapping it.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("digest schedule active", "cron", s.expr, "next", s.Next(s.now()))

	for {
		next := s.Next(s.now())
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.fire(ctx)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context) {
	rec := RunRecord{
		ID:         uuid.NewString(),
		Status:     RunStatusRunning,
		Trigger:    TriggerSchedule,
		EmailCount: s.emailCount,
		StartedAt:  s.now().UTC(),
	}
	if err := s.store.Create(ctx, rec); err != nil {
		s.logger.Error("recording scheduled run start failed", "error", err)
		return
	}

	digest, runErr := s.runner.Run(ctx, s.emailCount)

	finished := s.now().UTC()
	rec.FinishedAt = &finished
	if runErr != nil {
		rec.Status = RunStatusFailed
		rec.Error = runErr.Error()
		s.logger.Error("scheduled digest run failed", "error", runErr, "run_id", rec.ID)
	} else {
		rec.Status = RunStatusCompleted
		rec.Digest = digest
		s.logger.Info("scheduled digest run completed", "run_id", rec.ID, "digest_bytes", len(digest))
	}
	if err := s.store.Update(context.WithoutCancel(ctx), rec); err != nil {
		s.logger.Error("recording scheduled run outcome failed", "error", err, "run_id", rec.ID)
	}
}
