package cron

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Default schedules.
const (
	DefaultSweepSchedule     = "*/15 * * * *"
	DefaultRetentionSchedule = "0 3 * * *"
)

// PendingSweeper is the subset of pending.Store used by PendingSweepJob.
type PendingSweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// PendingSweepJob deletes staged episodes whose TTL has elapsed.
type PendingSweepJob struct {
	Pending      PendingSweeper
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultSweepSchedule
}

// Compile-time interface check.
var _ Job = (*PendingSweepJob)(nil)

// Name implements Job.
func (j *PendingSweepJob) Name() string { return "pending_sweep" }

// Schedule implements Job.
func (j *PendingSweepJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultSweepSchedule
}

// Run sweeps expired pending episodes.
func (j *PendingSweepJob) Run(ctx context.Context) error {
	n, err := j.Pending.SweepExpired(ctx)
	if n > 0 {
		j.Logger.Info("cron: expired pending episodes swept", "count", n)
	}
	if err != nil {
		return fmt.Errorf("cron: pending sweep: %w", err)
	}
	return nil
}

// TelemetryPurger is the subset of telemetry.Store used for retention.
type TelemetryPurger interface {
	PurgeBefore(ctx context.Context, t time.Time) (int, error)
}

// TelemetryRetentionJob removes telemetry of episodes that finished more
// than Retention ago. Unfinished episodes are never pruned.
type TelemetryRetentionJob struct {
	Store        TelemetryPurger
	Retention    time.Duration
	Logger       *slog.Logger
	ScheduleExpr string // empty = DefaultRetentionSchedule
	Now          func() time.Time
}

// Compile-time interface check.
var _ Job = (*TelemetryRetentionJob)(nil)

// Name implements Job.
func (j *TelemetryRetentionJob) Name() string { return "telemetry_retention" }

// Schedule implements Job.
func (j *TelemetryRetentionJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return DefaultRetentionSchedule
}

// Run purges telemetry older than the retention window.
func (j *TelemetryRetentionJob) Run(ctx context.Context) error {
	if j.Retention <= 0 {
		return nil
	}
	now := time.Now
	if j.Now != nil {
		now = j.Now
	}
	cutoff := now().Add(-j.Retention)
	n, err := j.Store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("cron: telemetry retention: %w", err)
	}
	if n > 0 {
		j.Logger.Info("cron: old telemetry purged", "episodes", n, "before", cutoff)
	}
	return nil
}
