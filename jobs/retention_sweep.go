package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/clearledger/clearledger/internal/jobs"
)

// AuditPurger removes audit entries past the storage TTL.
type AuditPurger interface {
	PurgeExpired(ctx context.Context, before time.Time) (int64, error)
}

// RetentionEnforcer applies auto-delete retention policies to retained
// compliance data, reporting how many violations were recorded for data
// held past its window.
type RetentionEnforcer interface {
	EnforceRetention(ctx context.Context) int
}

// RetentionSweepJob enforces the 30-day audit storage TTL and walks the
// auto-delete retention policies for the remaining registries.
type RetentionSweepJob struct {
	Purger   AuditPurger
	Enforcer RetentionEnforcer
	TTL      time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
	clock    func() time.Time
}

// NewRetentionSweepJob initialises the sweep handler. enforcer may be nil
// when only the audit TTL applies.
func NewRetentionSweepJob(purger AuditPurger, enforcer RetentionEnforcer, ttl time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *RetentionSweepJob {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &RetentionSweepJob{
		Purger:   purger,
		Enforcer: enforcer,
		TTL:      ttl,
		Logger:   logger,
		Metrics:  metrics,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Handle runs one sweep.
func (j *RetentionSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Purger == nil {
		return errors.New("jobs: retention sweep not configured")
	}
	tracker := j.Metrics.Track("retention_sweep")
	cutoff := j.clock().Add(-j.TTL)
	purged, err := j.Purger.PurgeExpired(ctx, cutoff)
	if err != nil {
		return tracker.End(err)
	}
	if j.Logger != nil && purged > 0 {
		j.Logger.Info("purged expired audit entries",
			slog.Int64("count", purged),
			slog.Time("cutoff", cutoff))
	}
	if j.Enforcer != nil {
		if flagged := j.Enforcer.EnforceRetention(ctx); flagged > 0 && j.Logger != nil {
			j.Logger.Warn("data retained past auto-delete window",
				slog.Int("violations", flagged))
		}
	}
	return tracker.End(nil)
}
