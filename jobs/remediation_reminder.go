package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clearledger/clearledger/internal/compliance"
	jobmetrics "github.com/clearledger/clearledger/internal/jobs"
)

// RemediationReminderJob surfaces violations past their remediation
// deadline through logs and metrics.
type RemediationReminderJob struct {
	Engine  *compliance.Engine
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRemediationReminderJob initialises the reminder handler.
func NewRemediationReminderJob(engine *compliance.Engine, logger *slog.Logger, metrics *jobmetrics.Metrics) *RemediationReminderJob {
	return &RemediationReminderJob{Engine: engine, Logger: logger, Metrics: metrics}
}

// Handle reports every overdue violation.
func (j *RemediationReminderJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Engine == nil {
		return errors.New("jobs: remediation reminder not configured")
	}
	tracker := j.Metrics.Track("remediation_reminder")
	overdue := j.Engine.OverdueViolations()
	counts := make(map[[2]string]int)
	for _, v := range overdue {
		if j.Logger != nil {
			j.Logger.Warn("violation past remediation deadline",
				slog.String("violation", v.ID),
				slog.String("standard", string(v.Standard)),
				slog.String("severity", string(v.Severity)),
				slog.Time("deadline", v.RemediationDeadline))
		}
		counts[[2]string{string(v.Standard), string(v.Severity)}]++
	}
	for key, count := range counts {
		j.Metrics.AddOverdueViolations(key[0], key[1], count)
	}
	return tracker.End(nil)
}
