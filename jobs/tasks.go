package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/clearledger/clearledger/internal/audit"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAuditPersist durably stores one audit entry.
	TaskAuditPersist = "audit:persist"
	// TaskRetentionSweep enforces the audit storage TTL.
	TaskRetentionSweep = "compliance:retention_sweep"
	// TaskRemediationReminder reports violations past their deadline.
	TaskRemediationReminder = "compliance:remediation_reminder"
)

// NewAuditPersistTask constructs the persistence task for one entry.
func NewAuditPersistTask(entry audit.Entry) (*asynq.Task, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditPersist, data), nil
}

// NewRetentionSweepTask constructs the periodic retention sweep task.
func NewRetentionSweepTask() *asynq.Task {
	return asynq.NewTask(TaskRetentionSweep, nil)
}

// NewRemediationReminderTask constructs the periodic reminder task.
func NewRemediationReminderTask() *asynq.Task {
	return asynq.NewTask(TaskRemediationReminder, nil)
}
