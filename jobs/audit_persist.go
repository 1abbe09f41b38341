package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/clearledger/clearledger/internal/audit"
	jobmetrics "github.com/clearledger/clearledger/internal/jobs"
)

// AuditPersistJob writes queued audit entries to durable storage.
type AuditPersistJob struct {
	Repo    audit.Repository
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditPersistJob initialises the persistence handler.
func NewAuditPersistJob(repo audit.Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditPersistJob {
	return &AuditPersistJob{Repo: repo, Logger: logger, Metrics: metrics}
}

// Handle stores one audit entry. Malformed payloads are dropped rather than
// retried: the entry can never become decodable.
func (j *AuditPersistJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Repo == nil {
		return errors.New("jobs: audit persist not configured")
	}
	tracker := j.Metrics.Track("audit_persist")
	var entry audit.Entry
	if err := json.Unmarshal(t.Payload(), &entry); err != nil {
		if j.Logger != nil {
			j.Logger.Warn("dropping undecodable audit task", slog.Any("error", err))
		}
		_ = tracker.End(err)
		return asynq.SkipRetry
	}
	return tracker.End(j.Repo.Insert(ctx, entry))
}

// Dispatcher enqueues audit entries for asynchronous persistence. It
// satisfies audit.Sink, keeping the caller's latency independent of storage.
type Dispatcher struct {
	client *Client
}

// NewDispatcher wraps an asynq client as an audit sink.
func NewDispatcher(client *Client) *Dispatcher {
	return &Dispatcher{client: client}
}

// Write satisfies audit.Sink.
func (d *Dispatcher) Write(ctx context.Context, entry audit.Entry) error {
	if d == nil || d.client == nil {
		return errors.New("jobs: dispatcher not configured")
	}
	_, err := d.client.EnqueueAuditEntry(ctx, entry)
	return err
}
