package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clearledger/clearledger/internal/shared"
)

// Sink receives audit entries for durable storage, caching or metering.
// Sinks are best-effort: callers never observe their failures.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// MetricsRecorder counts audit outcomes. Implemented by observability.
type MetricsRecorder interface {
	ObserveAction(action, resourceType, tenantID string, success bool)
}

// Trail is the append-only audit log. Log never fails from the caller's
// perspective; sink errors are logged and swallowed so the primary
// operation's outcome is never coupled to audit durability.
type Trail struct {
	mu      sync.RWMutex
	entries []Entry
	sinks   []Sink
	metrics MetricsRecorder
	logger  *slog.Logger
}

// NewTrail constructs a Trail writing to the given best-effort sinks.
func NewTrail(logger *slog.Logger, metrics MetricsRecorder, sinks ...Sink) *Trail {
	if logger == nil {
		logger = slog.Default()
	}
	return &Trail{sinks: sinks, metrics: metrics, logger: logger}
}

// Log appends an audit entry describing an operation outcome. It is
// fire-and-forget: persistence or metric failures never propagate.
func (t *Trail) Log(ctx context.Context, sec *shared.SecurityContext, action, resourceType, resourceID string, success bool, errMsg string, metadata map[string]any) Entry {
	entry := Entry{
		ID:           uuid.NewString(),
		At:           time.Now().UTC(),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Success:      success,
		Error:        errMsg,
		Metadata:     metadata,
	}
	if sec != nil {
		entry.UserID = sec.UserID
		entry.TenantID = sec.TenantID
		entry.SessionID = sec.SessionID
		entry.IPAddress = sec.IPAddress
	}

	t.mu.Lock()
	t.entries = append(t.entries, entry)
	t.mu.Unlock()

	t.dispatch(ctx, entry)
	return entry
}

// dispatch forwards the entry to every sink, catching and logging failures.
func (t *Trail) dispatch(ctx context.Context, entry Entry) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("audit sink panic", slog.Any("panic", r), slog.String("entry", entry.ID))
		}
	}()
	if t.metrics != nil {
		t.metrics.ObserveAction(entry.Action, entry.ResourceType, entry.TenantID, entry.Success)
	}
	for _, sink := range t.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			t.logger.Warn("audit sink write failed",
				slog.String("entry", entry.ID),
				slog.String("action", entry.Action),
				slog.Any("error", err))
		}
	}
}

// Query returns entries matching the filter, newest first.
func (t *Trail) Query(filter Filter) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Entry
	for i := len(t.entries) - 1; i >= 0; i-- {
		if filter.Matches(t.entries[i]) {
			out = append(out, t.entries[i])
			if filter.Limit > 0 && len(out) >= filter.Limit {
				break
			}
		}
	}
	return out
}

// Len reports the number of retained entries.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
