package audit

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/clearledger/clearledger/internal/shared"
)

type stubSink struct {
	written []Entry
	err     error
	panics  bool
}

func (s *stubSink) Write(_ context.Context, entry Entry) error {
	if s.panics {
		panic("sink exploded")
	}
	s.written = append(s.written, entry)
	return s.err
}

type stubMetrics struct {
	observed [][2]string
	success  []bool
}

func (s *stubMetrics) ObserveAction(action, resourceType, _ string, success bool) {
	s.observed = append(s.observed, [2]string{action, resourceType})
	s.success = append(s.success, success)
}

func testSec() *shared.SecurityContext {
	return &shared.SecurityContext{
		UserID:    "u1",
		TenantID:  "tenant-1",
		SessionID: "s1",
		IPAddress: "10.0.0.1",
	}
}

func TestLogPopulatesEntry(t *testing.T) {
	sink := &stubSink{}
	metrics := &stubMetrics{}
	trail := NewTrail(slog.Default(), metrics, sink)

	entry := trail.Log(context.Background(), testSec(), "role.assign", "ROLE", "viewer", true, "", map[string]any{"granted_by": "admin"})
	if entry.ID == "" || entry.At.IsZero() {
		t.Fatalf("entry identity not set: %+v", entry)
	}
	if entry.UserID != "u1" || entry.TenantID != "tenant-1" || entry.SessionID != "s1" || entry.IPAddress != "10.0.0.1" {
		t.Fatalf("security context not captured: %+v", entry)
	}
	if trail.Len() != 1 {
		t.Fatalf("expected 1 retained entry, got %d", trail.Len())
	}
	if len(sink.written) != 1 || sink.written[0].ID != entry.ID {
		t.Fatalf("sink not invoked: %+v", sink.written)
	}
	if len(metrics.observed) != 1 || metrics.observed[0] != [2]string{"role.assign", "ROLE"} {
		t.Fatalf("metrics not observed: %v", metrics.observed)
	}
}

func TestLogSwallowsSinkFailures(t *testing.T) {
	failing := &stubSink{err: errors.New("broker down")}
	healthy := &stubSink{}
	trail := NewTrail(slog.Default(), nil, failing, healthy)

	entry := trail.Log(context.Background(), testSec(), "tenant.create", "TENANT", "t1", true, "", nil)
	if entry.ID == "" {
		t.Fatal("entry not returned on sink failure")
	}
	// The failing sink does not stop delivery to the others.
	if len(healthy.written) != 1 {
		t.Fatalf("healthy sink skipped: %d writes", len(healthy.written))
	}
	if trail.Len() != 1 {
		t.Fatal("entry not retained on sink failure")
	}
}

func TestLogSurvivesSinkPanic(t *testing.T) {
	trail := NewTrail(slog.Default(), nil, &stubSink{panics: true})

	entry := trail.Log(context.Background(), nil, "compliance.validate", "VALIDATION_REQUEST", "", false, "boom", nil)
	if entry.ID == "" || trail.Len() != 1 {
		t.Fatal("panicking sink affected the caller")
	}
}

func TestQueryFiltersAndOrder(t *testing.T) {
	trail := NewTrail(slog.Default(), nil)
	ctx := context.Background()

	trail.Log(ctx, testSec(), "role.assign", "ROLE", "viewer", true, "", nil)
	trail.Log(ctx, testSec(), "role.remove", "ROLE", "viewer", false, "denied", nil)
	other := &shared.SecurityContext{UserID: "u2", TenantID: "tenant-2"}
	trail.Log(ctx, other, "role.assign", "ROLE", "admin", true, "", nil)

	// Newest first, unfiltered.
	all := trail.Query(Filter{})
	if len(all) != 3 || all[0].UserID != "u2" {
		t.Fatalf("unexpected order: %+v", all)
	}

	// Set fields AND-combine.
	success := true
	got := trail.Query(Filter{UserID: "u1", Action: "role.assign", Success: &success})
	if len(got) != 1 || got[0].ResourceID != "viewer" {
		t.Fatalf("combined filter returned %+v", got)
	}
	if got := trail.Query(Filter{UserID: "u1", Action: "role.assign", TenantID: "tenant-2"}); len(got) != 0 {
		t.Fatalf("conflicting filter matched %+v", got)
	}

	if got := trail.Query(Filter{Limit: 2}); len(got) != 2 {
		t.Fatalf("limit ignored: %d entries", len(got))
	}
}

func TestFilterTimeWindow(t *testing.T) {
	now := time.Now().UTC()
	entry := Entry{At: now, UserID: "u1", Success: true}

	if !(Filter{From: now.Add(-time.Minute), To: now.Add(time.Minute)}).Matches(entry) {
		t.Fatal("entry inside window rejected")
	}
	if (Filter{From: now.Add(time.Minute)}).Matches(entry) {
		t.Fatal("entry before window accepted")
	}
	if (Filter{To: now.Add(-time.Minute)}).Matches(entry) {
		t.Fatal("entry after window accepted")
	}
}
