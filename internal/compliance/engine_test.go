package compliance

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/shared"
)

type stubViolationRepo struct {
	inserted    []Violation
	updated     []string
	insertErr   error
	updateError error
}

func (s *stubViolationRepo) InsertViolation(_ context.Context, v Violation) error {
	s.inserted = append(s.inserted, v)
	return s.insertErr
}

func (s *stubViolationRepo) UpdateViolationStatus(_ context.Context, id string, _ ViolationStatus, _ time.Time) error {
	s.updated = append(s.updated, id)
	return s.updateError
}

func testEngine(t *testing.T) (*Engine, *stubViolationRepo) {
	t.Helper()
	repo := &stubViolationRepo{}
	return NewEngine(slog.Default(), repo), repo
}

func secCtx() *shared.SecurityContext {
	return &shared.SecurityContext{UserID: "u1", TenantID: "tenant-1"}
}

func TestValidateGDPRFlagsUnconsentedPersonalData(t *testing.T) {
	e, repo := testEngine(t)

	result := e.Validate(context.Background(), map[string]any{
		"email":  "alice@example.com",
		"amount": 42,
	}, rbac.ResourceValidationRequest, []Standard{StandardGDPR}, secCtx())

	if result.Compliant {
		t.Fatal("expected non-compliant result")
	}
	if len(result.Violations) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(result.Violations))
	}
	f := result.Violations[0]
	if f.Standard != StandardGDPR || f.Severity != SeverityHigh {
		t.Fatalf("unexpected finding %+v", f)
	}
	if f.Field != "email" {
		t.Fatalf("unexpected field %q", f.Field)
	}

	// HIGH severity findings are auto-recorded and persisted best-effort.
	if len(repo.inserted) != 1 {
		t.Fatalf("expected 1 persisted violation, got %d", len(repo.inserted))
	}
	if !strings.HasPrefix(repo.inserted[0].ID, "viol_") {
		t.Fatalf("unexpected violation id %s", repo.inserted[0].ID)
	}
}

func TestValidateGDPRConsentFlagSuppressesFindings(t *testing.T) {
	e, _ := testEngine(t)

	result := e.Validate(context.Background(), map[string]any{
		"email":        "alice@example.com",
		"gdpr_consent": true,
	}, rbac.ResourceValidationRequest, []Standard{StandardGDPR}, secCtx())
	if !result.Compliant {
		t.Fatalf("expected compliant result, got %+v", result.Violations)
	}

	// Per-field consent objects work too.
	result = e.Validate(context.Background(), map[string]any{
		"email":   "alice@example.com",
		"phone":   "+44 20 7946 0000",
		"consent": map[string]any{"email": true},
	}, rbac.ResourceValidationRequest, []Standard{StandardGDPR}, secCtx())
	if len(result.Violations) != 1 {
		t.Fatalf("expected only the phone finding, got %d", len(result.Violations))
	}
	if result.Violations[0].Field != "phone" {
		t.Fatalf("unexpected field %q", result.Violations[0].Field)
	}
}

func TestValidateGDPRRecordedSubjectConsent(t *testing.T) {
	e, _ := testEngine(t)
	e.ManageConsent("u1", "Alice@Example.com", true, []string{"contact"}, []string{"kyc"})

	payload := map[string]any{"user_id": "u1", "email": "alice@example.com"}
	result := e.Validate(context.Background(), payload, rbac.ResourceValidationRequest, []Standard{StandardGDPR}, secCtx())
	if !result.Compliant {
		t.Fatalf("expected compliant with recorded consent, got %+v", result.Violations)
	}

	// Withdrawal flips the same payload back to non-compliant.
	e.ManageConsent("u1", "", false, nil, nil)
	result = e.Validate(context.Background(), payload, rbac.ResourceValidationRequest, []Standard{StandardGDPR}, secCtx())
	if result.Compliant {
		t.Fatal("expected non-compliant after withdrawal")
	}
}

func TestValidateGDPRRetentionExpiry(t *testing.T) {
	e, _ := testEngine(t)
	created := time.Now().UTC().AddDate(-2, 0, 0)

	result := e.Validate(context.Background(), map[string]any{
		"created_at": created.Format(time.RFC3339),
	}, rbac.ResourceValidationRequest, []Standard{StandardGDPR}, secCtx())
	if result.Compliant {
		t.Fatal("expected retention finding")
	}
	if result.Violations[0].Severity != SeverityMedium {
		t.Fatalf("expected MEDIUM retention finding, got %s", result.Violations[0].Severity)
	}
}

func TestValidatePCIDetectsCardData(t *testing.T) {
	e, repo := testEngine(t)

	result := e.Validate(context.Background(), map[string]any{
		"payment": map[string]any{"card_number": "4111111111111111", "cvv": "123"},
	}, rbac.ResourceFinancialData, []Standard{StandardPCIDSS}, secCtx())

	if result.Compliant {
		t.Fatal("expected PAN finding")
	}
	var sawPAN, sawCVV bool
	for _, f := range result.Violations {
		if f.Severity == SeverityCritical && strings.Contains(f.Description, "Visa") {
			sawPAN = true
		}
		if f.Severity == SeverityHigh && strings.Contains(f.Description, "verification value") {
			sawCVV = true
		}
	}
	if !sawPAN || !sawCVV {
		t.Fatalf("expected PAN and CVV findings, got %+v", result.Violations)
	}
	if len(repo.inserted) != len(result.Violations) {
		t.Fatalf("expected all findings recorded, got %d of %d", len(repo.inserted), len(result.Violations))
	}
}

func TestValidateSOXRequiresAuditFields(t *testing.T) {
	e, _ := testEngine(t)

	result := e.Validate(context.Background(), map[string]any{
		"amount": 100.0,
	}, rbac.ResourceFinancialData, []Standard{StandardSOX}, secCtx())
	if len(result.Violations) != 3 {
		t.Fatalf("expected 3 missing-field findings, got %d", len(result.Violations))
	}

	result = e.Validate(context.Background(), map[string]any{
		"timestamp":       time.Now().Format(time.RFC3339),
		"user_id":         "u1",
		"approval_status": "escalated",
	}, rbac.ResourceFinancialData, []Standard{StandardSOX}, secCtx())
	if len(result.Violations) != 1 || result.Violations[0].Field != "approval_status" {
		t.Fatalf("expected invalid approval_status finding, got %+v", result.Violations)
	}

	// SOX only applies to financial data.
	result = e.Validate(context.Background(), map[string]any{
		"amount": 100.0,
	}, rbac.ResourceValidationRequest, []Standard{StandardSOX}, secCtx())
	if !result.Compliant {
		t.Fatalf("expected SOX skip for non-financial resource, got %+v", result.Violations)
	}
}

func TestValidateMarketRulesWarnOnly(t *testing.T) {
	e, _ := testEngine(t)

	result := e.Validate(context.Background(), map[string]any{
		"trade_id": "T-1",
		"symbol":   "ACME",
		"material": true,
	}, rbac.ResourceFinancialData, []Standard{StandardFINRA, StandardSEC}, secCtx())

	if !result.Compliant {
		t.Fatalf("market rules should not produce violations, got %+v", result.Violations)
	}
	if len(result.Warnings) != len(finraRecommended)+len(secRecommended) {
		t.Fatalf("expected %d warnings, got %d: %v",
			len(finraRecommended)+len(secRecommended), len(result.Warnings), result.Warnings)
	}
}

func TestValidateUnknownStandardWarns(t *testing.T) {
	e, _ := testEngine(t)
	result := e.Validate(context.Background(), map[string]any{}, rbac.ResourceValidationRequest, []Standard{"HIPAA"}, secCtx())
	if !result.Compliant || len(result.Warnings) != 1 {
		t.Fatalf("expected single warning for unregistered standard, got %+v", result)
	}
}

func TestRecordAndResolveViolation(t *testing.T) {
	e, repo := testEngine(t)
	ctx := context.Background()

	id := e.RecordViolation(ctx, StandardPCIDSS, SeverityCritical, "PAN in logs", rbac.ResourceAuditLog, "tenant-1", []string{"rotate keys"}, 0)
	v, err := e.GetViolation(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !v.RemediationRequired || v.Status != ViolationOpen {
		t.Fatalf("unexpected violation %+v", v)
	}
	wantDeadline := v.DetectedAt.AddDate(0, 0, DefaultRemediationDays)
	if !v.RemediationDeadline.Equal(wantDeadline) {
		t.Fatalf("expected default deadline %v, got %v", wantDeadline, v.RemediationDeadline)
	}

	if err := e.ResolveViolation(ctx, id); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	v, _ = e.GetViolation(id)
	if v.Status != ViolationResolved || v.ResolvedAt.IsZero() {
		t.Fatalf("expected resolved violation, got %+v", v)
	}
	if len(repo.updated) != 1 || repo.updated[0] != id {
		t.Fatalf("status change not persisted: %v", repo.updated)
	}

	if err := e.ResolveViolation(ctx, "viol_0_0"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRecordViolationSurvivesRepoFailure(t *testing.T) {
	repo := &stubViolationRepo{insertErr: errors.New("db down")}
	e := NewEngine(slog.Default(), repo)

	id := e.RecordViolation(context.Background(), StandardGDPR, SeverityHigh, "x", rbac.ResourceUser, "", nil, 7)
	if _, err := e.GetViolation(id); err != nil {
		t.Fatalf("violation lost on repo failure: %v", err)
	}
}

func TestOverdueViolations(t *testing.T) {
	e, _ := testEngine(t)
	base := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	overdueID := e.RecordViolation(context.Background(), StandardSOX, SeverityHigh, "stale", rbac.ResourceFinancialData, "", nil, 5)
	e.RecordViolation(context.Background(), StandardSOX, SeverityLow, "minor", rbac.ResourceFinancialData, "", nil, 5)

	e.now = func() time.Time { return base.AddDate(0, 0, 6) }
	overdue := e.OverdueViolations()
	if len(overdue) != 1 || overdue[0].ID != overdueID {
		t.Fatalf("expected only the remediation-required violation, got %+v", overdue)
	}

	if err := e.ResolveViolation(context.Background(), overdueID); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := e.OverdueViolations(); len(got) != 0 {
		t.Fatalf("resolved violation still overdue: %+v", got)
	}
}

func TestRestoreViolationsSkipsKnownIDs(t *testing.T) {
	e, _ := testEngine(t)
	id := e.RecordViolation(context.Background(), StandardGDPR, SeverityHigh, "x", rbac.ResourceUser, "", nil, 7)

	e.RestoreViolations([]Violation{
		{ID: id, Standard: StandardGDPR, Severity: SeverityHigh, Status: ViolationOpen},
		{ID: "viol_restored_1", Standard: StandardSOX, Severity: SeverityHigh, Status: ViolationOpen},
	})
	if _, err := e.GetViolation("viol_restored_1"); err != nil {
		t.Fatalf("restored violation missing: %v", err)
	}
	report := e.GenerateReport(nil, time.Time{}, time.Time{})
	if report.Total != 2 {
		t.Fatalf("expected 2 violations after restore, got %d", report.Total)
	}
}

func TestConsentLifecycle(t *testing.T) {
	e, _ := testEngine(t)

	s := e.ManageConsent("u1", "  Alice@Example.COM ", true, []string{"contact"}, []string{"marketing"})
	if !s.HasActiveConsent() {
		t.Fatal("expected active consent")
	}
	if s.Email != "alice@example.com" {
		t.Fatalf("email not canonicalized: %q", s.Email)
	}

	s = e.ManageConsent("u1", "", false, nil, nil)
	if s.HasActiveConsent() || !s.ConsentWithdrawn || s.WithdrawalDate == nil {
		t.Fatalf("withdrawal not recorded: %+v", s)
	}

	// Re-consent clears the withdrawal entirely.
	s = e.ManageConsent("u1", "", true, nil, nil)
	if !s.HasActiveConsent() || s.ConsentWithdrawn || s.WithdrawalDate != nil {
		t.Fatalf("re-consent did not reset withdrawal: %+v", s)
	}
	if s.ConsentDate == nil {
		t.Fatal("consent date missing after re-consent")
	}
}

func TestProcessDataRequest(t *testing.T) {
	e, _ := testEngine(t)
	e.ManageConsent("u1", "alice@example.com", true, []string{"contact"}, nil)

	res, err := e.ProcessDataRequest("u1", RequestAccess, secCtx())
	if err != nil || !res.Success {
		t.Fatalf("access request failed: %v %+v", err, res)
	}
	if res.Data["email"] != "alice@example.com" {
		t.Fatalf("unexpected access data %+v", res.Data)
	}

	// Unknown subjects fail softly, without an error.
	res, err = e.ProcessDataRequest("ghost", RequestErasure, secCtx())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Error != "data subject not found" {
		t.Fatalf("unexpected result %+v", res)
	}

	// Unsupported request types fail synchronously.
	if _, err := e.ProcessDataRequest("u1", "purge", secCtx()); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestErasurePseudonymizesIdentifier(t *testing.T) {
	e, _ := testEngine(t)
	p, err := NewPseudonymizer("sha256")
	if err != nil {
		t.Fatalf("pseudonymizer: %v", err)
	}
	e.SetPseudonymizer(p)
	e.ManageConsent("u1", "alice@example.com", true, nil, nil)

	res, err := e.ProcessDataRequest("u1", RequestErasure, secCtx())
	if err != nil || !res.Success {
		t.Fatalf("erasure failed: %v %+v", err, res)
	}
	s, _ := e.GetSubject("u1")
	if s.HasActiveConsent() {
		t.Fatal("consent survived erasure")
	}
	if s.Email == "alice@example.com" || s.Email != p.Mask("alice@example.com") {
		t.Fatalf("identifier not pseudonymized: %q", s.Email)
	}
}

func TestSetRetentionPolicy(t *testing.T) {
	e, _ := testEngine(t)

	if err := e.SetRetentionPolicy(RetentionPolicy{ResourceType: rbac.ResourceUser, RetentionDays: 0}); !errors.Is(err, shared.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if err := e.SetRetentionPolicy(RetentionPolicy{ResourceType: rbac.ResourceUser, RetentionDays: 90, Standards: []Standard{StandardGDPR}}); err != nil {
		t.Fatalf("set policy: %v", err)
	}
	var found bool
	for _, p := range e.RetentionPolicies() {
		if p.ResourceType == rbac.ResourceUser && p.RetentionDays == 90 {
			found = true
		}
	}
	if !found {
		t.Fatal("installed policy missing")
	}
}

func TestGenerateReport(t *testing.T) {
	e, _ := testEngine(t)
	ctx := context.Background()

	first := e.RecordViolation(ctx, StandardGDPR, SeverityHigh, "a", rbac.ResourceUser, "", nil, 7)
	e.RecordViolation(ctx, StandardPCIDSS, SeverityCritical, "b", rbac.ResourceFinancialData, "", nil, 7)
	e.RecordViolation(ctx, StandardGDPR, SeverityMedium, "c", rbac.ResourceUser, "", nil, 7)
	if err := e.ResolveViolation(ctx, first); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	report := e.GenerateReport(nil, time.Time{}, time.Time{})
	if report.Total != 3 || report.Critical != 1 || report.Resolved != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	want := 1 - float64(2)/float64(3)
	if report.ComplianceRate != want {
		t.Fatalf("expected rate %v, got %v", want, report.ComplianceRate)
	}
	if report.ByStandard[StandardGDPR] != 2 {
		t.Fatalf("unexpected per-standard counts %+v", report.ByStandard)
	}

	// Standard filter narrows the report.
	filtered := e.GenerateReport([]Standard{StandardPCIDSS}, time.Time{}, time.Time{})
	if filtered.Total != 1 || filtered.Critical != 1 {
		t.Fatalf("unexpected filtered report %+v", filtered)
	}

	// An empty window yields a perfect rate.
	empty := e.GenerateReport(nil, time.Now().AddDate(1, 0, 0), time.Time{})
	if empty.Total != 0 || empty.ComplianceRate != 1 {
		t.Fatalf("unexpected empty report %+v", empty)
	}
}

type stubMetricsRecorder struct {
	observed [][2]string
}

func (s *stubMetricsRecorder) ObserveViolation(standard, severity string) {
	s.observed = append(s.observed, [2]string{standard, severity})
}

func TestRecordViolationCountsMetric(t *testing.T) {
	e, _ := testEngine(t)
	metrics := &stubMetricsRecorder{}
	e.SetMetrics(metrics)

	e.RecordViolation(context.Background(), StandardPCIDSS, SeverityCritical, "PAN exposed", rbac.ResourceFinancialData, "tenant-1", nil, 0)
	if len(metrics.observed) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(metrics.observed))
	}
	if metrics.observed[0] != [2]string{"PCI_DSS", "CRITICAL"} {
		t.Fatalf("unexpected observation %v", metrics.observed[0])
	}

	// Findings auto-recorded by Validate count too.
	e.Validate(context.Background(), map[string]any{"email": "alice@example.com"},
		rbac.ResourceValidationRequest, []Standard{StandardGDPR}, secCtx())
	if len(metrics.observed) != 2 {
		t.Fatalf("expected 2 observations, got %d", len(metrics.observed))
	}
}

func TestEnforceRetentionFlagsOverdueSubjects(t *testing.T) {
	e, repo := testEngine(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }

	err := e.SetRetentionPolicy(RetentionPolicy{
		ResourceType:   rbac.ResourceValidationRequest,
		RetentionDays:  30,
		DeletionMethod: "soft_delete",
		Standards:      []Standard{StandardGDPR},
		AutoDelete:     true,
	})
	if err != nil {
		t.Fatalf("set policy: %v", err)
	}
	e.ManageConsent("subj-1", "alice@example.com", true, nil, nil)
	e.ManageConsent("subj-2", "bob@example.com", true, nil, nil)

	// Inside the window nothing is overdue.
	e.now = func() time.Time { return base.AddDate(0, 0, 10) }
	if got := e.EnforceRetention(context.Background()); got != 0 {
		t.Fatalf("expected no overdue subjects, got %d", got)
	}

	e.now = func() time.Time { return base.AddDate(0, 0, 45) }
	if got := e.EnforceRetention(context.Background()); got != 2 {
		t.Fatalf("expected 2 overdue subjects, got %d", got)
	}
	if len(repo.inserted) != 2 {
		t.Fatalf("expected 2 persisted violations, got %d", len(repo.inserted))
	}
	v := repo.inserted[0]
	if v.Standard != StandardGDPR || v.Severity != SeverityMedium || v.ResourceType != rbac.ResourceValidationRequest {
		t.Fatalf("unexpected violation %+v", v)
	}

	// Subjects are flagged once; a second sweep records nothing new.
	if got := e.EnforceRetention(context.Background()); got != 0 {
		t.Fatalf("expected repeat sweep to flag nothing, got %d", got)
	}
	if len(repo.inserted) != 2 {
		t.Fatalf("expected no extra violations, got %d", len(repo.inserted))
	}
}

func TestEnforceRetentionHonorsAutoDeleteFlag(t *testing.T) {
	e, repo := testEngine(t)
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return base }
	e.ManageConsent("subj-1", "alice@example.com", true, nil, nil)

	// Default validation-request policy keeps auto-delete off.
	e.now = func() time.Time { return base.AddDate(0, 0, 400) }
	if got := e.EnforceRetention(context.Background()); got != 0 {
		t.Fatalf("expected no enforcement without auto-delete, got %d", got)
	}
	if len(repo.inserted) != 0 {
		t.Fatalf("expected no violations, got %d", len(repo.inserted))
	}
}
