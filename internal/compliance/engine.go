package compliance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/clearledger/clearledger/internal/rbac"
	"github.com/clearledger/clearledger/internal/shared"
)

// ErrNotFound indicates that the requested record does not exist.
var ErrNotFound = errors.New("compliance: not found")

// DefaultRemediationDays is the default remediation window for recorded
// violations.
const DefaultRemediationDays = 30

// MetricsRecorder counts recorded violations. Implemented by observability.
type MetricsRecorder interface {
	ObserveViolation(standard, severity string)
}

// Engine validates payloads against regulatory standards and owns the
// violation, consent and retention registries. Validation never fails past
// the engine boundary: malformed input degrades to findings and warnings.
type Engine struct {
	mu         sync.RWMutex
	rules      *ruleRegistry
	violations []*Violation
	byID       map[string]*Violation
	subjects   map[string]*Subject
	policies   map[rbac.ResourceType]RetentionPolicy
	retFlagged map[string]struct{}
	seq        int
	repo       Repository
	pseudo     *Pseudonymizer
	metrics    MetricsRecorder
	logger     *slog.Logger
	now        func() time.Time
}

// NewEngine constructs the engine with the built-in standard rules and
// default retention policies. repo may be nil; violation persistence is
// best-effort either way.
func NewEngine(logger *slog.Logger, repo Repository) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		byID:       make(map[string]*Violation),
		subjects:   make(map[string]*Subject),
		policies:   make(map[rbac.ResourceType]RetentionPolicy),
		retFlagged: make(map[string]struct{}),
		repo:       repo,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.rules = newRuleRegistry(
		newGDPRRule(e.lookupSubject, e.lookupPolicy, e.now),
		newPCIRule(),
		newSOXRule(),
		newFINRARule(),
		newSECRule(),
	)
	e.bootstrapPolicies()
	return e
}

// SetPseudonymizer installs the hash used to mask subject identifiers during
// erasure requests. Without one, erasure only withdraws consent.
func (e *Engine) SetPseudonymizer(p *Pseudonymizer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pseudo = p
}

// SetMetrics installs the violation counter sink.
func (e *Engine) SetMetrics(m MetricsRecorder) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

func (e *Engine) bootstrapPolicies() {
	defaults := []RetentionPolicy{
		{ResourceType: rbac.ResourceValidationRequest, RetentionDays: 365, DeletionMethod: "soft_delete", Standards: []Standard{StandardGDPR}, AutoDelete: false},
		{ResourceType: rbac.ResourceFinancialData, RetentionDays: 2555, DeletionMethod: "archive", Standards: []Standard{StandardSOX, StandardSEC}, AutoDelete: false},
		{ResourceType: rbac.ResourceAuditLog, RetentionDays: 30, DeletionMethod: "hard_delete", Standards: []Standard{StandardGDPR, StandardSOX}, AutoDelete: true},
	}
	for _, p := range defaults {
		e.policies[p.ResourceType] = p
	}
}

func (e *Engine) lookupSubject(id string) *Subject {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.subjects[id]
}

func (e *Engine) lookupPolicy(rt rbac.ResourceType) (RetentionPolicy, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.policies[rt]
	return p, ok
}

// RegisterRule replaces the rule for a standard, e.g. to swap a heuristic
// scan for a schema-based check.
func (e *Engine) RegisterRule(rule Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules.register(rule)
}

// Validate runs the requested standards against the payload. Findings with
// remediation-level severity are also recorded as violations, best-effort.
func (e *Engine) Validate(ctx context.Context, data map[string]any, resourceType rbac.ResourceType, standards []Standard, sec *shared.SecurityContext) Result {
	payload := FromMap(data)
	result := Result{Compliant: true, Violations: []Finding{}, Warnings: []string{}}

	e.mu.RLock()
	selected := make(map[Standard]Rule, len(standards))
	for _, standard := range standards {
		if rule, ok := e.rules.get(standard); ok {
			selected[standard] = rule
		}
	}
	e.mu.RUnlock()

	for _, standard := range standards {
		rule, ok := selected[standard]
		if !ok {
			result.Warnings = append(result.Warnings, fmt.Sprintf("no rule registered for standard %s", standard))
			continue
		}
		findings, warnings := rule.Evaluate(payload, resourceType)
		result.Violations = append(result.Violations, findings...)
		result.Warnings = append(result.Warnings, warnings...)
		result.StandardsChecked = append(result.StandardsChecked, standard)
	}
	if len(result.Violations) > 0 {
		result.Compliant = false
	}

	var resourceID string
	if sec != nil {
		resourceID = sec.TenantID
	}
	for _, finding := range result.Violations {
		if !finding.Severity.RequiresRemediation() {
			continue
		}
		e.RecordViolation(ctx, finding.Standard, finding.Severity, finding.Description, resourceType, resourceID, nil, DefaultRemediationDays)
	}
	return result
}

// RecordViolation creates a violation record and returns its id. Records
// are kept in-process and persisted best-effort; they are never hard-deleted.
func (e *Engine) RecordViolation(ctx context.Context, standard Standard, severity Severity, description string, resourceType rbac.ResourceType, resourceID string, steps []string, deadlineDays int) string {
	if deadlineDays <= 0 {
		deadlineDays = DefaultRemediationDays
	}
	now := e.now()

	e.mu.Lock()
	e.seq++
	v := &Violation{
		ID:                  fmt.Sprintf("viol_%d_%d", now.Unix(), e.seq),
		Standard:            standard,
		Severity:            severity,
		Description:         description,
		ResourceType:        resourceType,
		ResourceID:          resourceID,
		DetectedAt:          now,
		RemediationRequired: severity.RequiresRemediation(),
		RemediationDeadline: now.AddDate(0, 0, deadlineDays),
		RemediationSteps:    steps,
		Status:              ViolationOpen,
	}
	e.violations = append(e.violations, v)
	e.byID[v.ID] = v
	metrics := e.metrics
	e.mu.Unlock()

	if metrics != nil {
		metrics.ObserveViolation(string(standard), string(severity))
	}
	if e.repo != nil {
		if err := e.repo.InsertViolation(ctx, *v); err != nil {
			e.logger.Warn("violation persistence failed", slog.String("violation", v.ID), slog.Any("error", err))
		}
	}
	return v.ID
}

// RestoreViolations hydrates the in-memory registry from previously
// persisted records, typically at worker startup. Known ids are skipped and
// nothing is written back to the repository.
func (e *Engine) RestoreViolations(violations []Violation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range violations {
		if _, ok := e.byID[violations[i].ID]; ok {
			continue
		}
		v := violations[i]
		e.violations = append(e.violations, &v)
		e.byID[v.ID] = &v
	}
}

// ResolveViolation transitions a violation to resolved. The record remains.
func (e *Engine) ResolveViolation(ctx context.Context, id string) error {
	e.mu.Lock()
	v, ok := e.byID[id]
	if !ok {
		e.mu.Unlock()
		return ErrNotFound
	}
	v.Status = ViolationResolved
	v.ResolvedAt = e.now()
	snapshot := *v
	e.mu.Unlock()

	if e.repo != nil {
		if err := e.repo.UpdateViolationStatus(ctx, snapshot.ID, snapshot.Status, snapshot.ResolvedAt); err != nil {
			e.logger.Warn("violation status persistence failed", slog.String("violation", id), slog.Any("error", err))
		}
	}
	return nil
}

// GetViolation fetches a violation by id.
func (e *Engine) GetViolation(id string) (*Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *v
	return &out, nil
}

// OverdueViolations returns unresolved violations past their remediation
// deadline.
func (e *Engine) OverdueViolations() []Violation {
	now := e.now()
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []Violation
	for _, v := range e.violations {
		if v.Status == ViolationOpen && v.RemediationRequired && now.After(v.RemediationDeadline) {
			out = append(out, *v)
		}
	}
	return out
}

// ManageConsent upserts a data subject's consent state. Re-consent after a
// withdrawal clears the withdrawal and resets the consent date; the two
// flags are reconciled on every write so they never stay simultaneously set.
func (e *Engine) ManageConsent(subjectID, email string, consentGiven bool, categories, purposes []string) *Subject {
	now := e.now()
	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.subjects[subjectID]
	if !ok {
		s = &Subject{ID: subjectID}
		e.subjects[subjectID] = s
	}
	if email != "" {
		s.Email = canonicalEmail(email)
	}
	if len(categories) > 0 {
		s.DataCategories = categories
	}
	if len(purposes) > 0 {
		s.ProcessingPurposes = purposes
	}
	if consentGiven {
		s.ConsentGiven = true
		s.ConsentDate = &now
		s.ConsentWithdrawn = false
		s.WithdrawalDate = nil
	} else {
		s.ConsentGiven = false
		s.ConsentWithdrawn = true
		s.WithdrawalDate = &now
	}
	out := *s
	return &out
}

// GetSubject fetches a data subject by id.
func (e *Engine) GetSubject(subjectID string) (*Subject, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s, ok := e.subjects[subjectID]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s
	return &out, nil
}

// ProcessDataRequest handles a GDPR subject-rights request. Unknown subjects
// yield a failed result for every request type; unsupported request types
// fail synchronously. Erasure withdraws consent and pseudonymizes the stored
// identifier rather than deleting the record.
func (e *Engine) ProcessDataRequest(subjectID string, requestType RequestType, sec *shared.SecurityContext) (RequestResult, error) {
	switch requestType {
	case RequestAccess, RequestRectification, RequestErasure, RequestPortability:
	default:
		return RequestResult{}, fmt.Errorf("%w: unknown request type %q", shared.ErrValidation, requestType)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s, ok := e.subjects[subjectID]
	if !ok {
		return RequestResult{
			Success:     false,
			RequestType: requestType,
			SubjectID:   subjectID,
			Error:       "data subject not found",
		}, nil
	}

	result := RequestResult{Success: true, RequestType: requestType, SubjectID: subjectID}
	switch requestType {
	case RequestAccess, RequestPortability:
		result.Data = map[string]any{
			"id":                  s.ID,
			"email":               s.Email,
			"consent_given":       s.ConsentGiven,
			"consent_withdrawn":   s.ConsentWithdrawn,
			"data_categories":     s.DataCategories,
			"processing_purposes": s.ProcessingPurposes,
		}
	case RequestRectification:
		result.Data = map[string]any{"status": "rectification request acknowledged"}
	case RequestErasure:
		now := e.now()
		s.ConsentGiven = false
		s.ConsentWithdrawn = true
		s.WithdrawalDate = &now
		status := "consent withdrawn"
		if e.pseudo != nil {
			s.Email = e.pseudo.Mask(s.Email)
			status = "consent withdrawn, identifier pseudonymized"
		}
		result.Data = map[string]any{"status": status}
	}
	return result, nil
}

// SetRetentionPolicy installs or replaces the retention policy for a
// resource type.
func (e *Engine) SetRetentionPolicy(p RetentionPolicy) error {
	if p.RetentionDays <= 0 {
		return fmt.Errorf("%w: retention period must be positive", shared.ErrValidation)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.ResourceType] = p
	return nil
}

// RetentionPolicies returns the installed policies.
func (e *Engine) RetentionPolicies() []RetentionPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]RetentionPolicy, 0, len(e.policies))
	for _, p := range e.policies {
		out = append(out, p)
	}
	return out
}

// EnforceRetention applies the auto-delete retention policy to the data the
// engine itself retains. Consent records are never hard-deleted, so a data
// subject held past the personal-data window is surfaced as a GDPR violation
// instead of being purged; each subject is flagged at most once. Audit-log
// retention is enforced separately by the storage sweep.
func (e *Engine) EnforceRetention(ctx context.Context) int {
	now := e.now()

	e.mu.RLock()
	policy, ok := e.policies[rbac.ResourceValidationRequest]
	var overdue []Subject
	if ok && policy.AutoDelete {
		cutoff := now.AddDate(0, 0, -policy.RetentionDays)
		for _, s := range e.subjects {
			if _, flagged := e.retFlagged[s.ID]; flagged {
				continue
			}
			last := s.ConsentDate
			if s.WithdrawalDate != nil {
				last = s.WithdrawalDate
			}
			if last != nil && last.Before(cutoff) {
				overdue = append(overdue, *s)
			}
		}
	}
	e.mu.RUnlock()

	for _, s := range overdue {
		e.RecordViolation(ctx, StandardGDPR, SeverityMedium,
			fmt.Sprintf("data subject %s retained past the %d-day auto-delete window", s.ID, policy.RetentionDays),
			rbac.ResourceValidationRequest, s.ID,
			[]string{"process an erasure request for the subject"},
			DefaultRemediationDays)
	}
	if len(overdue) > 0 {
		e.mu.Lock()
		for _, s := range overdue {
			e.retFlagged[s.ID] = struct{}{}
		}
		e.mu.Unlock()
	}
	return len(overdue)
}

// GenerateReport summarizes violations detected inside the window,
// optionally filtered to specific standards.
func (e *Engine) GenerateReport(standards []Standard, start, end time.Time) Report {
	include := make(map[Standard]struct{}, len(standards))
	for _, s := range standards {
		include[s] = struct{}{}
	}
	report := Report{Start: start, End: end, ByStandard: make(map[Standard]int)}

	e.mu.RLock()
	defer e.mu.RUnlock()
	for _, v := range e.violations {
		if !start.IsZero() && v.DetectedAt.Before(start) {
			continue
		}
		if !end.IsZero() && v.DetectedAt.After(end) {
			continue
		}
		if len(include) > 0 {
			if _, ok := include[v.Standard]; !ok {
				continue
			}
		}
		report.Total++
		report.ByStandard[v.Standard]++
		if v.Severity == SeverityCritical {
			report.Critical++
		}
		if v.Status == ViolationResolved {
			report.Resolved++
		}
	}
	divisor := report.Total
	if divisor < 1 {
		divisor = 1
	}
	report.ComplianceRate = 1 - float64(report.Total-report.Resolved)/float64(divisor)
	return report
}

// canonicalEmail normalizes an email address for stable matching.
func canonicalEmail(email string) string {
	return norm.NFKC.String(strings.ToLower(strings.TrimSpace(email)))
}
