package compliance

import (
	"fmt"
	"time"

	"github.com/clearledger/clearledger/internal/rbac"
)

// Standard identifies a regulatory compliance standard.
type Standard string

const (
	StandardGDPR   Standard = "GDPR"
	StandardPCIDSS Standard = "PCI_DSS"
	StandardSOX    Standard = "SOX"
	StandardFINRA  Standard = "FINRA"
	StandardSEC    Standard = "SEC"
)

// ParseStandard validates a standard name.
func ParseStandard(raw string) (Standard, error) {
	switch Standard(raw) {
	case StandardGDPR, StandardPCIDSS, StandardSOX, StandardFINRA, StandardSEC:
		return Standard(raw), nil
	}
	return "", fmt.Errorf("compliance: unsupported standard %q", raw)
}

// Severity ranks a violation.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// RequiresRemediation reports whether this severity demands a remediation
// plan.
func (s Severity) RequiresRemediation() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Finding is one transient rule hit inside a validation result.
type Finding struct {
	Standard    Standard `json:"standard"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Field       string   `json:"field,omitempty"`
}

// Result is the outcome of one validation pass.
type Result struct {
	Compliant        bool       `json:"compliant"`
	Violations       []Finding  `json:"violations"`
	Warnings         []string   `json:"warnings"`
	StandardsChecked []Standard `json:"standards_checked"`
}

// ViolationStatus tracks the remediation lifecycle. Violations are never
// hard-deleted.
type ViolationStatus string

const (
	ViolationOpen     ViolationStatus = "open"
	ViolationResolved ViolationStatus = "resolved"
)

// Violation is a persisted compliance violation record.
type Violation struct {
	ID                  string            `json:"id"`
	Standard            Standard          `json:"standard"`
	Severity            Severity          `json:"severity"`
	Description         string            `json:"description"`
	ResourceType        rbac.ResourceType `json:"resource_type"`
	ResourceID          string            `json:"resource_id,omitempty"`
	DetectedAt          time.Time         `json:"detected_at"`
	RemediationRequired bool              `json:"remediation_required"`
	RemediationDeadline time.Time         `json:"remediation_deadline"`
	RemediationSteps    []string          `json:"remediation_steps,omitempty"`
	Status              ViolationStatus   `json:"status"`
	ResolvedAt          time.Time         `json:"resolved_at,omitempty"`
}

// RetentionPolicy bounds how long a resource type's data may be kept.
type RetentionPolicy struct {
	ResourceType   rbac.ResourceType `json:"resource_type"`
	RetentionDays  int               `json:"retention_period_days"`
	DeletionMethod string            `json:"deletion_method"`
	Standards      []Standard        `json:"standards"`
	AutoDelete     bool              `json:"auto_delete"`
}

// CoversStandard reports whether the policy applies under the standard.
func (p RetentionPolicy) CoversStandard(s Standard) bool {
	for _, standard := range p.Standards {
		if standard == s {
			return true
		}
	}
	return false
}

// Subject is a GDPR data subject: the holder of consent and erasure rights.
// Subjects are only ever mutated; erasure withdraws consent rather than
// deleting the record.
type Subject struct {
	ID                 string     `json:"id"`
	Email              string     `json:"email,omitempty"`
	ConsentGiven       bool       `json:"consent_given"`
	ConsentDate        *time.Time `json:"consent_date,omitempty"`
	ConsentWithdrawn   bool       `json:"consent_withdrawn"`
	WithdrawalDate     *time.Time `json:"withdrawal_date,omitempty"`
	DataCategories     []string   `json:"data_categories,omitempty"`
	ProcessingPurposes []string   `json:"processing_purposes,omitempty"`
}

// HasActiveConsent reports whether processing is currently consented.
func (s *Subject) HasActiveConsent() bool {
	return s != nil && s.ConsentGiven && !s.ConsentWithdrawn
}

// RequestType enumerates GDPR subject-rights requests.
type RequestType string

const (
	RequestAccess        RequestType = "access"
	RequestRectification RequestType = "rectification"
	RequestErasure       RequestType = "erasure"
	RequestPortability   RequestType = "portability"
)

// RequestResult is the outcome of a subject-rights request.
type RequestResult struct {
	Success     bool           `json:"success"`
	RequestType RequestType    `json:"request_type"`
	SubjectID   string         `json:"subject_id"`
	Error       string         `json:"error,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

// Report summarizes violations over a window.
type Report struct {
	Start          time.Time        `json:"start"`
	End            time.Time        `json:"end"`
	Total          int              `json:"total"`
	Critical       int              `json:"critical"`
	Resolved       int              `json:"resolved"`
	ComplianceRate float64          `json:"compliance_rate"`
	ByStandard     map[Standard]int `json:"by_standard"`
}
