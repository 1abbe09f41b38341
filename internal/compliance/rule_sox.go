package compliance

import (
	"fmt"
	"strings"

	"github.com/clearledger/clearledger/internal/rbac"
)

var soxRequiredFields = []string{"timestamp", "user_id", "approval_status"}

var soxApprovalStates = map[string]struct{}{
	"approved": {},
	"pending":  {},
	"rejected": {},
}

// soxRule enforces audit-trail completeness on financial data: the payload
// must carry who, when and an approval state.
type soxRule struct{}

func newSOXRule() *soxRule { return &soxRule{} }

func (r *soxRule) Standard() Standard { return StandardSOX }

func (r *soxRule) Evaluate(payload Value, resourceType rbac.ResourceType) ([]Finding, []string) {
	if resourceType != rbac.ResourceFinancialData {
		return nil, nil
	}
	var findings []Finding
	for _, field := range soxRequiredFields {
		if _, ok := payload.Field(field); !ok {
			findings = append(findings, Finding{
				Standard:    StandardSOX,
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("financial record missing required field %q", field),
				Field:       field,
			})
		}
	}
	if status, ok := payload.Field("approval_status"); ok {
		normalized := strings.ToLower(strings.TrimSpace(status.AsString()))
		if _, valid := soxApprovalStates[normalized]; !valid {
			findings = append(findings, Finding{
				Standard:    StandardSOX,
				Severity:    SeverityHigh,
				Description: fmt.Sprintf("invalid approval_status %q, expected approved, pending or rejected", status.AsString()),
				Field:       "approval_status",
			})
		}
	}
	return findings, nil
}
