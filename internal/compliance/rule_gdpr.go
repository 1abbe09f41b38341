package compliance

import (
	"fmt"
	"strings"
	"time"

	"github.com/clearledger/clearledger/internal/rbac"
)

// personalDataMarkers are field-name substrings that indicate personal data.
// Matching is deliberately over-broad; false positives are acceptable.
var personalDataMarkers = []string{
	"email", "phone", "address", "name", "ssn", "dob", "passport", "license", "ip_address",
}

// consentKeys are the payload keys that may carry co-located consent proof.
var consentKeys = []string{"consent", "gdpr_consent", "data_consent", "privacy_consent"}

// SubjectLookup resolves a previously recorded data subject by id.
type SubjectLookup func(subjectID string) *Subject

// PolicyLookup resolves the retention policy for a resource type.
type PolicyLookup func(rt rbac.ResourceType) (RetentionPolicy, bool)

// gdprRule flags personal-data fields lacking consent and data held past its
// retention period.
type gdprRule struct {
	subjects SubjectLookup
	policies PolicyLookup
	now      func() time.Time
}

func newGDPRRule(subjects SubjectLookup, policies PolicyLookup, now func() time.Time) *gdprRule {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &gdprRule{subjects: subjects, policies: policies, now: now}
}

func (r *gdprRule) Standard() Standard { return StandardGDPR }

func (r *gdprRule) Evaluate(payload Value, resourceType rbac.ResourceType) ([]Finding, []string) {
	var findings []Finding
	var warnings []string

	subjectConsent := r.recordedConsent(payload)

	Walk(payload, func(path string, node Value) {
		if path == "" || underConsentKey(path) {
			return
		}
		key := leafKey(path)
		marker := matchMarker(key)
		if marker == "" {
			return
		}
		if node.Kind == KindObject || node.Kind == KindArray {
			return
		}
		if subjectConsent || fieldConsented(payload, key) {
			return
		}
		findings = append(findings, Finding{
			Standard:    StandardGDPR,
			Severity:    SeverityHigh,
			Description: fmt.Sprintf("personal data field %q (%s) processed without recorded consent", key, marker),
			Field:       path,
		})
	})

	findings = append(findings, r.retentionFindings(payload, resourceType)...)
	return findings, warnings
}

// recordedConsent checks for a previously stored data subject keyed by the
// payload's user_id.
func (r *gdprRule) recordedConsent(payload Value) bool {
	if r.subjects == nil {
		return false
	}
	userID, ok := payload.Field("user_id")
	if !ok || userID.AsString() == "" {
		return false
	}
	return r.subjects(userID.AsString()).HasActiveConsent()
}

// retentionFindings flags data held beyond its GDPR retention period when
// the payload carries a parseable created_at.
func (r *gdprRule) retentionFindings(payload Value, resourceType rbac.ResourceType) []Finding {
	if r.policies == nil {
		return nil
	}
	policy, ok := r.policies(resourceType)
	if !ok || !policy.CoversStandard(StandardGDPR) {
		return nil
	}
	createdAt, ok := payload.Field("created_at")
	if !ok {
		return nil
	}
	created, ok := parseTimestamp(createdAt.AsString())
	if !ok {
		return nil
	}
	expiry := created.AddDate(0, 0, policy.RetentionDays)
	if r.now().After(expiry) {
		return []Finding{{
			Standard: StandardGDPR,
			Severity: SeverityMedium,
			Description: fmt.Sprintf("data exceeds %d-day retention period for %s (created %s)",
				policy.RetentionDays, resourceType, created.Format(time.RFC3339)),
			Field: "created_at",
		}}
	}
	return nil
}

// fieldConsented checks co-located consent proof in the payload root under
// any of the known consent keys: a truthy scalar consents to everything, an
// object consents per field with an optional all_fields override.
func fieldConsented(payload Value, fieldKey string) bool {
	for _, key := range consentKeys {
		consent, ok := payload.Field(key)
		if !ok {
			continue
		}
		switch consent.Kind {
		case KindBool, KindString, KindNumber:
			if consent.Truthy() {
				return true
			}
		case KindObject:
			if all, ok := consent.Field("all_fields"); ok && all.Truthy() {
				return true
			}
			if per, ok := consent.Field(fieldKey); ok && per.Truthy() {
				return true
			}
		}
	}
	return false
}

func matchMarker(key string) string {
	lower := strings.ToLower(key)
	for _, marker := range personalDataMarkers {
		if strings.Contains(lower, marker) {
			return marker
		}
	}
	return ""
}

func underConsentKey(path string) bool {
	first := path
	if idx := strings.IndexByte(path, '.'); idx >= 0 {
		first = path[:idx]
	}
	for _, key := range consentKeys {
		if first == key {
			return true
		}
	}
	return false
}

func leafKey(path string) string {
	if idx := strings.LastIndexByte(path, '.'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
