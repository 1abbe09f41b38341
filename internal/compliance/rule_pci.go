package compliance

import (
	"fmt"
	"regexp"

	"github.com/clearledger/clearledger/internal/rbac"
)

// PAN patterns per card network. Scans run over the serialized payload, so
// matches anywhere in any field count. Intentionally over-broad: false
// positives are expected and acceptable.
var panPatterns = []struct {
	network string
	re      *regexp.Regexp
}{
	{"Visa", regexp.MustCompile(`4[0-9]{12}(?:[0-9]{3})?`)},
	{"MasterCard", regexp.MustCompile(`5[1-5][0-9]{14}`)},
	{"American Express", regexp.MustCompile(`3[47][0-9]{13}`)},
	{"Discover", regexp.MustCompile(`6(?:011|5[0-9]{2})[0-9]{12}`)},
}

var (
	cvvWordRe  = regexp.MustCompile(`(?i)\bcvv\b`)
	cvvDigitRe = regexp.MustCompile(`\b[0-9]{3,4}\b`)
)

// pciRule scans for card data exposed in payloads.
type pciRule struct{}

func newPCIRule() *pciRule { return &pciRule{} }

func (r *pciRule) Standard() Standard { return StandardPCIDSS }

func (r *pciRule) Evaluate(payload Value, _ rbac.ResourceType) ([]Finding, []string) {
	serialized := Serialize(payload)
	var findings []Finding

	for _, pattern := range panPatterns {
		if pattern.re.MatchString(serialized) {
			findings = append(findings, Finding{
				Standard:    StandardPCIDSS,
				Severity:    SeverityCritical,
				Description: fmt.Sprintf("unprotected %s primary account number detected in payload", pattern.network),
			})
		}
	}

	// Coarse CVV heuristic: the bareword "cvv" co-occurring with any 3-4
	// digit token anywhere in the payload.
	if cvvWordRe.MatchString(serialized) && cvvDigitRe.MatchString(serialized) {
		findings = append(findings, Finding{
			Standard:    StandardPCIDSS,
			Severity:    SeverityHigh,
			Description: "possible card verification value stored in payload",
		})
	}
	return findings, nil
}
