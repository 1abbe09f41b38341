package compliance

import (
	"fmt"

	"github.com/clearledger/clearledger/internal/rbac"
)

// finraRule emits warnings (never hard violations) for trade-like payloads
// missing recommended supervision fields.
type finraRule struct{}

func newFINRARule() *finraRule { return &finraRule{} }

func (r *finraRule) Standard() Standard { return StandardFINRA }

var finraTradeMarkers = []string{"trade_id", "symbol", "order_id", "execution"}

var finraRecommended = []string{"execution_time", "account_id", "order_type"}

func (r *finraRule) Evaluate(payload Value, _ rbac.ResourceType) ([]Finding, []string) {
	if !hasAnyField(payload, finraTradeMarkers) {
		return nil, nil
	}
	var warnings []string
	for _, field := range finraRecommended {
		if _, ok := payload.Field(field); !ok {
			warnings = append(warnings, fmt.Sprintf("FINRA: trade record should include %q for supervision review", field))
		}
	}
	return nil, warnings
}

// secRule emits warnings for material-information payloads missing
// disclosure metadata.
type secRule struct{}

func newSECRule() *secRule { return &secRule{} }

func (r *secRule) Standard() Standard { return StandardSEC }

var secMaterialMarkers = []string{"material_information", "material", "disclosure"}

var secRecommended = []string{"disclosure_date", "filing_reference"}

func (r *secRule) Evaluate(payload Value, _ rbac.ResourceType) ([]Finding, []string) {
	if !hasAnyField(payload, secMaterialMarkers) {
		return nil, nil
	}
	var warnings []string
	for _, field := range secRecommended {
		if _, ok := payload.Field(field); !ok {
			warnings = append(warnings, fmt.Sprintf("SEC: material information should include %q", field))
		}
	}
	return nil, warnings
}

func hasAnyField(payload Value, fields []string) bool {
	for _, field := range fields {
		if _, ok := payload.Field(field); ok {
			return true
		}
	}
	return false
}
