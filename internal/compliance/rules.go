package compliance

import "github.com/clearledger/clearledger/internal/rbac"

// Rule evaluates one compliance standard against a payload. Rules are pure
// scans over the value tree: they report findings and warnings but never
// fail, so malformed input degrades to extra findings instead of errors.
type Rule interface {
	Standard() Standard
	Evaluate(payload Value, resourceType rbac.ResourceType) ([]Finding, []string)
}

// ruleRegistry maps standards to their rule implementations. The engine's
// control flow never changes when a heuristic rule is swapped for a
// schema-based one.
type ruleRegistry struct {
	rules map[Standard]Rule
}

func newRuleRegistry(rules ...Rule) *ruleRegistry {
	reg := &ruleRegistry{rules: make(map[Standard]Rule, len(rules))}
	for _, r := range rules {
		reg.rules[r.Standard()] = r
	}
	return reg
}

func (r *ruleRegistry) get(s Standard) (Rule, bool) {
	rule, ok := r.rules[s]
	return rule, ok
}

// Register replaces or adds the rule for its standard.
func (r *ruleRegistry) register(rule Rule) {
	r.rules[rule.Standard()] = rule
}
