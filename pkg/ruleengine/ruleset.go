// Package ruleengine evaluates user access snapshots against SoD and
// sensitive-access rules, producing risk violations. The rule set is
// shared-immutable: mutations build a new snapshot off-line and publish
// it atomically, so evaluations running concurrently never observe a
// half-updated index.
package ruleengine

import (
	"strings"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// ruleSet is one immutable published generation of rules plus its
// secondary indexes. Never mutated after publication.
type ruleSet struct {
	version    int64
	byID       map[string]*contracts.RiskRule
	byCategory map[string][]*contracts.RiskRule
	byKind     map[contracts.RuleKind][]*contracts.RiskRule
	ordered    []*contracts.RiskRule
}

func emptyRuleSet() *ruleSet {
	return &ruleSet{
		byID:       map[string]*contracts.RiskRule{},
		byCategory: map[string][]*contracts.RiskRule{},
		byKind:     map[contracts.RuleKind][]*contracts.RiskRule{},
	}
}

// withRule returns a new generation containing r (replacing any rule
// with the same id).
func (rs *ruleSet) withRule(r *contracts.RiskRule) *ruleSet {
	next := make([]*contracts.RiskRule, 0, len(rs.ordered)+1)
	replaced := false
	for _, existing := range rs.ordered {
		if existing.ID == r.ID {
			next = append(next, r)
			replaced = true
			continue
		}
		next = append(next, existing)
	}
	if !replaced {
		next = append(next, r)
	}
	return buildRuleSet(rs.version+1, next)
}

// withoutRule returns a new generation without the rule id.
func (rs *ruleSet) withoutRule(id string) *ruleSet {
	next := make([]*contracts.RiskRule, 0, len(rs.ordered))
	for _, existing := range rs.ordered {
		if existing.ID != id {
			next = append(next, existing)
		}
	}
	return buildRuleSet(rs.version+1, next)
}

func buildRuleSet(version int64, rules []*contracts.RiskRule) *ruleSet {
	rs := emptyRuleSet()
	rs.version = version
	rs.ordered = rules
	for _, r := range rules {
		rs.byID[r.ID] = r
		if r.Category != "" {
			rs.byCategory[r.Category] = append(rs.byCategory[r.Category], r)
		}
		rs.byKind[r.Kind] = append(rs.byKind[r.Kind], r)
	}
	return rs
}

// validateRule rejects structurally malformed rules. Malformed rules are
// fatal at load time; once a set is published, evaluation never fails.
func validateRule(r *contracts.RiskRule) error {
	if strings.TrimSpace(r.ID) == "" {
		return faults.New(faults.Fatal, "rule has no id")
	}
	switch r.Kind {
	case contracts.RuleKindSoD:
		if len(r.Conflicts) == 0 {
			return faults.New(faults.Fatal, "sod rule %s has no conflict sets", r.ID).Entity(r.ID)
		}
		for _, cs := range r.Conflicts {
			if len(cs.FunctionAEntitlements) == 0 || len(cs.FunctionBEntitlements) == 0 {
				return faults.New(faults.Fatal, "sod rule %s conflict %q has an empty function", r.ID, cs.Name).Entity(r.ID)
			}
		}
	case contracts.RuleKindSensitive, contracts.RuleKindCriticalAction:
		if len(r.SensitiveEntitlements) == 0 {
			return faults.New(faults.Fatal, "rule %s of kind %s has no entitlements", r.ID, r.Kind).Entity(r.ID)
		}
	case contracts.RuleKindContextual:
		if strings.TrimSpace(r.Expression) == "" {
			return faults.New(faults.Fatal, "contextual rule %s has no expression", r.ID).Entity(r.ID)
		}
	case contracts.RuleKindBehavioral, contracts.RuleKindAttribute, contracts.RuleKindComposite:
		// Extension kinds: tags without built-in semantics. Accepted at
		// load; evaluated only when a plug-in evaluator is registered.
	default:
		return faults.New(faults.Fatal, "rule %s has unknown kind %q", r.ID, r.Kind).Entity(r.ID)
	}
	switch r.Severity {
	case contracts.SeverityLow, contracts.SeverityMedium, contracts.SeverityHigh, contracts.SeverityCritical:
	default:
		return faults.New(faults.Fatal, "rule %s has severity %d outside the {10,30,60,100} scale", r.ID, r.Severity).Entity(r.ID)
	}
	return nil
}
