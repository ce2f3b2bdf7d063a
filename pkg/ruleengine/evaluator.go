package ruleengine

import (
	"github.com/Oversight-Labs/sentra/core/pkg/canonicalize"
	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// Hit is one rule match against a user, produced by a KindEvaluator and
// turned into a RiskViolation by the engine.
type Hit struct {
	// Signature is the deterministic conflict signature of the hit.
	Signature     string
	FunctionAName string
	FunctionA     []contracts.Entitlement
	FunctionBName string
	FunctionB     []contracts.Entitlement
}

// KindEvaluator implements the evaluation semantics of one rule kind.
// New kinds plug in through Engine.RegisterEvaluator without touching
// the engine core. Evaluators must be safe for concurrent use and must
// not fail on user data: a snapshot that cannot match simply produces no
// hits.
type KindEvaluator interface {
	Kind() contracts.RuleKind
	Evaluate(rule *contracts.RiskRule, user *contracts.UserAccess) []Hit
}

// bundleHeld reports whether every rule-side entitlement of the bundle
// is satisfied by at least one user-side grant, honoring wildcard
// semantics on both sides.
func bundleHeld(bundle []contracts.Entitlement, user *contracts.UserAccess) bool {
	for _, required := range bundle {
		matched := false
		for _, grant := range user.Entitlements {
			if required.Matches(grant) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// sodEvaluator emits one hit per satisfied conflict set: the user holds
// every entitlement of function A and every entitlement of function B.
type sodEvaluator struct{}

func (sodEvaluator) Kind() contracts.RuleKind { return contracts.RuleKindSoD }

func (sodEvaluator) Evaluate(rule *contracts.RiskRule, user *contracts.UserAccess) []Hit {
	var hits []Hit
	for i := range rule.Conflicts {
		cs := &rule.Conflicts[i]
		if !bundleHeld(cs.FunctionAEntitlements, user) {
			continue
		}
		if !bundleHeld(cs.FunctionBEntitlements, user) {
			continue
		}
		hits = append(hits, Hit{
			Signature:     canonicalize.SoDSignature(cs.FunctionAEntitlements, cs.FunctionBEntitlements),
			FunctionAName: cs.FunctionAName,
			FunctionA:     cs.FunctionAEntitlements,
			FunctionBName: cs.FunctionBName,
			FunctionB:     cs.FunctionBEntitlements,
		})
	}
	return hits
}

// sensitiveEvaluator emits a single hit when the user holds the full
// required set. CRITICAL_ACTION shares the same semantics over the same
// bundle field.
type sensitiveEvaluator struct {
	kind contracts.RuleKind
}

func (e sensitiveEvaluator) Kind() contracts.RuleKind { return e.kind }

func (e sensitiveEvaluator) Evaluate(rule *contracts.RiskRule, user *contracts.UserAccess) []Hit {
	if !bundleHeld(rule.SensitiveEntitlements, user) {
		return nil
	}
	return []Hit{{
		Signature:     canonicalize.SensitiveSignature(rule.SensitiveEntitlements),
		FunctionAName: rule.Name,
		FunctionA:     rule.SensitiveEntitlements,
	}}
}
