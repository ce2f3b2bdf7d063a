//go:build property
// +build property

package ruleengine

import (
	"context"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

func genEntitlement() gopter.Gen {
	values := gen.OneConstOf("XK01", "F110", "SCC4", "SU01", "*")
	return values.Map(func(v string) contracts.Entitlement {
		return contracts.Entitlement{AuthObject: "S_TCODE", Field: "TCD", Value: v}
	})
}

func dedupKeys(violations []contracts.RiskViolation) map[string]bool {
	keys := make(map[string]bool, len(violations))
	for _, v := range violations {
		keys[v.DedupKey()] = true
	}
	return keys
}

// Property: two invocations of Evaluate over the same (rules, user)
// return equal sets of (ruleId, conflictSignature) tuples.
func TestEvaluateDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	engine := NewEngine(WithClock(fixedClock))
	if err := engine.LoadRules([]*contracts.RiskRule{
		sodRuleForProps("SOD-1"),
		sensitiveRuleForProps("SENS-1"),
	}); err != nil {
		t.Fatal(err)
	}

	properties.Property("evaluation is deterministic", prop.ForAll(
		func(ents []contracts.Entitlement) bool {
			user := &contracts.UserAccess{UserID: "p", Entitlements: ents}
			a, err1 := engine.Evaluate(context.Background(), user)
			b, err2 := engine.Evaluate(context.Background(), user)
			if err1 != nil || err2 != nil {
				return false
			}
			ka, kb := dedupKeys(a), dedupKeys(b)
			if len(ka) != len(kb) {
				return false
			}
			for k := range ka {
				if !kb[k] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genEntitlement()),
	))

	// Property: violations(user) is a subset of violations(user + extra).
	properties.Property("adding access never resolves violations", prop.ForAll(
		func(base []contracts.Entitlement, extra []contracts.Entitlement) bool {
			user := &contracts.UserAccess{UserID: "p", Entitlements: base}
			grown := user.WithExtraEntitlements(extra)
			a, err1 := engine.Evaluate(context.Background(), user)
			b, err2 := engine.Evaluate(context.Background(), grown)
			if err1 != nil || err2 != nil {
				return false
			}
			kb := dedupKeys(b)
			for k := range dedupKeys(a) {
				if !kb[k] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genEntitlement()),
		gen.SliceOf(genEntitlement()),
	))

	properties.TestingRun(t)
}

func sodRuleForProps(id string) *contracts.RiskRule {
	return &contracts.RiskRule{
		ID: id, Name: id, Kind: contracts.RuleKindSoD, Severity: contracts.SeverityCritical,
		Conflicts: []contracts.ConflictSet{{
			FunctionAEntitlements: []contracts.Entitlement{{AuthObject: "S_TCODE", Field: "TCD", Value: "XK01"}},
			FunctionBEntitlements: []contracts.Entitlement{{AuthObject: "S_TCODE", Field: "TCD", Value: "F110"}},
		}},
		Enabled: true,
	}
}

func sensitiveRuleForProps(id string) *contracts.RiskRule {
	return &contracts.RiskRule{
		ID: id, Name: id, Kind: contracts.RuleKindSensitive, Severity: contracts.SeverityHigh,
		SensitiveEntitlements: []contracts.Entitlement{{AuthObject: "S_TCODE", Field: "TCD", Value: "SCC4"}},
		Enabled:               true,
	}
}
