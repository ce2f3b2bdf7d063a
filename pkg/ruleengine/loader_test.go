package ruleengine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

const sampleSpec = `
rules:
  - id: SOD-FIN-001
    name: Vendor Master vs Payment Run
    description: Creating vendors and paying them must be segregated.
    kind: SOD
    severity: CRITICAL
    category: Financial
    conflicts:
      - name: vendor-vs-payment
        functionAName: Maintain Vendor Master
        functionAEntitlements:
          - authObject: S_TCODE
            field: TCD
            value: XK01
        functionBName: Execute Payment Run
        functionBEntitlements:
          - authObject: S_TCODE
            field: TCD
            value: F110
    appliesTo:
      departments: ["FIN", "*"]
    businessImpact: Fictitious vendor fraud.
    recommendations:
      - Split vendor maintenance and payment execution.
    enabled: true
    version: 1.2.0
  - id: SENS-BASIS-001
    name: Client administration
    kind: SENSITIVE
    severity: 60
    category: Basis
    sensitiveEntitlements:
      - authObject: S_TCODE
        field: TCD
        value: SCC4
    enabled: true
`

func TestLoadRulesFromSpec(t *testing.T) {
	e := NewEngine(WithClock(fixedClock))
	require.NoError(t, e.LoadRulesFromSpec([]byte(sampleSpec)))

	r, err := e.Rule("SOD-FIN-001")
	require.NoError(t, err)
	require.Equal(t, contracts.RuleKindSoD, r.Kind)
	require.Equal(t, contracts.SeverityCritical, r.Severity)
	require.Len(t, r.Conflicts, 1)
	require.Equal(t, "1.2.0", r.Version)

	s, err := e.Rule("SENS-BASIS-001")
	require.NoError(t, err)
	require.Equal(t, contracts.SeverityHigh, s.Severity)

	user := userWith("jdoe", ent("S_TCODE", "TCD", "XK01"), ent("S_TCODE", "TCD", "F110"))
	violations, err := e.Evaluate(context.Background(), user)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, "SOD-FIN-001", violations[0].RuleID)
}

func TestLoadSpecRejectsMissingBundle(t *testing.T) {
	const bad = `
rules:
  - id: SOD-BAD
    name: broken
    kind: SOD
    severity: HIGH
`
	e := NewEngine()
	err := e.LoadRulesFromSpec([]byte(bad))
	require.Error(t, err)
	require.True(t, faults.IsKind(err, faults.Fatal))
}

func TestLoadSpecRejectsBadSeverity(t *testing.T) {
	const bad = `
rules:
  - id: R1
    name: r1
    kind: SENSITIVE
    severity: 42
    sensitiveEntitlements:
      - authObject: A
        field: F
        value: V
`
	e := NewEngine()
	err := e.LoadRulesFromSpec([]byte(bad))
	require.Error(t, err)
	require.True(t, faults.IsKind(err, faults.Fatal))
}

func TestLoadSpecRejectsBadVersion(t *testing.T) {
	const bad = `
rules:
  - id: R1
    name: r1
    kind: SENSITIVE
    severity: HIGH
    version: not-a-version
    sensitiveEntitlements:
      - authObject: A
        field: F
        value: V
`
	e := NewEngine()
	err := e.LoadRulesFromSpec([]byte(bad))
	require.Error(t, err)
	require.True(t, faults.IsKind(err, faults.Fatal))
}

func TestLoadSpecRejectsInvalidYAML(t *testing.T) {
	e := NewEngine()
	err := e.LoadRulesFromSpec([]byte("rules: ["))
	require.Error(t, err)
}

func TestParseSpecDates(t *testing.T) {
	const doc = `
rules:
  - id: R1
    name: r1
    kind: SENSITIVE
    severity: HIGH
    effectiveFrom: "2026-01-01"
    expiryDate: "2026-12-31"
    sensitiveEntitlements:
      - authObject: A
        field: F
        value: V
`
	rules, err := ParseSpec([]byte(doc))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.NotNil(t, rules[0].EffectiveFrom)
	require.NotNil(t, rules[0].ExpiryDate)
	require.Equal(t, 2026, rules[0].EffectiveFrom.Year())
}
