package contracts

import "time"

// ViolationStatus tracks the remediation lifecycle of a violation.
type ViolationStatus string

const (
	ViolationOpen       ViolationStatus = "OPEN"
	ViolationMitigated  ViolationStatus = "MITIGATED"
	ViolationAccepted   ViolationStatus = "ACCEPTED"
	ViolationRemediated ViolationStatus = "REMEDIATED"
)

// RiskViolation is one rule hit for one user. The ID is freshly minted
// per evaluation; (RuleID, ConflictSignature) is the stable identity
// callers de-duplicate on when reconciling with historical violations.
type RiskViolation struct {
	ID       string   `json:"id"`
	RuleID   string   `json:"rule_id"`
	RuleName string   `json:"rule_name,omitempty"`
	Kind     RuleKind `json:"kind"`
	Severity Severity `json:"severity"`
	Category string   `json:"category,omitempty"`

	UserID string `json:"user_id"`

	// ConflictSignature is the deterministic key of the entitlements that
	// caused the hit: for SoD the sorted canonical keys of both resolved
	// functions, for Sensitive the sorted canonical keys of the matched
	// set.
	ConflictSignature string `json:"conflict_signature"`

	// FunctionA/FunctionB carry the two sides of an SoD conflict; for
	// Sensitive rules FunctionA holds the matched set and FunctionB is
	// empty.
	FunctionAName string        `json:"function_a_name,omitempty"`
	FunctionA     []Entitlement `json:"function_a,omitempty"`
	FunctionBName string        `json:"function_b_name,omitempty"`
	FunctionB     []Entitlement `json:"function_b,omitempty"`

	BusinessImpact  string   `json:"business_impact,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	Status     ViolationStatus `json:"status"`
	DetectedAt time.Time       `json:"detected_at"`
}

// DedupKey is the stable identity of a violation across evaluations.
func (v *RiskViolation) DedupKey() string {
	return v.RuleID + "|" + v.ConflictSignature
}

// RiskSummary aggregates a violation list for reporting and scoring.
type RiskSummary struct {
	TotalViolations int            `json:"total_violations"`
	BySeverity      map[string]int `json:"by_severity"`
	ByCategory      map[string]int `json:"by_category"`
	// AggregateRiskScore is 100 * sum(severity) / (n * 100), in [0,100];
	// zero when there are no violations.
	AggregateRiskScore int       `json:"aggregate_risk_score"`
	RiskLevel          RiskLevel `json:"risk_level"`
}
