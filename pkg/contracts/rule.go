package contracts

import "time"

// RuleKind classifies a risk rule. Only SoD and Sensitive carry built-in
// evaluation semantics; the remaining kinds are extension points wired
// through the rule engine's evaluator registry.
type RuleKind string

const (
	RuleKindSoD            RuleKind = "SOD"
	RuleKindSensitive      RuleKind = "SENSITIVE"
	RuleKindCriticalAction RuleKind = "CRITICAL_ACTION"
	RuleKindBehavioral     RuleKind = "BEHAVIORAL"
	RuleKindContextual     RuleKind = "CONTEXTUAL"
	RuleKindAttribute      RuleKind = "ATTRIBUTE"
	RuleKindComposite      RuleKind = "COMPOSITE"
)

// Severity is the numeric risk weight of a rule. The scale is fixed:
// Low=10, Medium=30, High=60, Critical=100.
type Severity int

const (
	SeverityLow      Severity = 10
	SeverityMedium   Severity = 30
	SeverityHigh     Severity = 60
	SeverityCritical Severity = 100
)

// Label returns the human name for the severity.
func (s Severity) Label() string {
	switch {
	case s >= SeverityCritical:
		return "CRITICAL"
	case s >= SeverityHigh:
		return "HIGH"
	case s >= SeverityMedium:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// RiskLevel is the coarse band derived from a 0-100 risk score.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// RiskLevelForScore maps a 0-100 score onto the single threshold table
// used across the core: critical >= 80, high >= 60, medium >= 30.
func RiskLevelForScore(score int) RiskLevel {
	switch {
	case score >= 80:
		return RiskCritical
	case score >= 60:
		return RiskHigh
	case score >= 30:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Applicability restricts which users a rule is evaluated against.
// Each list supports the "*" wildcard; an empty list means "all".
type Applicability struct {
	Systems     []string `json:"systems,omitempty"`
	Departments []string `json:"departments,omitempty"`
	UserTypes   []string `json:"user_types,omitempty"`
}

// RuleExceptions lists users and roles exempt from a rule.
type RuleExceptions struct {
	Users []string `json:"users,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// RiskRule is one SoD / sensitive-access / extension policy rule.
type RiskRule struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Kind        RuleKind `json:"kind"`
	Severity    Severity `json:"severity"`
	// Category is a free-form taxonomy tag, e.g. "Financial", "HR".
	Category string `json:"category,omitempty"`

	// Conflicts is required for SoD rules.
	Conflicts []ConflictSet `json:"conflicts,omitempty"`
	// SensitiveEntitlements is required for Sensitive rules.
	SensitiveEntitlements []Entitlement `json:"sensitive_entitlements,omitempty"`
	// Expression feeds extension-kind evaluators (e.g. a CEL expression
	// for CONTEXTUAL rules).
	Expression string `json:"expression,omitempty"`

	AppliesTo  Applicability  `json:"applies_to"`
	Exceptions RuleExceptions `json:"exceptions"`

	EffectiveFrom *time.Time `json:"effective_from,omitempty"`
	ExpiryDate    *time.Time `json:"expiry_date,omitempty"`

	BusinessImpact  string   `json:"business_impact,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`

	Enabled bool   `json:"enabled"`
	Version string `json:"version,omitempty"`
}

// endOfDay extends an expiry date to 23:59:59.999 UTC, making the expiry
// date inclusive.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 999_000_000, time.UTC)
}

// InEffect reports whether the rule's date window covers now. The
// effective date is inclusive; the expiry date is inclusive up to
// 23:59:59.999 UTC.
func (r *RiskRule) InEffect(now time.Time) bool {
	if r.EffectiveFrom != nil && now.Before(*r.EffectiveFrom) {
		return false
	}
	if r.ExpiryDate != nil && now.After(endOfDay(*r.ExpiryDate)) {
		return false
	}
	return true
}
