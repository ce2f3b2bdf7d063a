// Package orgfilter post-filters risk violations whose conflicting
// entitlements are scoped to different organizational units, and applies
// supplementary conditions that exclude violations or adjust their risk
// level.
package orgfilter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// RuleType selects the filtering semantics of an org rule.
type RuleType string

const (
	// Exclusion filters the violation out when the two sides do not
	// overlap on the configured org fields.
	Exclusion RuleType = "EXCLUSION"
	// Inclusion keeps the violation only when the two sides overlap.
	Inclusion RuleType = "INCLUSION"
	// Supplementary evaluates field conditions against a context map
	// and either excludes the violation or adjusts its level.
	Supplementary RuleType = "SUPPLEMENTARY"
)

// Op is a supplementary condition operator. Unknown operators are a
// load-time error, never a runtime pass.
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpIn         Op = "in"
	OpNotIn      Op = "not_in"
	OpContains   Op = "contains"
	OpStartsWith Op = "starts_with"
)

// SupplementaryAction is what a matching supplementary rule does.
type SupplementaryAction string

const (
	ActionExclude     SupplementaryAction = "EXCLUDE"
	ActionAdjustLevel SupplementaryAction = "ADJUST_LEVEL"
)

// FieldCondition is one enumerated predicate of a supplementary rule.
type FieldCondition struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// OrgRule is one organizational filter rule. Rules apply in ascending
// Priority order; the first rule that filters short-circuits.
type OrgRule struct {
	ID       string   `json:"id"`
	Type     RuleType `json:"type"`
	Priority int      `json:"priority"`

	// RiskIDs / Categories narrow which violations the rule applies to.
	// Empty means all.
	RiskIDs    []string `json:"risk_ids,omitempty"`
	Categories []string `json:"categories,omitempty"`

	// OrgFields are the footprint dimensions compared for overlap
	// (exclusion/inclusion rules), e.g. "company_code", "plant".
	OrgFields []string `json:"org_fields,omitempty"`
	// RequireAllFields: AND across fields when true, OR when false.
	RequireAllFields bool `json:"require_all_fields"`

	// Conditions and the action belong to supplementary rules.
	Conditions []FieldCondition    `json:"conditions,omitempty"`
	Action     SupplementaryAction `json:"action,omitempty"`
	NewLevel   string              `json:"new_level,omitempty"`
}

// Footprint maps an org field type to the values one side of a conflict
// touches, e.g. {"company_code": ["1000", "2000"]}.
type Footprint map[string][]string

// Decision is the outcome of running a violation through the filter.
type Decision struct {
	Filtered      bool     `json:"filtered"`
	Reason        string   `json:"reason,omitempty"`
	AppliedRules  []string `json:"applied_rules,omitempty"`
	AdjustedLevel string   `json:"adjusted_level,omitempty"`
}

// Filter holds validated org rules in priority order.
type Filter struct {
	rules []OrgRule
}

// NewFilter validates the rules and returns a filter. Structural
// problems (unknown rule type, unknown operator, exclusion rule without
// org fields) are fatal.
func NewFilter(rules []OrgRule) (*Filter, error) {
	for i := range rules {
		if err := validateOrgRule(&rules[i]); err != nil {
			return nil, err
		}
	}
	sorted := make([]OrgRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })
	return &Filter{rules: sorted}, nil
}

func validateOrgRule(r *OrgRule) error {
	if strings.TrimSpace(r.ID) == "" {
		return faults.New(faults.Fatal, "org rule has no id")
	}
	switch r.Type {
	case Exclusion, Inclusion:
		if len(r.OrgFields) == 0 {
			return faults.New(faults.Fatal, "org rule %s has no org fields", r.ID).Entity(r.ID)
		}
	case Supplementary:
		if len(r.Conditions) == 0 {
			return faults.New(faults.Fatal, "supplementary rule %s has no conditions", r.ID).Entity(r.ID)
		}
		for _, c := range r.Conditions {
			switch c.Op {
			case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpIn, OpNotIn, OpContains, OpStartsWith:
			default:
				return faults.New(faults.Fatal, "supplementary rule %s uses unknown operator %q", r.ID, c.Op).Entity(r.ID)
			}
		}
		switch r.Action {
		case ActionExclude:
		case ActionAdjustLevel:
			if r.NewLevel == "" {
				return faults.New(faults.Fatal, "supplementary rule %s adjusts level without new_level", r.ID).Entity(r.ID)
			}
		default:
			return faults.New(faults.Fatal, "supplementary rule %s has unknown action %q", r.ID, r.Action).Entity(r.ID)
		}
	default:
		return faults.New(faults.Fatal, "org rule %s has unknown type %q", r.ID, r.Type).Entity(r.ID)
	}
	return nil
}

// Apply runs one candidate violation through the rules. sideA and sideB
// are the organizational footprints of the two sides of the conflict;
// context feeds supplementary conditions.
func (f *Filter) Apply(riskID, category string, sideA, sideB Footprint, context map[string]any) Decision {
	d := Decision{}
	for i := range f.rules {
		r := &f.rules[i]
		if !ruleTargets(r, riskID, category) {
			continue
		}
		switch r.Type {
		case Exclusion:
			if exclusionFilters(r, sideA, sideB) {
				d.Filtered = true
				d.Reason = fmt.Sprintf("org rule %s: sides do not overlap on %s", r.ID, strings.Join(r.OrgFields, ","))
				d.AppliedRules = append(d.AppliedRules, r.ID)
				return d
			}
		case Inclusion:
			if !inclusionKeeps(r, sideA, sideB) {
				d.Filtered = true
				d.Reason = fmt.Sprintf("org rule %s: sides lack required overlap on %s", r.ID, strings.Join(r.OrgFields, ","))
				d.AppliedRules = append(d.AppliedRules, r.ID)
				return d
			}
		case Supplementary:
			if !conditionsMatch(r.Conditions, context) {
				continue
			}
			d.AppliedRules = append(d.AppliedRules, r.ID)
			if r.Action == ActionExclude {
				d.Filtered = true
				d.Reason = fmt.Sprintf("supplementary rule %s excluded the violation", r.ID)
				return d
			}
			// Later adjustments override earlier ones.
			d.AdjustedLevel = r.NewLevel
			d.Reason = fmt.Sprintf("supplementary rule %s adjusted level to %s", r.ID, r.NewLevel)
		}
	}
	return d
}

func ruleTargets(r *OrgRule, riskID, category string) bool {
	if len(r.RiskIDs) > 0 && !containsString(r.RiskIDs, riskID) {
		return false
	}
	if len(r.Categories) > 0 && !containsString(r.Categories, category) {
		return false
	}
	return true
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// overlaps reports whether the two sides share at least one value of the
// org field. A side that does not carry the field cannot demonstrate
// overlap.
func overlaps(field string, a, b Footprint) bool {
	av, bv := a[field], b[field]
	if len(av) == 0 || len(bv) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(av))
	for _, v := range av {
		set[v] = struct{}{}
	}
	for _, v := range bv {
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}

// exclusionFilters: require_all_fields=true filters only when every
// configured field shows no overlap; false filters as soon as any field
// shows no overlap.
func exclusionFilters(r *OrgRule, a, b Footprint) bool {
	if r.RequireAllFields {
		for _, f := range r.OrgFields {
			if overlaps(f, a, b) {
				return false
			}
		}
		return true
	}
	for _, f := range r.OrgFields {
		if !overlaps(f, a, b) {
			return true
		}
	}
	return false
}

// inclusionKeeps is the logical inverse: require_all_fields=true keeps
// only when every field overlaps; false keeps when any field overlaps.
func inclusionKeeps(r *OrgRule, a, b Footprint) bool {
	if r.RequireAllFields {
		for _, f := range r.OrgFields {
			if !overlaps(f, a, b) {
				return false
			}
		}
		return true
	}
	for _, f := range r.OrgFields {
		if overlaps(f, a, b) {
			return true
		}
	}
	return false
}

// conditionsMatch evaluates the conjunction of all conditions against
// the context map. A missing context field never matches.
func conditionsMatch(conds []FieldCondition, context map[string]any) bool {
	for _, c := range conds {
		actual, ok := context[c.Field]
		if !ok {
			return false
		}
		if !conditionHolds(c, actual) {
			return false
		}
	}
	return true
}

func conditionHolds(c FieldCondition, actual any) bool {
	switch c.Op {
	case OpEq:
		return looseEqual(actual, c.Value)
	case OpNe:
		return !looseEqual(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		a, okA := toFloat(actual)
		b, okB := toFloat(c.Value)
		if !okA || !okB {
			return false
		}
		switch c.Op {
		case OpGt:
			return a > b
		case OpGte:
			return a >= b
		case OpLt:
			return a < b
		default:
			return a <= b
		}
	case OpIn:
		return valueInList(actual, c.Value)
	case OpNotIn:
		return !valueInList(actual, c.Value)
	case OpContains:
		switch v := actual.(type) {
		case string:
			return strings.Contains(v, fmt.Sprint(c.Value))
		case []string:
			return containsString(v, fmt.Sprint(c.Value))
		case []any:
			for _, item := range v {
				if looseEqual(item, c.Value) {
					return true
				}
			}
			return false
		}
		return false
	case OpStartsWith:
		s, ok := actual.(string)
		if !ok {
			return false
		}
		return strings.HasPrefix(s, fmt.Sprint(c.Value))
	}
	return false
}

func looseEqual(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

func valueInList(actual, list any) bool {
	switch l := list.(type) {
	case []string:
		return containsString(l, fmt.Sprint(actual))
	case []any:
		for _, item := range l {
			if looseEqual(actual, item) {
				return true
			}
		}
	}
	return false
}
