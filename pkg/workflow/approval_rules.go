// Package workflow generates risk-driven approval plans and drives them
// through a multi-stage multi-path state machine with SLA tracking,
// escalation, and delegation. Plan generation and state transitions are
// synchronous-pure over in-memory state; side-effects are returned as
// Effects and flushed by the caller after the transition commits.
package workflow

import (
	"path"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// Predicate is the conjunction of optional typed conditions an approval
// rule matches against a risk-scored request. Nil / empty fields pass.
type Predicate struct {
	RiskLevels       []contracts.RiskLevel   `json:"risk_levels,omitempty"`
	HasSoDViolations *bool                   `json:"has_sod_violations,omitempty"`
	RequestTypes     []contracts.RequestType `json:"request_types,omitempty"`
	MinRiskScore     *int                    `json:"min_risk_score,omitempty"`
	MaxRiskScore     *int                    `json:"max_risk_score,omitempty"`
	TargetSystems    []string                `json:"target_systems,omitempty"`
	// RolePatterns glob-match against any requested access id or name.
	RolePatterns []string `json:"role_patterns,omitempty"`
	IsTemporary  *bool    `json:"is_temporary,omitempty"`
	Departments  []string `json:"departments,omitempty"`
}

// Matches evaluates the predicate. department is the target user's
// department (not carried on the request itself).
func (p *Predicate) Matches(req *contracts.AccessRequest, department string) bool {
	if len(p.RiskLevels) > 0 && !containsLevel(p.RiskLevels, req.RiskLevel) {
		return false
	}
	if p.HasSoDViolations != nil && *p.HasSoDViolations != req.HasSoDViolations() {
		return false
	}
	if len(p.RequestTypes) > 0 && !containsType(p.RequestTypes, req.Type) {
		return false
	}
	if p.MinRiskScore != nil && req.OverallRiskScore < *p.MinRiskScore {
		return false
	}
	if p.MaxRiskScore != nil && req.OverallRiskScore > *p.MaxRiskScore {
		return false
	}
	if len(p.TargetSystems) > 0 && !anySystemIn(req.Items, p.TargetSystems) {
		return false
	}
	if len(p.RolePatterns) > 0 && !anyRoleMatches(req.Items, p.RolePatterns) {
		return false
	}
	if p.IsTemporary != nil && *p.IsTemporary != req.IsTemporary {
		return false
	}
	if len(p.Departments) > 0 && !containsStr(p.Departments, department) {
		return false
	}
	return true
}

// PathTemplate describes one parallel path of a multi-path stage.
type PathTemplate struct {
	Name              string                 `json:"name"`
	Type              contracts.ApproverType `json:"type"`
	SpecificApprovers []string               `json:"specific_approvers,omitempty"`
	RequireAll        bool                   `json:"require_all"`
	// Required paths must approve for the stage to approve; rejection on
	// a non-required path only closes that path.
	Required bool `json:"required"`
}

// StepTemplate describes the step an approval rule contributes.
type StepTemplate struct {
	Name string                 `json:"name"`
	Type contracts.ApproverType `json:"type"`
	// SpecificApprovers pins a fixed approver list, bypassing the
	// resolver.
	SpecificApprovers []string `json:"specific_approvers,omitempty"`
	RequireAll        bool     `json:"require_all"`
	SLAHours          int      `json:"sla_hours"`
	// Required steps fail plan generation when they resolve empty;
	// optional steps are skipped with a warning.
	Required bool `json:"required"`
	// CanSkipIfSelf drops the step when the requester is among the
	// resolved approvers.
	CanSkipIfSelf bool `json:"can_skip_if_self"`
	// Paths, when non-empty, makes this a multi-path stage; the step's
	// own approver fields are ignored.
	Paths []PathTemplate `json:"paths,omitempty"`
}

// ApprovalRule binds a predicate to a step template. Rules evaluate in
// ascending Priority order.
type ApprovalRule struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Priority  int          `json:"priority"`
	Predicate Predicate    `json:"predicate"`
	Step      StepTemplate `json:"step"`
	Enabled   bool         `json:"enabled"`
}

func validateApprovalRule(r *ApprovalRule) error {
	if r.ID == "" {
		return faults.New(faults.Fatal, "approval rule has no id")
	}
	if r.Step.Name == "" {
		return faults.New(faults.Fatal, "approval rule %s has no step name", r.ID).Entity(r.ID)
	}
	for _, pat := range r.Predicate.RolePatterns {
		if _, err := path.Match(pat, "probe"); err != nil {
			return faults.Wrap(faults.Fatal, err, "approval rule %s has malformed role pattern %q", r.ID, pat).Entity(r.ID)
		}
	}
	return nil
}

func containsLevel(list []contracts.RiskLevel, v contracts.RiskLevel) bool {
	for _, l := range list {
		if l == v {
			return true
		}
	}
	return false
}

func containsType(list []contracts.RequestType, v contracts.RequestType) bool {
	for _, t := range list {
		if t == v {
			return true
		}
	}
	return false
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func anySystemIn(items []contracts.RequestedAccess, systems []string) bool {
	for _, item := range items {
		if containsStr(systems, item.System) {
			return true
		}
	}
	return false
}

func anyRoleMatches(items []contracts.RequestedAccess, patterns []string) bool {
	for _, item := range items {
		for _, pat := range patterns {
			if ok, _ := path.Match(pat, item.AccessID); ok {
				return true
			}
			if item.AccessName != "" {
				if ok, _ := path.Match(pat, item.AccessName); ok {
					return true
				}
			}
		}
	}
	return false
}
