package workflow

import (
	"context"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
	"github.com/Oversight-Labs/sentra/core/pkg/ruleengine"
)

// Recommendation is the preview's advice to the requester.
type Recommendation string

const (
	RecommendProceed     Recommendation = "PROCEED"
	RecommendWithCaution Recommendation = "PROCEED_WITH_CAUTION"
	RecommendReview      Recommendation = "REVIEW_REQUIRED"
)

// RiskPreview is a what-if analysis of a request before submission:
// the violations the target user already has, the violations they would
// have with the requested access, and the delta the request introduces.
type RiskPreview struct {
	CurrentViolations []contracts.RiskViolation `json:"current_violations"`
	FutureViolations  []contracts.RiskViolation `json:"future_violations"`
	// NewViolations is the subset of FutureViolations not already
	// present, keyed by rule id plus conflict signature.
	NewViolations []contracts.RiskViolation `json:"new_violations"`

	Summary            contracts.RiskSummary `json:"summary"`
	Recommendation     Recommendation        `json:"recommendation"`
	RequiresMitigation bool                  `json:"requires_mitigation"`
}

// Previewer simulates the post-grant risk posture of a user.
type Previewer struct {
	engine *ruleengine.Engine
}

// NewPreviewer creates a risk previewer over the rule engine.
func NewPreviewer(engine *ruleengine.Engine) *Previewer {
	return &Previewer{engine: engine}
}

// Preview evaluates the target user as-is and with the requested items
// merged in, and reports the violations the grant would introduce. The
// user snapshot is never mutated.
func (p *Previewer) Preview(ctx context.Context, user *contracts.UserAccess, items []contracts.RequestedAccess) (*RiskPreview, error) {
	if user == nil {
		return nil, faults.New(faults.Validation, "preview requires a user snapshot")
	}

	current, err := p.engine.Evaluate(ctx, user)
	if err != nil {
		return nil, err
	}

	var extra []contracts.Entitlement
	for _, item := range items {
		extra = append(extra, item.Entitlements...)
	}
	future, err := p.engine.Evaluate(ctx, user.WithExtraEntitlements(extra))
	if err != nil {
		return nil, err
	}

	existing := make(map[string]struct{}, len(current))
	for i := range current {
		existing[current[i].DedupKey()] = struct{}{}
	}
	var fresh []contracts.RiskViolation
	for i := range future {
		if _, ok := existing[future[i].DedupKey()]; !ok {
			fresh = append(fresh, future[i])
		}
	}

	pv := &RiskPreview{
		CurrentViolations: current,
		FutureViolations:  future,
		NewViolations:     fresh,
		Summary:           p.engine.Summarize(future),
	}
	pv.Recommendation, pv.RequiresMitigation = recommend(fresh)
	return pv, nil
}

// recommend maps the introduced violations onto advice. Only the delta
// counts: pre-existing violations never block a request on their own.
// A high or critical delta needs review and a mitigating control.
func recommend(fresh []contracts.RiskViolation) (Recommendation, bool) {
	if len(fresh) == 0 {
		return RecommendProceed, false
	}
	for i := range fresh {
		if fresh[i].Severity >= contracts.SeverityHigh {
			return RecommendReview, true
		}
	}
	return RecommendWithCaution, false
}
