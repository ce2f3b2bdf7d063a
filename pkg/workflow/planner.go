package workflow

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// PlanConfig tunes plan generation.
type PlanConfig struct {
	// MaxSteps truncates oversized plans (with a warning).
	MaxSteps int
	// RequireManagerApproval synthesizes a manager step when no rule
	// produced any step.
	RequireManagerApproval bool
	// DefaultSLAHours applies to steps whose template sets none.
	DefaultSLAHours int
}

// DefaultPlanConfig returns sensible defaults.
func DefaultPlanConfig() PlanConfig {
	return PlanConfig{MaxSteps: 6, RequireManagerApproval: true, DefaultSLAHours: 48}
}

// Planner turns approval rules plus a risk-scored request into an
// ordered approval plan. Generation is a pure function of (rules,
// request, resolver output): two calls on an unmutated request produce
// equal plans modulo step ids and due timestamps.
type Planner struct {
	rules    []ApprovalRule
	resolver contracts.UserResolver
	clock    contracts.Clock
	logger   *slog.Logger
	cfg      PlanConfig
}

// NewPlanner validates and orders the approval rules.
func NewPlanner(rules []ApprovalRule, resolver contracts.UserResolver, cfg PlanConfig, clock contracts.Clock, logger *slog.Logger) (*Planner, error) {
	for i := range rules {
		if err := validateApprovalRule(&rules[i]); err != nil {
			return nil, err
		}
	}
	ordered := make([]ApprovalRule, len(rules))
	copy(ordered, rules)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Priority < ordered[j].Priority })
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{rules: ordered, resolver: resolver, clock: clock, logger: logger, cfg: cfg}, nil
}

// GeneratePlan builds the ordered step list for the request. target is
// the target user's snapshot (department, cost center feed predicate
// and approver resolution).
func (p *Planner) GeneratePlan(ctx context.Context, req *contracts.AccessRequest, target *contracts.UserAccess) ([]contracts.ApprovalStep, error) {
	now := p.clock()
	var steps []contracts.ApprovalStep

	for i := range p.rules {
		rule := &p.rules[i]
		if !rule.Enabled {
			continue
		}
		if !rule.Predicate.Matches(req, target.Department) {
			continue
		}
		step, skip, err := p.buildStep(ctx, &rule.Step, req, target, now)
		if err != nil {
			return nil, err
		}
		if skip {
			continue
		}
		step.Number = len(steps)
		steps = append(steps, *step)
	}

	if p.cfg.MaxSteps > 0 && len(steps) > p.cfg.MaxSteps {
		p.logger.Warn("approval plan truncated",
			"request_id", req.RequestID, "steps", len(steps), "max", p.cfg.MaxSteps)
		steps = steps[:p.cfg.MaxSteps]
	}

	if len(steps) == 0 && p.cfg.RequireManagerApproval {
		step, skip, err := p.buildStep(ctx, &StepTemplate{
			Name:     "Manager Approval",
			Type:     contracts.ApproverManager,
			SLAHours: p.cfg.DefaultSLAHours,
			Required: true,
		}, req, target, now)
		if err != nil {
			return nil, err
		}
		if !skip {
			step.Number = 0
			steps = append(steps, *step)
		}
	}
	return steps, nil
}

// buildStep resolves approvers and materializes one step. skip=true
// means the step is dropped (self-approval skip, or an optional step
// that resolved empty).
func (p *Planner) buildStep(ctx context.Context, tmpl *StepTemplate, req *contracts.AccessRequest, target *contracts.UserAccess, now time.Time) (*contracts.ApprovalStep, bool, error) {
	sla := tmpl.SLAHours
	if sla <= 0 {
		sla = p.cfg.DefaultSLAHours
	}
	step := &contracts.ApprovalStep{
		StepID:     uuid.New().String(),
		Name:       tmpl.Name,
		Type:       tmpl.Type,
		RequireAll: tmpl.RequireAll,
		Status:     contracts.StepPending,
		SLAHours:   sla,
		DueAt:      now.Add(time.Duration(sla) * time.Hour),
	}

	if len(tmpl.Paths) > 0 {
		for _, pt := range tmpl.Paths {
			approvers, err := p.resolveApprovers(ctx, pt.Type, pt.SpecificApprovers, req, target)
			if err != nil {
				return nil, false, err
			}
			if len(approvers) == 0 {
				if pt.Required {
					return nil, false, faults.New(faults.State,
						"required path %q of step %q resolved no approvers", pt.Name, tmpl.Name).Entity(req.RequestID)
				}
				p.logger.Warn("skipping unresolvable approval path",
					"request_id", req.RequestID, "step", tmpl.Name, "path", pt.Name)
				continue
			}
			step.Paths = append(step.Paths, contracts.ApprovalPath{
				PathID:      uuid.New().String(),
				Name:        pt.Name,
				Type:        pt.Type,
				ApproverIDs: approvers,
				RequireAll:  pt.RequireAll,
				Required:    pt.Required,
				Status:      contracts.StepPending,
			})
		}
		if len(step.Paths) == 0 {
			p.logger.Warn("skipping step with no resolvable paths",
				"request_id", req.RequestID, "step", tmpl.Name)
			return nil, true, nil
		}
		return step, false, nil
	}

	approvers, err := p.resolveApprovers(ctx, tmpl.Type, tmpl.SpecificApprovers, req, target)
	if err != nil {
		return nil, false, err
	}
	if tmpl.CanSkipIfSelf && containsStr(approvers, req.RequesterID) {
		return nil, true, nil
	}
	if len(approvers) == 0 {
		if tmpl.Required {
			return nil, false, faults.New(faults.State,
				"required step %q resolved no approvers", tmpl.Name).Entity(req.RequestID)
		}
		p.logger.Warn("skipping unresolvable approval step",
			"request_id", req.RequestID, "step", tmpl.Name, "type", string(tmpl.Type))
		return nil, true, nil
	}
	step.ApproverIDs = approvers
	return step, false, nil
}

// resolveApprovers maps an approver type onto concrete user ids. A
// pinned list bypasses the resolver. Lookup failures surface; empty
// results are returned as-is for the caller's skip/fail policy.
func (p *Planner) resolveApprovers(ctx context.Context, typ contracts.ApproverType, pinned []string, req *contracts.AccessRequest, target *contracts.UserAccess) ([]string, error) {
	if len(pinned) > 0 {
		return dedup(pinned), nil
	}
	switch typ {
	case contracts.ApproverManager:
		mgr, err := p.resolver.ManagerOf(ctx, req.TargetUserID)
		if err != nil {
			return nil, faults.Wrap(faults.TransientExternal, err, "manager lookup for %s failed", req.TargetUserID)
		}
		if mgr == "" {
			return nil, nil
		}
		return []string{mgr}, nil
	case contracts.ApproverRoleOwner:
		var owners []string
		for _, item := range req.Items {
			found, err := p.resolver.RoleOwnerOf(ctx, item.AccessID)
			if err != nil {
				return nil, faults.Wrap(faults.TransientExternal, err, "role owner lookup for %s failed", item.AccessID)
			}
			owners = append(owners, found...)
		}
		return dedup(owners), nil
	case contracts.ApproverDataOwner:
		var owners []string
		for _, item := range req.Items {
			found, err := p.resolver.DataOwnerOf(ctx, item.System)
			if err != nil {
				return nil, faults.Wrap(faults.TransientExternal, err, "data owner lookup for %s failed", item.System)
			}
			owners = append(owners, found...)
		}
		return dedup(owners), nil
	case contracts.ApproverCostCenterOwner:
		owners, err := p.resolver.CostCenterOwnerOf(ctx, target.CostCenter)
		if err != nil {
			return nil, faults.Wrap(faults.TransientExternal, err, "cost center owner lookup for %s failed", target.CostCenter)
		}
		return dedup(owners), nil
	case contracts.ApproverSecurity, contracts.ApproverRisk, contracts.ApproverCompliance, contracts.ApproverIT:
		users, err := p.resolver.UsersWithFunction(ctx, typ)
		if err != nil {
			return nil, faults.Wrap(faults.TransientExternal, err, "%s pool lookup failed", typ)
		}
		return dedup(users), nil
	case contracts.ApproverSpecificUsers:
		return nil, nil
	default:
		return nil, faults.New(faults.Fatal, "unknown approver type %q", typ)
	}
}

func dedup(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
