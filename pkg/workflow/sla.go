package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// SweepConfig tunes the SLA sweeper.
type SweepConfig struct {
	// MinInterval is the shortest allowed spacing between sweep passes.
	MinInterval time.Duration
}

// DefaultSweepConfig returns the default gating.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{MinInterval: time.Minute}
}

// Sweeper escalates overdue approval steps. Escalation fires at most
// once per step: once EscalationTriggered is set a later pass skips the
// step even if it is still pending.
type Sweeper struct {
	machine  *Machine
	resolver contracts.UserResolver
	clock    contracts.Clock
	logger   *slog.Logger
	limiter  *rate.Limiter

	mu      sync.Mutex
	running bool
}

// NewSweeper creates an SLA sweeper.
func NewSweeper(machine *Machine, resolver contracts.UserResolver, cfg SweepConfig, clock contracts.Clock, logger *slog.Logger) *Sweeper {
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultSweepConfig().MinInterval
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		machine:  machine,
		resolver: resolver,
		clock:    clock,
		logger:   logger,
		limiter:  rate.NewLimiter(rate.Every(cfg.MinInterval), 1),
	}
}

// Begin reserves a sweep pass, enforcing non-overlap and the minimum
// interval. A pass arriving too early is dropped, not queued. Callers
// that drive SweepRequest themselves pair Begin with End; Begin does
// not synchronize access to individual requests.
func (s *Sweeper) Begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || !s.limiter.Allow() {
		return false
	}
	s.running = true
	return true
}

// End releases the pass reserved by Begin.
func (s *Sweeper) End() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// Sweep examines every pending request and escalates overdue current
// steps. Returns the effects of all escalations performed in this
// pass. Callers sharing requests across goroutines synchronize each
// request themselves.
func (s *Sweeper) Sweep(ctx context.Context, requests []*contracts.AccessRequest) (*Effects, error) {
	if !s.Begin() {
		return &Effects{}, nil
	}
	defer s.End()

	all := &Effects{}
	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		eff, err := s.SweepRequest(ctx, req)
		if err != nil {
			// One bad request must not starve the rest of the sweep.
			s.logger.Error("sla sweep failed for request",
				"request_id", req.RequestID, "error", err)
			continue
		}
		if eff != nil {
			all.Notifications = append(all.Notifications, eff.Notifications...)
			all.Events = append(all.Events, eff.Events...)
		}
	}
	return all, nil
}

// SweepRequest escalates the current step of one request if it is
// overdue and not yet escalated. Returns nil effects when there was
// nothing to do.
func (s *Sweeper) SweepRequest(ctx context.Context, req *contracts.AccessRequest) (*Effects, error) {
	if req.Status != contracts.RequestPendingApproval {
		return nil, nil
	}
	if req.CurrentStep < 0 || req.CurrentStep >= len(req.Steps) {
		return nil, nil
	}
	step := &req.Steps[req.CurrentStep]
	now := s.clock()
	if !step.Overdue(now) || step.EscalationTriggered {
		return nil, nil
	}

	target, err := s.escalationTarget(ctx, step)
	if err != nil {
		return nil, err
	}

	eff, err := s.machine.ProcessAction(req, step.StepID, ActionEscalate, contracts.SystemActor, "sla breached", target)
	if err != nil {
		return nil, err
	}
	s.logger.Warn("approval step escalated",
		"request_id", req.RequestID,
		"step", step.Name,
		"due_at", step.DueAt,
		"escalated_to", target)
	eff.notify(step.ApproverIDs, "Approval overdue",
		"Step \""+step.Name+"\" of request "+req.RequestID+" breached its SLA and has been escalated.")
	return eff, nil
}

// escalationTarget picks the manager of the first current approver. No
// manager (or no approvers) still triggers escalation so the breach is
// recorded, just with nobody added.
func (s *Sweeper) escalationTarget(ctx context.Context, step *contracts.ApprovalStep) (string, error) {
	approvers := step.ApproverIDs
	if len(approvers) == 0 && len(step.Paths) > 0 {
		approvers = step.Paths[0].ApproverIDs
	}
	if len(approvers) == 0 {
		return "", nil
	}
	mgr, err := s.resolver.ManagerOf(ctx, approvers[0])
	if err != nil {
		return "", faults.Wrap(faults.TransientExternal, err, "escalation manager lookup for %s failed", approvers[0])
	}
	return mgr, nil
}
