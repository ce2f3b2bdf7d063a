package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
	"github.com/Oversight-Labs/sentra/core/pkg/workflow"
)

// PreviewRisk runs the what-if analysis for a draft request without
// mutating it.
func (c *Coordinator) PreviewRisk(ctx context.Context, requestID string) (*workflow.RiskPreview, error) {
	req, err := c.Get(requestID)
	if err != nil {
		return nil, err
	}
	snapshot, err := c.deps.Source.UserAccessOf(ctx, req.TargetUserID)
	if err != nil {
		return nil, faults.Wrap(faults.TransientExternal, err, "access snapshot for %s failed", req.TargetUserID)
	}
	return c.previewer.Preview(ctx, snapshot, req.Items)
}

// Submit runs the full risk analysis, generates the approval plan, and
// moves the request to PendingApproval. Low-risk requests without SoD
// violations are auto-approved when configured.
func (c *Coordinator) Submit(ctx context.Context, requestID string) (*contracts.AccessRequest, error) {
	e, err := c.locked(requestID)
	if err != nil {
		return nil, err
	}
	req := e.req
	if req.Status != contracts.RequestDraft {
		e.mu.Unlock()
		return nil, faults.New(faults.State, "request is %s, only Draft requests can be submitted", req.Status).Entity(requestID)
	}
	// Risk analysis and plan generation run on a staging copy with the
	// lock released: the snapshot fetch and approver resolution are
	// external calls.
	staged := *req
	e.mu.Unlock()

	snapshot, err := c.deps.Source.UserAccessOf(ctx, staged.TargetUserID)
	if err != nil {
		return nil, faults.Wrap(faults.TransientExternal, err, "access snapshot for %s failed", staged.TargetUserID)
	}
	preview, err := c.previewer.Preview(ctx, snapshot, staged.Items)
	if err != nil {
		return nil, err
	}
	applyRiskAnalysis(&staged, preview)

	steps, err := c.deps.Planner.GeneratePlan(ctx, &staged, snapshot)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if req.Status != contracts.RequestDraft {
		e.mu.Unlock()
		return nil, faults.New(faults.State, "request is %s, only Draft requests can be submitted", req.Status).Entity(requestID)
	}
	applyRiskAnalysis(req, preview)
	eff, err := c.machine.Submit(req, steps)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	now := c.deps.Clock()
	for i := range preview.NewViolations {
		v := &preview.NewViolations[i]
		eff.Events = append(eff.Events, contracts.GovernanceEvent{
			EventID:   uuid.New().String(),
			Type:      contracts.EventViolationDetected,
			EntityID:  req.RequestID,
			Actor:     req.RequesterID,
			Timestamp: now,
			Delta:     map[string]any{"rule_id": v.RuleID, "severity": int(v.Severity)},
		})
	}

	if c.cfg.AutoApproveLowRisk && req.RiskLevel == contracts.RiskLow && !req.HasSoDViolations() {
		c.autoApprove(req, eff, now)
	}
	approved := req.Status == contracts.RequestApproved
	e.mu.Unlock()

	c.flush(ctx, eff)
	c.save(ctx, req)
	if approved {
		c.startProvisioning(ctx, req.RequestID)
	}
	return req, nil
}

// applyRiskAnalysis copies the preview verdict onto the request.
func applyRiskAnalysis(req *contracts.AccessRequest, preview *workflow.RiskPreview) {
	req.OverallRiskScore = preview.Summary.AggregateRiskScore
	req.RiskLevel = preview.Summary.RiskLevel
	req.SoDViolations = nil
	req.SensitiveFlags = nil
	for i := range preview.FutureViolations {
		v := preview.FutureViolations[i]
		if v.Kind == contracts.RuleKindSoD {
			req.SoDViolations = append(req.SoDViolations, v)
		} else {
			req.SensitiveFlags = append(req.SensitiveFlags, v)
		}
	}
}

// autoApprove skips every step and approves the request as SYSTEM.
func (c *Coordinator) autoApprove(req *contracts.AccessRequest, eff *workflow.Effects, now time.Time) {
	for i := range req.Steps {
		req.Steps[i].Status = contracts.StepSkipped
		req.Steps[i].ActionBy = contracts.SystemActor
		req.Steps[i].ActionAt = &now
	}
	req.CurrentStep = len(req.Steps)
	req.Status = contracts.RequestApproved
	req.DecisionBy = contracts.SystemActor
	req.DecisionAt = &now
	req.DecisionComments = "auto-approved: low risk, no segregation-of-duties conflicts"
	eff.Events = append(eff.Events, contracts.GovernanceEvent{
		EventID:   uuid.New().String(),
		Type:      contracts.EventRequestApproved,
		EntityID:  req.RequestID,
		Actor:     contracts.SystemActor,
		Timestamp: now,
		Delta:     map[string]any{"auto": true},
	})
	c.deps.Logger.Info("request auto-approved", "request_id", req.RequestID)
}

// ProcessApproval applies one step action through the workflow machine.
// Terminal approval triggers provisioning.
func (c *Coordinator) ProcessApproval(ctx context.Context, requestID, stepID string, action workflow.Action, actor, comments, delegateTo string) (*contracts.AccessRequest, error) {
	e, err := c.locked(requestID)
	if err != nil {
		return nil, err
	}
	req := e.req
	eff, err := c.machine.ProcessAction(req, stepID, action, actor, comments, delegateTo)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	approved := req.Status == contracts.RequestApproved
	e.mu.Unlock()

	c.flush(ctx, eff)
	c.save(ctx, req)
	if approved {
		c.startProvisioning(ctx, requestID)
	}
	return req, nil
}

// SlaSweep escalates overdue steps across all pending requests. Each
// request is swept under its own lock so an escalation never races a
// concurrent approval on the same request.
func (c *Coordinator) SlaSweep(ctx context.Context) error {
	if !c.sweeper.Begin() {
		return nil
	}
	defer c.sweeper.End()

	c.mu.RLock()
	entries := make([]*entry, 0, len(c.registry))
	for _, e := range c.registry {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		e.mu.Lock()
		req := e.req
		eff, err := c.sweeper.SweepRequest(ctx, req)
		e.mu.Unlock()
		if err != nil {
			c.deps.Logger.Error("sla sweep failed for request", "request_id", req.RequestID, "error", err)
			continue
		}
		if eff == nil {
			continue
		}
		c.flush(ctx, eff)
		c.save(ctx, req)
	}
	return nil
}

// startProvisioning hands the approved request to the provisioner,
// asynchronously when configured.
func (c *Coordinator) startProvisioning(ctx context.Context, requestID string) {
	if c.cfg.AsyncProvisioning {
		go func() {
			if err := c.Provision(context.WithoutCancel(ctx), requestID); err != nil {
				c.deps.Logger.Error("provisioning failed", "request_id", requestID, "error", err)
			}
		}()
		return
	}
	if err := c.Provision(ctx, requestID); err != nil {
		c.deps.Logger.Error("provisioning failed", "request_id", requestID, "error", err)
	}
}

// Provision applies an Approved request in the external system. The
// provisioner call runs outside the request lock; idempotence on the
// request id covers the abandoned-call ambiguity.
func (c *Coordinator) Provision(ctx context.Context, requestID string) error {
	e, err := c.locked(requestID)
	if err != nil {
		return err
	}
	req := e.req
	if req.Status != contracts.RequestApproved {
		e.mu.Unlock()
		return faults.New(faults.State, "request is %s, not Approved", req.Status).Entity(requestID)
	}
	now := c.deps.Clock()
	req.Status = contracts.RequestProvisioning
	req.UpdatedAt = now
	items := req.Items
	e.mu.Unlock()
	c.save(ctx, req)

	var result *contracts.ProvisionResult
	callErr := c.retrier.Do(ctx, func(ctx context.Context) error {
		r, err := c.deps.Provisioner.Provision(ctx, requestID, items)
		if err != nil {
			return faults.Wrap(faults.TransientExternal, err, "provisioner call failed")
		}
		if !r.OK && !r.Permanent {
			return faults.New(faults.TransientExternal, "provisioning rejected: %s", r.Error)
		}
		result = r
		return nil
	})

	e.mu.Lock()
	now = c.deps.Clock()
	switch {
	case callErr != nil:
		req.Status = contracts.RequestFailed
		req.FailureReason = callErr.Error()
	case !result.OK:
		req.Status = contracts.RequestFailed
		req.FailureReason = result.Error
	default:
		req.Status = contracts.RequestProvisioned
		if req.IsTemporary && req.RequestedEndDate != nil {
			req.ExpiresAt = req.RequestedEndDate
		}
	}
	req.UpdatedAt = now
	status := req.Status
	e.mu.Unlock()

	if status == contracts.RequestProvisioned {
		c.recordEvent(ctx, &contracts.GovernanceEvent{
			EventID:   uuid.New().String(),
			Type:      contracts.EventRequestProvisioned,
			EntityID:  requestID,
			Actor:     contracts.SystemActor,
			Timestamp: now,
			Delta:     map[string]any{"items": len(items)},
		})
	}
	c.save(ctx, req)
	if status == contracts.RequestFailed {
		return faults.New(faults.PermanentExternal, "provisioning of %s failed: %s", requestID, req.FailureReason).Entity(requestID)
	}
	return nil
}

// ExpirySweep revokes provisioned temporary access whose end date has
// passed.
func (c *Coordinator) ExpirySweep(ctx context.Context) {
	now := c.deps.Clock()
	due := c.filter(func(r *contracts.AccessRequest) bool {
		return r.Status == contracts.RequestProvisioned && r.ExpiresAt != nil && !r.ExpiresAt.After(now)
	})
	for _, req := range due {
		if err := ctx.Err(); err != nil {
			return
		}
		if err := c.expire(ctx, req.RequestID); err != nil {
			c.deps.Logger.Error("expiry failed", "request_id", req.RequestID, "error", err)
		}
	}
}

func (c *Coordinator) expire(ctx context.Context, requestID string) error {
	e, err := c.locked(requestID)
	if err != nil {
		return err
	}
	req := e.req
	now := c.deps.Clock()
	if req.Status != contracts.RequestProvisioned || req.ExpiresAt == nil || req.ExpiresAt.After(now) {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	callErr := c.retrier.Do(ctx, func(ctx context.Context) error {
		r, err := c.deps.Provisioner.Revoke(ctx, requestID)
		if err != nil {
			return faults.Wrap(faults.TransientExternal, err, "revoke call failed")
		}
		if !r.OK && !r.Permanent {
			return faults.New(faults.TransientExternal, "revoke rejected: %s", r.Error)
		}
		return nil
	})
	if callErr != nil {
		return callErr
	}

	e.mu.Lock()
	req.Status = contracts.RequestExpired
	req.UpdatedAt = now
	e.mu.Unlock()

	c.recordEvent(ctx, &contracts.GovernanceEvent{
		EventID:   uuid.New().String(),
		Type:      contracts.EventRequestExpired,
		EntityID:  requestID,
		Actor:     contracts.SystemActor,
		Timestamp: now,
	})
	c.save(ctx, req)
	return nil
}

// ExpiryNotifications warns requesters about temporary access ending
// within daysAhead days. Each request is warned at most once per day.
func (c *Coordinator) ExpiryNotifications(ctx context.Context, daysAhead int) {
	now := c.deps.Clock()
	horizon := now.AddDate(0, 0, daysAhead)
	upcoming := c.filter(func(r *contracts.AccessRequest) bool {
		return r.Status == contracts.RequestProvisioned &&
			r.ExpiresAt != nil && r.ExpiresAt.After(now) && !r.ExpiresAt.After(horizon)
	})
	if c.deps.Notifier == nil {
		return
	}
	for _, req := range upcoming {
		c.remindMu.Lock()
		last, warned := c.reminded[req.RequestID]
		if warned && now.Sub(last) < 24*time.Hour {
			c.remindMu.Unlock()
			continue
		}
		c.reminded[req.RequestID] = now
		c.remindMu.Unlock()

		body := fmt.Sprintf("Access granted by request %s expires on %s.",
			req.RequestID, req.ExpiresAt.Format("2006-01-02"))
		for _, recipient := range []string{req.RequesterID, req.TargetUserID} {
			if err := c.deps.Notifier.Notify(ctx, recipient, "Access expiring soon", body); err != nil {
				c.deps.Logger.Warn("expiry notification failed", "recipient", recipient, "error", err)
			}
		}
	}
}
