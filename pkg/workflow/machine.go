package workflow

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
	"github.com/Oversight-Labs/sentra/core/pkg/faults"
)

// Action is a workflow step action.
type Action string

const (
	ActionApprove     Action = "APPROVE"
	ActionReject      Action = "REJECT"
	ActionDelegate    Action = "DELEGATE"
	ActionEscalate    Action = "ESCALATE"
	ActionRequestInfo Action = "REQUEST_INFO"
)

// Notification is a pending human-facing message. The machine never
// sends; it returns notifications for the caller to flush after the
// transition commits.
type Notification struct {
	Recipient string
	Subject   string
	Body      string
}

// Effects collects the side-effects a committed transition produced.
type Effects struct {
	Notifications []Notification
	Events        []contracts.GovernanceEvent
}

func (e *Effects) notify(recipients []string, subject, body string) {
	for _, r := range recipients {
		e.Notifications = append(e.Notifications, Notification{Recipient: r, Subject: subject, Body: body})
	}
}

func (e *Effects) event(now time.Time, typ contracts.EventType, entityID, actor string, delta map[string]any) {
	e.Events = append(e.Events, contracts.GovernanceEvent{
		EventID:   uuid.New().String(),
		Type:      typ,
		EntityID:  entityID,
		Actor:     actor,
		Timestamp: now,
		Delta:     delta,
	})
}

// Machine applies workflow transitions to an access request. It mutates
// only the request passed in; callers serialize access per request id.
// Transitions never suspend.
type Machine struct {
	clock  contracts.Clock
	logger *slog.Logger
}

// NewMachine creates a state machine.
func NewMachine(clock contracts.Clock, logger *slog.Logger) *Machine {
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Machine{clock: clock, logger: logger}
}

// Submit stores the plan and moves the request from Draft to
// PendingApproval. The plan must be non-empty.
func (m *Machine) Submit(req *contracts.AccessRequest, steps []contracts.ApprovalStep) (*Effects, error) {
	if req.Status != contracts.RequestDraft {
		return nil, faults.New(faults.State, "request is %s, only Draft requests can be submitted", req.Status).Entity(req.RequestID)
	}
	if len(steps) == 0 {
		return nil, faults.New(faults.State, "approval plan is empty").Entity(req.RequestID)
	}

	now := m.clock()
	req.Steps = steps
	req.CurrentStep = 0
	req.Status = contracts.RequestPendingApproval
	req.SubmittedAt = &now
	req.UpdatedAt = now

	eff := &Effects{}
	eff.event(now, contracts.EventRequestSubmitted, req.RequestID, req.RequesterID, map[string]any{
		"steps":      len(steps),
		"risk_score": req.OverallRiskScore,
	})
	m.notifyStep(eff, req, 0)
	return eff, nil
}

// ProcessAction validates and applies one step action. On any error the
// request is left exactly as it was.
func (m *Machine) ProcessAction(req *contracts.AccessRequest, stepID string, action Action, actor, comments, delegateTo string) (*Effects, error) {
	if req.Status != contracts.RequestPendingApproval {
		return nil, faults.New(faults.State, "request is %s, not pending approval", req.Status).Entity(req.RequestID)
	}
	idx := -1
	for i := range req.Steps {
		if req.Steps[i].StepID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, faults.New(faults.NotFound, "step %s not found", stepID).Entity(req.RequestID)
	}
	if idx != req.CurrentStep {
		return nil, faults.New(faults.State, "step %d is not the current step (%d)", idx, req.CurrentStep).Entity(req.RequestID)
	}
	step := &req.Steps[idx]
	if step.Status.Terminal() {
		return nil, faults.New(faults.State, "step %q is already %s", step.Name, step.Status).Entity(req.RequestID)
	}

	now := m.clock()
	eff := &Effects{}

	// Escalation is guarded by overdue-ness, not by approver membership.
	if action == ActionEscalate {
		if err := m.escalate(req, step, delegateTo, now, eff); err != nil {
			return nil, err
		}
		m.recordAction(eff, req, step, action, actor, comments, now)
		req.UpdatedAt = now
		return eff, nil
	}

	if !step.HasApprover(actor) {
		return nil, faults.New(faults.PermissionDenied, "%s is not an approver of step %q", actor, step.Name).Entity(req.RequestID)
	}

	var err error
	switch action {
	case ActionApprove:
		err = m.approve(req, step, actor, comments, now, eff)
	case ActionReject:
		err = m.reject(req, step, actor, comments, now, eff)
	case ActionDelegate:
		err = m.delegate(req, step, actor, delegateTo, now, eff)
	case ActionRequestInfo:
		err = m.requestInfo(req, step, actor, comments, now, eff)
	default:
		err = faults.New(faults.Validation, "unknown action %q", action)
	}
	if err != nil {
		return nil, err
	}
	m.recordAction(eff, req, step, action, actor, comments, now)
	req.UpdatedAt = now
	return eff, nil
}

func (m *Machine) recordAction(eff *Effects, req *contracts.AccessRequest, step *contracts.ApprovalStep, action Action, actor, comments string, now time.Time) {
	eff.event(now, contracts.EventStepActioned, req.RequestID, actor, map[string]any{
		"step_id": step.StepID,
		"step":    step.Name,
		"action":  string(action),
	})
	if comments != "" && action != ActionRequestInfo {
		if step.Comments != "" {
			step.Comments += "\n"
		}
		step.Comments += fmt.Sprintf("[%s] %s", actor, comments)
	}
}

func (m *Machine) approve(req *contracts.AccessRequest, step *contracts.ApprovalStep, actor, comments string, now time.Time, eff *Effects) error {
	if len(step.Paths) > 0 {
		return m.approvePath(req, step, actor, now, eff)
	}

	if step.RequireAll {
		if containsStr(step.ApprovedBy, actor) {
			// Duplicate approval by the same actor is idempotent.
			return nil
		}
		step.ApprovedBy = append(step.ApprovedBy, actor)
		if !allApproved(step.ApproverIDs, step.ApprovedBy) {
			return nil
		}
	} else {
		step.ApprovedBy = append(step.ApprovedBy, actor)
	}

	m.completeStep(step, contracts.StepApproved, actor, now)
	return m.advance(req, now, eff)
}

func (m *Machine) approvePath(req *contracts.AccessRequest, step *contracts.ApprovalStep, actor string, now time.Time, eff *Effects) error {
	p := pathFor(step, actor)
	if p == nil {
		return faults.New(faults.PermissionDenied, "%s is not on any open path of step %q", actor, step.Name).Entity(req.RequestID)
	}
	if p.RequireAll {
		if containsStr(p.ApprovedBy, actor) {
			return nil
		}
		p.ApprovedBy = append(p.ApprovedBy, actor)
		if !allApproved(p.ApproverIDs, p.ApprovedBy) {
			return nil
		}
	} else {
		p.ApprovedBy = append(p.ApprovedBy, actor)
	}
	p.Status = contracts.StepApproved
	p.ActionBy = actor
	p.ActionAt = &now

	if !stageApproved(step) {
		return nil
	}
	m.completeStep(step, contracts.StepApproved, actor, now)
	return m.advance(req, now, eff)
}

func (m *Machine) reject(req *contracts.AccessRequest, step *contracts.ApprovalStep, actor, comments string, now time.Time, eff *Effects) error {
	if len(step.Paths) > 0 {
		p := pathFor(step, actor)
		if p == nil {
			return faults.New(faults.PermissionDenied, "%s is not on any open path of step %q", actor, step.Name).Entity(req.RequestID)
		}
		p.Status = contracts.StepRejected
		p.ActionBy = actor
		p.ActionAt = &now
		p.Comments = comments
		if !p.Required {
			// Closing an optional path may leave the stage approvable.
			if stageApproved(step) {
				m.completeStep(step, contracts.StepApproved, actor, now)
				return m.advance(req, now, eff)
			}
			return nil
		}
	}

	m.completeStep(step, contracts.StepRejected, actor, now)
	req.Status = contracts.RequestRejected
	req.DecisionBy = actor
	req.DecisionAt = &now
	req.DecisionComments = comments
	eff.event(now, contracts.EventRequestRejected, req.RequestID, actor, map[string]any{"step": step.Name})
	eff.notify([]string{req.RequesterID}, "Access request rejected",
		fmt.Sprintf("Request %s was rejected at step %q.", req.RequestID, step.Name))
	return nil
}

func (m *Machine) delegate(req *contracts.AccessRequest, step *contracts.ApprovalStep, actor, to string, now time.Time, eff *Effects) error {
	if to == "" {
		return faults.New(faults.Validation, "delegation target is empty").Entity(req.RequestID)
	}
	if len(step.Paths) > 0 {
		p := pathFor(step, actor)
		if p == nil {
			return faults.New(faults.PermissionDenied, "%s is not on any open path of step %q", actor, step.Name).Entity(req.RequestID)
		}
		p.ApproverIDs = []string{to}
		p.Status = contracts.StepPending
	} else {
		step.DelegatedFrom = append(step.DelegatedFrom, step.ApproverIDs...)
		step.ApproverIDs = []string{to}
		step.ApprovedBy = nil
		step.Status = contracts.StepPending
	}
	eff.notify([]string{to}, "Approval delegated to you",
		fmt.Sprintf("%s delegated step %q of request %s to you.", actor, step.Name, req.RequestID))
	return nil
}

func (m *Machine) escalate(req *contracts.AccessRequest, step *contracts.ApprovalStep, target string, now time.Time, eff *Effects) error {
	if !step.Overdue(now) {
		return faults.New(faults.State, "step %q is not overdue", step.Name).Entity(req.RequestID)
	}
	if step.EscalationTriggered {
		return faults.New(faults.State, "step %q is already escalated", step.Name).Entity(req.RequestID)
	}
	if target != "" && !step.HasApprover(target) {
		step.ApproverIDs = append(step.ApproverIDs, target)
		step.EscalatedTo = append(step.EscalatedTo, target)
		eff.notify([]string{target}, "Approval escalated to you",
			fmt.Sprintf("Step %q of request %s is overdue and has been escalated to you.", step.Name, req.RequestID))
	}
	step.EscalationTriggered = true
	return nil
}

func (m *Machine) requestInfo(req *contracts.AccessRequest, step *contracts.ApprovalStep, actor, comments string, now time.Time, eff *Effects) error {
	note := strings.TrimSpace(comments)
	annotated := "[INFO REQUESTED]"
	if note != "" {
		annotated += " " + note
	}
	if step.Comments != "" {
		step.Comments += "\n"
	}
	step.Comments += fmt.Sprintf("[%s] %s", actor, annotated)
	eff.notify([]string{req.RequesterID}, "Additional information requested",
		fmt.Sprintf("%s requested more information on request %s: %s", actor, req.RequestID, note))
	return nil
}

func (m *Machine) completeStep(step *contracts.ApprovalStep, status contracts.StepStatus, actor string, now time.Time) {
	step.Status = status
	step.ActionBy = actor
	step.ActionAt = &now
}

// advance moves the cursor after a step approval, or finishes the
// request when the approved step was the last one.
func (m *Machine) advance(req *contracts.AccessRequest, now time.Time, eff *Effects) error {
	if req.CurrentStep+1 >= len(req.Steps) {
		req.CurrentStep = len(req.Steps)
		req.Status = contracts.RequestApproved
		req.DecisionAt = &now
		eff.event(now, contracts.EventRequestApproved, req.RequestID, req.Steps[len(req.Steps)-1].ActionBy, nil)
		eff.notify([]string{req.RequesterID}, "Access request approved",
			fmt.Sprintf("Request %s is fully approved and queued for provisioning.", req.RequestID))
		return nil
	}
	req.CurrentStep++
	m.notifyStep(eff, req, req.CurrentStep)
	return nil
}

func (m *Machine) notifyStep(eff *Effects, req *contracts.AccessRequest, idx int) {
	step := &req.Steps[idx]
	recipients := step.ApproverIDs
	for i := range step.Paths {
		recipients = append(recipients, step.Paths[i].ApproverIDs...)
	}
	eff.notify(dedup(recipients), "Approval required",
		fmt.Sprintf("Request %s is waiting for your decision at step %q.", req.RequestID, step.Name))
}

// pathFor returns the first open path whose approver set contains actor.
func pathFor(step *contracts.ApprovalStep, actor string) *contracts.ApprovalPath {
	for i := range step.Paths {
		p := &step.Paths[i]
		if p.Status.Terminal() {
			continue
		}
		if containsStr(p.ApproverIDs, actor) {
			return p
		}
	}
	return nil
}

// stageApproved reports whether every required path has approved. A
// stage with only optional paths approves as soon as any path approves.
func stageApproved(step *contracts.ApprovalStep) bool {
	required := 0
	anyApproved := false
	for i := range step.Paths {
		p := &step.Paths[i]
		if p.Status == contracts.StepApproved {
			anyApproved = true
		}
		if p.Required {
			required++
			if p.Status != contracts.StepApproved {
				return false
			}
		}
	}
	if required == 0 {
		return anyApproved
	}
	return true
}

func allApproved(approvers, approved []string) bool {
	for _, a := range approvers {
		if !containsStr(approved, a) {
			return false
		}
	}
	return true
}
