package contracts

import "time"

// RequestStatus is the workflow state of an access request.
type RequestStatus string

const (
	RequestDraft           RequestStatus = "DRAFT"
	RequestPendingApproval RequestStatus = "PENDING_APPROVAL"
	RequestApproved        RequestStatus = "APPROVED"
	RequestRejected        RequestStatus = "REJECTED"
	RequestProvisioning    RequestStatus = "PROVISIONING"
	RequestProvisioned     RequestStatus = "PROVISIONED"
	RequestFailed          RequestStatus = "FAILED"
	RequestExpired         RequestStatus = "EXPIRED"
)

// Terminal reports whether no further workflow action can move the
// request. Approved is not terminal: provisioning follows it.
func (s RequestStatus) Terminal() bool {
	switch s {
	case RequestRejected, RequestProvisioned, RequestFailed, RequestExpired:
		return true
	}
	return false
}

// RequestType classifies what is being asked for.
type RequestType string

const (
	RequestTypeNewAccess   RequestType = "NEW_ACCESS"
	RequestTypeRoleChange  RequestType = "ROLE_CHANGE"
	RequestTypeFirefighter RequestType = "FIREFIGHTER"
	RequestTypeRemoval     RequestType = "REMOVAL"
)

// RequestedAccess is one role or entitlement bundle being requested.
type RequestedAccess struct {
	// AccessID is the catalog identifier (role name or entitlement
	// bundle id).
	AccessID    string `json:"access_id"`
	AccessName  string `json:"access_name,omitempty"`
	System      string `json:"system"`
	Description string `json:"description,omitempty"`
	// Entitlements is the expansion of the catalog entry, used for risk
	// simulation.
	Entitlements []Entitlement `json:"entitlements,omitempty"`
	// FirefighterID is set for emergency-access items.
	FirefighterID string `json:"firefighter_id,omitempty"`
}

// StepStatus is the state of one approval step (or path).
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepApproved  StepStatus = "APPROVED"
	StepRejected  StepStatus = "REJECTED"
	StepSkipped   StepStatus = "SKIPPED"
	StepEscalated StepStatus = "ESCALATED"
)

// Terminal reports whether the step can no longer be actioned.
func (s StepStatus) Terminal() bool {
	return s == StepApproved || s == StepRejected || s == StepSkipped
}

// ApproverType selects how a step's approvers are resolved.
type ApproverType string

const (
	ApproverManager         ApproverType = "MANAGER"
	ApproverDataOwner       ApproverType = "DATA_OWNER"
	ApproverRoleOwner       ApproverType = "ROLE_OWNER"
	ApproverSecurity        ApproverType = "SECURITY"
	ApproverRisk            ApproverType = "RISK"
	ApproverCompliance      ApproverType = "COMPLIANCE"
	ApproverIT              ApproverType = "IT"
	ApproverCostCenterOwner ApproverType = "COST_CENTER_OWNER"
	ApproverSpecificUsers   ApproverType = "SPECIFIC_USERS"
)

// ApprovalPath is one parallel path within a step. A stage approves when
// every Required path approves; rejection on a Required path rejects the
// request, rejection on an optional path only closes that path.
type ApprovalPath struct {
	PathID      string       `json:"path_id"`
	Name        string       `json:"name,omitempty"`
	Type        ApproverType `json:"type"`
	ApproverIDs []string     `json:"approver_ids"`
	RequireAll  bool         `json:"require_all"`
	Required    bool         `json:"required"`
	Status      StepStatus   `json:"status"`
	ApprovedBy  []string     `json:"approved_by,omitempty"`
	ActionBy    string       `json:"action_by,omitempty"`
	ActionAt    *time.Time   `json:"action_at,omitempty"`
	Comments    string       `json:"comments,omitempty"`
}

// ApprovalStep is one ordered stage of the approval plan. A step with no
// Paths behaves as a single path described by the step's own fields.
type ApprovalStep struct {
	StepID string `json:"step_id"`
	Number int    `json:"number"`
	Name   string `json:"name"`

	Type        ApproverType `json:"type"`
	ApproverIDs []string     `json:"approver_ids"`
	// RequireAll demands every approver approve (vs. any one).
	RequireAll bool `json:"require_all"`

	// Paths, when non-empty, makes this a multi-path stage.
	Paths []ApprovalPath `json:"paths,omitempty"`

	Status     StepStatus `json:"status"`
	ApprovedBy []string   `json:"approved_by,omitempty"`

	SLAHours            int        `json:"sla_hours"`
	DueAt               time.Time  `json:"due_at"`
	EscalationTriggered bool       `json:"escalation_triggered"`
	EscalatedTo         []string   `json:"escalated_to,omitempty"`
	DelegatedFrom       []string   `json:"delegated_from,omitempty"`
	ActionBy            string     `json:"action_by,omitempty"`
	ActionAt            *time.Time `json:"action_at,omitempty"`
	Comments            string     `json:"comments,omitempty"`
}

// Overdue reports whether the step is pending past its due time.
func (s *ApprovalStep) Overdue(now time.Time) bool {
	return s.Status == StepPending && now.After(s.DueAt)
}

// HasApprover reports whether actor is in the step's current approver
// set, including any parallel path.
func (s *ApprovalStep) HasApprover(actor string) bool {
	for _, id := range s.ApproverIDs {
		if id == actor {
			return true
		}
	}
	for i := range s.Paths {
		for _, id := range s.Paths[i].ApproverIDs {
			if id == actor {
				return true
			}
		}
	}
	return false
}

// AccessRequest is the workflow entity driven by the coordinator and the
// workflow engine.
type AccessRequest struct {
	RequestID string      `json:"request_id"`
	Type      RequestType `json:"type"`
	Status    RequestStatus `json:"status"`

	RequesterID  string `json:"requester_id"`
	TargetUserID string `json:"target_user_id"`

	Items         []RequestedAccess `json:"items"`
	Justification string            `json:"justification"`

	IsTemporary     bool       `json:"is_temporary"`
	RequestedEndDate *time.Time `json:"requested_end_date,omitempty"`

	OverallRiskScore int             `json:"overall_risk_score"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	SoDViolations    []RiskViolation `json:"sod_violations,omitempty"`
	SensitiveFlags   []RiskViolation `json:"sensitive_flags,omitempty"`

	Steps       []ApprovalStep `json:"steps"`
	CurrentStep int            `json:"current_step"`

	DecisionBy       string     `json:"decision_by,omitempty"`
	DecisionAt       *time.Time `json:"decision_at,omitempty"`
	DecisionComments string     `json:"decision_comments,omitempty"`
	FailureReason    string     `json:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// HasSoDViolations reports whether the risk analysis flagged any SoD
// conflict on the request.
func (r *AccessRequest) HasSoDViolations() bool { return len(r.SoDViolations) > 0 }
