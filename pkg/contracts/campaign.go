package contracts

import "time"

// CampaignStatus is the lifecycle state of a certification campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "DRAFT"
	CampaignScheduled CampaignStatus = "SCHEDULED"
	CampaignActive    CampaignStatus = "ACTIVE"
	CampaignInReview  CampaignStatus = "IN_REVIEW"
	CampaignCompleted CampaignStatus = "COMPLETED"
	CampaignCancelled CampaignStatus = "CANCELLED"
)

// CampaignType selects how review items are enumerated.
type CampaignType string

const (
	CampaignUserAccess      CampaignType = "USER_ACCESS"
	CampaignRoleMembership  CampaignType = "ROLE_MEMBERSHIP"
	CampaignSensitiveAccess CampaignType = "SENSITIVE_ACCESS"
	CampaignSoDViolations   CampaignType = "SOD_VIOLATIONS"
	CampaignManager         CampaignType = "MANAGER_CERTIFICATION"
)

// CertDecision is a reviewer's verdict on one item.
type CertDecision string

const (
	DecisionCertify  CertDecision = "CERTIFY"
	DecisionRevoke   CertDecision = "REVOKE"
	DecisionModify   CertDecision = "MODIFY"
	DecisionDelegate CertDecision = "DELEGATE"
	DecisionSkip     CertDecision = "SKIP"
)

// CampaignScope restricts which user/access pairs enter the campaign.
type CampaignScope struct {
	Systems       []string `json:"systems,omitempty"`
	Departments   []string `json:"departments,omitempty"`
	RiskThreshold int      `json:"risk_threshold,omitempty"`
	SoDOnly       bool     `json:"sod_only,omitempty"`
}

// ReviewerMode selects who reviews the items of a campaign.
type ReviewerMode string

const (
	// ReviewByManager assigns each item to the target user's manager.
	ReviewByManager ReviewerMode = "MANAGER"
	// ReviewByRoleOwner assigns each item to the owner of its role.
	ReviewByRoleOwner ReviewerMode = "ROLE_OWNER"
	// ReviewByNamed distributes items round-robin over NamedReviewers.
	ReviewByNamed ReviewerMode = "NAMED"
)

// CampaignConfig tunes campaign behavior.
type CampaignConfig struct {
	AllowDelegation       bool  `json:"allow_delegation"`
	RequireCommentsRevoke bool  `json:"require_comments_for_revoke"`
	AutoRevokeOnTimeout   bool  `json:"auto_revoke_on_timeout"`
	ReminderDays          []int `json:"reminder_days,omitempty"`
	MaxItemsPerReviewer   int   `json:"max_items_per_reviewer,omitempty"`
	// FallbackReviewerID receives overflow items when a reviewer hits
	// the per-reviewer cap, and items whose reviewer cannot be resolved.
	FallbackReviewerID string `json:"fallback_reviewer_id,omitempty"`

	// ReviewerMode defaults to ReviewByManager when empty.
	ReviewerMode   ReviewerMode `json:"reviewer_mode,omitempty"`
	NamedReviewers []string     `json:"named_reviewers,omitempty"`
}

// UsageSummary is the evidence attached to a review item.
type UsageSummary struct {
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	UseCount90d int        `json:"use_count_90d,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// CertificationItem is one user/access pair under review.
type CertificationItem struct {
	ItemID     string `json:"item_id"`
	CampaignID string `json:"campaign_id"`

	UserID    string `json:"user_id"`
	UserName  string `json:"user_name,omitempty"`
	AccessID  string `json:"access_id"`
	AccessName string `json:"access_name,omitempty"`
	System    string `json:"system,omitempty"`
	// ManagerID groups items for MANAGER_CERTIFICATION campaigns.
	ManagerID string `json:"manager_id,omitempty"`

	GrantedAt *time.Time   `json:"granted_at,omitempty"`
	Usage     UsageSummary `json:"usage"`

	RiskScore       int  `json:"risk_score"`
	HasSoDViolation bool `json:"has_sod_violation"`

	ReviewerID  string `json:"reviewer_id"`
	DelegatedTo string `json:"delegated_to,omitempty"`

	Decision    CertDecision `json:"decision,omitempty"`
	DecisionBy  string       `json:"decision_by,omitempty"`
	DecisionAt  *time.Time   `json:"decision_at,omitempty"`
	Comments    string       `json:"comments,omitempty"`
	IsCompleted bool         `json:"is_completed"`
	IsOverdue   bool         `json:"is_overdue"`
}

// CurrentReviewer is the delegate when one is set, else the assigned
// reviewer.
func (i *CertificationItem) CurrentReviewer() string {
	if i.DelegatedTo != "" {
		return i.DelegatedTo
	}
	return i.ReviewerID
}

// CertificationCampaign is a time-boxed batch of access reviews.
type CertificationCampaign struct {
	CampaignID  string         `json:"campaign_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        CampaignType   `json:"type"`
	Status      CampaignStatus `json:"status"`

	Scope  CampaignScope  `json:"scope"`
	Config CampaignConfig `json:"config"`

	Items          []CertificationItem `json:"items"`
	CompletedItems int                 `json:"completed_items"`
	RevokedItems   int                 `json:"revoked_items"`

	StartAt time.Time `json:"start_at"`
	DueAt   time.Time `json:"due_at"`

	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
