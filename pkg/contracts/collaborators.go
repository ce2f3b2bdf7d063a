package contracts

import (
	"context"
	"time"
)

// Clock abstracts time for deterministic testing. All time-based
// predicates in the core read through it.
type Clock func() time.Time

// ScopeFilter narrows an entitlement-source user query.
type ScopeFilter struct {
	Systems     []string `json:"systems,omitempty"`
	Departments []string `json:"departments,omitempty"`
	UserTypes   []string `json:"user_types,omitempty"`
}

// FirefighterStatus describes the availability of an emergency-access id.
type FirefighterStatus struct {
	FirefighterID string     `json:"firefighter_id"`
	Available     bool       `json:"available"`
	Locked        bool       `json:"locked"`
	ValidTo       *time.Time `json:"valid_to,omitempty"`
	Owner         string     `json:"owner,omitempty"`
}

// EntitlementSource is the read interface to the external identity/ERP
// landscape. Implementations may be mocked, database-backed, or proxied
// to a remote system. Failures are tagged transient or permanent via the
// faults package.
type EntitlementSource interface {
	UsersInScope(ctx context.Context, filter ScopeFilter) ([]string, error)
	EntitlementsOf(ctx context.Context, userID string) ([]Entitlement, error)
	RolesOf(ctx context.Context, userID string) ([]string, error)
	// UserAccessOf assembles a full snapshot for one user.
	UserAccessOf(ctx context.Context, userID string) (*UserAccess, error)
	CheckFirefighterAvailability(ctx context.Context, ffID string) (*FirefighterStatus, error)
}

// UserResolver resolves organizational relationships for approver
// resolution. A lookup that finds nothing returns an empty result and a
// nil error; the caller applies the skip/fail policy.
type UserResolver interface {
	ManagerOf(ctx context.Context, userID string) (string, error)
	EmailOf(ctx context.Context, userID string) (string, error)
	NameOf(ctx context.Context, userID string) (string, error)
	RoleOwnerOf(ctx context.Context, roleID string) ([]string, error)
	DataOwnerOf(ctx context.Context, system string) ([]string, error)
	CostCenterOwnerOf(ctx context.Context, costCenter string) ([]string, error)
	// UsersWithFunction resolves a named approver pool (security, risk,
	// compliance, IT).
	UsersWithFunction(ctx context.Context, function ApproverType) ([]string, error)
}

// Notifier delivers human-facing notifications. Fire-and-log: the core
// never blocks a state transition on notification success.
type Notifier interface {
	Notify(ctx context.Context, recipient, subject, body string) error
}

// ProvisionResult is the provisioner's verdict for one call.
type ProvisionResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	// Permanent marks a failure that must not be retried.
	Permanent bool `json:"permanent,omitempty"`
}

// Provisioner applies approved access in the external system. Expected
// idempotent on requestID.
type Provisioner interface {
	Provision(ctx context.Context, requestID string, items []RequestedAccess) (*ProvisionResult, error)
	Revoke(ctx context.Context, requestID string) (*ProvisionResult, error)
}

// Persistence receives governance events and entity snapshots. The core
// does not own storage; it emits.
type Persistence interface {
	RecordEvent(ctx context.Context, ev *GovernanceEvent) error
	SaveRequest(ctx context.Context, req *AccessRequest) error
	SaveCampaign(ctx context.Context, c *CertificationCampaign) error
}
