package contracts

// UserAccess is an immutable snapshot of one user's access state at the
// moment the entitlement source was read. Evaluations never mutate a
// snapshot; a change of access is represented by taking a new one.
type UserAccess struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name,omitempty"`
	Email    string `json:"email,omitempty"`

	Department  string `json:"department,omitempty"`
	CostCenter  string `json:"cost_center,omitempty"`
	CompanyCode string `json:"company_code,omitempty"`
	// UserType distinguishes employment classes, e.g. "EMPLOYEE",
	// "CONTRACTOR", "SERVICE".
	UserType string `json:"user_type,omitempty"`

	// Roles and Profiles are the named containers the entitlements came
	// from; rule exceptions match against them.
	Roles    []string `json:"roles,omitempty"`
	Profiles []string `json:"profiles,omitempty"`

	Entitlements []Entitlement `json:"entitlements"`

	// Attributes carries free-form context consumed by extension-kind
	// rule evaluators and supplementary org-filter conditions.
	Attributes map[string]any `json:"attributes,omitempty"`
}

// HasRole reports whether the snapshot carries the named role or profile.
func (u *UserAccess) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	for _, p := range u.Profiles {
		if p == role {
			return true
		}
	}
	return false
}

// WithExtraEntitlements returns a copy of the snapshot with additional
// grants appended. Used by the risk preview to build the "future" state
// without touching the current one.
func (u *UserAccess) WithExtraEntitlements(extra []Entitlement) *UserAccess {
	cp := *u
	cp.Entitlements = make([]Entitlement, 0, len(u.Entitlements)+len(extra))
	cp.Entitlements = append(cp.Entitlements, u.Entitlements...)
	cp.Entitlements = append(cp.Entitlements, extra...)
	return &cp
}
