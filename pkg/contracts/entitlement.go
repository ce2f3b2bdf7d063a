// Package contracts defines the canonical data model shared by the Sentra
// GRC core: entitlements, risk rules, violations, access requests,
// certification campaigns, and the collaborator interfaces the core
// depends on but does not own.
package contracts

// Wildcard is the value that matches any concrete value on the opposite
// side of an entitlement comparison.
const Wildcard = "*"

// Entitlement is the atomic authorization unit: a single granted value of
// a single field of an authorization object in one external system.
type Entitlement struct {
	// AuthObject is the namespace identifier, e.g. a transaction class
	// such as "S_TCODE".
	AuthObject string `json:"auth_object"`
	// Field is the dimension name within the authorization object.
	Field string `json:"field"`
	// Value is the granted value. "*" denotes a wildcard grant.
	Value string `json:"value"`
	// Activity optionally narrows the grant (e.g. "01" create, "03" display).
	// Empty means any activity.
	Activity string `json:"activity,omitempty"`
	// System identifies the external system the grant lives in.
	System string `json:"system,omitempty"`
}

// Equal reports whether two entitlements are identical on all five
// dimensions. Wildcard semantics are deliberately not applied here; see
// Matches.
func (e Entitlement) Equal(o Entitlement) bool {
	return e.AuthObject == o.AuthObject &&
		e.Field == o.Field &&
		e.Value == o.Value &&
		e.Activity == o.Activity &&
		e.System == o.System
}

// Matches reports whether a rule-side entitlement is satisfied by a
// user-side grant. A "*" on either side matches any value for the same
// (authObject, field). Activity must match exactly unless either side
// leaves it unset.
func (e Entitlement) Matches(grant Entitlement) bool {
	if e.AuthObject != grant.AuthObject || e.Field != grant.Field {
		return false
	}
	if e.Value != Wildcard && grant.Value != Wildcard && e.Value != grant.Value {
		return false
	}
	if e.Activity != "" && grant.Activity != "" && e.Activity != grant.Activity {
		return false
	}
	if e.System != "" && grant.System != "" && e.System != grant.System {
		return false
	}
	return true
}

// Permission is a named bundle of entitlements representing one
// business-level action. A user holds the permission iff every
// entitlement in the bundle is present in the user's grant set.
type Permission struct {
	Name         string        `json:"name"`
	Description  string        `json:"description,omitempty"`
	Entitlements []Entitlement `json:"entitlements"`
}

// ConflictSet names two disjoint business functions that must not be
// held together. The conflict fires iff the user holds every entitlement
// of function A and every entitlement of function B.
type ConflictSet struct {
	Name string `json:"name"`

	FunctionAName         string        `json:"function_a_name"`
	FunctionAEntitlements []Entitlement `json:"function_a_entitlements"`

	FunctionBName         string        `json:"function_b_name"`
	FunctionBEntitlements []Entitlement `json:"function_b_entitlements"`
}
