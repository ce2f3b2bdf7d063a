package ruleengine

import (
	"time"

	"github.com/Oversight-Labs/sentra/core/pkg/contracts"
)

// listMatches applies wildcard list semantics: an empty list or a "*"
// entry matches everything; otherwise the value must appear literally.
func listMatches(list []string, value string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == contracts.Wildcard || v == value {
			return true
		}
	}
	return false
}

// applies evaluates the rule's applicability predicate against the user
// snapshot, short-circuiting on the first mismatch. Unknown user
// attributes are treated as non-matching, never as errors.
func applies(r *contracts.RiskRule, user *contracts.UserAccess, now time.Time) bool {
	if !r.Enabled {
		return false
	}
	if !r.InEffect(now) {
		return false
	}
	if !listMatches(r.AppliesTo.Departments, user.Department) {
		return false
	}
	if !listMatches(r.AppliesTo.UserTypes, user.UserType) {
		return false
	}
	if len(r.AppliesTo.Systems) > 0 && !userTouchesSystems(user, r.AppliesTo.Systems) {
		return false
	}
	for _, excluded := range r.Exceptions.Users {
		if excluded == user.UserID {
			return false
		}
	}
	for _, role := range r.Exceptions.Roles {
		if user.HasRole(role) {
			return false
		}
	}
	return true
}

// userTouchesSystems reports whether any of the user's grants live in
// one of the listed systems. Grants with no system set count as
// matching, so that system-scoped rules still see source data that does
// not tag systems.
func userTouchesSystems(user *contracts.UserAccess, systems []string) bool {
	for _, e := range user.Entitlements {
		if e.System == "" || listMatches(systems, e.System) {
			return true
		}
	}
	return false
}
