// Package faults defines the error taxonomy of the Sentra core. Every
// surfaced error carries a stable kind tag, a human-readable message,
// and, when applicable, the offending entity id. Violations are data,
// not errors.
package faults

import (
	"errors"
	"fmt"
)

// Kind is the stable taxonomy tag of a fault.
type Kind string

const (
	// Validation: malformed caller input (justification too short,
	// unknown role id). No state is mutated.
	Validation Kind = "VALIDATION"
	// NotFound: the referenced request/step/rule/campaign id is unknown.
	NotFound Kind = "NOT_FOUND"
	// PermissionDenied: the actor is not in the step's approver set.
	PermissionDenied Kind = "PERMISSION_DENIED"
	// State: the action is illegal in the entity's current state.
	State Kind = "STATE"
	// TransientExternal: a collaborator failed in a retryable way.
	TransientExternal Kind = "TRANSIENT_EXTERNAL"
	// PermanentExternal: a collaborator failed definitively.
	PermanentExternal Kind = "PERMANENT_EXTERNAL"
	// Fatal: malformed rule at load time or an invariant violation.
	Fatal Kind = "FATAL"
)

// Fault is the concrete error type of the core.
type Fault struct {
	Kind     Kind
	Message  string
	EntityID string
	Err      error
}

func (f *Fault) Error() string {
	msg := fmt.Sprintf("%s: %s", f.Kind, f.Message)
	if f.EntityID != "" {
		msg += fmt.Sprintf(" (entity=%s)", f.EntityID)
	}
	if f.Err != nil {
		msg += ": " + f.Err.Error()
	}
	return msg
}

func (f *Fault) Unwrap() error { return f.Err }

// Is lets errors.Is match on the kind: errors.Is(err, &Fault{Kind: NotFound}).
func (f *Fault) Is(target error) bool {
	var t *Fault
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == f.Kind
}

// New creates a fault with a formatted message.
func New(kind Kind, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Entity attaches the offending entity id.
func (f *Fault) Entity(id string) *Fault {
	f.EntityID = id
	return f
}

// Wrap creates a fault around an underlying error.
func Wrap(kind Kind, err error, format string, args ...any) *Fault {
	return &Fault{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or empty when err is not a Fault.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// IsKind reports whether err is a Fault of the given kind.
func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// IsTransient reports whether err may be retried.
func IsTransient(err error) bool { return IsKind(err, TransientExternal) }
