// Package accesserr defines the error taxonomy shared by every gatekeeper
// component. Callers match on kinds with errors.Is and read the attached
// context (role, department, right) without re-querying the engine.
package accesserr

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds
var (
	ErrUnknownAccessRight          = errors.New("unknown access right")
	ErrCyclicRoleInheritance       = errors.New("cyclic role inheritance")
	ErrImmutableRole               = errors.New("immutable role")
	ErrRoleHasActiveHolders        = errors.New("role has active holders")
	ErrCorruptHierarchy            = errors.New("corrupt department hierarchy")
	ErrInvalidEscalationCredential = errors.New("invalid escalation credential")
	ErrInsufficientPrivilege       = errors.New("insufficient privilege")
	ErrNotAMember                  = errors.New("not a member of department")
	ErrStoreUnavailable            = errors.New("store unavailable")

	ErrRoleNotFound         = errors.New("role not found")
	ErrInvalidRole          = errors.New("invalid role definition")
	ErrRoleInherited        = errors.New("role is inherited by another role")
	ErrDepartmentNotFound   = errors.New("department not found")
	ErrUnrelatedDepartments = errors.New("departments are not on one path")
	ErrIllegalTransition    = errors.New("illegal session transition")
	ErrInvalidCatalog       = errors.New("invalid access right catalog")
)

var kinds = []error{
	ErrUnknownAccessRight,
	ErrCyclicRoleInheritance,
	ErrImmutableRole,
	ErrRoleHasActiveHolders,
	ErrCorruptHierarchy,
	ErrInvalidEscalationCredential,
	ErrInsufficientPrivilege,
	ErrNotAMember,
	ErrStoreUnavailable,
	ErrRoleNotFound,
	ErrInvalidRole,
	ErrRoleInherited,
	ErrDepartmentNotFound,
	ErrUnrelatedDepartments,
	ErrIllegalTransition,
	ErrInvalidCatalog,
}

// Error is a classified engine error carrying the context needed to log or
// display it.
type Error struct {
	Kind       error
	Op         string
	Role       string
	Department string
	Right      string
	UserID     string
	Holders    int
	Detail     string
	Err        error
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("access error")
	}

	var attrs []string
	if e.Role != "" {
		attrs = append(attrs, "role="+e.Role)
	}
	if e.Department != "" {
		attrs = append(attrs, "department="+e.Department)
	}
	if e.Right != "" {
		attrs = append(attrs, "right="+e.Right)
	}
	if e.UserID != "" {
		attrs = append(attrs, "user="+e.UserID)
	}
	if e.Holders > 0 {
		attrs = append(attrs, fmt.Sprintf("holders=%d", e.Holders))
	}
	if len(attrs) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(attrs, ", "))
		b.WriteString(")")
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the kind of this error.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && target == e.Kind
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an error of the given kind for an operation.
func New(kind error, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// WithRole sets the role context
func (e *Error) WithRole(role string) *Error {
	e.Role = role
	return e
}

// WithDepartment sets the department context
func (e *Error) WithDepartment(dept string) *Error {
	e.Department = dept
	return e
}

// WithRight sets the access right context
func (e *Error) WithRight(right string) *Error {
	e.Right = right
	return e
}

// WithUser sets the user context
func (e *Error) WithUser(userID string) *Error {
	e.UserID = userID
	return e
}

// WithDetail adds a human readable detail
func (e *Error) WithDetail(format string, args ...interface{}) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap sets the underlying cause
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

// Unavailable wraps a persistence collaborator failure. Errors that are
// already classified pass through unchanged.
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return New(ErrStoreUnavailable, op).Wrap(err)
}

// KindOf returns the kind of a classified error, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, kind := range kinds {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Label returns a short metric-friendly label for an error.
func Label(err error) string {
	kind := KindOf(err)
	switch {
	case err == nil:
		return "ok"
	case kind == nil:
		return "internal"
	default:
		return strings.ReplaceAll(kind.Error(), " ", "_")
	}
}
