package permission

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks a malformed role or permission edit.
	ErrValidation = errors.New("validation failed")
	// ErrConflict marks a write that collides with existing state.
	ErrConflict = errors.New("conflict")
	// ErrCycle marks a write that would make the role hierarchy cyclic.
	ErrCycle = errors.New("role hierarchy cycle")
	// ErrHierarchyTooDeep is returned when an ancestor chain exceeds the configured depth.
	ErrHierarchyTooDeep = errors.New("role hierarchy too deep")
	// ErrRoleNotFound is returned when a role id is not in the registry.
	ErrRoleNotFound = errors.New("role not found")
	// ErrParentNotFound is returned when a parent role reference does not resolve.
	ErrParentNotFound = errors.New("parent role not found")
	// ErrPermissionUnknown is returned for names outside the catalog.
	ErrPermissionUnknown = errors.New("permission not in catalog")
	// ErrSystemRoleImmutable is returned when a structural field of a system role is edited.
	ErrSystemRoleImmutable = errors.New("system role field is immutable")
	// ErrSystemPermission is returned when a system permission is revoked from a system role.
	ErrSystemPermission = errors.New("system permission cannot be revoked from a system role")
	// ErrRoleInUse is returned when deleting a role with active assignments.
	ErrRoleInUse = errors.New("role has active assignments")
	// ErrRoleHasChildren is returned when deleting a role that other roles inherit from.
	ErrRoleHasChildren = errors.New("role is the parent of other roles")
	// ErrCatalogFrozen is returned when registering into a frozen catalog.
	ErrCatalogFrozen = errors.New("catalog frozen")
	// ErrCatalogFull is returned when the catalog has no free bits.
	ErrCatalogFull = errors.New("permission limit exceeded")
	// ErrStaleChange is returned when a planned change no longer matches the registry.
	ErrStaleChange = errors.New("planned change is stale")
)

// ValidationError describes a rejected edit and the field that caused it.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation failed")
	if e.Field != "" {
		b.WriteString(": ")
		b.WriteString(e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrValidation}
	}
	return []error{ErrValidation, e.Err}
}

// ConflictError reports a uniqueness or reference conflict.
type ConflictError struct {
	Field string
	Value string
	Err   error
}

func (e *ConflictError) Error() string {
	msg := "conflict"
	if e.Field != "" {
		msg += ": " + e.Field
		if e.Value != "" {
			msg += " " + e.Value
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConflictError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Err}
}

// CycleError reports the ancestor chain that would have looped back to RoleID.
type CycleError struct {
	RoleID string
	Chain  []string
}

func (e *CycleError) Error() string {
	if len(e.Chain) == 0 {
		return "role hierarchy cycle at " + e.RoleID
	}
	return "role hierarchy cycle: " + strings.Join(e.Chain, " -> ")
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycle
}

func invalid(field, reason string, err error) error {
	return &ValidationError{Field: field, Reason: reason, Err: err}
}
