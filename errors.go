package govauth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
)

var (
	ErrAuthentication = errors.New("authentication failed")
	ErrSessionExpired = errors.New("session expired")
	ErrAuthorization  = errors.New("access denied")

	ErrValidation = permission.ErrValidation
	ErrConflict   = permission.ErrConflict
	ErrCycle      = permission.ErrCycle

	ErrInvalidCredentials        = errors.New("invalid credentials")
	ErrTwoFactorInvalid          = errors.New("two-factor code invalid")
	ErrTwoFactorExpired          = errors.New("two-factor challenge expired")
	ErrTwoFactorAttemptsExceeded = errors.New("two-factor attempts exceeded")
	ErrNoTwoFactorPending        = errors.New("no two-factor challenge pending")
	ErrNotAuthenticated          = errors.New("not authenticated")
	ErrAlreadyAuthenticated      = errors.New("already authenticated")
	ErrLoginInProgress           = errors.New("login already in progress")
	ErrRequestNotReplayable      = errors.New("request body cannot be replayed")
	ErrPersistence               = errors.New("session persistence failed")
	ErrRemoteUnavailable         = errors.New("remote api unavailable")
	ErrClientClosed              = errors.New("client closed")

	ErrHierarchyTooDeep    = permission.ErrHierarchyTooDeep
	ErrRoleNotFound        = permission.ErrRoleNotFound
	ErrPermissionUnknown   = permission.ErrPermissionUnknown
	ErrSystemRoleImmutable = permission.ErrSystemRoleImmutable
	ErrRoleInUse           = permission.ErrRoleInUse
)

// ValidationError, ConflictError and CycleError are raised by the role
// registry and by the API's 400/422 and 409 answers.
type (
	ValidationError = permission.ValidationError
	ConflictError   = permission.ConflictError
	CycleError      = permission.CycleError
)

// AuthenticationError reports rejected credentials or a rejected second
// factor. RemainingAttempts is the number of codes still accepted for the
// pending challenge, or zero when no challenge is pending.
type AuthenticationError struct {
	Reason            error
	RemainingAttempts int
}

func (e *AuthenticationError) Error() string {
	if e.Reason == nil {
		return ErrAuthentication.Error()
	}
	if e.RemainingAttempts > 0 {
		return fmt.Sprintf("%s: %v (%d attempts left)", ErrAuthentication, e.Reason, e.RemainingAttempts)
	}
	return fmt.Sprintf("%s: %v", ErrAuthentication, e.Reason)
}

func (e *AuthenticationError) Unwrap() []error {
	return join(ErrAuthentication, e.Reason)
}

// SessionExpiredError reports that the refresh token was rejected or the
// refresh failed. The session is already torn down when callers see it.
type SessionExpiredError struct {
	Cause error
}

func (e *SessionExpiredError) Error() string {
	if e.Cause == nil {
		return ErrSessionExpired.Error()
	}
	return fmt.Sprintf("%s: %v", ErrSessionExpired, e.Cause)
}

func (e *SessionExpiredError) Unwrap() []error {
	return join(ErrSessionExpired, e.Cause)
}

// AuthorizationError reports a missing role or permission. It never ends
// the session.
type AuthorizationError struct {
	MissingPermissions []string
	RequiredRoles      []string
	Cause              error
}

func (e *AuthorizationError) Error() string {
	var parts []string
	if len(e.MissingPermissions) > 0 {
		parts = append(parts, "missing permissions "+strings.Join(e.MissingPermissions, ", "))
	}
	if len(e.RequiredRoles) > 0 {
		parts = append(parts, "requires one of roles "+strings.Join(e.RequiredRoles, ", "))
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}
	if len(parts) == 0 {
		return ErrAuthorization.Error()
	}
	return ErrAuthorization.Error() + ": " + strings.Join(parts, "; ")
}

func (e *AuthorizationError) Unwrap() []error {
	return join(ErrAuthorization, e.Cause)
}

func join(sentinel, cause error) []error {
	if cause == nil {
		return []error{sentinel}
	}
	return []error{sentinel, cause}
}
