package govauth

import (
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
)

type (
	User        = session.User
	UserStatus  = session.Status
	TokenPair   = session.TokenPair
	Assignment  = permission.Assignment
	Role        = permission.Role
	RoleUpdate  = permission.RoleUpdate
	RoleType    = permission.RoleType
	Permission  = permission.Permission
	Persister   = session.Persister
	RoleChange  = permission.Change
	Catalog     = permission.Catalog
	RoleCatalog = map[string][]permission.Permission
)

// Credentials is the input of [Client.Login]. TwoFactorCode may be sent on
// the first attempt when the user already has it.
type Credentials struct {
	Username      string
	Password      string
	TwoFactorCode string
}

// LoginResult defines a public type used by govauth APIs.
//
// Exactly one of User and Challenge is meaningful: a pending challenge
// means no session was established.
type LoginResult struct {
	User      User
	Challenge *TwoFactorChallenge
}

// TwoFactorPending reports whether the login stopped at a second factor.
func (r LoginResult) TwoFactorPending() bool {
	return r.Challenge != nil
}

// TwoFactorChallenge describes a login waiting for a second factor. The
// temporary token stays inside the client.
type TwoFactorChallenge struct {
	Username          string
	ExpiresAt         time.Time
	RemainingAttempts int
}

// Requirement is what a guarded action needs: at least one of AnyRoles (if
// any are listed) and every one of AllPermissions.
type Requirement struct {
	AnyRoles       []string
	AllPermissions []string
}

// Empty reports whether the requirement only asks for authentication.
func (r Requirement) Empty() bool {
	return len(r.AnyRoles) == 0 && len(r.AllPermissions) == 0
}

// RequirePermissions returns a requirement for every name.
func RequirePermissions(names ...string) Requirement {
	return Requirement{AllPermissions: names}
}

// RequireAnyRole returns a requirement for at least one of names.
func RequireAnyRole(names ...string) Requirement {
	return Requirement{AnyRoles: names}
}

// PermissionGrant is one effective permission with the roles granting it.
type PermissionGrant struct {
	Name      string   `json:"name"`
	GrantedBy []string `json:"grantedBy"`
}

// AccessSnapshot is an immutable view of the current user's access for UI
// rendering.
type AccessSnapshot struct {
	Authenticated bool              `json:"authenticated"`
	User          User              `json:"user"`
	Roles         []string          `json:"roles"`
	Permissions   []PermissionGrant `json:"permissions"`
	GraphVersion  uint64            `json:"graphVersion"`
	ComputedAt    time.Time         `json:"computedAt"`
}
