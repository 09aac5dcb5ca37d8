package session

import (
	"slices"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
)

// Status is the lifecycle state of a user account.
type Status string

const (
	StatusActive    Status = "Active"
	StatusInactive  Status = "Inactive"
	StatusSuspended Status = "Suspended"
	StatusPending   Status = "Pending"
)

// User is the signed-in user as reported by the identity API.
type User struct {
	ID          string                  `json:"id"`
	Username    string                  `json:"username"`
	Email       string                  `json:"email"`
	DisplayName string                  `json:"displayName,omitempty"`
	Status      Status                  `json:"status"`
	Roles       []permission.Assignment `json:"roles"`
}

// Clone returns a deep copy of u.
func (u User) Clone() User {
	u.Roles = slices.Clone(u.Roles)
	for i := range u.Roles {
		if exp := u.Roles[i].ExpiresAt; exp != nil {
			t := *exp
			u.Roles[i].ExpiresAt = &t
		}
	}
	return u
}

// TokenPair is the access and refresh token issued for one session.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// Valid reports whether both tokens are present.
func (p TokenPair) Valid() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// State is an immutable view of the token store.
type State struct {
	Present    bool
	Tokens     TokenPair
	User       User
	Generation uint64
	Epoch      uint64
}

// Snapshot is the persisted form of a session.
type Snapshot struct {
	Tokens  TokenPair `json:"tokens"`
	User    User      `json:"user"`
	SavedAt time.Time `json:"savedAt"`
}
