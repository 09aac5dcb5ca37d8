package permission

import (
	"slices"
	"strings"
	"time"
)

// Assignment binds a role to a user. Expired assignments stay in history but
// never contribute to effective permissions.
type Assignment struct {
	UserID     string     `json:"userId"`
	RoleID     string     `json:"roleId"`
	RoleName   string     `json:"roleName,omitempty"`
	AssignedAt time.Time  `json:"assignedAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	AssignedBy string     `json:"assignedBy,omitempty"`
	Reason     string     `json:"reason,omitempty"`
}

// Active reports whether the assignment is in force at now. An assignment
// expiring exactly at now is expired.
func (a Assignment) Active(now time.Time) bool {
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// ActiveAssignments filters assignments down to those in force at now.
func ActiveAssignments(assignments []Assignment, now time.Time) []Assignment {
	out := make([]Assignment, 0, len(assignments))
	for _, a := range assignments {
		if a.Active(now) {
			out = append(out, a)
		}
	}
	return out
}

// fingerprint identifies an active assignment set independent of order.
func fingerprint(active []Assignment) string {
	ids := make([]string, 0, len(active))
	for _, a := range active {
		ids = append(ids, a.RoleID)
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	return strings.Join(ids, ",")
}

// AssignmentChecker reports how many live assignments reference a role.
type AssignmentChecker interface {
	ActiveAssignmentCount(roleID string, now time.Time) int
}

// AssignmentCheckerFunc adapts a function to AssignmentChecker.
type AssignmentCheckerFunc func(roleID string, now time.Time) int

func (f AssignmentCheckerFunc) ActiveAssignmentCount(roleID string, now time.Time) int {
	return f(roleID, now)
}
