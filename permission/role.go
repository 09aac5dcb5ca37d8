package permission

import (
	"slices"
	"time"
)

// RoleType classifies a role.
type RoleType string

const (
	RoleSystem         RoleType = "System"
	RoleCustom         RoleType = "Custom"
	RoleFunctional     RoleType = "Functional"
	RoleOrganizational RoleType = "Organizational"
)

// Role is a named bundle of permissions, optionally nested under a parent.
// A child inherits every permission of its ancestors.
type Role struct {
	ID             string    `json:"id"`
	Name           string    `json:"name" validate:"required,min=3,max=64,rolename"`
	DisplayName    string    `json:"displayName" validate:"required,max=128"`
	Description    string    `json:"description,omitempty" validate:"max=512"`
	Type           RoleType  `json:"roleType" validate:"required,oneof=System Custom Functional Organizational"`
	HierarchyLevel int       `json:"hierarchyLevel" validate:"gte=0,lte=100"`
	ParentRoleID   string    `json:"parentRoleId,omitempty"`
	Permissions    []string  `json:"permissions"`
	IsSystemRole   bool      `json:"isSystemRole"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// Clone returns a deep copy of r.
func (r Role) Clone() Role {
	r.Permissions = slices.Clone(r.Permissions)
	return r
}

// Grants reports whether the role itself (not its ancestors) grants name.
func (r Role) Grants(name string) bool {
	return slices.Contains(r.Permissions, name)
}

// RoleUpdate carries the mutable fields of a role. Nil fields are left
// unchanged; an empty ParentRoleID clears the parent. The name is
// immutable and therefore absent.
type RoleUpdate struct {
	DisplayName    *string   `json:"displayName,omitempty"`
	Description    *string   `json:"description,omitempty"`
	Type           *RoleType `json:"roleType,omitempty"`
	HierarchyLevel *int      `json:"hierarchyLevel,omitempty"`
	ParentRoleID   *string   `json:"parentRoleId,omitempty"`
}

// structural reports whether the update touches a field frozen on system roles.
func (u RoleUpdate) structural(current Role) (string, bool) {
	if u.Type != nil && *u.Type != current.Type {
		return "roleType", true
	}
	if u.HierarchyLevel != nil && *u.HierarchyLevel != current.HierarchyLevel {
		return "hierarchyLevel", true
	}
	if u.ParentRoleID != nil && *u.ParentRoleID != current.ParentRoleID {
		return "parentRoleId", true
	}
	return "", false
}

func (u RoleUpdate) apply(r Role) Role {
	if u.DisplayName != nil {
		r.DisplayName = *u.DisplayName
	}
	if u.Description != nil {
		r.Description = *u.Description
	}
	if u.Type != nil {
		r.Type = *u.Type
	}
	if u.HierarchyLevel != nil {
		r.HierarchyLevel = *u.HierarchyLevel
	}
	if u.ParentRoleID != nil {
		r.ParentRoleID = *u.ParentRoleID
	}
	return r
}
