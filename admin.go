package govauth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/remote"
	"github.com/sirupsen/logrus"
)

// Guard runs fn only if the signed-in user satisfies req. A denial is
// returned as *AuthorizationError (or ErrNotAuthenticated) and fn is not
// called.
func (c *Client) Guard(ctx context.Context, req Requirement, fn func(context.Context) error) error {
	if err := c.authorize(ctx, "guard", req); err != nil {
		return err
	}
	return fn(ctx)
}

func (c *Client) authorize(ctx context.Context, action string, req Requirement) error {
	err := c.gate.Check(req)
	if err == nil {
		return nil
	}
	var denied *AuthorizationError
	if errors.As(err, &denied) {
		c.metrics.Inc(metrics.AccessDenied)
		c.emitAudit(ctx, AuditAccessDenied, false, "", err, map[string]string{
			"action":  action,
			"missing": strings.Join(denied.MissingPermissions, ","),
		})
	}
	return err
}

// rejected counts a role write refused before reaching the API.
func (c *Client) rejected(action string, err error) error {
	c.metrics.Inc(metrics.RoleWriteRejected)
	if errors.Is(err, ErrCycle) {
		c.metrics.Inc(metrics.CycleRejected)
	}
	c.logger.WithField("action", action).WithError(err).Debug("govauth: role write rejected locally")
	return err
}

// remoteError maps an API failure onto the error taxonomy.
func (c *Client) remoteError(action string, err error) error {
	var se *remote.StatusError
	errors.As(err, &se)

	switch {
	case errors.Is(err, ErrNotAuthenticated), errors.Is(err, ErrSessionExpired):
		return unwrapSessionError(err)
	case errors.Is(err, ErrRequestNotReplayable):
		return fmt.Errorf("%s: %w", action, ErrRequestNotReplayable)
	case errors.Is(err, remote.ErrUnauthorized):
		// The request was already replayed once with fresh tokens.
		if st := c.tokens.Current(); st.Present {
			return c.expireSession(st.Generation, st.User.ID, err)
		}
		return &SessionExpiredError{Cause: err}
	case errors.Is(err, remote.ErrForbidden):
		c.metrics.Inc(metrics.AccessDenied)
		return &AuthorizationError{Cause: err}
	case errors.Is(err, remote.ErrConflict):
		ce := &ConflictError{Field: action, Err: err}
		if se != nil {
			ce.Value = se.Message
		}
		return ce
	case errors.Is(err, remote.ErrBadRequest):
		ve := &ValidationError{Field: action, Err: err}
		if se != nil {
			if se.Code != "" {
				ve.Field = se.Code
			}
			ve.Reason = se.Message
		}
		return ve
	case errors.Is(err, remote.ErrTransport):
		return fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	return fmt.Errorf("%s: %w", action, err)
}

// unwrapSessionError strips transport wrapping from errors raised by the
// authorized transport.
func unwrapSessionError(err error) error {
	var expired *SessionExpiredError
	if errors.As(err, &expired) {
		return expired
	}
	return ErrNotAuthenticated
}

/*
====================================
ROLES
====================================
*/

// CreateRole requires role.create. The role is validated against the
// registry first; only a valid role is sent to the API, and the server's
// copy is committed locally.
func (c *Client) CreateRole(ctx context.Context, role Role) (Role, error) {
	if err := c.authorize(ctx, "role.create", RequirePermissions(permission.RoleCreate)); err != nil {
		return Role{}, err
	}
	plan, err := c.registry.PlanCreate(role)
	if err != nil {
		return Role{}, c.rejected("role.create", err)
	}

	body := plan.After.Clone()
	body.ID = role.ID
	server, err := c.api.CreateRole(ctx, body)
	if err != nil {
		return Role{}, c.remoteError("role.create", err)
	}
	if server.ID != "" {
		plan.After = &server
	}
	applied, err := c.registry.Apply(plan)
	if err != nil {
		return Role{}, c.applyFailed("role.create", err)
	}
	c.emitAudit(ctx, AuditRoleCreated, true, "", nil, map[string]string{"role_id": applied.RoleID, "role": applied.After.Name})
	return applied.After.Clone(), nil
}

// UpdateRole requires role.update. System roles accept only display name
// and description edits.
func (c *Client) UpdateRole(ctx context.Context, id string, upd RoleUpdate) (Role, error) {
	if err := c.authorize(ctx, "role.update", RequirePermissions(permission.RoleEdit)); err != nil {
		return Role{}, err
	}
	plan, err := c.registry.PlanUpdate(id, upd)
	if err != nil {
		return Role{}, c.rejected("role.update", err)
	}

	server, err := c.api.UpdateRole(ctx, plan.After.Clone())
	if err != nil {
		return Role{}, c.remoteError("role.update", err)
	}
	if server.ID != "" {
		plan.After = &server
	}
	applied, err := c.registry.Apply(plan)
	if err != nil {
		return Role{}, c.applyFailed("role.update", err)
	}
	c.emitAudit(ctx, AuditRoleUpdated, true, "", nil, map[string]string{"role_id": id, "role": applied.After.Name})
	return applied.After.Clone(), nil
}

// DeleteRole requires role.delete. Roles that are system roles, have child
// roles, or are still actively assigned to a known user are refused.
func (c *Client) DeleteRole(ctx context.Context, id string) error {
	if err := c.authorize(ctx, "role.delete", RequirePermissions(permission.RoleDelete)); err != nil {
		return err
	}
	plan, err := c.registry.PlanDelete(id, c.assignment)
	if err != nil {
		return c.rejected("role.delete", err)
	}

	if err := c.api.DeleteRole(ctx, id); err != nil {
		return c.remoteError("role.delete", err)
	}
	if _, err := c.registry.Apply(plan); err != nil {
		return c.applyFailed("role.delete", err)
	}
	c.emitAudit(ctx, AuditRoleDeleted, true, "", nil, map[string]string{"role_id": id, "role": plan.Before.Name})
	return nil
}

// GrantRolePermissions requires role.permissions.manage. Every name must be
// in the catalog.
func (c *Client) GrantRolePermissions(ctx context.Context, roleID string, names ...string) (Role, error) {
	if err := c.authorize(ctx, "role.grant", RequirePermissions(permission.RolePermissionsManage)); err != nil {
		return Role{}, err
	}
	plan, err := c.registry.PlanGrant(roleID, names...)
	if err != nil {
		return Role{}, c.rejected("role.grant", err)
	}

	if err := c.api.GrantRolePermissions(ctx, roleID, c.permissionIDs(names)); err != nil {
		return Role{}, c.remoteError("role.grant", err)
	}
	applied, err := c.registry.Apply(plan)
	if err != nil {
		return Role{}, c.applyFailed("role.grant", err)
	}
	c.emitAudit(ctx, AuditRolePermissionsGranted, true, "", nil, map[string]string{"role_id": roleID, "permissions": strings.Join(names, ",")})
	return applied.After.Clone(), nil
}

// RevokeRolePermission requires role.permissions.manage. A system
// permission cannot be revoked from a system role.
func (c *Client) RevokeRolePermission(ctx context.Context, roleID, name string) (Role, error) {
	if err := c.authorize(ctx, "role.revoke", RequirePermissions(permission.RolePermissionsManage)); err != nil {
		return Role{}, err
	}
	plan, err := c.registry.PlanRevoke(roleID, name)
	if err != nil {
		return Role{}, c.rejected("role.revoke", err)
	}

	if err := c.api.RevokeRolePermission(ctx, roleID, c.permissionID(name)); err != nil {
		return Role{}, c.remoteError("role.revoke", err)
	}
	applied, err := c.registry.Apply(plan)
	if err != nil {
		return Role{}, c.applyFailed("role.revoke", err)
	}
	c.emitAudit(ctx, AuditRolePermissionRevoked, true, "", nil, map[string]string{"role_id": roleID, "permission": name})
	return applied.After.Clone(), nil
}

// SyncRoles requires role.read and replaces the registry with the API's
// role list. A list that would break the hierarchy is refused as a whole.
func (c *Client) SyncRoles(ctx context.Context) error {
	if err := c.authorize(ctx, "role.sync", RequirePermissions(permission.RoleRead)); err != nil {
		return err
	}
	roles, err := c.api.ListRoles(ctx)
	if err != nil {
		return c.remoteError("role.sync", err)
	}
	if err := c.registry.Replace(roles); err != nil {
		c.logger.WithError(err).Warn("govauth: server role list rejected")
		return c.rejected("role.sync", err)
	}
	c.emitAudit(ctx, AuditRolesSynced, true, "", nil, map[string]string{"roles": fmt.Sprint(len(roles))})
	return nil
}

// SyncCatalog requires permission.read and swaps in the API's permission
// catalog.
func (c *Client) SyncCatalog(ctx context.Context) error {
	if err := c.authorize(ctx, "permission.sync", RequirePermissions(permission.PermissionRead)); err != nil {
		return err
	}
	groups, err := c.api.PermissionCatalog(ctx)
	if err != nil {
		return c.remoteError("permission.sync", err)
	}
	catalog, err := permission.CatalogFromGroups(c.config.Permission.MaxBits, groups)
	if err != nil {
		return fmt.Errorf("permission catalog: %w", err)
	}
	c.registry.SetCatalog(catalog)
	c.emitAudit(ctx, AuditCatalogSynced, true, "", nil, map[string]string{"permissions": fmt.Sprint(catalog.Count())})
	return nil
}

func (c *Client) applyFailed(action string, err error) error {
	c.logger.WithField("action", action).WithError(err).
		Warn("govauth: server accepted a change the local registry refused; resync roles")
	return fmt.Errorf("%s: apply server result: %w", action, err)
}

func (c *Client) permissionID(name string) string {
	if p, ok := c.registry.Catalog().Lookup(name); ok && p.ID != "" {
		return p.ID
	}
	return name
}

func (c *Client) permissionIDs(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, c.permissionID(n))
	}
	return out
}

/*
====================================
USER ROLE ASSIGNMENTS
====================================
*/

// UserRoles requires user.read and returns the user's assignments,
// including expired ones.
func (c *Client) UserRoles(ctx context.Context, userID string) ([]Assignment, error) {
	if err := c.authorize(ctx, "user.roles.read", RequirePermissions(permission.UserRead)); err != nil {
		return nil, err
	}
	out, err := c.api.UserRoles(ctx, userID)
	if err != nil {
		return nil, c.remoteError("user.roles.read", err)
	}
	c.assignment.set(userID, out)
	return out, nil
}

// AssignUserRoles requires user.roles.assign. reason is recorded in the
// audit trail and must not be blank.
func (c *Client) AssignUserRoles(ctx context.Context, userID string, roleIDs []string, reason string) error {
	if err := c.authorize(ctx, "user.roles.assign", RequirePermissions(permission.UserRolesAssign)); err != nil {
		return err
	}
	if err := c.checkAssignment(userID, roleIDs, reason); err != nil {
		return c.rejected("user.roles.assign", err)
	}
	if err := c.api.AssignUserRoles(ctx, userID, roleIDs, reason); err != nil {
		return c.remoteError("user.roles.assign", err)
	}

	actor, _ := c.CurrentUser()
	now := c.now()
	c.refreshAssignments(ctx, userID, func(cur []Assignment) []Assignment {
		for _, id := range roleIDs {
			if slices.ContainsFunc(cur, func(a Assignment) bool { return a.RoleID == id && a.Active(now) }) {
				continue
			}
			role, _ := c.registry.Get(id)
			cur = append(cur, Assignment{UserID: userID, RoleID: id, RoleName: role.Name, AssignedAt: now, AssignedBy: actor.ID, Reason: reason})
		}
		return cur
	})
	c.emitAudit(ctx, AuditUserRolesAssigned, true, userID, nil, map[string]string{"roles": strings.Join(roleIDs, ","), "reason": reason})
	return nil
}

// RevokeUserRole requires user.roles.assign. reason must not be blank.
func (c *Client) RevokeUserRole(ctx context.Context, userID, roleID, reason string) error {
	if err := c.authorize(ctx, "user.roles.revoke", RequirePermissions(permission.UserRolesAssign)); err != nil {
		return err
	}
	if err := c.checkAssignment(userID, []string{roleID}, reason); err != nil {
		return c.rejected("user.roles.revoke", err)
	}
	if err := c.api.RevokeUserRole(ctx, userID, roleID, reason); err != nil {
		return c.remoteError("user.roles.revoke", err)
	}

	c.refreshAssignments(ctx, userID, func(cur []Assignment) []Assignment {
		return slices.DeleteFunc(cur, func(a Assignment) bool { return a.RoleID == roleID })
	})
	c.emitAudit(ctx, AuditUserRoleRevoked, true, userID, nil, map[string]string{"role_id": roleID, "reason": reason})
	return nil
}

func (c *Client) checkAssignment(userID string, roleIDs []string, reason string) error {
	if strings.TrimSpace(userID) == "" {
		return &ValidationError{Field: "userId", Reason: "is required"}
	}
	if len(roleIDs) == 0 {
		return &ValidationError{Field: "roleIds", Reason: "at least one role is required"}
	}
	if strings.TrimSpace(reason) == "" {
		return &ValidationError{Field: "reason", Reason: "is required"}
	}
	for _, id := range roleIDs {
		if _, ok := c.registry.Get(id); !ok {
			return &ValidationError{Field: "roleIds", Reason: "unknown role " + id, Err: ErrRoleNotFound}
		}
	}
	return nil
}

// refreshAssignments re-reads userID's assignments from the API, falling
// back to patching the last known list, and pushes the result into the
// token store when userID is the signed-in user.
func (c *Client) refreshAssignments(ctx context.Context, userID string, patch func([]Assignment) []Assignment) {
	next, err := c.api.UserRoles(ctx, userID)
	if err != nil {
		c.logger.WithFields(logrus.Fields{"user_id": userID}).WithError(err).
			Warn("govauth: assignment re-read failed, patching locally")
		next = patch(slices.Clone(c.assignment.get(userID)))
	}
	c.assignment.set(userID, next)

	st := c.tokens.Current()
	if !st.Present || st.User.ID != userID {
		return
	}
	user := st.User.Clone()
	user.Roles = next
	if _, _, err := c.tokens.UpdateUser(ctx, st.Epoch, user); err != nil {
		c.metrics.Inc(metrics.PersistenceFailure)
		c.logger.WithError(err).Warn("govauth: updated user not persisted")
	}
}

// assignmentBook remembers the assignments seen per user so role deletion
// can be refused while a role is still in use.
type assignmentBook struct {
	mu     sync.RWMutex
	byUser map[string][]Assignment
}

func newAssignmentBook() *assignmentBook {
	return &assignmentBook{byUser: make(map[string][]Assignment)}
}

func (b *assignmentBook) set(userID string, assignments []Assignment) {
	if userID == "" {
		return
	}
	b.mu.Lock()
	b.byUser[userID] = slices.Clone(assignments)
	b.mu.Unlock()
}

func (b *assignmentBook) get(userID string) []Assignment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.byUser[userID])
}

func (b *assignmentBook) ActiveAssignmentCount(roleID string, now time.Time) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, list := range b.byUser {
		for _, a := range list {
			if a.RoleID == roleID && a.Active(now) {
				n++
			}
		}
	}
	return n
}
