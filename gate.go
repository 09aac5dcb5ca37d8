package govauth

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/internal/metrics"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/permission"
	"github.com/CBA-Consult/ICT-Governance-Framework-Application-sub000/session"
	"github.com/sirupsen/logrus"
)

// Gate answers authorization queries for the signed-in user from the last
// resolved permission set. Queries never resolve and never block on I/O.
// An unauthenticated gate denies everything.
type Gate struct {
	logger logrus.FieldLogger
	snap   atomic.Pointer[gateSnapshot]
	warned sync.Map
}

type gateSnapshot struct {
	authenticated bool
	user          User
	effective     *permission.Effective
}

func newGate(logger logrus.FieldLogger) *Gate {
	g := &Gate{logger: logger}
	g.snap.Store(&gateSnapshot{})
	return g
}

func (g *Gate) load() *gateSnapshot {
	return g.snap.Load()
}

// Authenticated reports whether a session is established.
func (g *Gate) Authenticated() bool {
	return g.load().authenticated
}

// HasPermission reports whether the user holds name. Names missing from the
// catalog are denied and logged once.
func (g *Gate) HasPermission(name string) bool {
	s := g.load()
	if !s.authenticated {
		return false
	}
	return g.has(s, name)
}

func (g *Gate) has(s *gateSnapshot, name string) bool {
	if !s.effective.Known(name) {
		g.warnUnknown(name)
		return false
	}
	return s.effective.Has(name)
}

// HasRole reports whether name is directly and actively assigned. Roles
// reached only through the hierarchy do not count.
func (g *Gate) HasRole(name string) bool {
	s := g.load()
	return s.authenticated && s.effective.HasRole(name)
}

// HasAnyRole reports whether at least one of names is directly and
// actively assigned.
func (g *Gate) HasAnyRole(names ...string) bool {
	s := g.load()
	if !s.authenticated {
		return false
	}
	return slices.ContainsFunc(names, s.effective.HasRole)
}

// HasAllPermissions reports whether the user holds every name. An empty
// list is satisfied by any authenticated user.
func (g *Gate) HasAllPermissions(names ...string) bool {
	s := g.load()
	if !s.authenticated {
		return false
	}
	for _, name := range names {
		if !g.has(s, name) {
			return false
		}
	}
	return true
}

// HasAnyPermission reports whether the user holds at least one of names.
// An empty list is never satisfied.
func (g *Gate) HasAnyPermission(names ...string) bool {
	s := g.load()
	if !s.authenticated {
		return false
	}
	for _, name := range names {
		if g.has(s, name) {
			return true
		}
	}
	return false
}

// GrantedBy returns the roles granting name, in resolution order.
func (g *Gate) GrantedBy(name string) []string {
	s := g.load()
	if !s.authenticated {
		return nil
	}
	return s.effective.GrantedBy(name)
}

// Check returns nil when req is satisfied, ErrNotAuthenticated without a
// session, and *AuthorizationError otherwise.
func (g *Gate) Check(req Requirement) error {
	s := g.load()
	if !s.authenticated {
		return ErrNotAuthenticated
	}

	var missing []string
	for _, name := range req.AllPermissions {
		if !g.has(s, name) {
			missing = append(missing, name)
		}
	}
	roleOK := len(req.AnyRoles) == 0 || slices.ContainsFunc(req.AnyRoles, s.effective.HasRole)
	if len(missing) == 0 && roleOK {
		return nil
	}

	err := &AuthorizationError{MissingPermissions: missing}
	if !roleOK {
		err.RequiredRoles = slices.Clone(req.AnyRoles)
	}
	return err
}

// Snapshot returns an immutable copy of the current access state.
func (g *Gate) Snapshot() AccessSnapshot {
	s := g.load()
	if !s.authenticated {
		return AccessSnapshot{}
	}
	grants := s.effective.Grants()
	out := AccessSnapshot{
		Authenticated: true,
		User:          s.user.Clone(),
		Roles:         s.effective.Roles(),
		Permissions:   make([]PermissionGrant, 0, len(grants)),
		GraphVersion:  s.effective.GraphVersion,
		ComputedAt:    s.effective.ComputedAt,
	}
	for _, name := range s.effective.Permissions() {
		out.Permissions = append(out.Permissions, PermissionGrant{Name: name, GrantedBy: grants[name]})
	}
	return out
}

func (g *Gate) publish(s *gateSnapshot) {
	g.snap.Store(s)
}

func (g *Gate) warnUnknown(name string) {
	if _, seen := g.warned.LoadOrStore(name, struct{}{}); seen {
		return
	}
	g.logger.WithField("permission", name).Warn("govauth: query for permission outside the catalog")
}

/*
====================================
RECOMPUTATION
====================================
*/

func (c *Client) onTokensChanged(st session.State) {
	c.assignment.set(st.User.ID, st.User.Roles)
	c.recompute()
}

func (c *Client) onRolesChanged(permission.Change) {
	c.recompute()
}

// recompute resolves the current user's permissions and publishes them to
// the gate. It runs only on token store and registry changes, and when the
// earliest assignment expiry passes.
func (c *Client) recompute() {
	c.recomputeMu.Lock()
	defer c.recomputeMu.Unlock()

	if c.expiryTimer != nil {
		c.expiryTimer.Stop()
		c.expiryTimer = nil
	}

	st := c.tokens.Current()
	if !st.Present {
		c.gate.publish(&gateSnapshot{})
		return
	}

	eff := c.resolver.Resolve(st.User.ID, st.User.Roles)
	c.metrics.Inc(metrics.PermissionResolve)
	c.gate.publish(&gateSnapshot{authenticated: true, user: st.User, effective: eff})

	if next, ok := nextExpiry(st.User.Roles, c.now()); ok && !c.closed.Load() {
		c.expiryTimer = time.AfterFunc(next, c.recompute)
	}
}

func nextExpiry(assignments []Assignment, now time.Time) (time.Duration, bool) {
	var soonest time.Time
	for _, a := range assignments {
		if a.ExpiresAt == nil || !a.ExpiresAt.After(now) {
			continue
		}
		if soonest.IsZero() || a.ExpiresAt.Before(soonest) {
			soonest = *a.ExpiresAt
		}
	}
	if soonest.IsZero() {
		return 0, false
	}
	return soonest.Sub(now), true
}
