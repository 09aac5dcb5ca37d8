package permission

import (
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

// ResolverOptions tunes a Resolver. Zero values pick defaults.
type ResolverOptions struct {
	CacheSize int
	CacheTTL  time.Duration
	Now       func() time.Time
	Logger    logrus.FieldLogger

	// OnCacheHit runs when a resolution is served from the cache.
	OnCacheHit func()
	// OnGuard runs when a read-time walk stops at a cycle, the depth limit
	// or a dangling parent reference.
	OnGuard func(roleID, reason string)
}

// Resolver computes effective permissions from role assignments.
type Resolver struct {
	registry *RoleRegistry
	cache    *expirable.LRU[string, *Effective]
	now      func() time.Time
	logger   logrus.FieldLogger
	onHit    func()
	onGuard  func(string, string)
}

// NewResolver creates a resolver over registry.
func NewResolver(registry *RoleRegistry, opts ResolverOptions) *Resolver {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 1024
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Resolver{
		registry: registry,
		cache:    expirable.NewLRU[string, *Effective](opts.CacheSize, nil, opts.CacheTTL),
		now:      opts.Now,
		logger:   opts.Logger,
		onHit:    opts.OnCacheHit,
		onGuard:  opts.OnGuard,
	}
}

// Resolve returns the effective permission set for userID. Only assignments
// active at the resolver's clock contribute. The result is cached until the
// role graph, the catalog or the active assignment set changes.
func (r *Resolver) Resolve(userID string, assignments []Assignment) *Effective {
	now := r.now()
	active := ActiveAssignments(assignments, now)
	roles, version, catalog := r.registry.graph()

	key := userID + "|" + strconv.FormatUint(version, 10) + "|" + fingerprint(active)
	if cached, ok := r.cache.Get(key); ok {
		if r.onHit != nil {
			r.onHit()
		}
		return cached
	}

	eff := r.compute(userID, active, roles, catalog, now)
	eff.GraphVersion = version
	r.cache.Add(key, eff)
	return eff
}

// Purge drops every cached resolution.
func (r *Resolver) Purge() {
	r.cache.Purge()
}

func (r *Resolver) compute(userID string, active []Assignment, roles map[string]Role, catalog *Catalog, now time.Time) *Effective {
	eff := &Effective{
		UserID:     userID,
		ComputedAt: now,
		grants:     make(map[string][]string),
		roles:      make(map[string]struct{}),
		catalog:    catalog,
	}

	for _, a := range active {
		role, ok := roles[a.RoleID]
		if !ok {
			r.logger.WithFields(logrus.Fields{"user_id": userID, "role_id": a.RoleID}).
				Warn("permission: assignment references unknown role")
			continue
		}
		eff.roles[role.Name] = struct{}{}
		eff.grant(role)

		visited := map[string]struct{}{role.ID: {}}
		cur := role.ParentRoleID
		for depth := 1; cur != ""; depth++ {
			if _, seen := visited[cur]; seen {
				r.guard(role.ID, "cycle")
				break
			}
			if depth > r.registry.maxDepth {
				r.guard(role.ID, "depth")
				break
			}
			parent, ok := roles[cur]
			if !ok {
				r.guard(role.ID, "missing_parent")
				break
			}
			visited[cur] = struct{}{}
			eff.grant(parent)
			cur = parent.ParentRoleID
		}
	}

	// Names outside the catalog can never be checked, so they are not listed.
	for name := range eff.grants {
		if !catalog.Has(name) {
			delete(eff.grants, name)
			r.logger.WithFields(logrus.Fields{"user_id": userID, "permission": name}).
				Debug("permission: uncatalogued grant ignored")
		}
	}
	eff.mask = catalog.MaskOf(slices.Collect(maps.Keys(eff.grants)))
	return eff
}

func (r *Resolver) guard(roleID, reason string) {
	r.logger.WithFields(logrus.Fields{"role_id": roleID, "reason": reason}).
		Warn("permission: ancestor walk stopped")
	if r.onGuard != nil {
		r.onGuard(roleID, reason)
	}
}

// Effective is an immutable resolved permission set with provenance.
type Effective struct {
	UserID       string
	GraphVersion uint64
	ComputedAt   time.Time

	grants  map[string][]string
	roles   map[string]struct{}
	mask    Mask
	catalog *Catalog
}

func (e *Effective) grant(role Role) {
	for _, p := range role.Permissions {
		by := e.grants[p]
		if !slices.Contains(by, role.Name) {
			e.grants[p] = append(by, role.Name)
		}
	}
}

// Has reports whether name is granted. Names outside the catalog are never granted.
func (e *Effective) Has(name string) bool {
	if e == nil || e.mask == nil {
		return false
	}
	bit, ok := e.catalog.Bit(name)
	if !ok {
		return false
	}
	return e.mask.Has(bit)
}

// Known reports whether name is in the catalog the set was resolved against.
func (e *Effective) Known(name string) bool {
	if e == nil || e.catalog == nil {
		return false
	}
	return e.catalog.Has(name)
}

// HasRole reports whether the user holds the named role by direct, active assignment.
func (e *Effective) HasRole(name string) bool {
	if e == nil {
		return false
	}
	_, ok := e.roles[name]
	return ok
}

// GrantedBy returns the roles that granted name, own role first and then
// ancestors in walk order.
func (e *Effective) GrantedBy(name string) []string {
	if e == nil {
		return nil
	}
	return slices.Clone(e.grants[name])
}

// Permissions returns the granted names in sorted order.
func (e *Effective) Permissions() []string {
	if e == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(e.grants))
}

// Roles returns the directly assigned role names in sorted order.
func (e *Effective) Roles() []string {
	if e == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(e.roles))
}

// Grants returns a copy of the permission to granting roles mapping.
func (e *Effective) Grants() map[string][]string {
	out := make(map[string][]string)
	if e == nil {
		return out
	}
	for k, v := range e.grants {
		out[k] = slices.Clone(v)
	}
	return out
}

// Len returns the number of granted permissions.
func (e *Effective) Len() int {
	if e == nil {
		return 0
	}
	return len(e.grants)
}
