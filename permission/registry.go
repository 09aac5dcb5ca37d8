package permission

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// DefaultMaxDepth bounds ancestor walks when no depth is configured.
const DefaultMaxDepth = 16

var roleNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ChangeKind identifies the kind of registry mutation.
type ChangeKind uint8

const (
	ChangeCreate ChangeKind = iota + 1
	ChangeUpdate
	ChangeDelete
	ChangeGrant
	ChangeRevoke
	ChangeReplace
	ChangeCatalog
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	case ChangeGrant:
		return "grant"
	case ChangeRevoke:
		return "revoke"
	case ChangeReplace:
		return "replace"
	case ChangeCatalog:
		return "catalog"
	}
	return "unknown"
}

// Change is a validated, not yet committed (or just committed) registry
// mutation. Before is nil for creates; After is nil for deletes.
type Change struct {
	Kind    ChangeKind
	RoleID  string
	Before  *Role
	After   *Role
	Version uint64
}

// RegistryOptions tunes a RoleRegistry.
type RegistryOptions struct {
	MaxDepth int
	Now      func() time.Time
}

// RoleRegistry holds role definitions and validates every write before it
// is committed. Committed state is published copy-on-write, so readers
// holding an old view are never affected by later writes.
type RoleRegistry struct {
	validate *validator.Validate
	maxDepth int
	now      func() time.Time

	mu        sync.RWMutex
	catalog   *Catalog
	roles     map[string]Role
	byName    map[string]string
	version   uint64
	listeners []func(Change)
}

// NewRoleRegistry creates an empty registry validating permissions against catalog.
func NewRoleRegistry(catalog *Catalog, opts RegistryOptions) *RoleRegistry {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RoleRegistry{
		validate: newRoleValidator(),
		maxDepth: opts.MaxDepth,
		now:      opts.Now,
		catalog:  catalog,
		roles:    make(map[string]Role),
		byName:   make(map[string]string),
	}
}

func newRoleValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("rolename", func(fl validator.FieldLevel) bool {
		return roleNamePattern.MatchString(fl.Field().String())
	})
	return v
}

// OnChange registers fn to run after every committed change. Listeners run
// synchronously on the committing goroutine, outside the registry lock.
func (r *RoleRegistry) OnChange(fn func(Change)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Catalog returns the catalog writes are validated against.
func (r *RoleRegistry) Catalog() *Catalog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.catalog
}

// SetCatalog swaps the catalog and bumps the graph version.
func (r *RoleRegistry) SetCatalog(c *Catalog) {
	if c == nil {
		return
	}
	r.mu.Lock()
	r.catalog = c
	r.version++
	ch := Change{Kind: ChangeCatalog, Version: r.version}
	listeners := r.listeners
	r.mu.Unlock()
	notify(listeners, ch)
}

// Version returns the graph version; it grows on every committed change.
func (r *RoleRegistry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// MaxDepth returns the ancestor depth limit.
func (r *RoleRegistry) MaxDepth() int {
	return r.maxDepth
}

// Get returns the role with the given id.
func (r *RoleRegistry) Get(id string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	role, ok := r.roles[id]
	if !ok {
		return Role{}, false
	}
	return role.Clone(), true
}

// GetByName returns the role with the given name.
func (r *RoleRegistry) GetByName(name string) (Role, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return Role{}, false
	}
	return r.roles[id].Clone(), true
}

// List returns every role ordered by name.
func (r *RoleRegistry) List() []Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Role, 0, len(r.roles))
	for _, role := range r.roles {
		out = append(out, role.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ancestors returns the parent chain of id, nearest first. A residual cycle
// or an over-deep chain is reported as an error with the roles walked so far.
func (r *RoleRegistry) Ancestors(id string) ([]Role, error) {
	roles, _, _ := r.graph()
	role, ok := roles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	out := make([]Role, 0, 4)
	visited := map[string]struct{}{role.ID: {}}
	cur := role.ParentRoleID
	for depth := 1; cur != ""; depth++ {
		if _, seen := visited[cur]; seen {
			return out, &CycleError{RoleID: cur, Chain: chainNames(role, out, roles[cur].Name)}
		}
		if depth > r.maxDepth {
			return out, invalid("parentRoleId", fmt.Sprintf("ancestor chain exceeds %d", r.maxDepth), ErrHierarchyTooDeep)
		}
		parent, ok := roles[cur]
		if !ok {
			return out, invalid("parentRoleId", cur, ErrParentNotFound)
		}
		visited[cur] = struct{}{}
		out = append(out, parent.Clone())
		cur = parent.ParentRoleID
	}
	return out, nil
}

// graph returns the published role map, its version and the catalog. The
// map must not be modified.
func (r *RoleRegistry) graph() (map[string]Role, uint64, *Catalog) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roles, r.version, r.catalog
}

// PlanCreate validates a new role without committing it. An empty id gets a
// provisional uuid.
func (r *RoleRegistry) PlanCreate(role Role) (Change, error) {
	role = role.Clone()
	if role.ID == "" {
		role.ID = uuid.NewString()
	}
	role.Permissions = dedupe(role.Permissions)
	if role.IsSystemRole || role.Type == RoleSystem {
		return Change{}, invalid("roleType", "system roles are provisioned by the server", ErrSystemRoleImmutable)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if err := r.checkLocked(role, nil); err != nil {
		return Change{}, err
	}
	return Change{Kind: ChangeCreate, RoleID: role.ID, After: &role, Version: r.version}, nil
}

// PlanUpdate validates an edit of role id without committing it.
func (r *RoleRegistry) PlanUpdate(id string, upd RoleUpdate) (Change, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.roles[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if current.IsSystemRole {
		if field, frozen := upd.structural(current); frozen {
			return Change{}, invalid(field, "cannot change on system role "+current.Name, ErrSystemRoleImmutable)
		}
	} else if upd.Type != nil && *upd.Type == RoleSystem {
		return Change{}, invalid("roleType", "system roles are provisioned by the server", ErrSystemRoleImmutable)
	}
	candidate := upd.apply(current.Clone())
	if err := r.checkLocked(candidate, &current); err != nil {
		return Change{}, err
	}
	before := current.Clone()
	return Change{Kind: ChangeUpdate, RoleID: id, Before: &before, After: &candidate, Version: r.version}, nil
}

// PlanDelete validates removing role id. refs may be nil when no assignment
// information is available locally.
func (r *RoleRegistry) PlanDelete(id string, refs AssignmentChecker) (Change, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.roles[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if current.IsSystemRole {
		return Change{}, invalid("id", "system role "+current.Name+" cannot be deleted", ErrSystemRoleImmutable)
	}
	if refs != nil && refs.ActiveAssignmentCount(id, r.now()) > 0 {
		return Change{}, &ConflictError{Field: "role", Value: current.Name, Err: ErrRoleInUse}
	}
	if err := r.childrenLocked(id, current.Name); err != nil {
		return Change{}, err
	}
	before := current.Clone()
	return Change{Kind: ChangeDelete, RoleID: id, Before: &before, Version: r.version}, nil
}

// PlanGrant validates adding names to role id.
func (r *RoleRegistry) PlanGrant(id string, names ...string) (Change, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.roles[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if len(names) == 0 {
		return Change{}, invalid("permissions", "at least one permission is required", nil)
	}
	if err := r.catalog.Validate(names...); err != nil {
		return Change{}, err
	}
	candidate := current.Clone()
	candidate.Permissions = dedupe(append(candidate.Permissions, names...))
	before := current.Clone()
	return Change{Kind: ChangeGrant, RoleID: id, Before: &before, After: &candidate, Version: r.version}, nil
}

// PlanRevoke validates removing name from role id.
func (r *RoleRegistry) PlanRevoke(id, name string) (Change, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	current, ok := r.roles[id]
	if !ok {
		return Change{}, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
	}
	if !current.Grants(name) {
		return Change{}, invalid("permissions", name+" is not granted by "+current.Name, nil)
	}
	if current.IsSystemRole {
		if p, ok := r.catalog.Lookup(name); ok && p.IsSystemPermission {
			return Change{}, invalid("permissions", name, ErrSystemPermission)
		}
	}
	candidate := current.Clone()
	candidate.Permissions = slices.DeleteFunc(candidate.Permissions, func(p string) bool { return p == name })
	before := current.Clone()
	return Change{Kind: ChangeRevoke, RoleID: id, Before: &before, After: &candidate, Version: r.version}, nil
}

// Apply commits a planned change. The candidate is validated again against
// the current state, so a change planned before a concurrent write, or one
// whose After was replaced by the server's copy, cannot break the graph.
func (r *RoleRegistry) Apply(ch Change) (Change, error) {
	r.mu.Lock()

	roles := r.roles
	switch ch.Kind {
	case ChangeCreate:
		if ch.After == nil {
			r.mu.Unlock()
			return Change{}, ErrStaleChange
		}
		candidate := ch.After.Clone()
		candidate.Permissions = dedupe(candidate.Permissions)
		if err := r.checkLocked(candidate, nil); err != nil {
			r.mu.Unlock()
			return Change{}, err
		}
		ch.After = &candidate
		ch.RoleID = candidate.ID
	case ChangeUpdate, ChangeGrant, ChangeRevoke:
		if ch.After == nil {
			r.mu.Unlock()
			return Change{}, ErrStaleChange
		}
		current, ok := roles[ch.RoleID]
		if !ok {
			r.mu.Unlock()
			return Change{}, fmt.Errorf("%w: %s", ErrRoleNotFound, ch.RoleID)
		}
		candidate := ch.After.Clone()
		candidate.ID = current.ID
		candidate.Permissions = dedupe(candidate.Permissions)
		if err := frozenFields(current, candidate); err != nil {
			r.mu.Unlock()
			return Change{}, err
		}
		if err := r.checkLocked(candidate, &current); err != nil {
			r.mu.Unlock()
			return Change{}, err
		}
		before := current.Clone()
		ch.Before = &before
		ch.After = &candidate
	case ChangeDelete:
		current, ok := roles[ch.RoleID]
		if !ok {
			r.mu.Unlock()
			return Change{}, fmt.Errorf("%w: %s", ErrRoleNotFound, ch.RoleID)
		}
		if err := r.childrenLocked(ch.RoleID, current.Name); err != nil {
			r.mu.Unlock()
			return Change{}, err
		}
		before := current.Clone()
		ch.Before = &before
		ch.After = nil
	default:
		r.mu.Unlock()
		return Change{}, fmt.Errorf("%w: unsupported change kind %s", ErrStaleChange, ch.Kind)
	}

	nextRoles := maps.Clone(r.roles)
	nextNames := maps.Clone(r.byName)
	if ch.Before != nil {
		delete(nextNames, ch.Before.Name)
		delete(nextRoles, ch.Before.ID)
	}
	if ch.After != nil {
		now := r.now()
		if ch.After.CreatedAt.IsZero() {
			ch.After.CreatedAt = now
		}
		if ch.Kind != ChangeCreate || ch.After.UpdatedAt.IsZero() {
			ch.After.UpdatedAt = now
		}
		nextRoles[ch.After.ID] = ch.After.Clone()
		nextNames[ch.After.Name] = ch.After.ID
	}
	r.roles = nextRoles
	r.byName = nextNames
	r.version++
	ch.Version = r.version
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, ch)
	return ch, nil
}

// Create validates and commits a new role.
func (r *RoleRegistry) Create(role Role) (Role, error) {
	ch, err := r.PlanCreate(role)
	if err != nil {
		return Role{}, err
	}
	return r.applyRole(ch)
}

// Update validates and commits an edit.
func (r *RoleRegistry) Update(id string, upd RoleUpdate) (Role, error) {
	ch, err := r.PlanUpdate(id, upd)
	if err != nil {
		return Role{}, err
	}
	return r.applyRole(ch)
}

// Delete validates and commits a removal.
func (r *RoleRegistry) Delete(id string, refs AssignmentChecker) error {
	ch, err := r.PlanDelete(id, refs)
	if err != nil {
		return err
	}
	_, err = r.Apply(ch)
	return err
}

// GrantPermissions validates and commits a grant.
func (r *RoleRegistry) GrantPermissions(id string, names ...string) (Role, error) {
	ch, err := r.PlanGrant(id, names...)
	if err != nil {
		return Role{}, err
	}
	return r.applyRole(ch)
}

// RevokePermission validates and commits a revoke.
func (r *RoleRegistry) RevokePermission(id, name string) (Role, error) {
	ch, err := r.PlanRevoke(id, name)
	if err != nil {
		return Role{}, err
	}
	return r.applyRole(ch)
}

func (r *RoleRegistry) applyRole(ch Change) (Role, error) {
	applied, err := r.Apply(ch)
	if err != nil {
		return Role{}, err
	}
	return applied.After.Clone(), nil
}

// Replace swaps the whole registry for roles, as fetched from the server.
// Structure is checked (ids, unique names, parents, acyclicity, depth) but
// permission names outside the catalog are kept. On error nothing changes.
func (r *RoleRegistry) Replace(roles []Role) error {
	nextRoles := make(map[string]Role, len(roles))
	nextNames := make(map[string]string, len(roles))
	for _, role := range roles {
		if role.ID == "" {
			return invalid("id", "role "+role.Name+" has no id", nil)
		}
		if strings.TrimSpace(role.Name) == "" {
			return invalid("name", "role "+role.ID+" has no name", nil)
		}
		if _, dup := nextRoles[role.ID]; dup {
			return &ConflictError{Field: "id", Value: role.ID}
		}
		if _, dup := nextNames[role.Name]; dup {
			return &ConflictError{Field: "name", Value: role.Name}
		}
		role = role.Clone()
		role.Permissions = dedupe(role.Permissions)
		nextRoles[role.ID] = role
		nextNames[role.Name] = role.ID
	}
	for _, role := range nextRoles {
		if err := walkAncestry(nextRoles, role, r.maxDepth); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.roles = nextRoles
	r.byName = nextNames
	r.version++
	ch := Change{Kind: ChangeReplace, Version: r.version}
	listeners := r.listeners
	r.mu.Unlock()

	notify(listeners, ch)
	return nil
}

func (r *RoleRegistry) checkLocked(candidate Role, before *Role) error {
	if err := r.validateStruct(candidate); err != nil {
		return err
	}
	if before != nil && before.Name != candidate.Name {
		return invalid("name", "role names are immutable", nil)
	}
	if err := r.catalog.Validate(candidate.Permissions...); err != nil {
		return err
	}
	if id, taken := r.byName[candidate.Name]; taken && id != candidate.ID {
		return &ConflictError{Field: "name", Value: candidate.Name}
	}
	if before == nil {
		if _, exists := r.roles[candidate.ID]; exists {
			return &ConflictError{Field: "id", Value: candidate.ID}
		}
	}
	return walkAncestry(r.roles, candidate, r.maxDepth)
}

func (r *RoleRegistry) childrenLocked(id, name string) error {
	for _, role := range r.roles {
		if role.ParentRoleID == id {
			return &ConflictError{Field: "role", Value: name, Err: ErrRoleHasChildren}
		}
	}
	return nil
}

func (r *RoleRegistry) validateStruct(role Role) error {
	err := r.validate.Struct(role)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		reason := fe.Tag()
		if fe.Param() != "" {
			reason += "=" + fe.Param()
		}
		return invalid(fe.Field(), reason, nil)
	}
	return invalid("", err.Error(), nil)
}

// walkAncestry follows candidate's would-be parent chain through roles,
// treating candidate as already stored.
func walkAncestry(roles map[string]Role, candidate Role, maxDepth int) error {
	if candidate.ParentRoleID == "" {
		return nil
	}
	chain := []string{candidate.Name}
	visited := map[string]struct{}{candidate.ID: {}}
	cur := candidate.ParentRoleID
	for depth := 1; cur != ""; depth++ {
		if _, seen := visited[cur]; seen {
			name := candidate.Name
			if cur != candidate.ID {
				name = roles[cur].Name
			}
			return &CycleError{RoleID: candidate.ID, Chain: append(chain, name)}
		}
		if depth > maxDepth {
			return invalid("parentRoleId", fmt.Sprintf("ancestor chain exceeds %d", maxDepth), ErrHierarchyTooDeep)
		}
		parent, ok := roles[cur]
		if !ok {
			return invalid("parentRoleId", cur, ErrParentNotFound)
		}
		visited[cur] = struct{}{}
		chain = append(chain, parent.Name)
		cur = parent.ParentRoleID
	}
	return nil
}

func frozenFields(current, candidate Role) error {
	if current.Name != candidate.Name {
		return invalid("name", "role names are immutable", nil)
	}
	if !current.IsSystemRole {
		return nil
	}
	switch {
	case current.Type != candidate.Type:
		return invalid("roleType", "cannot change on system role "+current.Name, ErrSystemRoleImmutable)
	case current.HierarchyLevel != candidate.HierarchyLevel:
		return invalid("hierarchyLevel", "cannot change on system role "+current.Name, ErrSystemRoleImmutable)
	case current.ParentRoleID != candidate.ParentRoleID:
		return invalid("parentRoleId", "cannot change on system role "+current.Name, ErrSystemRoleImmutable)
	case !candidate.IsSystemRole:
		return invalid("isSystemRole", "cannot change on system role "+current.Name, ErrSystemRoleImmutable)
	}
	return nil
}

func chainNames(start Role, walked []Role, last string) []string {
	out := make([]string, 0, len(walked)+2)
	out = append(out, start.Name)
	for _, r := range walked {
		out = append(out, r.Name)
	}
	return append(out, last)
}

func dedupe(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func notify(listeners []func(Change), ch Change) {
	for _, fn := range listeners {
		fn(ch)
	}
}
