package permission

import (
	"errors"
	"regexp"
	"sort"
	"sync"
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*(\.[a-z][a-z0-9_]*){1,2}$`)

// Permission is one entry of the catalog.
type Permission struct {
	ID                 string `json:"id" yaml:"id"`
	Name               string `json:"name" yaml:"name"`
	Resource           string `json:"resource" yaml:"resource"`
	Description        string `json:"description,omitempty" yaml:"description,omitempty"`
	IsSystemPermission bool   `json:"isSystemPermission" yaml:"system"`
}

// ValidName reports whether name has the resource.action[.scope] form.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}

// Catalog maps permission names to bit positions within a fixed-width mask
// and groups them by resource. It is safe for concurrent use.
type Catalog struct {
	width int

	mu        sync.RWMutex
	entries   map[string]Permission
	byID      map[string]string
	nameToBit map[string]int
	bitToName map[int]string
	resources map[string][]string
	frozen    bool
}

// NewCatalog creates an empty catalog. width selects the mask width
// (64/128/256/512) and bounds the number of permissions.
func NewCatalog(width int) (*Catalog, error) {
	if !validWidth(width) {
		return nil, errors.New("invalid catalog width")
	}
	return &Catalog{
		width:     width,
		entries:   make(map[string]Permission),
		byID:      make(map[string]string),
		nameToBit: make(map[string]int),
		bitToName: make(map[int]string),
		resources: make(map[string][]string),
	}, nil
}

// BuildCatalog registers perms in order and freezes the result.
func BuildCatalog(width int, perms []Permission) (*Catalog, error) {
	c, err := NewCatalog(width)
	if err != nil {
		return nil, err
	}
	for _, p := range perms {
		if _, err := c.Register(p); err != nil {
			return nil, err
		}
	}
	c.Freeze()
	return c, nil
}

// Register assigns the next free bit to p and returns it. The resource
// defaults to the first name segment. Must be called before Freeze.
func (c *Catalog) Register(p Permission) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.frozen {
		return -1, ErrCatalogFrozen
	}
	if !ValidName(p.Name) {
		return -1, invalid("name", "must have the form resource.action[.scope]: "+p.Name, nil)
	}
	if p.Resource == "" {
		p.Resource = resourceOf(p.Name)
	}
	if _, exists := c.entries[p.Name]; exists {
		return -1, &ConflictError{Field: "permission", Value: p.Name}
	}
	if p.ID == "" {
		p.ID = p.Name
	}
	if _, exists := c.byID[p.ID]; exists {
		return -1, &ConflictError{Field: "permission id", Value: p.ID}
	}

	next := len(c.nameToBit)
	if next >= c.width {
		return -1, ErrCatalogFull
	}

	c.entries[p.Name] = p
	c.byID[p.ID] = p.Name
	c.nameToBit[p.Name] = next
	c.bitToName[next] = p.Name
	c.resources[p.Resource] = append(c.resources[p.Resource], p.Name)
	return next, nil
}

// Freeze makes the catalog read-only.
func (c *Catalog) Freeze() {
	c.mu.Lock()
	c.frozen = true
	c.mu.Unlock()
}

// Frozen reports whether Freeze was called.
func (c *Catalog) Frozen() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frozen
}

// Width returns the mask width the catalog was built for.
func (c *Catalog) Width() int {
	return c.width
}

// Count returns the number of registered permissions.
func (c *Catalog) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.nameToBit)
}

// Bit returns the bit assigned to name.
func (c *Catalog) Bit(name string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bit, ok := c.nameToBit[name]
	return bit, ok
}

// Name returns the permission name assigned to bit.
func (c *Catalog) Name(bit int) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.bitToName[bit]
	return name, ok
}

// Has reports whether name is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.Bit(name)
	return ok
}

// Lookup returns the catalog entry for name.
func (c *Catalog) Lookup(name string) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.entries[name]
	return p, ok
}

// LookupID returns the catalog entry whose remote id is id.
func (c *Catalog) LookupID(id string) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.byID[id]
	if !ok {
		return Permission{}, false
	}
	return c.entries[name], true
}

// Resources returns the resource groupings in sorted order.
func (c *Catalog) Resources() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.resources))
	for r := range c.resources {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// ByResource returns the permissions of one grouping in registration order.
func (c *Catalog) ByResource(resource string) []Permission {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := c.resources[resource]
	out := make([]Permission, 0, len(names))
	for _, n := range names {
		out = append(out, c.entries[n])
	}
	return out
}

// Names returns every registered name in bit order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.bitToName))
	for bit, name := range c.bitToName {
		out[bit] = name
	}
	return out
}

// Validate returns a *ValidationError for the first name outside the catalog.
func (c *Catalog) Validate(names ...string) error {
	for _, n := range names {
		if !c.Has(n) {
			return invalid("permissions", n, ErrPermissionUnknown)
		}
	}
	return nil
}

// MaskOf builds a mask from the catalogued names; unknown names are skipped.
func (c *Catalog) MaskOf(names []string) Mask {
	m := NewMask(c.width)
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, n := range names {
		if bit, ok := c.nameToBit[n]; ok {
			m.Set(bit)
		}
	}
	return m
}

// CatalogFromGroups builds a frozen catalog from the grouped form served by
// the permissions endpoint. Groups are registered in sorted resource order.
func CatalogFromGroups(width int, groups map[string][]Permission) (*Catalog, error) {
	resources := make([]string, 0, len(groups))
	for r := range groups {
		resources = append(resources, r)
	}
	sort.Strings(resources)

	perms := make([]Permission, 0)
	for _, r := range resources {
		for _, p := range groups[r] {
			p.Resource = r
			perms = append(perms, p)
		}
	}
	return BuildCatalog(width, perms)
}

func resourceOf(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] == '.' {
			return name[:i]
		}
	}
	return name
}
