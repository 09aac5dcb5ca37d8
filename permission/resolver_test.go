package permission

import (
	"math/rand"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietResolver(reg *RoleRegistry, opts ResolverOptions) *Resolver {
	if opts.Logger == nil {
		logger, _ := test.NewNullLogger()
		opts.Logger = logger
	}
	return NewResolver(reg, opts)
}

func TestResolveInheritsParentWithProvenance(t *testing.T) {
	reg := testRegistry(t)
	mustCreate(t, reg, "r-viewer", "viewer", "", "doc.read")
	mustCreate(t, reg, "r-editor", "editor", "r-viewer", "doc.read", "doc.write")

	res := quietResolver(reg, ResolverOptions{})
	eff := res.Resolve("u1", []Assignment{{UserID: "u1", RoleID: "r-editor"}})

	assert.Equal(t, []string{"doc.read", "doc.write"}, eff.Permissions())
	assert.Equal(t, []string{"editor", "viewer"}, eff.GrantedBy("doc.read"))
	assert.Equal(t, []string{"editor"}, eff.GrantedBy("doc.write"))
	assert.True(t, eff.Has("doc.read"))
	assert.True(t, eff.Has("doc.write"))
	assert.False(t, eff.Has("doc.delete"))
	assert.True(t, eff.HasRole("editor"))
	assert.False(t, eff.HasRole("viewer"))
}

func TestResolveDropsUncataloguedGrants(t *testing.T) {
	reg := testRegistry(t)
	require.NoError(t, reg.Replace([]Role{
		{ID: "r-vendor", Name: "vendor", DisplayName: "Vendor", Type: RoleCustom, Permissions: []string{"doc.read", "vendor.read"}},
	}))

	res := quietResolver(reg, ResolverOptions{})
	eff := res.Resolve("u1", []Assignment{{UserID: "u1", RoleID: "r-vendor"}})

	assert.Equal(t, []string{"doc.read"}, eff.Permissions())
	assert.NotContains(t, eff.Grants(), "vendor.read")
	assert.Empty(t, eff.GrantedBy("vendor.read"))
	assert.False(t, eff.Has("vendor.read"))
}

func TestResolveExcludesExpiredAssignments(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	reg := NewRoleRegistry(testCatalog(t), RegistryOptions{Now: func() time.Time { return now }})
	mustCreate(t, reg, "r-viewer", "viewer", "", "doc.read")
	mustCreate(t, reg, "r-admin", "admin-ops", "", "user.delete")

	res := quietResolver(reg, ResolverOptions{Now: func() time.Time { return now }})
	expired := now
	future := now.Add(time.Hour)
	eff := res.Resolve("u1", []Assignment{
		{UserID: "u1", RoleID: "r-viewer", ExpiresAt: &future},
		{UserID: "u1", RoleID: "r-admin", ExpiresAt: &expired},
	})

	assert.Equal(t, []string{"doc.read"}, eff.Permissions())
	assert.False(t, eff.HasRole("admin-ops"))
}

func TestResolveAssignRevokeRoundTrip(t *testing.T) {
	reg := testRegistry(t)
	mustCreate(t, reg, "r-viewer", "viewer", "", "doc.read")
	mustCreate(t, reg, "r-moderator", "moderator", "r-viewer", "doc.delete")

	res := quietResolver(reg, ResolverOptions{})
	base := []Assignment{{UserID: "u1", RoleID: "r-viewer"}}
	before := res.Resolve("u1", base).Grants()

	withRole := append(append([]Assignment(nil), base...), Assignment{UserID: "u1", RoleID: "r-moderator"})
	during := res.Resolve("u1", withRole)
	assert.ElementsMatch(t, []string{"moderator"}, during.GrantedBy("doc.delete"))
	assert.Equal(t, []string{"viewer"}, during.GrantedBy("doc.read"))

	after := res.Resolve("u1", base).Grants()
	assert.Equal(t, before, after)
}

func TestResolveCachesUntilGraphChanges(t *testing.T) {
	reg := testRegistry(t)
	mustCreate(t, reg, "r-viewer", "viewer", "", "doc.read")

	hits := 0
	res := quietResolver(reg, ResolverOptions{OnCacheHit: func() { hits++ }})
	assignments := []Assignment{{UserID: "u1", RoleID: "r-viewer"}}

	first := res.Resolve("u1", assignments)
	second := res.Resolve("u1", assignments)
	assert.Same(t, first, second)
	assert.Equal(t, 1, hits)

	_, err := reg.GrantPermissions("r-viewer", "user.read")
	require.NoError(t, err)

	third := res.Resolve("u1", assignments)
	assert.NotSame(t, first, third)
	assert.True(t, third.Has("user.read"))
	assert.False(t, first.Has("user.read"))
	assert.Equal(t, 1, hits)

	res.Purge()
	assert.NotSame(t, third, res.Resolve("u1", assignments))
}

func TestResolveGuardsResidualCycle(t *testing.T) {
	reg := testRegistry(t)
	// Force a cyclic graph past write-time validation.
	reg.roles = map[string]Role{
		"a": {ID: "a", Name: "alpha", ParentRoleID: "b", Permissions: []string{"doc.read"}},
		"b": {ID: "b", Name: "bravo", ParentRoleID: "a", Permissions: []string{"doc.write"}},
	}

	var reasons []string
	logger, hook := test.NewNullLogger()
	res := NewResolver(reg, ResolverOptions{Logger: logger, OnGuard: func(_, reason string) { reasons = append(reasons, reason) }})
	eff := res.Resolve("u1", []Assignment{{UserID: "u1", RoleID: "a"}})

	assert.Equal(t, []string{"doc.read", "doc.write"}, eff.Permissions())
	assert.Equal(t, []string{"cycle"}, reasons)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestResolveSkipsUnknownRoles(t *testing.T) {
	reg := testRegistry(t)
	res := quietResolver(reg, ResolverOptions{})
	eff := res.Resolve("u1", []Assignment{{UserID: "u1", RoleID: "ghost"}})
	assert.Zero(t, eff.Len())
	assert.Empty(t, eff.Roles())
}

// The resolved set always equals the union of the active roles' own
// permissions and those of all their ancestors.
func TestResolveMatchesNaiveUnion(t *testing.T) {
	names := []string{"doc.read", "doc.write", "doc.delete", "user.read", "user.delete"}
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 50; round++ {
		reg := NewRoleRegistry(testCatalog(t), RegistryOptions{MaxDepth: 16})
		var ids []string
		for i := 0; i < 8; i++ {
			id := "r" + strconv.Itoa(i)
			parent := ""
			if len(ids) > 0 && rng.Intn(3) > 0 {
				parent = ids[rng.Intn(len(ids))]
			}
			var perms []string
			for _, n := range names {
				if rng.Intn(4) == 0 {
					perms = append(perms, n)
				}
			}
			mustCreate(t, reg, id, "role-"+strconv.Itoa(i), parent, perms...)
			ids = append(ids, id)
		}

		var assignments []Assignment
		for _, id := range ids {
			if rng.Intn(3) == 0 {
				assignments = append(assignments, Assignment{UserID: "u", RoleID: id})
			}
		}

		want := map[string]struct{}{}
		for _, a := range assignments {
			for cur := a.RoleID; cur != ""; {
				role, _ := reg.Get(cur)
				for _, p := range role.Permissions {
					want[p] = struct{}{}
				}
				cur = role.ParentRoleID
			}
		}
		wantNames := make([]string, 0, len(want))
		for n := range want {
			wantNames = append(wantNames, n)
		}
		sort.Strings(wantNames)

		got := quietResolver(reg, ResolverOptions{}).Resolve("u", assignments).Permissions()
		if len(wantNames) == 0 {
			assert.Empty(t, got)
			continue
		}
		assert.Equal(t, wantNames, got, "round %d", round)
	}
}
