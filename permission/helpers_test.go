package permission

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := BuildCatalog(64, []Permission{
		{Name: "doc.read"},
		{Name: "doc.write"},
		{Name: "doc.delete", IsSystemPermission: true},
		{Name: "user.read"},
		{Name: "user.delete", IsSystemPermission: true},
	})
	require.NoError(t, err)
	return c
}

func testRegistry(t *testing.T) *RoleRegistry {
	t.Helper()
	return NewRoleRegistry(testCatalog(t), RegistryOptions{MaxDepth: 4})
}

func mustCreate(t *testing.T, reg *RoleRegistry, id, name, parent string, perms ...string) Role {
	t.Helper()
	role, err := reg.Create(Role{
		ID:           id,
		Name:         name,
		DisplayName:  name,
		Type:         RoleCustom,
		ParentRoleID: parent,
		Permissions:  perms,
	})
	require.NoError(t, err)
	return role
}
