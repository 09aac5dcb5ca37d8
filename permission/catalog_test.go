package permission

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogAssignsStableBits(t *testing.T) {
	c, err := NewCatalog(64)
	require.NoError(t, err)

	bit, err := c.Register(Permission{Name: "doc.read"})
	require.NoError(t, err)
	assert.Equal(t, 0, bit)

	bit, err = c.Register(Permission{Name: "doc.write", Resource: "documents"})
	require.NoError(t, err)
	assert.Equal(t, 1, bit)

	name, ok := c.Name(1)
	require.True(t, ok)
	assert.Equal(t, "doc.write", name)

	p, ok := c.Lookup("doc.read")
	require.True(t, ok)
	assert.Equal(t, "doc", p.Resource)
	assert.Equal(t, "doc.read", p.ID)
	assert.Equal(t, []string{"doc", "documents"}, c.Resources())
}

func TestCatalogRejectsDuplicatesAndBadNames(t *testing.T) {
	c, err := NewCatalog(64)
	require.NoError(t, err)
	_, err = c.Register(Permission{Name: "doc.read"})
	require.NoError(t, err)

	_, err = c.Register(Permission{Name: "doc.read", Resource: "other"})
	assert.ErrorIs(t, err, ErrConflict)

	for _, name := range []string{"", "doc", "Doc.read", "doc..read", "a.b.c.d", "doc.read "} {
		_, err := c.Register(Permission{Name: name})
		assert.ErrorIs(t, err, ErrValidation, name)
	}
}

func TestCatalogFreezeAndCapacity(t *testing.T) {
	c, err := NewCatalog(64)
	require.NoError(t, err)
	for i := 0; i < 64; i++ {
		_, err := c.Register(Permission{Name: "res.p" + strings.Repeat("x", i+1)})
		require.NoError(t, err)
	}
	_, err = c.Register(Permission{Name: "res.overflow"})
	assert.ErrorIs(t, err, ErrCatalogFull)

	c.Freeze()
	assert.True(t, c.Frozen())
	_, err = c.Register(Permission{Name: "res.late"})
	assert.ErrorIs(t, err, ErrCatalogFrozen)
}

func TestCatalogInvalidWidth(t *testing.T) {
	_, err := NewCatalog(100)
	assert.Error(t, err)
}

func TestCatalogValidate(t *testing.T) {
	c := testCatalog(t)
	assert.NoError(t, c.Validate("doc.read", "user.delete"))

	err := c.Validate("doc.read", "doc.publish")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "doc.publish", verr.Reason)
	assert.ErrorIs(t, err, ErrPermissionUnknown)
}

func TestCatalogFromGroups(t *testing.T) {
	c, err := CatalogFromGroups(128, map[string][]Permission{
		"user":   {{ID: "p-2", Name: "user.read"}},
		"policy": {{ID: "p-1", Name: "policy.read"}, {ID: "p-3", Name: "policy.write"}},
	})
	require.NoError(t, err)
	assert.True(t, c.Frozen())
	assert.Equal(t, []string{"policy.read", "policy.write", "user.read"}, c.Names())

	p, ok := c.LookupID("p-3")
	require.True(t, ok)
	assert.Equal(t, "policy.write", p.Name)
	assert.Equal(t, "policy", p.Resource)
}

func TestLoadCatalogYAML(t *testing.T) {
	doc := `
resources:
  policy:
    - name: policy.read
      description: View policies
    - name: policy.approve
      system: true
  report:
    - name: report.export
`
	c, err := LoadCatalogYAML(strings.NewReader(doc), 64)
	require.NoError(t, err)
	assert.Equal(t, 3, c.Count())

	p, ok := c.Lookup("policy.approve")
	require.True(t, ok)
	assert.True(t, p.IsSystemPermission)
	assert.Len(t, c.ByResource("policy"), 2)
}

func TestLoadCatalogYAMLRejectsUnknownFields(t *testing.T) {
	_, err := LoadCatalogYAML(strings.NewReader("resources:\n  x:\n    - nme: x.read\n"), 64)
	assert.Error(t, err)

	_, err = LoadCatalogYAML(strings.NewReader("resources: {}\n"), 64)
	assert.ErrorIs(t, err, ErrValidation)
}
