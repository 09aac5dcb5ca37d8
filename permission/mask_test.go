package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskWidths(t *testing.T) {
	for _, width := range []int{64, 128, 256, 512} {
		m := NewMask(width)
		require.NotNil(t, m)
		assert.Equal(t, width, m.Width())

		m.Set(0)
		m.Set(width - 1)
		m.Set(width)
		m.Set(-1)
		assert.True(t, m.Has(0))
		assert.True(t, m.Has(width-1))
		assert.False(t, m.Has(width))
		assert.False(t, m.Has(-1))
		assert.Equal(t, 2, m.Count())

		m.Clear(0)
		assert.False(t, m.Has(0))
		assert.Equal(t, 1, m.Count())
	}
	assert.Nil(t, NewMask(32))
}
