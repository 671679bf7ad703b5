package peers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDirectory_Observe(t *testing.T) {
	d, err := New(zap.NewNop())
	require.NoError(t, err)

	assert.True(t, d.Observe("abc"))
	assert.False(t, d.Observe("abc"), "repeat observation is not first-seen")
	assert.True(t, d.Observe("def"))

	assert.False(t, d.Observe(""), "empty pubkey is ignored")

	assert.Equal(t, 2, d.Count())
	assert.Equal(t, []string{"abc", "def"}, d.Known())
}

func TestDirectory_KnownIsSorted(t *testing.T) {
	d, err := New(zap.NewNop())
	require.NoError(t, err)

	for _, pk := range []string{"zz", "aa", "mm"} {
		d.Observe(pk)
	}

	assert.Equal(t, []string{"aa", "mm", "zz"}, d.Known())
}
