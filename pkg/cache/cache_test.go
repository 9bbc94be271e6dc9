package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "effective:surgery-1", Key("surgery-1", false, false))
	assert.Equal(t, "effective:surgery-1:drafts", Key("surgery-1", true, false))
	assert.Equal(t, "effective:surgery-1:inactive", Key("surgery-1", false, true))
	assert.Equal(t, "effective:surgery-1:drafts:inactive", Key("surgery-1", true, true))
}

func TestNoop(t *testing.T) {
	c := NewNoop()

	require.NoError(t, c.Set(t.Context(), "effective:surgery-1", nil))

	items, ok, err := c.Get(t.Context(), "effective:surgery-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, items)

	require.NoError(t, c.InvalidateSurgery(t.Context(), "surgery-1"))
}
