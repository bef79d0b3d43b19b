package jobqueue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromSlice(t *testing.T) {
	src := FromSlice([]string{"ls", "pwd"})

	assert.Equal(t, 2, src.Len())
	assert.Nil(t, src.Keyed())
	assert.Equal(t, Key("1"), src.KeyAt(1))

	item, ok := src.Item("1")
	require.True(t, ok)
	assert.Equal(t, "pwd", item)

	for _, key := range []Key{"2", "-1", "x"} {
		_, ok := src.Item(key)
		assert.False(t, ok, "key %q", key)
	}
}

func TestFromMap_SortsKeys(t *testing.T) {
	src := FromMap(map[string]int{"c": 3, "a": 1, "b": 2})

	assert.Equal(t, []Key{"a", "b", "c"}, src.Keyed())
	assert.Equal(t, Key("b"), src.KeyAt(1))

	item, ok := src.Item("c")
	require.True(t, ok)
	assert.Equal(t, 3, item)
}

func TestFromKeyed_MissingItem(t *testing.T) {
	src := FromKeyed([]string{"b", "ghost"}, map[string]int{"b": 2})

	assert.Equal(t, 2, src.Len())
	assert.Equal(t, []Key{"b", "ghost"}, src.Keyed())
	_, ok := src.Item("ghost")
	assert.False(t, ok)
}
