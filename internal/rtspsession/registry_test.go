package rtspsession

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry_GetOrInsert_OnlyConstructsOnce(t *testing.T) {
	r := newRegistry[string, int]()
	calls := 0
	make := func() int {
		calls++
		return 42
	}

	v1 := r.GetOrInsert("k", make)
	v2 := r.GetOrInsert("k", make)

	require.Equal(t, 42, v1)
	require.Equal(t, 42, v2)
	require.Equal(t, 1, calls, "make is only called on the first insert")
}

func TestRegistry_RemoveAndHas(t *testing.T) {
	r := newRegistry[string, int]()
	r.Set("a", 1)
	require.True(t, r.Has("a"))

	r.Remove("a")
	require.False(t, r.Has("a"))

	_, ok := r.Get("a")
	require.False(t, ok)
}

func TestSDPCache_PathNormalization(t *testing.T) {
	c := NewSDPCache()
	c.Set("/live/stream1/", []byte("v=0"))

	got, ok := c.Get("live/stream1")
	require.True(t, ok)
	require.Equal(t, []byte("v=0"), got)

	c.Erase("/live/stream1")
	_, ok = c.Get("live/stream1/")
	require.False(t, ok)
}
