package entry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetLookupRoundTrip(t *testing.T) {
	tbl := New[string](4)
	idx, key, ok := tbl.Get()
	require.True(t, ok)
	tbl.Set(idx, "hello")

	got, ok := tbl.Lookup(key)
	require.True(t, ok)
	assert.Equal(t, "hello", got)

	v, ok := tbl.At(idx)
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestExhaustion(t *testing.T) {
	tbl := New[int](2)
	_, _, ok1 := tbl.Get()
	_, _, ok2 := tbl.Get()
	_, _, ok3 := tbl.Get()
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3)
}

func TestReleaseInvalidatesStaleKey(t *testing.T) {
	tbl := New[int](4)
	idx, key, ok := tbl.Get()
	require.True(t, ok)
	tbl.Set(idx, 42)

	tbl.Release(idx)

	_, ok = tbl.Lookup(key)
	assert.False(t, ok, "stale key from a released slot must not resolve")

	idx2, key2, ok := tbl.Get()
	require.True(t, ok)
	assert.Equal(t, idx, idx2, "freelist should reissue the just-released slot")
	assert.NotEqual(t, key, key2, "reissued slot must mint a different key (generation bump)")
}

func TestFreeAndCap(t *testing.T) {
	tbl := New[int](4)
	assert.Equal(t, 4, tbl.Cap())
	assert.Equal(t, 4, tbl.Free())

	idx, _, _ := tbl.Get()
	assert.Equal(t, 3, tbl.Free())

	tbl.Release(idx)
	assert.Equal(t, 4, tbl.Free())
}

func TestLookupIndexReturnsSlotIndex(t *testing.T) {
	tbl := New[string](4)
	idx, key, ok := tbl.Get()
	require.True(t, ok)
	tbl.Set(idx, "x")

	v, gotIdx, ok := tbl.LookupIndex(key)
	require.True(t, ok)
	assert.Equal(t, "x", v)
	assert.Equal(t, idx, gotIdx)
}

func TestLookupOutOfRangeIndex(t *testing.T) {
	tbl := New[int](5)
	_, ok := tbl.Lookup(0xFFFFFFFF)
	assert.False(t, ok)
}
