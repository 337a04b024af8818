package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchesUntaggedIgnoresTag(t *testing.T) {
	want := Key{Addr: 1, Tagged: false}
	got := Key{Addr: 1, Tagged: false, Tag: 0xFFFF}
	assert.True(t, Matches(want, got))
}

func TestMatchesTaggedExact(t *testing.T) {
	want := Key{Addr: 1, Tagged: true, Tag: 5}
	got := Key{Addr: 1, Tagged: true, Tag: 5}
	assert.True(t, Matches(want, got))

	got.Tag = 6
	assert.False(t, Matches(want, got))
}

func TestMatchesIgnoreMask(t *testing.T) {
	want := Key{Addr: 1, Tagged: true, Tag: 0x00, IgnoreMask: 0xFF}
	got := Key{Addr: 1, Tagged: true, Tag: 0x42}
	assert.True(t, Matches(want, got), "low byte ignored, any value should match")
}

func TestMatchesAddrMismatch(t *testing.T) {
	want := Key{Addr: 1, Tagged: false}
	got := Key{Addr: 2, Tagged: false}
	assert.False(t, Matches(want, got))
}

func TestMatchesAnyAddrWildcard(t *testing.T) {
	want := Key{AnyAddr: true, Tagged: false}
	got := Key{Addr: 99, Tagged: false}
	assert.True(t, Matches(want, got))
}

func TestMatchesTaggedUntaggedMismatch(t *testing.T) {
	want := Key{Tagged: true, Tag: 1}
	got := Key{Tagged: false}
	assert.False(t, Matches(want, got))
}

type entry struct {
	id  int
	key Key
}

func newTestQueue() *Queue[entry] {
	return NewQueue(func(e entry) Key { return e.key })
}

func TestQueueFIFOFind(t *testing.T) {
	q := newTestQueue()
	q.Push(entry{id: 1, key: Key{Addr: 1, Tagged: true, Tag: 5}})
	q.Push(entry{id: 2, key: Key{Addr: 1, Tagged: true, Tag: 5}})

	first, ok := q.Find(Key{Addr: 1, Tagged: true, Tag: 5})
	require.True(t, ok)
	assert.Equal(t, 1, first.id)

	second, ok := q.Find(Key{Addr: 1, Tagged: true, Tag: 5})
	require.True(t, ok)
	assert.Equal(t, 2, second.id)

	_, ok = q.Find(Key{Addr: 1, Tagged: true, Tag: 5})
	assert.False(t, ok)
}

func TestQueueFindSplicesMiddle(t *testing.T) {
	q := newTestQueue()
	q.Push(entry{id: 1, key: Key{Addr: 1, Tagged: true, Tag: 1}})
	q.Push(entry{id: 2, key: Key{Addr: 1, Tagged: true, Tag: 2}})
	q.Push(entry{id: 3, key: Key{Addr: 1, Tagged: true, Tag: 3}})

	got, ok := q.Find(Key{Addr: 1, Tagged: true, Tag: 2})
	require.True(t, ok)
	assert.Equal(t, 2, got.id)
	assert.Equal(t, 2, q.Len())

	remaining, ok := q.Find(Key{Addr: 1, Tagged: true, Tag: 1})
	require.True(t, ok)
	assert.Equal(t, 1, remaining.id)
}

func TestQueuePeekDoesNotRemove(t *testing.T) {
	q := newTestQueue()
	q.Push(entry{id: 1, key: Key{Addr: 1}})

	v, ok := q.PeekFunc(func(e entry) bool { return e.id == 1 })
	require.True(t, ok)
	assert.Equal(t, 1, v.id)
	assert.Equal(t, 1, q.Len(), "peek must not remove")
}

func TestQueueDrainAll(t *testing.T) {
	q := newTestQueue()
	q.Push(entry{id: 1})
	q.Push(entry{id: 2})

	drained := q.DrainAll()
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, q.Len())
}
