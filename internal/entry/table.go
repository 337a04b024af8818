// Package entry implements the dense, freelist-backed table used to store
// in-flight TxEntry descriptors with a stable 64-bit key (§4.2). The key
// combines the slot index with a per-slot generation counter so that a
// rendezvous acknowledgement arriving after a slot has been released and
// reused cannot be mistaken for the new occupant — the same reasoning
// behind libfabric's ofi_key_idx (original_source/prov/rxm/src/rxm_ep.c,
// rxm_send_queue_init -> ofi_key_idx_init).
//
// Structurally this is the teacher's free-list pattern (internal/queue's
// per-tag state/mutex arrays in runner.go, and the chunk free list in
// pool.go) generalized with a generation field and Go generics, since a
// single concrete table type can serve any in-flight descriptor type.
package entry

import (
	"sync"
)

// Table is a dense freelist-backed table of T, guarded by a single mutex
// (§5: "one mutex per send queue, guards the send-entry table and the
// key-index" — for RXM's send queue, Table *is* that lock).
type Table[T any] struct {
	mu      sync.Mutex
	slots   []T
	used    []bool
	gen     []uint32
	free    []uint32
	keyBits uint
	keyMask uint64
}

// bitsFor returns the number of bits needed to index size slots.
func bitsFor(size int) uint {
	bits := uint(1)
	for (1 << bits) < size {
		bits++
	}
	return bits
}

// New creates a table with room for size in-flight entries.
func New[T any](size int) *Table[T] {
	if size <= 0 {
		size = 1
	}
	bits := bitsFor(size)
	t := &Table[T]{
		slots:   make([]T, size),
		used:    make([]bool, size),
		gen:     make([]uint32, size),
		free:    make([]uint32, size),
		keyBits: bits,
		keyMask: (uint64(1) << bits) - 1,
	}
	for i := 0; i < size; i++ {
		t.free[i] = uint32(size - 1 - i) // pop from the tail in ascending index order
	}
	return t
}

// Cap returns the table's total capacity.
func (t *Table[T]) Cap() int { return len(t.slots) }

// Get reserves a free slot, returning its index and the 64-bit key that
// identifies this occupancy (index + current generation). Returns ok=false
// if the table is exhausted (§7: Again).
func (t *Table[T]) Get() (idx uint32, key uint64, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.free)
	if n == 0 {
		return 0, 0, false
	}
	idx = t.free[n-1]
	t.free = t.free[:n-1]
	t.used[idx] = true
	return idx, t.keyLocked(idx), true
}

// Set stores v at idx. Must be called on a slot returned by Get that has
// not yet been released.
func (t *Table[T]) Set(idx uint32, v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.slots[idx] = v
}

// At returns the value at idx and whether the slot is currently occupied.
func (t *Table[T]) At(idx uint32) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(idx) >= len(t.slots) || !t.used[idx] {
		var zero T
		return zero, false
	}
	return t.slots[idx], true
}

// Lookup resolves a previously minted key back to its slot value, failing
// if the slot has since been released and its generation has moved on
// (stale key — e.g. a duplicate or very late rendezvous ack).
func (t *Table[T]) Lookup(key uint64) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := uint32(key & t.keyMask)
	if int(idx) >= len(t.slots) || !t.used[idx] {
		var zero T
		return zero, false
	}
	if t.gen[idx] != uint32(key>>t.keyBits) {
		var zero T
		return zero, false
	}
	return t.slots[idx], true
}

// LookupIndex is Lookup but also returns the resolved slot index, for
// callers that need to Release the slot afterward.
func (t *Table[T]) LookupIndex(key uint64) (T, uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idx := uint32(key & t.keyMask)
	if int(idx) >= len(t.slots) || !t.used[idx] {
		var zero T
		return zero, 0, false
	}
	if t.gen[idx] != uint32(key>>t.keyBits) {
		var zero T
		return zero, 0, false
	}
	return t.slots[idx], idx, true
}

// Release clears idx, bumps its generation so any outstanding key becomes
// stale, and returns it to the free list.
func (t *Table[T]) Release(idx uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var zero T
	t.slots[idx] = zero
	t.used[idx] = false
	t.gen[idx]++
	t.free = append(t.free, idx)
}

// Key returns the current key for an occupied slot (equivalent to the key
// returned by Get, useful when the index was obtained some other way).
func (t *Table[T]) Key(idx uint32) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.keyLocked(idx)
}

func (t *Table[T]) keyLocked(idx uint32) uint64 {
	return (uint64(t.gen[idx]) << t.keyBits) | uint64(idx)
}

// Free returns the number of free slots remaining.
func (t *Table[T]) Free() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.free)
}
