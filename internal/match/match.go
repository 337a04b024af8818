// Package match implements the tag/ignore-mask matching predicate and the
// posted-recv / unexpected-message queues described in §4.3-§4.6. Both
// queues are the same underlying structure: an ordered list consulted with
// a predicate function, searched front-to-back so arrival order (FIFO
// fairness, §4.6) is preserved. A slice with swap-free removal is used
// instead of container/list, mirroring the teacher's preference for flat
// slices over the standard library's pointer-chasing containers (see
// go-ublk's tagStates arrays).
package match

import "sync"

// Key is the addressing/tag information carried by both a posted receive
// and an arriving (or already-buffered unexpected) message.
type Key struct {
	Addr       uint64 // source address; ignored when the posted side sets AnyAddr
	Tag        uint64
	IgnoreMask uint64 // bits set here are don't-care when matching Tag
	Tagged     bool
	AnyAddr    bool // directed-receive wildcard (FI_ADDR_UNSPEC equivalent)
}

// Matches reports whether a posted receive described by want matches an
// arriving message described by got. Matching is asymmetric by design
// (§4.3): the posted side's ignore mask is applied, the arriving side's is
// not — an arriving message can't itself claim to match "anything".
func Matches(want, got Key) bool {
	if want.Tagged != got.Tagged {
		return false
	}
	if !want.AnyAddr && want.Addr != got.Addr {
		return false
	}
	if !want.Tagged {
		return true
	}
	return (want.Tag | want.IgnoreMask) == (got.Tag | want.IgnoreMask)
}

// Queue is a generic FIFO match queue: entries are appended at Push and
// consulted front-to-back by Find/FindFunc/PeekFunc, splicing out of the middle of the
// slice when a non-head entry matches (§4.6: posted receives are searched
// in arrival order but any of them may be the one a given message
// satisfies).
type Queue[T any] struct {
	mu      sync.Mutex
	entries []T
	keyOf   func(T) Key
}

// NewQueue builds a Queue whose entries expose their Key via keyOf.
func NewQueue[T any](keyOf func(T) Key) *Queue[T] {
	return &Queue[T]{keyOf: keyOf}
}

// Push appends an entry to the back of the queue.
func (q *Queue[T]) Push(v T) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = append(q.entries, v)
}

// Find removes and returns the first entry whose Key matches want under
// Matches(want, entryKey). ok is false if nothing matches.
func (q *Queue[T]) Find(want Key) (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if Matches(want, q.keyOf(e)) {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	var zero T
	return zero, false
}

// FindFunc is like Find but lets the caller supply an arbitrary predicate
// over an entry directly, for cases where the match also depends on
// fields outside Key (e.g. a specific claim token for CLAIM, §4.4).
func (q *Queue[T]) FindFunc(pred func(T) bool) (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if pred(e) {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return e, true
		}
	}
	var zero T
	return zero, false
}

// PeekFunc is like FindFunc but does not remove the matched entry (§4.4 PEEK).
func (q *Queue[T]) PeekFunc(pred func(T) bool) (v T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.entries {
		if pred(e) {
			return e, true
		}
	}
	var zero T
	return zero, false
}

// RemoveFunc removes and returns the first entry matching pred, without
// requiring a Key match (used by cancellation, §4.9).
func (q *Queue[T]) RemoveFunc(pred func(T) bool) (v T, ok bool) {
	return q.FindFunc(pred)
}

// Len reports the current queue depth (exposed for Observer.ObserveQueueDepth).
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Each calls fn for every entry currently queued, in FIFO order. fn must
// not mutate the queue; used for drain-on-close enumeration (§4.8).
func (q *Queue[T]) Each(fn func(T)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, e := range q.entries {
		fn(e)
	}
}

// DrainAll removes and returns every entry, in FIFO order, emptying the queue.
func (q *Queue[T]) DrainAll() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.entries
	q.entries = nil
	return out
}
