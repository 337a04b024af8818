// Package cmap implements the connection-map abstraction described in
// §4.7: a lookup from a destination address to the connection handle used
// to stamp ctrl_hdr.conn_id on an outgoing packet. Connection setup itself
// is explicitly out of scope for the endpoint core, so Map delegates the
// slow path (first contact with a new address) to a Resolver and caches
// the result.
//
// Grounded on the teacher's dense table idioms (internal/entry in this
// module; go-ublk's array-plus-mutex device tables) for the hot lookup
// path, with xxhash used for the bucket hash — following the other
// retrieved pack repos (e.g. NVIDIA/aistore) which reach for
// cespare/xxhash/v2 rather than hand-rolling FNV for this kind of
// fixed-key hashing.
package cmap

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/go-rxm/rxm/internal/iface"
)

// Resolver performs the actual (out-of-scope) connection establishment for
// an address not yet present in the map.
type Resolver interface {
	Resolve(addr uint64) (iface.ConnHandle, error)
}

const bucketCount = 64

type entryNode struct {
	addr uint64
	h    iface.ConnHandle
	next *entryNode
}

// Map is a hashed connection-address cache in front of a Resolver.
type Map struct {
	mu       sync.RWMutex
	buckets  []*entryNode
	resolver Resolver
}

// New builds a Map backed by resolver.
func New(resolver Resolver) *Map {
	return &Map{
		buckets:  make([]*entryNode, bucketCount),
		resolver: resolver,
	}
}

func bucketFor(addr uint64) int {
	var b [8]byte
	b[0] = byte(addr)
	b[1] = byte(addr >> 8)
	b[2] = byte(addr >> 16)
	b[3] = byte(addr >> 24)
	b[4] = byte(addr >> 32)
	b[5] = byte(addr >> 40)
	b[6] = byte(addr >> 48)
	b[7] = byte(addr >> 56)
	return int(xxhash.Sum64(b[:]) % bucketCount)
}

// Get resolves addr to a ConnHandle, consulting the cache first and
// falling back to the Resolver (and caching its result) on a miss.
// Implements iface.ConnMap.
func (m *Map) Get(addr uint64) (iface.ConnHandle, error) {
	bucket := bucketFor(addr)

	m.mu.RLock()
	for n := m.buckets[bucket]; n != nil; n = n.next {
		if n.addr == addr {
			h := n.h
			m.mu.RUnlock()
			return h, nil
		}
	}
	m.mu.RUnlock()

	h, err := m.resolver.Resolve(addr)
	if err != nil {
		return iface.ConnHandle{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for n := m.buckets[bucket]; n != nil; n = n.next {
		if n.addr == addr {
			return n.h, nil // lost a race with a concurrent resolve; keep the first winner
		}
	}
	m.buckets[bucket] = &entryNode{addr: addr, h: h, next: m.buckets[bucket]}
	return h, nil
}

// Forget evicts addr from the cache, e.g. after the transport reports the
// underlying connection has failed.
func (m *Map) Forget(addr uint64) {
	bucket := bucketFor(addr)

	m.mu.Lock()
	defer m.mu.Unlock()
	var prev *entryNode
	for n := m.buckets[bucket]; n != nil; n = n.next {
		if n.addr == addr {
			if prev == nil {
				m.buckets[bucket] = n.next
			} else {
				prev.next = n.next
			}
			return
		}
		prev = n
	}
}

// Len reports the number of cached connections, for tests.
func (m *Map) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, head := range m.buckets {
		for e := head; e != nil; e = e.next {
			n++
		}
	}
	return n
}

var _ iface.ConnMap = (*Map)(nil)
