// Package looptransport implements an in-memory iface.Transport test
// double. It has no analog in the teacher (whose "transport" is the real
// kernel io_uring ring), but is modeled on the teacher's testing.go
// MockBackend: a minimal, fully in-process stand-in that lets the rest of
// the module be exercised without real hardware or a real network, used
// by the root package's tests and by cmd/rxm-pingpong.
//
// A Pair shares one domain between two Transports so that sends/injects
// from one side land in the other's posted-recv or pending-data queue,
// and so RMA reads can resolve memory the peer registered.
package looptransport

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/wire"
)

// injectSize bounds how large a buffer Inject will accept, standing in for
// a real transport's inline-send limit (§4.1).
const injectSize = 256

type region struct {
	buf []byte
}

type domain struct {
	mu      sync.Mutex
	regions map[uint64]*region
	nextKey uint64
}

func newDomain() *domain {
	return &domain{regions: make(map[uint64]*region)}
}

func (d *domain) register(buf []byte) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextKey++
	key := d.nextKey
	d.regions[key] = &region{buf: buf}
	return key
}

func (d *domain) close(key uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.regions, key)
}

func (d *domain) read(key uint64, off, n uint64) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.regions[key]
	if !ok {
		return nil, errors.New("looptransport: unknown remote key")
	}
	if off+n > uint64(len(r.buf)) {
		return nil, errors.New("looptransport: rma read out of bounds")
	}
	out := make([]byte, n)
	copy(out, r.buf[off:off+n])
	return out, nil
}

type memDesc struct {
	key uint64
}

// RemoteKey exposes the registration key embedded into an outgoing
// RMA-IOV descriptor (rxm's rendezvous send path type-asserts for this
// optional method on whatever MemDesc the transport returns).
func (d *memDesc) RemoteKey() uint64 { return d.key }

type postedRecv struct {
	buf      []byte
	desc     iface.MemDesc
	userData uint64
}

type pendingData struct {
	data []byte
}

// Transport is one endpoint of a looptransport.Pair.
type Transport struct {
	dom  *domain
	peer *Transport

	mu       sync.Mutex
	posted   []postedRecv
	pending  []pendingData
	comps    []iface.Completion
	virtAddr bool
}

// NewPair builds two Transports sharing a domain, each other's peer.
func NewPair() (a, b *Transport) {
	dom := newDomain()
	a = &Transport{dom: dom, virtAddr: true}
	b = &Transport{dom: dom, virtAddr: true}
	a.peer = b
	b.peer = a
	return a, b
}

func (t *Transport) InjectSize() int             { return injectSize }
func (t *Transport) UsesVirtualAddressing() bool { return t.virtAddr }
func (t *Transport) RequiresLocalMR() bool       { return true }

func (t *Transport) MRReg(buf []byte, _ iface.AccessFlags) (iface.MemDesc, error) {
	key := t.dom.register(buf)
	return &memDesc{key: key}, nil
}

func (t *Transport) MRClose(desc iface.MemDesc) error {
	d, ok := desc.(*memDesc)
	if !ok {
		return errors.New("looptransport: bad mem descriptor")
	}
	t.dom.close(d.key)
	return nil
}

// deliver hands data to the peer: satisfying an already-posted recv
// immediately, or queuing it as pending if none is posted yet (§4.5: a
// message with no matching posted receive becomes unexpected — here
// "unexpected" at the transport layer just means nothing was preposted).
func (t *Transport) deliver(data []byte) {
	t.mu.Lock()
	if len(t.posted) > 0 {
		p := t.posted[0]
		t.posted = t.posted[1:]
		n := copy(p.buf, data)
		t.comps = append(t.comps, iface.Completion{UserData: p.userData, Bytes: n})
		t.mu.Unlock()
		return
	}
	t.pending = append(t.pending, pendingData{data: data})
	t.mu.Unlock()
}

func (t *Transport) Send(h iface.ConnHandle, buf []byte, _ iface.MemDesc, userData uint64) error {
	cp := append([]byte(nil), buf...)
	t.peer.deliver(cp)
	t.mu.Lock()
	t.comps = append(t.comps, iface.Completion{UserData: userData, Bytes: len(buf)})
	t.mu.Unlock()
	return nil
}

func (t *Transport) Inject(h iface.ConnHandle, buf []byte) error {
	if len(buf) > injectSize {
		return errors.New("looptransport: buffer exceeds inject size")
	}
	cp := append([]byte(nil), buf...)
	t.peer.deliver(cp)
	return nil
}

func (t *Transport) RecvPrepost(buf []byte, desc iface.MemDesc, userData uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) > 0 {
		p := t.pending[0]
		t.pending = t.pending[1:]
		n := copy(buf, p.data)
		t.comps = append(t.comps, iface.Completion{UserData: userData, Bytes: n})
		return nil
	}
	t.posted = append(t.posted, postedRecv{buf: buf, desc: desc, userData: userData})
	return nil
}

func (t *Transport) RMARead(h iface.ConnHandle, local []byte, _ iface.MemDesc, remote wire.RMAIOV, userData uint64) error {
	var off uint64
	total := 0
	for _, e := range remote.Entries {
		n := e.Len
		if off+n > uint64(len(local)) {
			n = uint64(len(local)) - off
		}
		data, err := t.dom.read(e.Key, 0, n)
		if err != nil {
			return err
		}
		copy(local[off:], data)
		off += n
		total += int(n)
	}

	t.mu.Lock()
	t.comps = append(t.comps, iface.Completion{UserData: userData, Bytes: total})
	t.mu.Unlock()
	return nil
}

func (t *Transport) Poll(max int) ([]iface.Completion, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.comps) == 0 {
		return nil, nil
	}
	n := max
	if n <= 0 || n > len(t.comps) {
		n = len(t.comps)
	}
	out := t.comps[:n]
	t.comps = t.comps[n:]
	return out, nil
}

func (t *Transport) WaitFD() (int, bool) { return 0, false }

var connIDSeq uint32

// HandleFor mints a ConnHandle addressing this transport as the remote
// endpoint of a send; looptransport has only one peer, so ConnID is only
// used to exercise wire-format stamping, not actual routing.
func HandleFor(tr *Transport) iface.ConnHandle {
	return iface.ConnHandle{ConnID: atomic.AddUint32(&connIDSeq, 1), Ep: tr}
}

var _ iface.Transport = (*Transport)(nil)
