package rxm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-rxm/rxm/internal/cmap"
	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/looptransport"
)

// TestResourceConservationAcrossEagerRoundTrip checks that the tx pool and
// tx table return to full capacity, and the rx pool to its post-Enable free
// count (every rx buffer stays preposted), once an eager send/recv pair has
// fully drained, i.e. nothing is leaked per operation (§4.1, §4.2).
func TestResourceConservationAcrossEagerRoundTrip(t *testing.T) {
	trA, trB := looptransport.NewPair()
	handleA := looptransport.HandleFor(trA)
	handleB := looptransport.HandleFor(trB)

	a, err := Open(trA, cmap.New(staticResolver{handleB}), DefaultEndpointParams())
	require.NoError(t, err)
	b, err := Open(trB, cmap.New(staticResolver{handleA}), DefaultEndpointParams())
	require.NoError(t, err)
	require.NoError(t, a.Bind())
	require.NoError(t, b.Bind())
	require.NoError(t, a.Enable())
	require.NoError(t, b.Enable())
	defer a.Close()
	defer b.Close()

	txCap, rxFree := a.txPool.Cap(), b.rxPool.Len()
	txTableCap := a.txTable.Cap()

	// 1000 bytes clears the transport's 256-byte inject limit but stays
	// under the rxm inject-size crossover, forcing the eager-buffered path
	// (and thus actually exercising txTable, unlike the inline-inject path).
	out := make([]byte, 1000)
	in := make([]byte, 1000)
	require.NoError(t, b.Recv(AnyAddr, in, "recv-ctx", 0))
	require.NoError(t, a.Send(AnyAddr, out, "send-ctx", 0))

	for i := 0; i < 100 && (len(a.cq) == 0 || len(b.cq) == 0); i++ {
		_ = a.ProgressMulti()
		_ = b.ProgressMulti()
	}

	require.Len(t, a.ReadCQ(0), 1)
	require.Len(t, b.ReadCQ(0), 1)

	assert.Equal(t, txCap, a.txPool.Len())
	assert.Equal(t, rxFree, b.rxPool.Len())
	assert.Equal(t, txTableCap, a.txTable.Free())
}

// TestResourceConservationAcrossRendezvousRoundTrip is the same check for
// the rendezvous path, which additionally exercises MR registration and
// the rma-read table.
func TestResourceConservationAcrossRendezvousRoundTrip(t *testing.T) {
	trA, trB := looptransport.NewPair()
	handleA := looptransport.HandleFor(trA)
	handleB := looptransport.HandleFor(trB)

	a, err := Open(trA, cmap.New(staticResolver{handleB}), DefaultEndpointParams())
	require.NoError(t, err)
	b, err := Open(trB, cmap.New(staticResolver{handleA}), DefaultEndpointParams())
	require.NoError(t, err)
	require.NoError(t, a.Bind())
	require.NoError(t, b.Bind())
	require.NoError(t, a.Enable())
	require.NoError(t, b.Enable())
	defer a.Close()
	defer b.Close()

	txTableCap := a.txTable.Cap()
	rmaTableCap := b.rmaTable.Cap()

	size := DefaultInjectSize + 4096
	out := make([]byte, size)
	in := make([]byte, size)
	require.NoError(t, b.Recv(AnyAddr, in, "recv-ctx", 0))
	require.NoError(t, a.Send(AnyAddr, out, "send-ctx", 0))

	for i := 0; i < 1000 && (len(a.cq) == 0 || len(b.cq) == 0); i++ {
		_ = a.ProgressMulti()
		_ = b.ProgressMulti()
	}

	require.Len(t, a.ReadCQ(0), 1)
	require.Len(t, b.ReadCQ(0), 1)

	assert.Equal(t, txTableCap, a.txTable.Free())
	assert.Equal(t, rmaTableCap, b.rmaTable.Free())
}

func TestClampCompPerProgress(t *testing.T) {
	assert.Equal(t, 4, clampCompPerProgress(0, 8, 16))
	assert.Equal(t, 4, clampCompPerProgress(100, 8, 16))
	assert.Equal(t, 2, clampCompPerProgress(2, 8, 16))
	assert.Equal(t, 1, clampCompPerProgress(0, 1, 1))
}

func TestUserDataRoundTrip(t *testing.T) {
	for _, kind := range []udKind{udKindSend, udKindRecv, udKindRMARead, udKindAck} {
		for _, idx := range []uint32{0, 1, 12345, ^uint32(0)} {
			ud := encodeUserData(kind, idx)
			gotKind, gotIdx := decodeUserData(ud)
			assert.Equal(t, kind, gotKind)
			assert.Equal(t, idx, gotIdx)
		}
	}
}

// TestDeferredRepostRetriesOnBackpressure checks that a repost hitting
// transport backpressure is queued on repostReady rather than lost, and
// that the next progress call successfully retries it (§12 item 3:
// rxm_ep_cleanup_post_rx_list's live-path counterpart).
func TestDeferredRepostRetriesOnBackpressure(t *testing.T) {
	trA, trB := looptransport.NewPair()
	flakyB := &flakyRepostTransport{Transport: trB}
	handleA := looptransport.HandleFor(trA)
	handleFlakyB := iface.ConnHandle{ConnID: 1, Ep: flakyB}

	a, err := Open(trA, cmap.New(staticResolver{handleFlakyB}), DefaultEndpointParams())
	require.NoError(t, err)
	b, err := Open(flakyB, cmap.New(staticResolver{handleA}), DefaultEndpointParams())
	require.NoError(t, err)
	require.NoError(t, a.Bind())
	require.NoError(t, b.Bind())
	require.NoError(t, a.Enable())
	require.NoError(t, b.Enable())
	defer a.Close()
	defer b.Close()

	// Arm the failure only after Enable's initial preposts have all
	// succeeded, so it fires on the arrival's repost instead.
	flakyB.arm(1)

	// A posted recv is required so the arrival is matched immediately
	// (and thus reposts its rx buffer) rather than sitting unmatched in
	// the unexpected queue, which holds its buffer without reposting.
	in := make([]byte, 64)
	require.NoError(t, b.Recv(AnyAddr, in, "recv-ctx", 0))

	// 64 bytes clears neither injectLimit nor params.InjectSize, so this
	// takes the inline-inject path, which completes the sender's own
	// completion synchronously inside Send itself.
	out := make([]byte, 64)
	require.NoError(t, a.Send(AnyAddr, out, "send-ctx", 0))
	require.Len(t, a.ReadCQ(0), 1)

	// One progress call drains the arrival and attempts its repost, which
	// is armed to fail once and so must be deferred rather than lost.
	_ = b.ProgressMulti()
	require.Len(t, b.ReadCQ(0), 1)
	require.NotEmpty(t, b.repostReady, "repost should have been deferred after the injected failure")

	// The next progress call retries the deferred repost before polling.
	_ = b.ProgressMulti()
	assert.Empty(t, b.repostReady, "deferred repost should have been retried and cleared")
}

type flakyRepostTransport struct {
	*looptransport.Transport
	mu       sync.Mutex
	failNext int
}

func (f *flakyRepostTransport) arm(n int) {
	f.mu.Lock()
	f.failNext = n
	f.mu.Unlock()
}

func (f *flakyRepostTransport) RecvPrepost(buf []byte, desc iface.MemDesc, userData uint64) error {
	f.mu.Lock()
	if f.failNext > 0 {
		f.failNext--
		f.mu.Unlock()
		return iface.ErrTransportAgain
	}
	f.mu.Unlock()
	return f.Transport.RecvPrepost(buf, desc, userData)
}

type staticResolver struct {
	handle iface.ConnHandle
}

func (r staticResolver) Resolve(addr uint64) (iface.ConnHandle, error) { return r.handle, nil }
