package rxm

import (
	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/pool"
	"github.com/go-rxm/rxm/internal/wire"
)

// txState tracks a TxEntry through the eager or rendezvous send path.
type txState int

const (
	txStateSending txState = iota // TX: eager send submitted, awaiting transport completion
	txStateLMT                    // LMT_TX: rendezvous announced, awaiting RMA-read + ack
)

// txRegistration is one source-iov registration held by a rendezvous
// TxEntry so it can be closed on terminal completion.
type txRegistration struct {
	desc      any
	ownedByUs bool // false when the caller supplied a pre-registered descriptor
}

// TxEntry is an in-flight send descriptor (§3). It intentionally holds no
// back-pointer to its owning Endpoint (§9): only what's needed to finish
// or cancel the operation.
type TxEntry struct {
	msgID   uint64
	idx     uint32
	state   txState
	ctx     Context
	flags   SendFlags
	comp    CompletionFlags
	tagged  bool
	tag     uint64
	data    uint64
	buf     *pool.Buf
	regs    []txRegistration
	dest    Addr // destination address, kept for logging/diagnostics only
	size    int  // payload size, for completion/metrics reporting
	ackOnly bool // true for the ephemeral entry used to send a rendezvous ack
}

// RecvEntry is a posted-receive descriptor (§3).
type RecvEntry struct {
	addr       Addr
	anyAddr    bool
	tagged     bool
	tag        uint64
	ignoreMask uint64
	iov        []byte
	desc       any
	ctx        Context
	flags      RecvFlags
	comp       CompletionFlags
}

// UnexpMsg is a fully received packet whose match has not yet been
// claimed (§3). For large_data arrivals, remoteIOV carries the rendezvous
// descriptor to pull once a matching receive is posted.
type UnexpMsg struct {
	addr      Addr
	connID    uint32
	tagged    bool
	tag       uint64
	opLarge   bool
	msgID     uint64
	data      uint64
	remoteCQD bool
	payload   []byte // view into the held RxBuf for eager misses, nil for large_data
	remoteIOV wire.RMAIOV
	rxIdx     uint32
	heldBuf   bool // true if an RxBuf is pinned awaiting claim (eager only, §4.5)
	claimed   bool
	token     ClaimToken
	size      int // reported payload length, from op_hdr.size at arrival
}

// rmaRead tracks a receiver-initiated RMA pull of a rendezvous payload,
// keyed in Endpoint.rmaTable by its slot index (the userData low bits).
type rmaRead struct {
	handle    iface.ConnHandle
	msgID     uint64
	ctx       Context
	tag       uint64
	tagged    bool
	comp      CompletionFlags
	size      int
	data      uint64
	remoteCQD bool
	localDesc any
	ownedDesc bool
}
