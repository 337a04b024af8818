package rxm

import (
	"sync"

	"github.com/go-rxm/rxm/internal/entry"
	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/match"
	"github.com/go-rxm/rxm/internal/pool"
)

type epState int

const (
	stateInit epState = iota
	stateBound
	stateEnabled
	stateClosed
)

// EndpointParams configures an Endpoint at Open time. Queue sizes and the
// inline/rendezvous crossover are fixed for the endpoint's lifetime
// (§1 Non-goals: no dynamic reconfiguration).
type EndpointParams struct {
	InjectSize      int
	TxQueueSize     int
	RxQueueSize     int
	IOVLimit        int
	CompPerProgress int
	Directed        bool // directed-receive capability; off forces wildcard source filters
	Logger          iface.Logger
	Observer        Observer
}

// DefaultEndpointParams returns the package defaults; CompPerProgress is
// resolved against the queue sizes inside Open.
func DefaultEndpointParams() EndpointParams {
	return EndpointParams{
		InjectSize:      DefaultInjectSize,
		TxQueueSize:     DefaultTxQueueSize,
		RxQueueSize:     DefaultRxQueueSize,
		IOVLimit:        DefaultIOVLimit,
		CompPerProgress: 0,
		Directed:        true,
	}
}

// rxSlot is the bookkeeping kept alongside each preposted RX buffer so a
// transport completion (which only carries an index) can be turned back
// into the buffer and descriptor it arrived on.
type rxSlot struct {
	buf *pool.Buf
}

// Endpoint is the RXM endpoint core: it owns the TX/RX pools, the
// send-entry table, the untagged and tagged posted-recv and
// unexpected-message queues, and the connection map, and drives the
// eager/rendezvous send and receive state machines (§3).
type Endpoint struct {
	mu    sync.Mutex
	state epState

	transport iface.Transport
	cmap      iface.ConnMap
	logger    iface.Logger
	observer  Observer

	params EndpointParams

	txPool *pool.Pool
	rxPool *pool.Pool

	txTable  *entry.Table[*TxEntry]
	rxTable  *entry.Table[*rxSlot]
	rmaTable *entry.Table[*rmaRead]

	untaggedRecv  *match.Queue[*RecvEntry]
	taggedRecv    *match.Queue[*RecvEntry]
	untaggedUnexp *match.Queue[*UnexpMsg]
	taggedUnexp   *match.Queue[*UnexpMsg]

	claimMu   sync.Mutex
	claims    map[ClaimToken]*UnexpMsg
	nextClaim uint64

	repostMu    sync.Mutex
	repostReady []uint32

	cqMu sync.Mutex
	cq   []Completion
}

// pushCompletion appends a completion to the endpoint's user-facing CQ.
func (e *Endpoint) pushCompletion(c Completion) {
	e.cqMu.Lock()
	e.cq = append(e.cq, c)
	e.cqMu.Unlock()
}

// ReadCQ drains up to max pending completions, in the order they were
// generated. max<=0 drains everything currently queued.
func (e *Endpoint) ReadCQ(max int) []Completion {
	e.cqMu.Lock()
	defer e.cqMu.Unlock()
	if len(e.cq) == 0 {
		return nil
	}
	n := max
	if n <= 0 || n > len(e.cq) {
		n = len(e.cq)
	}
	out := e.cq[:n]
	e.cq = e.cq[n:]
	return out
}

func recvEntryKey(e *RecvEntry) match.Key {
	return match.Key{Addr: uint64(e.addr), Tag: e.tag, IgnoreMask: e.ignoreMask, Tagged: e.tagged, AnyAddr: e.anyAddr}
}

func unexpMsgKey(u *UnexpMsg) match.Key {
	return match.Key{Addr: uint64(u.addr), Tag: u.tag, Tagged: u.tagged}
}

// Open constructs an Endpoint's pools, tables and queues. The transport is
// assumed already open (§1: connection establishment, transport CQ, and
// passive-endpoint listen are external collaborators); Open only sizes
// and allocates the core's own resources.
func Open(transport iface.Transport, cmap iface.ConnMap, params EndpointParams) (*Endpoint, error) {
	if transport == nil || cmap == nil {
		return nil, NewError("open", CodeInval, "transport and cmap are required")
	}
	if params.TxQueueSize <= 0 {
		params.TxQueueSize = DefaultTxQueueSize
	}
	if params.RxQueueSize <= 0 {
		params.RxQueueSize = DefaultRxQueueSize
	}
	if params.InjectSize <= 0 {
		params.InjectSize = DefaultInjectSize
	}
	if params.IOVLimit <= 0 {
		params.IOVLimit = DefaultIOVLimit
	}
	params.CompPerProgress = clampCompPerProgress(params.CompPerProgress, params.TxQueueSize, params.RxQueueSize)
	if params.Logger == nil {
		params.Logger = noopLogger{}
	}
	if params.Observer == nil {
		params.Observer = NoOpObserver{}
	}

	elemSize := wireHeaderBudget(params)

	e := &Endpoint{
		transport: transport,
		cmap:      cmap,
		logger:    params.Logger,
		observer:  params.Observer,
		params:    params,
		txTable:   entry.New[*TxEntry](params.TxQueueSize),
		rxTable:   entry.New[*rxSlot](params.RxQueueSize),
		rmaTable:  entry.New[*rmaRead](params.RxQueueSize),
		claims:    make(map[ClaimToken]*UnexpMsg),
	}
	e.untaggedRecv = match.NewQueue(recvEntryKey)
	e.taggedRecv = match.NewQueue(recvEntryKey)
	e.untaggedUnexp = match.NewQueue(unexpMsgKey)
	e.taggedUnexp = match.NewQueue(unexpMsgKey)

	var register pool.RegisterFunc
	var closeFn pool.CloseFunc
	register = func(chunk []byte) (any, error) {
		return transport.MRReg(chunk, iface.AccessSend|iface.AccessRecv|iface.AccessRead|iface.AccessWrite)
	}
	closeFn = func(desc any) error { return transport.MRClose(desc) }

	txPool, err := pool.New(elemSize, params.TxQueueSize, register, closeFn)
	if err != nil {
		return nil, WrapTransportError("open", err)
	}
	rxPool, err := pool.New(elemSize, params.RxQueueSize, register, closeFn)
	if err != nil {
		_ = txPool.Close()
		return nil, WrapTransportError("open", err)
	}
	e.txPool = txPool
	e.rxPool = rxPool

	e.state = stateInit
	return e, nil
}

// wireHeaderBudget sizes a TX/RX buffer to hold the header plus either the
// RXM inject-size payload or an RMA-IOV descriptor of IOVLimit entries,
// whichever is larger.
func wireHeaderBudget(params EndpointParams) int {
	iovBudget := 1 + params.IOVLimit*24 // wire.RMAIOVEntrySize, duplicated to avoid importing wire just for a constant
	payloadBudget := params.InjectSize
	if iovBudget > payloadBudget {
		payloadBudget = iovBudget
	}
	return 44 + payloadBudget // wire.HeaderSize, duplicated for the same reason
}

// Bind attaches the endpoint to its transport resources. Address-vector
// and completion-queue binding are modeled as already done by the
// transport the caller supplied; Bind only validates ordering (§4.8).
func (e *Endpoint) Bind() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateInit {
		return NewError("bind", CodeBadState, "endpoint must be open and unbound")
	}
	e.state = stateBound
	return nil
}

// Enable prepost RX buffers and transitions the endpoint into the state
// where sends and receives may be issued (§4.8).
func (e *Endpoint) Enable() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != stateBound {
		return NewError("enable", CodeBadState, "endpoint must be bound before enable")
	}

	for {
		buf, err := e.rxPool.Acquire()
		if err == pool.ErrExhausted {
			break
		}
		if err != nil {
			return WrapTransportError("enable", err)
		}
		if err := e.prepostLocked(buf); err != nil {
			e.rxPool.Release(buf)
			return err
		}
	}

	e.state = stateEnabled
	return nil
}

func (e *Endpoint) prepostLocked(buf *pool.Buf) error {
	idx, _, ok := e.rxTable.Get()
	if !ok {
		return NewError("enable", CodeNoMemory, "rx entry table exhausted")
	}
	e.rxTable.Set(idx, &rxSlot{buf: buf})
	if err := e.transport.RecvPrepost(buf.Bytes, buf.Desc, encodeUserData(udKindRecv, idx)); err != nil {
		e.rxTable.Release(idx)
		return WrapTransportError("enable", err)
	}
	return nil
}

// Close tears down the endpoint's resources in reverse acquisition order,
// accumulating errors rather than stopping at the first one (§4.8).
// Closing an already-closed endpoint is a caller error.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == stateClosed {
		return NewError("close", CodeBadState, "endpoint already closed")
	}

	var first error
	record := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}

	e.untaggedRecv.Each(func(r *RecvEntry) { e.emitCanceled(r) })
	e.taggedRecv.Each(func(r *RecvEntry) { e.emitCanceled(r) })
	e.untaggedRecv.DrainAll()
	e.taggedRecv.DrainAll()
	e.untaggedUnexp.DrainAll()
	e.taggedUnexp.DrainAll()

	for idx := uint32(0); idx < uint32(e.txTable.Cap()); idx++ {
		if te, ok := e.txTable.At(idx); ok {
			if te.buf != nil {
				e.txPool.Release(te.buf)
			}
			e.closeRegistrations(te)
			e.txTable.Release(idx)
		}
	}

	e.drainRepostReadyLocked()

	record(e.txPool.Close())
	record(e.rxPool.Close())

	e.state = stateClosed
	return first
}

// drainRepostReadyLocked releases any rx buffers still waiting on a
// deferred repost (their earlier transport.RecvPrepost hit backpressure,
// see repostRxBuf) back to the pool rather than retrying, since the
// endpoint is shutting down.
func (e *Endpoint) drainRepostReadyLocked() {
	e.repostMu.Lock()
	pending := e.repostReady
	e.repostReady = nil
	e.repostMu.Unlock()

	for _, idx := range pending {
		if slot, ok := e.rxTable.At(idx); ok {
			e.rxPool.Release(slot.buf)
			e.rxTable.Release(idx)
		}
	}
}

// retryReposts retries any rx buffer whose repost was deferred by
// repostRxBuf, modeled on rxm_ep_cleanup_post_rx_list's live-path
// counterpart: buffers that hit transport backpressure are retried on
// the next progress call rather than lost.
func (e *Endpoint) retryReposts() {
	e.repostMu.Lock()
	pending := e.repostReady
	e.repostReady = nil
	e.repostMu.Unlock()

	for _, idx := range pending {
		e.repostRxBuf(idx)
	}
}

func (e *Endpoint) emitCanceled(r *RecvEntry) {
	e.observer.ObserveCanceled()
	flags := CompRecv
	if r.tagged {
		flags |= CompTagged
	} else {
		flags |= CompMsg
	}
	e.pushCompletion(Completion{Context: r.ctx, Flags: flags, Tag: r.tag, Err: ErrCanceled})
}

type noopLogger struct{}

func (noopLogger) Debugf(string, ...any)      {}
func (noopLogger) Infof(string, ...any)       {}
func (noopLogger) Warnf(string, ...any)       {}
func (noopLogger) Errorf(string, ...any)      {}
func (n noopLogger) With(...any) iface.Logger { return n }
