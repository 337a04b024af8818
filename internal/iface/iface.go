// Package iface defines the contracts the rxm endpoint core consumes from
// its external collaborators: the underlying transport (message send/recv,
// RMA read, memory registration, completions) and the connection map that
// resolves a destination address to a per-connection handle. Per the
// design, only the interface is RXM's concern — transport implementations,
// connection establishment, and the progress/completion-processing loop
// itself live outside this package.
package iface

import "github.com/go-rxm/rxm/internal/wire"

// AccessFlags describe the access a memory registration is requested for.
type AccessFlags uint32

const (
	AccessSend AccessFlags = 1 << iota
	AccessRecv
	AccessRead
	AccessWrite
)

// MemDesc is an opaque memory-registration descriptor handed back by
// MRReg and passed to Send/RMARead/RecvPrepost so the transport can find
// the registration backing a buffer. RXM never inspects it.
type MemDesc any

// ConnHandle carries everything the core needs to address a destination:
// the transport endpoint used for the send, and the remote_key stamped
// into the outgoing ctrl_hdr.conn_id (§4.7).
type ConnHandle struct {
	ConnID uint32
	Ep     any // transport-specific per-destination endpoint; opaque to rxm
}

// Completion is one transport completion-queue entry. UserData is the
// value the core supplied when it submitted the operation; the core
// encodes its own dispatch kind into the top bits and a table index into
// the low bits (see progress.go in package rxm).
type Completion struct {
	UserData uint64
	Bytes    int
	Err      error
}

// Transport is the minimal message/RMA transport contract RXM requires
// (§6): reliable, ordered, message-framed delivery per connection, a
// bounded inline/inject size, and RMA read of a remote region.
type Transport interface {
	// InjectSize is the transport's inline/inject size limit in bytes;
	// a packet whose total wire size is within this limit may use Inject.
	InjectSize() int

	// UsesVirtualAddressing reports whether RMA-IOV addresses are virtual
	// (true) or must be treated as zero / offset-relative (false).
	UsesVirtualAddressing() bool

	// RequiresLocalMR reports whether the core must itself register the
	// source iov for a rendezvous send (true), or whether the caller is
	// expected to supply pre-registered descriptors (false).
	RequiresLocalMR() bool

	// MRReg registers buf for the given access and returns an opaque
	// descriptor. MRClose releases it.
	MRReg(buf []byte, access AccessFlags) (MemDesc, error)
	MRClose(desc MemDesc) error

	// Send submits a buffered send; completion is reported asynchronously
	// via Poll with the given userData. Returns ErrTransportAgain if the
	// transport's send queue is full.
	Send(h ConnHandle, buf []byte, desc MemDesc, userData uint64) error

	// Inject submits a send whose buffer is consumed before return and
	// which generates no transport completion.
	Inject(h ConnHandle, buf []byte) error

	// RecvPrepost posts a receive buffer to the transport; its completion
	// (arrival of a packet into buf) is reported via Poll with userData.
	RecvPrepost(buf []byte, desc MemDesc, userData uint64) error

	// RMARead pulls remote-readable regions described by remote into
	// local, completing asynchronously via Poll with userData.
	RMARead(h ConnHandle, local []byte, localDesc MemDesc, remote wire.RMAIOV, userData uint64) error

	// Poll drains up to max completed operations without blocking.
	Poll(max int) ([]Completion, error)

	// WaitFD returns a file descriptor the caller may select/poll on to
	// know when Poll is likely to return work, and whether one exists.
	WaitFD() (fd int, ok bool)
}

// ErrTransportAgain is returned by Transport methods when the transport
// itself is temporarily out of submission resources; callers translate
// this the same way as any other backpressure (§5, §7).
type transportAgain struct{}

func (transportAgain) Error() string { return "transport: resource temporarily unavailable" }

// ErrTransportAgain is the sentinel value transports should return.
var ErrTransportAgain error = transportAgain{}

// ConnMap resolves a destination address to the connection handle used to
// stamp and route an outgoing packet (§4.7). Implementations may return
// ErrTransportAgain while a connection is still being established; any
// other error is fatal and is surfaced to the caller.
type ConnMap interface {
	Get(addr uint64) (ConnHandle, error)
}

// Logger is the narrow logging surface rxm components depend on, so that
// any leveled logger (not just internal/logging's) can be plugged in. With
// binds key-value context (e.g. msg_id, conn_id) that every subsequent call
// on the returned Logger carries automatically.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	With(keyvals ...any) Logger
}
