// Package rxm implements a userspace messaging layer overlaying reliable,
// message-boundary-preserving, tagged and untagged point-to-point
// communication on top of a connection-oriented transport. It provides
// eager and rendezvous send paths, posted-receive/unexpected-message
// matching with tag and ignore-mask semantics, and PEEK/CLAIM/DISCARD
// inspection of buffered unexpected messages.
//
// The transport itself, connection establishment, and the completion
// polling loop are external collaborators the caller supplies; see
// internal/iface for the contracts they must satisfy.
package rxm

// Addr identifies a destination endpoint. Its interpretation (e.g. as a
// fabric address) is entirely up to the connection map's Resolver.
type Addr uint64

// AnyAddr is the directed-receive wildcard: a receive posted with AnyAddr
// matches an arrival from any source.
const AnyAddr Addr = 0

// Context is an opaque user value echoed back on the Completion generated
// by the operation it was attached to. Callers typically store a pointer
// to their own request bookkeeping here.
type Context any

// SendFlags modify how a send is submitted.
type SendFlags uint32

const (
	// FlagInject promises the source buffer is fully consumed before the
	// call returns and suppresses any completion. A send with this flag
	// whose header plus payload exceed the transport's inject size is
	// rejected with ErrMsgTooLarge (§8 scenario 5); it never falls back to
	// the eager-buffered or rendezvous paths.
	FlagInject SendFlags = 1 << iota
	// FlagRemoteCQData marks the send as carrying 64 bits of remote CQ
	// data in OpHdr.Data, surfaced on the receiver's completion.
	FlagRemoteCQData
	// FlagTransmitComplete is carried to the peer as the wire header's
	// transmit-complete bit. It does not change when the sender's own
	// completion is generated.
	FlagTransmitComplete
	// FlagDeliveryComplete is carried to the peer as the wire header's
	// delivery-complete bit. It does not change when the sender's own
	// completion is generated; eager sends still complete locally.
	FlagDeliveryComplete
)

// RecvFlags modify how a receive is posted.
type RecvFlags uint32

const (
	// FlagPeek inspects the unexpected-message queue without consuming a
	// match; no RecvEntry is posted if nothing matches.
	FlagPeek RecvFlags = 1 << iota
	// FlagClaim, combined with FlagPeek, reserves a peeked match and
	// returns its ClaimToken; the reserved match is consumed by RecvClaim.
	// Recv/TRecv with FlagClaim but without FlagPeek fail with ErrInval.
	FlagClaim
	// FlagDiscard drops a matched unexpected message instead of copying
	// it into the caller's iov.
	FlagDiscard
)

// CompletionFlags classify a Completion: direction, message class, and
// whether remote CQ data is valid.
type CompletionFlags uint32

const (
	CompRecv CompletionFlags = 1 << iota
	CompSend
	CompMsg
	CompTagged
	CompRemoteCQData
)

// Completion is delivered to the caller for every terminal send/recv
// operation, cancellation, and PEEK/CLAIM result.
type Completion struct {
	Context Context
	Flags   CompletionFlags
	Bytes   int
	Tag     uint64
	Data    uint64 // valid iff Flags&CompRemoteCQData != 0
	Err     error  // non-nil on error completions (e.g. ErrCanceled)

	// ClaimToken is set on a PEEK|CLAIM completion; pass it to RecvClaim to
	// consume or discard the reserved message (§9: claim-token map
	// replacing context-slot smuggling).
	ClaimToken ClaimToken
}

// ClaimToken identifies a message reserved by a PEEK|CLAIM receive.
type ClaimToken uint64
