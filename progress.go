package rxm

import "github.com/go-rxm/rxm/internal/iface"

// Completion dispatch uses the top 2 bits of the 64-bit transport userData
// as a kind tag and the low 62 bits as a table index, the same trick the
// teacher's io_uring runner uses to fold an op kind into a single
// completion-queue user_data word (udOpFetch/udOpCommit).
type udKind uint64

const (
	udKindSend udKind = iota
	udKindRecv
	udKindRMARead
	udKindAck
)

const udKindShift = 62
const udIndexMask = (uint64(1) << udKindShift) - 1

func encodeUserData(kind udKind, idx uint32) uint64 {
	return (uint64(kind) << udKindShift) | (uint64(idx) & udIndexMask)
}

func decodeUserData(ud uint64) (udKind, uint32) {
	return udKind(ud >> udKindShift), uint32(ud & udIndexMask)
}

// ProgressOne drains and processes a single transport completion, if one
// is ready. It does not block (§5: "the core never blocks").
func (e *Endpoint) ProgressOne() error {
	return e.progressN(1)
}

// ProgressMulti drains and processes up to the endpoint's configured
// comp_per_progress completions.
func (e *Endpoint) ProgressMulti() error {
	return e.progressN(e.params.CompPerProgress)
}

func (e *Endpoint) progressN(max int) error {
	e.retryReposts()
	comps, err := e.transport.Poll(max)
	if err != nil {
		return WrapTransportError("progress", err)
	}
	for _, c := range comps {
		e.dispatchCompletion(c)
	}
	return nil
}

func (e *Endpoint) dispatchCompletion(c iface.Completion) {
	kind, idx := decodeUserData(c.UserData)
	switch kind {
	case udKindSend:
		e.handleSendCompletion(idx, c)
	case udKindRecv:
		e.handleRecvCompletion(idx, c)
	case udKindRMARead:
		e.handleRMAReadCompletion(idx, c)
	case udKindAck:
		e.handleAckCompletion(idx, c)
	default:
		e.logger.With("kind", kind).Warnf("progress: unknown completion kind")
	}
}
