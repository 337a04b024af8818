package rxm

import (
	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/match"
	"github.com/go-rxm/rxm/internal/wire"
)

func recvCompFlagsBase(tagged bool) CompletionFlags {
	f := CompRecv
	if tagged {
		f |= CompTagged
	} else {
		f |= CompMsg
	}
	return f
}

// Recv posts an untagged receive. src may be AnyAddr for a wildcard
// source filter; if the endpoint was not opened with directed-receive
// capability the filter is forced to wildcard regardless (§4.3).
func (e *Endpoint) Recv(src Addr, buf []byte, ctx Context, flags RecvFlags) error {
	return e.recvCommon(src, false, 0, 0, buf, ctx, flags)
}

// TRecv posts a tagged receive matching tag modulo ignore's don't-care bits.
func (e *Endpoint) TRecv(src Addr, buf []byte, tag uint64, ignore uint64, ctx Context, flags RecvFlags) error {
	return e.recvCommon(src, true, tag, ignore, buf, ctx, flags)
}

// RecvClaim consumes a message previously reserved by a PEEK|CLAIM
// receive (§9: claim-token map replacing context-slot smuggling). Passing
// FlagDiscard drops the message instead of copying it into buf.
func (e *Endpoint) RecvClaim(token ClaimToken, buf []byte, ctx Context, flags RecvFlags) error {
	e.claimMu.Lock()
	msg, ok := e.claims[token]
	if ok {
		delete(e.claims, token)
	}
	e.claimMu.Unlock()
	if !ok {
		return NewError("recv", CodeInval, "unknown or already-consumed claim token")
	}

	if flags&FlagDiscard != 0 {
		e.discardUnexp(msg)
		e.pushCompletion(Completion{Context: ctx, Flags: recvCompFlagsBase(msg.tagged), Tag: msg.tag})
		return nil
	}

	re := &RecvEntry{addr: msg.addr, tagged: msg.tagged, tag: msg.tag, iov: buf, ctx: ctx, flags: flags, comp: recvCompFlagsBase(msg.tagged)}
	return e.deliverUnexpToIOV(msg, re)
}

func (e *Endpoint) recvCommon(src Addr, tagged bool, tag, ignore uint64, buf []byte, ctx Context, flags RecvFlags) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != stateEnabled {
		return NewError("recv", CodeBadState, "endpoint not enabled")
	}

	addr := src
	anyAddr := src == AnyAddr
	if !e.params.Directed {
		anyAddr = true
	}

	if flags&FlagPeek != 0 {
		return e.handlePeek(addr, anyAddr, tagged, tag, ignore, ctx, flags)
	}
	if flags&FlagClaim != 0 {
		return NewError("recv", CodeInval, "claim-only receive must use RecvClaim with a token")
	}

	re := &RecvEntry{addr: addr, anyAddr: anyAddr, tagged: tagged, tag: tag, ignoreMask: ignore, iov: buf, ctx: ctx, flags: flags, comp: recvCompFlagsBase(tagged)}
	want := recvEntryKey(re)

	unexpQueue := e.untaggedUnexp
	recvQueue := e.untaggedRecv
	if tagged {
		unexpQueue = e.taggedUnexp
		recvQueue = e.taggedRecv
	}

	msg, ok := unexpQueue.FindFunc(func(u *UnexpMsg) bool { return match.Matches(want, unexpMsgKey(u)) })
	if ok {
		return e.deliverUnexpToIOV(msg, re)
	}

	recvQueue.Push(re)
	e.observer.ObserveQueueDepth(e.untaggedRecv.Len(), e.taggedRecv.Len())
	return nil
}

func (e *Endpoint) handlePeek(addr Addr, anyAddr, tagged bool, tag, ignore uint64, ctx Context, flags RecvFlags) error {
	_ = e.ProgressOne()

	want := match.Key{Addr: uint64(addr), Tag: tag, IgnoreMask: ignore, Tagged: tagged, AnyAddr: anyAddr}
	unexpQueue := e.untaggedUnexp
	if tagged {
		unexpQueue = e.taggedUnexp
	}
	pred := func(u *UnexpMsg) bool { return match.Matches(want, unexpMsgKey(u)) }

	if flags&(FlagClaim|FlagDiscard) != 0 {
		msg, ok := unexpQueue.FindFunc(pred)
		if !ok {
			e.pushCompletion(Completion{Context: ctx, Flags: recvCompFlagsBase(tagged), Err: NewError("recv", CodeInval, "no matching unexpected message")})
			return nil
		}
		if flags&FlagDiscard != 0 {
			e.discardUnexp(msg)
			e.pushCompletion(Completion{Context: ctx, Flags: recvCompFlagsBase(tagged), Tag: msg.tag})
			return nil
		}
		token := e.mintClaimToken(msg)
		e.pushCompletion(Completion{Context: ctx, Flags: recvCompFlagsBase(tagged), Tag: msg.tag, Bytes: msg.size, ClaimToken: token})
		return nil
	}

	msg, ok := unexpQueue.PeekFunc(pred)
	if !ok {
		e.pushCompletion(Completion{Context: ctx, Flags: recvCompFlagsBase(tagged), Err: NewError("recv", CodeInval, "no matching unexpected message")})
		return nil
	}
	e.pushCompletion(Completion{Context: ctx, Flags: recvCompFlagsBase(tagged), Tag: msg.tag, Bytes: msg.size})
	return nil
}

func (e *Endpoint) mintClaimToken(msg *UnexpMsg) ClaimToken {
	e.claimMu.Lock()
	defer e.claimMu.Unlock()
	e.nextClaim++
	token := ClaimToken(e.nextClaim)
	msg.claimed = true
	msg.token = token
	e.claims[token] = msg
	return token
}

func (e *Endpoint) discardUnexp(msg *UnexpMsg) {
	if msg.heldBuf {
		e.repostRxBuf(msg.rxIdx)
	}
}

func (e *Endpoint) deliverUnexpToIOV(msg *UnexpMsg, re *RecvEntry) error {
	if msg.opLarge {
		return e.initiateRMARead(msg.addr, msg.msgID, msg.tagged, msg.tag, msg.data, msg.remoteIOV, re.iov, re.ctx, re.comp, msg.remoteCQD)
	}

	n := copy(re.iov, msg.payload)
	var compErr error
	if len(msg.payload) > len(re.iov) {
		compErr = NewError("recv", CodeMsgTooLarge, "received message truncated to fit iov")
	}
	flags := re.comp
	if msg.remoteCQD {
		flags |= CompRemoteCQData
	}
	e.observer.ObserveRecv(uint64(n), 0, false, compErr == nil)
	e.pushCompletion(Completion{Context: re.ctx, Flags: flags, Bytes: n, Tag: msg.tag, Data: msg.data, Err: compErr})
	if msg.heldBuf {
		e.repostRxBuf(msg.rxIdx)
	}
	return nil
}

func (e *Endpoint) repostRxBuf(idx uint32) {
	slot, ok := e.rxTable.At(idx)
	if !ok {
		return
	}
	log := e.logger.With("rx_idx", idx)
	if err := e.transport.RecvPrepost(slot.buf.Bytes, slot.buf.Desc, encodeUserData(udKindRecv, idx)); err != nil {
		log.Debugf("recv: deferring rx buffer repost: %v", err)
		e.repostMu.Lock()
		e.repostReady = append(e.repostReady, idx)
		e.repostMu.Unlock()
	}
}

// handleRecvCompletion processes a transport completion for a preposted
// RX buffer: parses the packet header and either delivers/enqueues the
// message (§4.6) or, for an ack, finalizes the originating rendezvous send.
func (e *Endpoint) handleRecvCompletion(idx uint32, c iface.Completion) {
	slot, ok := e.rxTable.At(idx)
	if !ok {
		return
	}
	log := e.logger.With("rx_idx", idx)
	if c.Err != nil {
		log.Warnf("recv: transport error: %v", c.Err)
		e.repostRxBuf(idx)
		return
	}
	if c.Bytes < wire.CtrlHdrSize {
		log.Warnf("recv: short packet (%d bytes), dropping", c.Bytes)
		e.repostRxBuf(idx)
		return
	}

	buf := slot.buf.Bytes[:c.Bytes]
	ctrlHdr, err := wire.UnmarshalCtrlHdr(buf)
	if err != nil || ctrlHdr.Version != wire.ProtocolVersion {
		log.Warnf("recv: dropping packet with bad/mismatched ctrl_hdr version")
		e.repostRxBuf(idx)
		return
	}

	if ctrlHdr.OpType == wire.OpAck {
		e.handleIncomingAck(ctrlHdr.MsgID)
		e.repostRxBuf(idx)
		return
	}

	if c.Bytes < wire.HeaderSize {
		log.Warnf("recv: short packet missing op_hdr, dropping")
		e.repostRxBuf(idx)
		return
	}
	opHdr, err := wire.UnmarshalOpHdr(buf[wire.CtrlHdrSize:])
	if err != nil || opHdr.Version != wire.ProtocolVersion {
		log.Warnf("recv: dropping packet with bad/mismatched op_hdr version")
		e.repostRxBuf(idx)
		return
	}

	srcAddr := Addr(ctrlHdr.ConnID)
	tagged := opHdr.Op == wire.OpTagged
	remoteCQD := opHdr.Flags&wire.FlagRemoteCQData != 0
	payload := buf[wire.HeaderSize:c.Bytes]

	switch ctrlHdr.OpType {
	case wire.OpData:
		e.handleDataArrival(idx, srcAddr, tagged, opHdr, payload, remoteCQD)
	case wire.OpLargeData:
		e.handleLargeDataArrival(idx, srcAddr, tagged, ctrlHdr.MsgID, opHdr, payload, remoteCQD)
	default:
		log.Warnf("recv: unknown op_type %d, dropping", ctrlHdr.OpType)
		e.repostRxBuf(idx)
	}
}

func (e *Endpoint) handleDataArrival(idx uint32, addr Addr, tagged bool, opHdr wire.OpHdr, payload []byte, remoteCQD bool) {
	want := match.Key{Addr: uint64(addr), Tag: opHdr.Tag, Tagged: tagged}
	recvQueue := e.untaggedRecv
	unexpQueue := e.untaggedUnexp
	if tagged {
		recvQueue = e.taggedRecv
		unexpQueue = e.taggedUnexp
	}

	re, ok := recvQueue.FindFunc(func(r *RecvEntry) bool { return match.Matches(recvEntryKey(r), want) })
	if ok {
		n := copy(re.iov, payload)
		var compErr error
		if len(payload) > len(re.iov) {
			compErr = NewError("recv", CodeMsgTooLarge, "received message truncated to fit iov")
		}
		flags := re.comp
		if remoteCQD {
			flags |= CompRemoteCQData
		}
		e.observer.ObserveRecv(uint64(n), 0, false, compErr == nil)
		e.pushCompletion(Completion{Context: re.ctx, Flags: flags, Bytes: n, Tag: opHdr.Tag, Data: opHdr.Data, Err: compErr})
		e.repostRxBuf(idx)
		return
	}

	msg := &UnexpMsg{addr: addr, tagged: tagged, tag: opHdr.Tag, data: opHdr.Data, remoteCQD: remoteCQD, payload: payload, rxIdx: idx, heldBuf: true, size: int(opHdr.Size)}
	unexpQueue.Push(msg)
	e.observer.ObserveUnexpected()
	e.observer.ObserveQueueDepth(e.untaggedUnexp.Len(), e.taggedUnexp.Len())
}

func (e *Endpoint) handleLargeDataArrival(idx uint32, addr Addr, tagged bool, msgID uint64, opHdr wire.OpHdr, payload []byte, remoteCQD bool) {
	iov, _, err := wire.UnmarshalRMAIOV(payload)
	if err != nil {
		e.logger.With("msg_id", msgID).Warnf("recv: dropping malformed rma-iov descriptor: %v", err)
		e.repostRxBuf(idx)
		return
	}
	e.repostRxBuf(idx) // descriptor parsed; buffer no longer needed

	want := match.Key{Addr: uint64(addr), Tag: opHdr.Tag, Tagged: tagged}
	recvQueue := e.untaggedRecv
	unexpQueue := e.untaggedUnexp
	if tagged {
		recvQueue = e.taggedRecv
		unexpQueue = e.taggedUnexp
	}

	re, ok := recvQueue.FindFunc(func(r *RecvEntry) bool { return match.Matches(recvEntryKey(r), want) })
	if ok {
		_ = e.initiateRMARead(addr, msgID, tagged, opHdr.Tag, opHdr.Data, iov, re.iov, re.ctx, re.comp, remoteCQD)
		return
	}

	msg := &UnexpMsg{addr: addr, tagged: tagged, tag: opHdr.Tag, opLarge: true, msgID: msgID, data: opHdr.Data, remoteCQD: remoteCQD, remoteIOV: iov, size: int(opHdr.Size)}
	unexpQueue.Push(msg)
	e.observer.ObserveUnexpected()
	e.observer.ObserveQueueDepth(e.untaggedUnexp.Len(), e.taggedUnexp.Len())
}

func (e *Endpoint) initiateRMARead(addr Addr, msgID uint64, tagged bool, tag, data uint64, remote wire.RMAIOV, localIOV []byte, ctx Context, comp CompletionFlags, remoteCQD bool) error {
	handle, err := e.resolveDest("recv", addr)
	if err != nil {
		e.pushCompletion(Completion{Context: ctx, Flags: comp, Tag: tag, Err: err})
		return err
	}

	var desc any
	owned := false
	if e.transport.RequiresLocalMR() {
		d, err := e.transport.MRReg(localIOV, iface.AccessWrite)
		if err != nil {
			wrapped := WrapTransportError("recv", err)
			e.pushCompletion(Completion{Context: ctx, Flags: comp, Tag: tag, Err: wrapped})
			return wrapped
		}
		desc = d
		owned = true
	}

	idx, _, ok := e.rmaTable.Get()
	if !ok {
		if owned {
			_ = e.transport.MRClose(desc)
		}
		e.pushCompletion(Completion{Context: ctx, Flags: comp, Tag: tag, Err: NewError("recv", CodeAgain, "rma read table exhausted")})
		return ErrAgain
	}
	rr := &rmaRead{handle: handle, msgID: msgID, ctx: ctx, tag: tag, tagged: tagged, comp: comp, size: len(localIOV), data: data, remoteCQD: remoteCQD, localDesc: desc, ownedDesc: owned}
	e.rmaTable.Set(idx, rr)

	if err := e.transport.RMARead(handle, localIOV, desc, remote, encodeUserData(udKindRMARead, idx)); err != nil {
		if owned {
			_ = e.transport.MRClose(desc)
		}
		e.rmaTable.Release(idx)
		wrapped := WrapTransportError("recv", err)
		e.pushCompletion(Completion{Context: ctx, Flags: comp, Tag: tag, Err: wrapped})
		return wrapped
	}
	return nil
}

func (e *Endpoint) handleRMAReadCompletion(idx uint32, c iface.Completion) {
	rr, ok := e.rmaTable.At(idx)
	if !ok {
		return
	}
	if rr.ownedDesc {
		_ = e.transport.MRClose(rr.localDesc)
	}
	e.rmaTable.Release(idx)

	flags := rr.comp | CompRecv
	if c.Err != nil {
		e.observer.ObserveRecv(0, 0, true, false)
		e.pushCompletion(Completion{Context: rr.ctx, Flags: flags, Tag: rr.tag, Err: WrapTransportError("recv", c.Err)})
		return
	}

	if rr.remoteCQD {
		flags |= CompRemoteCQData
	}
	e.observer.ObserveRecv(uint64(rr.size), 0, true, true)
	e.pushCompletion(Completion{Context: rr.ctx, Flags: flags, Bytes: rr.size, Tag: rr.tag, Data: rr.data})
	e.sendAck(rr.handle, rr.msgID)
}

func (e *Endpoint) sendAck(handle iface.ConnHandle, msgID uint64) {
	log := e.logger.With("msg_id", msgID, "conn_id", handle.ConnID)
	txBuf, err := e.txPool.Acquire()
	if err != nil {
		log.Warnf("recv: dropping rendezvous ack, tx pool exhausted")
		return
	}
	idx, _, ok := e.txTable.Get()
	if !ok {
		e.txPool.Release(txBuf)
		log.Warnf("recv: dropping rendezvous ack, tx entry table exhausted")
		return
	}

	_ = wire.MarshalCtrlHdr(txBuf.Bytes, wire.CtrlHdr{Version: wire.ProtocolVersion, OpType: wire.OpAck, ConnID: handle.ConnID, MsgID: msgID})
	_ = wire.MarshalOpHdr(txBuf.Bytes[wire.CtrlHdrSize:], wire.OpHdr{Version: wire.ProtocolVersion})

	te := &TxEntry{idx: idx, buf: txBuf, ackOnly: true}
	e.txTable.Set(idx, te)

	if err := e.transport.Send(handle, txBuf.Bytes[:wire.HeaderSize], txBuf.Desc, encodeUserData(udKindAck, idx)); err != nil {
		e.txPool.Release(txBuf)
		e.txTable.Release(idx)
		log.Warnf("recv: failed to send rendezvous ack: %v", err)
	}
}

func (e *Endpoint) handleIncomingAck(msgID uint64) {
	te, idx, ok := e.txTable.LookupIndex(msgID)
	if !ok {
		e.logger.With("msg_id", msgID).Debugf("recv: ack for unknown or stale msg_id")
		return
	}
	e.closeRegistrations(te)
	e.txTable.Release(idx)
	e.observer.ObserveSend(uint64(te.size), 0, true, true)
	e.pushCompletion(Completion{Context: te.ctx, Flags: te.comp, Bytes: te.size, Tag: te.tag})
}
