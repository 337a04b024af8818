package rxm

import (
	"time"
	"unsafe"

	"github.com/go-rxm/rxm/internal/iface"
	"github.com/go-rxm/rxm/internal/wire"
)

// remoteKeyer is the optional interface a transport's MemDesc may
// implement to expose the registration's remote key for embedding into an
// outgoing RMA-IOV descriptor (§3, §4.5).
type remoteKeyer interface{ RemoteKey() uint64 }

func userFlagsFor(f SendFlags) wire.UserFlags {
	var u wire.UserFlags
	if f&FlagRemoteCQData != 0 {
		u |= wire.UserRemoteCQData
	}
	if f&FlagTransmitComplete != 0 {
		u |= wire.UserTransmitComplete
	}
	if f&FlagDeliveryComplete != 0 {
		u |= wire.UserDeliveryComplete
	}
	return u
}

func sendCompFlags(tagged bool) CompletionFlags {
	f := CompSend
	if tagged {
		f |= CompTagged
	} else {
		f |= CompMsg
	}
	return f
}

// Send issues an untagged send of buf to dest.
func (e *Endpoint) Send(dest Addr, buf []byte, ctx Context, flags SendFlags) error {
	return e.sendCommon(dest, false, 0, buf, 0, ctx, flags)
}

// SendData is Send with 64 bits of remote CQ data attached.
func (e *Endpoint) SendData(dest Addr, buf []byte, data uint64, ctx Context, flags SendFlags) error {
	return e.sendCommon(dest, false, 0, buf, data, ctx, flags|FlagRemoteCQData)
}

// TSend issues a tagged send of buf to dest with the given tag.
func (e *Endpoint) TSend(dest Addr, buf []byte, tag uint64, ctx Context, flags SendFlags) error {
	return e.sendCommon(dest, true, tag, buf, 0, ctx, flags)
}

// TSendData is TSend with 64 bits of remote CQ data attached.
func (e *Endpoint) TSendData(dest Addr, buf []byte, tag uint64, data uint64, ctx Context, flags SendFlags) error {
	return e.sendCommon(dest, true, tag, buf, data, ctx, flags|FlagRemoteCQData)
}

// Inject is an untagged send whose buffer is fully consumed before return
// and which generates no completion.
func (e *Endpoint) Inject(dest Addr, buf []byte) error {
	return e.sendCommon(dest, false, 0, buf, 0, nil, FlagInject)
}

// InjectData is Inject carrying remote CQ data.
func (e *Endpoint) InjectData(dest Addr, buf []byte, data uint64) error {
	return e.sendCommon(dest, false, 0, buf, data, nil, FlagInject|FlagRemoteCQData)
}

// TInject is the tagged variant of Inject.
func (e *Endpoint) TInject(dest Addr, buf []byte, tag uint64) error {
	return e.sendCommon(dest, true, tag, buf, 0, nil, FlagInject)
}

// TInjectData is the tagged variant of InjectData.
func (e *Endpoint) TInjectData(dest Addr, buf []byte, tag uint64, data uint64) error {
	return e.sendCommon(dest, true, tag, buf, data, nil, FlagInject|FlagRemoteCQData)
}

// SendV is Send over a scatter/gather list; the entries are concatenated
// into a single wire payload (the core has no native multi-iov framing).
func (e *Endpoint) SendV(dest Addr, iov [][]byte, ctx Context, flags SendFlags) error {
	return e.sendCommon(dest, false, 0, concatIOV(iov), 0, ctx, flags)
}

// TSendV is the tagged variant of SendV.
func (e *Endpoint) TSendV(dest Addr, iov [][]byte, tag uint64, ctx Context, flags SendFlags) error {
	return e.sendCommon(dest, true, tag, concatIOV(iov), 0, ctx, flags)
}

func concatIOV(iov [][]byte) []byte {
	n := 0
	for _, b := range iov {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range iov {
		out = append(out, b...)
	}
	return out
}

func (e *Endpoint) sendCommon(dest Addr, tagged bool, tag uint64, buf []byte, data uint64, ctx Context, flags SendFlags) error {
	e.mu.Lock()
	state := e.state
	e.mu.Unlock()
	if state != stateEnabled {
		return NewError("send", CodeBadState, "endpoint not enabled")
	}

	wireSize := wire.HeaderSize + len(buf)
	injectLimit := e.transport.InjectSize()

	if flags&FlagInject != 0 {
		if wireSize > injectLimit {
			return NewError("send", CodeMsgTooLarge, "payload exceeds transport inject size with FI_INJECT set")
		}
		return e.sendInlineInject(dest, tagged, tag, buf, data, ctx, flags)
	}

	switch {
	case wireSize <= injectLimit:
		return e.sendInlineInject(dest, tagged, tag, buf, data, ctx, flags)
	case len(buf) <= e.params.InjectSize:
		return e.sendEagerBuffered(dest, tagged, tag, buf, data, ctx, flags)
	default:
		return e.sendRendezvous(dest, tagged, tag, buf, data, ctx, flags)
	}
}

func (e *Endpoint) resolveDest(op string, dest Addr) (iface.ConnHandle, error) {
	h, err := e.cmap.Get(uint64(dest))
	if err != nil {
		if err == iface.ErrTransportAgain {
			return iface.ConnHandle{}, ErrAgain
		}
		return iface.ConnHandle{}, WrapTransportError(op, err)
	}
	return h, nil
}

func (e *Endpoint) sendInlineInject(dest Addr, tagged bool, tag uint64, buf []byte, data uint64, ctx Context, flags SendFlags) error {
	start := time.Now()
	handle, err := e.resolveDest("send", dest)
	if err != nil {
		return err
	}

	txBuf, err := e.txPool.Acquire()
	if err != nil {
		return NewError("send", CodeAgain, "tx buffer pool exhausted")
	}

	op := wire.OpMsg
	if tagged {
		op = wire.OpTagged
	}
	_ = wire.MarshalCtrlHdr(txBuf.Bytes, wire.CtrlHdr{Version: wire.ProtocolVersion, OpType: wire.OpData, ConnID: handle.ConnID})
	_ = wire.MarshalOpHdr(txBuf.Bytes[wire.CtrlHdrSize:], wire.OpHdr{
		Version: wire.ProtocolVersion, Op: op, Flags: wire.TranslateUserFlags(userFlagsFor(flags)),
		Size: uint64(len(buf)), Tag: tag, Data: data,
	})
	n := copy(txBuf.Bytes[wire.HeaderSize:], buf)

	err = e.transport.Inject(handle, txBuf.Bytes[:wire.HeaderSize+n])
	e.txPool.Release(txBuf)
	if err != nil {
		if err == iface.ErrTransportAgain {
			return ErrAgain
		}
		return WrapTransportError("send", err)
	}

	if flags&FlagInject == 0 {
		e.pushCompletion(Completion{Context: ctx, Flags: sendCompFlags(tagged), Bytes: len(buf), Tag: tag})
	}
	e.observer.ObserveSend(uint64(len(buf)), uint64(time.Since(start)), false, true)
	return nil
}

func (e *Endpoint) sendEagerBuffered(dest Addr, tagged bool, tag uint64, buf []byte, data uint64, ctx Context, flags SendFlags) error {
	handle, err := e.resolveDest("send", dest)
	if err != nil {
		return err
	}

	txBuf, err := e.txPool.Acquire()
	if err != nil {
		return NewError("send", CodeAgain, "tx buffer pool exhausted")
	}
	idx, msgID, ok := e.txTable.Get()
	if !ok {
		e.txPool.Release(txBuf)
		return NewError("send", CodeAgain, "tx entry table exhausted")
	}

	op := wire.OpMsg
	if tagged {
		op = wire.OpTagged
	}
	_ = wire.MarshalCtrlHdr(txBuf.Bytes, wire.CtrlHdr{Version: wire.ProtocolVersion, OpType: wire.OpData, ConnID: handle.ConnID, MsgID: msgID})
	_ = wire.MarshalOpHdr(txBuf.Bytes[wire.CtrlHdrSize:], wire.OpHdr{
		Version: wire.ProtocolVersion, Op: op, Flags: wire.TranslateUserFlags(userFlagsFor(flags)),
		Size: uint64(len(buf)), Tag: tag, Data: data,
	})
	n := copy(txBuf.Bytes[wire.HeaderSize:], buf)

	te := &TxEntry{msgID: msgID, idx: idx, state: txStateSending, ctx: ctx, flags: flags, comp: sendCompFlags(tagged), tagged: tagged, tag: tag, data: data, buf: txBuf, dest: dest, size: len(buf)}
	e.txTable.Set(idx, te)

	err = e.transport.Send(handle, txBuf.Bytes[:wire.HeaderSize+n], txBuf.Desc, encodeUserData(udKindSend, idx))
	if err != nil {
		e.txPool.Release(txBuf)
		e.txTable.Release(idx)
		if err == iface.ErrTransportAgain {
			_ = e.ProgressOne()
			return ErrAgain
		}
		return WrapTransportError("send", err)
	}
	return nil
}

func (e *Endpoint) sendRendezvous(dest Addr, tagged bool, tag uint64, buf []byte, data uint64, ctx Context, flags SendFlags) error {
	handle, err := e.resolveDest("send", dest)
	if err != nil {
		return err
	}

	txBuf, err := e.txPool.Acquire()
	if err != nil {
		return NewError("send", CodeAgain, "tx buffer pool exhausted")
	}
	idx, msgID, ok := e.txTable.Get()
	if !ok {
		e.txPool.Release(txBuf)
		return NewError("send", CodeAgain, "tx entry table exhausted")
	}

	var regs []txRegistration
	var remoteKey uint64
	if e.transport.RequiresLocalMR() {
		desc, err := e.transport.MRReg(buf, iface.AccessRead)
		if err != nil {
			e.txPool.Release(txBuf)
			e.txTable.Release(idx)
			return WrapTransportError("send", err)
		}
		regs = append(regs, txRegistration{desc: desc, ownedByUs: true})
		if rk, ok := desc.(remoteKeyer); ok {
			remoteKey = rk.RemoteKey()
		}
	}

	var addr uint64
	if e.transport.UsesVirtualAddressing() && len(buf) > 0 {
		addr = uint64(uintptr(unsafe.Pointer(&buf[0])))
	}

	iov := wire.RMAIOV{Entries: []wire.RMAIOVEntry{{Addr: addr, Len: uint64(len(buf)), Key: remoteKey}}}
	n, err := wire.MarshalRMAIOV(txBuf.Bytes[wire.HeaderSize:], iov)
	if err != nil {
		e.closeRegs(regs)
		e.txPool.Release(txBuf)
		e.txTable.Release(idx)
		return NewError("send", CodeInval, "rma-iov descriptor too large for tx buffer")
	}

	op := wire.OpMsg
	if tagged {
		op = wire.OpTagged
	}
	_ = wire.MarshalCtrlHdr(txBuf.Bytes, wire.CtrlHdr{Version: wire.ProtocolVersion, OpType: wire.OpLargeData, ConnID: handle.ConnID, MsgID: msgID})
	_ = wire.MarshalOpHdr(txBuf.Bytes[wire.CtrlHdrSize:], wire.OpHdr{
		Version: wire.ProtocolVersion, Op: op, Flags: wire.TranslateUserFlags(userFlagsFor(flags)),
		Size: uint64(len(buf)), Tag: tag, Data: data,
	})

	te := &TxEntry{msgID: msgID, idx: idx, state: txStateLMT, ctx: ctx, flags: flags, comp: sendCompFlags(tagged), tagged: tagged, tag: tag, data: data, buf: txBuf, regs: regs, dest: dest, size: len(buf)}
	e.txTable.Set(idx, te)

	err = e.transport.Send(handle, txBuf.Bytes[:wire.HeaderSize+n], txBuf.Desc, encodeUserData(udKindSend, idx))
	if err != nil {
		e.closeRegs(regs)
		e.txPool.Release(txBuf)
		e.txTable.Release(idx)
		if err == iface.ErrTransportAgain {
			_ = e.ProgressOne()
			return ErrAgain
		}
		return WrapTransportError("send", err)
	}
	return nil
}

func (e *Endpoint) closeRegs(regs []txRegistration) {
	for _, r := range regs {
		if r.ownedByUs {
			_ = e.transport.MRClose(r.desc)
		}
	}
}

func (e *Endpoint) closeRegistrations(te *TxEntry) {
	e.closeRegs(te.regs)
}

// handleSendCompletion processes a transport completion for a submitted
// send. Eager sends finish here; rendezvous announcements stay pending
// for the peer's acknowledgement (handled in recv.go on ack arrival).
func (e *Endpoint) handleSendCompletion(idx uint32, c iface.Completion) {
	te, ok := e.txTable.At(idx)
	if !ok {
		e.logger.With("tx_idx", idx).Warnf("progress: send completion for unknown tx entry")
		return
	}

	if te.ackOnly {
		e.txPool.Release(te.buf)
		e.txTable.Release(idx)
		return
	}

	if c.Err != nil {
		e.closeRegistrations(te)
		e.txPool.Release(te.buf)
		e.txTable.Release(idx)
		e.observer.ObserveSend(uint64(te.size), 0, te.state == txStateLMT, false)
		e.pushCompletion(Completion{Context: te.ctx, Flags: te.comp, Tag: te.tag, Err: WrapTransportError("send", c.Err)})
		return
	}

	if te.state == txStateLMT {
		// Announcement transmitted; TxBuf can be returned but the entry
		// stays alive awaiting the rendezvous ack to carry the completion.
		e.txPool.Release(te.buf)
		return
	}

	e.txPool.Release(te.buf)
	e.txTable.Release(idx)
	e.observer.ObserveSend(uint64(te.size), 0, false, true)
	e.pushCompletion(Completion{Context: te.ctx, Flags: te.comp, Bytes: te.size, Tag: te.tag})
}

// handleAckCompletion releases the ephemeral TxBuf used to transmit a
// rendezvous acknowledgement; it carries no user-visible completion.
func (e *Endpoint) handleAckCompletion(idx uint32, c iface.Completion) {
	te, ok := e.txTable.At(idx)
	if !ok {
		return
	}
	e.txPool.Release(te.buf)
	e.txTable.Release(idx)
}
