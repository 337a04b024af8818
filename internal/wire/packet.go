// Package wire defines the RXM on-wire packet format: the control header,
// operation header and RMA-IOV descriptor, plus the header flag translation
// between the user-facing API and the bits that travel on the network.
//
// All multi-byte fields are little-endian. Layout mirrors §3 and §6 of the
// protocol: ctrl_hdr and op_hdr are fixed-size and precede either an inline
// payload (OpData) or a serialized RMA-IOV descriptor (OpLargeData).
package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned when a buffer is too small to hold the
// structure being marshaled or unmarshaled.
var ErrShortBuffer = errors.New("wire: buffer too short")

// OpType distinguishes an eager (inline) data packet from a rendezvous
// announcement carrying an RMA-IOV descriptor instead of payload bytes.
type OpType uint8

const (
	OpData      OpType = iota // payload travels inline
	OpLargeData               // payload is an RMA-IOV descriptor; receiver pulls by RMA read
	OpAck                     // rendezvous completion acknowledgement, echoes MsgID
)

// MsgOp distinguishes the untagged and tagged message classes.
type MsgOp uint8

const (
	OpMsg    MsgOp = iota // untagged
	OpTagged              // tagged, op_hdr.tag is valid
)

// Flags are the wire-level header flags, translated from user-facing
// completion/delivery flags at send time (§4.5) and read back at receive
// time to build the completion's flags word (§4.6).
type Flags uint16

const (
	FlagRemoteCQData     Flags = 1 << iota // op_hdr.data carries valid remote CQ data
	FlagTransmitComplete                   // sender requests transmit-complete semantics
	FlagDeliveryComplete                   // sender requests delivery-complete semantics
)

// ProtocolVersion is the only version this implementation speaks. A mismatch
// on either header's version field is a protocol error: drop the packet and
// log it (§6).
const ProtocolVersion uint8 = 1

// CtrlHdrSize is the marshaled size of CtrlHdr: version(1) + op_type(1) +
// pad(2) + conn_id(4) + msg_id(8).
const CtrlHdrSize = 16

// CtrlHdr is the fixed leading header of every packet.
type CtrlHdr struct {
	Version uint8
	OpType  OpType
	ConnID  uint32
	MsgID   uint64
}

// OpHdrSize is the marshaled size of OpHdr: version(1) + op(1) + flags(2) +
// size(8) + tag(8) + data(8).
const OpHdrSize = 28

// OpHdr follows CtrlHdr and carries the message-class-specific fields.
type OpHdr struct {
	Version uint8
	Op      MsgOp
	Flags   Flags
	Size    uint64
	Tag     uint64
	Data    uint64
}

// HeaderSize is the combined size of ctrl_hdr + op_hdr preceding payload.
const HeaderSize = CtrlHdrSize + OpHdrSize

// RMAIOVEntrySize is the marshaled size of one RMAIOVEntry: addr(8) +
// len(8) + key(8).
const RMAIOVEntrySize = 24

// RMAIOVEntry describes one remotely-readable region of the sender's
// source buffer.
type RMAIOVEntry struct {
	Addr uint64 // zero if the transport uses offset semantics, not virtual addressing
	Len  uint64
	Key  uint64
}

// RMAIOV is the full rendezvous descriptor serialized into the TxBuf's
// payload area for an OpLargeData packet.
type RMAIOV struct {
	Entries []RMAIOVEntry
}

// MarshalCtrlHdr encodes h into buf[0:CtrlHdrSize].
func MarshalCtrlHdr(buf []byte, h CtrlHdr) error {
	if len(buf) < CtrlHdrSize {
		return ErrShortBuffer
	}
	buf[0] = h.Version
	buf[1] = byte(h.OpType)
	binary.LittleEndian.PutUint16(buf[2:4], 0) // reserved
	binary.LittleEndian.PutUint32(buf[4:8], h.ConnID)
	binary.LittleEndian.PutUint64(buf[8:16], h.MsgID)
	return nil
}

// UnmarshalCtrlHdr decodes a CtrlHdr from buf[0:CtrlHdrSize].
func UnmarshalCtrlHdr(buf []byte) (CtrlHdr, error) {
	if len(buf) < CtrlHdrSize {
		return CtrlHdr{}, ErrShortBuffer
	}
	return CtrlHdr{
		Version: buf[0],
		OpType:  OpType(buf[1]),
		ConnID:  binary.LittleEndian.Uint32(buf[4:8]),
		MsgID:   binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// MarshalOpHdr encodes h into buf[0:OpHdrSize].
func MarshalOpHdr(buf []byte, h OpHdr) error {
	if len(buf) < OpHdrSize {
		return ErrShortBuffer
	}
	buf[0] = h.Version
	buf[1] = byte(h.Op)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Flags))
	binary.LittleEndian.PutUint64(buf[4:12], h.Size)
	binary.LittleEndian.PutUint64(buf[12:20], h.Tag)
	binary.LittleEndian.PutUint64(buf[20:28], h.Data)
	return nil
}

// UnmarshalOpHdr decodes an OpHdr from buf[0:OpHdrSize].
func UnmarshalOpHdr(buf []byte) (OpHdr, error) {
	if len(buf) < OpHdrSize {
		return OpHdr{}, ErrShortBuffer
	}
	return OpHdr{
		Version: buf[0],
		Op:      MsgOp(buf[1]),
		Flags:   Flags(binary.LittleEndian.Uint16(buf[2:4])),
		Size:    binary.LittleEndian.Uint64(buf[4:12]),
		Tag:     binary.LittleEndian.Uint64(buf[12:20]),
		Data:    binary.LittleEndian.Uint64(buf[20:28]),
	}, nil
}

// MarshalRMAIOV encodes iov as count(1) + count*RMAIOVEntry into buf,
// returning the number of bytes written.
func MarshalRMAIOV(buf []byte, iov RMAIOV) (int, error) {
	need := 1 + len(iov.Entries)*RMAIOVEntrySize
	if len(buf) < need {
		return 0, ErrShortBuffer
	}
	if len(iov.Entries) > 0xff {
		return 0, errors.New("wire: too many RMA-IOV entries")
	}
	buf[0] = byte(len(iov.Entries))
	off := 1
	for _, e := range iov.Entries {
		binary.LittleEndian.PutUint64(buf[off:off+8], e.Addr)
		binary.LittleEndian.PutUint64(buf[off+8:off+16], e.Len)
		binary.LittleEndian.PutUint64(buf[off+16:off+24], e.Key)
		off += RMAIOVEntrySize
	}
	return off, nil
}

// UnmarshalRMAIOV decodes an RMAIOV previously written by MarshalRMAIOV.
func UnmarshalRMAIOV(buf []byte) (RMAIOV, int, error) {
	if len(buf) < 1 {
		return RMAIOV{}, 0, ErrShortBuffer
	}
	count := int(buf[0])
	need := 1 + count*RMAIOVEntrySize
	if len(buf) < need {
		return RMAIOV{}, 0, ErrShortBuffer
	}
	entries := make([]RMAIOVEntry, count)
	off := 1
	for i := 0; i < count; i++ {
		entries[i] = RMAIOVEntry{
			Addr: binary.LittleEndian.Uint64(buf[off : off+8]),
			Len:  binary.LittleEndian.Uint64(buf[off+8 : off+16]),
			Key:  binary.LittleEndian.Uint64(buf[off+16 : off+24]),
		}
		off += RMAIOVEntrySize
	}
	return RMAIOV{Entries: entries}, off, nil
}

// UserFlags mirrors the subset of caller-facing send/receive flags that the
// wire format needs to translate; it is a narrow, wire-package-local
// vocabulary rather than importing the root package's full flag set (which
// would create an import cycle).
type UserFlags uint64

const (
	UserRemoteCQData UserFlags = 1 << iota
	UserTransmitComplete
	UserDeliveryComplete
)

// TranslateUserFlags maps user-facing send flags onto wire Flags (§4.5).
func TranslateUserFlags(f UserFlags) Flags {
	var w Flags
	if f&UserRemoteCQData != 0 {
		w |= FlagRemoteCQData
	}
	if f&UserTransmitComplete != 0 {
		w |= FlagTransmitComplete
	}
	if f&UserDeliveryComplete != 0 {
		w |= FlagDeliveryComplete
	}
	return w
}
