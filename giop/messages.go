// Package giop provides implementation of the General Inter-ORB Protocol
// (GIOP) as defined in the CORBA specification: message framing for
// Request, Reply, LocateRequest, LocateReply, CancelRequest,
// CloseConnection, MessageError and Fragment across GIOP 1.0, 1.1 and 1.2.
package giop

import (
	"encoding/binary"
	"fmt"
)

// GIOP message types, CORBA 3.4 spec 9.4.
const (
	MsgRequest         byte = 0
	MsgReply           byte = 1
	MsgCancelRequest   byte = 2
	MsgLocateRequest   byte = 3
	MsgLocateReply     byte = 4
	MsgCloseConnection byte = 5
	MsgMessageError    byte = 6
	MsgFragment        byte = 7
)

// Reply status values.
const (
	ReplyStatusNoException         uint32 = 0
	ReplyStatusUserException       uint32 = 1
	ReplyStatusSystemException     uint32 = 2
	ReplyStatusLocationForward     uint32 = 3
	ReplyStatusLocationForwardPerm uint32 = 4
	ReplyStatusNeedsAddressingMode uint32 = 5
)

// LocateReply status values.
const (
	LocateStatusUnknownObject          uint32 = 0
	LocateStatusObjectHere             uint32 = 1
	LocateStatusObjectForward          uint32 = 2
	LocateStatusObjectForwardPerm      uint32 = 3
	LocateStatusLocSystemException     uint32 = 4
	LocateStatusLocNeedsAddressingMode uint32 = 5
)

// Service context id for the CodeSets negotiation context, CORBA 3.4
// spec 7.35.
const ServiceContextCodeSets uint32 = 1

// Flags bits in the GIOP message header.
const (
	FlagLittleEndian  byte = 0x01
	FlagMoreFragments byte = 0x02
)

// Version identifies a GIOP protocol version.
type Version struct {
	Major byte
	Minor byte
}

func (v Version) String() string { return fmt.Sprintf("%d.%d", v.Major, v.Minor) }

// AtLeast reports whether v is >= major.minor.
func (v Version) AtLeast(major, minor byte) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// Supported GIOP versions.
var (
	Version1_0 = Version{1, 0}
	Version1_1 = Version{1, 1}
	Version1_2 = Version{1, 2}
)

// Header is the fixed 12-byte GIOP message header.
type Header struct {
	Magic   [4]byte
	Version Version
	Flags   byte
	MsgType byte
	MsgSize uint32
}

// LittleEndian reports whether the message body is little-endian.
func (h Header) LittleEndian() bool { return h.Flags&FlagLittleEndian != 0 }

// MoreFragments reports whether the more-fragments bit is set.
func (h Header) MoreFragments() bool { return h.Flags&FlagMoreFragments != 0 }

// ByteOrder returns the binary.ByteOrder implied by the header's flags.
func (h Header) ByteOrder() binary.ByteOrder {
	if h.LittleEndian() {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Validate checks the magic number and message type range.
func (h Header) Validate() error {
	if h.Magic != [4]byte{'G', 'I', 'O', 'P'} {
		return marshalErrf("Header.Validate", "invalid GIOP magic %q", h.Magic)
	}
	if h.MsgType > MsgFragment {
		return marshalErrf("Header.Validate", "invalid message type %d", h.MsgType)
	}
	return nil
}

// HeaderSize is the fixed wire size of a GIOP message header.
const HeaderSize = 12

// ReadHeader reads and validates a GIOP message header from dec.
func ReadHeader(dec *Decoder) (Header, error) {
	var h Header
	magic, err := dec.ReadOctetArray(4)
	if err != nil {
		return h, err
	}
	copy(h.Magic[:], magic)
	major, err := dec.ReadOctet()
	if err != nil {
		return h, err
	}
	minor, err := dec.ReadOctet()
	if err != nil {
		return h, err
	}
	h.Version = Version{major, minor}
	h.Flags, err = dec.ReadOctet()
	if err != nil {
		return h, err
	}
	// The rest of the message is encoded per the flags byte; flip the
	// decoder's byte order now so MsgSize and everything after it reads
	// correctly.
	dec.SetByteOrder(h.ByteOrder())
	h.MsgType, err = dec.ReadOctet()
	if err != nil {
		return h, err
	}
	h.MsgSize, err = dec.ReadULong()
	if err != nil {
		return h, err
	}
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}

// SetByteOrder switches the decoder's interpretation of subsequent
// multi-byte reads. Used once, immediately after the flags octet of a GIOP
// header is read, to establish the message's byte order.
func (d *Decoder) SetByteOrder(order binary.ByteOrder) { d.order = order }

// ServiceContext carries information that may affect request processing.
type ServiceContext struct {
	ID   uint32
	Data []byte
}

// ServiceContextList is an ordered sequence of service contexts.
type ServiceContextList []ServiceContext

func writeServiceContexts(e *Encoder, ctxs ServiceContextList) {
	e.WriteULong(uint32(len(ctxs)))
	for _, c := range ctxs {
		e.WriteULong(c.ID)
		e.WriteOctetSequence(c.Data)
	}
}

func readServiceContexts(d *Decoder) (ServiceContextList, error) {
	count, err := d.ReadULong()
	if err != nil {
		return nil, err
	}
	out := make(ServiceContextList, count)
	for i := uint32(0); i < count; i++ {
		id, err := d.ReadULong()
		if err != nil {
			return nil, err
		}
		data, err := d.ReadOctetSequence()
		if err != nil {
			return nil, err
		}
		out[i] = ServiceContext{ID: id, Data: data}
	}
	return out, nil
}

// AddressingDisposition selects which variant of GIOP 1.2's TargetAddress
// union is present.
type AddressingDisposition uint16

const (
	AddrKeyAddr       AddressingDisposition = 0
	AddrProfileAddr   AddressingDisposition = 1
	AddrReferenceAddr AddressingDisposition = 2
)

// TargetAddress is the GIOP 1.2 discriminated union identifying the
// target of a Request or LocateRequest. Exactly one of KeyAddr,
// ProfileAddr or (ReferenceProfileIndex, ReferenceIOR) is meaningful,
// selected by Disposition. Profile and IOR payloads are opaque,
// already-CDR-encoded bytes produced by the corba package — giop stays
// unaware of IOR/profile structure.
type TargetAddress struct {
	Disposition           AddressingDisposition
	KeyAddr               []byte
	ProfileAddr           []byte
	ReferenceProfileIndex uint32
	ReferenceIOR          []byte
}

func writeTargetAddress(e *Encoder, t TargetAddress) {
	e.WriteUShort(uint16(t.Disposition))
	switch t.Disposition {
	case AddrKeyAddr:
		e.WriteOctetSequence(t.KeyAddr)
	case AddrProfileAddr:
		e.WriteOctetSequence(t.ProfileAddr)
	case AddrReferenceAddr:
		e.WriteULong(t.ReferenceProfileIndex)
		e.WriteOctetSequence(t.ReferenceIOR)
	}
}

func readTargetAddress(d *Decoder) (TargetAddress, error) {
	var t TargetAddress
	disp, err := d.ReadUShort()
	if err != nil {
		return t, err
	}
	t.Disposition = AddressingDisposition(disp)
	switch t.Disposition {
	case AddrKeyAddr:
		t.KeyAddr, err = d.ReadOctetSequence()
	case AddrProfileAddr:
		t.ProfileAddr, err = d.ReadOctetSequence()
	case AddrReferenceAddr:
		t.ReferenceProfileIndex, err = d.ReadULong()
		if err == nil {
			t.ReferenceIOR, err = d.ReadOctetSequence()
		}
	default:
		return t, marshalErrf("readTargetAddress", "unknown addressing disposition %d", disp)
	}
	return t, err
}

// RequestHeader holds the fields of a GIOP Request message, spanning all
// three supported minor versions. ResponseExpected is authoritative for
// 1.0/1.1; for 1.2, ResponseFlags bit 0 carries the same meaning and
// ResponseExpected is derived from it on decode.
type RequestHeader struct {
	RequestID        uint32
	ResponseExpected bool
	ResponseFlags    byte // 1.2 only
	ServiceContexts  ServiceContextList
	ObjectKey        []byte         // 1.0/1.1, and the common case for 1.2
	Target           *TargetAddress // 1.2 only; nil means derive KeyAddr from ObjectKey
	Operation        string
	Principal        []byte // deprecated, 1.0/1.1 only
}

// ReplyHeader holds the fields of a GIOP Reply message.
type ReplyHeader struct {
	ServiceContexts ServiceContextList
	RequestID       uint32
	ReplyStatus     uint32
}

// CancelRequestHeader holds the fields of a GIOP CancelRequest message.
type CancelRequestHeader struct {
	RequestID uint32
}

// LocateRequestHeader holds the fields of a GIOP LocateRequest message.
type LocateRequestHeader struct {
	RequestID uint32
	ObjectKey []byte         // 1.0/1.1
	Target    *TargetAddress // 1.2
}

// LocateReplyHeader holds the fields of a GIOP LocateReply message.
type LocateReplyHeader struct {
	RequestID uint32
	Status    uint32
}

// FragmentHeader holds the fields of a GIOP Fragment message. RequestID is
// present only for GIOP 1.2; for 1.1 the request id is implied by
// connection-level reassembly state established by the initial message.
type FragmentHeader struct {
	RequestID uint32 // 1.2 only
}

func messageBodyEncoder(order binary.ByteOrder) *Encoder { return NewEncoder(order) }

// encodeMessage writes the fixed header followed by writeBody's output,
// then back-patches MsgSize. Because the returned Encoder's alignment
// origin is the message start (offset 0), any WriteAlign8FromStart call
// inside writeBody aligns correctly relative to the 12-byte header as
// GIOP 1.2 requires.
func encodeMessage(version Version, msgType byte, littleEndian bool, writeBody func(e *Encoder)) []byte {
	order := binary.ByteOrder(binary.BigEndian)
	flags := byte(0)
	if littleEndian {
		order = binary.LittleEndian
		flags |= FlagLittleEndian
	}
	e := messageBodyEncoder(order)
	e.WriteOctetArray([]byte{'G', 'I', 'O', 'P'})
	e.WriteOctet(version.Major)
	e.WriteOctet(version.Minor)
	sizeFlagsPos := e.Len()
	e.WriteOctet(flags)
	e.WriteOctet(msgType)
	sizePos := e.Len()
	e.WriteULong(0)
	_ = sizeFlagsPos
	bodyStart := e.Len()
	if writeBody != nil {
		writeBody(e)
	}
	bodyLen := uint32(e.Len() - bodyStart)
	e.WriteULongAt(sizePos, bodyLen)
	return e.Bytes()
}

// WriteAlign8FromStart pads e to the next 8-byte boundary measured from the
// start of the enclosing GIOP message (origin 0), per the GIOP 1.2 body
// alignment rule GIOP 1.2 introduced for request/reply bodies.
func WriteAlign8FromStart(e *Encoder) {
	pad := (8 - (e.Len() % 8)) % 8
	for i := 0; i < pad; i++ {
		e.WriteOctet(0)
	}
}

// ReadAlign8FromStart consumes padding up to the next 8-byte boundary
// measured from the start of the enclosing GIOP message. A Decoder built
// with NewMessageBodyDecoder carries that message start as a negative
// origin, so d.Position() (pos - origin) already reports the true
// message-relative offset even though pos itself only indexes the body
// slice; a Decoder built over a whole message (header included, origin 0)
// reports the same thing directly through pos. Either way this must read
// the offset through Position(), never raw pos.
func ReadAlign8FromStart(d *Decoder) error {
	consumed := d.Position()
	pad := (8 - (consumed % 8)) % 8
	_, err := d.ReadOctetArray(pad)
	return err
}

// EncodeRequest marshals a complete GIOP Request message (header + body).
func EncodeRequest(version Version, littleEndian bool, h RequestHeader, payload []byte) []byte {
	return encodeMessage(version, MsgRequest, littleEndian, func(e *Encoder) {
		if version.AtLeast(1, 2) {
			e.WriteULong(h.RequestID)
			flags := h.ResponseFlags
			if h.ResponseExpected {
				flags |= 0x01
			}
			e.WriteOctet(flags)
			e.WriteOctetArray([]byte{0, 0, 0})
			target := h.Target
			if target == nil {
				target = &TargetAddress{Disposition: AddrKeyAddr, KeyAddr: h.ObjectKey}
			}
			writeTargetAddress(e, *target)
			e.WriteString(h.Operation)
			writeServiceContexts(e, h.ServiceContexts)
			WriteAlign8FromStart(e)
			e.WriteOctetArray(payload)
		} else {
			writeServiceContexts(e, h.ServiceContexts)
			e.WriteULong(h.RequestID)
			e.WriteBool(h.ResponseExpected)
			e.WriteOctetArray([]byte{0, 0, 0})
			e.WriteOctetSequence(h.ObjectKey)
			e.WriteString(h.Operation)
			e.WriteOctetSequence(h.Principal)
			e.WriteOctetArray(payload)
		}
	})
}

// DecodeRequestBody decodes a Request message body (everything after the
// 12-byte header, which the caller has already read via ReadHeader) and
// returns the header fields plus the remaining payload bytes.
func DecodeRequestBody(d *Decoder, version Version) (RequestHeader, []byte, error) {
	var h RequestHeader
	var err error
	if version.AtLeast(1, 2) {
		if h.RequestID, err = d.ReadULong(); err != nil {
			return h, nil, err
		}
		if h.ResponseFlags, err = d.ReadOctet(); err != nil {
			return h, nil, err
		}
		h.ResponseExpected = h.ResponseFlags&0x01 != 0
		if _, err = d.ReadOctetArray(3); err != nil {
			return h, nil, err
		}
		target, err := readTargetAddress(d)
		if err != nil {
			return h, nil, err
		}
		h.Target = &target
		if target.Disposition == AddrKeyAddr {
			h.ObjectKey = target.KeyAddr
		}
		if h.Operation, err = d.ReadString(); err != nil {
			return h, nil, err
		}
		if h.ServiceContexts, err = readServiceContexts(d); err != nil {
			return h, nil, err
		}
		if err := ReadAlign8FromStart(d); err != nil {
			return h, nil, err
		}
	} else {
		if h.ServiceContexts, err = readServiceContexts(d); err != nil {
			return h, nil, err
		}
		if h.RequestID, err = d.ReadULong(); err != nil {
			return h, nil, err
		}
		if h.ResponseExpected, err = d.ReadBool(); err != nil {
			return h, nil, err
		}
		if _, err = d.ReadOctetArray(3); err != nil {
			return h, nil, err
		}
		if h.ObjectKey, err = d.ReadOctetSequence(); err != nil {
			return h, nil, err
		}
		if h.Operation, err = d.ReadString(); err != nil {
			return h, nil, err
		}
		if h.Principal, err = d.ReadOctetSequence(); err != nil {
			return h, nil, err
		}
	}
	payload := d.data[d.pos:]
	return h, payload, nil
}

// EncodeReply marshals a complete GIOP Reply message (header + body).
func EncodeReply(version Version, littleEndian bool, h ReplyHeader, payload []byte) []byte {
	return encodeMessage(version, MsgReply, littleEndian, func(e *Encoder) {
		if version.AtLeast(1, 2) {
			e.WriteULong(h.RequestID)
			e.WriteULong(h.ReplyStatus)
			writeServiceContexts(e, h.ServiceContexts)
			WriteAlign8FromStart(e)
			e.WriteOctetArray(payload)
		} else {
			writeServiceContexts(e, h.ServiceContexts)
			e.WriteULong(h.RequestID)
			e.WriteULong(h.ReplyStatus)
			e.WriteOctetArray(payload)
		}
	})
}

// DecodeReplyBody decodes a Reply message body.
func DecodeReplyBody(d *Decoder, version Version) (ReplyHeader, []byte, error) {
	var h ReplyHeader
	var err error
	if version.AtLeast(1, 2) {
		if h.RequestID, err = d.ReadULong(); err != nil {
			return h, nil, err
		}
		if h.ReplyStatus, err = d.ReadULong(); err != nil {
			return h, nil, err
		}
		if h.ServiceContexts, err = readServiceContexts(d); err != nil {
			return h, nil, err
		}
		if err := ReadAlign8FromStart(d); err != nil {
			return h, nil, err
		}
	} else {
		if h.ServiceContexts, err = readServiceContexts(d); err != nil {
			return h, nil, err
		}
		if h.RequestID, err = d.ReadULong(); err != nil {
			return h, nil, err
		}
		if h.ReplyStatus, err = d.ReadULong(); err != nil {
			return h, nil, err
		}
	}
	payload := d.data[d.pos:]
	return h, payload, nil
}

// EncodeLocateRequest marshals a complete GIOP LocateRequest message.
func EncodeLocateRequest(version Version, littleEndian bool, h LocateRequestHeader) []byte {
	return encodeMessage(version, MsgLocateRequest, littleEndian, func(e *Encoder) {
		e.WriteULong(h.RequestID)
		if version.AtLeast(1, 2) {
			target := h.Target
			if target == nil {
				target = &TargetAddress{Disposition: AddrKeyAddr, KeyAddr: h.ObjectKey}
			}
			writeTargetAddress(e, *target)
		} else {
			e.WriteOctetSequence(h.ObjectKey)
		}
	})
}

// DecodeLocateRequestBody decodes a LocateRequest message body.
func DecodeLocateRequestBody(d *Decoder, version Version) (LocateRequestHeader, error) {
	var h LocateRequestHeader
	var err error
	if h.RequestID, err = d.ReadULong(); err != nil {
		return h, err
	}
	if version.AtLeast(1, 2) {
		target, err := readTargetAddress(d)
		if err != nil {
			return h, err
		}
		h.Target = &target
		if target.Disposition == AddrKeyAddr {
			h.ObjectKey = target.KeyAddr
		}
	} else {
		h.ObjectKey, err = d.ReadOctetSequence()
	}
	return h, err
}

// EncodeLocateReply marshals a complete GIOP LocateReply message.
func EncodeLocateReply(version Version, littleEndian bool, h LocateReplyHeader) []byte {
	return encodeMessage(version, MsgLocateReply, littleEndian, func(e *Encoder) {
		e.WriteULong(h.RequestID)
		e.WriteULong(h.Status)
	})
}

// DecodeLocateReplyBody decodes a LocateReply message body.
func DecodeLocateReplyBody(d *Decoder) (LocateReplyHeader, error) {
	var h LocateReplyHeader
	var err error
	if h.RequestID, err = d.ReadULong(); err != nil {
		return h, err
	}
	h.Status, err = d.ReadULong()
	return h, err
}

// EncodeCancelRequest marshals a complete GIOP CancelRequest message.
func EncodeCancelRequest(version Version, littleEndian bool, h CancelRequestHeader) []byte {
	return encodeMessage(version, MsgCancelRequest, littleEndian, func(e *Encoder) {
		e.WriteULong(h.RequestID)
	})
}

// DecodeCancelRequestBody decodes a CancelRequest message body.
func DecodeCancelRequestBody(d *Decoder) (CancelRequestHeader, error) {
	var h CancelRequestHeader
	var err error
	h.RequestID, err = d.ReadULong()
	return h, err
}

// EncodeCloseConnection marshals an empty CloseConnection message.
func EncodeCloseConnection(version Version, littleEndian bool) []byte {
	return encodeMessage(version, MsgCloseConnection, littleEndian, nil)
}

// EncodeMessageError marshals an empty MessageError message.
func EncodeMessageError(version Version, littleEndian bool) []byte {
	return encodeMessage(version, MsgMessageError, littleEndian, nil)
}

// EncodeFragment marshals a complete GIOP Fragment message. requestID is
// written only for GIOP 1.2.
func EncodeFragment(version Version, littleEndian bool, requestID uint32, payload []byte) []byte {
	return encodeMessage(version, MsgFragment, littleEndian, func(e *Encoder) {
		if version.AtLeast(1, 2) {
			e.WriteULong(requestID)
		}
		e.WriteOctetArray(payload)
	})
}

// DecodeFragmentBody decodes a Fragment message body, returning the
// request id (zero if the version carries none) and the remaining
// payload slice.
func DecodeFragmentBody(d *Decoder, version Version) (FragmentHeader, []byte, error) {
	var h FragmentHeader
	if version.AtLeast(1, 2) {
		id, err := d.ReadULong()
		if err != nil {
			return h, nil, err
		}
		h.RequestID = id
	}
	return h, d.data[d.pos:], nil
}
