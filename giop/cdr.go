// Package giop implements CDR (Common Data Representation) encoding and
// GIOP (General Inter-ORB Protocol) message framing, the wire-level core of
// a CORBA/IIOP interoperability runtime.
package giop

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"unicode/utf16"
)

// CDR alignment boundaries, see CORBA 3.4 spec 9.3.2.
const (
	Align1 = 1 // octet, boolean, char
	Align2 = 2 // short, unsigned short, wchar
	Align4 = 4 // long, unsigned long, float, enum
	Align8 = 8 // long long, unsigned long long, double
)

// Length sanity limits enforced before any length-proportional allocation.
// These exist to fail fast on corrupted or mis-endianed frames instead of
// attempting a multi-gigabyte allocation.
const (
	MaxStringLength = 10 * 1024 * 1024  // 10 MiB
	MaxOctetLength  = 100 * 1024 * 1024 // 100 MiB
)

// Code set identifiers, see CORBA 3.4 spec, OSF registry.
const (
	CodeSetISO8859_1 uint32 = 0x00010001
	CodeSetUTF8      uint32 = 0x05010001
	CodeSetUTF16     uint32 = 0x00010109
	CodeSetUCS2      uint32 = 0x00010100
	CodeSetUCS4      uint32 = 0x00010104
)

// CodeSetPair is the negotiated narrow/wide character code sets for a
// stream. A nil pair means the stream uses the ISO-8859-1/UTF-16 defaults.
type CodeSetPair struct {
	Char  uint32
	WChar uint32
}

// DefaultCodeSets returns the code-set pair used when no negotiation has
// happened yet.
func DefaultCodeSets() *CodeSetPair {
	return &CodeSetPair{Char: CodeSetISO8859_1, WChar: CodeSetUTF16}
}

// MarshalError reports a CDR encoding/decoding failure. It is distinct from
// the CORBA Exception type: it is a Go-level error that codec and transport
// callers return as is, wrapped only with fmt.Errorf; no code in this module
// converts it into a MARSHAL system exception.
type MarshalError struct {
	Op  string
	Err error
}

func (e *MarshalError) Error() string { return fmt.Sprintf("cdr: %s: %v", e.Op, e.Err) }
func (e *MarshalError) Unwrap() error { return e.Err }

func marshalErrf(op, format string, args ...interface{}) error {
	return &MarshalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// Encoder is a growable, aligned CDR output stream. Alignment is computed
// relative to origin, which is reset to the stream's own start for a
// top-level Encoder and to the start of a nested encapsulation for one
// created by NewEncapsulationEncoder.
type Encoder struct {
	buf      *bytes.Buffer
	order    binary.ByteOrder
	pos      int
	origin   int
	codeSets *CodeSetPair
}

// NewEncoder creates a new CDR output stream with the given byte order and
// a small initial capacity hint (256 bytes, growing
// geometrically as bytes.Buffer already does).
func NewEncoder(order binary.ByteOrder) *Encoder {
	return &Encoder{
		buf:      bytes.NewBuffer(make([]byte, 0, 256)),
		order:    order,
		codeSets: DefaultCodeSets(),
	}
}

// NewEncapsulationEncoder creates an Encoder suitable for building the
// contents of an encapsulation: its own alignment origin starts at zero and
// EncapsulationBytes prefixes the byte-order flag octet expected by a
// decapsulating reader.
func NewEncapsulationEncoder(order binary.ByteOrder) *Encoder {
	return NewEncoder(order)
}

// SetCodeSets installs the code-set pair used by WriteString and
// WriteWString. No code in this module changes it in response to a CodeSets
// service context; it changes only through this call.
func (e *Encoder) SetCodeSets(cs *CodeSetPair) { e.codeSets = cs }

// ByteOrder returns the stream's byte order.
func (e *Encoder) ByteOrder() binary.ByteOrder { return e.order }

// Bytes returns the encoded bytes so far.
func (e *Encoder) Bytes() []byte { return e.buf.Bytes() }

// Len returns the number of bytes written relative to the stream start
// (not relative to the current encapsulation origin).
func (e *Encoder) Len() int { return e.buf.Len() }

// Position returns the cursor position relative to the current alignment
// origin.
func (e *Encoder) Position() int { return e.pos - e.origin }

func (e *Encoder) align(alignment int) {
	if alignment <= 1 {
		return
	}
	rel := e.pos - e.origin
	pad := (alignment - (rel % alignment)) % alignment
	for i := 0; i < pad; i++ {
		e.buf.WriteByte(0)
	}
	e.pos += pad
}

func (e *Encoder) write(p []byte) {
	e.buf.Write(p)
	e.pos += len(p)
}

// WriteOctet writes a single unaligned byte.
func (e *Encoder) WriteOctet(v byte) {
	e.align(Align1)
	e.write([]byte{v})
}

// WriteBool writes a CDR boolean (a single octet, 0 or 1).
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.WriteOctet(1)
	} else {
		e.WriteOctet(0)
	}
}

// WriteChar writes a narrow character as a single octet.
func (e *Encoder) WriteChar(v byte) { e.WriteOctet(v) }

// WriteWChar writes a wide character as a 2-byte code unit.
func (e *Encoder) WriteWChar(v uint16) {
	e.align(Align2)
	buf := make([]byte, 2)
	e.order.PutUint16(buf, v)
	e.write(buf)
}

// WriteShort writes a signed 16-bit integer.
func (e *Encoder) WriteShort(v int16) { e.WriteUShort(uint16(v)) }

// WriteUShort writes an unsigned 16-bit integer.
func (e *Encoder) WriteUShort(v uint16) {
	e.align(Align2)
	buf := make([]byte, 2)
	e.order.PutUint16(buf, v)
	e.write(buf)
}

// WriteLong writes a signed 32-bit integer.
func (e *Encoder) WriteLong(v int32) { e.WriteULong(uint32(v)) }

// WriteULong writes an unsigned 32-bit integer.
func (e *Encoder) WriteULong(v uint32) {
	e.align(Align4)
	buf := make([]byte, 4)
	e.order.PutUint32(buf, v)
	e.write(buf)
}

// WriteLongLong writes a signed 64-bit integer.
func (e *Encoder) WriteLongLong(v int64) { e.WriteULongLong(uint64(v)) }

// WriteULongLong writes an unsigned 64-bit integer.
func (e *Encoder) WriteULongLong(v uint64) {
	e.align(Align8)
	buf := make([]byte, 8)
	e.order.PutUint64(buf, v)
	e.write(buf)
}

// WriteFloat writes a 32-bit IEEE-754 float.
func (e *Encoder) WriteFloat(v float32) {
	e.align(Align4)
	buf := make([]byte, 4)
	e.order.PutUint32(buf, math.Float32bits(v))
	e.write(buf)
}

// WriteDouble writes a 64-bit IEEE-754 float.
func (e *Encoder) WriteDouble(v float64) {
	e.align(Align8)
	buf := make([]byte, 8)
	e.order.PutUint64(buf, math.Float64bits(v))
	e.write(buf)
}

// WriteEnum writes an enumerator ordinal (CDR represents enums as ulong).
func (e *Encoder) WriteEnum(ordinal uint32) { e.WriteULong(ordinal) }

// WriteString writes a narrow string: a ulong length (including the
// trailing NUL) followed by the string bytes in the stream's negotiated
// narrow code set, then the NUL terminator.
func (e *Encoder) WriteString(s string) {
	encoded := encodeNarrow(s, e.codeSets)
	e.WriteULong(uint32(len(encoded) + 1))
	e.write(encoded)
	e.write([]byte{0})
}

// WriteWString writes a wide string: a ulong length (code units, no
// terminator) followed by the UTF-16 code units in the stream's byte
// order. No byte-order mark is emitted.
func (e *Encoder) WriteWString(s string) {
	units := utf16.Encode([]rune(s))
	e.WriteULong(uint32(len(units)))
	for _, u := range units {
		e.WriteWChar(u)
	}
}

// WriteOctetArray writes raw bytes with no length prefix.
func (e *Encoder) WriteOctetArray(b []byte) { e.write(b) }

// WriteOctetSequence writes a ulong length followed by the raw bytes.
func (e *Encoder) WriteOctetSequence(b []byte) {
	e.WriteULong(uint32(len(b)))
	e.write(b)
}

// WriteEncapsulation emits a self-contained CDR block: a ulong byte count
// followed by that many bytes, the first of which is inner's own
// byte-order flag.
func (e *Encoder) WriteEncapsulation(inner *Encoder) {
	data := inner.EncapsulationBytes()
	e.WriteULong(uint32(len(data)))
	e.write(data)
}

// EncapsulationBytes returns the byte-order flag followed by the encoder's
// contents, ready to be embedded (length-prefixed) in an enclosing stream.
func (e *Encoder) EncapsulationBytes() []byte {
	var flag byte
	if e.order == binary.LittleEndian {
		flag = 1
	}
	out := make([]byte, 0, 1+e.buf.Len())
	out = append(out, flag)
	out = append(out, e.buf.Bytes()...)
	return out
}

// WriteULongAt back-patches a 4-byte field at an absolute byte offset
// (relative to the stream start) without disturbing the cursor. Used to
// fix up GIOP message sizes after the body has been written.
func (e *Encoder) WriteULongAt(offset int, v uint32) error {
	b := e.buf.Bytes()
	if offset < 0 || offset+4 > len(b) {
		return marshalErrf("WriteULongAt", "offset %d out of range (len %d)", offset, len(b))
	}
	e.order.PutUint32(b[offset:offset+4], v)
	return nil
}

// Decoder is a CDR input stream over a borrowed, immutable byte slice.
type Decoder struct {
	data     []byte
	pos      int
	origin   int
	order    binary.ByteOrder
	codeSets *CodeSetPair
}

// NewDecoder creates a CDR input stream over data using the given byte
// order.
func NewDecoder(data []byte, order binary.ByteOrder) *Decoder {
	return &Decoder{data: data, order: order, codeSets: DefaultCodeSets()}
}

// NewMessageBodyDecoder creates a CDR input stream over data — the bytes
// that follow a GIOP message's 12-byte header on the wire — whose alignment
// is measured from the enclosing message's start rather than from data's
// own start. encodeMessage (messages.go) writes a GIOP message's header and
// body through a single Encoder whose origin never resets, so every
// alignment decision in the body, explicit (ReadAlign8FromStart) or
// implicit (an 8-byte-aligned ReadDouble/ReadULongLong), is relative to the
// message's first byte, not the body's. A Decoder built by plain NewDecoder
// over a header-stripped body slice has no way to know that, and silently
// misaligns every 8-byte boundary by HeaderSize mod 8 bytes. This
// constructor fixes that by seeding the alignment origin at -HeaderSize
// while leaving pos at zero, so indexing into data is untouched and align's
// pos-origin arithmetic yields the true message-relative offset.
func NewMessageBodyDecoder(data []byte, order binary.ByteOrder) *Decoder {
	return &Decoder{data: data, order: order, origin: -HeaderSize, codeSets: DefaultCodeSets()}
}

// SetCodeSets installs the negotiated code-set pair used by ReadString and
// ReadWString.
func (d *Decoder) SetCodeSets(cs *CodeSetPair) { d.codeSets = cs }

// ByteOrder returns the stream's byte order.
func (d *Decoder) ByteOrder() binary.ByteOrder { return d.order }

// Remaining returns the number of unread bytes.
func (d *Decoder) Remaining() int { return len(d.data) - d.pos }

// Position returns the cursor position relative to the current alignment
// origin.
func (d *Decoder) Position() int { return d.pos - d.origin }

func (d *Decoder) align(alignment int) error {
	if alignment <= 1 {
		return nil
	}
	rel := d.pos - d.origin
	pad := (alignment - (rel % alignment)) % alignment
	if pad > d.Remaining() {
		return marshalErrf("align", "buffer underflow: need %d padding bytes, have %d", pad, d.Remaining())
	}
	d.pos += pad
	return nil
}

func (d *Decoder) take(n int) ([]byte, error) {
	if n < 0 || n > d.Remaining() {
		return nil, marshalErrf("take", "buffer underflow: need %d bytes, have %d", n, d.Remaining())
	}
	b := d.data[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

// ReadOctet reads a single unaligned byte.
func (d *Decoder) ReadOctet() (byte, error) {
	if err := d.align(Align1); err != nil {
		return 0, err
	}
	b, err := d.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadBool reads a CDR boolean.
func (d *Decoder) ReadBool() (bool, error) {
	b, err := d.ReadOctet()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// ReadChar reads a narrow character.
func (d *Decoder) ReadChar() (byte, error) { return d.ReadOctet() }

// ReadWChar reads a 2-byte wide character code unit.
func (d *Decoder) ReadWChar() (uint16, error) {
	if err := d.align(Align2); err != nil {
		return 0, err
	}
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return d.order.Uint16(b), nil
}

// ReadShort reads a signed 16-bit integer.
func (d *Decoder) ReadShort() (int16, error) {
	v, err := d.ReadUShort()
	return int16(v), err
}

// ReadUShort reads an unsigned 16-bit integer.
func (d *Decoder) ReadUShort() (uint16, error) {
	if err := d.align(Align2); err != nil {
		return 0, err
	}
	b, err := d.take(2)
	if err != nil {
		return 0, err
	}
	return d.order.Uint16(b), nil
}

// ReadLong reads a signed 32-bit integer.
func (d *Decoder) ReadLong() (int32, error) {
	v, err := d.ReadULong()
	return int32(v), err
}

// ReadULong reads an unsigned 32-bit integer.
func (d *Decoder) ReadULong() (uint32, error) {
	if err := d.align(Align4); err != nil {
		return 0, err
	}
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return d.order.Uint32(b), nil
}

// ReadLongLong reads a signed 64-bit integer.
func (d *Decoder) ReadLongLong() (int64, error) {
	v, err := d.ReadULongLong()
	return int64(v), err
}

// ReadULongLong reads an unsigned 64-bit integer.
func (d *Decoder) ReadULongLong() (uint64, error) {
	if err := d.align(Align8); err != nil {
		return 0, err
	}
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return d.order.Uint64(b), nil
}

// ReadFloat reads a 32-bit IEEE-754 float.
func (d *Decoder) ReadFloat() (float32, error) {
	if err := d.align(Align4); err != nil {
		return 0, err
	}
	b, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(d.order.Uint32(b)), nil
}

// ReadDouble reads a 64-bit IEEE-754 float.
func (d *Decoder) ReadDouble() (float64, error) {
	if err := d.align(Align8); err != nil {
		return 0, err
	}
	b, err := d.take(8)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(d.order.Uint64(b)), nil
}

// ReadEnum reads an enumerator ordinal.
func (d *Decoder) ReadEnum() (uint32, error) { return d.ReadULong() }

// ReadString reads a narrow string, applying the length-sanity checks from
// before allocating.
func (d *Decoder) ReadString() (string, error) {
	length, err := d.ReadULong()
	if err != nil {
		return "", err
	}
	if err := d.checkLength(length, MaxStringLength); err != nil {
		return "", err
	}
	if length == 0 {
		return "", nil
	}
	b, err := d.take(int(length))
	if err != nil {
		return "", err
	}
	if b[len(b)-1] != 0 {
		return "", marshalErrf("ReadString", "missing NUL terminator")
	}
	return decodeNarrow(b[:len(b)-1], d.codeSets), nil
}

// ReadWString reads a wide string: a ulong count of 2-byte code units (the
// wire form carries no terminator), honoring a leading byte-order mark if
// present and otherwise falling back to the stream's own byte order.
func (d *Decoder) ReadWString() (string, error) {
	count, err := d.ReadULong()
	if err != nil {
		return "", err
	}
	if count > 0 {
		declared := uint64(count) * 2
		if declared > uint64(d.Remaining()) || declared > MaxStringLength {
			return "", marshalErrf("ReadWString", "declared length %d exceeds limits", declared)
		}
	}
	if count == 0 {
		return "", nil
	}
	units := make([]uint16, count)
	for i := uint32(0); i < count; i++ {
		u, err := d.ReadWChar()
		if err != nil {
			return "", err
		}
		units[i] = u
	}
	switch units[0] {
	case 0xFEFF:
		units = units[1:]
	case 0xFFFE:
		for i, u := range units[1:] {
			units[i+1] = u>>8 | u<<8
		}
		units = units[1:]
	}
	return string(utf16.Decode(units)), nil
}

// ReadOctetArray reads exactly n raw bytes with no length prefix.
func (d *Decoder) ReadOctetArray(n int) ([]byte, error) {
	b, err := d.take(n)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// ReadOctetSequence reads a ulong length followed by that many raw bytes,
// enforcing the larger octet-sequence length-sanity bound (MaxOctetLength).
func (d *Decoder) ReadOctetSequence() ([]byte, error) {
	length, err := d.ReadULong()
	if err != nil {
		return nil, err
	}
	if err := d.checkLength(length, MaxOctetLength); err != nil {
		return nil, err
	}
	return d.ReadOctetArray(int(length))
}

func (d *Decoder) checkLength(length uint32, max int) error {
	if int64(length) > int64(d.Remaining()) {
		return marshalErrf("checkLength", "declared length %d exceeds remaining %d bytes", length, d.Remaining())
	}
	if length > uint32(max) {
		return marshalErrf("checkLength", "declared length %d exceeds sanity limit %d", length, max)
	}
	return nil
}

// CreateSubStream returns a new Decoder over the next length bytes,
// independently aligned (its own origin resets to its own start), and
// advances this decoder's cursor past those bytes.
func (d *Decoder) CreateSubStream(length int) (*Decoder, error) {
	b, err := d.take(length)
	if err != nil {
		return nil, err
	}
	sub := NewDecoder(b, d.order)
	sub.codeSets = d.codeSets
	return sub, nil
}

// ReadEncapsulation reads a length-prefixed encapsulation: a ulong byte
// count, then that many bytes whose first byte is a byte-order flag. It
// returns a Decoder over the encapsulation's content with alignment
// relative to the encapsulation's own start and byte order taken from the
// flag octet.
func (d *Decoder) ReadEncapsulation() (*Decoder, error) {
	length, err := d.ReadULong()
	if err != nil {
		return nil, err
	}
	if err := d.checkLength(length, MaxOctetLength); err != nil {
		return nil, err
	}
	if length < 1 {
		return nil, marshalErrf("ReadEncapsulation", "empty encapsulation")
	}
	b, err := d.take(int(length))
	if err != nil {
		return nil, err
	}
	order := binary.ByteOrder(binary.BigEndian)
	if b[0] == 1 {
		order = binary.LittleEndian
	}
	sub := NewDecoder(b[1:], order)
	sub.codeSets = d.codeSets
	return sub, nil
}

// encodeNarrow / decodeNarrow implement the two narrow code sets this
// runtime supports for CDR strings: ISO-8859-1 (a 1:1 byte/rune mapping,
// needing no table) and UTF-8.
func encodeNarrow(s string, cs *CodeSetPair) []byte {
	charset := CodeSetISO8859_1
	if cs != nil {
		charset = cs.Char
	}
	if charset == CodeSetUTF8 {
		return []byte(s)
	}
	out := make([]byte, 0, len(s))
	for _, r := range s {
		if r > 0xFF {
			r = '?'
		}
		out = append(out, byte(r))
	}
	return out
}

func decodeNarrow(b []byte, cs *CodeSetPair) string {
	charset := CodeSetISO8859_1
	if cs != nil {
		charset = cs.Char
	}
	if charset == CodeSetUTF8 {
		return string(b)
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

// ReadFull is a convenience wrapper mirroring io.ReadFull's error contract,
// used by callers that need raw framing bytes off a net.Conn rather than an
// already-buffered Decoder.
func ReadFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
