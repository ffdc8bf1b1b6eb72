package corba

import (
	"encoding/binary"
	"fmt"

	"github.com/corbaworks/goiiop/giop"
)

// CodeSets is the body of a TAG_CODE_SETS component, CORBA 3.4 spec
// 13.10.2.6.
type CodeSets struct {
	NativeCharCodeSet  uint32
	NativeWCharCodeSet uint32
	ConvCharCodeSets   []uint32
	ConvWcharCodeSets  []uint32
}

// DecodeCodeSetsComponent decodes a TAG_CODE_SETS component.
func DecodeCodeSetsComponent(data []byte) (*CodeSets, error) {
	d, err := componentDecoder(data)
	if err != nil {
		return nil, fmt.Errorf("corba: code sets component: %w", err)
	}
	cs := &CodeSets{}
	if cs.NativeCharCodeSet, err = d.ReadULong(); err != nil {
		return nil, fmt.Errorf("corba: code sets component native char set: %w", err)
	}
	if cs.NativeWCharCodeSet, err = d.ReadULong(); err != nil {
		return nil, fmt.Errorf("corba: code sets component native wchar set: %w", err)
	}
	if cs.ConvCharCodeSets, err = readOptionalULongSeq(d); err != nil {
		return nil, fmt.Errorf("corba: code sets component conversion char sets: %w", err)
	}
	if cs.ConvWcharCodeSets, err = readOptionalULongSeq(d); err != nil {
		return nil, fmt.Errorf("corba: code sets component conversion wchar sets: %w", err)
	}
	return cs, nil
}

// EncodeCodeSetsComponent encodes cs as a TAG_CODE_SETS component body.
func EncodeCodeSetsComponent(cs *CodeSets, order binary.ByteOrder) []byte {
	e := giop.NewEncoder(order)
	e.WriteULong(cs.NativeCharCodeSet)
	e.WriteULong(cs.NativeWCharCodeSet)
	writeULongSeq(e, cs.ConvCharCodeSets)
	writeULongSeq(e, cs.ConvWcharCodeSets)
	return prependByteOrderFlag(e.Bytes(), order)
}

// readOptionalULongSeq reads a ULong-prefixed sequence of ULongs, or
// returns nil without consuming anything if fewer than 4 bytes remain.
// Older peers may omit the conversion code set sequences entirely rather
// than encoding them as empty.
func readOptionalULongSeq(d *giop.Decoder) ([]uint32, error) {
	if d.Remaining() < 4 {
		return nil, nil
	}
	count, err := d.ReadULong()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, nil
	}
	seq := make([]uint32, count)
	for i := range seq {
		if seq[i], err = d.ReadULong(); err != nil {
			return nil, fmt.Errorf("truncated sequence at element %d: %w", i, err)
		}
	}
	return seq, nil
}

func writeULongSeq(e *giop.Encoder, seq []uint32) {
	e.WriteULong(uint32(len(seq)))
	for _, v := range seq {
		e.WriteULong(v)
	}
}

// SSLData is the body of a TAG_SSL_SEC_TRANS component, CSIv2 spec §24.
type SSLData struct {
	TargetSupports uint16
	TargetRequires uint16
	Port           uint16
}

// DecodeSSLComponent decodes a TAG_SSL_SEC_TRANS component.
func DecodeSSLComponent(data []byte) (*SSLData, error) {
	d, err := componentDecoder(data)
	if err != nil {
		return nil, fmt.Errorf("corba: SSL component: %w", err)
	}
	ssl := &SSLData{}
	if ssl.TargetSupports, err = d.ReadUShort(); err != nil {
		return nil, fmt.Errorf("corba: SSL component target_supports: %w", err)
	}
	if ssl.TargetRequires, err = d.ReadUShort(); err != nil {
		return nil, fmt.Errorf("corba: SSL component target_requires: %w", err)
	}
	if ssl.Port, err = d.ReadUShort(); err != nil {
		return nil, fmt.Errorf("corba: SSL component port: %w", err)
	}
	return ssl, nil
}

// EncodeSSLComponent encodes ssl as a TAG_SSL_SEC_TRANS component body.
func EncodeSSLComponent(ssl *SSLData, order binary.ByteOrder) []byte {
	e := giop.NewEncoder(order)
	e.WriteUShort(ssl.TargetSupports)
	e.WriteUShort(ssl.TargetRequires)
	e.WriteUShort(ssl.Port)
	return prependByteOrderFlag(e.Bytes(), order)
}

// DecodeComponent decodes a tagged component's body based on its tag,
// falling back to the raw bytes for tags this runtime doesn't interpret.
func DecodeComponent(tag uint32, data []byte) (interface{}, error) {
	switch tag {
	case TAG_CODE_SETS:
		return DecodeCodeSetsComponent(data)
	case TAG_SSL_SEC_TRANS:
		return DecodeSSLComponent(data)
	default:
		return data, nil
	}
}
