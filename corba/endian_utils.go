package corba

import (
	"encoding/binary"
	"fmt"

	"github.com/corbaworks/goiiop/giop"
)

// componentDecoder builds a CDR Decoder over a tagged component's body,
// CORBA 3.4 spec 7.10.2: several components (code sets, SSL/TLS transport,
// the alternate IIOP address, ...) are themselves small CDR encapsulations
// prefixed with a one-byte 0/1 byte-order flag. As in DecodeIIOPProfile,
// the returned Decoder's alignment is counted from the byte after the flag.
func componentDecoder(data []byte) (*giop.Decoder, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("component data too short to carry a byte-order flag")
	}
	order := binary.ByteOrder(binary.BigEndian)
	switch data[0] {
	case 0:
	case 1:
		order = binary.LittleEndian
	default:
		return nil, fmt.Errorf("invalid component byte-order flag: %d", data[0])
	}
	return giop.NewDecoder(data[1:], order), nil
}

// prependByteOrderFlag returns body prefixed with the one-byte flag
// componentDecoder expects, the inverse operation.
func prependByteOrderFlag(body []byte, order binary.ByteOrder) []byte {
	flag := byte(0)
	if order == binary.LittleEndian {
		flag = 1
	}
	return append([]byte{flag}, body...)
}
