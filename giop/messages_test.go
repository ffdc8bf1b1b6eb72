package giop

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRequestRoundTripGIOP1_0(t *testing.T) {
	h := RequestHeader{
		RequestID:        7,
		ResponseExpected: true,
		ObjectKey:        []byte("obj1"),
		Operation:        "echo",
	}
	payload := []byte{1, 2, 3, 4}
	data := EncodeRequest(Version1_0, false, h, payload)

	dec := NewDecoder(data, binary.BigEndian)
	hdr, err := ReadHeader(dec)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.MsgType != MsgRequest {
		t.Fatalf("expected MsgRequest, got %d", hdr.MsgType)
	}
	if hdr.MsgSize != uint32(len(data)-HeaderSize) {
		t.Fatalf("MsgSize mismatch: header says %d, actual body is %d", hdr.MsgSize, len(data)-HeaderSize)
	}

	got, gotPayload, err := DecodeRequestBody(dec, Version1_0)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != 7 || got.Operation != "echo" || !got.ResponseExpected {
		t.Fatalf("unexpected header: %+v", got)
	}
	if string(got.ObjectKey) != "obj1" {
		t.Fatalf("unexpected object key: %q", got.ObjectKey)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %v want %v", gotPayload, payload)
	}
}

func TestRequestRoundTripGIOP1_2(t *testing.T) {
	h := RequestHeader{
		RequestID:        42,
		ResponseExpected: true,
		ObjectKey:        []byte("obj2"),
		Operation:        "invoke",
	}
	payload := []byte{9, 9, 9}
	data := EncodeRequest(Version1_2, false, h, payload)

	dec := NewDecoder(data, binary.BigEndian)
	hdr, err := ReadHeader(dec)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.Version != Version1_2 {
		t.Fatalf("expected version 1.2, got %s", hdr.Version)
	}

	got, gotPayload, err := DecodeRequestBody(dec, Version1_2)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != 42 || got.Operation != "invoke" {
		t.Fatalf("unexpected header: %+v", got)
	}
	if got.Target == nil || got.Target.Disposition != AddrKeyAddr {
		t.Fatalf("expected a KeyAddr target, got %+v", got.Target)
	}
	if string(got.ObjectKey) != "obj2" {
		t.Fatalf("unexpected object key: %q", got.ObjectKey)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %v want %v", gotPayload, payload)
	}
}

// TestRequestHeaderLiteralBytesGIOP1_2 pins down the exact byte layout of a
// minimal GIOP 1.2 Request header: magic, version, flags, msg type, then
// request id, response flags, and, after the 3 reserved octets, the
// TargetAddress union discriminator.
func TestRequestHeaderLiteralBytesGIOP1_2(t *testing.T) {
	h := RequestHeader{
		RequestID:        1,
		ResponseExpected: true,
		ObjectKey:        []byte{},
		Operation:        "",
	}
	data := EncodeRequest(Version1_2, false, h, nil)

	want := []byte{'G', 'I', 'O', 'P', 1, 2, 0, byte(MsgRequest)}
	if !bytes.Equal(data[:8], want) {
		t.Fatalf("header prefix = % x, want % x", data[:8], want)
	}
	// Request id (4 bytes, big-endian 1) follows the 12-byte fixed header.
	reqID := binary.BigEndian.Uint32(data[HeaderSize : HeaderSize+4])
	if reqID != 1 {
		t.Fatalf("request id = %d, want 1", reqID)
	}
	// Response flags octet: bit 0 set for a two-way request.
	if data[HeaderSize+4]&0x01 == 0 {
		t.Fatalf("expected response-expected bit set in response flags octet")
	}
	// 3 reserved octets, then a 2-byte AddrKeyAddr (0) discriminator.
	disp := binary.BigEndian.Uint16(data[HeaderSize+8 : HeaderSize+10])
	if disp != uint16(AddrKeyAddr) {
		t.Fatalf("addressing disposition = %d, want %d (AddrKeyAddr)", disp, AddrKeyAddr)
	}
}

func TestReplyRoundTripGIOP1_1(t *testing.T) {
	h := ReplyHeader{RequestID: 5, ReplyStatus: ReplyStatusNoException}
	payload := []byte("result")
	data := EncodeReply(Version1_1, false, h, payload)

	dec := NewDecoder(data, binary.BigEndian)
	hdr, err := ReadHeader(dec)
	if err != nil {
		t.Fatal(err)
	}
	got, gotPayload, err := DecodeReplyBody(dec, Version1_1)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != 5 || got.ReplyStatus != ReplyStatusNoException {
		t.Fatalf("unexpected reply header: %+v", got)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q want %q", gotPayload, payload)
	}
	_ = hdr
}

func TestLittleEndianMessageFlag(t *testing.T) {
	h := ReplyHeader{RequestID: 1, ReplyStatus: ReplyStatusNoException}
	data := EncodeReply(Version1_2, true, h, nil)
	dec := NewDecoder(data, binary.BigEndian) // header itself always reads magic/version/flags as plain octets
	hdr, err := ReadHeader(dec)
	if err != nil {
		t.Fatal(err)
	}
	if !hdr.LittleEndian() {
		t.Fatal("expected little-endian flag to be set")
	}
	if hdr.ByteOrder() != binary.LittleEndian {
		t.Fatal("expected ByteOrder() to report little-endian")
	}
}

func TestFragmentReassemblyFraming(t *testing.T) {
	h := RequestHeader{RequestID: 3, ResponseExpected: true, ObjectKey: []byte("k"), Operation: "op"}
	full := EncodeRequest(Version1_2, false, h, []byte("0123456789"))

	// Simulate fragmenting the message body arbitrarily; EncodeFragment
	// itself only frames one fragment's payload, reassembly is a transport
	// concern covered in the transport package's tests.
	frag := EncodeFragment(Version1_2, false, 3, []byte("fragment-body"))
	dec := NewDecoder(frag, binary.BigEndian)
	hdr, err := ReadHeader(dec)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.MsgType != MsgFragment {
		t.Fatalf("expected MsgFragment, got %d", hdr.MsgType)
	}
	fh, payload, err := DecodeFragmentBody(dec, Version1_2)
	if err != nil {
		t.Fatal(err)
	}
	if fh.RequestID != 3 {
		t.Fatalf("fragment request id = %d, want 3", fh.RequestID)
	}
	if string(payload) != "fragment-body" {
		t.Fatalf("fragment payload = %q", payload)
	}
	_ = full
}

func TestLocateRequestReplyRoundTrip(t *testing.T) {
	lreq := EncodeLocateRequest(Version1_2, false, LocateRequestHeader{RequestID: 9, ObjectKey: []byte("key")})
	dec := NewDecoder(lreq, binary.BigEndian)
	if _, err := ReadHeader(dec); err != nil {
		t.Fatal(err)
	}
	got, err := DecodeLocateRequestBody(dec, Version1_2)
	if err != nil {
		t.Fatal(err)
	}
	if got.RequestID != 9 {
		t.Fatalf("request id = %d, want 9", got.RequestID)
	}

	lrep := EncodeLocateReply(Version1_2, false, LocateReplyHeader{RequestID: 9, Status: LocateStatusObjectHere})
	dec2 := NewDecoder(lrep, binary.BigEndian)
	if _, err := ReadHeader(dec2); err != nil {
		t.Fatal(err)
	}
	gotReply, err := DecodeLocateReplyBody(dec2)
	if err != nil {
		t.Fatal(err)
	}
	if gotReply.Status != LocateStatusObjectHere {
		t.Fatalf("status = %d, want LocateStatusObjectHere", gotReply.Status)
	}
}
