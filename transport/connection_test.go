package transport

import (
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/corbaworks/goiiop/giop"
)

// buildSplitFirstMessage builds the initial fragment of a logically larger
// GIOP message: a full header (with FlagMoreFragments set) followed by only
// the first part of the body. This cannot be produced by giop.EncodeRequest,
// which never itself fragments, so the wire bytes are assembled by hand the
// way a fragmenting peer would.
func buildSplitFirstMessage(version giop.Version, msgType byte, bodyPart []byte) []byte {
	e := giop.NewEncoder(binary.BigEndian)
	e.WriteOctetArray([]byte{'G', 'I', 'O', 'P'})
	e.WriteOctet(version.Major)
	e.WriteOctet(version.Minor)
	e.WriteOctet(giop.FlagMoreFragments)
	e.WriteOctet(msgType)
	e.WriteULong(uint32(len(bodyPart)))
	e.WriteOctetArray(bodyPart)
	return e.Bytes()
}

func fullRequestBody(version giop.Version, h giop.RequestHeader, payload []byte) []byte {
	full := giop.EncodeRequest(version, false, h, payload)
	return full[giop.HeaderSize:]
}

func TestFragmentReassemblyGIOP1_2KeyedByRequestID(t *testing.T) {
	testEnd, connEnd := net.Pipe()
	conn := newConnection(connEnd, "peer", 0, giop.Version1_2, DefaultConnectionConfig())
	defer conn.Close()

	h := giop.RequestHeader{RequestID: 11, ResponseExpected: true, ObjectKey: []byte("k"), Operation: "longOp"}
	payload := []byte("0123456789abcdefghij")
	body := fullRequestBody(giop.Version1_2, h, payload)

	split := len(body) / 2
	if split < 4 {
		split = 4
	}
	first := buildSplitFirstMessage(giop.Version1_2, giop.MsgRequest, body[:split])
	second := giop.EncodeFragment(giop.Version1_2, false, h.RequestID, body[split:])

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = testEnd.Write(first)
		_, _ = testEnd.Write(second)
	}()
	defer func() { <-done }()

	select {
	case msg := <-conn.Incoming():
		if msg.Header.MsgType != giop.MsgRequest {
			t.Fatalf("expected a reassembled Request, got msg type %d", msg.Header.MsgType)
		}
		d := giop.NewMessageBodyDecoder(msg.Body, msg.Header.ByteOrder())
		got, gotPayload, err := giop.DecodeRequestBody(d, giop.Version1_2)
		if err != nil {
			t.Fatalf("DecodeRequestBody: %v", err)
		}
		if got.RequestID != 11 || got.Operation != "longOp" {
			t.Fatalf("unexpected reassembled header: %+v", got)
		}
		if string(gotPayload) != string(payload) {
			t.Fatalf("reassembled payload mismatch: got %q want %q", gotPayload, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reassembled message to be delivered")
	}
}

func TestFragmentReassemblyGIOP1_0SingletonFallback(t *testing.T) {
	testEnd, connEnd := net.Pipe()
	conn := newConnection(connEnd, "peer", 0, giop.Version1_0, DefaultConnectionConfig())
	defer conn.Close()

	h := giop.RequestHeader{RequestID: 3, ResponseExpected: true, ObjectKey: []byte("k"), Operation: "op"}
	payload := []byte("fragmentedpayload")
	body := fullRequestBody(giop.Version1_0, h, payload)

	split := len(body) / 2
	first := buildSplitFirstMessage(giop.Version1_0, giop.MsgRequest, body[:split])
	second := giop.EncodeFragment(giop.Version1_0, false, 0, body[split:])

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = testEnd.Write(first)
		_, _ = testEnd.Write(second)
	}()
	defer func() { <-done }()

	select {
	case msg := <-conn.Incoming():
		d := giop.NewMessageBodyDecoder(msg.Body, msg.Header.ByteOrder())
		got, gotPayload, err := giop.DecodeRequestBody(d, giop.Version1_0)
		if err != nil {
			t.Fatalf("DecodeRequestBody: %v", err)
		}
		if got.RequestID != 3 {
			t.Fatalf("unexpected reassembled request id: %d", got.RequestID)
		}
		if string(gotPayload) != string(payload) {
			t.Fatalf("reassembled payload mismatch: got %q want %q", gotPayload, payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the reassembled message to be delivered")
	}
}

func TestSweepFragmentsDropsStaleAssembly(t *testing.T) {
	testEnd, connEnd := net.Pipe()
	conn := newConnection(connEnd, "peer", 0, giop.Version1_2, DefaultConnectionConfig())
	defer conn.Close()

	h := giop.RequestHeader{RequestID: 21, ResponseExpected: true, ObjectKey: []byte("k"), Operation: "op"}
	body := fullRequestBody(giop.Version1_2, h, []byte("0123456789"))
	first := buildSplitFirstMessage(giop.Version1_2, giop.MsgRequest, body[:6])

	go func() { _, _ = testEnd.Write(first) }()
	time.Sleep(50 * time.Millisecond) // let startFragment register the assembly

	conn.SweepFragments(10 * time.Millisecond)

	conn.fragMu.Lock()
	_, stillTracked := conn.fragByID[21]
	conn.fragMu.Unlock()
	if stillTracked {
		t.Fatal("expected SweepFragments to discard the stale assembly")
	}
}

func TestSendRequestTimesOutWithNoReply(t *testing.T) {
	testEnd, connEnd := net.Pipe()
	drain := make(chan struct{})
	go func() {
		defer close(drain)
		buf := make([]byte, 4096)
		for {
			if _, err := testEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	conn := newConnection(connEnd, "peer", 0, giop.Version1_2, DefaultConnectionConfig())
	defer conn.Close()

	h := giop.RequestHeader{RequestID: 1, ResponseExpected: true, ObjectKey: []byte("k"), Operation: "op"}
	data := giop.EncodeRequest(giop.Version1_2, false, h, nil)

	resultCh, err := conn.SendRequest(1, data, 30*time.Millisecond)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	select {
	case result := <-resultCh:
		if result.Err == nil {
			t.Fatal("expected a timeout error, got nil")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the request's own timeout to fire")
	}
	_ = testEnd.Close()
	<-drain
}

func TestCloseFailsAllPendingRequests(t *testing.T) {
	testEnd, connEnd := net.Pipe()
	drain := make(chan struct{})
	go func() {
		defer close(drain)
		buf := make([]byte, 4096)
		for {
			if _, err := testEnd.Read(buf); err != nil {
				return
			}
		}
	}()

	conn := newConnection(connEnd, "peer", 0, giop.Version1_2, DefaultConnectionConfig())

	h := giop.RequestHeader{RequestID: 2, ResponseExpected: true, ObjectKey: []byte("k"), Operation: "op"}
	data := giop.EncodeRequest(giop.Version1_2, false, h, nil)

	resultCh, err := conn.SendRequest(2, data, 0)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case result := <-resultCh:
		if result.Err != ErrConnectionClosed {
			t.Fatalf("expected ErrConnectionClosed, got %v", result.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Close to fail the pending request")
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close should be idempotent, got error on second call: %v", err)
	}
	_ = testEnd.Close()
	<-drain
}
