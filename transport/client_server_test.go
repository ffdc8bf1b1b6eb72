package transport

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/corbaworks/goiiop/corba"
	"github.com/corbaworks/goiiop/giop"
)

// serverIOR builds an IOR pointing at srv's bound loopback address with the
// given object key.
func serverIOR(t *testing.T, srv *Server, objectKey string) *corba.IOR {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Addr().String())
	if err != nil {
		t.Fatalf("SplitHostPort(%q): %v", srv.Addr().String(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parsing port %q: %v", portStr, err)
	}
	ior := corba.NewIOR("IDL:demo/Echo:1.0")
	ior.AddIIOPProfile(corba.IIOPVersion{Major: 1, Minor: 2}, host, uint16(port), []byte(objectKey))
	return ior
}

func TestRequestReplyRoundTripOverLoopback(t *testing.T) {
	srv := NewServer(DefaultConnectionConfig())
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Shutdown() })

	srv.RegisterHandler("echo", func(req *giop.RequestHeader, payload []byte, conn *Connection) ([]byte, corba.Exception) {
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	})

	ior := serverIOR(t, srv, "echo-object")
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)
	client := NewClient(pool, DefaultDispatchConfig())

	reply, err := client.SendRequest(ior, "echo", []byte("hello"), nil, giop.Version1_2, false)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if reply.Status != giop.ReplyStatusNoException {
		t.Fatalf("unexpected reply status: %d", reply.Status)
	}
	if string(reply.Payload) != "hello" {
		t.Fatalf("unexpected reply payload: %q", reply.Payload)
	}
}

func TestOnewayRequestReturnsImmediately(t *testing.T) {
	srv := NewServer(DefaultConnectionConfig())
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Shutdown() })

	received := make(chan []byte, 1)
	srv.RegisterHandler("notify", func(req *giop.RequestHeader, payload []byte, conn *Connection) ([]byte, corba.Exception) {
		received <- payload
		return nil, nil
	})

	ior := serverIOR(t, srv, "notify-object")
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)
	client := NewClient(pool, DefaultDispatchConfig())

	reply, err := client.SendRequest(ior, "notify", []byte("ping"), nil, giop.Version1_2, true)
	if err != nil {
		t.Fatalf("SendRequest (oneway): %v", err)
	}
	if reply != nil {
		t.Fatalf("expected a nil Reply for a oneway request, got %+v", reply)
	}

	select {
	case got := <-received:
		if string(got) != "ping" {
			t.Fatalf("unexpected payload delivered to handler: %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the oneway handler to run")
	}
}

func TestSystemExceptionReplyPropagatesToClient(t *testing.T) {
	srv := NewServer(DefaultConnectionConfig())
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Shutdown() })

	srv.RegisterHandler("fail", func(req *giop.RequestHeader, payload []byte, conn *Connection) ([]byte, corba.Exception) {
		return nil, corba.BAD_PARAM(3, corba.CompletionStatusNo)
	})

	ior := serverIOR(t, srv, "fail-object")
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)
	client := NewClient(pool, DefaultDispatchConfig())

	reply, err := client.SendRequest(ior, "fail", nil, nil, giop.Version1_2, false)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if reply.Status != giop.ReplyStatusSystemException {
		t.Fatalf("expected a system exception reply, got status %d", reply.Status)
	}
	ex, err := corba.UnmarshalException(reply.Payload, nil)
	if err != nil {
		t.Fatalf("UnmarshalException: %v", err)
	}
	if ex.Name() != "BAD_PARAM" || ex.Minor() != 3 {
		t.Fatalf("unexpected exception: name=%s minor=%d", ex.Name(), ex.Minor())
	}
}

func TestUnregisteredOperationReturnsObjAdapter(t *testing.T) {
	srv := NewServer(DefaultConnectionConfig())
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Shutdown() })

	ior := serverIOR(t, srv, "no-handler-object")
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)
	client := NewClient(pool, DefaultDispatchConfig())

	reply, err := client.SendRequest(ior, "doesNotExist", nil, nil, giop.Version1_2, false)
	if err != nil {
		t.Fatalf("SendRequest: %v", err)
	}
	if reply.Status != giop.ReplyStatusSystemException {
		t.Fatalf("expected a system exception reply, got status %d", reply.Status)
	}
	ex, err := corba.UnmarshalException(reply.Payload, nil)
	if err != nil {
		t.Fatalf("UnmarshalException: %v", err)
	}
	if ex.Name() != "OBJ_ADAPTER" {
		t.Fatalf("expected OBJ_ADAPTER, got %s", ex.Name())
	}
}

func TestLocateObjectReportsObjectHereForUnregisteredKey(t *testing.T) {
	srv := NewServer(DefaultConnectionConfig())
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	go srv.Serve()
	t.Cleanup(func() { _ = srv.Shutdown() })

	ior := serverIOR(t, srv, "locate-object")
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)
	client := NewClient(pool, DefaultDispatchConfig())

	status, err := client.LocateObject(ior, giop.Version1_2)
	if err != nil {
		t.Fatalf("LocateObject: %v", err)
	}
	if status != giop.LocateStatusObjectHere {
		t.Fatalf("expected LocateStatusObjectHere, got %d", status)
	}
}
