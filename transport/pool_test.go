package transport

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corbaworks/goiiop/giop"
)

// startEchoListener starts a bare TCP listener that accepts connections and
// discards whatever it reads, just enough for Pool.Get to have something
// real to dial. It returns the bound host and port.
func startEchoListener(t *testing.T) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestPoolGetReusesConnection(t *testing.T) {
	host, port := startEchoListener(t)
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)

	c1, err := pool.Get(host, port, giop.Version1_2)
	require.NoError(t, err)
	c2, err := pool.Get(host, port, giop.Version1_2)
	require.NoError(t, err)
	require.Same(t, c1, c2, "expected repeated Get calls for the same key to return the identical connection")
}

func TestPoolGetCoalescesConcurrentDials(t *testing.T) {
	host, port := startEchoListener(t)
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)

	const n = 20
	var wg sync.WaitGroup
	results := make([]*Connection, n)
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			conn, err := pool.Get(host, port, giop.Version1_2)
			results[i] = conn
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		require.Same(t, results[0], results[i], "expected every concurrent Get to observe the same pooled connection")
	}
}

func TestPoolRemoveDropsEntryWithoutClosing(t *testing.T) {
	host, port := startEchoListener(t)
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())
	t.Cleanup(pool.CloseAll)

	conn, err := pool.Get(host, port, giop.Version1_2)
	require.NoError(t, err)

	pool.Remove(host, port)

	select {
	case <-conn.Done():
		t.Fatal("Remove should not close the underlying connection")
	default:
	}

	conn2, err := pool.Get(host, port, giop.Version1_2)
	require.NoError(t, err)
	require.NotSame(t, conn, conn2, "expected a removed key to dial a fresh connection")
	_ = conn.Close()
}

func TestPoolSweepIdleClosesStaleConnections(t *testing.T) {
	host, port := startEchoListener(t)
	pc := PoolConfig{MaxIdleTime: 10 * time.Millisecond, CleanupInterval: time.Hour, AutoSweep: false}
	pool := NewPool(DefaultConnectionConfig(), pc)
	t.Cleanup(pool.CloseAll)

	conn, err := pool.Get(host, port, giop.Version1_2)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	pool.sweepIdle()

	select {
	case <-conn.Done():
	case <-time.After(time.Second):
		t.Fatal("expected sweepIdle to close a connection idle past MaxIdleTime")
	}

	conn2, err := pool.Get(host, port, giop.Version1_2)
	require.NoError(t, err)
	require.NotSame(t, conn, conn2, "expected a fresh dial after the stale connection was swept")
}

func TestPoolCloseAllClosesEveryConnectionAndIsIdempotent(t *testing.T) {
	hostA, portA := startEchoListener(t)
	hostB, portB := startEchoListener(t)
	pool := NewPool(DefaultConnectionConfig(), DefaultPoolConfig())

	connA, err := pool.Get(hostA, portA, giop.Version1_2)
	require.NoError(t, err)
	connB, err := pool.Get(hostB, portB, giop.Version1_2)
	require.NoError(t, err)

	pool.CloseAll()

	for _, conn := range []*Connection{connA, connB} {
		select {
		case <-conn.Done():
		case <-time.After(time.Second):
			t.Fatal("expected CloseAll to close every pooled connection")
		}
	}

	require.NotPanics(t, pool.CloseAll, "CloseAll must be safe to call more than once")
}
