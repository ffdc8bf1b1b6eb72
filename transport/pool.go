package transport

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/corbaworks/goiiop/giop"
)

// Pool is a connection pool keyed by "host:port", coalescing concurrent
// connects for the same key to a single in-flight dial.
type Pool struct {
	cfg ConnectionConfig
	pc  PoolConfig

	mu    sync.Mutex
	conns map[string]*Connection
	group singleflight.Group

	sweepStop chan struct{}
}

// NewPool creates a connection pool. If pc.AutoSweep is set, a background
// goroutine closes connections idle longer than pc.MaxIdleTime.
func NewPool(cfg ConnectionConfig, pc PoolConfig) *Pool {
	p := &Pool{
		cfg:   cfg,
		pc:    pc,
		conns: make(map[string]*Connection),
	}
	if pc.AutoSweep {
		p.sweepStop = make(chan struct{})
		go p.sweepLoop()
	}
	return p
}

func normalizeKey(host string, port int) string {
	if host == "localhost" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Get returns a pooled connection for host:port, dialing one if necessary.
// Concurrent calls for the same key share a single dial.
func (p *Pool) Get(host string, port int, version giop.Version) (*Connection, error) {
	key := normalizeKey(host, port)
	if host == "localhost" {
		host = "127.0.0.1"
	}

	p.mu.Lock()
	if conn, ok := p.conns[key]; ok {
		p.mu.Unlock()
		select {
		case <-conn.Done():
			p.mu.Lock()
			delete(p.conns, key)
			p.mu.Unlock()
		default:
			return conn, nil
		}
	} else {
		p.mu.Unlock()
	}

	result, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.Lock()
		if conn, ok := p.conns[key]; ok {
			p.mu.Unlock()
			return conn, nil
		}
		p.mu.Unlock()

		conn, err := Dial(host, port, version, p.cfg)
		if err != nil {
			return nil, err
		}
		p.mu.Lock()
		p.conns[key] = conn
		p.mu.Unlock()
		return conn, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Connection), nil
}

// Remove drops a connection from the pool without closing it (the caller
// has usually already closed it, e.g. on CloseConnection/MessageError).
func (p *Pool) Remove(host string, port int) {
	key := normalizeKey(host, port)
	p.mu.Lock()
	delete(p.conns, key)
	p.mu.Unlock()
}

func (p *Pool) sweepLoop() {
	ticker := time.NewTicker(p.pc.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.sweepIdle()
		case <-p.sweepStop:
			return
		}
	}
}

func (p *Pool) sweepIdle() {
	p.mu.Lock()
	var stale []*Connection
	for key, conn := range p.conns {
		if conn.IdleSince() > p.pc.MaxIdleTime {
			stale = append(stale, conn)
			delete(p.conns, key)
		}
	}
	p.mu.Unlock()
	for _, conn := range stale {
		Logger.Printf("pool: closing idle connection %s (%s:%d)", conn.ID, conn.Host, conn.Port)
		_ = conn.Write(giop.EncodeCloseConnection(giop.Version1_2, false))
		_ = conn.Close()
	}
}

// CloseAll stops the idle sweeper, sends CloseConnection to every pooled
// connection, then closes every socket. It does not wait for dials still in
// flight in Get; a connection whose dial completes afterwards is added to
// the pool.
func (p *Pool) CloseAll() {
	if p.sweepStop != nil {
		close(p.sweepStop)
		p.sweepStop = nil
	}
	p.mu.Lock()
	conns := make([]*Connection, 0, len(p.conns))
	for key, conn := range p.conns {
		conns = append(conns, conn)
		delete(p.conns, key)
	}
	p.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Write(giop.EncodeCloseConnection(conn.version, false))
		_ = conn.Close()
	}
}
