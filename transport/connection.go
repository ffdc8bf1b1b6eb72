package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corbaworks/goiiop/giop"
)

// Logger is the package-level diagnostic logger. Callers may redirect or
// silence it (e.g. log.New(io.Discard, "", 0)) without touching call sites.
var Logger = log.New(os.Stderr, "transport: ", log.LstdFlags)

// ErrConnectionClosed is returned to every pending request when the peer
// sends CloseConnection or the socket is closed locally.
var ErrConnectionClosed = errors.New("transport: connection closed")

// ErrProtocolError is returned to every pending request when the peer sends
// MessageError.
var ErrProtocolError = errors.New("transport: GIOP protocol error")

// InboundMessage is a fully reassembled, non-reply message delivered to a
// connection's incoming channel: a Request, LocateRequest, CancelRequest, or
// a Reply/LocateReply that arrived with no matching pending entry.
type InboundMessage struct {
	Header  giop.Header
	Version giop.Version
	Body    []byte
}

// ReplyResult is delivered to a pending request's waiter when its Reply or
// LocateReply arrives.
type ReplyResult struct {
	Version     giop.Version
	ReplyHeader *giop.ReplyHeader
	LocateReply *giop.LocateReplyHeader
	Payload     []byte
	Err         error
}

type pendingCall struct {
	resultCh chan *ReplyResult
	timer    *time.Timer
}

type fragmentAssembly struct {
	header  giop.Header
	version giop.Version
	body    []byte
	started time.Time
}

// Connection wraps one TCP connection to a GIOP peer. A single reader
// goroutine owns the socket read side; Connection.mu guards the pending
// table, code sets, closed flag and last-use time, never I/O itself;
// fragMu guards the fragment tables.
type Connection struct {
	ID   string
	Host string
	Port int

	conn    net.Conn
	cfg     ConnectionConfig
	version giop.Version

	mu         sync.Mutex
	pending    map[uint32]*pendingCall
	codeSets   *giop.CodeSetPair
	closed     bool
	lastUsed   time.Time
	writeMu    sync.Mutex

	fragMu      sync.Mutex
	fragByID    map[uint32]*fragmentAssembly
	fragCurrent *fragmentAssembly

	incoming  chan *InboundMessage
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Dial establishes a new outbound connection to host:port, negotiating the
// given default GIOP version for outgoing messages.
func Dial(host string, port int, version giop.Version, cfg ConnectionConfig) (*Connection, error) {
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	if cfg.KeepAlive {
		dialer.KeepAlive = 30 * time.Second
	}
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	raw, err := dialer.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(cfg.NoDelay)
	}
	return newConnection(raw, host, port, version, cfg), nil
}

func newConnection(raw net.Conn, host string, port int, version giop.Version, cfg ConnectionConfig) *Connection {
	c := &Connection{
		ID:       uuid.NewString(),
		Host:     host,
		Port:     port,
		conn:     raw,
		cfg:      cfg,
		version:  version,
		pending:  make(map[uint32]*pendingCall),
		codeSets: giop.DefaultCodeSets(),
		lastUsed: time.Now(),
		fragByID: make(map[uint32]*fragmentAssembly),
		incoming: make(chan *InboundMessage, 16),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// NewServerConnection wraps an accepted inbound net.Conn.
func NewServerConnection(raw net.Conn, cfg ConnectionConfig) *Connection {
	host, portStr, _ := net.SplitHostPort(raw.RemoteAddr().String())
	port := 0
	fmt.Sscanf(portStr, "%d", &port)
	return newConnection(raw, host, port, giop.Version1_2, cfg)
}

// CodeSets returns the connection's currently negotiated code-set pair.
func (c *Connection) CodeSets() *giop.CodeSetPair {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codeSets
}

// SetCodeSets installs a newly negotiated code-set pair, taking effect on
// the next CDR stream built against this connection.
func (c *Connection) SetCodeSets(cs *giop.CodeSetPair) {
	c.mu.Lock()
	c.codeSets = cs
	c.mu.Unlock()
}

// Incoming returns the channel of messages this connection did not resolve
// internally: Requests/LocateRequests/CancelRequests (server side), and any
// Reply that arrived with no matching pending entry.
func (c *Connection) Incoming() <-chan *InboundMessage { return c.incoming }

// Done is closed once the connection's reader has stopped and pending
// requests have been failed.
func (c *Connection) Done() <-chan struct{} { return c.done }

// touch records use of the connection for idle-sweeping purposes.
func (c *Connection) touch() {
	c.mu.Lock()
	c.lastUsed = time.Now()
	c.mu.Unlock()
}

// IdleSince reports how long the connection has gone unused.
func (c *Connection) IdleSince() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastUsed)
}

// Write sends a raw, already-framed GIOP message.
func (c *Connection) Write(data []byte) error {
	c.touch()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.cfg.ReadTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout))
	}
	_, err := c.conn.Write(data)
	if err != nil {
		return fmt.Errorf("transport: write to %s:%d: %w", c.Host, c.Port, err)
	}
	return nil
}

// SendRequest registers a pending entry for requestID and writes data. The
// returned channel receives exactly one ReplyResult.
func (c *Connection) SendRequest(requestID uint32, data []byte, timeout time.Duration) (chan *ReplyResult, error) {
	resultCh := make(chan *ReplyResult, 1)
	pc := &pendingCall{resultCh: resultCh}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrConnectionClosed
	}
	c.pending[requestID] = pc
	c.mu.Unlock()

	if timeout > 0 {
		pc.timer = time.AfterFunc(timeout, func() {
			if taken := c.takePending(requestID); taken != nil {
				taken.resultCh <- &ReplyResult{Err: fmt.Errorf("transport: request %d timed out", requestID)}
			}
		})
	}

	if err := c.Write(data); err != nil {
		c.takePending(requestID)
		return nil, err
	}
	return resultCh, nil
}

func (c *Connection) takePending(id uint32) *pendingCall {
	c.mu.Lock()
	pc, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if ok && pc.timer != nil {
		pc.timer.Stop()
	}
	if ok {
		return pc
	}
	return nil
}

func (c *Connection) failAllPending(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[uint32]*pendingCall)
	c.mu.Unlock()
	for _, pc := range pending {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.resultCh <- &ReplyResult{Err: err}
	}
}

// Close closes the underlying socket and fails every pending request. Safe
// to call more than once.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
		c.failAllPending(ErrConnectionClosed)
		close(c.done)
	})
	return c.closeErr
}

func (c *Connection) readLoop() {
	defer c.Close()
	for {
		hdrBuf := make([]byte, giop.HeaderSize)
		if _, err := io.ReadFull(c.conn, hdrBuf); err != nil {
			return
		}
		dec := giop.NewDecoder(hdrBuf, binary.BigEndian)
		hdr, err := giop.ReadHeader(dec)
		if err != nil {
			Logger.Printf("connection %s: invalid GIOP header: %v", c.ID, err)
			return
		}
		c.touch()

		var body []byte
		if hdr.MsgSize > 0 {
			body = make([]byte, hdr.MsgSize)
			if _, err := io.ReadFull(c.conn, body); err != nil {
				return
			}
		}

		switch hdr.MsgType {
		case giop.MsgFragment:
			c.handleFragment(hdr, body)
		case giop.MsgCloseConnection:
			return
		case giop.MsgMessageError:
			c.failAllPending(ErrProtocolError)
			return
		default:
			if hdr.MoreFragments() {
				c.startFragment(hdr, body)
			} else {
				c.deliver(hdr, hdr.Version, body)
			}
		}
	}
}

func (c *Connection) startFragment(hdr giop.Header, body []byte) {
	asm := &fragmentAssembly{header: hdr, version: hdr.Version, body: append([]byte{}, body...), started: time.Now()}
	c.fragMu.Lock()
	defer c.fragMu.Unlock()
	if hdr.Version.AtLeast(1, 2) && len(body) >= 4 {
		id := hdr.ByteOrder().Uint32(body[:4])
		c.fragByID[id] = asm
	} else {
		c.fragCurrent = asm
	}
}

func (c *Connection) handleFragment(hdr giop.Header, body []byte) {
	d := giop.NewMessageBodyDecoder(body, hdr.ByteOrder())
	fh, payload, err := giop.DecodeFragmentBody(d, hdr.Version)
	if err != nil {
		Logger.Printf("connection %s: invalid fragment: %v", c.ID, err)
		return
	}

	c.fragMu.Lock()
	var asm *fragmentAssembly
	if hdr.Version.AtLeast(1, 2) {
		asm = c.fragByID[fh.RequestID]
		if asm != nil {
			asm.body = append(asm.body, payload...)
			if !hdr.MoreFragments() {
				delete(c.fragByID, fh.RequestID)
			}
		}
	} else {
		asm = c.fragCurrent
		if asm != nil {
			asm.body = append(asm.body, payload...)
			if !hdr.MoreFragments() {
				c.fragCurrent = nil
			}
		}
	}
	done := asm != nil && !hdr.MoreFragments()
	c.fragMu.Unlock()

	if asm == nil {
		Logger.Printf("connection %s: fragment with no matching assembly", c.ID)
		return
	}
	if done {
		c.deliver(asm.header, asm.version, asm.body)
	}
}

// SweepFragments discards assemblies older than timeout, logging a warning
// for each. Intended to be called periodically (e.g. ~10s sweep interval,
// 30s timeout).
func (c *Connection) SweepFragments(timeout time.Duration) {
	now := time.Now()
	c.fragMu.Lock()
	defer c.fragMu.Unlock()
	for id, asm := range c.fragByID {
		if now.Sub(asm.started) > timeout {
			Logger.Printf("connection %s: dropping stale fragment assembly for request %d", c.ID, id)
			delete(c.fragByID, id)
		}
	}
	if c.fragCurrent != nil && now.Sub(c.fragCurrent.started) > timeout {
		Logger.Printf("connection %s: dropping stale fragment assembly", c.ID)
		c.fragCurrent = nil
	}
}

func (c *Connection) deliver(hdr giop.Header, version giop.Version, body []byte) {
	switch hdr.MsgType {
	case giop.MsgReply:
		d := giop.NewMessageBodyDecoder(body, hdr.ByteOrder())
		d.SetCodeSets(c.CodeSets())
		rh, payload, err := giop.DecodeReplyBody(d, version)
		if err != nil {
			Logger.Printf("connection %s: malformed reply: %v", c.ID, err)
			return
		}
		if pc := c.takePending(rh.RequestID); pc != nil {
			pc.resultCh <- &ReplyResult{Version: version, ReplyHeader: &rh, Payload: payload}
			return
		}
		c.pushIncoming(&InboundMessage{Header: hdr, Version: version, Body: body})

	case giop.MsgLocateReply:
		d := giop.NewMessageBodyDecoder(body, hdr.ByteOrder())
		lh, err := giop.DecodeLocateReplyBody(d)
		if err != nil {
			Logger.Printf("connection %s: malformed locate reply: %v", c.ID, err)
			return
		}
		if pc := c.takePending(lh.RequestID); pc != nil {
			pc.resultCh <- &ReplyResult{Version: version, LocateReply: &lh}
			return
		}
		c.pushIncoming(&InboundMessage{Header: hdr, Version: version, Body: body})

	default:
		c.pushIncoming(&InboundMessage{Header: hdr, Version: version, Body: body})
	}
}

func (c *Connection) pushIncoming(msg *InboundMessage) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	select {
	case c.incoming <- msg:
	default:
		Logger.Printf("connection %s: incoming queue full, dropping message type %d", c.ID, msg.Header.MsgType)
	}
}
