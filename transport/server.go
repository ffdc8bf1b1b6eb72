package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/corbaworks/goiiop/corba"
	"github.com/corbaworks/goiiop/giop"
)

// Handler processes one Request's already-decoded header and raw argument
// payload, returning a CDR-encoded reply payload or a CORBA exception. A
// wildcard operation name "*" matches any operation not otherwise
// registered.
type Handler func(req *giop.RequestHeader, payload []byte, conn *Connection) ([]byte, corba.Exception)

// Server accepts IIOP connections and dispatches Requests to registered
// operation handlers.
type Server struct {
	listener net.Listener
	cfg      ConnectionConfig

	mu       sync.RWMutex
	handlers map[string]Handler
	running  bool
}

// NewServer creates a server that will listen with cfg applied to every
// accepted connection.
func NewServer(cfg ConnectionConfig) *Server {
	return &Server{cfg: cfg, handlers: make(map[string]Handler)}
}

// RegisterHandler binds operation to handler. Registering the same
// operation name twice replaces the prior handler.
func (s *Server) RegisterHandler(operation string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[operation] = handler
}

// UnregisterHandler removes any handler bound to operation.
func (s *Server) UnregisterHandler(operation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, operation)
}

func (s *Server) handlerFor(operation string) (Handler, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if h, ok := s.handlers[operation]; ok {
		return h, true
	}
	h, ok := s.handlers["*"]
	return h, ok
}

// Listen binds a TCP listener at host:port. Call Serve to start accepting.
func (s *Server) Listen(host string, port int) error {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the listener's bound address, valid after Listen.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve runs the accept loop, spawning a goroutine per accepted connection.
// It blocks until the listener is closed (via Shutdown).
func (s *Server) Serve() error {
	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	for {
		raw, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return nil
			}
			return fmt.Errorf("transport: accept: %w", err)
		}
		conn := NewServerConnection(raw, s.cfg)
		go s.handleConnection(conn)
	}
}

// Shutdown stops the accept loop and closes the listener. In-flight
// connections are not forcibly closed.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

func (s *Server) handleConnection(conn *Connection) {
	defer conn.Close()
	for msg := range conn.Incoming() {
		switch msg.Header.MsgType {
		case giop.MsgRequest:
			s.handleRequest(conn, msg)
		case giop.MsgLocateRequest:
			s.handleLocateRequest(conn, msg)
		case giop.MsgCancelRequest:
			// Best-effort, no action taken: a concurrently dispatched
			// handler for the cancelled request id simply completes
			// normally and its reply is sent as usual.
		default:
			Logger.Printf("connection %s: unexpected message type %d from client", conn.ID, msg.Header.MsgType)
		}
	}
}

func (s *Server) handleRequest(conn *Connection, msg *InboundMessage) {
	d := giop.NewMessageBodyDecoder(msg.Body, msg.Header.ByteOrder())
	d.SetCodeSets(conn.CodeSets())
	header, payload, err := giop.DecodeRequestBody(d, msg.Version)
	if err != nil {
		Logger.Printf("connection %s: malformed request: %v", conn.ID, err)
		return
	}

	reply, exc := s.dispatch(&header, payload, conn)

	if !header.ResponseExpected {
		return
	}

	if exc != nil {
		s.sendExceptionReply(conn, msg.Version, header.RequestID, exc)
		return
	}

	data := giop.EncodeReply(msg.Version, false, giop.ReplyHeader{
		RequestID:   header.RequestID,
		ReplyStatus: giop.ReplyStatusNoException,
	}, reply)
	if err := conn.Write(data); err != nil {
		Logger.Printf("connection %s: failed to send reply: %v", conn.ID, err)
	}
}

// dispatch looks up and invokes the handler for header.Operation, recovering
// from a panic as an UNKNOWN system exception so a single bad handler never
// takes down the accept loop.
func (s *Server) dispatch(header *giop.RequestHeader, payload []byte, conn *Connection) (reply []byte, exc corba.Exception) {
	handler, ok := s.handlerFor(header.Operation)
	if !ok {
		return nil, corba.OBJ_ADAPTER(1, corba.CompletionStatusNo)
	}

	result, invokeExc := corba.SafeInvoke(func() (interface{}, error) {
		reply, exc := handler(header, payload, conn)
		if exc != nil {
			return nil, exc
		}
		return reply, nil
	})
	if invokeExc != nil {
		return nil, invokeExc
	}
	if result == nil {
		return nil, nil
	}
	return result.([]byte), nil
}

func (s *Server) sendExceptionReply(conn *Connection, version giop.Version, requestID uint32, exc corba.Exception) {
	status := giop.ReplyStatusSystemException
	if corba.IsUserException(exc) {
		status = giop.ReplyStatusUserException
	}
	body, err := corba.MarshalException(exc)
	if err != nil {
		Logger.Printf("connection %s: failed to marshal exception reply: %v", conn.ID, err)
		body = nil
	}
	data := giop.EncodeReply(version, false, giop.ReplyHeader{
		RequestID:   requestID,
		ReplyStatus: status,
	}, body)
	if err := conn.Write(data); err != nil {
		Logger.Printf("connection %s: failed to send exception reply: %v", conn.ID, err)
	}
}

func (s *Server) handleLocateRequest(conn *Connection, msg *InboundMessage) {
	d := giop.NewMessageBodyDecoder(msg.Body, msg.Header.ByteOrder())
	header, err := giop.DecodeLocateRequestBody(d, msg.Version)
	if err != nil {
		Logger.Printf("connection %s: malformed locate request: %v", conn.ID, err)
		return
	}

	status := giop.LocateStatusUnknownObject
	if header.ObjectKey != nil {
		status = giop.LocateStatusObjectHere
	}

	data := giop.EncodeLocateReply(msg.Version, false, giop.LocateReplyHeader{
		RequestID: header.RequestID,
		Status:    uint32(status),
	})
	if err := conn.Write(data); err != nil {
		Logger.Printf("connection %s: failed to send locate reply: %v", conn.ID, err)
	}
}
