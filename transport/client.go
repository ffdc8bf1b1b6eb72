package transport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/corbaworks/goiiop/corba"
	"github.com/corbaworks/goiiop/giop"
)

// Client dispatches GIOP requests against object references, pooling and
// reusing connections from the pool.
type Client struct {
	pool      *Pool
	cfg       DispatchConfig
	requestID uint32
}

// NewClient creates a request-dispatching client backed by pool.
func NewClient(pool *Pool, cfg DispatchConfig) *Client {
	return &Client{pool: pool, cfg: cfg}
}

func (c *Client) nextRequestID() uint32 { return atomic.AddUint32(&c.requestID, 1) }

// Reply is the outcome of a two-way SendRequest call.
type Reply struct {
	Status  uint32
	Payload []byte
	Version giop.Version
}

// SendRequest extracts the primary IIOP endpoint from ior, acquires a
// pooled connection, and sends a Request carrying body as its already
// CDR-encoded argument list. oneway requests return immediately with a nil
// Reply once the write succeeds. On send failure the whole request is
// retried up to cfg.MaxRetries times with a fixed delay.
func (c *Client) SendRequest(ior *corba.IOR, operation string, body []byte, contexts giop.ServiceContextList, version giop.Version, oneway bool) (*Reply, error) {
	profile, err := ior.GetPrimaryIIOPProfile()
	if err != nil {
		return nil, corba.OBJECT_NOT_EXIST(0, corba.CompletionStatusNo)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		reply, err := c.attempt(profile, operation, body, contexts, version, oneway)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if attempt < c.cfg.MaxRetries {
			time.Sleep(c.cfg.RetryDelay)
		}
	}
	return nil, fmt.Errorf("transport: request %q failed after %d attempts: %w", operation, c.cfg.MaxRetries+1, lastErr)
}

func (c *Client) attempt(profile *corba.ProfileBody_1_1, operation string, body []byte, contexts giop.ServiceContextList, version giop.Version, oneway bool) (*Reply, error) {
	conn, err := c.pool.Get(profile.Host, int(profile.Port), version)
	if err != nil {
		return nil, corba.TRANSIENT(1, corba.CompletionStatusNo)
	}

	requestID := c.nextRequestID()
	header := giop.RequestHeader{
		RequestID:        requestID,
		ResponseExpected: !oneway,
		ServiceContexts:  contexts,
		ObjectKey:        profile.ObjectKey,
		Operation:        operation,
	}
	data := giop.EncodeRequest(version, false, header, body)

	if oneway {
		if err := conn.Write(data); err != nil {
			c.pool.Remove(profile.Host, int(profile.Port))
			return nil, err
		}
		return nil, nil
	}

	resultCh, err := conn.SendRequest(requestID, data, c.cfg.RequestTimeout)
	if err != nil {
		c.pool.Remove(profile.Host, int(profile.Port))
		return nil, err
	}

	result := <-resultCh
	if result.Err != nil {
		return nil, result.Err
	}
	if result.ReplyHeader == nil {
		return nil, fmt.Errorf("transport: unexpected locate reply to a request")
	}
	return &Reply{Status: result.ReplyHeader.ReplyStatus, Payload: result.Payload, Version: result.Version}, nil
}

// LocateObject sends a LocateRequest and returns the LocateReply status.
func (c *Client) LocateObject(ior *corba.IOR, version giop.Version) (uint32, error) {
	profile, err := ior.GetPrimaryIIOPProfile()
	if err != nil {
		return 0, corba.OBJECT_NOT_EXIST(0, corba.CompletionStatusNo)
	}
	conn, err := c.pool.Get(profile.Host, int(profile.Port), version)
	if err != nil {
		return 0, corba.TRANSIENT(1, corba.CompletionStatusNo)
	}

	requestID := c.nextRequestID()
	data := giop.EncodeLocateRequest(version, false, giop.LocateRequestHeader{
		RequestID: requestID,
		ObjectKey: profile.ObjectKey,
	})

	resultCh, err := conn.SendRequest(requestID, data, c.cfg.RequestTimeout)
	if err != nil {
		return 0, err
	}
	result := <-resultCh
	if result.Err != nil {
		return 0, result.Err
	}
	if result.LocateReply == nil {
		return 0, fmt.Errorf("transport: unexpected reply to a locate request")
	}
	return result.LocateReply.Status, nil
}

// CancelRequest sends a best-effort CancelRequest for requestID; the caller
// does not wait for acknowledgement.
func (c *Client) CancelRequest(ior *corba.IOR, requestID uint32, version giop.Version) error {
	profile, err := ior.GetPrimaryIIOPProfile()
	if err != nil {
		return corba.OBJECT_NOT_EXIST(0, corba.CompletionStatusNo)
	}
	conn, err := c.pool.Get(profile.Host, int(profile.Port), version)
	if err != nil {
		return err
	}
	data := giop.EncodeCancelRequest(version, false, giop.CancelRequestHeader{RequestID: requestID})
	return conn.Write(data)
}
