package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"learnbridge/pkg/types"
)

const (
	defaultBufferSize   = 100
	defaultWriteTimeout = 5 * time.Second
	enqueueTimeout      = 5 * time.Second
	closeFlushTimeout   = time.Second
)

// outbound is one queued write. A non-zero closeCode asks the writer to
// send a close frame after everything queued before it.
type outbound struct {
	data        []byte
	closeCode   int
	closeReason string
}

// Connection wraps one websocket and the principal bound to it.
// ARCHITECTURAL DISCOVERY: websocket writes must be serialized, so only
// writeLoop ever writes data frames.
type Connection struct {
	id           string
	conn         *websocket.Conn
	writeCh      chan outbound
	writeTimeout time.Duration
	principal    *types.Principal
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
	mu           sync.RWMutex
}

// NewConnection wraps conn and starts its writer goroutine.
// Zero values select the defaults (100 queued frames, 5s write deadline).
func NewConnection(conn *websocket.Conn, bufferSize int, writeTimeout time.Duration) *Connection {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:           uuid.NewString(),
		conn:         conn,
		writeCh:      make(chan outbound, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case frame := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				_ = c.Close()
				return
			}

			if frame.closeCode != 0 {
				msg := websocket.FormatCloseMessage(frame.closeCode, frame.closeReason)
				_ = c.conn.WriteMessage(websocket.CloseMessage, msg)
				_ = c.Close()
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, frame.data); err != nil {
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the server-assigned connection id
func (c *Connection) ID() string {
	return c.id
}

// Send queues an encoded frame. It waits at most 5 seconds for room in
// the queue.
func (c *Connection) Send(data []byte) error {
	return c.enqueue(outbound{data: data})
}

func (c *Connection) enqueue(frame outbound) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- frame:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Emit encodes a server event in the wire envelope and queues it
func (c *Connection) Emit(event types.ServerEvent) error {
	data, err := types.EncodeServerEvent(event)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Send(data)
}

// WriteJSON queues any JSON value as a text frame
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Send(data)
}

// CloseWithReason flushes queued frames, sends a close frame and closes.
// It returns once the connection is closed or after a short grace period.
func (c *Connection) CloseWithReason(code int, reason string) error {
	if err := c.enqueue(outbound{closeCode: code, closeReason: reason}); err != nil {
		return c.Close()
	}

	timer := time.NewTimer(closeFlushTimeout)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
	case <-timer.C:
	}
	return c.Close()
}

// Close closes the socket and stops the writer. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context is cancelled when the connection closes
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Authenticate binds principal to the connection. A connection is bound
// once; later calls fail.
func (c *Connection) Authenticate(principal *types.Principal) error {
	if principal == nil || principal.ID == "" {
		return ErrInvalidPrincipal
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.principal != nil {
		return ErrAlreadyAuthenticated
	}
	p := *principal
	c.principal = &p
	return nil
}

// Principal returns a copy of the bound principal, or nil
func (c *Connection) Principal() *types.Principal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.principal == nil {
		return nil
	}
	p := *c.principal
	return &p
}

// IsAuthenticated reports whether a principal has been bound
func (c *Connection) IsAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal != nil
}

// UserID returns the bound principal id, or "" before authentication
func (c *Connection) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.principal == nil {
		return ""
	}
	return c.principal.ID
}
