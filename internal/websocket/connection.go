package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"codepair/pkg/types"
)

const (
	defaultWriteTimeout = 10 * time.Second
	defaultBufferSize   = 100
)

// Connection wraps a WebSocket connection with a single writer goroutine so
// concurrent broadcasts never race on the underlying socket. Identity is
// fixed at construction; a role change requires a reconnect.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	writeTimeout time.Duration
	id           string
	role         string
	sessionID    string
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection creates a connection wrapper and starts its writer. Zero
// writeTimeout or bufferSize take the defaults.
func NewConnection(conn *websocket.Conn, id, role, sessionID string, writeTimeout time.Duration, bufferSize int) *Connection {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		id:           id,
		role:         role,
		sessionID:    sessionID,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop drains writeCh onto the socket. The channel is never closed:
// senders race Close, and an abandoned open channel is garbage collected
// with the connection. Cancellation is the only shutdown signal.
func (c *Connection) writeLoop() {
	defer c.cancel()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// WriteEvent sends an event frame to the client. Thread-safe; blocks at most
// the write timeout before reporting failure.
func (c *Connection) WriteEvent(event *types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(event)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts the connection down. Safe to call more than once.
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

// ID returns the locally generated connection instance id.
func (c *Connection) ID() string {
	return c.id
}

// Role returns "candidate" or "interviewer".
func (c *Connection) Role() string {
	return c.role
}

// SessionID returns the interview session this connection is scoped to.
func (c *Connection) SessionID() string {
	return c.sessionID
}
