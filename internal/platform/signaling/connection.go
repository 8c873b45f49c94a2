package signaling

import (
	"net"
	"time"
)

// Conn abstracts a WebSocket connection for testability. *websocket.Conn
// from gorilla/websocket satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	RemoteAddr() net.Addr
	Close() error
}

// Connection is the relay's view of one live client socket. Its outbound
// queue is drained by the connection's write pump; everything else is owned
// by the relay event loop.
type Connection struct {
	ID         string
	RemoteAddr string

	send   chan []byte
	closed bool
}

// NewConnection creates a connection with an outbound queue of the given
// capacity.
func NewConnection(id, remoteAddr string, buffer int) *Connection {
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		ID:         id,
		RemoteAddr: remoteAddr,
		send:       make(chan []byte, buffer),
	}
}

// Outbound returns the queue the write pump drains. It is closed once the
// relay has released the connection.
func (c *Connection) Outbound() <-chan []byte {
	return c.send
}

// enqueue pushes a frame without blocking. It reports false when the
// connection is closed or its queue is full.
func (c *Connection) enqueue(frame []byte) bool {
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}
