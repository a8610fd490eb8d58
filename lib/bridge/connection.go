package bridge

import (
	"bufio"
	"net"
	"sync"
	"time"
)

// Connection wraps a single control channel connection. Connections are
// short-lived: they carry exactly one handshake exchange and are closed
// regardless of its outcome.
type Connection struct {
	mu sync.Mutex

	conn   net.Conn
	reader *bufio.Reader

	// remoteAddr and remoteIP are cached so they stay available for
	// logging after close.
	remoteAddr string
	remoteIP   string

	createdAt time.Time
	closed    bool
}

// NewConnection creates a Connection for the given net.Conn.
func NewConnection(conn net.Conn) *Connection {
	remoteAddr := conn.RemoteAddr().String()
	ip, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		ip = remoteAddr
	}
	return &Connection{
		conn:       conn,
		reader:     bufio.NewReader(conn),
		remoteAddr: remoteAddr,
		remoteIP:   ip,
		createdAt:  time.Now(),
	}
}

// Reader returns the buffered reader for the connection.
func (c *Connection) Reader() *bufio.Reader {
	return c.reader
}

// RemoteAddr returns the client's full remote address.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// RemoteIP returns the client's IP without the port. This is the address
// bound to any token issued over this connection.
func (c *Connection) RemoteIP() string {
	return c.remoteIP
}

// CreatedAt returns when the connection was accepted.
func (c *Connection) CreatedAt() time.Time {
	return c.createdAt
}

// SetDeadline sets the read and write deadline on the underlying
// connection. The handshake handler sets one deadline covering the whole
// exchange.
func (c *Connection) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// Write writes data to the underlying connection.
func (c *Connection) Write(data []byte) (int, error) {
	return c.conn.Write(data)
}

// Close closes the underlying connection. Safe to call multiple times.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsClosed reports whether Close has been called.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
