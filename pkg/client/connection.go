package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/aeolun/fraudengine/pkg/protocol"
)

// ErrClosed is returned by operations on a closed connection
var ErrClosed = errors.New("connection closed")

// Connection is a synchronous terminal connection: every request is written
// as one frame and the caller reads the answer itself. It does not spawn
// goroutines, so load tests can hold thousands of them.
type Connection struct {
	addr   string
	codec  *protocol.Codec
	conn   net.Conn
	sendMu sync.Mutex // Protects concurrent writes
	recvMu sync.Mutex // Protects concurrent reads
	closed bool
	mu     sync.Mutex // Protects closed flag
}

// NewConnection creates a connection to addr using codec (nil selects the
// default ISO 8583:1987 ASCII layout)
func NewConnection(addr string, codec *protocol.Codec) *Connection {
	if codec == nil {
		codec = protocol.NewCodec(protocol.DefaultRegistry())
	}
	return &Connection{
		addr:  addr,
		codec: codec,
	}
}

// Connect establishes a TCP connection to the server
func (c *Connection) Connect() error {
	conn, err := net.Dial("tcp", c.addr)
	if err != nil {
		return fmt.Errorf("dial failed: %w", err)
	}

	// Enable TCP_NODELAY for low latency
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	c.conn = conn
	return nil
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.conn == nil
}

// Send packs m and writes it as one frame
func (c *Connection) Send(m *protocol.Message) error {
	payload, err := c.codec.Pack(m)
	if err != nil {
		return fmt.Errorf("encode failed: %w", err)
	}
	return c.SendRaw(payload)
}

// SendRaw writes an already packed message as one frame
func (c *Connection) SendRaw(payload []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.isClosed() {
		return ErrClosed
	}
	if err := protocol.WriteFrame(c.conn, payload); err != nil {
		return fmt.Errorf("write frame failed: %w", err)
	}
	return nil
}

// Receive reads and unpacks one frame. A zero timeout waits forever.
func (c *Connection) Receive(timeout time.Duration) (*protocol.Message, error) {
	c.recvMu.Lock()
	defer c.recvMu.Unlock()

	if c.isClosed() {
		return nil, ErrClosed
	}

	if timeout > 0 {
		if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline failed: %w", err)
		}
		// Clear deadline after read
		defer c.conn.SetReadDeadline(time.Time{})
	}

	payload, err := protocol.ReadFrame(c.conn)
	if err != nil {
		return nil, fmt.Errorf("read frame failed: %w", err)
	}

	m, err := c.codec.Unpack(payload)
	if err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return m, nil
}

// Exchange sends m and waits for its response
func (c *Connection) Exchange(m *protocol.Message, timeout time.Duration) (*protocol.Message, error) {
	if err := c.Send(m); err != nil {
		return nil, err
	}
	return c.Receive(timeout)
}

// Addr returns the connection address
func (c *Connection) Addr() string {
	return c.addr
}
