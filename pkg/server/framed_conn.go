package server

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/aeolun/fraudengine/pkg/protocol"
)

// errInterrupted is returned by WaitReadable once Interrupt has been called
var errInterrupted = errors.New("connection interrupted")

// FramedConn wraps a net.Conn with length-prefixed framing.
//
// Reads go through a buffered reader so that waiting for the first byte of a
// frame (with an idle deadline) never consumes part of the frame. Writes are
// serialized so a response frame is never interleaved with another write.
type FramedConn struct {
	conn net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex

	// Protects idle/interrupted and the read deadline
	stateMu     sync.Mutex
	idle        bool
	interrupted bool
}

// NewFramedConn wraps conn
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{
		conn: conn,
		r:    bufio.NewReaderSize(conn, 4096),
	}
}

// WaitReadable blocks until at least one byte of the next frame is available.
// A positive timeout bounds the wait and yields a net.Error with Timeout() set.
// Interrupt unblocks a waiting call.
func (fc *FramedConn) WaitReadable(timeout time.Duration) error {
	fc.stateMu.Lock()
	if fc.interrupted {
		fc.stateMu.Unlock()
		return errInterrupted
	}
	fc.idle = true
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	fc.conn.SetReadDeadline(deadline)
	fc.stateMu.Unlock()

	_, err := fc.r.Peek(1)

	fc.stateMu.Lock()
	defer fc.stateMu.Unlock()
	fc.idle = false
	if fc.interrupted {
		return errInterrupted
	}
	fc.conn.SetReadDeadline(time.Time{})
	return err
}

// Interrupt wakes up a WaitReadable call in progress and makes future calls
// fail. A frame already being read is not affected.
func (fc *FramedConn) Interrupt() {
	fc.stateMu.Lock()
	defer fc.stateMu.Unlock()
	fc.interrupted = true
	if fc.idle {
		fc.conn.SetReadDeadline(time.Now())
	}
}

// ReadFrame reads one frame payload
func (fc *FramedConn) ReadFrame() ([]byte, error) {
	return protocol.ReadFrame(fc.r)
}

// WriteFrame sends payload as one frame
func (fc *FramedConn) WriteFrame(payload []byte) error {
	fc.writeMu.Lock()
	defer fc.writeMu.Unlock()
	return protocol.WriteFrame(fc.conn, payload)
}

// Close closes the underlying connection
func (fc *FramedConn) Close() error {
	return fc.conn.Close()
}

// RemoteAddr returns the remote network address
func (fc *FramedConn) RemoteAddr() net.Addr {
	return fc.conn.RemoteAddr()
}

// isTimeout reports whether err is a read deadline expiry
func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
