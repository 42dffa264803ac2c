package wire

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/scriptdbg/internal/logflags"
)

// pollTimeout is the read deadline used by TryReadFrame. A deadline in the
// past fails before reading, so a short future deadline is used instead.
const pollTimeout = time.Millisecond

const readChunk = 4096

// Conn is a framed connection to a debugger engine. Reads are not safe for
// concurrent use; the session serializes them. Writes and Close are.
type Conn struct {
	conn   net.Conn
	framer Framer
	buf    []byte
	log    *logrus.Entry

	writeMu sync.Mutex
	closed  atomic.Bool
	broken  error
}

// NewConn wraps an established connection.
func NewConn(conn net.Conn, framer Framer) *Conn {
	return &Conn{
		conn:   conn,
		framer: framer,
		log:    logflags.WireLogger().WithField("dialect", framer.Dialect().String()),
	}
}

// Dialect returns the dialect spoken on the connection.
func (c *Conn) Dialect() Dialect {
	return c.framer.Dialect()
}

// RemoteAddr returns the engine address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Buffered returns the number of bytes read but not yet framed.
func (c *Conn) Buffered() int {
	return len(c.buf)
}

// ReadFrame blocks until a complete frame is available.
func (c *Conn) ReadFrame() (Frame, error) {
	if err := c.usable(); err != nil {
		return Frame{}, err
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		return Frame{}, c.fail(&ConnectionError{Op: "read", Err: err})
	}

	for {
		f, ok, err := c.next()
		if err != nil || ok {
			return f, err
		}
		if err := c.fill(); err != nil {
			return Frame{}, err
		}
	}
}

// TryReadFrame returns a frame if one can be assembled without blocking.
// It reports false when nothing complete is available yet.
func (c *Conn) TryReadFrame() (Frame, bool, error) {
	if err := c.usable(); err != nil {
		return Frame{}, false, err
	}
	if f, ok, err := c.next(); err != nil || ok {
		return f, ok, err
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(pollTimeout)); err != nil {
		return Frame{}, false, c.fail(&ConnectionError{Op: "poll", Err: err})
	}
	err := c.fill()
	c.conn.SetReadDeadline(time.Time{})
	if err != nil {
		var ce *ConnectionError
		if errors.As(err, &ce) && errors.Is(ce.Err, os.ErrDeadlineExceeded) {
			c.broken = nil
			return c.next()
		}
		return Frame{}, false, err
	}
	return c.next()
}

// WriteFrame writes a frame in the dialect's frame encoding.
func (c *Conn) WriteFrame(f Frame) error {
	return c.write(c.framer.Encode(f), f.Payload)
}

// WriteRequest writes an outbound request.
func (c *Conn) WriteRequest(payload []byte) error {
	return c.write(c.framer.EncodeRequest(payload), payload)
}

// Close closes the socket. Blocked reads return a ConnectionError.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

func (c *Conn) write(data, payload []byte) error {
	if err := c.usable(); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if logflags.Wire() {
		c.log.Debugf("[send] %s", payload)
	}
	if _, err := c.conn.Write(data); err != nil {
		return c.fail(&ConnectionError{Op: "write", Err: err})
	}
	return nil
}

func (c *Conn) next() (Frame, bool, error) {
	f, n, err := c.framer.Split(c.buf)
	if err != nil {
		return Frame{}, false, c.fail(err)
	}
	if n == 0 {
		return Frame{}, false, nil
	}
	c.buf = c.buf[n:]
	if len(c.buf) == 0 {
		c.buf = nil
	}
	if logflags.Wire() {
		c.log.Debugf("[recv] %s", f.Payload)
	}
	return f, true, nil
}

func (c *Conn) fill() error {
	var chunk [readChunk]byte
	n, err := c.conn.Read(chunk[:])
	c.buf = append(c.buf, chunk[:n]...)
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) && len(c.buf) > 0 {
		return c.fail(framingErr(c.framer.Dialect(), "stream ended inside a frame (%d bytes buffered)", len(c.buf)))
	}
	if c.closed.Load() {
		err = ErrClosed
	}
	return c.fail(&ConnectionError{Op: "read", Err: err})
}

func (c *Conn) fail(err error) error {
	c.broken = err
	return err
}

func (c *Conn) usable() error {
	if c.closed.Load() {
		return &ConnectionError{Op: "use", Err: ErrClosed}
	}
	var fe *FramingError
	if errors.As(c.broken, &fe) {
		return c.broken
	}
	return nil
}
