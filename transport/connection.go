// Package transport provides the connection handle streaming sessions write
// to after the HTTP layer hands the socket over, plus stock replies for the
// router.
package transport

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/mitchellwills/web-video-server/errors"
)

// Connection wraps a network connection taken over from the HTTP layer.
// Writes are serialized; the first write failure closes the connection and
// latches Closed, which is how sessions learn their client went away.
type Connection struct {
	conn net.Conn
	bw   *bufio.Writer

	writeMu sync.Mutex
	closed  atomic.Bool
}

// Hijack takes over the underlying connection of an in-flight HTTP request.
// After a successful call the HTTP layer no longer manages the socket; the
// session owns it until close.
func Hijack(w http.ResponseWriter) (*Connection, error) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		return nil, errors.WrapFatal(
			fmt.Errorf("response writer does not support hijacking"),
			"Connection", "Hijack", "take over socket")
	}

	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, errors.WrapTransient(err, "Connection", "Hijack", "take over socket")
	}

	return &Connection{conn: conn, bw: rw.Writer}, nil
}

// NewConnection wraps a raw network connection. Used directly in tests and by
// transports that do not go through net/http.
func NewConnection(conn net.Conn) *Connection {
	return &Connection{conn: conn, bw: bufio.NewWriter(conn)}
}

// WriteResponse writes an HTTP/1.1 status line and headers, leaving the body
// to subsequent Write calls.
func (c *Connection) WriteResponse(status int, headers map[string]string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return errors.ErrConnectionWrite
	}

	if _, err := fmt.Fprintf(c.bw, "HTTP/1.1 %d %s\r\n", status, http.StatusText(status)); err != nil {
		return c.failLocked(err)
	}

	// Deterministic header order
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := fmt.Fprintf(c.bw, "%s: %s\r\n", k, headers[k]); err != nil {
			return c.failLocked(err)
		}
	}
	if _, err := c.bw.WriteString("\r\n"); err != nil {
		return c.failLocked(err)
	}

	return c.flushLocked()
}

// Write writes body bytes and flushes them to the client
func (c *Connection) Write(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return errors.ErrConnectionWrite
	}

	if _, err := c.bw.Write(p); err != nil {
		return c.failLocked(err)
	}
	return c.flushLocked()
}

// WriteString writes a string body fragment
func (c *Connection) WriteString(s string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return errors.ErrConnectionWrite
	}

	if _, err := c.bw.WriteString(s); err != nil {
		return c.failLocked(err)
	}
	return c.flushLocked()
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.conn.Close()
}

// Closed reports whether the connection has been closed, by Close or by a
// failed write. Safe to call concurrently with writes; never blocks.
func (c *Connection) Closed() bool {
	return c.closed.Load()
}

// failLocked records a write failure and closes the socket. Caller holds writeMu.
func (c *Connection) failLocked(err error) error {
	if !c.closed.Swap(true) {
		_ = c.conn.Close()
	}
	return errors.WrapTransient(err, "Connection", "Write", "write to client")
}

func (c *Connection) flushLocked() error {
	if err := c.bw.Flush(); err != nil {
		return c.failLocked(err)
	}
	return nil
}
