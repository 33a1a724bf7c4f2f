// Package testconn provides an in-memory net.Conn for exercising sessions
// without sockets.
package testconn

import (
	"bytes"
	"io"
	"net"
	"strings"
	"sync"
	"time"
)

type addr string

func (a addr) Network() string { return "tcp" }
func (a addr) String() string  { return string(a) }

// Conn records everything written to it and serves reads from bytes fed by
// the test. Reads block until data is fed or the connection is closed.
type Conn struct {
	mu      sync.Mutex
	cond    *sync.Cond
	in      bytes.Buffer
	out     bytes.Buffer
	closed  bool
	remote  addr
	failOut bool
}

// New creates a Conn whose RemoteAddr reports remote (e.g. "10.0.0.1:5000").
func New(remote string) *Conn {
	c := &Conn{remote: addr(remote)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Feed makes data available to Read.
func (c *Conn) Feed(data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Write(data)
	c.cond.Broadcast()
}

// FailWrites makes every later Write fail.
func (c *Conn) FailWrites() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failOut = true
}

// Read implements net.Conn.
func (c *Conn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.in.Len() == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.in.Len() > 0 {
		return c.in.Read(p)
	}
	return 0, io.EOF
}

// Write implements net.Conn.
func (c *Conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.failOut {
		return 0, net.ErrClosed
	}
	return c.out.Write(p)
}

// Close implements net.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return nil
}

// Closed reports whether Close was called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Written returns a copy of all bytes written so far.
func (c *Conn) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.out.Bytes()...)
}

// Lines returns the written packet lines without terminators.
func (c *Conn) Lines() []string {
	text := strings.TrimSuffix(string(c.Written()), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// Reset discards everything written so far.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out.Reset()
}

func (c *Conn) LocalAddr() net.Addr                { return addr("127.0.0.1:0") }
func (c *Conn) RemoteAddr() net.Addr               { return c.remote }
func (c *Conn) SetDeadline(_ time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(_ time.Time) error { return nil }
