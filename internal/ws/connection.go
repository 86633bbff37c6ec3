package ws

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// closeDrainTimeout bounds how long a server-initiated close waits for the
// peer to echo the close frame.
const closeDrainTimeout = time.Second

// Conn wraps an upgraded network connection with serialized, deadline-bounded
// writes. The session's read loop owns the read side; broadcasts from other
// sessions' goroutines go through WriteText, so writes must be mutually
// exclusive.
type Conn struct {
	raw          net.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func newConn(raw net.Conn, writeTimeout time.Duration) *Conn {
	return &Conn{raw: raw, writeTimeout: writeTimeout}
}

// WriteText sends a text frame to the peer. A stalled peer fails the write at
// the deadline instead of blocking the broadcasting goroutine.
func (c *Conn) WriteText(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return wsutil.WriteServerMessage(c.raw, ws.OpText, payload)
}

// writeClose sends a close frame with the given status code and reason. The
// connection itself is closed separately.
func (c *Conn) writeClose(code ws.StatusCode, reason string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	frame := ws.NewCloseFrame(ws.NewCloseFrameBody(code, reason))
	return ws.WriteFrame(c.raw, frame)
}

// drainClose discards inbound frames until the peer echoes the close frame,
// the connection errors, or the deadline passes. Closing the socket without
// this wait cuts the peer off before it can read the close code.
func (c *Conn) drainClose(timeout time.Duration) {
	if err := c.raw.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return
	}
	for {
		hdr, err := ws.ReadHeader(c.raw)
		if err != nil {
			return
		}
		if _, err := io.CopyN(io.Discard, c.raw, hdr.Length); err != nil {
			return
		}
		if hdr.OpCode == ws.OpClose {
			return
		}
	}
}

// Close closes the underlying connection. Safe to call more than once; both
// the session teardown and registry eviction may reach it.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.raw.Close()
	})
	return c.closeErr
}
