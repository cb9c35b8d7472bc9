package transport

import (
	"net"
	"sync"

	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
)

// conn is the server.Conn of one socket peer. Send and Flush run on the
// dispatch goroutine; Close may also come from the listener.
type conn struct {
	nc    *net.UnixConn
	creds server.Credentials

	mu     sync.Mutex
	enc    *Encoder
	closed bool
}

var _ server.Conn = (*conn)(nil)

func newConn(nc *net.UnixConn, creds server.Credentials) *conn {
	return &conn{nc: nc, creds: creds, enc: NewEncoder(nc)}
}

func (c *conn) Credentials() server.Credentials {
	return c.creds
}

func (c *conn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return c.enc.Encode(msg)
}

func (c *conn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return net.ErrClosed
	}
	return c.enc.Flush()
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.nc.Close()
}
