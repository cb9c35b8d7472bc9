// Package wltest provides fakes shared by the runtime tests: a recording
// connection and helpers to drive a display the way a peer would.
package wltest

import (
	"errors"
	"sync"

	"github.com/bnema/wayrt/eventloop"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
)

// ErrClosed is returned by a closed Conn.
var ErrClosed = errors.New("connection closed")

// Conn records every event sent to a peer.
type Conn struct {
	mu      sync.Mutex
	creds   server.Credentials
	pending []protocol.Message
	flushed []protocol.Message
	closed  bool
	flushes int
}

// NewConn creates a recording connection with the given credentials.
func NewConn(creds server.Credentials) *Conn {
	return &Conn{creds: creds}
}

func (c *Conn) Credentials() server.Credentials {
	return c.creds
}

func (c *Conn) Send(msg protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.pending = append(c.pending, msg)
	return nil
}

func (c *Conn) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.flushed = append(c.flushed, c.pending...)
	c.pending = nil
	c.flushes++
	return nil
}

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed reports whether the runtime closed the connection.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Events returns every event sent so far, flushed or not.
func (c *Conn) Events() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, 0, len(c.flushed)+len(c.pending))
	out = append(out, c.flushed...)
	return append(out, c.pending...)
}

// Flushed returns the events that reached the peer.
func (c *Conn) Flushed() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.flushed))
	copy(out, c.flushed)
	return out
}

// EventsFor returns the events addressed to object id.
func (c *Conn) EventsFor(id protocol.ObjectID) []protocol.Message {
	var out []protocol.Message
	for _, m := range c.Events() {
		if m.Object == id {
			out = append(out, m)
		}
	}
	return out
}

// Opcodes returns the opcodes of the events addressed to id, in order.
func (c *Conn) Opcodes(id protocol.ObjectID) []uint16 {
	var out []uint16
	for _, m := range c.EventsFor(id) {
		out = append(out, m.Opcode)
	}
	return out
}

// Reset forgets every recorded event.
func (c *Conn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.flushed = nil
}

// Errors returns the wl_display.error events received.
func (c *Conn) Errors() []protocol.Message {
	var out []protocol.Message
	for _, m := range c.EventsFor(protocol.DisplayID) {
		if m.Opcode == protocol.DisplayEventError {
			out = append(out, m)
		}
	}
	return out
}

// Peer is a fake client: a session on a display plus its recording
// connection, with helpers that issue requests.
type Peer struct {
	Display *server.Display
	Session *server.Session
	Conn    *Conn

	nextID protocol.ObjectID
}

// NewPeer connects a fake client to d.
func NewPeer(d *server.Display, creds server.Credentials) (*Peer, error) {
	conn := NewConn(creds)
	s, err := d.CreateSession(conn)
	if err != nil {
		return nil, err
	}
	return &Peer{Display: d, Session: s, Conn: conn, nextID: 2}, nil
}

// AllocID returns the next client object id.
func (p *Peer) AllocID() protocol.ObjectID {
	id := p.nextID
	p.nextID++
	return id
}

// Request dispatches a request to object id.
func (p *Peer) Request(id protocol.ObjectID, opcode uint16, args ...any) {
	p.Display.Dispatch(p.Session, protocol.Message{Object: id, Opcode: opcode, Args: args})
}

// GetRegistry creates a wl_registry and returns its id.
func (p *Peer) GetRegistry() protocol.ObjectID {
	id := p.AllocID()
	p.Request(protocol.DisplayID, protocol.DisplayGetRegistry, id)
	return id
}

// Globals returns the globals announced on registry as name → interface,
// minus the ones announced as removed.
func (p *Peer) Globals(registry protocol.ObjectID) map[uint32]protocol.Interface {
	out := make(map[uint32]protocol.Interface)
	for _, m := range p.Conn.EventsFor(registry) {
		switch m.Opcode {
		case protocol.RegistryEventGlobal:
			out[m.Args[0].(uint32)] = protocol.Interface{Name: m.Args[1].(string), Version: m.Args[2].(uint32)}
		case protocol.RegistryEventGlobalRemove:
			delete(out, m.Args[0].(uint32))
		}
	}
	return out
}

// FindGlobal returns the name of the first announced global of iface.
func (p *Peer) FindGlobal(registry protocol.ObjectID, iface string) (uint32, bool) {
	var best uint32
	found := false
	for name, i := range p.Globals(registry) {
		if i.Name == iface && (!found || name < best) {
			best, found = name, true
		}
	}
	return best, found
}

// Bind issues wl_registry.bind and returns the new object id.
func (p *Peer) Bind(registry protocol.ObjectID, name uint32, iface string, version uint32) protocol.ObjectID {
	id := p.AllocID()
	p.Request(registry, protocol.RegistryBind, name, protocol.NewID{ID: id, Interface: iface, Version: version})
	return id
}

// BindInterface gets a registry, finds iface and binds it at version.
func (p *Peer) BindInterface(iface string, version uint32) (protocol.ObjectID, bool) {
	reg := p.GetRegistry()
	name, ok := p.FindGlobal(reg, iface)
	if !ok {
		return 0, false
	}
	return p.Bind(reg, name, iface, version), true
}

// NewDisplay creates a display on a manual loop for tests.
func NewDisplay(opts ...server.Option) (*server.Display, *eventloop.Manual) {
	loop := eventloop.NewManual()
	return server.NewDisplay(loop, opts...), loop
}
