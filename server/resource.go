package server

import (
	"fmt"

	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/signal"
)

// RequestHandler is the domain object behind a resource. The display calls
// HandleRequest for every request addressed to the resource.
type RequestHandler interface {
	HandleRequest(r *Resource, msg protocol.Message) error
}

// HandlerFunc adapts a function to RequestHandler.
type HandlerFunc func(r *Resource, msg protocol.Message) error

func (f HandlerFunc) HandleRequest(r *Resource, msg protocol.Message) error {
	return f(r, msg)
}

// Destroyer is implemented by handlers that hold cross-object state and
// must release it when their resource goes away.
type Destroyer interface {
	ResourceDestroyed(r *Resource)
}

// Resource is one session's live instance of a protocol object. It holds
// a handle to its domain object rather than being one.
type Resource struct {
	session *Session
	id      protocol.ObjectID
	iface   string
	version uint32
	seq     uint64

	global  GlobalHandle
	handler RequestHandler

	destroyed bool
	onDestroy signal.Signal[*Resource]
}

// Session returns the owning session.
func (r *Resource) Session() *Session {
	return r.session
}

// ID returns the object id, unique within the session.
func (r *Resource) ID() protocol.ObjectID {
	return r.id
}

// Interface returns the interface name and negotiated version.
func (r *Resource) Interface() protocol.Interface {
	return protocol.Interface{Name: r.iface, Version: r.version}
}

// Version returns the negotiated version.
func (r *Resource) Version() uint32 {
	return r.version
}

// Handler returns the domain object.
func (r *Resource) Handler() RequestHandler {
	return r.handler
}

// SetHandler attaches the domain object.
func (r *Resource) SetHandler(h RequestHandler) {
	r.handler = h
}

// Destroyed reports whether the resource has been torn down.
func (r *Resource) Destroyed() bool {
	return r.destroyed
}

// Global resolves the advertisement this resource was bound from. It
// returns false for child objects and once the advertisement's grace
// window has expired.
func (r *Resource) Global() (*Global, bool) {
	if r.global.IsZero() {
		return nil, false
	}
	return r.session.display.Global(r.global)
}

// OnDestroy subscribes to the resource's teardown.
func (r *Resource) OnDestroy(fn func(*Resource)) (cancel func()) {
	return r.onDestroy.Subscribe(fn)
}

// PostEvent queues an event on the resource.
func (r *Resource) PostEvent(opcode uint16, args ...any) {
	if r.destroyed {
		return
	}
	r.session.send(protocol.Message{Object: r.id, Opcode: opcode, Args: args})
}

// PostEventSince queues an event only if the negotiated version is at
// least since. It reports whether the event was sent.
func (r *Resource) PostEventSince(since uint32, opcode uint16, args ...any) bool {
	if r.version < since {
		return false
	}
	r.PostEvent(opcode, args...)
	return true
}

// PostError reports a protocol violation against this resource. The peer
// is disconnected once the current dispatch completes; further requests
// from it are ignored.
func (r *Resource) PostError(code uint32, format string, args ...any) {
	r.session.postError(r, code, fmt.Sprintf(format, args...))
}

// Destroy tears the resource down and, for client-allocated ids, tells the
// peer the id may be reused.
func (r *Resource) Destroy() {
	r.destroy(true)
}

func (r *Resource) destroy(notifyPeer bool) {
	if r.destroyed {
		return
	}
	r.destroyed = true

	s := r.session
	delete(s.objects, r.id)
	if g, ok := r.Global(); ok {
		g.removeResource(r)
	}

	if d, ok := r.handler.(Destroyer); ok {
		d.ResourceDestroyed(r)
	}
	r.onDestroy.Emit(r)

	if notifyPeer && r.id.IsClientID() && !s.destroyed {
		s.send(protocol.Message{
			Object: protocol.DisplayID,
			Opcode: protocol.DisplayEventDeleteID,
			Args:   protocol.Args{uint32(r.id)},
		})
	}
	s.display.observer.ResourceDestroyed(r)
}

func (r *Resource) String() string {
	return fmt.Sprintf("%s@%d", r.iface, r.id)
}
