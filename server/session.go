package server

import (
	"fmt"
	"sort"

	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/signal"
)

// Session is one peer connection: its transport handle, credentials and
// every resource it owns.
type Session struct {
	display *Display
	id      uint64
	conn    Conn
	creds   Credentials

	objects map[protocol.ObjectID]*Resource
	nextSeq uint64

	errored   bool
	destroyed bool

	onDestroyed signal.Signal[*Session]
}

// ID returns the display-unique session id.
func (s *Session) ID() uint64 {
	return s.id
}

// Display returns the owning display.
func (s *Session) Display() *Display {
	return s.display
}

// Credentials returns the peer credentials captured at connect time.
func (s *Session) Credentials() Credentials {
	return s.creds
}

// Errored reports whether a protocol error was posted to the peer.
func (s *Session) Errored() bool {
	return s.errored
}

// Destroyed reports whether the session has been torn down.
func (s *Session) Destroyed() bool {
	return s.destroyed
}

// Resource looks up a live resource by object id.
func (s *Session) Resource(id protocol.ObjectID) (*Resource, bool) {
	r, ok := s.objects[id]
	return r, ok
}

// Resources returns the live resources in creation order.
func (s *Session) Resources() []*Resource {
	out := make([]*Resource, 0, len(s.objects))
	for _, r := range s.objects {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// OnDestroyed subscribes to the session's teardown.
func (s *Session) OnDestroyed(fn func(*Session)) (cancel func()) {
	return s.onDestroyed.Subscribe(fn)
}

// NewResource creates a resource with the given id on this session. The id
// must be free; handler may be nil and attached later with SetHandler.
func (s *Session) NewResource(id protocol.ObjectID, iface string, version uint32, handler RequestHandler) (*Resource, error) {
	if s.destroyed {
		return nil, ErrSessionClosed
	}
	if id == 0 {
		return nil, ErrInvalidObjectID
	}
	if _, exists := s.objects[id]; exists {
		return nil, fmt.Errorf("%w: %d", ErrObjectExists, id)
	}

	s.nextSeq++
	r := &Resource{
		session: s,
		id:      id,
		iface:   iface,
		version: version,
		seq:     s.nextSeq,
		handler: handler,
	}
	s.objects[id] = r
	s.display.observer.ResourceCreated(r)
	return r, nil
}

// NewChild creates a resource for a new_id argument of a request made on
// parent, inheriting parent's version. A reused id is reported as a
// protocol error against parent.
func (s *Session) NewChild(parent *Resource, id protocol.NewID, iface string, handler RequestHandler) (*Resource, error) {
	r, err := s.NewResource(id.ID, iface, parent.Version(), handler)
	if err != nil {
		return nil, InvalidObject(parent, "invalid new id %d for %s: %v", id.ID, iface, err)
	}
	return r, nil
}

// Flush pushes buffered events to the peer.
func (s *Session) Flush() {
	if s.destroyed {
		return
	}
	if err := s.conn.Flush(); err != nil {
		logger.Debugf("Flush failed for session %d, disconnecting: %v", s.id, err)
		s.scheduleDestroy()
	}
}

// PostNoMemory reports an allocation failure to the peer.
func (s *Session) PostNoMemory() {
	if r, ok := s.objects[protocol.DisplayID]; ok {
		s.postError(r, protocol.ErrorNoMemory, "no memory")
	}
}

func (s *Session) send(msg protocol.Message) {
	if s.destroyed {
		return
	}
	if err := s.conn.Send(msg); err != nil {
		logger.Debugf("Send failed for session %d, disconnecting: %v", s.id, err)
		s.scheduleDestroy()
	}
}

func (s *Session) postError(r *Resource, code uint32, message string) {
	if s.errored || s.destroyed {
		return
	}
	s.send(protocol.Message{
		Object: protocol.DisplayID,
		Opcode: protocol.DisplayEventError,
		Args:   protocol.Args{r.id, code, message},
	})
	s.errored = true
	s.Flush()

	logger.Warn("Protocol error", "session", s.id, "object", r.String(), "code", code, "message", message)
	s.display.observer.ProtocolError(r, code)
	s.scheduleDestroy()
}

func (s *Session) scheduleDestroy() {
	s.display.loop.Post(s.Destroy)
}

// Destroy disconnects the peer: every owned resource is destroyed, newest
// first, observers are notified and the transport is closed. It is safe
// to call more than once.
func (s *Session) Destroy() {
	if s.destroyed {
		return
	}
	// Mark first so teardown events are not sent to a dying peer.
	s.destroyed = true

	resources := s.Resources()
	for i := len(resources) - 1; i >= 0; i-- {
		resources[i].destroy(false)
	}

	s.onDestroyed.Emit(s)
	s.display.removeSession(s)

	if err := s.conn.Close(); err != nil {
		logger.Debugf("Closing session %d transport: %v", s.id, err)
	}
}
