// Package server implements the generic protocol-object runtime: the
// display, its sessions, the advertisement table and the resources peers
// bind from it.
//
// The model is single-threaded. Every method must be called from the event
// loop's dispatch goroutine, with the exception of Display.Serial.
package server

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/bnema/wayrt/eventloop"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/signal"
)

// DefaultGraceWindow is how long an unadvertised global stays bindable.
const DefaultGraceWindow = 5 * time.Second

// GlobalFilter decides whether a session may see and bind a global.
type GlobalFilter func(s *Session, g *Global) bool

// Display owns the sessions and advertisements of one server and hands out
// serials from a single display-wide counter.
type Display struct {
	loop        eventloop.Loop
	graceWindow time.Duration
	observer    Observer
	log         *log.Logger
	filter      GlobalFilter

	serial atomic.Uint32

	sessions      map[uint64]*Session
	nextSessionID uint64

	globals        globalArena
	globalsByName  map[uint32]GlobalHandle
	nextGlobalName uint32
	registries     []*Resource

	destroyed bool

	onSessionCreated   signal.Signal[*Session]
	onSessionDestroyed signal.Signal[*Session]
}

// Option configures a Display.
type Option func(*Display)

// WithGraceWindow overrides the delay between unpublishing a global and
// freeing it.
func WithGraceWindow(d time.Duration) Option {
	return func(disp *Display) {
		disp.graceWindow = d
	}
}

// WithObserver installs a lifecycle observer.
func WithObserver(o Observer) Option {
	return func(d *Display) {
		if o != nil {
			d.observer = o
		}
	}
}

// WithLogger replaces the display logger.
func WithLogger(l *log.Logger) Option {
	return func(d *Display) {
		if l != nil {
			d.log = l
		}
	}
}

// WithGlobalFilter restricts which globals each session can see.
func WithGlobalFilter(f GlobalFilter) Option {
	return func(d *Display) {
		d.filter = f
	}
}

// NewDisplay creates a display driven by loop.
func NewDisplay(loop eventloop.Loop, opts ...Option) *Display {
	d := &Display{
		loop:          loop,
		graceWindow:   DefaultGraceWindow,
		observer:      NopObserver{},
		log:           logger.With("component", "display"),
		sessions:      make(map[uint64]*Session),
		globalsByName: make(map[uint32]GlobalHandle),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Loop returns the event loop driving the display.
func (d *Display) Loop() eventloop.Loop {
	return d.loop
}

// Serial returns the most recently issued serial. Safe from any goroutine.
func (d *Display) Serial() uint32 {
	return d.serial.Load()
}

// NextSerial issues a new serial. Serials are shared by every
// serial-bearing exchange on the display, so they are totally ordered.
func (d *Display) NextSerial() uint32 {
	s := d.serial.Add(1)
	d.observer.SerialIssued(s)
	return s
}

// OnSessionCreated subscribes to new connections.
func (d *Display) OnSessionCreated(fn func(*Session)) (cancel func()) {
	return d.onSessionCreated.Subscribe(fn)
}

// OnSessionDestroyed subscribes to disconnects.
func (d *Display) OnSessionDestroyed(fn func(*Session)) (cancel func()) {
	return d.onSessionDestroyed.Subscribe(fn)
}

// CreateSession registers a new peer connection and creates its wl_display
// object.
func (d *Display) CreateSession(conn Conn) (*Session, error) {
	if d.destroyed {
		return nil, ErrSessionClosed
	}

	d.nextSessionID++
	s := &Session{
		display: d,
		id:      d.nextSessionID,
		conn:    conn,
		creds:   conn.Credentials(),
		objects: make(map[protocol.ObjectID]*Resource),
	}
	d.sessions[s.id] = s

	if _, err := s.NewResource(protocol.DisplayID, protocol.DisplayInterface.Name, 1, displayHandler{display: d}); err != nil {
		delete(d.sessions, s.id)
		return nil, err
	}

	d.log.Debug("Session created", "session", s.id, "pid", s.creds.PID, "uid", s.creds.UID, "exe", s.creds.Executable)
	d.observer.SessionCreated(s)
	d.onSessionCreated.Emit(s)
	return s, nil
}

// Sessions returns the live sessions ordered by id.
func (d *Display) Sessions() []*Session {
	out := make([]*Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func (d *Display) removeSession(s *Session) {
	if _, ok := d.sessions[s.id]; !ok {
		return
	}
	delete(d.sessions, s.id)
	d.log.Debug("Session destroyed", "session", s.id)
	d.observer.SessionDestroyed(s)
	d.onSessionDestroyed.Emit(s)
}

// Dispatch routes one request from a peer to the addressed resource.
func (d *Display) Dispatch(s *Session, msg protocol.Message) {
	if s.destroyed || s.errored {
		return
	}

	r, ok := s.objects[msg.Object]
	if !ok {
		display := s.objects[protocol.DisplayID]
		display.PostError(protocol.ErrorInvalidObject, "invalid object %d", msg.Object)
		return
	}
	if r.handler == nil {
		r.PostError(protocol.ErrorInvalidMethod, "object %s has no implementation", r)
		return
	}

	if err := r.handler.HandleRequest(r, msg); err != nil {
		d.reportError(r, err)
	}
	s.Flush()
}

// reportError maps a handler error onto the wire.
func (d *Display) reportError(r *Resource, err error) {
	var perr *ProtocolError
	switch {
	case errors.As(err, &perr):
		target := perr.Resource
		if target == nil || target.Destroyed() {
			target = r
		}
		target.PostError(perr.Code, "%s", perr.Message)
	case errors.Is(err, ErrNoMemory):
		r.session.PostNoMemory()
	case errors.Is(err, protocol.ErrMalformed):
		r.PostError(protocol.ErrorInvalidMethod, "%v", err)
	default:
		r.PostError(protocol.ErrorImplementation, "%v", err)
	}
}

// Destroy disconnects every session and frees every global.
func (d *Display) Destroy() {
	if d.destroyed {
		return
	}
	d.destroyed = true

	for _, s := range d.Sessions() {
		s.Destroy()
	}
	for _, g := range d.globals.all() {
		d.freeGlobal(g.handle)
	}
}
