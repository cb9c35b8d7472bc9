package compositor

import (
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

// wl_surface requests.
const (
	opSurfaceDestroy            uint16 = 0
	opSurfaceAttach             uint16 = 1
	opSurfaceDamage             uint16 = 2
	opSurfaceFrame              uint16 = 3
	opSurfaceSetOpaqueRegion    uint16 = 4
	opSurfaceSetInputRegion     uint16 = 5
	opSurfaceCommit             uint16 = 6
	opSurfaceSetBufferTransform uint16 = 7
	opSurfaceSetBufferScale     uint16 = 8
	opSurfaceDamageBuffer       uint16 = 9
	opSurfaceOffset             uint16 = 10
)

// wl_surface events.
const (
	EventEnter                    uint16 = 0
	EventLeave                    uint16 = 1
	EventPreferredBufferScale     uint16 = 2
	EventPreferredBufferTransform uint16 = 3
)

// wl_surface error codes.
const (
	ErrorInvalidScale      uint32 = 0
	ErrorInvalidTransform  uint32 = 1
	ErrorInvalidSize       uint32 = 2
	ErrorInvalidOffset     uint32 = 3
	ErrorDefunctRoleObject uint32 = 4
)

// wl_callback done event, sent on frame callbacks.
const callbackEventDone uint16 = 0

// Role is the behaviour a surface takes on (toplevel, popup, ...). Commit
// runs after the surface's own pending state has been applied.
type Role interface {
	RoleName() string
	Commit()
}

type surfaceState struct {
	buffer    protocol.ObjectID
	attached  bool
	dx, dy    int32
	scale     int32
	transform int32
	damaged   bool
	opaque    protocol.ObjectID
	input     protocol.ObjectID
	frames    []*server.Resource
}

// Surface is a wl_surface.
type Surface struct {
	compositor *Compositor
	resource   *server.Resource

	pending surfaceState
	current surfaceState

	roleName string
	role     Role
	commits  uint64

	onCommit    signal.Signal[*Surface]
	onDestroyed signal.Signal[*Surface]
}

// FromResource returns the surface behind a wl_surface resource.
func FromResource(r *server.Resource) (*Surface, bool) {
	if r == nil {
		return nil, false
	}
	s, ok := r.Handler().(*Surface)
	return s, ok
}

// Lookup resolves a wl_surface object id on the session of r.
func Lookup(r *server.Resource, id protocol.ObjectID) (*Surface, bool) {
	res, ok := r.Session().Resource(id)
	if !ok {
		return nil, false
	}
	return FromResource(res)
}

// Resource returns the wl_surface resource.
func (s *Surface) Resource() *server.Resource {
	return s.resource
}

// Session returns the owning session.
func (s *Surface) Session() *server.Session {
	return s.resource.Session()
}

// Destroyed reports whether the wl_surface is gone.
func (s *Surface) Destroyed() bool {
	return s.resource.Destroyed()
}

// HasBuffer reports whether a buffer is attached, committed or pending.
func (s *Surface) HasBuffer() bool {
	return s.current.buffer != 0 || (s.pending.attached && s.pending.buffer != 0)
}

// BufferScale returns the committed buffer scale.
func (s *Surface) BufferScale() int32 {
	return s.current.scale
}

// BufferTransform returns the committed buffer transform.
func (s *Surface) BufferTransform() int32 {
	return s.current.transform
}

// Offset returns the committed buffer offset.
func (s *Surface) Offset() (int32, int32) {
	return s.current.dx, s.current.dy
}

// Commits returns how many times the surface was committed.
func (s *Surface) Commits() uint64 {
	return s.commits
}

// RoleName returns the name of the role assigned to the surface, if any.
// The name persists after the role object is destroyed.
func (s *Surface) RoleName() string {
	return s.roleName
}

// Role returns the live role object, if any.
func (s *Surface) Role() Role {
	return s.role
}

// SetRole assigns role. A surface holds one role object at a time and may
// never change role kind; a conflicting request is reported against
// errResource with errCode and the existing role is left untouched.
func (s *Surface) SetRole(role Role, errResource *server.Resource, errCode uint32) error {
	if s.role != nil {
		return server.NewProtocolError(errResource, errCode,
			"wl_surface@%d already has a %s role object", s.resource.ID(), s.roleName)
	}
	if s.roleName != "" && s.roleName != role.RoleName() {
		return server.NewProtocolError(errResource, errCode,
			"wl_surface@%d already has role %s, cannot become %s", s.resource.ID(), s.roleName, role.RoleName())
	}
	s.roleName = role.RoleName()
	s.role = role
	return nil
}

// ClearRole detaches role when its role object is destroyed. The surface
// keeps its role name.
func (s *Surface) ClearRole(role Role) {
	if s.role == role {
		s.role = nil
	}
}

// OnCommit subscribes to surface commits, after the role has run.
func (s *Surface) OnCommit(fn func(*Surface)) (cancel func()) {
	return s.onCommit.Subscribe(fn)
}

// OnDestroyed subscribes to the surface's teardown.
func (s *Surface) OnDestroyed(fn func(*Surface)) (cancel func()) {
	return s.onDestroyed.Subscribe(fn)
}

// SendFrameDone fires and destroys every committed frame callback.
func (s *Surface) SendFrameDone(timeMs uint32) {
	frames := s.current.frames
	s.current.frames = nil
	for _, cb := range frames {
		cb.PostEvent(callbackEventDone, timeMs)
		cb.Destroy()
	}
	s.Session().Flush()
}

// SendEnter tells the peer the surface entered the output bound as output.
func (s *Surface) SendEnter(output *server.Resource) {
	s.resource.PostEvent(EventEnter, output.ID())
}

// SendLeave tells the peer the surface left the output bound as output.
func (s *Surface) SendLeave(output *server.Resource) {
	s.resource.PostEvent(EventLeave, output.ID())
}

// SendPreferredBufferScale hints the buffer scale (v6).
func (s *Surface) SendPreferredBufferScale(scale int32) {
	s.resource.PostEventSince(6, EventPreferredBufferScale, scale)
}

func (s *Surface) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opSurfaceDestroy:
		r.Destroy()

	case opSurfaceAttach:
		buffer := args.Object()
		x, y := args.Int(), args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		if r.Version() >= 5 && (x != 0 || y != 0) {
			return server.NewProtocolError(r, ErrorInvalidOffset, "attach with non-zero offset, use wl_surface.offset")
		}
		s.pending.buffer = buffer
		s.pending.attached = true
		s.pending.dx, s.pending.dy = x, y

	case opSurfaceDamage, opSurfaceDamageBuffer:
		args.Int()
		args.Int()
		args.Int()
		args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		s.pending.damaged = true

	case opSurfaceFrame:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		cb, err := r.Session().NewResource(id.ID, "wl_callback", 1, nil)
		if err != nil {
			return server.InvalidObject(r, "invalid frame callback id %d: %v", id.ID, err)
		}
		s.pending.frames = append(s.pending.frames, cb)

	case opSurfaceSetOpaqueRegion:
		s.pending.opaque = args.Object()
		return args.Err()

	case opSurfaceSetInputRegion:
		s.pending.input = args.Object()
		return args.Err()

	case opSurfaceCommit:
		s.commit()

	case opSurfaceSetBufferTransform:
		t := args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		if t < 0 || t > 7 {
			return server.NewProtocolError(r, ErrorInvalidTransform, "buffer transform %d out of range", t)
		}
		s.pending.transform = t

	case opSurfaceSetBufferScale:
		scale := args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		if scale < 1 {
			return server.NewProtocolError(r, ErrorInvalidScale, "buffer scale must be positive, got %d", scale)
		}
		s.pending.scale = scale

	case opSurfaceOffset:
		x, y := args.Int(), args.Int()
		if err := args.Err(); err != nil {
			return err
		}
		s.pending.dx, s.pending.dy = x, y

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
	return nil
}

func (s *Surface) commit() {
	if s.pending.attached {
		s.current.buffer = s.pending.buffer
	}
	s.current.dx, s.current.dy = s.pending.dx, s.pending.dy
	s.current.scale = s.pending.scale
	s.current.transform = s.pending.transform
	s.current.damaged = s.pending.damaged
	s.current.opaque = s.pending.opaque
	s.current.input = s.pending.input
	s.current.frames = append(s.current.frames, s.pending.frames...)

	s.pending.attached = false
	s.pending.damaged = false
	s.pending.frames = nil
	s.pending.dx, s.pending.dy = 0, 0
	s.commits++

	if s.role != nil {
		s.role.Commit()
	}
	s.onCommit.Emit(s)
}

func (s *Surface) ResourceDestroyed(r *server.Resource) {
	for _, cb := range append(s.pending.frames, s.current.frames...) {
		cb.Destroy()
	}
	s.pending.frames = nil
	s.current.frames = nil
	s.compositor.removeSurface(s)
	s.onDestroyed.Emit(s)
}
