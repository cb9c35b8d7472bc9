package xdgshell

import (
	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

// xdg_surface requests.
const (
	opSurfaceDestroy           uint16 = 0
	opSurfaceGetToplevel       uint16 = 1
	opSurfaceGetPopup          uint16 = 2
	opSurfaceSetWindowGeometry uint16 = 3
	opSurfaceAckConfigure      uint16 = 4
)

// xdg_surface events.
const EventSurfaceConfigure uint16 = 0

// xdg_surface error codes.
const (
	ErrorNotConstructed     uint32 = 1
	ErrorAlreadyConstructed uint32 = 2
	ErrorUnconfiguredBuffer uint32 = 3
	ErrorInvalidSerial      uint32 = 4
	ErrorInvalidSize        uint32 = 5
	ErrorDefunctRoleObject  uint32 = 6
)

// Rect is a rectangle in surface-local coordinates.
type Rect struct {
	X, Y, Width, Height int32
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// role is implemented by Toplevel and Popup.
type role interface {
	compositor.Role
	acked(serial uint32)
	unmap()
}

// XdgSurface wraps a wl_surface for the xdg roles. It owns the configure
// queue shared by whichever role object it carries.
type XdgSurface struct {
	shell    *Shell
	base     *WmBase
	resource *server.Resource
	surface  *compositor.Surface

	role    role
	hadRole bool

	queue      ConfigureQueue
	configured bool
	committed  bool
	mapped     bool

	pendingGeometry Rect
	geometry        Rect

	cancelCommit    func()
	cancelDestroyed func()

	onConfigureAcknowledged signal.Signal[uint32]
}

func xdgSurfaceFromResource(r *server.Resource) (*XdgSurface, bool) {
	if r == nil {
		return nil, false
	}
	x, ok := r.Handler().(*XdgSurface)
	return x, ok
}

// Resource returns the xdg_surface resource.
func (x *XdgSurface) Resource() *server.Resource {
	return x.resource
}

// Surface returns the wrapped wl_surface.
func (x *XdgSurface) Surface() *compositor.Surface {
	return x.surface
}

// Configured reports whether the peer acknowledged a configure since the
// surface was last unmapped.
func (x *XdgSurface) Configured() bool {
	return x.configured
}

// Mapped reports whether the surface has committed a buffer after its
// first acknowledged configure.
func (x *XdgSurface) Mapped() bool {
	return x.mapped
}

// WindowGeometry returns the committed window geometry. An empty rect
// means the peer never set one.
func (x *XdgSurface) WindowGeometry() Rect {
	return x.geometry
}

// PendingConfigures returns how many configures await acknowledgement.
func (x *XdgSurface) PendingConfigures() int {
	return x.queue.Len()
}

// OnConfigureAcknowledged subscribes to acknowledged serials. The callback
// runs once for every serial popped by an ack_configure.
func (x *XdgSurface) OnConfigureAcknowledged(fn func(serial uint32)) (cancel func()) {
	return x.onConfigureAcknowledged.Subscribe(fn)
}

// scheduleConfigure draws a serial, sends xdg_surface.configure and queues
// it. Role events must be posted before calling it.
func (x *XdgSurface) scheduleConfigure() uint32 {
	serial := x.shell.display.NextSerial()
	x.resource.PostEvent(EventSurfaceConfigure, serial)
	x.queue.Push(serial)
	x.resource.Session().Flush()
	return serial
}

func (x *XdgSurface) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opSurfaceDestroy:
		if x.role != nil {
			return server.NewProtocolError(r, ErrorDefunctRoleObject,
				"xdg_surface destroyed before its %s", x.role.RoleName())
		}
		r.Destroy()
		return nil

	case opSurfaceGetToplevel:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		if x.role != nil {
			return server.NewProtocolError(r, ErrorAlreadyConstructed, "xdg_surface already has a role object")
		}
		return x.newToplevel(r, id)

	case opSurfaceGetPopup:
		id := args.NewID()
		parentID := args.Object()
		positionerID := args.Object()
		if err := args.Err(); err != nil {
			return err
		}
		if x.role != nil {
			return server.NewProtocolError(r, ErrorAlreadyConstructed, "xdg_surface already has a role object")
		}
		return x.newPopup(r, id, parentID, positionerID)

	case opSurfaceSetWindowGeometry:
		g := Rect{X: args.Int(), Y: args.Int(), Width: args.Int(), Height: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		if g.Empty() {
			return server.NewProtocolError(r, ErrorInvalidSize, "window geometry %dx%d is not positive", g.Width, g.Height)
		}
		x.pendingGeometry = g
		return nil

	case opSurfaceAckConfigure:
		serial := args.Uint()
		if err := args.Err(); err != nil {
			return err
		}
		x.ack(serial)
		return nil

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
}

// ack pops serial and everything older. An unknown serial is ignored.
func (x *XdgSurface) ack(serial uint32) {
	popped := x.queue.Ack(serial)
	if len(popped) == 0 {
		x.shell.log.Debug("Ignoring ack of unknown configure", "surface", x.resource.String(), "serial", serial)
		return
	}
	x.configured = true
	for _, s := range popped {
		if x.role != nil {
			x.role.acked(s)
		}
		x.onConfigureAcknowledged.Emit(s)
	}
}

// commit runs from the role's Commit and reports whether this was the
// first commit since the role was assigned.
func (x *XdgSurface) commit() (initial bool, ok bool) {
	if x.surface.HasBuffer() && !x.configured {
		x.resource.PostError(ErrorUnconfiguredBuffer, "buffer committed before the first configure was acknowledged")
		return false, false
	}
	if !x.pendingGeometry.Empty() {
		x.geometry = x.pendingGeometry
	}

	initial = !x.committed
	x.committed = true

	switch {
	case !x.mapped && x.configured && x.surface.HasBuffer():
		x.mapped = true
	case x.mapped && !x.surface.HasBuffer():
		x.resetMapping()
	}
	return initial, true
}

// resetMapping returns the surface to its unmapped, unconfigured state.
func (x *XdgSurface) resetMapping() {
	x.mapped = false
	x.configured = false
	x.committed = false
	x.queue.Reset()
	if x.role != nil {
		x.role.unmap()
	}
}

func (x *XdgSurface) surfaceCommitted(*compositor.Surface) {
	if x.role == nil && !x.hadRole && !x.resource.Destroyed() {
		x.resource.PostError(ErrorNotConstructed, "xdg_surface committed before a role object was created")
	}
}

func (x *XdgSurface) setRole(r role) error {
	if err := x.surface.SetRole(r, x.base.resource, ErrorRole); err != nil {
		return err
	}
	x.role = r
	x.hadRole = true
	return nil
}

func (x *XdgSurface) clearRole(r role) {
	if x.role != r {
		return
	}
	x.surface.ClearRole(r)
	x.role = nil
	x.mapped = false
	x.configured = false
	x.committed = false
	x.queue.Reset()
}

func (x *XdgSurface) surfaceGone() {
	if x.role != nil && !x.resource.Destroyed() {
		x.shell.log.Debug("wl_surface destroyed under a live role", "surface", x.resource.String())
	}
}

func (x *XdgSurface) ResourceDestroyed(r *server.Resource) {
	if x.cancelCommit != nil {
		x.cancelCommit()
	}
	if x.cancelDestroyed != nil {
		x.cancelDestroyed()
	}
	delete(x.shell.surfaces, x.surface)
	x.base.surfaces--
	for _, p := range x.shell.popups {
		if p.parent == x {
			p.parent = nil
		}
	}
}
