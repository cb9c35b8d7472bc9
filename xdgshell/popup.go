package xdgshell

import (
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

// xdg_popup requests.
const (
	opPopupDestroy    uint16 = 0
	opPopupGrab       uint16 = 1
	opPopupReposition uint16 = 2
)

// xdg_popup events.
const (
	EventPopupConfigure    uint16 = 0
	EventPopupDone         uint16 = 1
	EventPopupRepositioned uint16 = 2
)

// xdg_popup error codes.
const ErrorInvalidGrab uint32 = 0

// Grab is an explicit popup grab request.
type Grab struct {
	Seat   protocol.ObjectID
	Serial uint32
}

// Popup is an xdg_popup role object.
type Popup struct {
	xdg    *XdgSurface
	res    *server.Resource
	parent *XdgSurface

	positioner PositionerState
	geometry   Rect

	onGrab      signal.Signal[Grab]
	onDestroyed signal.Signal[*Popup]
}

func (x *XdgSurface) newPopup(r *server.Resource, id protocol.NewID, parentID, positionerID protocol.ObjectID) error {
	pos, ok := lookupPositioner(r, positionerID)
	if !ok {
		return server.InvalidObject(r, "get_popup: xdg_positioner@%d does not exist", positionerID)
	}
	if !pos.state.Complete() {
		return server.NewProtocolError(x.base.resource, ErrorInvalidPositioner,
			"get_popup with an incomplete positioner, size and anchor rect are required")
	}

	var parent *XdgSurface
	if parentID != 0 {
		res, ok := r.Session().Resource(parentID)
		if !ok {
			return server.InvalidObject(r, "get_popup: parent object %d does not exist", parentID)
		}
		if parent, ok = xdgSurfaceFromResource(res); !ok {
			return server.NewProtocolError(x.base.resource, ErrorInvalidPopupParent, "popup parent %s is not an xdg_surface", res)
		}
	}

	p := &Popup{xdg: x, parent: parent, positioner: pos.state}
	if err := x.setRole(p); err != nil {
		return err
	}
	res, err := r.Session().NewChild(r, id, popupInterface, p)
	if err != nil {
		x.clearRole(p)
		return err
	}
	p.res = res
	x.shell.popups = append(x.shell.popups, p)
	x.shell.onPopupCreated.Emit(p)
	return nil
}

// RoleName implements compositor.Role.
func (p *Popup) RoleName() string {
	return popupInterface
}

// Resource returns the xdg_popup resource.
func (p *Popup) Resource() *server.Resource {
	return p.res
}

// XdgSurface returns the owning xdg_surface.
func (p *Popup) XdgSurface() *XdgSurface {
	return p.xdg
}

// Parent returns the parent xdg_surface, nil when it was left unset or
// has been destroyed.
func (p *Popup) Parent() *XdgSurface {
	return p.parent
}

// Positioner returns the positioner rules the popup was last placed with.
func (p *Popup) Positioner() PositionerState {
	return p.positioner
}

// Geometry returns the most recently configured geometry.
func (p *Popup) Geometry() Rect {
	return p.geometry
}

// OnGrab subscribes to grab requests.
func (p *Popup) OnGrab(fn func(Grab)) (cancel func()) {
	return p.onGrab.Subscribe(fn)
}

// OnDestroyed subscribes to the popup's teardown.
func (p *Popup) OnDestroyed(fn func(*Popup)) (cancel func()) {
	return p.onDestroyed.Subscribe(fn)
}

// Configure sends geometry and returns the configure serial.
func (p *Popup) Configure(geometry Rect) uint32 {
	p.geometry = geometry
	p.res.PostEvent(EventPopupConfigure, geometry.X, geometry.Y, geometry.Width, geometry.Height)
	return p.xdg.scheduleConfigure()
}

// SendPopupDone dismisses the popup.
func (p *Popup) SendPopupDone() {
	p.res.PostEvent(EventPopupDone)
	p.res.Session().Flush()
}

func (p *Popup) acked(uint32) {}

func (p *Popup) unmap() {}

// Commit implements compositor.Role.
func (p *Popup) Commit() {
	initial, ok := p.xdg.commit()
	if ok && initial {
		p.Configure(p.positioner.Geometry())
	}
}

func (p *Popup) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opPopupDestroy:
		for _, other := range p.xdg.shell.popups {
			if other != p && other.parent == p.xdg {
				return server.NewProtocolError(p.xdg.base.resource, ErrorNotTheTopmostPopup,
					"xdg_popup destroyed while a child popup is alive")
			}
		}
		r.Destroy()

	case opPopupGrab:
		g := Grab{Seat: args.Object(), Serial: args.Uint()}
		if err := args.Err(); err != nil {
			return err
		}
		if p.xdg.committed {
			return server.NewProtocolError(r, ErrorInvalidGrab, "grab requested after the popup was committed")
		}
		p.onGrab.Emit(g)

	case opPopupReposition:
		if r.Version() < 3 {
			return server.UnknownOpcode(r, msg.Opcode)
		}
		positionerID := args.Object()
		token := args.Uint()
		if err := args.Err(); err != nil {
			return err
		}
		pos, ok := lookupPositioner(r, positionerID)
		if !ok {
			return server.InvalidObject(r, "reposition: xdg_positioner@%d does not exist", positionerID)
		}
		if !pos.state.Complete() {
			return server.NewProtocolError(p.xdg.base.resource, ErrorInvalidPositioner, "reposition with an incomplete positioner")
		}
		p.positioner = pos.state
		r.PostEventSince(3, EventPopupRepositioned, token)
		p.Configure(p.positioner.Geometry())

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
	return nil
}

func (p *Popup) ResourceDestroyed(r *server.Resource) {
	p.xdg.shell.removePopup(p)
	p.xdg.clearRole(p)
	p.onDestroyed.Emit(p)
}
