package xdgshell

import (
	"encoding/binary"

	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

// xdg_toplevel requests.
const (
	opToplevelDestroy         uint16 = 0
	opToplevelSetParent       uint16 = 1
	opToplevelSetTitle        uint16 = 2
	opToplevelSetAppID        uint16 = 3
	opToplevelShowWindowMenu  uint16 = 4
	opToplevelMove            uint16 = 5
	opToplevelResize          uint16 = 6
	opToplevelSetMaxSize      uint16 = 7
	opToplevelSetMinSize      uint16 = 8
	opToplevelSetMaximized    uint16 = 9
	opToplevelUnsetMaximized  uint16 = 10
	opToplevelSetFullscreen   uint16 = 11
	opToplevelUnsetFullscreen uint16 = 12
	opToplevelSetMinimized    uint16 = 13
)

// xdg_toplevel events.
const (
	EventToplevelConfigure       uint16 = 0
	EventToplevelClose           uint16 = 1
	EventToplevelConfigureBounds uint16 = 2
	EventToplevelWmCapabilities  uint16 = 3
)

// xdg_toplevel error codes.
const (
	ErrorInvalidResizeEdge uint32 = 0
	ErrorInvalidParent     uint32 = 1
	ErrorToplevelSize      uint32 = 2
)

// WindowState is the xdg_toplevel.state enum.
type WindowState uint32

const (
	StateMaximized WindowState = iota + 1
	StateFullscreen
	StateResizing
	StateActivated
	StateTiledLeft
	StateTiledRight
	StateTiledTop
	StateTiledBottom
	StateSuspended
)

// Capability is the xdg_toplevel.wm_capabilities enum.
type Capability uint32

const (
	CapabilityWindowMenu Capability = iota + 1
	CapabilityMaximize
	CapabilityFullscreen
	CapabilityMinimize
)

// DefaultCapabilities are announced to v5 toplevels.
var DefaultCapabilities = []Capability{CapabilityWindowMenu, CapabilityMaximize, CapabilityFullscreen, CapabilityMinimize}

// ToplevelConfigure is the state proposed to a toplevel in one configure.
type ToplevelConfigure struct {
	Width, Height int32
	States        []WindowState
	// Bounds, when non-zero, is sent as configure_bounds (v4).
	BoundsWidth, BoundsHeight int32
}

// RequestKind identifies an interactive toplevel request.
type RequestKind int

const (
	RequestMove RequestKind = iota
	RequestResize
	RequestShowWindowMenu
	RequestMaximize
	RequestUnmaximize
	RequestFullscreen
	RequestUnfullscreen
	RequestMinimize
)

// Request is an interactive request the compositor may honour.
type Request struct {
	Kind   RequestKind
	Seat   protocol.ObjectID
	Serial uint32
	Edges  uint32
	X, Y   int32
	Output protocol.ObjectID
}

// Size is a width/height pair in surface-local coordinates.
type Size struct {
	Width, Height int32
}

// Toplevel is an xdg_toplevel role object.
type Toplevel struct {
	xdg *XdgSurface
	res *server.Resource

	title  string
	appID  string
	parent *Toplevel

	pendingMin, pendingMax Size
	min, max               Size

	sentCapabilities bool
	configures       map[uint32]ToplevelConfigure
	current          ToplevelConfigure

	onRequest   signal.Signal[Request]
	onMap       signal.Signal[*Toplevel]
	onDestroyed signal.Signal[*Toplevel]
}

func (x *XdgSurface) newToplevel(r *server.Resource, id protocol.NewID) error {
	t := &Toplevel{xdg: x, configures: make(map[uint32]ToplevelConfigure)}
	if err := x.setRole(t); err != nil {
		return err
	}
	res, err := r.Session().NewChild(r, id, toplevelInterface, t)
	if err != nil {
		x.clearRole(t)
		return err
	}
	t.res = res
	x.shell.toplevels = append(x.shell.toplevels, t)
	x.shell.onToplevelCreated.Emit(t)
	return nil
}

// RoleName implements compositor.Role.
func (t *Toplevel) RoleName() string {
	return toplevelInterface
}

// Resource returns the xdg_toplevel resource.
func (t *Toplevel) Resource() *server.Resource {
	return t.res
}

// XdgSurface returns the owning xdg_surface.
func (t *Toplevel) XdgSurface() *XdgSurface {
	return t.xdg
}

func (t *Toplevel) Title() string {
	return t.title
}

func (t *Toplevel) AppID() string {
	return t.appID
}

// Parent returns the parent toplevel, or nil.
func (t *Toplevel) Parent() *Toplevel {
	return t.parent
}

// MinSize returns the committed minimum size. Zero means unconstrained.
func (t *Toplevel) MinSize() Size {
	return t.min
}

// MaxSize returns the committed maximum size. Zero means unconstrained.
func (t *Toplevel) MaxSize() Size {
	return t.max
}

// Current returns the most recently acknowledged configure.
func (t *Toplevel) Current() ToplevelConfigure {
	return t.current
}

// OnRequest subscribes to interactive requests.
func (t *Toplevel) OnRequest(fn func(Request)) (cancel func()) {
	return t.onRequest.Subscribe(fn)
}

// OnMap subscribes to the toplevel becoming mapped.
func (t *Toplevel) OnMap(fn func(*Toplevel)) (cancel func()) {
	return t.onMap.Subscribe(fn)
}

// OnDestroyed subscribes to the toplevel's teardown.
func (t *Toplevel) OnDestroyed(fn func(*Toplevel)) (cancel func()) {
	return t.onDestroyed.Subscribe(fn)
}

// Configure proposes c to the peer and returns the configure serial.
func (t *Toplevel) Configure(c ToplevelConfigure) uint32 {
	if c.BoundsWidth > 0 || c.BoundsHeight > 0 {
		t.res.PostEventSince(4, EventToplevelConfigureBounds, c.BoundsWidth, c.BoundsHeight)
	}
	if !t.sentCapabilities {
		t.sentCapabilities = true
		t.res.PostEventSince(5, EventToplevelWmCapabilities, encodeStates(DefaultCapabilities))
	}
	t.res.PostEvent(EventToplevelConfigure, c.Width, c.Height, encodeStates(c.States))
	serial := t.xdg.scheduleConfigure()
	t.configures[serial] = c
	return serial
}

// SendClose asks the peer to close the toplevel.
func (t *Toplevel) SendClose() {
	t.res.PostEvent(EventToplevelClose)
	t.res.Session().Flush()
}

func encodeStates[T ~uint32](states []T) []byte {
	buf := make([]byte, 0, 4*len(states))
	for _, s := range states {
		buf = binary.NativeEndian.AppendUint32(buf, uint32(s))
	}
	return buf
}

func (t *Toplevel) acked(serial uint32) {
	if c, ok := t.configures[serial]; ok {
		t.current = c
		delete(t.configures, serial)
	}
}

func (t *Toplevel) unmap() {
	clear(t.configures)
	t.current = ToplevelConfigure{}
}

// Commit implements compositor.Role.
func (t *Toplevel) Commit() {
	wasMapped := t.xdg.mapped
	initial, ok := t.xdg.commit()
	if !ok {
		return
	}

	lo, hi := t.pendingMin, t.pendingMax
	if hi.Width > 0 && lo.Width > hi.Width || hi.Height > 0 && lo.Height > hi.Height {
		t.res.PostError(ErrorToplevelSize, "min size %dx%d exceeds max size %dx%d",
			lo.Width, lo.Height, hi.Width, hi.Height)
		return
	}
	t.min, t.max = lo, hi

	if initial {
		t.Configure(ToplevelConfigure{})
	}
	if !wasMapped && t.xdg.mapped {
		t.onMap.Emit(t)
	}
}

func (t *Toplevel) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opToplevelDestroy:
		r.Destroy()

	case opToplevelSetParent:
		id := args.Object()
		if err := args.Err(); err != nil {
			return err
		}
		return t.setParent(r, id)

	case opToplevelSetTitle:
		t.title = args.String()
		return args.Err()

	case opToplevelSetAppID:
		t.appID = args.String()
		return args.Err()

	case opToplevelShowWindowMenu:
		req := Request{Kind: RequestShowWindowMenu, Seat: args.Object(), Serial: args.Uint(), X: args.Int(), Y: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		t.onRequest.Emit(req)

	case opToplevelMove:
		req := Request{Kind: RequestMove, Seat: args.Object(), Serial: args.Uint()}
		if err := args.Err(); err != nil {
			return err
		}
		t.onRequest.Emit(req)

	case opToplevelResize:
		req := Request{Kind: RequestResize, Seat: args.Object(), Serial: args.Uint(), Edges: args.Uint()}
		if err := args.Err(); err != nil {
			return err
		}
		if req.Edges > 10 || req.Edges == 3 || req.Edges == 7 {
			return server.NewProtocolError(r, ErrorInvalidResizeEdge, "invalid resize edge %d", req.Edges)
		}
		t.onRequest.Emit(req)

	case opToplevelSetMaxSize, opToplevelSetMinSize:
		size := Size{Width: args.Int(), Height: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		if size.Width < 0 || size.Height < 0 {
			return server.NewProtocolError(r, ErrorToplevelSize, "negative size %dx%d", size.Width, size.Height)
		}
		if msg.Opcode == opToplevelSetMaxSize {
			t.pendingMax = size
		} else {
			t.pendingMin = size
		}

	case opToplevelSetMaximized:
		t.onRequest.Emit(Request{Kind: RequestMaximize})
	case opToplevelUnsetMaximized:
		t.onRequest.Emit(Request{Kind: RequestUnmaximize})

	case opToplevelSetFullscreen:
		output := args.Object()
		if err := args.Err(); err != nil {
			return err
		}
		t.onRequest.Emit(Request{Kind: RequestFullscreen, Output: output})
	case opToplevelUnsetFullscreen:
		t.onRequest.Emit(Request{Kind: RequestUnfullscreen})
	case opToplevelSetMinimized:
		t.onRequest.Emit(Request{Kind: RequestMinimize})

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
	return nil
}

func (t *Toplevel) setParent(r *server.Resource, id protocol.ObjectID) error {
	if id == 0 {
		t.parent = nil
		return nil
	}
	res, ok := r.Session().Resource(id)
	if !ok {
		return server.InvalidObject(r, "set_parent: object %d does not exist", id)
	}
	parent, ok := res.Handler().(*Toplevel)
	if !ok {
		return server.InvalidObject(r, "set_parent: %s is not an xdg_toplevel", res)
	}
	for p := parent; p != nil; p = p.parent {
		if p == t {
			return server.NewProtocolError(r, ErrorInvalidParent, "set_parent would create a loop")
		}
	}
	t.parent = parent
	return nil
}

func (t *Toplevel) ResourceDestroyed(r *server.Resource) {
	for _, other := range t.xdg.shell.toplevels {
		if other.parent == t {
			other.parent = t.parent
		}
	}
	t.xdg.shell.removeToplevel(t)
	t.xdg.clearRole(t)
	t.onDestroyed.Emit(t)
}
