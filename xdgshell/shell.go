// Package xdgshell implements the xdg-shell surface roles: xdg_wm_base,
// xdg_surface, xdg_toplevel, xdg_popup and xdg_positioner.
//
// Every configure the server sends draws a serial from the display
// counter and is queued on its xdg_surface until the peer acknowledges it.
// Liveness pings are delegated to a liveness.Watchdog.
package xdgshell

import (
	"github.com/charmbracelet/log"

	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/liveness"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

const (
	// InterfaceName is the xdg_wm_base interface name.
	InterfaceName = "xdg_wm_base"
	// Version is the highest xdg_wm_base version implemented.
	Version = 5

	positionerInterface = "xdg_positioner"
	surfaceInterface    = "xdg_surface"
	toplevelInterface   = "xdg_toplevel"
	popupInterface      = "xdg_popup"
)

// xdg_wm_base requests.
const (
	opWmBaseDestroy          uint16 = 0
	opWmBaseCreatePositioner uint16 = 1
	opWmBaseGetXdgSurface    uint16 = 2
	opWmBasePong             uint16 = 3
)

// xdg_wm_base events.
const EventPing uint16 = 0

// xdg_wm_base error codes.
const (
	ErrorRole                uint32 = 0
	ErrorDefunctSurfaces     uint32 = 1
	ErrorNotTheTopmostPopup  uint32 = 2
	ErrorInvalidPopupParent  uint32 = 3
	ErrorInvalidSurfaceState uint32 = 4
	ErrorInvalidPositioner   uint32 = 5
	ErrorUnresponsive        uint32 = 6
)

// Shell is the xdg_wm_base advertisement together with every xdg object
// created through it.
type Shell struct {
	display  *server.Display
	watchdog *liveness.Watchdog
	log      *log.Logger
	global   server.GlobalHandle

	bases     []*WmBase
	surfaces  map[*compositor.Surface]*XdgSurface
	toplevels []*Toplevel
	popups    []*Popup

	onToplevelCreated signal.Signal[*Toplevel]
	onPopupCreated    signal.Signal[*Popup]
}

// New advertises xdg_wm_base on display. Pings go through watchdog.
func New(display *server.Display, watchdog *liveness.Watchdog) *Shell {
	sh := &Shell{
		display:  display,
		watchdog: watchdog,
		log:      logger.With("component", "xdgshell"),
		surfaces: make(map[*compositor.Surface]*XdgSurface),
	}
	sh.global = display.Advertise(InterfaceName, Version, server.BindFunc(sh.bind))
	return sh
}

// Global returns the advertisement handle.
func (sh *Shell) Global() server.GlobalHandle {
	return sh.global
}

// Toplevels returns the live toplevels in creation order.
func (sh *Shell) Toplevels() []*Toplevel {
	out := make([]*Toplevel, len(sh.toplevels))
	copy(out, sh.toplevels)
	return out
}

// XdgSurfaceFor returns the xdg_surface wrapping s, if any.
func (sh *Shell) XdgSurfaceFor(s *compositor.Surface) (*XdgSurface, bool) {
	x, ok := sh.surfaces[s]
	return x, ok
}

// OnToplevelCreated subscribes to new toplevels.
func (sh *Shell) OnToplevelCreated(fn func(*Toplevel)) (cancel func()) {
	return sh.onToplevelCreated.Subscribe(fn)
}

// OnPopupCreated subscribes to new popups.
func (sh *Shell) OnPopupCreated(fn func(*Popup)) (cancel func()) {
	return sh.onPopupCreated.Subscribe(fn)
}

// Ping sends xdg_wm_base.ping to s through the watchdog. It returns false
// when s has no xdg_wm_base bound.
func (sh *Shell) Ping(s *server.Session) (uint32, bool) {
	for _, b := range sh.bases {
		if b.resource.Session() != s || b.resource.Destroyed() {
			continue
		}
		r := b.resource
		serial := sh.watchdog.Ping(s, func(serial uint32) {
			r.PostEvent(EventPing, serial)
		})
		return serial, true
	}
	return 0, false
}

func (sh *Shell) bind(r *server.Resource) error {
	b := &WmBase{shell: sh, resource: r}
	r.SetHandler(b)
	sh.bases = append(sh.bases, b)
	return nil
}

func (sh *Shell) removeBase(b *WmBase) {
	for i, base := range sh.bases {
		if base == b {
			sh.bases = append(sh.bases[:i], sh.bases[i+1:]...)
			return
		}
	}
}

func (sh *Shell) removeToplevel(t *Toplevel) {
	for i, tl := range sh.toplevels {
		if tl == t {
			sh.toplevels = append(sh.toplevels[:i], sh.toplevels[i+1:]...)
			return
		}
	}
}

// Popups returns the live popups in creation order.
func (sh *Shell) Popups() []*Popup {
	out := make([]*Popup, len(sh.popups))
	copy(out, sh.popups)
	return out
}

func (sh *Shell) removePopup(p *Popup) {
	for i, pp := range sh.popups {
		if pp == p {
			sh.popups = append(sh.popups[:i], sh.popups[i+1:]...)
			return
		}
	}
}

// WmBase is one peer's xdg_wm_base binding.
type WmBase struct {
	shell    *Shell
	resource *server.Resource
	surfaces int
}

// Resource returns the xdg_wm_base resource.
func (b *WmBase) Resource() *server.Resource {
	return b.resource
}

func (b *WmBase) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opWmBaseDestroy:
		if b.surfaces > 0 {
			return server.NewProtocolError(r, ErrorDefunctSurfaces,
				"xdg_wm_base destroyed with %d xdg_surface objects alive", b.surfaces)
		}
		r.Destroy()
		return nil

	case opWmBaseCreatePositioner:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		_, err := r.Session().NewChild(r, id, positionerInterface, &Positioner{})
		return err

	case opWmBaseGetXdgSurface:
		id := args.NewID()
		surfaceID := args.Object()
		if err := args.Err(); err != nil {
			return err
		}
		return b.getXdgSurface(r, id, surfaceID)

	case opWmBasePong:
		serial := args.Uint()
		if err := args.Err(); err != nil {
			return err
		}
		b.shell.watchdog.Pong(r.Session(), serial)
		return nil

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
}

func (b *WmBase) getXdgSurface(r *server.Resource, id protocol.NewID, surfaceID protocol.ObjectID) error {
	surface, ok := compositor.Lookup(r, surfaceID)
	if !ok {
		return server.InvalidObject(r, "get_xdg_surface: wl_surface@%d does not exist", surfaceID)
	}
	if _, exists := b.shell.surfaces[surface]; exists {
		return server.NewProtocolError(r, ErrorRole, "wl_surface@%d already has an xdg_surface", surfaceID)
	}
	if role := surface.RoleName(); surface.Role() != nil || (role != "" && role != toplevelInterface && role != popupInterface) {
		return server.NewProtocolError(r, ErrorRole, "wl_surface@%d already has role %s", surfaceID, role)
	}
	if surface.HasBuffer() {
		return server.NewProtocolError(r, ErrorInvalidSurfaceState,
			"wl_surface@%d has a buffer attached before xdg_surface creation", surfaceID)
	}

	x := &XdgSurface{shell: b.shell, base: b, surface: surface}
	res, err := r.Session().NewChild(r, id, surfaceInterface, x)
	if err != nil {
		return err
	}
	x.resource = res
	x.cancelCommit = surface.OnCommit(x.surfaceCommitted)
	x.cancelDestroyed = surface.OnDestroyed(func(*compositor.Surface) { x.surfaceGone() })
	b.shell.surfaces[surface] = x
	b.surfaces++
	return nil
}

func (b *WmBase) ResourceDestroyed(r *server.Resource) {
	b.shell.removeBase(b)
}
