// Package compositor implements wl_compositor, wl_surface and wl_region.
//
// Surfaces are double-buffered: attach, damage, frame, scale, transform and
// offset requests only touch pending state, and commit applies it before
// handing over to the surface's role.
package compositor

import (
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

const (
	// InterfaceName is the wl_compositor interface name.
	InterfaceName = "wl_compositor"
	// Version is the highest wl_compositor version implemented.
	Version = 6

	surfaceInterface = "wl_surface"
	regionInterface  = "wl_region"
)

// wl_compositor requests.
const (
	opCreateSurface uint16 = 0
	opCreateRegion  uint16 = 1
)

// Compositor is the wl_compositor advertisement and the owner of every
// surface created through it.
type Compositor struct {
	display *server.Display
	global  server.GlobalHandle

	surfaces []*Surface

	onSurfaceCreated signal.Signal[*Surface]
}

// New advertises wl_compositor on display.
func New(display *server.Display) *Compositor {
	c := &Compositor{display: display}
	c.global = display.Advertise(InterfaceName, Version, server.BindFunc(c.bind))
	return c
}

// Global returns the advertisement handle.
func (c *Compositor) Global() server.GlobalHandle {
	return c.global
}

// Surfaces returns the live surfaces in creation order.
func (c *Compositor) Surfaces() []*Surface {
	out := make([]*Surface, len(c.surfaces))
	copy(out, c.surfaces)
	return out
}

// OnSurfaceCreated subscribes to new surfaces.
func (c *Compositor) OnSurfaceCreated(fn func(*Surface)) (cancel func()) {
	return c.onSurfaceCreated.Subscribe(fn)
}

func (c *Compositor) bind(r *server.Resource) error {
	r.SetHandler(server.HandlerFunc(c.handleRequest))
	return nil
}

func (c *Compositor) handleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opCreateSurface:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		s := &Surface{compositor: c, pending: surfaceState{scale: 1}, current: surfaceState{scale: 1}}
		res, err := r.Session().NewChild(r, id, surfaceInterface, s)
		if err != nil {
			return err
		}
		s.resource = res
		c.surfaces = append(c.surfaces, s)
		c.onSurfaceCreated.Emit(s)
		return nil

	case opCreateRegion:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		_, err := r.Session().NewChild(r, id, regionInterface, &Region{})
		return err

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
}

func (c *Compositor) removeSurface(s *Surface) {
	for i, surf := range c.surfaces {
		if surf == s {
			c.surfaces = append(c.surfaces[:i], c.surfaces[i+1:]...)
			return
		}
	}
}

// Rect is an axis-aligned rectangle in surface-local coordinates.
type Rect struct {
	X, Y, Width, Height int32
}

// wl_region requests.
const (
	opRegionDestroy  uint16 = 0
	opRegionAdd      uint16 = 1
	opRegionSubtract uint16 = 2
)

// Region records the rectangles added to and subtracted from a wl_region.
type Region struct {
	Added      []Rect
	Subtracted []Rect
}

func (g *Region) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opRegionDestroy:
		r.Destroy()
		return nil
	case opRegionAdd, opRegionSubtract:
		rect := Rect{X: args.Int(), Y: args.Int(), Width: args.Int(), Height: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		if msg.Opcode == opRegionAdd {
			g.Added = append(g.Added, rect)
		} else {
			g.Subtracted = append(g.Subtracted, rect)
		}
		return nil
	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
}
