// Package seat implements wl_seat and the seat's text-input focus
// arbiter.
//
// The arbiter tracks one focused surface and, independently, one active
// text-input device per protocol version. A device is only ever entered
// for a surface owned by the same session.
package seat

import (
	"github.com/charmbracelet/log"

	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

const (
	// InterfaceName is the wl_seat interface name.
	InterfaceName = "wl_seat"
	// Version is the highest wl_seat version implemented.
	Version = 7

	// DefaultName is used when a seat is created without a name.
	DefaultName = "seat0"
)

// wl_seat requests.
const (
	opGetPointer  uint16 = 0
	opGetKeyboard uint16 = 1
	opGetTouch    uint16 = 2
	opRelease     uint16 = 3
)

// wl_seat events.
const (
	EventCapabilities uint16 = 0
	EventName         uint16 = 1
)

// wl_seat error codes.
const ErrorMissingCapability uint32 = 0

// Capability is the wl_seat.capability bit set.
type Capability uint32

const (
	CapabilityPointer  Capability = 1
	CapabilityKeyboard Capability = 2
	CapabilityTouch    Capability = 4
)

// Seat is one wl_seat advertisement and its focus state.
type Seat struct {
	display *server.Display
	log     *log.Logger
	name    string
	global  server.GlobalHandle

	caps     Capability
	everCaps Capability

	focused         *compositor.Surface
	cancelFocusGone func()
	slots           [2]*slot

	onFocusedTextInputChanged signal.Signal[FocusedTextInput]
}

// New advertises a wl_seat named name on display.
func New(display *server.Display, name string) *Seat {
	if name == "" {
		name = DefaultName
	}
	st := &Seat{
		display: display,
		log:     logger.With("component", "seat", "seat", name),
		name:    name,
		slots:   [2]*slot{{version: TextInputV2}, {version: TextInputV3}},
	}
	st.global = display.Advertise(InterfaceName, Version, server.BindFunc(st.bind))
	return st
}

// Name returns the seat name.
func (st *Seat) Name() string {
	return st.name
}

// Global returns the advertisement handle.
func (st *Seat) Global() server.GlobalHandle {
	return st.global
}

// Capabilities returns the current capability set.
func (st *Seat) Capabilities() Capability {
	return st.caps
}

// SetCapabilities updates the capability set and tells every bound peer.
func (st *Seat) SetCapabilities(caps Capability) {
	if caps == st.caps {
		return
	}
	st.caps = caps
	st.everCaps |= caps
	g, ok := st.display.Global(st.global)
	if !ok {
		return
	}
	g.ForEachResource(func(r *server.Resource) {
		r.PostEvent(EventCapabilities, uint32(caps))
		r.Session().Flush()
	})
}

// FromResource returns the seat behind a wl_seat resource.
func FromResource(r *server.Resource) (*Seat, bool) {
	if r == nil {
		return nil, false
	}
	b, ok := r.Handler().(*binding)
	if !ok {
		return nil, false
	}
	return b.seat, true
}

// Lookup resolves a wl_seat object id on the session of r.
func Lookup(r *server.Resource, id protocol.ObjectID) (*Seat, bool) {
	res, ok := r.Session().Resource(id)
	if !ok {
		return nil, false
	}
	return FromResource(res)
}

func (st *Seat) bind(r *server.Resource) error {
	r.SetHandler(&binding{seat: st})
	r.PostEvent(EventCapabilities, uint32(st.caps))
	r.PostEventSince(2, EventName, st.name)
	return nil
}

// binding is the handler of one wl_seat resource.
type binding struct {
	seat *Seat
}

func (b *binding) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opGetPointer, opGetKeyboard, opGetTouch:
		id := args.NewID()
		if err := args.Err(); err != nil {
			return err
		}
		iface, capability := deviceInterface(msg.Opcode)
		if b.seat.everCaps&capability == 0 {
			return server.NewProtocolError(r, ErrorMissingCapability, "seat %s never had capability %s", b.seat.name, iface)
		}
		_, err := r.Session().NewChild(r, id, iface, device{})
		return err

	case opRelease:
		if r.Version() < 5 {
			return server.UnknownOpcode(r, msg.Opcode)
		}
		r.Destroy()
		return nil

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
}

func deviceInterface(opcode uint16) (string, Capability) {
	switch opcode {
	case opGetPointer:
		return "wl_pointer", CapabilityPointer
	case opGetKeyboard:
		return "wl_keyboard", CapabilityKeyboard
	default:
		return "wl_touch", CapabilityTouch
	}
}

// device is an input device resource. Input routing is out of scope, so
// it only honours release.
type device struct{}

// wl_pointer.release is opcode 1; wl_keyboard and wl_touch use 0.
func (device) HandleRequest(r *server.Resource, msg protocol.Message) error {
	releaseOp := uint16(0)
	if r.Interface().Name == "wl_pointer" {
		releaseOp = 1
	}
	if msg.Opcode == releaseOp && r.Version() >= 3 {
		r.Destroy()
		return nil
	}
	if r.Interface().Name == "wl_pointer" && msg.Opcode == 0 {
		// set_cursor: accepted and ignored.
		return nil
	}
	return server.UnknownOpcode(r, msg.Opcode)
}
