package xdgshell

import (
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
)

// xdg_positioner requests.
const (
	opPositionerDestroy                 uint16 = 0
	opPositionerSetSize                 uint16 = 1
	opPositionerSetAnchorRect           uint16 = 2
	opPositionerSetAnchor               uint16 = 3
	opPositionerSetGravity              uint16 = 4
	opPositionerSetConstraintAdjustment uint16 = 5
	opPositionerSetOffset               uint16 = 6
	opPositionerSetReactive             uint16 = 7
	opPositionerSetParentSize           uint16 = 8
	opPositionerSetParentConfigure      uint16 = 9
)

// xdg_positioner error codes.
const ErrorInvalidInput uint32 = 0

// Edge is the xdg_positioner anchor and gravity enum.
type Edge uint32

const (
	EdgeNone Edge = iota
	EdgeTop
	EdgeBottom
	EdgeLeft
	EdgeRight
	EdgeTopLeft
	EdgeBottomLeft
	EdgeTopRight
	EdgeBottomRight
)

func (e Edge) left() bool   { return e == EdgeLeft || e == EdgeTopLeft || e == EdgeBottomLeft }
func (e Edge) right() bool  { return e == EdgeRight || e == EdgeTopRight || e == EdgeBottomRight }
func (e Edge) top() bool    { return e == EdgeTop || e == EdgeTopLeft || e == EdgeTopRight }
func (e Edge) bottom() bool { return e == EdgeBottom || e == EdgeBottomLeft || e == EdgeBottomRight }

// PositionerState is a snapshot of an xdg_positioner. Popups copy it at
// creation and on reposition, so later changes to the positioner object
// do not affect them.
type PositionerState struct {
	Size                 Size
	AnchorRect           Rect
	Anchor               Edge
	Gravity              Edge
	ConstraintAdjustment uint32
	OffsetX, OffsetY     int32
	Reactive             bool
	ParentSize           Size
	ParentConfigure      uint32

	hasSize, hasAnchorRect bool
}

// Complete reports whether both the size and the anchor rectangle are set.
func (p PositionerState) Complete() bool {
	return p.hasSize && p.hasAnchorRect
}

// Geometry places the popup relative to its parent's window geometry
// without applying constraint adjustments.
func (p PositionerState) Geometry() Rect {
	ar := p.AnchorRect
	x, y := ar.X+ar.Width/2, ar.Y+ar.Height/2
	switch {
	case p.Anchor.left():
		x = ar.X
	case p.Anchor.right():
		x = ar.X + ar.Width
	}
	switch {
	case p.Anchor.top():
		y = ar.Y
	case p.Anchor.bottom():
		y = ar.Y + ar.Height
	}

	w, h := p.Size.Width, p.Size.Height
	switch {
	case p.Gravity.left():
		x -= w
	case p.Gravity.right():
	default:
		x -= w / 2
	}
	switch {
	case p.Gravity.top():
		y -= h
	case p.Gravity.bottom():
	default:
		y -= h / 2
	}
	return Rect{X: x + p.OffsetX, Y: y + p.OffsetY, Width: w, Height: h}
}

// Positioner is an xdg_positioner.
type Positioner struct {
	state PositionerState
}

// State returns a copy of the positioner's current rules.
func (p *Positioner) State() PositionerState {
	return p.state
}

func lookupPositioner(r *server.Resource, id protocol.ObjectID) (*Positioner, bool) {
	res, ok := r.Session().Resource(id)
	if !ok {
		return nil, false
	}
	p, ok := res.Handler().(*Positioner)
	return p, ok
}

func (p *Positioner) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opPositionerDestroy:
		r.Destroy()

	case opPositionerSetSize:
		size := Size{Width: args.Int(), Height: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		if size.Width <= 0 || size.Height <= 0 {
			return server.NewProtocolError(r, ErrorInvalidInput, "positioner size %dx%d is not positive", size.Width, size.Height)
		}
		p.state.Size = size
		p.state.hasSize = true

	case opPositionerSetAnchorRect:
		rect := Rect{X: args.Int(), Y: args.Int(), Width: args.Int(), Height: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		if rect.Width < 0 || rect.Height < 0 {
			return server.NewProtocolError(r, ErrorInvalidInput, "anchor rect %dx%d is negative", rect.Width, rect.Height)
		}
		p.state.AnchorRect = rect
		p.state.hasAnchorRect = true

	case opPositionerSetAnchor, opPositionerSetGravity:
		e := Edge(args.Uint())
		if err := args.Err(); err != nil {
			return err
		}
		if e > EdgeBottomRight {
			return server.NewProtocolError(r, ErrorInvalidInput, "invalid edge %d", e)
		}
		if msg.Opcode == opPositionerSetAnchor {
			p.state.Anchor = e
		} else {
			p.state.Gravity = e
		}

	case opPositionerSetConstraintAdjustment:
		p.state.ConstraintAdjustment = args.Uint()
		return args.Err()

	case opPositionerSetOffset:
		p.state.OffsetX, p.state.OffsetY = args.Int(), args.Int()
		return args.Err()

	case opPositionerSetReactive:
		p.state.Reactive = true

	case opPositionerSetParentSize:
		p.state.ParentSize = Size{Width: args.Int(), Height: args.Int()}
		return args.Err()

	case opPositionerSetParentConfigure:
		p.state.ParentConfigure = args.Uint()
		return args.Err()

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
	return nil
}
