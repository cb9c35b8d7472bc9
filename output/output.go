// Package output implements wl_output as a double-buffered entity.
//
// Mutators only touch the pending state. Commit derives the client scale,
// compares pending against what peers were last told and sends just the
// events for fields that changed, terminated by one done per peer. A peer
// binding late receives the published snapshot, never pending values.
package output

import (
	"github.com/charmbracelet/log"

	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

const (
	// InterfaceName is the wl_output interface name.
	InterfaceName = "wl_output"
	// Version is the highest wl_output version implemented.
	Version = 4
)

// wl_output events.
const (
	EventGeometry    uint16 = 0
	EventMode        uint16 = 1
	EventDone        uint16 = 2
	EventScale       uint16 = 3
	EventName        uint16 = 4
	EventDescription uint16 = 5
)

// wl_output requests.
const opRelease uint16 = 0

// wl_output.mode flags.
const (
	ModeCurrent   uint32 = 0x1
	ModePreferred uint32 = 0x2
)

// Output is one wl_output: a pending state, a published state and the
// peers bound to it.
type Output struct {
	display *server.Display
	log     *log.Logger

	pending   State
	published State

	global    server.GlobalHandle
	resources []*server.Resource

	onCommitted signal.Signal[Change]
}

// New creates a disabled output. It is advertised once a commit enables it.
func New(display *server.Display) *Output {
	o := &Output{
		display: display,
		log:     logger.With("component", "output"),
	}
	o.pending = State{CurrentMode: NoMode, Scale: 1}
	o.published = o.pending.clone()
	return o
}

// Pending returns a copy of the pending state.
func (o *Output) Pending() State {
	return o.pending.clone()
}

// Published returns a copy of the state peers have seen.
func (o *Output) Published() State {
	return o.published.clone()
}

// Global returns the current advertisement, zero while disabled.
func (o *Output) Global() server.GlobalHandle {
	return o.global
}

// Resources returns the live wl_output bindings.
func (o *Output) Resources() []*server.Resource {
	out := make([]*server.Resource, len(o.resources))
	copy(out, o.resources)
	return out
}

// ResourceFor returns the wl_output bound by session s, if any.
func (o *Output) ResourceFor(s *server.Session) (*server.Resource, bool) {
	for _, r := range o.resources {
		if r.Session() == s {
			return r, true
		}
	}
	return nil, false
}

// OnCommitted subscribes to commits that changed something.
func (o *Output) OnCommitted(fn func(Change)) (cancel func()) {
	return o.onCommitted.Subscribe(fn)
}

func (o *Output) SetGeometry(pos Position, physical Size, subpixel Subpixel, manufacturer, model string, transform Transform) {
	o.pending.Position = pos
	o.pending.PhysicalSize = physical
	o.pending.Subpixel = subpixel
	o.pending.Make = manufacturer
	o.pending.Model = model
	o.pending.Transform = transform
}

func (o *Output) SetPosition(pos Position) {
	o.pending.Position = pos
}

func (o *Output) SetTransform(t Transform) {
	o.pending.Transform = t
}

// SetModes replaces the mode list. The current mode is kept if it still
// exists, otherwise the preferred mode (or none) becomes current.
func (o *Output) SetModes(modes []Mode) {
	o.pending.Modes = append([]Mode(nil), modes...)
	if _, ok := o.pending.Current(); ok {
		return
	}
	o.pending.CurrentMode = NoMode
	for _, m := range modes {
		if m.Preferred {
			o.pending.CurrentMode = m.ID
			return
		}
	}
}

// SetMode selects the current mode by id. Unknown ids are ignored.
func (o *Output) SetMode(id int) bool {
	for _, m := range o.pending.Modes {
		if m.ID == id {
			o.pending.CurrentMode = id
			return true
		}
	}
	o.log.Warn("Ignoring unknown mode", "mode", id, "output", o.pending.Name)
	return false
}

func (o *Output) SetLogicalSize(size Size) {
	o.pending.LogicalSize = size
}

// SetScale overrides the derived client scale. Zero restores derivation.
func (o *Output) SetScale(scale int32) {
	if scale < 0 {
		scale = 0
	}
	o.pending.ScaleOverride = scale
}

func (o *Output) SetName(name string) {
	o.pending.Name = name
}

func (o *Output) SetDescription(description string) {
	o.pending.Description = description
}

func (o *Output) SetEnabled(enabled bool) {
	o.pending.Enabled = enabled
}

// Done is an alias for Commit.
func (o *Output) Done() Change {
	return o.Commit()
}

// Commit publishes the pending state and returns what changed. Inputs
// that no peer sees, such as the logical size, are published even when
// no event is sent.
func (o *Output) Commit() Change {
	o.pending.Scale = deriveScale(o.pending)
	changes := diff(o.published, o.pending)
	next := o.pending.clone()
	o.published = next
	if changes == 0 {
		return 0
	}

	for _, r := range o.Resources() {
		if r.Destroyed() {
			continue
		}
		if sendChanges(r, next, changes) {
			r.PostEventSince(2, EventDone)
			r.Session().Flush()
		}
	}

	if changes.Has(ChangeEnabled) {
		if next.Enabled {
			o.global = o.display.Advertise(InterfaceName, Version, server.BindFunc(o.bind))
			o.log.Info("Output enabled", "name", next.Name)
		} else {
			o.display.Unadvertise(o.global)
			o.global = server.GlobalHandle{}
			o.log.Info("Output disabled", "name", next.Name)
		}
	}

	o.onCommitted.Emit(changes)
	return changes
}

// Destroy unadvertises the output. Existing bindings stay usable.
func (o *Output) Destroy() {
	if !o.global.IsZero() {
		o.display.Unadvertise(o.global)
		o.global = server.GlobalHandle{}
	}
}

// sendChanges sends the events for changes that r can see and reports
// whether anything was sent.
func sendChanges(r *server.Resource, s State, changes Change) bool {
	sent := false
	if changes.Has(ChangeGeometry) {
		sendGeometry(r, s)
		sent = true
	}
	switch {
	case changes.Has(ChangeModes):
		sendModes(r, s)
		sent = true
	case changes.Has(ChangeCurrentMode):
		if m, ok := s.Current(); ok {
			sendMode(r, m, true)
			sent = true
		}
	}
	if changes.Has(ChangeScale) && r.PostEventSince(2, EventScale, s.Scale) {
		sent = true
	}
	if changes.Has(ChangeName) && r.PostEventSince(4, EventName, s.Name) {
		sent = true
	}
	if changes.Has(ChangeDescription) && r.PostEventSince(4, EventDescription, s.Description) {
		sent = true
	}
	return sent
}

func sendGeometry(r *server.Resource, s State) {
	r.PostEvent(EventGeometry,
		s.Position.X, s.Position.Y,
		s.PhysicalSize.Width, s.PhysicalSize.Height,
		int32(s.Subpixel), s.Make, s.Model, int32(s.Transform))
}

func sendModes(r *server.Resource, s State) {
	for _, m := range s.Modes {
		sendMode(r, m, m.ID == s.CurrentMode)
	}
}

func sendMode(r *server.Resource, m Mode, current bool) {
	var flags uint32
	if current {
		flags |= ModeCurrent
	}
	if m.Preferred {
		flags |= ModePreferred
	}
	r.PostEvent(EventMode, flags, m.Size.Width, m.Size.Height, m.Refresh)
}

func (o *Output) bind(r *server.Resource) error {
	r.SetHandler(&binding{output: o})
	o.resources = append(o.resources, r)

	s := o.published
	sendGeometry(r, s)
	sendModes(r, s)
	r.PostEventSince(2, EventScale, s.Scale)
	if s.Name != "" {
		r.PostEventSince(4, EventName, s.Name)
	}
	if s.Description != "" {
		r.PostEventSince(4, EventDescription, s.Description)
	}
	r.PostEventSince(2, EventDone)
	return nil
}

func (o *Output) removeResource(r *server.Resource) {
	for i, res := range o.resources {
		if res == r {
			o.resources = append(o.resources[:i], o.resources[i+1:]...)
			return
		}
	}
}

// binding is the handler of one wl_output resource.
type binding struct {
	output *Output
}

func (b *binding) HandleRequest(r *server.Resource, msg protocol.Message) error {
	if msg.Opcode == opRelease && r.Version() >= 3 {
		r.Destroy()
		return nil
	}
	return server.UnknownOpcode(r, msg.Opcode)
}

func (b *binding) ResourceDestroyed(r *server.Resource) {
	b.output.removeResource(r)
}

// FromResource returns the output behind a wl_output resource.
func FromResource(r *server.Resource) (*Output, bool) {
	if r == nil {
		return nil, false
	}
	b, ok := r.Handler().(*binding)
	if !ok {
		return nil, false
	}
	return b.output, true
}
