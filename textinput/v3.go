package textinput

import (
	"github.com/charmbracelet/log"

	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/seat"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

const (
	// ManagerV3Interface is the zwp_text_input_manager_v3 interface name.
	ManagerV3Interface = "zwp_text_input_manager_v3"
	// ManagerV3Version is the highest manager version implemented.
	ManagerV3Version = 1

	textInputV3Interface = "zwp_text_input_v3"
)

// zwp_text_input_v3 requests.
const (
	opV3Destroy            uint16 = 0
	opV3Enable             uint16 = 1
	opV3Disable            uint16 = 2
	opV3SetSurroundingText uint16 = 3
	opV3SetTextChangeCause uint16 = 4
	opV3SetContentType     uint16 = 5
	opV3SetCursorRectangle uint16 = 6
	opV3Commit             uint16 = 7
)

// zwp_text_input_v3 events.
const (
	EventV3Enter                 uint16 = 0
	EventV3Leave                 uint16 = 1
	EventV3PreeditString         uint16 = 2
	EventV3CommitString          uint16 = 3
	EventV3DeleteSurroundingText uint16 = 4
	EventV3Done                  uint16 = 5
)

// ChangeCause is the zwp_text_input_v3.change_cause enum.
type ChangeCause uint32

const (
	ChangeCauseInputMethod ChangeCause = iota
	ChangeCauseOther
)

// StateV3 is the double-buffered state of a zwp_text_input_v3.
type StateV3 struct {
	Enabled         bool
	SurroundingText SurroundingText
	ChangeCause     ChangeCause
	ContentType     ContentType
	CursorRectangle Rect
}

// ManagerV3 is the zwp_text_input_manager_v3 advertisement.
type ManagerV3 struct {
	display *server.Display
	log     *log.Logger
	global  server.GlobalHandle

	onTextInput signal.Signal[*TextInputV3]
}

// NewManagerV3 advertises zwp_text_input_manager_v3 on display.
func NewManagerV3(display *server.Display) *ManagerV3 {
	m := &ManagerV3{display: display, log: logger.With("component", "textinput", "version", "v3")}
	m.global = display.Advertise(ManagerV3Interface, ManagerV3Version, server.BindFunc(m.bind))
	return m
}

// Global returns the advertisement handle.
func (m *ManagerV3) Global() server.GlobalHandle {
	return m.global
}

// OnTextInput subscribes to newly created devices.
func (m *ManagerV3) OnTextInput(fn func(*TextInputV3)) (cancel func()) {
	return m.onTextInput.Subscribe(fn)
}

func (m *ManagerV3) bind(r *server.Resource) error {
	r.SetHandler(server.HandlerFunc(m.handleRequest))
	return nil
}

func (m *ManagerV3) handleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opManagerDestroy:
		r.Destroy()
		return nil

	case opManagerGetTextInput:
		id := args.NewID()
		seatID := args.Object()
		if err := args.Err(); err != nil {
			return err
		}
		st, ok := seat.Lookup(r, seatID)
		if !ok {
			return server.InvalidObject(r, "get_text_input: wl_seat@%d does not exist", seatID)
		}
		ti := &TextInputV3{seat: st, pending: StateV3{ChangeCause: ChangeCauseInputMethod}}
		res, err := r.Session().NewChild(r, id, textInputV3Interface, ti)
		if err != nil {
			return err
		}
		ti.resource = res
		m.log.Debug("Text input created", "session", r.Session().ID(), "seat", st.Name())
		if err := st.RegisterTextInput(seat.TextInputV3, ti); err != nil {
			return err
		}
		m.onTextInput.Emit(ti)
		return nil

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
}

// TextInputV3 is a zwp_text_input_v3 device. Requests update pending
// state; commit applies it and counts the commit. done carries the number
// of commits seen so the client can match it against its own state.
type TextInputV3 struct {
	seat     *seat.Seat
	resource *server.Resource

	focused *compositor.Surface

	pending StateV3
	current StateV3
	commits uint32

	onCommitted signal.Signal[*TextInputV3]
}

var _ seat.TextInput = (*TextInputV3)(nil)

// Resource returns the zwp_text_input_v3 resource.
func (t *TextInputV3) Resource() *server.Resource {
	return t.resource
}

// Session implements seat.TextInput.
func (t *TextInputV3) Session() *server.Session {
	return t.resource.Session()
}

// Enter implements seat.TextInput.
func (t *TextInputV3) Enter(surface *compositor.Surface) {
	t.focused = surface
	t.resource.PostEvent(EventV3Enter, surface.Resource().ID())
	t.resource.Session().Flush()
}

// Leave implements seat.TextInput. Leaving disables the device until the
// client enables it again.
func (t *TextInputV3) Leave(surface *compositor.Surface) {
	t.focused = nil
	t.current.Enabled = false
	t.resource.PostEvent(EventV3Leave, surface.Resource().ID())
	t.resource.Session().Flush()
}

// Focused returns the surface the device is entered on, or nil.
func (t *TextInputV3) Focused() *compositor.Surface {
	return t.focused
}

// Current returns the committed state.
func (t *TextInputV3) Current() StateV3 {
	return t.current
}

// Commits returns how many commit requests were received.
func (t *TextInputV3) Commits() uint32 {
	return t.commits
}

// OnCommitted subscribes to applied state.
func (t *TextInputV3) OnCommitted(fn func(*TextInputV3)) (cancel func()) {
	return t.onCommitted.Subscribe(fn)
}

// SendPreeditString queues a pre-edit string. An empty text clears it.
func (t *TextInputV3) SendPreeditString(text string, cursorBegin, cursorEnd int32) {
	t.resource.PostEvent(EventV3PreeditString, text, cursorBegin, cursorEnd)
}

func (t *TextInputV3) SendCommitString(text string) {
	t.resource.PostEvent(EventV3CommitString, text)
}

func (t *TextInputV3) SendDeleteSurroundingText(before, after uint32) {
	t.resource.PostEvent(EventV3DeleteSurroundingText, before, after)
}

// Done applies the queued events on the client side and returns the
// serial sent with it.
func (t *TextInputV3) Done() uint32 {
	t.resource.PostEvent(EventV3Done, t.commits)
	t.resource.Session().Flush()
	return t.commits
}

func (t *TextInputV3) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opV3Destroy:
		r.Destroy()

	case opV3Enable:
		// enable resets every other pending field.
		t.pending = StateV3{Enabled: true, ChangeCause: ChangeCauseInputMethod}

	case opV3Disable:
		t.pending.Enabled = false

	case opV3SetSurroundingText:
		st := SurroundingText{Text: args.String(), Cursor: args.Int(), Anchor: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		t.pending.SurroundingText = st

	case opV3SetTextChangeCause:
		cause := ChangeCause(args.Uint())
		if err := args.Err(); err != nil {
			return err
		}
		t.pending.ChangeCause = cause

	case opV3SetContentType:
		ct := ContentType{Hint: args.Uint(), Purpose: args.Uint()}
		if err := args.Err(); err != nil {
			return err
		}
		t.pending.ContentType = ct

	case opV3SetCursorRectangle:
		rect := Rect{X: args.Int(), Y: args.Int(), Width: args.Int(), Height: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		t.pending.CursorRectangle = rect

	case opV3Commit:
		t.current = t.pending
		t.pending.ChangeCause = ChangeCauseInputMethod
		t.commits++
		t.onCommitted.Emit(t)

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
	return nil
}

func (t *TextInputV3) ResourceDestroyed(r *server.Resource) {
	t.seat.UnregisterTextInput(seat.TextInputV3, t)
}
