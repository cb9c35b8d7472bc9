// Package textinput implements zwp_text_input_manager_v2 and
// zwp_text_input_manager_v3 together with their text-input devices.
//
// Devices register with the seat they were created for; the seat decides
// which device of each version is entered.
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
	// ManagerV2Interface is the zwp_text_input_manager_v2 interface name.
	ManagerV2Interface = "zwp_text_input_manager_v2"
	// ManagerV2Version is the highest manager version implemented.
	ManagerV2Version = 1

	textInputV2Interface = "zwp_text_input_v2"
)

// Manager requests, shared by both versions.
const (
	opManagerDestroy      uint16 = 0
	opManagerGetTextInput uint16 = 1
)

// zwp_text_input_v2 requests.
const (
	opV2Destroy              uint16 = 0
	opV2Enable               uint16 = 1
	opV2Disable              uint16 = 2
	opV2ShowInputPanel       uint16 = 3
	opV2HideInputPanel       uint16 = 4
	opV2SetSurroundingText   uint16 = 5
	opV2SetContentType       uint16 = 6
	opV2SetCursorRectangle   uint16 = 7
	opV2SetPreferredLanguage uint16 = 8
	opV2UpdateState          uint16 = 9
)

// zwp_text_input_v2 events.
const (
	EventV2Enter                 uint16 = 0
	EventV2Leave                 uint16 = 1
	EventV2InputPanelState       uint16 = 2
	EventV2PreeditString         uint16 = 3
	EventV2PreeditStyling        uint16 = 4
	EventV2PreeditCursor         uint16 = 5
	EventV2CommitString          uint16 = 6
	EventV2CursorPosition        uint16 = 7
	EventV2DeleteSurroundingText uint16 = 8
	EventV2ModifiersMap          uint16 = 9
	EventV2Keysym                uint16 = 10
	EventV2Language              uint16 = 11
	EventV2TextDirection         uint16 = 12
)

// UpdateReason is the zwp_text_input_v2.update_state reason enum.
type UpdateReason uint32

const (
	UpdateReasonChange UpdateReason = iota
	UpdateReasonFull
	UpdateReasonReset
	UpdateReasonEnter
)

// SurroundingText is the text around the cursor as reported by a client.
type SurroundingText struct {
	Text   string
	Cursor int32
	Anchor int32
}

// ContentType carries the content hint and purpose.
type ContentType struct {
	Hint    uint32
	Purpose uint32
}

// Rect is a cursor rectangle in surface-local coordinates.
type Rect struct {
	X, Y, Width, Height int32
}

// StateUpdate is emitted on zwp_text_input_v2.update_state.
type StateUpdate struct {
	Serial uint32
	Reason UpdateReason
}

// ManagerV2 is the zwp_text_input_manager_v2 advertisement.
type ManagerV2 struct {
	display *server.Display
	log     *log.Logger
	global  server.GlobalHandle

	onTextInput signal.Signal[*TextInputV2]
}

// NewManagerV2 advertises zwp_text_input_manager_v2 on display.
func NewManagerV2(display *server.Display) *ManagerV2 {
	m := &ManagerV2{display: display, log: logger.With("component", "textinput", "version", "v2")}
	m.global = display.Advertise(ManagerV2Interface, ManagerV2Version, server.BindFunc(m.bind))
	return m
}

// Global returns the advertisement handle.
func (m *ManagerV2) Global() server.GlobalHandle {
	return m.global
}

// OnTextInput subscribes to newly created devices.
func (m *ManagerV2) OnTextInput(fn func(*TextInputV2)) (cancel func()) {
	return m.onTextInput.Subscribe(fn)
}

func (m *ManagerV2) bind(r *server.Resource) error {
	r.SetHandler(server.HandlerFunc(m.handleRequest))
	return nil
}

func (m *ManagerV2) handleRequest(r *server.Resource, msg protocol.Message) error {
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
		ti := &TextInputV2{manager: m, seat: st}
		res, err := r.Session().NewChild(r, id, textInputV2Interface, ti)
		if err != nil {
			return err
		}
		ti.resource = res
		m.log.Debug("Text input created", "session", r.Session().ID(), "seat", st.Name())
		if err := st.RegisterTextInput(seat.TextInputV2, ti); err != nil {
			return err
		}
		m.onTextInput.Emit(ti)
		return nil

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
}

// TextInputV2 is a zwp_text_input_v2 device. Its requests take effect
// immediately; update_state marks a consistent point.
type TextInputV2 struct {
	manager  *ManagerV2
	seat     *seat.Seat
	resource *server.Resource

	focused        *compositor.Surface
	enabledSurface *compositor.Surface
	panelVisible   bool

	surrounding SurroundingText
	contentType ContentType
	cursorRect  Rect
	language    string

	onEnabledChanged signal.Signal[*TextInputV2]
	onStateUpdated   signal.Signal[StateUpdate]
}

var _ seat.TextInput = (*TextInputV2)(nil)

// Resource returns the zwp_text_input_v2 resource.
func (t *TextInputV2) Resource() *server.Resource {
	return t.resource
}

// Session implements seat.TextInput.
func (t *TextInputV2) Session() *server.Session {
	return t.resource.Session()
}

// Enter implements seat.TextInput.
func (t *TextInputV2) Enter(surface *compositor.Surface) {
	t.focused = surface
	t.resource.PostEvent(EventV2Enter, t.manager.display.NextSerial(), surface.Resource().ID())
	t.resource.Session().Flush()
}

// Leave implements seat.TextInput.
func (t *TextInputV2) Leave(surface *compositor.Surface) {
	t.focused = nil
	t.resource.PostEvent(EventV2Leave, t.manager.display.NextSerial(), surface.Resource().ID())
	t.resource.Session().Flush()
}

// Focused returns the surface the device was last entered on.
func (t *TextInputV2) Focused() *compositor.Surface {
	return t.focused
}

// Enabled reports whether the client enabled text input on the focused
// surface.
func (t *TextInputV2) Enabled() bool {
	return t.enabledSurface != nil && t.enabledSurface == t.focused
}

func (t *TextInputV2) PanelVisible() bool { return t.panelVisible }
func (t *TextInputV2) SurroundingText() SurroundingText { return t.surrounding }
func (t *TextInputV2) ContentType() ContentType { return t.contentType }
func (t *TextInputV2) CursorRectangle() Rect { return t.cursorRect }
func (t *TextInputV2) PreferredLanguage() string { return t.language }

// OnEnabledChanged subscribes to enable and disable requests.
func (t *TextInputV2) OnEnabledChanged(fn func(*TextInputV2)) (cancel func()) {
	return t.onEnabledChanged.Subscribe(fn)
}

// OnStateUpdated subscribes to update_state requests.
func (t *TextInputV2) OnStateUpdated(fn func(StateUpdate)) (cancel func()) {
	return t.onStateUpdated.Subscribe(fn)
}

func (t *TextInputV2) SendPreeditString(text, commit string) {
	t.resource.PostEvent(EventV2PreeditString, text, commit)
}

func (t *TextInputV2) SendPreeditCursor(index int32) {
	t.resource.PostEvent(EventV2PreeditCursor, index)
}

func (t *TextInputV2) SendCommitString(text string) {
	t.resource.PostEvent(EventV2CommitString, text)
	t.resource.Session().Flush()
}

func (t *TextInputV2) SendDeleteSurroundingText(before, after uint32) {
	t.resource.PostEvent(EventV2DeleteSurroundingText, before, after)
}

func (t *TextInputV2) SendKeysym(time, sym, state, modifiers uint32) {
	t.resource.PostEvent(EventV2Keysym, time, sym, state, modifiers)
	t.resource.Session().Flush()
}

// SendInputPanelState reports panel visibility and its rectangle.
func (t *TextInputV2) SendInputPanelState(visible bool, rect Rect) {
	var state uint32
	if visible {
		state = 1
	}
	t.resource.PostEvent(EventV2InputPanelState, state, rect.X, rect.Y, rect.Width, rect.Height)
	t.resource.Session().Flush()
}

func (t *TextInputV2) SendLanguage(language string) {
	t.resource.PostEvent(EventV2Language, language)
	t.resource.Session().Flush()
}

func (t *TextInputV2) HandleRequest(r *server.Resource, msg protocol.Message) error {
	args := msg.Args.Reader()
	switch msg.Opcode {
	case opV2Destroy:
		r.Destroy()

	case opV2Enable, opV2Disable:
		id := args.Object()
		if err := args.Err(); err != nil {
			return err
		}
		surface, ok := compositor.Lookup(r, id)
		if !ok {
			return server.InvalidObject(r, "wl_surface@%d does not exist", id)
		}
		if msg.Opcode == opV2Enable {
			t.enabledSurface = surface
		} else if t.enabledSurface == surface {
			t.enabledSurface = nil
		}
		t.onEnabledChanged.Emit(t)

	case opV2ShowInputPanel:
		t.panelVisible = true
	case opV2HideInputPanel:
		t.panelVisible = false

	case opV2SetSurroundingText:
		st := SurroundingText{Text: args.String(), Cursor: args.Int(), Anchor: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		t.surrounding = st

	case opV2SetContentType:
		ct := ContentType{Hint: args.Uint(), Purpose: args.Uint()}
		if err := args.Err(); err != nil {
			return err
		}
		t.contentType = ct

	case opV2SetCursorRectangle:
		rect := Rect{X: args.Int(), Y: args.Int(), Width: args.Int(), Height: args.Int()}
		if err := args.Err(); err != nil {
			return err
		}
		t.cursorRect = rect

	case opV2SetPreferredLanguage:
		t.language = args.String()
		return args.Err()

	case opV2UpdateState:
		u := StateUpdate{Serial: args.Uint(), Reason: UpdateReason(args.Uint())}
		if err := args.Err(); err != nil {
			return err
		}
		t.onStateUpdated.Emit(u)

	default:
		return server.UnknownOpcode(r, msg.Opcode)
	}
	return nil
}

func (t *TextInputV2) ResourceDestroyed(r *server.Resource) {
	t.seat.UnregisterTextInput(seat.TextInputV2, t)
}
