package textinput

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/internal/wltest"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/seat"
	"github.com/bnema/wayrt/server"
)

const wlCompositorCreateSurface uint16 = 0

type fixture struct {
	display *server.Display
	seat    *seat.Seat
	v2      *ManagerV2
	v3      *ManagerV3
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, _ := wltest.NewDisplay()
	compositor.New(d)
	return &fixture{display: d, seat: seat.New(d, ""), v2: NewManagerV2(d), v3: NewManagerV3(d)}
}

type client struct {
	peer    *wltest.Peer
	seat    protocol.ObjectID
	surface *compositor.Surface
}

func (f *fixture) connect(t *testing.T) *client {
	t.Helper()
	p, err := wltest.NewPeer(f.display, server.Credentials{})
	require.NoError(t, err)
	comp, ok := p.BindInterface(compositor.InterfaceName, 4)
	require.True(t, ok)
	st, ok := p.BindInterface(seat.InterfaceName, seat.Version)
	require.True(t, ok)

	id := p.AllocID()
	p.Request(comp, wlCompositorCreateSurface, id)
	res, ok := p.Session.Resource(id)
	require.True(t, ok)
	s, ok := compositor.FromResource(res)
	require.True(t, ok)
	return &client{peer: p, seat: st, surface: s}
}

func (c *client) textInput(t *testing.T, manager string) protocol.ObjectID {
	t.Helper()
	mgr, ok := c.peer.BindInterface(manager, 1)
	require.True(t, ok)
	id := c.peer.AllocID()
	c.peer.Request(mgr, opManagerGetTextInput, id, c.seat)
	require.Empty(t, c.peer.Conn.Errors())
	return id
}

func TestV3FocusEntersAndLeaves(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)

	var created *TextInputV3
	f.v3.OnTextInput(func(ti *TextInputV3) { created = ti })
	id := c.textInput(t, ManagerV3Interface)
	require.NotNil(t, created)
	assert.Len(t, f.seat.TextInputs(seat.TextInputV3), 1)

	f.seat.SetFocusedTextInputSurface(c.surface)
	events := c.peer.Conn.EventsFor(id)
	require.Len(t, events, 1)
	assert.Equal(t, EventV3Enter, events[0].Opcode)
	assert.Equal(t, c.surface.Resource().ID(), events[0].Args[0])
	assert.Same(t, c.surface, created.Focused())
	assert.Equal(t, seat.TextInput(created), f.seat.FocusedTextInput(seat.TextInputV3))

	f.seat.SetFocusedTextInputSurface(nil)
	assert.Equal(t, []uint16{EventV3Enter, EventV3Leave}, c.peer.Conn.Opcodes(id))
	assert.Nil(t, created.Focused())
}

func TestV3CreatedWhileFocusedIsEntered(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	f.seat.SetFocusedTextInputSurface(c.surface)

	id := c.textInput(t, ManagerV3Interface)
	assert.Equal(t, []uint16{EventV3Enter}, c.peer.Conn.Opcodes(id))
}

func TestV3DoubleBufferedState(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	var ti *TextInputV3
	f.v3.OnTextInput(func(x *TextInputV3) { ti = x })
	id := c.textInput(t, ManagerV3Interface)
	require.NotNil(t, ti)

	var applied []StateV3
	ti.OnCommitted(func(x *TextInputV3) { applied = append(applied, x.Current()) })

	c.peer.Request(id, opV3Enable)
	c.peer.Request(id, opV3SetSurroundingText, "hello", int32(5), int32(5))
	c.peer.Request(id, opV3SetContentType, uint32(0x1), uint32(2))
	c.peer.Request(id, opV3SetCursorRectangle, int32(1), int32(2), int32(3), int32(4))
	assert.False(t, ti.Current().Enabled, "nothing applies before commit")

	c.peer.Request(id, opV3Commit)
	require.Empty(t, c.peer.Conn.Errors())
	require.Len(t, applied, 1)
	assert.Equal(t, StateV3{
		Enabled:         true,
		SurroundingText: SurroundingText{Text: "hello", Cursor: 5, Anchor: 5},
		ContentType:     ContentType{Hint: 1, Purpose: 2},
		CursorRectangle: Rect{X: 1, Y: 2, Width: 3, Height: 4},
	}, applied[0])
	assert.Equal(t, uint32(1), ti.Commits())

	t.Run("enable resets pending state", func(t *testing.T) {
		c.peer.Request(id, opV3Enable)
		c.peer.Request(id, opV3Commit)
		assert.Equal(t, StateV3{Enabled: true}, ti.Current())
		assert.Equal(t, uint32(2), ti.Commits())
	})

	t.Run("change cause resets after commit", func(t *testing.T) {
		c.peer.Request(id, opV3SetTextChangeCause, uint32(ChangeCauseOther))
		c.peer.Request(id, opV3Commit)
		assert.Equal(t, ChangeCauseOther, ti.Current().ChangeCause)
		c.peer.Request(id, opV3Commit)
		assert.Equal(t, ChangeCauseInputMethod, ti.Current().ChangeCause)
	})

	t.Run("disable", func(t *testing.T) {
		c.peer.Request(id, opV3Disable)
		c.peer.Request(id, opV3Commit)
		assert.False(t, ti.Current().Enabled)
	})
}

func TestV3DoneCarriesCommitCount(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	var ti *TextInputV3
	f.v3.OnTextInput(func(x *TextInputV3) { ti = x })
	id := c.textInput(t, ManagerV3Interface)

	c.peer.Request(id, opV3Commit)
	c.peer.Request(id, opV3Commit)
	c.peer.Request(id, opV3Commit)

	ti.SendPreeditString("wor", 3, 3)
	ti.SendCommitString("word")
	ti.SendDeleteSurroundingText(1, 0)
	assert.Equal(t, uint32(3), ti.Done())

	assert.Equal(t, []uint16{
		EventV3PreeditString,
		EventV3CommitString,
		EventV3DeleteSurroundingText,
		EventV3Done,
	}, c.peer.Conn.Opcodes(id))
	events := c.peer.Conn.EventsFor(id)
	assert.Equal(t, uint32(3), events[3].Args[0])
}

func TestV3LeaveDisables(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	var ti *TextInputV3
	f.v3.OnTextInput(func(x *TextInputV3) { ti = x })
	id := c.textInput(t, ManagerV3Interface)

	f.seat.SetFocusedTextInputSurface(c.surface)
	c.peer.Request(id, opV3Enable)
	c.peer.Request(id, opV3Commit)
	require.True(t, ti.Current().Enabled)

	f.seat.SetFocusedTextInputSurface(nil)
	assert.False(t, ti.Current().Enabled)
}

func TestV2Requests(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	var ti *TextInputV2
	f.v2.OnTextInput(func(x *TextInputV2) { ti = x })
	id := c.textInput(t, ManagerV2Interface)
	require.NotNil(t, ti)

	f.seat.SetFocusedTextInputSurface(c.surface)
	events := c.peer.Conn.EventsFor(id)
	require.Len(t, events, 1)
	assert.Equal(t, EventV2Enter, events[0].Opcode)
	assert.Equal(t, c.surface.Resource().ID(), events[0].Args[1])

	var enabled int
	ti.OnEnabledChanged(func(*TextInputV2) { enabled++ })
	var updates []StateUpdate
	ti.OnStateUpdated(func(u StateUpdate) { updates = append(updates, u) })

	surfaceID := c.surface.Resource().ID()
	c.peer.Request(id, opV2Enable, surfaceID)
	c.peer.Request(id, opV2ShowInputPanel)
	c.peer.Request(id, opV2SetSurroundingText, "abc", int32(1), int32(2))
	c.peer.Request(id, opV2SetContentType, uint32(4), uint32(5))
	c.peer.Request(id, opV2SetCursorRectangle, int32(10), int32(20), int32(1), int32(16))
	c.peer.Request(id, opV2SetPreferredLanguage, "fr")
	c.peer.Request(id, opV2UpdateState, uint32(7), uint32(UpdateReasonFull))
	require.Empty(t, c.peer.Conn.Errors())

	assert.True(t, ti.Enabled())
	assert.Equal(t, 1, enabled)
	assert.True(t, ti.PanelVisible())
	assert.Equal(t, SurroundingText{Text: "abc", Cursor: 1, Anchor: 2}, ti.SurroundingText())
	assert.Equal(t, ContentType{Hint: 4, Purpose: 5}, ti.ContentType())
	assert.Equal(t, Rect{X: 10, Y: 20, Width: 1, Height: 16}, ti.CursorRectangle())
	assert.Equal(t, "fr", ti.PreferredLanguage())
	assert.Equal(t, []StateUpdate{{Serial: 7, Reason: UpdateReasonFull}}, updates)

	c.peer.Request(id, opV2HideInputPanel)
	c.peer.Request(id, opV2Disable, surfaceID)
	assert.False(t, ti.PanelVisible())
	assert.False(t, ti.Enabled())
	assert.Equal(t, 2, enabled)

	t.Run("events", func(t *testing.T) {
		c.peer.Conn.Reset()
		ti.SendPreeditString("a", "a")
		ti.SendPreeditCursor(1)
		ti.SendCommitString("ab")
		ti.SendKeysym(0, 0xff0d, 1, 0)
		ti.SendInputPanelState(true, Rect{Width: 100, Height: 50})
		ti.SendLanguage("de")
		assert.Equal(t, []uint16{
			EventV2PreeditString,
			EventV2PreeditCursor,
			EventV2CommitString,
			EventV2Keysym,
			EventV2InputPanelState,
			EventV2Language,
		}, c.peer.Conn.Opcodes(id))
		panel := c.peer.Conn.EventsFor(id)[4]
		assert.Equal(t, uint32(1), panel.Args[0])
	})

	t.Run("enable on unknown surface", func(t *testing.T) {
		c.peer.Request(id, opV2Enable, protocol.ObjectID(999))
		errs := c.peer.Conn.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, id, errs[0].Args[0])
		assert.Equal(t, protocol.ErrorInvalidObject, errs[0].Args[1])
	})
}

func TestV2EnabledFollowsFocus(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	var ti *TextInputV2
	f.v2.OnTextInput(func(x *TextInputV2) { ti = x })
	id := c.textInput(t, ManagerV2Interface)

	c.peer.Request(id, opV2Enable, c.surface.Resource().ID())
	assert.False(t, ti.Enabled(), "not entered yet")

	f.seat.SetFocusedTextInputSurface(c.surface)
	assert.True(t, ti.Enabled())
}

func TestDestroyUnregisters(t *testing.T) {
	tests := []struct {
		name    string
		manager string
		version seat.TextInputVersion
		destroy uint16
	}{
		{"v2", ManagerV2Interface, seat.TextInputV2, opV2Destroy},
		{"v3", ManagerV3Interface, seat.TextInputV3, opV3Destroy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			c := f.connect(t)
			id := c.textInput(t, tt.manager)

			var changes []seat.FocusedTextInput
			f.seat.OnFocusedTextInputChanged(func(x seat.FocusedTextInput) { changes = append(changes, x) })
			f.seat.SetFocusedTextInputSurface(c.surface)
			require.NotNil(t, f.seat.FocusedTextInput(tt.version))

			c.peer.Request(id, tt.destroy)
			assert.Nil(t, f.seat.FocusedTextInput(tt.version))
			assert.Empty(t, f.seat.TextInputs(tt.version))
			assert.Len(t, changes, 2)
		})
	}
}

func TestGetTextInputUnknownSeat(t *testing.T) {
	f := newFixture(t)
	c := f.connect(t)
	mgr, ok := c.peer.BindInterface(ManagerV3Interface, 1)
	require.True(t, ok)

	c.peer.Request(mgr, opManagerGetTextInput, c.peer.AllocID(), protocol.ObjectID(500))
	errs := c.peer.Conn.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, mgr, errs[0].Args[0])
	assert.Empty(t, f.seat.TextInputs(seat.TextInputV3))
}

func TestSessionSwitchBetweenVersions(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t)
	b := f.connect(t)
	idA := a.textInput(t, ManagerV2Interface)
	idB := b.textInput(t, ManagerV3Interface)

	f.seat.SetFocusedTextInputSurface(a.surface)
	f.seat.SetFocusedTextInputSurface(b.surface)

	assert.Equal(t, []uint16{EventV2Enter, EventV2Leave}, a.peer.Conn.Opcodes(idA))
	assert.Equal(t, []uint16{EventV3Enter}, b.peer.Conn.Opcodes(idB))
	assert.Nil(t, f.seat.FocusedTextInput(seat.TextInputV2))
}
