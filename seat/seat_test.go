package seat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wayrt/compositor"
	"github.com/bnema/wayrt/eventloop"
	"github.com/bnema/wayrt/internal/wltest"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
)

const wlCompositorCreateSurface uint16 = 0

type fakeInput struct {
	name    string
	session *server.Session
	journal *[]string
}

func (f *fakeInput) Session() *server.Session { return f.session }

func (f *fakeInput) Enter(s *compositor.Surface) {
	*f.journal = append(*f.journal, fmt.Sprintf("%s enter %d", f.name, s.Resource().ID()))
}

func (f *fakeInput) Leave(s *compositor.Surface) {
	*f.journal = append(*f.journal, fmt.Sprintf("%s leave %d", f.name, s.Resource().ID()))
}

type fixture struct {
	display *server.Display
	loop    *eventloop.Manual
	comp    *compositor.Compositor
	seat    *Seat

	journal []string
	changes []FocusedTextInput
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	d, loop := wltest.NewDisplay()
	f := &fixture{display: d, loop: loop, comp: compositor.New(d), seat: New(d, "")}
	f.seat.OnFocusedTextInputChanged(func(c FocusedTextInput) { f.changes = append(f.changes, c) })
	return f
}

// client connects a peer and creates one surface for it.
func (f *fixture) client(t *testing.T) (*wltest.Peer, *compositor.Surface) {
	t.Helper()
	p, err := wltest.NewPeer(f.display, server.Credentials{})
	require.NoError(t, err)
	comp, ok := p.BindInterface(compositor.InterfaceName, 4)
	require.True(t, ok)

	id := p.AllocID()
	p.Request(comp, wlCompositorCreateSurface, id)
	res, ok := p.Session.Resource(id)
	require.True(t, ok)
	s, ok := compositor.FromResource(res)
	require.True(t, ok)
	return p, s
}

func (f *fixture) input(name string, p *wltest.Peer) *fakeInput {
	return &fakeInput{name: name, session: p.Session, journal: &f.journal}
}

func TestFocusSwitchAcrossVersions(t *testing.T) {
	f := newFixture(t)
	pa, sa := f.client(t)
	pb, sb := f.client(t)
	a := f.input("a2", pa)
	b := f.input("b3", pb)
	require.NoError(t, f.seat.RegisterTextInput(TextInputV2, a))
	require.NoError(t, f.seat.RegisterTextInput(TextInputV3, b))

	f.seat.SetFocusedTextInputSurface(sa)
	assert.Equal(t, []string{fmt.Sprintf("a2 enter %d", sa.Resource().ID())}, f.journal)
	require.Len(t, f.changes, 1)
	assert.Equal(t, TextInput(a), f.changes[0].V2)
	assert.Nil(t, f.changes[0].V3)

	f.journal = nil
	f.seat.SetFocusedTextInputSurface(sb)
	assert.Equal(t, []string{
		fmt.Sprintf("a2 leave %d", sa.Resource().ID()),
		fmt.Sprintf("b3 enter %d", sb.Resource().ID()),
	}, f.journal)
	require.Len(t, f.changes, 2, "one notification per focus change")
	assert.Nil(t, f.seat.FocusedTextInput(TextInputV2))
	assert.Equal(t, TextInput(b), f.seat.FocusedTextInput(TextInputV3))

	f.journal = nil
	f.seat.SetFocusedTextInputSurface(nil)
	assert.Equal(t, []string{fmt.Sprintf("b3 leave %d", sb.Resource().ID())}, f.journal)
	assert.Len(t, f.changes, 3)
	assert.Nil(t, f.seat.FocusedTextInputSurface())
}

func TestClientWithBothVersions(t *testing.T) {
	f := newFixture(t)
	p, s := f.client(t)
	v2 := f.input("v2", p)
	v3 := f.input("v3", p)
	require.NoError(t, f.seat.RegisterTextInput(TextInputV2, v2))
	require.NoError(t, f.seat.RegisterTextInput(TextInputV3, v3))

	f.seat.SetFocusedTextInputSurface(s)
	assert.Len(t, f.journal, 2)
	require.Len(t, f.changes, 1, "both versions changed, still one notification")
	assert.Equal(t, TextInput(v2), f.changes[0].V2)
	assert.Equal(t, TextInput(v3), f.changes[0].V3)
}

func TestFocusWithoutDevicesDoesNotNotify(t *testing.T) {
	f := newFixture(t)
	_, s := f.client(t)

	f.seat.SetFocusedTextInputSurface(s)
	assert.Same(t, s, f.seat.FocusedTextInputSurface())
	assert.Empty(t, f.changes)
	assert.Empty(t, f.journal)
}

func TestRefocusingSameSurfaceIsNoop(t *testing.T) {
	f := newFixture(t)
	p, s := f.client(t)
	require.NoError(t, f.seat.RegisterTextInput(TextInputV3, f.input("v3", p)))

	f.seat.SetFocusedTextInputSurface(s)
	f.seat.SetFocusedTextInputSurface(s)
	assert.Len(t, f.journal, 1)
	assert.Len(t, f.changes, 1)
}

func TestRegisterWhileFocused(t *testing.T) {
	f := newFixture(t)
	p, s := f.client(t)
	f.seat.SetFocusedTextInputSurface(s)

	first := f.input("first", p)
	require.NoError(t, f.seat.RegisterTextInput(TextInputV3, first))
	assert.Equal(t, []string{fmt.Sprintf("first enter %d", s.Resource().ID())}, f.journal)
	assert.Len(t, f.changes, 1)

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, f.seat.RegisterTextInput(TextInputV3, first))
		assert.Len(t, f.journal, 1)
		assert.Len(t, f.changes, 1)
		assert.Len(t, f.seat.TextInputs(TextInputV3), 1)
	})

	t.Run("slot already active", func(t *testing.T) {
		second := f.input("second", p)
		require.NoError(t, f.seat.RegisterTextInput(TextInputV3, second))
		assert.Len(t, f.journal, 1)
		assert.Equal(t, TextInput(first), f.seat.FocusedTextInput(TextInputV3))
	})

	t.Run("other session is not entered", func(t *testing.T) {
		other, _ := f.client(t)
		require.NoError(t, f.seat.RegisterTextInput(TextInputV2, f.input("other", other)))
		assert.Nil(t, f.seat.FocusedTextInput(TextInputV2))
		assert.Len(t, f.journal, 1)
	})
}

func TestUnregisterActiveDevice(t *testing.T) {
	f := newFixture(t)
	p, s := f.client(t)
	ti := f.input("v2", p)
	require.NoError(t, f.seat.RegisterTextInput(TextInputV2, ti))
	f.seat.SetFocusedTextInputSurface(s)
	require.Len(t, f.changes, 1)

	f.seat.UnregisterTextInput(TextInputV2, ti)
	assert.Nil(t, f.seat.FocusedTextInput(TextInputV2))
	require.Len(t, f.changes, 2)
	assert.Nil(t, f.changes[1].V2)
	assert.Same(t, s, f.changes[1].Surface)

	f.seat.UnregisterTextInput(TextInputV2, ti)
	assert.Len(t, f.changes, 2, "unknown device is ignored")
}

func TestUnsupportedVersion(t *testing.T) {
	f := newFixture(t)
	p, _ := f.client(t)
	assert.Error(t, f.seat.RegisterTextInput(TextInputVersion(1), f.input("v1", p)))
	assert.Nil(t, f.seat.FocusedTextInput(TextInputVersion(1)))
}

func TestSurfaceDestroyClearsFocus(t *testing.T) {
	f := newFixture(t)
	p, s := f.client(t)
	require.NoError(t, f.seat.RegisterTextInput(TextInputV3, f.input("v3", p)))
	f.seat.SetFocusedTextInputSurface(s)

	p.Request(s.Resource().ID(), 0)
	assert.Nil(t, f.seat.FocusedTextInputSurface())
	assert.Nil(t, f.seat.FocusedTextInput(TextInputV3))
	assert.Len(t, f.changes, 2)
}

func TestFocusOnDestroyedSurface(t *testing.T) {
	t.Run("nothing focused", func(t *testing.T) {
		f := newFixture(t)
		p, s := f.client(t)
		require.NoError(t, f.seat.RegisterTextInput(TextInputV3, f.input("v3", p)))
		p.Request(s.Resource().ID(), 0)
		require.True(t, s.Destroyed())

		f.seat.SetFocusedTextInputSurface(s)
		assert.Nil(t, f.seat.FocusedTextInputSurface())
		assert.Nil(t, f.seat.FocusedTextInput(TextInputV3))
		assert.Empty(t, f.journal, "no enter for a dead surface")
		assert.Empty(t, f.changes)
	})

	t.Run("clears existing focus", func(t *testing.T) {
		f := newFixture(t)
		pa, sa := f.client(t)
		pb, sb := f.client(t)
		require.NoError(t, f.seat.RegisterTextInput(TextInputV3, f.input("a3", pa)))
		require.NoError(t, f.seat.RegisterTextInput(TextInputV3, f.input("b3", pb)))
		f.seat.SetFocusedTextInputSurface(sa)
		pb.Request(sb.Resource().ID(), 0)
		f.journal = nil

		f.seat.SetFocusedTextInputSurface(sb)
		assert.Nil(t, f.seat.FocusedTextInputSurface())
		assert.Equal(t, []string{fmt.Sprintf("a3 leave %d", sa.Resource().ID())}, f.journal)
		assert.Len(t, f.changes, 2)
	})
}

func TestSessionDestroyClearsFocus(t *testing.T) {
	f := newFixture(t)
	p, s := f.client(t)
	f.seat.SetFocusedTextInputSurface(s)

	p.Session.Destroy()
	assert.Nil(t, f.seat.FocusedTextInputSurface())
}

func TestSeatBinding(t *testing.T) {
	f := newFixture(t)
	f.seat.SetCapabilities(CapabilityKeyboard)

	p, err := wltest.NewPeer(f.display, server.Credentials{})
	require.NoError(t, err)
	id, ok := p.BindInterface(InterfaceName, Version)
	require.True(t, ok)

	events := p.Conn.EventsFor(id)
	require.Len(t, events, 2)
	assert.Equal(t, EventCapabilities, events[0].Opcode)
	assert.Equal(t, uint32(CapabilityKeyboard), events[0].Args[0])
	assert.Equal(t, "seat0", events[1].Args[0])

	res, ok := p.Session.Resource(id)
	require.True(t, ok)
	found, ok := FromResource(res)
	require.True(t, ok)
	assert.Same(t, f.seat, found)

	t.Run("capability broadcast", func(t *testing.T) {
		p.Conn.Reset()
		f.seat.SetCapabilities(CapabilityKeyboard | CapabilityPointer)
		assert.Equal(t, []uint16{EventCapabilities}, p.Conn.Opcodes(id))
	})

	t.Run("devices", func(t *testing.T) {
		kbd := p.AllocID()
		p.Request(id, opGetKeyboard, kbd)
		_, ok := p.Session.Resource(kbd)
		assert.True(t, ok)

		p.Request(kbd, 0)
		_, ok = p.Session.Resource(kbd)
		assert.False(t, ok, "wl_keyboard.release")
		assert.Empty(t, p.Conn.Errors())
	})

	t.Run("missing capability", func(t *testing.T) {
		p.Request(id, opGetTouch, p.AllocID())
		errs := p.Conn.Errors()
		require.Len(t, errs, 1)
		assert.Equal(t, id, errs[0].Args[0])
		assert.Equal(t, ErrorMissingCapability, errs[0].Args[1])
	})
}

func TestSeatRelease(t *testing.T) {
	f := newFixture(t)
	p, err := wltest.NewPeer(f.display, server.Credentials{})
	require.NoError(t, err)
	id, ok := p.BindInterface(InterfaceName, 5)
	require.True(t, ok)

	p.Request(id, opRelease)
	_, ok = p.Session.Resource(id)
	assert.False(t, ok)

	g, ok := f.display.Global(f.seat.Global())
	require.True(t, ok)
	assert.Empty(t, g.Resources())
}

func TestLookup(t *testing.T) {
	f := newFixture(t)
	p, err := wltest.NewPeer(f.display, server.Credentials{})
	require.NoError(t, err)
	id, ok := p.BindInterface(InterfaceName, Version)
	require.True(t, ok)

	display, ok := p.Session.Resource(protocol.DisplayID)
	require.True(t, ok)
	st, ok := Lookup(display, id)
	require.True(t, ok)
	assert.Same(t, f.seat, st)

	_, ok = Lookup(display, id+100)
	assert.False(t, ok)
}
