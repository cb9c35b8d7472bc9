package output

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wayrt/eventloop"
	"github.com/bnema/wayrt/internal/wltest"
	"github.com/bnema/wayrt/protocol"
	"github.com/bnema/wayrt/server"
)

var testModes = []Mode{
	{ID: 1, Size: Size{Width: 1920, Height: 1080}, Refresh: 60000, Preferred: true},
	{ID: 2, Size: Size{Width: 2560, Height: 1440}, Refresh: 144000},
}

func enabledOutput(t *testing.T) (*Output, *server.Display, *eventloop.Manual) {
	t.Helper()
	d, loop := wltest.NewDisplay()
	o := New(d)
	o.SetGeometry(Position{}, Size{Width: 600, Height: 340}, SubpixelHorizontalRGB, "Dell", "U2720Q", TransformNormal)
	o.SetModes(testModes)
	o.SetName("DP-1")
	o.SetEnabled(true)
	o.Commit()
	require.False(t, o.Global().IsZero())
	return o, d, loop
}

func bindOutput(t *testing.T, d *server.Display, version uint32) (*wltest.Peer, protocol.ObjectID) {
	t.Helper()
	p, err := wltest.NewPeer(d, server.Credentials{})
	require.NoError(t, err)
	id, ok := p.BindInterface(InterfaceName, version)
	require.True(t, ok)
	return p, id
}

func TestDeriveScale(t *testing.T) {
	tests := []struct {
		name  string
		state State
		want  int32
	}{
		{"no logical size", State{Modes: testModes, CurrentMode: 1}, 1},
		{"no current mode", State{Modes: testModes, CurrentMode: NoMode, LogicalSize: Size{Width: 960}}, 1},
		{"exact double", State{Modes: testModes, CurrentMode: 1, LogicalSize: Size{Width: 960}}, 2},
		{"rounded up", State{Modes: testModes, CurrentMode: 2, LogicalSize: Size{Width: 1920}}, 2},
		{"rotated uses height", State{Modes: testModes, CurrentMode: 1, LogicalSize: Size{Width: 540}, Transform: Transform90}, 2},
		{"override wins", State{Modes: testModes, CurrentMode: 1, LogicalSize: Size{Width: 960}, ScaleOverride: 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveScale(tt.state))
		})
	}
}

func TestBindSendsPublishedSnapshot(t *testing.T) {
	o, d, _ := enabledOutput(t)

	o.SetName("pending-name")
	p, id := bindOutput(t, d, 4)

	assert.Equal(t, []uint16{EventGeometry, EventMode, EventMode, EventScale, EventName, EventDone}, p.Conn.Opcodes(id))
	events := p.Conn.EventsFor(id)
	assert.Equal(t, "DP-1", events[4].Args[0], "late binders see published values only")
	assert.Equal(t, ModeCurrent|ModePreferred, events[1].Args[0])
	assert.Equal(t, uint32(0), events[2].Args[0])
}

func TestBindVersionGating(t *testing.T) {
	_, d, _ := enabledOutput(t)

	p, id := bindOutput(t, d, 1)
	assert.Equal(t, []uint16{EventGeometry, EventMode, EventMode}, p.Conn.Opcodes(id))
}

func TestCommitSendsOnlyChanges(t *testing.T) {
	o, d, _ := enabledOutput(t)
	p, id := bindOutput(t, d, 2)
	p.Conn.Reset()

	require.True(t, o.SetMode(2))
	changes := o.Commit()
	assert.Equal(t, ChangeCurrentMode, changes)

	events := p.Conn.EventsFor(id)
	require.Len(t, events, 2)
	assert.Equal(t, EventMode, events[0].Opcode)
	assert.Equal(t, ModeCurrent, events[0].Args[0])
	assert.Equal(t, int32(2560), events[0].Args[1])
	assert.Equal(t, EventDone, events[1].Opcode)
}

func TestCommitWithoutChangesIsSilent(t *testing.T) {
	o, d, _ := enabledOutput(t)
	p, id := bindOutput(t, d, 4)
	p.Conn.Reset()

	assert.Zero(t, o.Commit())
	assert.Empty(t, p.Conn.EventsFor(id))
}

func TestCommitPublishesInputsWithoutEvents(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *Output)
		check  func(t *testing.T, s State)
	}{
		{
			name:   "logical size that keeps scale 1",
			mutate: func(o *Output) { o.SetLogicalSize(Size{Width: 1920, Height: 1080}) },
			check: func(t *testing.T, s State) {
				assert.Equal(t, Size{Width: 1920, Height: 1080}, s.LogicalSize)
				assert.Equal(t, int32(1), s.Scale)
			},
		},
		{
			name:   "override equal to the derived scale",
			mutate: func(o *Output) { o.SetScale(1) },
			check: func(t *testing.T, s State) {
				assert.Equal(t, int32(1), s.ScaleOverride)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, d, _ := enabledOutput(t)
			p, id := bindOutput(t, d, 4)
			p.Conn.Reset()

			tt.mutate(o)
			assert.Zero(t, o.Commit())
			assert.Empty(t, p.Conn.EventsFor(id), "nothing a peer can see changed")
			tt.check(t, o.Published())
		})
	}
}

func TestCommitSkipsPeersThatCannotSeeTheChange(t *testing.T) {
	o, d, _ := enabledOutput(t)
	old, oldID := bindOutput(t, d, 3)
	recent, recentID := bindOutput(t, d, 4)
	old.Conn.Reset()
	recent.Conn.Reset()

	o.SetDescription("Dell U2720Q (DP-1)")
	o.Commit()

	assert.Empty(t, old.Conn.EventsFor(oldID), "no description event before v4, so no done either")
	assert.Equal(t, []uint16{EventDescription, EventDone}, recent.Conn.Opcodes(recentID))
}

func TestScaleFollowsLogicalSize(t *testing.T) {
	o, d, _ := enabledOutput(t)
	p, id := bindOutput(t, d, 4)
	p.Conn.Reset()

	o.SetLogicalSize(Size{Width: 960, Height: 540})
	assert.Equal(t, ChangeScale, o.Commit())
	assert.Equal(t, int32(2), o.Published().Scale)

	events := p.Conn.EventsFor(id)
	require.Len(t, events, 2)
	assert.Equal(t, EventScale, events[0].Opcode)
	assert.Equal(t, int32(2), events[0].Args[0])
}

func TestModeListChangeResendsEveryMode(t *testing.T) {
	o, d, _ := enabledOutput(t)
	p, id := bindOutput(t, d, 4)
	p.Conn.Reset()

	o.SetModes(append(testModes, Mode{ID: 3, Size: Size{Width: 1280, Height: 720}, Refresh: 60000}))
	o.Commit()
	assert.Equal(t, []uint16{EventMode, EventMode, EventMode, EventDone}, p.Conn.Opcodes(id))
}

func TestUnadvertiseKeepsBindingsAndHonoursGraceWindow(t *testing.T) {
	o, d, loop := enabledOutput(t)
	x, xid := bindOutput(t, d, 2)

	late, err := wltest.NewPeer(d, server.Credentials{})
	require.NoError(t, err)
	reg := late.GetRegistry()
	name, ok := late.FindGlobal(reg, InterfaceName)
	require.True(t, ok)

	o.SetEnabled(false)
	o.Commit()
	assert.True(t, o.Global().IsZero())

	loop.Advance(6 * time.Second)
	late.Conn.Reset()
	lateID := late.Bind(reg, name, InterfaceName, 2)
	assert.Empty(t, late.Conn.EventsFor(lateID), "bind after the grace window is dropped")
	assert.Empty(t, late.Conn.Errors())

	x.Conn.Reset()
	require.True(t, o.SetMode(2))
	o.Commit()
	assert.Equal(t, []uint16{EventMode, EventDone}, x.Conn.Opcodes(xid))
}

func TestRelease(t *testing.T) {
	o, d, _ := enabledOutput(t)
	p, id := bindOutput(t, d, 3)
	require.Len(t, o.Resources(), 1)

	p.Request(id, opRelease)
	assert.Empty(t, o.Resources())
	assert.Empty(t, p.Conn.Errors())

	older, olderID := bindOutput(t, d, 2)
	older.Request(olderID, opRelease)
	require.Len(t, older.Conn.Errors(), 1, "release needs v3")
}

func TestResourceFor(t *testing.T) {
	o, d, _ := enabledOutput(t)
	p, id := bindOutput(t, d, 4)

	r, ok := o.ResourceFor(p.Session)
	require.True(t, ok)
	assert.Equal(t, id, r.ID())

	found, ok := FromResource(r)
	require.True(t, ok)
	assert.Same(t, o, found)
}
