package liveness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/wayrt/internal/wltest"
	"github.com/bnema/wayrt/server"
)

type recorder struct {
	delayed, timeout, pong []uint32
}

func watch(w *Watchdog) *recorder {
	rec := &recorder{}
	w.OnDelayed(func(t Ticket) { rec.delayed = append(rec.delayed, t.Serial) })
	w.OnTimeout(func(t Ticket) { rec.timeout = append(rec.timeout, t.Serial) })
	w.OnPong(func(t Ticket) { rec.pong = append(rec.pong, t.Serial) })
	return rec
}

func setup(t *testing.T) (*Watchdog, *wltest.Peer, func(time.Duration)) {
	t.Helper()
	d, loop := wltest.NewDisplay()
	p, err := wltest.NewPeer(d, server.Credentials{})
	require.NoError(t, err)
	return New(d, time.Second), p, loop.Advance
}

func TestEscalation(t *testing.T) {
	w, p, advance := setup(t)
	rec := watch(w)

	var sent []uint32
	serial := w.Ping(p.Session, func(s uint32) { sent = append(sent, s) })
	assert.Equal(t, []uint32{serial}, sent)
	assert.Equal(t, serial, p.Display.Serial())

	advance(time.Second)
	assert.Equal(t, []uint32{serial}, rec.delayed)
	assert.Empty(t, rec.timeout)

	advance(time.Second)
	assert.Equal(t, []uint32{serial}, rec.timeout)

	advance(10 * time.Second)
	assert.Len(t, rec.delayed, 1)
	assert.Len(t, rec.timeout, 1)

	_, ok := w.Outstanding(p.Session)
	assert.False(t, ok)
	assert.False(t, w.Pong(p.Session, serial), "pong after timeout is stale")
	assert.False(t, p.Session.Destroyed(), "timeouts never disconnect")
}

func TestPongBetweenStages(t *testing.T) {
	w, p, advance := setup(t)
	rec := watch(w)

	serial := w.Ping(p.Session, func(uint32) {})
	advance(time.Second)
	require.Len(t, rec.delayed, 1)

	assert.True(t, w.Pong(p.Session, serial))
	advance(10 * time.Second)

	assert.Empty(t, rec.timeout)
	assert.Equal(t, []uint32{serial}, rec.pong)
}

func TestPongMismatch(t *testing.T) {
	w, p, advance := setup(t)
	rec := watch(w)

	serial := w.Ping(p.Session, func(uint32) {})
	assert.False(t, w.Pong(p.Session, serial+100))
	assert.Empty(t, rec.pong)

	advance(2 * time.Second)
	assert.Len(t, rec.timeout, 1)
}

func TestPingReplacesOutstandingTicket(t *testing.T) {
	w, p, advance := setup(t)
	rec := watch(w)

	first := w.Ping(p.Session, func(uint32) {})
	advance(500 * time.Millisecond)
	second := w.Ping(p.Session, func(uint32) {})
	assert.Greater(t, second, first)

	assert.False(t, w.Pong(p.Session, first))

	advance(time.Second)
	assert.Equal(t, []uint32{second}, rec.delayed)
	advance(time.Second)
	assert.Equal(t, []uint32{second}, rec.timeout)
}

func TestSessionDestroyCancelsTicket(t *testing.T) {
	w, p, advance := setup(t)
	rec := watch(w)

	w.Ping(p.Session, func(uint32) {})
	p.Session.Destroy()
	advance(5 * time.Second)

	assert.Empty(t, rec.delayed)
	assert.Empty(t, rec.timeout)
}
