// Package liveness implements the ping/pong watchdog used to detect
// unresponsive peers.
//
// A ping draws a serial from the display counter and arms a repeating
// timer. The first expiry without a pong reports the peer as delayed, the
// second reports a timeout and discards the ticket. The watchdog never
// disconnects anybody; acting on a timeout is the compositor's decision.
package liveness

import (
	"time"

	"github.com/charmbracelet/log"

	"github.com/bnema/wayrt/eventloop"
	"github.com/bnema/wayrt/internal/logger"
	"github.com/bnema/wayrt/server"
	"github.com/bnema/wayrt/signal"
)

// DefaultInterval is the time between escalation stages.
const DefaultInterval = time.Second

// Ticket identifies one outstanding ping.
type Ticket struct {
	Session *server.Session
	Serial  uint32
}

type ticket struct {
	serial uint32
	timer  eventloop.Timer
	stage  int
}

// Watchdog tracks at most one outstanding ping per session.
type Watchdog struct {
	display  *server.Display
	interval time.Duration
	log      *log.Logger

	tickets map[*server.Session]*ticket

	onDelayed signal.Signal[Ticket]
	onTimeout signal.Signal[Ticket]
	onPong    signal.Signal[Ticket]
}

// New creates a watchdog on display. A zero interval selects DefaultInterval.
func New(display *server.Display, interval time.Duration) *Watchdog {
	if interval <= 0 {
		interval = DefaultInterval
	}
	w := &Watchdog{
		display:  display,
		interval: interval,
		log:      logger.With("component", "liveness"),
		tickets:  make(map[*server.Session]*ticket),
	}
	display.OnSessionDestroyed(w.cancel)
	return w
}

// OnDelayed subscribes to the first, non-fatal escalation stage.
func (w *Watchdog) OnDelayed(fn func(Ticket)) (cancel func()) {
	return w.onDelayed.Subscribe(fn)
}

// OnTimeout subscribes to the final escalation stage.
func (w *Watchdog) OnTimeout(fn func(Ticket)) (cancel func()) {
	return w.onTimeout.Subscribe(fn)
}

// OnPong subscribes to answered pings.
func (w *Watchdog) OnPong(fn func(Ticket)) (cancel func()) {
	return w.onPong.Subscribe(fn)
}

// Ping starts a liveness check on s. send delivers the protocol-specific
// ping event carrying the serial. An outstanding ping for s is replaced.
func (w *Watchdog) Ping(s *server.Session, send func(serial uint32)) uint32 {
	if old, ok := w.tickets[s]; ok {
		old.timer.Stop()
		delete(w.tickets, s)
	}

	serial := w.display.NextSerial()
	t := &ticket{serial: serial}
	t.timer = w.display.Loop().NewTimer(func() { w.escalate(s, t) })
	w.tickets[s] = t

	send(serial)
	s.Flush()
	t.timer.StartRepeating(w.interval)
	return serial
}

// Pong settles the outstanding ping of s if serial matches. Stale or
// unknown serials are ignored and reported as false.
func (w *Watchdog) Pong(s *server.Session, serial uint32) bool {
	t, ok := w.tickets[s]
	if !ok || t.serial != serial {
		w.log.Debug("Ignoring stale pong", "session", s.ID(), "serial", serial)
		return false
	}
	t.timer.Stop()
	delete(w.tickets, s)
	w.onPong.Emit(Ticket{Session: s, Serial: serial})
	return true
}

// Outstanding returns the serial of the pending ping of s, if any.
func (w *Watchdog) Outstanding(s *server.Session) (uint32, bool) {
	t, ok := w.tickets[s]
	if !ok {
		return 0, false
	}
	return t.serial, true
}

func (w *Watchdog) escalate(s *server.Session, t *ticket) {
	if w.tickets[s] != t {
		t.timer.Stop()
		return
	}

	t.stage++
	tk := Ticket{Session: s, Serial: t.serial}
	if t.stage == 1 {
		w.log.Debug("Ping delayed", "session", s.ID(), "serial", t.serial)
		w.onDelayed.Emit(tk)
		return
	}

	t.timer.Stop()
	delete(w.tickets, s)
	w.log.Info("Ping timed out", "session", s.ID(), "serial", t.serial)
	w.onTimeout.Emit(tk)
}

func (w *Watchdog) cancel(s *server.Session) {
	if t, ok := w.tickets[s]; ok {
		t.timer.Stop()
		delete(w.tickets, s)
	}
}
