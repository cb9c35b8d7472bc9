package eventloop

import (
	"sort"
	"time"
)

// Manual is a Loop driven by a virtual clock. Nothing runs until Drain or
// Advance is called, which makes timer-dependent behaviour deterministic.
// It is not safe for concurrent use.
type Manual struct {
	now   time.Duration
	tasks []func()
	// timers holds armed timers; stopped or expired ones are dropped on
	// the next scan.
	timers []*manualTimer
	seq    uint64
}

// NewManual creates a manual loop at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	return m.now
}

// Post implements Loop.
func (m *Manual) Post(fn func()) {
	m.tasks = append(m.tasks, fn)
}

// Pending returns the number of posted callbacks not yet run.
func (m *Manual) Pending() int {
	return len(m.tasks)
}

// Drain runs posted callbacks, including ones posted while draining.
func (m *Manual) Drain() {
	for len(m.tasks) > 0 {
		fn := m.tasks[0]
		m.tasks = m.tasks[1:]
		fn()
	}
}

// NewTimer implements Loop.
func (m *Manual) NewTimer(fn func()) Timer {
	return &manualTimer{loop: m, fn: fn}
}

// Advance moves the clock forward by d, firing every timer that falls due
// in deadline order and draining posted callbacks after each expiry.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	m.Drain()

	for {
		next := m.nextDue(target)
		if next == nil {
			break
		}
		m.now = next.deadline
		next.expire()
		m.Drain()
	}
	m.now = target
}

func (m *Manual) nextDue(target time.Duration) *manualTimer {
	var due []*manualTimer
	live := m.timers[:0]
	for _, t := range m.timers {
		if !t.active {
			t.listed = false
			continue
		}
		live = append(live, t)
		if t.deadline <= target {
			due = append(due, t)
		}
	}
	clear(m.timers[len(live):])
	m.timers = live
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].deadline != due[j].deadline {
			return due[i].deadline < due[j].deadline
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}

type manualTimer struct {
	loop      *Manual
	fn        func()
	deadline  time.Duration
	interval  time.Duration
	repeating bool
	active    bool
	listed    bool
	seq       uint64
}

func (t *manualTimer) Start(d time.Duration) {
	t.arm(d, false)
}

func (t *manualTimer) StartRepeating(d time.Duration) {
	t.arm(d, true)
}

func (t *manualTimer) arm(d time.Duration, repeating bool) {
	t.loop.seq++
	t.seq = t.loop.seq
	t.deadline = t.loop.now + d
	t.interval = d
	t.repeating = repeating
	t.active = true
	if !t.listed {
		t.listed = true
		t.loop.timers = append(t.loop.timers, t)
	}
}

func (t *manualTimer) expire() {
	if t.repeating {
		t.deadline += t.interval
	} else {
		t.active = false
	}
	t.fn()
}

func (t *manualTimer) Stop() {
	t.active = false
}

func (t *manualTimer) Active() bool {
	return t.active
}
