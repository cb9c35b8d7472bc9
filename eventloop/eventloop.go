// Package eventloop bridges the runtime to the event loop that drives it.
//
// Every runtime callback (request dispatch, timer expiry, deferred
// teardown) runs on the loop's single dispatch goroutine. Transport read
// loops may live on their own goroutines but only ever Post work here.
package eventloop

import (
	"context"
	"sync"
	"time"
)

// Loop is what the runtime needs from an event loop.
type Loop interface {
	// Post queues fn to run on the dispatch goroutine.
	Post(fn func())
	// NewTimer creates a stopped timer whose callback runs on the
	// dispatch goroutine.
	NewTimer(fn func()) Timer
}

// Timer is a single-shot or repeating timer owned by a Loop.
type Timer interface {
	Start(d time.Duration)
	StartRepeating(d time.Duration)
	Stop()
	Active() bool
}

// Queue is the production Loop: a FIFO of callbacks drained by Run.
type Queue struct {
	mu     sync.Mutex
	tasks  []func()
	wakeup chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{wakeup: make(chan struct{}, 1)}
}

// Post implements Loop.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wakeup <- struct{}{}:
	default:
	}
}

// Run drains posted callbacks until ctx is cancelled. It must be called
// from exactly one goroutine.
func (q *Queue) Run(ctx context.Context) error {
	for {
		q.runPending()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wakeup:
		}
	}
}

func (q *Queue) runPending() {
	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		q.mu.Unlock()

		if len(tasks) == 0 {
			return
		}
		for _, fn := range tasks {
			fn()
		}
	}
}

// NewTimer implements Loop.
func (q *Queue) NewTimer(fn func()) Timer {
	return &queueTimer{queue: q, fn: fn}
}

// queueTimer arms a time.Timer whose expiry posts back onto the queue.
// The generation counter discards expiries that were already in flight
// when Stop or a restart happened.
type queueTimer struct {
	queue *Queue
	fn    func()

	mu         sync.Mutex
	timer      *time.Timer
	generation uint64
	interval   time.Duration
	repeating  bool
	active     bool
}

func (t *queueTimer) Start(d time.Duration) {
	t.arm(d, false)
}

func (t *queueTimer) StartRepeating(d time.Duration) {
	t.arm(d, true)
}

func (t *queueTimer) arm(d time.Duration, repeating bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
	}
	t.generation++
	gen := t.generation
	t.interval = d
	t.repeating = repeating
	t.active = true
	t.timer = time.AfterFunc(d, func() {
		t.queue.Post(func() { t.fire(gen) })
	})
}

func (t *queueTimer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.generation || !t.active {
		t.mu.Unlock()
		return
	}
	if t.repeating {
		t.timer = time.AfterFunc(t.interval, func() {
			t.queue.Post(func() { t.fire(gen) })
		})
	} else {
		t.active = false
	}
	t.mu.Unlock()

	t.fn()
}

func (t *queueTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.generation++
	t.active = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *queueTimer) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}
