package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualTimers(t *testing.T) {
	t.Run("single shot fires once at deadline", func(t *testing.T) {
		loop := NewManual()
		fired := 0
		timer := loop.NewTimer(func() { fired++ })
		timer.Start(5 * time.Second)

		loop.Advance(4 * time.Second)
		assert.Equal(t, 0, fired)
		assert.True(t, timer.Active())

		loop.Advance(time.Second)
		assert.Equal(t, 1, fired)
		assert.False(t, timer.Active())

		loop.Advance(time.Minute)
		assert.Equal(t, 1, fired)
	})

	t.Run("repeating timer fires every interval", func(t *testing.T) {
		loop := NewManual()
		fired := 0
		timer := loop.NewTimer(func() { fired++ })
		timer.StartRepeating(time.Second)

		loop.Advance(3500 * time.Millisecond)
		assert.Equal(t, 3, fired)

		timer.Stop()
		loop.Advance(time.Minute)
		assert.Equal(t, 3, fired)
	})

	t.Run("timers fire in deadline order", func(t *testing.T) {
		loop := NewManual()
		var order []string
		late := loop.NewTimer(func() { order = append(order, "late") })
		early := loop.NewTimer(func() { order = append(order, "early") })
		late.Start(2 * time.Second)
		early.Start(time.Second)

		loop.Advance(3 * time.Second)
		assert.Equal(t, []string{"early", "late"}, order)
	})

	t.Run("posted work drains before timers", func(t *testing.T) {
		loop := NewManual()
		var order []string
		timer := loop.NewTimer(func() { order = append(order, "timer") })
		timer.Start(time.Second)
		loop.Post(func() { order = append(order, "posted") })

		loop.Advance(time.Second)
		assert.Equal(t, []string{"posted", "timer"}, order)
		assert.Equal(t, time.Second, loop.Now())
	})

	t.Run("finished timers are not retained", func(t *testing.T) {
		loop := NewManual()
		fired := 0
		var timers []Timer
		for i := 0; i < 50; i++ {
			timer := loop.NewTimer(func() { fired++ })
			timer.Start(time.Second)
			if i%2 == 0 {
				timer.Stop()
			}
			timers = append(timers, timer)
		}
		loop.NewTimer(func() { fired++ })
		assert.Len(t, loop.timers, 50, "only armed timers are tracked")

		loop.Advance(2 * time.Second)
		assert.Equal(t, 25, fired)
		assert.Empty(t, loop.timers)

		timers[0].Start(time.Second)
		timers[0].Stop()
		timers[0].Start(time.Second)
		assert.Len(t, loop.timers, 1, "re-arming does not duplicate")
		loop.Advance(time.Second)
		assert.Equal(t, 26, fired)
	})

	t.Run("timer re-armed from its callback keeps firing", func(t *testing.T) {
		loop := NewManual()
		fired := 0
		var timer Timer
		timer = loop.NewTimer(func() {
			fired++
			if fired < 3 {
				timer.Start(time.Second)
			}
		})
		timer.Start(time.Second)

		loop.Advance(5 * time.Second)
		assert.Equal(t, 3, fired)
		loop.Advance(time.Second)
		assert.Empty(t, loop.timers)
	})
}

func TestQueue(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	var posted atomic.Int32
	ran := make(chan struct{})
	q.Post(func() { posted.Add(1) })
	q.Post(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("posted callbacks did not run")
	}
	assert.Equal(t, int32(1), posted.Load())

	fired := make(chan struct{}, 4)
	timer := q.NewTimer(func() { fired <- struct{}{} })
	timer.Start(10 * time.Millisecond)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}
