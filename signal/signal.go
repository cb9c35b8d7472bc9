// Package signal provides typed observer lists used by every runtime
// component to publish notifications (session destroyed, configure
// acknowledged, focus changed and so on).
package signal

import "sync"

type listener[T any] struct {
	id uint64
	fn func(T)
}

// Signal is a list of subscribers for values of type T. The zero value is
// ready to use. Emit iterates a snapshot of the subscribers, so a listener
// may subscribe or cancel (itself or others) while being notified.
type Signal[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []listener[T]
}

// Subscribe registers fn and returns a function that removes it again.
// Calling the returned function more than once is harmless.
func (s *Signal[T]) Subscribe(fn func(T)) (cancel func()) {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	s.listeners = append(s.listeners, listener[T]{id: id, fn: fn})
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// Emit calls every subscriber with v in subscription order.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	snapshot := make([]listener[T], len(s.listeners))
	copy(snapshot, s.listeners)
	s.mu.Unlock()

	for _, l := range snapshot {
		l.fn(v)
	}
}

// Len returns the number of subscribers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}
