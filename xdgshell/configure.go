package xdgshell

import "slices"

// ConfigureQueue holds the configure serials sent to a peer and not yet
// acknowledged, oldest first.
type ConfigureQueue struct {
	serials []uint32
}

// Push records a configure serial.
func (q *ConfigureQueue) Push(serial uint32) {
	q.serials = append(q.serials, serial)
}

// Ack acknowledges serial and every older one. It returns the popped
// serials in the order they were pushed. A serial that is not queued
// leaves the queue untouched and returns nil.
func (q *ConfigureQueue) Ack(serial uint32) []uint32 {
	i := slices.Index(q.serials, serial)
	if i < 0 {
		return nil
	}
	popped := slices.Clone(q.serials[:i+1])
	q.serials = slices.Delete(q.serials, 0, i+1)
	return popped
}

// Len returns the number of unacknowledged serials.
func (q *ConfigureQueue) Len() int {
	return len(q.serials)
}

// Pending reports whether serial is awaiting acknowledgement.
func (q *ConfigureQueue) Pending(serial uint32) bool {
	return slices.Contains(q.serials, serial)
}

// Reset drops every queued serial.
func (q *ConfigureQueue) Reset() {
	q.serials = nil
}
