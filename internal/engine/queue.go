package engine

import "github.com/roach88/keyrx/internal/ir"

// MaxBuffered is the capacity of the interrupt queue.
const MaxBuffered = 64

// eventRing is a fixed-capacity FIFO of raw events.
//
// Events wait here while an older timeout-only tap/hold session is pending.
// The ring never grows: when it is full the processor forces the blocking
// session to resolve, which lets the queue drain.
//
// Not thread-safe: owned by the processor, used only inside its calls.
type eventRing struct {
	events [MaxBuffered]ir.RawEvent
	head   int
	n      int
}

// Push adds an event to the back. Returns false if the ring is full.
func (q *eventRing) Push(e ir.RawEvent) bool {
	if q.n == MaxBuffered {
		return false
	}
	q.events[(q.head+q.n)%MaxBuffered] = e
	q.n++
	return true
}

// Front returns the oldest event without removing it.
func (q *eventRing) Front() (ir.RawEvent, bool) {
	if q.n == 0 {
		return ir.RawEvent{}, false
	}
	return q.events[q.head], true
}

// Pop removes and returns the oldest event.
func (q *eventRing) Pop() (ir.RawEvent, bool) {
	if q.n == 0 {
		return ir.RawEvent{}, false
	}
	e := q.events[q.head]
	q.head = (q.head + 1) % MaxBuffered
	q.n--
	return e, true
}

// Len returns the number of queued events.
func (q *eventRing) Len() int { return q.n }

// Full reports whether another Push would fail.
func (q *eventRing) Full() bool { return q.n == MaxBuffered }

// Reset empties the ring.
func (q *eventRing) Reset() {
	q.head, q.n = 0, 0
}
