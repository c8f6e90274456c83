package engine

import (
	"sync/atomic"
	"time"

	"github.com/roach88/keyrx/internal/ir"
)

// Clock supplies monotonic microsecond timestamps to hosts that drive a
// processor. The processor itself never reads a clock: every event and tick
// carries its own timestamp, which keeps processing deterministic.
type Clock interface {
	Now() ir.Timestamp
}

// MonotonicClock reads the process monotonic clock, relative to its creation.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock creates a clock whose zero is now.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// Now returns microseconds since the clock was created.
func (c *MonotonicClock) Now() ir.Timestamp {
	return ir.Timestamp(time.Since(c.start).Microseconds())
}

// VirtualClock is a manually advanced clock for simulation and replay.
//
// Thread-safety: VirtualClock is safe for concurrent use (atomic operations),
// so a test can advance it while a host loop reads it.
type VirtualClock struct {
	now atomic.Uint64
}

// NewVirtualClock creates a virtual clock starting at start.
func NewVirtualClock(start ir.Timestamp) *VirtualClock {
	c := &VirtualClock{}
	c.now.Store(uint64(start))
	return c
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() ir.Timestamp {
	return ir.Timestamp(c.now.Load())
}

// Advance moves the clock forward by d and returns the new time.
func (c *VirtualClock) Advance(d ir.Timestamp) ir.Timestamp {
	return ir.Timestamp(c.now.Add(uint64(d)))
}

// Set moves the clock to t. Setting an earlier time is ignored so the clock
// stays monotonic.
func (c *VirtualClock) Set(t ir.Timestamp) {
	for {
		cur := c.now.Load()
		if uint64(t) <= cur {
			return
		}
		if c.now.CompareAndSwap(cur, uint64(t)) {
			return
		}
	}
}
