// Package testutil provides deterministic fixtures for keyrx tests.
package testutil

import (
	"sync"

	"github.com/roach88/keyrx/internal/ir"
)

// Script builds a raw event sequence on a millisecond timeline.
//
// Times only move forward: an event scheduled before the previous one is
// stamped with the previous time instead. This keeps scripted input valid
// for the processor, which expects non-decreasing timestamps.
//
// Thread-safety: all methods are safe for concurrent use via internal mutex.
type Script struct {
	mu     sync.Mutex
	device ir.DeviceID
	now    ir.Timestamp
	events []ir.RawEvent
}

// NewScript creates an empty script for device dev starting at time 0.
func NewScript(dev ir.DeviceID) *Script {
	return &Script{device: dev}
}

// Press appends a press of key at ms milliseconds.
func (s *Script) Press(key ir.KeyCode, ms uint64) *Script {
	return s.add(key, ir.Press, ms)
}

// Release appends a release of key at ms milliseconds.
func (s *Script) Release(key ir.KeyCode, ms uint64) *Script {
	return s.add(key, ir.Release, ms)
}

// Tap appends a press at ms and a release holdMs later.
func (s *Script) Tap(key ir.KeyCode, ms, holdMs uint64) *Script {
	s.add(key, ir.Press, ms)
	return s.add(key, ir.Release, ms+holdMs)
}

// Device switches the device used by subsequent events.
func (s *Script) Device(dev ir.DeviceID) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = dev
	return s
}

// Now returns the time of the last scripted event.
func (s *Script) Now() ir.Timestamp {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Events returns a copy of the scripted events.
func (s *Script) Events() []ir.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ir.RawEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Reset empties the script and rewinds time to 0.
func (s *Script) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = s.events[:0]
	s.now = 0
}

func (s *Script) add(key ir.KeyCode, edge ir.Edge, ms uint64) *Script {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := ir.Millis(ms)
	if t < s.now {
		t = s.now
	}
	s.now = t
	s.events = append(s.events, ir.RawEvent{Device: s.device, Key: key, Edge: edge, Time: t})
	return s
}
