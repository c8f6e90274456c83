// Package taphold tracks per-key tap/hold sessions.
//
// A session starts when a tap/hold key is pressed and moves through
//
//	Idle -> Pressed -> TapResolved | HoldResolved -> Idle
//
// Each transition happens exactly once per press. The package owns only the
// session bookkeeping; the processor decides when to resolve and emits the
// resulting output.
package taphold

import (
	"fmt"

	"github.com/roach88/keyrx/internal/ir"
)

// MaxSessions bounds the number of keys that can be in a tap/hold session at once.
const MaxSessions = 32

// Phase is the state of a session.
type Phase uint8

const (
	// Idle marks a free slot.
	Idle Phase = iota
	// Pressed means the key is down and not yet resolved.
	Pressed
	// TapResolved means the tap action was emitted; its release is pending.
	TapResolved
	// HoldResolved means the hold action is active until the key is released.
	HoldResolved
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Pressed:
		return "pressed"
	case TapResolved:
		return "tap"
	case HoldResolved:
		return "hold"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Session is the tap/hold state of one physical key.
type Session struct {
	Key       ir.KeyCode
	Device    ir.DeviceID
	PressTime ir.Timestamp
	Timeout   ir.Timestamp
	Policy    ir.Policy
	Tap       ir.Action
	Hold      ir.Action
	Phase     Phase

	order uint64
}

// Deadline returns the time at which the session resolves to Hold.
func (s *Session) Deadline() ir.Timestamp {
	return s.PressTime + s.Timeout
}

// Expired reports whether the threshold has been reached at now.
// Reaching the threshold exactly counts as expired.
func (s *Session) Expired(now ir.Timestamp) bool {
	return now.Since(s.PressTime) >= s.Timeout
}

// PressResult reports the outcome of Engine.Press.
type PressResult uint8

const (
	// Created means a new session was started.
	Created PressResult = iota
	// Duplicate means the key already has a session; the press is ignored.
	Duplicate
	// Full means every slot is in use.
	Full
)

// Engine is a fixed-size session table.
type Engine struct {
	sessions [MaxSessions]Session
	active   int
	pending  int
	order    uint64
}

// New returns an empty engine.
func New() *Engine {
	return &Engine{}
}

// Press starts a session for key from tap/hold mapping m.
func (e *Engine) Press(dev ir.DeviceID, key ir.KeyCode, now ir.Timestamp, m ir.Mapping) (*Session, PressResult) {
	if s := e.Get(key); s != nil {
		return s, Duplicate
	}
	for i := range e.sessions {
		s := &e.sessions[i]
		if s.Phase != Idle {
			continue
		}
		e.order++
		*s = Session{
			Key:       key,
			Device:    dev,
			PressTime: now,
			Timeout:   m.Timeout(),
			Policy:    m.Policy,
			Tap:       m.Tap,
			Hold:      m.Hold,
			Phase:     Pressed,
			order:     e.order,
		}
		e.active++
		e.pending++
		return s, Created
	}
	return nil, Full
}

// Get returns the session for key, or nil.
func (e *Engine) Get(key ir.KeyCode) *Session {
	if e.active == 0 {
		return nil
	}
	for i := range e.sessions {
		s := &e.sessions[i]
		if s.Phase != Idle && s.Key == key {
			return s
		}
	}
	return nil
}

// ResolveTap moves a pressed session to TapResolved.
// It returns false if the session was not pending.
func (e *Engine) ResolveTap(s *Session) bool {
	if s.Phase != Pressed {
		return false
	}
	s.Phase = TapResolved
	e.pending--
	return true
}

// ResolveHold moves a pressed session to HoldResolved.
// It returns false if the session was not pending.
func (e *Engine) ResolveHold(s *Session) bool {
	if s.Phase != Pressed {
		return false
	}
	s.Phase = HoldResolved
	e.pending--
	return true
}

// Clear ends a session and frees its slot.
func (e *Engine) Clear(s *Session) {
	if s.Phase == Idle {
		return
	}
	if s.Phase == Pressed {
		e.pending--
	}
	*s = Session{}
	e.active--
}

// Len returns the number of live sessions, resolved or not.
func (e *Engine) Len() int { return e.active }

// Pending returns the number of sessions still waiting for a decision.
// Sessions already resolved to Tap or Hold are not counted.
func (e *Engine) Pending() int { return e.pending }

// Oldest returns the earliest-pressed session in phase p, or nil.
func (e *Engine) Oldest(p Phase) *Session {
	var oldest *Session
	if e.active == 0 {
		return nil
	}
	for i := range e.sessions {
		s := &e.sessions[i]
		if s.Phase == p && (oldest == nil || s.order < oldest.order) {
			oldest = s
		}
	}
	return oldest
}

// OldestPending returns the earliest-pressed pending session with the given
// policy whose key is not except, or nil.
func (e *Engine) OldestPending(policy ir.Policy, except ir.KeyCode) *Session {
	var oldest *Session
	if e.active == 0 {
		return nil
	}
	for i := range e.sessions {
		s := &e.sessions[i]
		if s.Phase != Pressed || s.Policy != policy || s.Key == except {
			continue
		}
		if oldest == nil || s.order < oldest.order {
			oldest = s
		}
	}
	return oldest
}

// NextExpired returns the earliest-pressed pending session whose threshold
// has been reached at now, or nil.
func (e *Engine) NextExpired(now ir.Timestamp) *Session {
	var next *Session
	if e.active == 0 {
		return nil
	}
	for i := range e.sessions {
		s := &e.sessions[i]
		if s.Phase != Pressed || !s.Expired(now) {
			continue
		}
		if next == nil || s.order < next.order {
			next = s
		}
	}
	return next
}

// NextDeadline returns the earliest deadline among pending sessions.
// Hosts can use it to schedule the next Tick.
func (e *Engine) NextDeadline() (ir.Timestamp, bool) {
	var (
		best  ir.Timestamp
		found bool
	)
	for i := range e.sessions {
		s := &e.sessions[i]
		if s.Phase != Pressed {
			continue
		}
		if d := s.Deadline(); !found || d < best {
			best, found = d, true
		}
	}
	return best, found
}

// At returns slot i for iteration over all MaxSessions slots; callers skip
// Idle slots.
func (e *Engine) At(i int) *Session { return &e.sessions[i] }

// Reset frees every session.
func (e *Engine) Reset() {
	*e = Engine{}
}
