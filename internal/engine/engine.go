package engine

import (
	"log/slog"
	"sync/atomic"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/state"
	"github.com/roach88/keyrx/internal/taphold"
)

// heldKind records how a pressed key was handled so that its release
// mirrors the press, even if the layer stack changed in between.
type heldKind uint8

const (
	heldNone heldKind = iota
	heldPassthrough
	heldAction
	// heldSwallow marks a key whose release must be dropped because its
	// effect was already undone (profile switch).
	heldSwallow
)

type heldKey struct {
	kind   heldKind
	device ir.DeviceID
	action ir.Action
}

// Stats counts rare conditions seen by a processor.
type Stats struct {
	Events            uint64
	Ticks             uint64
	Passthrough       uint64
	Buffered          uint64 // events held back behind a pending tap/hold key
	Overflows         uint64
	Malformed         uint64
	SessionsExhausted uint64
	LayerStackFull    uint64
	MissingMacros     uint64
	Reentrancy        uint64
	ProfileSwitches   uint64
}

// Processor is the single-threaded keyboard remapping event processor.
//
// Every call (ProcessEvent, Tick, SwitchProfile, BindDevice) must come from
// one caller at a time. Overlapping calls are detected and rejected (see
// enter). The processor never reads a clock; time comes from the events and
// ticks it is given.
//
// INVARIANTS:
//   - output order follows input order, except for events buffered behind a
//     pending timeout-only tap/hold session, which keep their relative order
//   - emitted timestamps never decrease; macro steps are the exception and
//     carry their scheduled time (trigger time plus cumulative delay)
//   - a key release always undoes the action its press applied
type Processor struct {
	index   *keyindex.Index
	state   state.ExtendedState
	holds   taphold.Engine
	queue   eventRing
	held    [ir.MaxKeyCode + 1]heldKey
	orphans [256]uint8
	devices map[ir.DeviceID]deviceBinding

	out  []ir.OutputEvent
	emit []ir.OutputEvent
	last ir.Timestamp

	busy               atomic.Bool
	logger             *slog.Logger
	interruptOnRelease bool
	stats              Stats
}

// New creates a processor over a built index.
func New(idx *keyindex.Index, opts ...Option) *Processor {
	p := &Processor{
		index:   idx,
		devices: make(map[ir.DeviceID]deviceBinding),
		logger:  slog.Default(),
	}
	p.state.Reset()

	for _, opt := range opts {
		opt(p)
	}
	if p.out == nil {
		p.out = make([]ir.OutputEvent, 0, DefaultOutputCapacity)
	}
	return p
}

// ProcessEvent handles one raw input event and returns the output it
// produced. The returned slice is reused by the next call; callers that keep
// events must copy them, or use AppendEvent.
func (p *Processor) ProcessEvent(ev ir.RawEvent) []ir.OutputEvent {
	p.out = p.AppendEvent(p.out[:0], ev)
	return p.out
}

// AppendEvent is ProcessEvent appending to dst.
func (p *Processor) AppendEvent(dst []ir.OutputEvent, ev ir.RawEvent) []ir.OutputEvent {
	if !p.enter("ProcessEvent") {
		return dst
	}
	defer p.leave()

	p.emit = dst
	p.stats.Events++
	p.handle(ev)
	dst, p.emit = p.emit, nil
	return dst
}

// Tick advances time to now, resolving tap/hold sessions whose threshold has
// been reached and releasing events buffered behind them. Hosts call it
// periodically or at NextDeadline.
func (p *Processor) Tick(now ir.Timestamp) []ir.OutputEvent {
	p.out = p.AppendTick(p.out[:0], now)
	return p.out
}

// AppendTick is Tick appending to dst.
func (p *Processor) AppendTick(dst []ir.OutputEvent, now ir.Timestamp) []ir.OutputEvent {
	if !p.enter("Tick") {
		return dst
	}
	defer p.leave()

	p.emit = dst
	p.stats.Ticks++
	p.settle(now)
	dst, p.emit = p.emit, nil
	return dst
}

// NextDeadline returns when the earliest pending tap/hold session resolves
// to Hold, if any session is pending.
func (p *Processor) NextDeadline() (ir.Timestamp, bool) {
	return p.holds.NextDeadline()
}

// State returns a copy of the current modifier, lock and layer state.
func (p *Processor) State() state.ExtendedState {
	return p.state
}

// Stats returns the processor counters.
func (p *Processor) Stats() Stats {
	return p.stats
}

// Pending returns the number of tap/hold keys not yet resolved to Tap or Hold.
func (p *Processor) Pending() int { return p.holds.Pending() }

// Buffered returns the number of events waiting behind a pending session.
func (p *Processor) Buffered() int { return p.queue.Len() }

// Index returns the index the processor currently resolves keys against.
func (p *Processor) Index() *keyindex.Index { return p.index }

// enter marks the processor busy. A call that overlaps another is a
// contract violation: debug builds panic, release builds log and drop it.
func (p *Processor) enter(op string) bool {
	if p.busy.CompareAndSwap(false, true) {
		return true
	}
	err := NewReentrancyError(op)
	if debugBuild {
		panic(err)
	}
	p.stats.Reentrancy++
	p.logger.Error("reentrant call rejected", "op", op, "error", err)
	return false
}

func (p *Processor) leave() {
	p.busy.Store(false)
}

// handle runs one raw event through the interrupt queue.
func (p *Processor) handle(ev ir.RawEvent) {
	p.settle(ev.Time)

	// A release of a pending tap/hold key decides Tap on arrival, so events
	// buffered behind it can flow before the release itself reaches the front.
	if ev.Edge == ir.Release && ev.Key <= ir.MaxKeyCode {
		if s := p.holds.Get(ev.Key); s != nil && s.Phase == taphold.Pressed {
			p.resolveTap(s, ev.Time)
		}
	}

	p.enqueue(ev)
	p.settle(ev.Time)

	// ev went in last, so a non-empty queue means ev itself is waiting.
	if p.queue.Len() > 0 {
		p.stats.Buffered++
	}
}

func (p *Processor) enqueue(ev ir.RawEvent) {
	for !p.queue.Push(ev) {
		p.stats.Overflows++
		front, _ := p.queue.Front()
		s := p.blocker(front)
		if s == nil {
			front, _ = p.queue.Pop()
			p.dispatch(front)
			continue
		}
		p.logger.Warn("interrupt buffer full, forcing hold",
			"code", ErrCodeBufferOverflow,
			"key", s.Key,
			"buffered", p.queue.Len(),
		)
		p.resolveHold(s, ev.Time)
		p.drain()
	}
}

// settle dispatches every queued event that is no longer blocked and
// expires sessions whose deadline is at or before now.
func (p *Processor) settle(now ir.Timestamp) {
	for {
		p.drain()
		if p.holds.NextExpired(now) == nil {
			return
		}
		p.expire(now)
	}
}

// drain dispatches queued events in order until the front is blocked.
// Sessions that expired before the front event's time resolve first.
func (p *Processor) drain() {
	for {
		e, ok := p.queue.Front()
		if !ok {
			return
		}
		p.expire(e.Time)
		if p.blocker(e) != nil {
			return
		}
		p.queue.Pop()
		p.dispatch(e)
	}
}

// expire resolves to Hold, oldest first, every pending session whose
// deadline is at or before t. Output is stamped with the deadline.
func (p *Processor) expire(t ir.Timestamp) {
	for s := p.holds.NextExpired(t); s != nil; s = p.holds.NextExpired(t) {
		p.resolveHold(s, s.Deadline())
	}
}

// blocker returns the pending timeout-only session that e must wait for.
func (p *Processor) blocker(e ir.RawEvent) *taphold.Session {
	if p.holds.Len() == 0 {
		return nil
	}
	if e.Edge == ir.Release && !p.interruptOnRelease {
		return nil
	}
	return p.holds.OldestPending(ir.TimeoutOnly, e.Key)
}

// dispatch applies one event that is free to proceed.
func (p *Processor) dispatch(e ir.RawEvent) {
	if e.Edge == ir.Press || p.interruptOnRelease {
		for s := p.holds.OldestPending(ir.ResolveOnInterrupt, e.Key); s != nil; s = p.holds.OldestPending(ir.ResolveOnInterrupt, e.Key) {
			p.resolveHold(s, e.Time)
		}
	}

	if e.Key > ir.MaxKeyCode {
		p.passthrough(e)
		return
	}
	if s := p.holds.Get(e.Key); s != nil {
		p.sessionEvent(s, e)
		return
	}
	if e.Edge == ir.Press {
		p.press(e)
	} else {
		p.release(e)
	}
}

func (p *Processor) press(e ir.RawEvent) {
	h := &p.held[e.Key]
	switch h.kind {
	case heldPassthrough:
		p.passthrough(e)
		return
	case heldAction:
		// Auto-repeat: only plain key remaps repeat.
		if h.action.Kind == ir.KindSimple {
			p.keyOut(e.Device, h.action.Key, ir.Press, e.Time)
		}
		return
	}

	m, res := p.lookup(e.Device, e.Key)
	if res != keyindex.Found {
		if res == keyindex.Malformed {
			p.stats.Malformed++
		}
		*h = heldKey{kind: heldPassthrough, device: e.Device}
		p.passthrough(e)
		return
	}

	if m.Kind == ir.KindTapHold {
		*h = heldKey{}
		if _, r := p.holds.Press(e.Device, e.Key, e.Time, m); r == taphold.Full {
			p.stats.SessionsExhausted++
			p.logger.Warn("tap/hold sessions exhausted, using tap action",
				"code", ErrCodeSessionsExhausted,
				"key", e.Key,
				"device", e.Device,
			)
			*h = heldKey{kind: heldAction, device: e.Device, action: m.Tap}
			p.applyPress(m.Tap, e.Device, e.Key, e.Time)
		}
		return
	}

	*h = heldKey{kind: heldAction, device: e.Device, action: m.Action}
	p.applyPress(m.Action, e.Device, e.Key, e.Time)
}

func (p *Processor) release(e ir.RawEvent) {
	h := &p.held[e.Key]
	switch h.kind {
	case heldNone, heldPassthrough:
		p.passthrough(e)
	case heldAction:
		p.applyRelease(h.action, e.Device, e.Key, e.Time)
	}
	*h = heldKey{}
}

// sessionEvent handles an event for a key that has a tap/hold session.
func (p *Processor) sessionEvent(s *taphold.Session, e ir.RawEvent) {
	if e.Edge == ir.Press {
		return
	}
	switch s.Phase {
	case taphold.Pressed:
		p.resolveTap(s, e.Time)
		p.applyRelease(s.Tap, e.Device, e.Key, e.Time)
	case taphold.TapResolved:
		p.applyRelease(s.Tap, e.Device, e.Key, e.Time)
	case taphold.HoldResolved:
		p.applyRelease(s.Hold, e.Device, e.Key, e.Time)
	}
	p.holds.Clear(s)
}

func (p *Processor) resolveTap(s *taphold.Session, t ir.Timestamp) {
	if p.holds.ResolveTap(s) {
		p.applyPress(s.Tap, s.Device, s.Key, t)
	}
}

func (p *Processor) resolveHold(s *taphold.Session, t ir.Timestamp) {
	if p.holds.ResolveHold(s) {
		p.applyPress(s.Hold, s.Device, s.Key, t)
	}
}

// lookup resolves key against the layer stack, top to bottom. A malformed
// record stops the walk: the key passes through instead of falling through
// to a lower layer.
func (p *Processor) lookup(dev ir.DeviceID, key ir.KeyCode) (ir.Mapping, keyindex.Result) {
	scope := p.scopeOf(dev)
	for i := 0; i < p.state.Depth(); i++ {
		m, res := p.index.Lookup(scope, p.state.LayerAt(i), key)
		if res != keyindex.Unmapped {
			return m, res
		}
	}
	return ir.Mapping{}, keyindex.Unmapped
}

func (p *Processor) applyPress(a ir.Action, dev ir.DeviceID, key ir.KeyCode, t ir.Timestamp) {
	switch a.Kind {
	case ir.KindSimple:
		p.keyOut(dev, a.Key, ir.Press, t)
	case ir.KindModifier:
		if p.state.SetModifier(a.ID) {
			p.signal(ir.ModifierChange, dev, a.ID, ir.Press, t)
		}
	case ir.KindLock:
		edge := ir.Release
		if p.state.ToggleLock(a.ID) {
			edge = ir.Press
		}
		p.signal(ir.LockToggle, dev, a.ID, edge, t)
	case ir.KindLayerSwitch:
		if a.Mode == ir.Toggle {
			p.toggleLayer(ir.LayerID(a.ID), dev, t)
		} else {
			p.pushLayer(ir.LayerID(a.ID), dev, key, t)
		}
	case ir.KindMacro:
		p.playMacro(a.Seq, dev, key, t)
	}
}

func (p *Processor) applyRelease(a ir.Action, dev ir.DeviceID, key ir.KeyCode, t ir.Timestamp) {
	switch a.Kind {
	case ir.KindSimple:
		p.keyOut(dev, a.Key, ir.Release, t)
	case ir.KindModifier:
		if p.state.ClearModifier(a.ID) {
			p.signal(ir.ModifierChange, dev, a.ID, ir.Release, t)
		}
	case ir.KindLayerSwitch:
		if a.Mode == ir.Momentary {
			p.popMomentary(ir.LayerID(a.ID), dev, t)
		}
	}
}

func (p *Processor) pushLayer(id ir.LayerID, dev ir.DeviceID, key ir.KeyCode, t ir.Timestamp) {
	if !p.state.PushLayer(id) {
		p.stats.LayerStackFull++
		p.logger.Warn("layer stack full, activation ignored",
			"code", ErrCodeLayerStackFull,
			"layer", id,
			"key", key,
		)
		return
	}
	p.signal(ir.LayerChange, dev, uint8(id), ir.Press, t)
}

// popMomentary ends a momentary activation of id.
//
// Only the top of the stack is popped. A momentary release for a layer
// buried under another activation is remembered in orphans and applied once
// the layer reaches the top again, so out-of-order releases never leave a
// layer stuck.
func (p *Processor) popMomentary(id ir.LayerID, dev ir.DeviceID, t ir.Timestamp) {
	if !p.state.PopLayer(id) {
		if p.state.HasLayer(id) && p.orphans[id] < 255 {
			p.orphans[id]++
		}
		return
	}
	p.signal(ir.LayerChange, dev, uint8(id), ir.Release, t)

	for top := p.state.ActiveLayer(); p.orphans[top] > 0; top = p.state.ActiveLayer() {
		if !p.state.PopLayer(top) {
			break
		}
		p.orphans[top]--
		p.signal(ir.LayerChange, dev, uint8(top), ir.Release, t)
	}
}

// toggleLayer flips id: pop it when on top, remove it when buried, push it
// otherwise.
func (p *Processor) toggleLayer(id ir.LayerID, dev ir.DeviceID, t ir.Timestamp) {
	switch {
	case p.state.PopLayer(id), p.state.RemoveLayer(id):
		p.signal(ir.LayerChange, dev, uint8(id), ir.Release, t)
	case p.state.PushLayer(id):
		p.signal(ir.LayerChange, dev, uint8(id), ir.Press, t)
	default:
		p.stats.LayerStackFull++
		p.logger.Warn("layer stack full, toggle ignored",
			"code", ErrCodeLayerStackFull,
			"layer", id,
		)
	}
	p.clampOrphans(id)
}

// clampOrphans keeps pending momentary releases of id no larger than the
// number of activations of id still on the stack.
func (p *Processor) clampOrphans(id ir.LayerID) {
	if p.orphans[id] == 0 {
		return
	}
	var n uint8
	for i := 0; i < p.state.Depth()-1; i++ {
		if p.state.LayerAt(i) == id {
			n++
		}
	}
	if p.orphans[id] > n {
		p.orphans[id] = n
	}
}

// playMacro emits a macro's steps. Step times are offsets from the trigger,
// so the whole sequence is emitted at once and the host paces injection.
func (p *Processor) playMacro(seq uint16, dev ir.DeviceID, key ir.KeyCode, t ir.Timestamp) {
	mv, ok := p.index.Store().Macro(seq)
	if !ok {
		p.stats.MissingMacros++
		p.logger.Warn("macro not defined",
			"code", ErrCodeMissingMacro,
			"seq", seq,
			"key", key,
		)
		return
	}
	at := p.stamp(t)
	for i := 0; i < mv.Len(); i++ {
		st := mv.Step(i)
		at += ir.Millis(uint64(st.DelayMs))
		p.emit = append(p.emit, ir.OutputEvent{
			Kind:   ir.KeyTranslation,
			Device: dev,
			Key:    st.Key,
			Edge:   st.Edge,
			Time:   at,
		})
	}
}

func (p *Processor) passthrough(e ir.RawEvent) {
	p.stats.Passthrough++
	o := ir.Passthrough(e)
	o.Time = p.stamp(e.Time)
	p.emit = append(p.emit, o)
}

func (p *Processor) keyOut(dev ir.DeviceID, key ir.KeyCode, edge ir.Edge, t ir.Timestamp) {
	p.emit = append(p.emit, ir.OutputEvent{
		Kind:   ir.KeyTranslation,
		Device: dev,
		Key:    key,
		Edge:   edge,
		Time:   p.stamp(t),
	})
}

func (p *Processor) signal(kind ir.OutputKind, dev ir.DeviceID, id uint8, edge ir.Edge, t ir.Timestamp) {
	p.emit = append(p.emit, ir.OutputEvent{
		Kind:   kind,
		Device: dev,
		ID:     id,
		Edge:   edge,
		Time:   p.stamp(t),
	})
}

// stamp returns t, or the last emitted time when t is earlier.
func (p *Processor) stamp(t ir.Timestamp) ir.Timestamp {
	if t < p.last {
		return p.last
	}
	p.last = t
	return t
}
