package engine

import (
	"fmt"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/profile"
	"github.com/roach88/keyrx/internal/taphold"
)

// SwitchProfile replaces the active profile at time now.
//
// Before the swap every in-flight effect of the old profile is undone:
//  1. pending tap/hold sessions resolve to Tap and buffered events are
//     dispatched against the old profile
//  2. every key still down is released (its own release is swallowed later)
//  3. layers, locks and modifiers are reset, each change reported as output
//
// Device bindings are kept and re-resolved against the new profile.
// The returned slice is reused by the next call.
func (p *Processor) SwitchProfile(idx *keyindex.Index, now ir.Timestamp) []ir.OutputEvent {
	p.out = p.AppendSwitch(p.out[:0], idx, now)
	return p.out
}

// AppendSwitch is SwitchProfile appending to dst.
func (p *Processor) AppendSwitch(dst []ir.OutputEvent, idx *keyindex.Index, now ir.Timestamp) []ir.OutputEvent {
	if !p.enter("SwitchProfile") {
		return dst
	}
	defer p.leave()

	p.emit = dst
	p.flush(now)
	p.releaseAll(now)

	old := p.index
	p.index = idx
	p.rebindDevices()
	p.stats.ProfileSwitches++

	p.logger.Info("profile switched",
		"layers", idx.Store().LayerCount(),
		"macros", idx.Store().MacroCount(),
		"previous_layers", old.Store().LayerCount(),
	)

	dst, p.emit = p.emit, nil
	return dst
}

// LoadProfile validates a compiled profile and switches to it.
// On error the processor is left untouched.
func (p *Processor) LoadProfile(data []byte, now ir.Timestamp) ([]ir.OutputEvent, error) {
	st, err := profile.Load(data)
	if err != nil {
		p.logger.Error("profile rejected", "error", err)
		return nil, fmt.Errorf("load profile: %w", err)
	}
	idx, err := keyindex.Build(st, keyindex.WithLogger(p.logger))
	if err != nil {
		p.logger.Error("profile rejected", "error", err)
		return nil, fmt.Errorf("index profile: %w", err)
	}
	return p.SwitchProfile(idx, now), nil
}

// flush resolves every pending session as Tap and dispatches the whole
// interrupt queue. A session created by a flushed press is itself resolved
// as Tap before the next event, so no Hold effect is produced.
func (p *Processor) flush(now ir.Timestamp) {
	for {
		for s := p.holds.Oldest(taphold.Pressed); s != nil; s = p.holds.Oldest(taphold.Pressed) {
			p.resolveTap(s, now)
		}
		e, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.dispatch(e)
	}
}

// releaseAll undoes every effect still active and resets the state.
func (p *Processor) releaseAll(now ir.Timestamp) {
	for i := 0; i < taphold.MaxSessions; i++ {
		s := p.holds.At(i)
		switch s.Phase {
		case taphold.Idle:
			continue
		case taphold.TapResolved:
			p.applyRelease(s.Tap, s.Device, s.Key, now)
		case taphold.HoldResolved:
			p.applyRelease(s.Hold, s.Device, s.Key, now)
		}
		p.held[s.Key] = heldKey{kind: heldSwallow, device: s.Device}
		p.holds.Clear(s)
	}

	for k := range p.held {
		h := &p.held[k]
		switch h.kind {
		case heldNone, heldSwallow:
			continue
		case heldPassthrough:
			p.passthrough(ir.RawEvent{Device: h.device, Key: ir.KeyCode(k), Edge: ir.Release, Time: now})
		case heldAction:
			p.applyRelease(h.action, h.device, ir.KeyCode(k), now)
		}
		h.kind = heldSwallow
	}

	for p.state.Depth() > 1 {
		top := p.state.ActiveLayer()
		p.state.PopLayer(top)
		p.signal(ir.LayerChange, 0, uint8(top), ir.Release, now)
	}
	for id := 0; id <= ir.MaxStateID; id++ {
		if p.state.IsLockSet(uint8(id)) {
			p.signal(ir.LockToggle, 0, uint8(id), ir.Release, now)
		}
		if p.state.IsModifierSet(uint8(id)) {
			p.signal(ir.ModifierChange, 0, uint8(id), ir.Release, now)
		}
	}

	p.state.Reset()
	p.orphans = [256]uint8{}
	p.queue.Reset()
	p.holds.Reset()
}
