// Package state holds the processor's extended keyboard state: virtual
// modifiers, locks, and the layer stack.
//
// All storage is fixed-size. Nothing in this package allocates after
// construction, and an ExtendedState is plain data that can be copied to
// take a snapshot.
package state

import "github.com/roach88/keyrx/internal/ir"

// MaxLayerDepth is the capacity of the layer stack, base layer included.
const MaxLayerDepth = 32

// Bitset255 is a set of IDs 0-254.
type Bitset255 [4]uint64

// Has reports whether id is in the set.
func (b *Bitset255) Has(id uint8) bool {
	return b[id>>6]&(1<<(id&63)) != 0
}

func (b *Bitset255) set(id uint8)   { b[id>>6] |= 1 << (id & 63) }
func (b *Bitset255) clear(id uint8) { b[id>>6] &^= 1 << (id & 63) }

// Empty reports whether no ID is set.
func (b Bitset255) Empty() bool {
	return b[0]|b[1]|b[2]|b[3] == 0
}

// IDs appends the set IDs in ascending order to dst.
func (b Bitset255) IDs(dst []uint8) []uint8 {
	for id := 0; id <= ir.MaxStateID; id++ {
		if b.Has(uint8(id)) {
			dst = append(dst, uint8(id))
		}
	}
	return dst
}

// ExtendedState is the modifier, lock and layer state of one processor.
//
// Invariants:
//   - the layer stack is never empty and ir.BaseLayer is always at the bottom
//   - a modifier bit is set iff its refcount is positive
//   - IDs above ir.MaxStateID are rejected without touching state
type ExtendedState struct {
	modifiers Bitset255
	refcounts [ir.MaxStateID + 1]uint16
	locks     Bitset255
	layers    [MaxLayerDepth]ir.LayerID
	depth     int
}

// New returns a state with only the base layer active.
func New() *ExtendedState {
	s := &ExtendedState{}
	s.Reset()
	return s
}

// Reset clears every modifier and lock and drops all layers above the base.
func (s *ExtendedState) Reset() {
	*s = ExtendedState{}
	s.layers[0] = ir.BaseLayer
	s.depth = 1
}

// SetModifier takes a reference on modifier id. It returns true when the
// visible bit turned on (refcount 0 -> 1).
func (s *ExtendedState) SetModifier(id uint8) bool {
	if id > ir.MaxStateID {
		return false
	}
	if s.refcounts[id] == ^uint16(0) {
		return false
	}
	s.refcounts[id]++
	if s.refcounts[id] == 1 {
		s.modifiers.set(id)
		return true
	}
	return false
}

// ClearModifier drops a reference on modifier id. It returns true when the
// visible bit turned off (refcount 1 -> 0). Clearing an unset modifier is a
// no-op.
func (s *ExtendedState) ClearModifier(id uint8) bool {
	if id > ir.MaxStateID || s.refcounts[id] == 0 {
		return false
	}
	s.refcounts[id]--
	if s.refcounts[id] == 0 {
		s.modifiers.clear(id)
		return true
	}
	return false
}

// IsModifierSet reports whether modifier id is active.
func (s *ExtendedState) IsModifierSet(id uint8) bool {
	return id <= ir.MaxStateID && s.modifiers.Has(id)
}

// ModifierRefs returns the number of holders of modifier id.
func (s *ExtendedState) ModifierRefs(id uint8) int {
	if id > ir.MaxStateID {
		return 0
	}
	return int(s.refcounts[id])
}

// ToggleLock flips lock id and returns its new value.
func (s *ExtendedState) ToggleLock(id uint8) bool {
	if id > ir.MaxStateID {
		return false
	}
	if s.locks.Has(id) {
		s.locks.clear(id)
		return false
	}
	s.locks.set(id)
	return true
}

// IsLockSet reports whether lock id is active.
func (s *ExtendedState) IsLockSet(id uint8) bool {
	return id <= ir.MaxStateID && s.locks.Has(id)
}

// Modifiers returns a copy of the modifier bitset.
func (s *ExtendedState) Modifiers() Bitset255 { return s.modifiers }

// Locks returns a copy of the lock bitset.
func (s *ExtendedState) Locks() Bitset255 { return s.locks }

// PushLayer activates id on top of the stack. It returns false when the
// stack is full.
func (s *ExtendedState) PushLayer(id ir.LayerID) bool {
	if s.depth == MaxLayerDepth {
		return false
	}
	s.layers[s.depth] = id
	s.depth++
	return true
}

// PopLayer removes id if, and only if, it is the top of the stack and not
// the base entry. It returns whether anything was popped.
func (s *ExtendedState) PopLayer(id ir.LayerID) bool {
	if s.depth <= 1 || s.layers[s.depth-1] != id {
		return false
	}
	s.depth--
	return true
}

// RemoveLayer removes the topmost occurrence of id above the base entry,
// wherever it is in the stack. Layers above it keep their order.
func (s *ExtendedState) RemoveLayer(id ir.LayerID) bool {
	for i := s.depth - 1; i >= 1; i-- {
		if s.layers[i] == id {
			copy(s.layers[i:s.depth-1], s.layers[i+1:s.depth])
			s.depth--
			return true
		}
	}
	return false
}

// HasLayer reports whether id is on the stack above the base entry.
func (s *ExtendedState) HasLayer(id ir.LayerID) bool {
	for i := s.depth - 1; i >= 1; i-- {
		if s.layers[i] == id {
			return true
		}
	}
	return false
}

// ActiveLayer returns the top of the stack.
func (s *ExtendedState) ActiveLayer() ir.LayerID {
	return s.layers[s.depth-1]
}

// Depth returns the number of entries on the stack, base included.
func (s *ExtendedState) Depth() int { return s.depth }

// LayerAt returns the i-th entry counting from the top (0 is the active layer).
func (s *ExtendedState) LayerAt(i int) ir.LayerID {
	return s.layers[s.depth-1-i]
}

// Layers appends the stack bottom to top to dst.
func (s *ExtendedState) Layers(dst []ir.LayerID) []ir.LayerID {
	return append(dst, s.layers[:s.depth]...)
}
