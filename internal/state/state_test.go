package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/ir"
)

func TestModifierRefcount(t *testing.T) {
	s := New()

	assert.True(t, s.SetModifier(3), "first holder turns the bit on")
	assert.False(t, s.SetModifier(3), "second holder does not change the bit")
	assert.Equal(t, 2, s.ModifierRefs(3))

	assert.False(t, s.ClearModifier(3), "bit stays while one holder remains")
	assert.True(t, s.IsModifierSet(3))

	assert.True(t, s.ClearModifier(3))
	assert.False(t, s.IsModifierSet(3))

	assert.False(t, s.ClearModifier(3), "clearing an unset modifier is a no-op")
	assert.Equal(t, 0, s.ModifierRefs(3))
}

func TestReservedIDRejected(t *testing.T) {
	s := New()

	assert.False(t, s.SetModifier(255))
	assert.False(t, s.IsModifierSet(255))
	assert.False(t, s.ToggleLock(255))
	assert.False(t, s.IsLockSet(255))
	assert.True(t, s.Modifiers().Empty())
	assert.True(t, s.Locks().Empty())
}

func TestToggleLockDoubleIsIdentity(t *testing.T) {
	s := New()

	assert.True(t, s.ToggleLock(254))
	assert.True(t, s.IsLockSet(254))
	assert.False(t, s.ToggleLock(254))
	assert.False(t, s.IsLockSet(254))
	assert.Equal(t, New().Locks(), s.Locks())
}

func TestBitsetIDs(t *testing.T) {
	s := New()
	for _, id := range []uint8{0, 63, 64, 200, 254} {
		s.SetModifier(id)
	}
	assert.Equal(t, []uint8{0, 63, 64, 200, 254}, s.Modifiers().IDs(nil))
}

func TestLayerStackNeverEmpty(t *testing.T) {
	s := New()

	assert.Equal(t, ir.BaseLayer, s.ActiveLayer())
	assert.False(t, s.PopLayer(ir.BaseLayer), "base cannot be popped")
	assert.False(t, s.RemoveLayer(ir.BaseLayer))
	assert.Equal(t, 1, s.Depth())
}

func TestPopLayerOnlyTop(t *testing.T) {
	s := New()
	require.True(t, s.PushLayer(1))
	require.True(t, s.PushLayer(2))

	assert.False(t, s.PopLayer(1), "non-top pop is a no-op")
	assert.Equal(t, []ir.LayerID{0, 1, 2}, s.Layers(nil))

	assert.True(t, s.PopLayer(2))
	assert.True(t, s.PopLayer(1))
	assert.Equal(t, ir.BaseLayer, s.ActiveLayer())
}

func TestPushSameLayerTwice(t *testing.T) {
	s := New()
	s.PushLayer(0)
	assert.Equal(t, []ir.LayerID{0, 0}, s.Layers(nil))
	assert.True(t, s.PopLayer(0), "a pushed copy of the base id can be popped")
	assert.Equal(t, 1, s.Depth())
}

func TestRemoveLayerKeepsOrder(t *testing.T) {
	s := New()
	s.PushLayer(1)
	s.PushLayer(2)
	s.PushLayer(3)

	assert.True(t, s.RemoveLayer(2))
	assert.Equal(t, []ir.LayerID{0, 1, 3}, s.Layers(nil))
	assert.False(t, s.HasLayer(2))
	assert.True(t, s.HasLayer(3))
	assert.Equal(t, ir.LayerID(3), s.LayerAt(0))
	assert.Equal(t, ir.LayerID(1), s.LayerAt(1))
}

func TestPushLayerFull(t *testing.T) {
	s := New()
	for i := 1; i < MaxLayerDepth; i++ {
		require.True(t, s.PushLayer(ir.LayerID(i)))
	}
	assert.False(t, s.PushLayer(99))
	assert.Equal(t, MaxLayerDepth, s.Depth())
}

func TestResetAndCopy(t *testing.T) {
	s := New()
	s.SetModifier(1)
	s.ToggleLock(2)
	s.PushLayer(5)

	snapshot := *s
	s.Reset()

	assert.True(t, snapshot.IsModifierSet(1), "copies are independent")
	assert.False(t, s.IsModifierSet(1))
	assert.False(t, s.IsLockSet(2))
	assert.Equal(t, []ir.LayerID{0}, s.Layers(nil))
}
