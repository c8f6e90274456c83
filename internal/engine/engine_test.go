package engine

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/keys"
	"github.com/roach88/keyrx/internal/profile"
	"github.com/roach88/keyrx/internal/testutil"
)

var discard = slog.New(slog.DiscardHandler)

func newProcessor(t testing.TB, src *profile.Source, opts ...Option) *Processor {
	t.Helper()
	opts = append([]Option{WithLogger(discard)}, opts...)
	return New(testutil.Index(t, src), opts...)
}

// feed runs events through p and collects every output.
func feed(p *Processor, events ...ir.RawEvent) []ir.OutputEvent {
	var out []ir.OutputEvent
	for _, ev := range events {
		out = p.AppendEvent(out, ev)
	}
	return out
}

func press(k ir.KeyCode, ms uint64) ir.RawEvent {
	return ir.RawEvent{Key: k, Edge: ir.Press, Time: ir.Millis(ms)}
}

func release(k ir.KeyCode, ms uint64) ir.RawEvent {
	return ir.RawEvent{Key: k, Edge: ir.Release, Time: ir.Millis(ms)}
}

func keyOut(k ir.KeyCode, edge ir.Edge, ms uint64) ir.OutputEvent {
	return ir.OutputEvent{Kind: ir.KeyTranslation, Key: k, Edge: edge, Time: ir.Millis(ms)}
}

func sigOut(kind ir.OutputKind, id uint8, edge ir.Edge, ms uint64) ir.OutputEvent {
	return ir.OutputEvent{Kind: kind, ID: id, Edge: edge, Time: ir.Millis(ms)}
}

func tapHold(tap, hold ir.Mapping, timeoutMs uint16, policy ir.Policy) ir.Mapping {
	return ir.TapHold(tap.Action, hold.Action, timeoutMs, policy)
}

func source(layers ...profile.SourceLayer) *profile.Source {
	return &profile.Source{Layers: layers}
}

func TestProcessor_PassthroughWhenUnmapped(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0)))

	events := []ir.RawEvent{press(keys.A, 0), release(keys.A, 10)}
	out := feed(p, events...)

	require.Len(t, out, 2)
	for i, ev := range events {
		assert.Equal(t, ir.Passthrough(ev), out[i])
	}
	assert.Equal(t, uint64(2), p.Stats().Passthrough)
}

func TestProcessor_PassthroughAboveMaxKeyCode(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0, testutil.Map(keys.A, ir.Simple(keys.B)))))

	ev := ir.RawEvent{Key: ir.MaxKeyCode + 1, Edge: ir.Press, Time: 5}
	out := p.ProcessEvent(ev)

	assert.Equal(t, []ir.OutputEvent{ir.Passthrough(ev)}, out)
}

func TestProcessor_ReleaseWithoutPressPassesThrough(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0, testutil.Map(keys.A, ir.Simple(keys.B)))))

	out := p.ProcessEvent(release(keys.A, 0))

	assert.Equal(t, []ir.OutputEvent{keyOut(keys.A, ir.Release, 0)}, out)
}

func TestProcessor_SimpleRemap(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0, testutil.Map(keys.A, ir.Simple(keys.B)))))

	out := feed(p, press(keys.A, 0), release(keys.A, 30))

	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.B, ir.Press, 0),
		keyOut(keys.B, ir.Release, 30),
	}, out)
}

func TestProcessor_InterleavedRemapsKeepInputOrder(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0,
		testutil.Map(keys.A, ir.Simple(keys.B)),
		testutil.Map(keys.C, ir.Simple(keys.D)),
	)))

	out := feed(p, press(keys.A, 0), press(keys.C, 10), release(keys.A, 20), release(keys.C, 30))

	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.B, ir.Press, 0),
		keyOut(keys.D, ir.Press, 10),
		keyOut(keys.B, ir.Release, 20),
		keyOut(keys.D, ir.Release, 30),
	}, out)
}

func TestProcessor_AutoRepeat(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0,
		testutil.Map(keys.A, ir.Simple(keys.B)),
		testutil.Map(keys.CapsLock, ir.Modifier(1)),
	)))

	out := feed(p, press(keys.A, 0), press(keys.A, 500), press(keys.C, 510), press(keys.C, 520))
	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.B, ir.Press, 0),
		keyOut(keys.B, ir.Press, 500),
		keyOut(keys.C, ir.Press, 510),
		keyOut(keys.C, ir.Press, 520),
	}, out, "simple and passthrough keys repeat")

	out = feed(p, press(keys.CapsLock, 600), press(keys.CapsLock, 700))
	assert.Equal(t, []ir.OutputEvent{sigOut(ir.ModifierChange, 1, ir.Press, 600)}, out,
		"modifier repeat is ignored")
	st := p.State()
	assert.Equal(t, 1, st.ModifierRefs(1))
}

func TestProcessor_ModifierRefcount(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0,
		testutil.Map(keys.CapsLock, ir.Modifier(1)),
		testutil.Map(keys.Tab, ir.Modifier(1)),
	)))

	out := feed(p, press(keys.CapsLock, 0), press(keys.Tab, 10), release(keys.CapsLock, 20))
	assert.Equal(t, []ir.OutputEvent{sigOut(ir.ModifierChange, 1, ir.Press, 0)}, out)
	st := p.State()
	assert.True(t, st.IsModifierSet(1), "still held by the second key")

	out = p.ProcessEvent(release(keys.Tab, 30))
	assert.Equal(t, []ir.OutputEvent{sigOut(ir.ModifierChange, 1, ir.Release, 30)}, out)
	st = p.State()
	assert.False(t, st.IsModifierSet(1))
}

func TestProcessor_LockDoubleToggleIsIdentity(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0, testutil.Map(keys.ScrollLock, ir.Lock(2)))))
	before := p.State()

	out := feed(p, press(keys.ScrollLock, 0), release(keys.ScrollLock, 10))
	assert.Equal(t, []ir.OutputEvent{sigOut(ir.LockToggle, 2, ir.Press, 0)}, out)
	st := p.State()
	assert.True(t, st.IsLockSet(2))

	out = feed(p, press(keys.ScrollLock, 20), release(keys.ScrollLock, 30))
	assert.Equal(t, []ir.OutputEvent{sigOut(ir.LockToggle, 2, ir.Release, 20)}, out)
	assert.Equal(t, before, p.State())
}

func layeredSource() *profile.Source {
	return source(
		testutil.Layer(0,
			testutil.Map(keys.Space, ir.LayerSwitch(1, ir.Momentary)),
			testutil.Map(keys.Tab, ir.LayerSwitch(3, ir.Toggle)),
		),
		testutil.Layer(1,
			testutil.Map(keys.J, ir.Simple(keys.Down)),
			testutil.Map(keys.K, ir.LayerSwitch(2, ir.Momentary)),
		),
		testutil.Layer(2,
			testutil.Map(keys.J, ir.Simple(keys.Left)),
		),
		testutil.Layer(3,
			testutil.Map(keys.H, ir.Simple(keys.Left)),
		),
	)
}

func TestProcessor_MomentaryLayersRestoreLIFO(t *testing.T) {
	p := newProcessor(t, layeredSource())

	out := feed(p,
		press(keys.Space, 0),
		press(keys.K, 10),
		press(keys.J, 20), release(keys.J, 30),
		release(keys.K, 40),
		press(keys.J, 50), release(keys.J, 60),
		release(keys.Space, 70),
		press(keys.J, 80), release(keys.J, 90),
	)

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.LayerChange, 1, ir.Press, 0),
		sigOut(ir.LayerChange, 2, ir.Press, 10),
		keyOut(keys.Left, ir.Press, 20),
		keyOut(keys.Left, ir.Release, 30),
		sigOut(ir.LayerChange, 2, ir.Release, 40),
		keyOut(keys.Down, ir.Press, 50),
		keyOut(keys.Down, ir.Release, 60),
		sigOut(ir.LayerChange, 1, ir.Release, 70),
		keyOut(keys.J, ir.Press, 80),
		keyOut(keys.J, ir.Release, 90),
	}, out)
	st := p.State()
	assert.Equal(t, []ir.LayerID{0}, st.Layers(nil))
}

func TestProcessor_OutOfOrderMomentaryRelease(t *testing.T) {
	p := newProcessor(t, layeredSource())

	out := feed(p, press(keys.Space, 0), press(keys.K, 10), release(keys.Space, 20))
	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.LayerChange, 1, ir.Press, 0),
		sigOut(ir.LayerChange, 2, ir.Press, 10),
	}, out, "buried layer stays until it reaches the top")
	st := p.State()
	assert.Equal(t, []ir.LayerID{0, 1, 2}, st.Layers(nil))

	out = p.ProcessEvent(release(keys.K, 30))
	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.LayerChange, 2, ir.Release, 30),
		sigOut(ir.LayerChange, 1, ir.Release, 30),
	}, out)
	st = p.State()
	assert.Equal(t, []ir.LayerID{0}, st.Layers(nil))
}

func TestProcessor_ReleaseUsesPressMapping(t *testing.T) {
	p := newProcessor(t, layeredSource())

	out := feed(p,
		press(keys.Space, 0),
		press(keys.J, 10),
		release(keys.Space, 20),
		release(keys.J, 30),
	)

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.LayerChange, 1, ir.Press, 0),
		keyOut(keys.Down, ir.Press, 10),
		sigOut(ir.LayerChange, 1, ir.Release, 20),
		keyOut(keys.Down, ir.Release, 30),
	}, out)
}

func TestProcessor_ToggleLayer(t *testing.T) {
	p := newProcessor(t, layeredSource())

	out := feed(p,
		press(keys.Tab, 0), release(keys.Tab, 10),
		press(keys.H, 20), release(keys.H, 30),
		press(keys.Tab, 40), release(keys.Tab, 50),
		press(keys.H, 60), release(keys.H, 70),
	)

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.LayerChange, 3, ir.Press, 0),
		keyOut(keys.Left, ir.Press, 20),
		keyOut(keys.Left, ir.Release, 30),
		sigOut(ir.LayerChange, 3, ir.Release, 40),
		keyOut(keys.H, ir.Press, 60),
		keyOut(keys.H, ir.Release, 70),
	}, out)
}

func TestProcessor_ToggleOffBuriedLayer(t *testing.T) {
	p := newProcessor(t, layeredSource())

	out := feed(p, press(keys.Tab, 0), release(keys.Tab, 5), press(keys.Space, 10), press(keys.Tab, 20))

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.LayerChange, 3, ir.Press, 0),
		sigOut(ir.LayerChange, 1, ir.Press, 10),
		sigOut(ir.LayerChange, 3, ir.Release, 20),
	}, out)
	st := p.State()
	assert.Equal(t, []ir.LayerID{0, 1}, st.Layers(nil))
}

func TestProcessor_Macro(t *testing.T) {
	src := source(testutil.Layer(0, testutil.Map(keys.F, ir.Macro(7))))
	src.Macros = []profile.SourceMacro{{Seq: 7, Steps: []ir.MacroStep{
		{Key: keys.LeftShift, Edge: ir.Press},
		{Key: keys.H, Edge: ir.Press, DelayMs: 5},
		{Key: keys.H, Edge: ir.Release, DelayMs: 5},
		{Key: keys.LeftShift, Edge: ir.Release},
	}}}
	p := newProcessor(t, src)

	out := feed(p, press(keys.F, 100), release(keys.F, 200))

	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.LeftShift, ir.Press, 100),
		keyOut(keys.H, ir.Press, 105),
		keyOut(keys.H, ir.Release, 110),
		keyOut(keys.LeftShift, ir.Release, 110),
	}, out, "macro fires on press only")
}

func TestProcessor_MissingMacro(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0, testutil.Map(keys.F, ir.Macro(9)))))

	out := feed(p, press(keys.F, 0), release(keys.F, 10))

	assert.Empty(t, out)
	assert.Equal(t, uint64(1), p.Stats().MissingMacros)
}

func TestProcessor_MalformedRecordPassesThrough(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	src := source(
		testutil.Layer(0, testutil.Map(keys.A, ir.Simple(keys.B))),
		testutil.Layer(1, testutil.Map(keys.A, ir.Mapping{Action: ir.Action{Kind: 42}})),
	)
	src.Layers[0].Entries = append(src.Layers[0].Entries, testutil.Map(keys.Tab, ir.LayerSwitch(1, ir.Toggle)))
	p := New(testutil.Index(t, src, keyindex.WithLogger(logger)), WithLogger(logger))

	feed(p, press(keys.Tab, 0), release(keys.Tab, 5))
	out := feed(p, press(keys.A, 10), release(keys.A, 20), press(keys.A, 30), release(keys.A, 40))

	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.A, ir.Press, 10),
		keyOut(keys.A, ir.Release, 20),
		keyOut(keys.A, ir.Press, 30),
		keyOut(keys.A, ir.Release, 40),
	}, out, "malformed record does not fall through to the base layer")
	assert.Equal(t, uint64(2), p.Stats().Malformed)
	assert.Equal(t, 1, bytes.Count(logs.Bytes(), []byte("malformed mapping record")))
}

func TestProcessor_DeviceScopedLayer(t *testing.T) {
	p := newProcessor(t, source(
		testutil.Layer(0, testutil.Map(keys.A, ir.Simple(keys.B))),
		testutil.DeviceLayer(0, "*keychron*", testutil.Map(keys.A, ir.Simple(keys.C))),
	))
	p.BindDevice(1, "Keychron K2")

	kb := func(edge ir.Edge, ms uint64) ir.RawEvent {
		return ir.RawEvent{Device: 1, Key: keys.A, Edge: edge, Time: ir.Millis(ms)}
	}
	out := feed(p, kb(ir.Press, 0), kb(ir.Release, 1))
	require.Len(t, out, 2)
	assert.Equal(t, keys.C, out[0].Key)
	assert.Equal(t, ir.DeviceID(1), out[0].Device)

	out = feed(p, press(keys.A, 2), release(keys.A, 3))
	require.Len(t, out, 2)
	assert.Equal(t, keys.B, out[0].Key, "other devices use the global layer")

	name, ok := p.DeviceName(1)
	assert.True(t, ok)
	assert.Equal(t, "Keychron K2", name)

	p.UnbindDevice(1)
	out = p.ProcessEvent(kb(ir.Press, 4))
	require.Len(t, out, 1)
	assert.Equal(t, keys.B, out[0].Key)
}

func TestProcessor_TimestampsNeverDecrease(t *testing.T) {
	p := newProcessor(t, source(testutil.Layer(0,
		testutil.Map(keys.F, tapHold(ir.Simple(keys.F), ir.Modifier(1), 200, ir.TimeoutOnly)),
		testutil.Map(keys.A, ir.Simple(keys.B)),
	)))

	out := feed(p,
		press(keys.F, 0), press(keys.A, 20), release(keys.A, 40), press(keys.J, 60),
		release(keys.F, 100), release(keys.J, 120),
		press(keys.F, 300), press(keys.A, 320), release(keys.A, 330), release(keys.F, 700),
	)

	require.NotEmpty(t, out)
	for i := 1; i < len(out); i++ {
		assert.GreaterOrEqual(t, out[i].Time, out[i-1].Time, "output %d", i)
	}
}

func TestProcessor_ProcessEventDoesNotAllocate(t *testing.T) {
	p := newProcessor(t, source(
		testutil.Layer(0,
			testutil.Map(keys.A, ir.Simple(keys.B)),
			testutil.Map(keys.Space, ir.LayerSwitch(1, ir.Momentary)),
			testutil.Map(keys.F, tapHold(ir.Simple(keys.F), ir.Modifier(1), 200, ir.ResolveOnInterrupt)),
		),
		testutil.Layer(1, testutil.Map(keys.J, ir.Simple(keys.Down))),
	))
	events := []ir.RawEvent{
		press(keys.A, 0), release(keys.A, 1),
		press(keys.Space, 2), press(keys.J, 3), release(keys.J, 4), release(keys.Space, 5),
		press(keys.F, 6), press(keys.C, 7), release(keys.C, 8), release(keys.F, 9),
	}
	var now ir.Timestamp
	allocs := testing.AllocsPerRun(100, func() {
		for _, ev := range events {
			ev.Time += now
			p.ProcessEvent(ev)
		}
		now += ir.Millis(10)
	})
	assert.Zero(t, allocs)
}

func BenchmarkProcessor_ProcessEvent(b *testing.B) {
	p := newProcessor(b, source(testutil.Layer(0,
		testutil.Map(keys.A, ir.Simple(keys.B)),
		testutil.Map(keys.CapsLock, ir.Modifier(1)),
	)))
	ev := [4]ir.RawEvent{
		press(keys.CapsLock, 0), press(keys.A, 0), release(keys.A, 0), release(keys.CapsLock, 0),
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e := ev[i&3]
		e.Time = ir.Timestamp(i)
		p.ProcessEvent(e)
	}
}
