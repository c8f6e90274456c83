package engine

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
	"github.com/roach88/keyrx/internal/profile"
	"github.com/roach88/keyrx/internal/testutil"
)

// homeRow maps F to tap F / hold modifier 1 with a 200ms threshold.
func homeRow(policy ir.Policy) *profile.Source {
	return source(testutil.Layer(0,
		testutil.Map(keys.F, tapHold(ir.Simple(keys.F), ir.Modifier(1), 200, policy)),
		testutil.Map(keys.A, ir.Simple(keys.B)),
	))
}

func TestTapHold_QuickReleaseIsTap(t *testing.T) {
	for _, policy := range []ir.Policy{ir.TimeoutOnly, ir.ResolveOnInterrupt} {
		t.Run(policy.String(), func(t *testing.T) {
			p := newProcessor(t, homeRow(policy))

			assert.Empty(t, p.ProcessEvent(press(keys.F, 0)))
			assert.Equal(t, 1, p.Pending())

			out := p.ProcessEvent(release(keys.F, 100))
			assert.Equal(t, []ir.OutputEvent{
				keyOut(keys.F, ir.Press, 100),
				keyOut(keys.F, ir.Release, 100),
			}, out)
			assert.Zero(t, p.Pending())
		})
	}
}

func TestTapHold_TickPastThresholdIsHold(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	p.ProcessEvent(press(keys.F, 0))
	assert.Empty(t, p.Tick(ir.Millis(199)))
	assert.Equal(t, 1, p.Pending())

	out := p.Tick(ir.Millis(250))
	assert.Equal(t, []ir.OutputEvent{sigOut(ir.ModifierChange, 1, ir.Press, 200)}, out,
		"hold is stamped at the deadline, not the tick")
	assert.Empty(t, p.Tick(ir.Millis(300)), "a session resolves exactly once")

	assert.Zero(t, p.Pending(), "a key held past its threshold is no longer pending")
	assert.Zero(t, p.Snapshot().Pending)

	out = p.ProcessEvent(release(keys.F, 400))
	assert.Equal(t, []ir.OutputEvent{sigOut(ir.ModifierChange, 1, ir.Release, 400)}, out)
	assert.Zero(t, p.Pending())
}

func TestTapHold_ReleaseExactlyAtThresholdIsHold(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	out := feed(p, press(keys.F, 0), release(keys.F, 200))

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.ModifierChange, 1, ir.Press, 200),
		sigOut(ir.ModifierChange, 1, ir.Release, 200),
	}, out)
}

func TestTapHold_LaterEventResolvesWithoutTick(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	out := feed(p, press(keys.F, 0), press(keys.J, 250), release(keys.J, 260), release(keys.F, 300))

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.ModifierChange, 1, ir.Press, 200),
		keyOut(keys.J, ir.Press, 250),
		keyOut(keys.J, ir.Release, 260),
		sigOut(ir.ModifierChange, 1, ir.Release, 300),
	}, out)
}

func TestTapHold_TimeoutOnlyBuffersInterrupt(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	out := feed(p, press(keys.F, 0), press(keys.A, 50))
	assert.Empty(t, out, "interrupting press waits for the session")
	assert.Equal(t, 1, p.Buffered())

	out = p.ProcessEvent(release(keys.F, 100))
	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.F, ir.Press, 100),
		keyOut(keys.B, ir.Press, 100),
		keyOut(keys.F, ir.Release, 100),
	}, out, "tap first, then the buffered press, in input order")
	assert.Zero(t, p.Buffered())

	out = p.ProcessEvent(release(keys.A, 150))
	assert.Equal(t, []ir.OutputEvent{keyOut(keys.B, ir.Release, 150)}, out)
}

func TestTapHold_BufferedStatCountsHeldBackEvents(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	feed(p, press(keys.F, 0), press(keys.A, 10), press(keys.C, 20), release(keys.A, 30))
	assert.Equal(t, 3, p.Buffered())
	assert.Equal(t, uint64(3), p.Stats().Buffered)

	feed(p, release(keys.F, 40), press(keys.J, 50))
	assert.Zero(t, p.Buffered())
	assert.Equal(t, uint64(3), p.Stats().Buffered, "events that flow straight through are not counted")
}

func TestTapHold_TimeoutOnlyHoldThenBuffered(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	feed(p, press(keys.F, 0), press(keys.A, 50))
	out := p.Tick(ir.Millis(200))

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.ModifierChange, 1, ir.Press, 200),
		keyOut(keys.B, ir.Press, 200),
	}, out, "buffered press follows the hold and never goes back in time")
	st := p.State()
	assert.True(t, st.IsModifierSet(1))
}

func TestTapHold_TimeoutOnlyReleasesPassAhead(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	out := feed(p, press(keys.A, 0), press(keys.F, 10), release(keys.A, 20))

	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.B, ir.Press, 0),
		keyOut(keys.B, ir.Release, 20),
	}, out, "releases do not interrupt by default")
	assert.Equal(t, 1, p.Pending())
}

func TestTapHold_ResolveOnInterrupt(t *testing.T) {
	p := newProcessor(t, homeRow(ir.ResolveOnInterrupt))

	out := feed(p, press(keys.F, 0), press(keys.A, 50), release(keys.A, 60), release(keys.F, 100))

	assert.Equal(t, []ir.OutputEvent{
		sigOut(ir.ModifierChange, 1, ir.Press, 50),
		keyOut(keys.B, ir.Press, 50),
		keyOut(keys.B, ir.Release, 60),
		sigOut(ir.ModifierChange, 1, ir.Release, 100),
	}, out)
}

func TestTapHold_InterruptOnRelease(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		p := newProcessor(t, homeRow(ir.ResolveOnInterrupt))

		out := feed(p, press(keys.J, 0), press(keys.F, 10), release(keys.J, 20))
		assert.Equal(t, []ir.OutputEvent{
			keyOut(keys.J, ir.Press, 0),
			keyOut(keys.J, ir.Release, 20),
		}, out)
		assert.Equal(t, 1, p.Pending())
	})

	t.Run("enabled", func(t *testing.T) {
		p := newProcessor(t, homeRow(ir.ResolveOnInterrupt), WithInterruptOnRelease(true))

		out := feed(p, press(keys.J, 0), press(keys.F, 10), release(keys.J, 20))
		assert.Equal(t, []ir.OutputEvent{
			keyOut(keys.J, ir.Press, 0),
			sigOut(ir.ModifierChange, 1, ir.Press, 20),
			keyOut(keys.J, ir.Release, 20),
		}, out)
	})

	t.Run("enabled buffers behind timeout-only", func(t *testing.T) {
		p := newProcessor(t, homeRow(ir.TimeoutOnly), WithInterruptOnRelease(true))

		out := feed(p, press(keys.J, 0), press(keys.F, 10), release(keys.J, 20))
		assert.Equal(t, []ir.OutputEvent{keyOut(keys.J, ir.Press, 0)}, out)
		assert.Equal(t, 1, p.Buffered())
	})
}

func TestTapHold_NestedSessions(t *testing.T) {
	src := source(testutil.Layer(0,
		testutil.Map(keys.F, tapHold(ir.Simple(keys.F), ir.Modifier(1), 200, ir.TimeoutOnly)),
		testutil.Map(keys.J, tapHold(ir.Simple(keys.J), ir.Modifier(2), 200, ir.TimeoutOnly)),
	))
	p := newProcessor(t, src)

	out := feed(p, press(keys.F, 0), press(keys.J, 50), release(keys.J, 80), release(keys.F, 100))

	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.F, ir.Press, 100),
		keyOut(keys.J, ir.Press, 100),
		keyOut(keys.J, ir.Release, 100),
		keyOut(keys.F, ir.Release, 100),
	}, out)
	assert.Zero(t, p.Pending())
	assert.Zero(t, p.Buffered())
}

func TestTapHold_DuplicatePressIgnored(t *testing.T) {
	p := newProcessor(t, homeRow(ir.ResolveOnInterrupt))

	out := feed(p, press(keys.F, 0), press(keys.F, 30), release(keys.F, 60))

	assert.Equal(t, []ir.OutputEvent{
		keyOut(keys.F, ir.Press, 60),
		keyOut(keys.F, ir.Release, 60),
	}, out)
}

func TestTapHold_NextDeadline(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	_, ok := p.NextDeadline()
	assert.False(t, ok)

	p.ProcessEvent(press(keys.F, 10))
	d, ok := p.NextDeadline()
	require.True(t, ok)
	assert.Equal(t, ir.Millis(210), d)
}

func TestTapHold_BufferOverflowForcesHold(t *testing.T) {
	var logs bytes.Buffer
	p := New(testutil.Index(t, homeRow(ir.TimeoutOnly)),
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	out := p.ProcessEvent(press(keys.F, 0))
	require.Empty(t, out)

	var all []ir.OutputEvent
	for i := 0; i <= MaxBuffered; i++ {
		all = p.AppendEvent(all, press(ir.KeyCode(100+i), uint64(1+i)))
	}

	require.Len(t, all, MaxBuffered+2)
	assert.Equal(t, sigOut(ir.ModifierChange, 1, ir.Press, MaxBuffered+1), all[0],
		"overflow forces the blocking session to hold")
	for i := 1; i < len(all); i++ {
		assert.Equal(t, ir.KeyCode(100+i-1), all[i].Key)
	}
	assert.Equal(t, uint64(1), p.Stats().Overflows)
	assert.Contains(t, logs.String(), string(ErrCodeBufferOverflow))
}

func TestTapHold_SessionsExhaustedUsesTap(t *testing.T) {
	var entries []profile.Entry
	for i := 0; i <= 32; i++ {
		k := ir.KeyCode(100 + i)
		entries = append(entries, testutil.Map(k, tapHold(ir.Simple(k), ir.Modifier(uint8(i)), 200, ir.ResolveOnInterrupt)))
	}
	p := newProcessor(t, source(testutil.Layer(0, entries...)))

	var all []ir.OutputEvent
	for i := 0; i <= 32; i++ {
		all = p.AppendEvent(all, press(ir.KeyCode(100+i), uint64(i)))
	}

	assert.Equal(t, uint64(1), p.Stats().SessionsExhausted)
	assert.Equal(t, keyOut(132, ir.Press, 32), all[len(all)-1], "33rd press falls back to the tap action")

	out := p.ProcessEvent(release(132, 40))
	assert.Equal(t, []ir.OutputEvent{keyOut(132, ir.Release, 40)}, out)
}
