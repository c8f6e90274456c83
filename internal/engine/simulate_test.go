package engine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
	"github.com/roach88/keyrx/internal/testutil"
)

func TestSimulate_FramesCarrySnapshots(t *testing.T) {
	p := newProcessor(t, layeredSource())
	steps := []Step{
		EventStep(press(keys.Space, 0)),
		EventStep(press(keys.J, 10)),
		EventStep(release(keys.J, 20)),
		EventStep(release(keys.Space, 30)),
		TickStep(ir.Millis(40)),
	}

	frames := Simulate(p, steps)

	require.Len(t, frames, len(steps))
	assert.Equal(t, []ir.LayerID{0, 1}, frames[0].State.Layers)
	assert.Equal(t, []ir.OutputEvent{keyOut(keys.Down, ir.Press, 10)}, frames[1].Output)
	assert.Equal(t, []ir.LayerID{0}, frames[3].State.Layers)
	assert.Empty(t, frames[4].Output)
	assert.Equal(t, steps[4], frames[4].Step)
	assert.Len(t, Outputs(frames), 4)
}

func TestSimulate_IsDeterministic(t *testing.T) {
	script := testutil.NewScript(0).
		Press(keys.F, 0).Press(keys.A, 50).Release(keys.F, 100).Release(keys.A, 120).
		Press(keys.F, 200).Release(keys.F, 500)
	var steps []Step
	for _, ev := range script.Events() {
		steps = append(steps, EventStep(ev))
	}

	a := Simulate(newProcessor(t, homeRow(ir.TimeoutOnly)), steps)
	b := Simulate(newProcessor(t, homeRow(ir.TimeoutOnly)), steps)

	assert.Equal(t, a, b)
}

func TestSimulate_SnapshotReportsPendingAndBuffered(t *testing.T) {
	p := newProcessor(t, homeRow(ir.TimeoutOnly))

	frames := Simulate(p, []Step{
		EventStep(press(keys.F, 0)),
		EventStep(press(keys.A, 10)),
		TickStep(ir.Millis(300)),
	})

	assert.Equal(t, 1, frames[1].State.Pending)
	assert.Equal(t, 1, frames[1].State.Buffered)
	assert.Zero(t, frames[2].State.Buffered)
	assert.Equal(t, []uint8{1}, frames[2].State.Modifiers)
}

func TestStep_String(t *testing.T) {
	assert.Equal(t, "tick @5000", TickStep(ir.Millis(5)).String())
	assert.Equal(t, "press 30 dev=0 @0", EventStep(press(keys.A, 0)).String())
}

func TestSnapshot_MarshalJSON(t *testing.T) {
	snap := Snapshot{
		Modifiers: []uint8{1, 3},
		Locks:     nil,
		Layers:    []ir.LayerID{0, 2},
		Pending:   1,
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.JSONEq(t, `{"modifiers":[1,3],"locks":[],"layers":[0,2],"pending":1,"buffered":0}`, string(data))
}
