package engine

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/keyrx/internal/ir"
)

// StepKind selects what a simulation step feeds the processor.
type StepKind uint8

const (
	// StepEvent feeds Event to ProcessEvent.
	StepEvent StepKind = iota
	// StepTick calls Tick at Time.
	StepTick
)

// Step is one scripted input.
type Step struct {
	Kind  StepKind
	Event ir.RawEvent
	Time  ir.Timestamp
}

// EventStep returns a step that processes ev.
func EventStep(ev ir.RawEvent) Step {
	return Step{Kind: StepEvent, Event: ev, Time: ev.Time}
}

// TickStep returns a step that ticks at now.
func TickStep(now ir.Timestamp) Step {
	return Step{Kind: StepTick, Time: now}
}

// String renders the step for traces.
func (s Step) String() string {
	if s.Kind == StepTick {
		return fmt.Sprintf("tick @%d", s.Time)
	}
	return fmt.Sprintf("%s %d dev=%d @%d", s.Event.Edge, s.Event.Key, s.Event.Device, s.Event.Time)
}

// Snapshot is a copy of the processor state after a step.
type Snapshot struct {
	Modifiers []uint8      `json:"modifiers"`
	Locks     []uint8      `json:"locks"`
	Layers    []ir.LayerID `json:"layers"`
	Pending   int          `json:"pending"`
	Buffered  int          `json:"buffered"`
}

// Snapshot captures the current state. It allocates and is meant for
// tooling, not for the event path.
func (p *Processor) Snapshot() Snapshot {
	mods := p.state.Modifiers()
	locks := p.state.Locks()
	return Snapshot{
		Modifiers: mods.IDs(nil),
		Locks:     locks.IDs(nil),
		Layers:    p.state.Layers(nil),
		Pending:   p.holds.Pending(),
		Buffered:  p.queue.Len(),
	}
}

// MarshalJSON encodes the ID sets as number arrays rather than the
// base64 strings encoding/json uses for byte slices.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	ints := func(ids []uint8) []int {
		out := make([]int, len(ids))
		for i, id := range ids {
			out[i] = int(id)
		}
		return out
	}
	layers := make([]int, len(s.Layers))
	for i, l := range s.Layers {
		layers[i] = int(l)
	}
	return json.Marshal(struct {
		Modifiers []int `json:"modifiers"`
		Locks     []int `json:"locks"`
		Layers    []int `json:"layers"`
		Pending   int   `json:"pending"`
		Buffered  int   `json:"buffered"`
	}{ints(s.Modifiers), ints(s.Locks), layers, s.Pending, s.Buffered})
}

// Frame is the result of one simulation step.
type Frame struct {
	Step   Step
	Output []ir.OutputEvent
	State  Snapshot
}

// Simulate runs steps through p in order and records the output and state
// after each one. Output slices are owned by the frames.
//
// The same steps against the same profile always produce the same frames:
// the processor reads no clock and keeps no hidden randomness.
func Simulate(p *Processor, steps []Step) []Frame {
	frames := make([]Frame, 0, len(steps))
	for _, st := range steps {
		var out []ir.OutputEvent
		switch st.Kind {
		case StepTick:
			out = p.AppendTick(nil, st.Time)
		default:
			out = p.AppendEvent(nil, st.Event)
		}
		frames = append(frames, Frame{Step: st, Output: out, State: p.Snapshot()})
	}
	return frames
}

// Outputs flattens the output of every frame.
func Outputs(frames []Frame) []ir.OutputEvent {
	var all []ir.OutputEvent
	for _, f := range frames {
		all = append(all, f.Output...)
	}
	return all
}
