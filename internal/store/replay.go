package store

import (
	"context"
	"fmt"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
)

// MaxDivergences bounds the divergences kept in a ReplayResult.
const MaxDivergences = 64

// Divergence is one position where a replay differs from the recording.
// Want or Got is nil when one side produced fewer events for the step.
type Divergence struct {
	Step  int
	Index int
	Want  *ir.OutputEvent
	Got   *ir.OutputEvent
}

// String renders the divergence for reports.
func (d Divergence) String() string {
	return fmt.Sprintf("step %d #%d: want %s, got %s", d.Step, d.Index, describe(d.Want), describe(d.Got))
}

func describe(e *ir.OutputEvent) string {
	if e == nil {
		return "nothing"
	}
	return fmt.Sprintf("%s key=%d id=%d %s dev=%d @%d", e.Kind, e.Key, e.ID, e.Edge, e.Device, e.Time)
}

// ReplayResult reports how a replay compared to the stored recording.
type ReplayResult struct {
	RecordingID string
	Steps       int
	Outputs     int
	Digest      string
	// Match is true when every output event is identical to the recording.
	Match bool
	// ProfileMismatch is true when the processor runs a different profile
	// than the one recorded; divergences are then expected.
	ProfileMismatch bool
	// Divergences holds at most MaxDivergences entries; Diverged counts all.
	Divergences []Divergence
	Diverged    int
}

// Replay feeds the recorded steps to p and compares its output with the
// recorded output, step by step.
//
// Recorded device bindings are applied to p first. p should be fresh;
// replaying into a processor with leftover state compares against a
// different starting point.
func (s *Store) Replay(ctx context.Context, id string, p *engine.Processor) (*ReplayResult, error) {
	rec, err := s.ReadRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.ReadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	recorded, err := s.ReadOutputs(ctx, id)
	if err != nil {
		return nil, err
	}

	for dev, name := range rec.Devices {
		p.BindDevice(dev, name)
	}

	frames := engine.Simulate(p, steps)
	want := groupByStep(recorded, len(steps))

	checksum := ir.ChecksumHex(p.Index().Store().Header().Checksum)
	res := &ReplayResult{
		RecordingID:     id,
		Steps:           len(steps),
		ProfileMismatch: checksum != rec.ProfileChecksum,
	}
	all := engine.Outputs(frames)
	res.Outputs = len(all)
	res.Digest = Digest(all)

	for i, f := range frames {
		compareStep(res, i, want[i], f.Output)
	}
	res.Match = res.Diverged == 0 && res.Digest == rec.Digest
	return res, nil
}

func groupByStep(outs []RecordedOutput, steps int) [][]ir.OutputEvent {
	grouped := make([][]ir.OutputEvent, steps)
	for _, o := range outs {
		if o.Step < 0 || o.Step >= steps {
			continue
		}
		grouped[o.Step] = append(grouped[o.Step], o.Event)
	}
	return grouped
}

func compareStep(res *ReplayResult, step int, want, got []ir.OutputEvent) {
	n := max(len(want), len(got))
	for i := 0; i < n; i++ {
		var w, g *ir.OutputEvent
		if i < len(want) {
			w = &want[i]
		}
		if i < len(got) {
			g = &got[i]
		}
		if w != nil && g != nil && *w == *g {
			continue
		}
		res.Diverged++
		if len(res.Divergences) < MaxDivergences {
			res.Divergences = append(res.Divergences, Divergence{Step: step, Index: i, Want: w, Got: g})
		}
	}
}
