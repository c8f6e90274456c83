package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/keys"
	"github.com/roach88/keyrx/internal/profile"
	"github.com/roach88/keyrx/internal/testutil"
)

var discard = slog.New(slog.DiscardHandler)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// homeRowProfile maps a to b and f to tap f / hold left shift (modifier 1).
func homeRowProfile(t *testing.T) []byte {
	t.Helper()
	return testutil.Encode(t, &profile.Source{Layers: []profile.SourceLayer{
		testutil.Layer(0,
			testutil.Map(keys.A, ir.Simple(keys.B)),
			testutil.Map(keys.F, ir.TapHold(ir.Simple(keys.F).Action, ir.Modifier(1).Action, 200, ir.TimeoutOnly)),
		),
	}})
}

// altProfile maps a to c instead.
func altProfile(t *testing.T) []byte {
	t.Helper()
	return testutil.Encode(t, &profile.Source{Layers: []profile.SourceLayer{
		testutil.Layer(0, testutil.Map(keys.A, ir.Simple(keys.C))),
	}})
}

func processorFor(t *testing.T, data []byte) *engine.Processor {
	t.Helper()
	st, err := profile.Load(data)
	require.NoError(t, err)
	idx, err := keyindex.Build(st)
	require.NoError(t, err)
	return engine.New(idx, engine.WithLogger(discard))
}

func testSteps() []engine.Step {
	s := testutil.NewScript(0)
	s.Tap(keys.A, 0, 30)
	s.Press(keys.F, 40)
	events := s.Events()

	steps := make([]engine.Step, 0, len(events)+2)
	for _, ev := range events {
		steps = append(steps, engine.EventStep(ev))
	}
	steps = append(steps, engine.TickStep(ir.Millis(300)))
	steps = append(steps, engine.EventStep(ir.RawEvent{Key: keys.F, Edge: ir.Release, Time: ir.Millis(320)}))
	return steps
}

// recordRun runs testSteps against data and stores the run under id.
func recordRun(t *testing.T, s *Store, id string, data []byte) (Recording, []engine.Frame) {
	t.Helper()
	p := processorFor(t, data)
	p.BindDevice(0, "Keychron K2")
	devices := p.Devices()
	frames := engine.Simulate(p, testSteps())

	rec, err := s.WriteRecording(context.Background(), Recording{
		ID:              id,
		Name:            "home-row",
		Profile:         data,
		ProfileChecksum: ir.ChecksumHex(p.Index().Store().Header().Checksum),
		FormatVersion:   p.Index().Store().Header().VersionString(),
		Devices:         devices,
	}, frames)
	require.NoError(t, err)
	return rec, frames
}
