package harness

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/keyrx/internal/compiler"
	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/keys"
	"github.com/roach88/keyrx/internal/profile"
	"github.com/roach88/keyrx/internal/store"
)

// Option configures a scenario run.
type Option func(*Harness)

// WithLogger sets the logger handed to the processor.
//
// Default: a logger that discards everything (scenarios are quiet).
func WithLogger(logger *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = logger
	}
}

// WithRecorder stores every run as a recording in st, with IDs from ids.
func WithRecorder(st *store.Store, ids store.IDGenerator) Option {
	return func(h *Harness) {
		h.store = st
		h.ids = ids
	}
}

// Harness is the test execution engine.
// It runs one scenario against a fresh processor and a virtual clock.
type Harness struct {
	processor *engine.Processor
	clock     *engine.VirtualClock
	profile   []byte
	logger    *slog.Logger
	store     *store.Store
	ids       store.IDGenerator
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Compile or load the profile and build a processor
//  2. Bind the scenario's devices
//  3. Expand steps into processor inputs on the virtual clock
//  4. Feed the inputs and collect per-step output and state
//  5. Check step expectations and assertions
//  6. Store the run when a recorder is configured
//
// An error is returned only when the scenario cannot be run at all; failed
// expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		clock:  engine.NewVirtualClock(0),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(h)
	}

	data, err := compiler.ReadProfile(scenario.Profile)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	st, err := profile.Load(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	idx, err := keyindex.Build(st, keyindex.WithLogger(h.logger))
	if err != nil {
		return nil, fmt.Errorf("failed to index profile: %w", err)
	}
	h.profile = data
	h.processor = engine.New(idx,
		engine.WithLogger(h.logger),
		engine.WithInterruptOnRelease(scenario.InterruptOnRelease),
	)

	for _, d := range scenario.Devices {
		h.processor.BindDevice(d.ID, d.Name)
	}
	devices := h.processor.Devices()

	var (
		steps []engine.Step
		owner []int
	)
	for i, s := range scenario.Steps {
		expanded, err := h.expand(s)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		for range expanded {
			owner = append(owner, i)
		}
		steps = append(steps, expanded...)
	}

	frames := engine.Simulate(h.processor, steps)

	result := NewResult()
	perStep := make([][]string, len(scenario.Steps))
	for i, f := range frames {
		input := FormatStep(f.Step)
		result.AddInputTrace(owner[i], input)

		entry := TimelineEntry{Step: owner[i], Input: input, State: f.State}
		for _, o := range f.Output {
			text := FormatOutput(o)
			result.AddOutputTrace(owner[i], text)
			entry.Outputs = append(entry.Outputs, text)
		}
		perStep[owner[i]] = append(perStep[owner[i]], entry.Outputs...)
		result.Timeline = append(result.Timeline, entry)
	}
	result.Outputs = engine.Outputs(frames)
	result.State = h.processor.Snapshot()
	result.Stats = h.processor.Stats()

	for i, s := range scenario.Steps {
		if s.Expect == nil {
			continue
		}
		if err := checkExpect(i, *s.Expect, perStep[i]); err != nil {
			result.AddError(err.Error())
		}
	}

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(errMsg)
	}

	if h.store != nil {
		id, err := h.record(ctx, scenario, devices, frames)
		if err != nil {
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
		result.RecordingID = id
	}

	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"steps", len(steps),
		"outputs", len(result.Outputs),
		"pass", result.Pass,
	)

	return result, nil
}

// expand converts a scenario step into processor inputs, advancing the clock.
func (h *Harness) expand(s Step) ([]engine.Step, error) {
	if s.At != nil {
		h.clock.Set(ir.Millis(*s.At))
	}
	now := h.clock.Now()

	keyStep := func(name string, edge ir.Edge, t ir.Timestamp) (engine.Step, error) {
		code, err := keys.Parse(name)
		if err != nil {
			return engine.Step{}, err
		}
		return engine.EventStep(ir.RawEvent{Device: s.Device, Key: code, Edge: edge, Time: t}), nil
	}

	switch {
	case s.Press != "":
		st, err := keyStep(s.Press, ir.Press, now)
		return []engine.Step{st}, err
	case s.Release != "":
		st, err := keyStep(s.Release, ir.Release, now)
		return []engine.Step{st}, err
	case s.Tap != "":
		down, err := keyStep(s.Tap, ir.Press, now)
		if err != nil {
			return nil, err
		}
		up, err := keyStep(s.Tap, ir.Release, h.clock.Advance(ir.Millis(s.Hold)))
		return []engine.Step{down, up}, err
	case s.Wait != 0:
		return []engine.Step{engine.TickStep(h.clock.Advance(ir.Millis(s.Wait)))}, nil
	default:
		return []engine.Step{engine.TickStep(now)}, nil
	}
}

// checkExpect compares the outputs of one scenario step with its expect list.
func checkExpect(step int, want, got []string) error {
	if len(want) == len(got) {
		match := true
		for i := range want {
			if !MatchOutput(want[i], got[i]) {
				match = false
				break
			}
		}
		if match {
			return nil
		}
	}
	return &AssertionError{
		Type:     fmt.Sprintf("steps[%d].expect", step),
		Expected: fmt.Sprintf("%q", want),
		Actual:   fmt.Sprintf("%q", got),
	}
}

func (h *Harness) record(ctx context.Context, scenario *Scenario, devices map[ir.DeviceID]string, frames []engine.Frame) (string, error) {
	header := h.processor.Index().Store().Header()
	rec, err := h.store.WriteRecording(ctx, store.Recording{
		ID:                 h.ids.Generate(),
		Name:               scenario.Name,
		Profile:            h.profile,
		ProfileChecksum:    ir.ChecksumHex(header.Checksum),
		FormatVersion:      header.VersionString(),
		InterruptOnRelease: scenario.InterruptOnRelease,
		Devices:            devices,
	}, frames)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}
