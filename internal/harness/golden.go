package harness

import (
	"bytes"
	"context"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// RenderTrace renders a result as the plain-text trace stored in golden
// files: one line per processor input followed by its indented outputs,
// then the final state.
func RenderTrace(name string, result *Result) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, e := range result.Timeline {
		fmt.Fprintf(&buf, "[%d] %s\n", e.Step, e.Input)
		for _, out := range e.Outputs {
			fmt.Fprintf(&buf, "    %s\n", out)
		}
	}
	st := result.State
	fmt.Fprintf(&buf, "state: layers=%v modifiers=%v locks=%v pending=%d buffered=%d\n",
		st.Layers, st.Modifiers, st.Locks, st.Pending, st.Buffered)
	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Test failure (via goldie) occurs if the trace doesn't match the golden
// file. Returns the result so callers can check Pass as well.
func RunWithGolden(t *testing.T, scenario *Scenario, opts ...Option) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario, opts...)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, RenderTrace(scenarioName, result))
}
