package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/keyrx/internal/harness"
	"github.com/roach88/keyrx/internal/store"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	GoldenDir string // golden directory (default: <scenario dir>/golden)
	Update    bool   // regenerate golden files
	Filter    string // glob on scenario file names
	Record    bool
	Database  string
}

// ScenarioResult is the outcome of one scenario.
type ScenarioResult struct {
	Name        string   `json:"name"`
	Path        string   `json:"path"`
	Pass        bool     `json:"pass"`
	Golden      string   `json:"golden,omitempty"` // "match", "updated", "mismatch"
	Errors      []string `json:"errors,omitempty"`
	RecordingID string   `json:"recording_id,omitempty"`
}

// TestResult is the test command payload.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
}

// String renders the result for text output.
func (r TestResult) String() string {
	if r.Total == 0 {
		return "No scenarios found."
	}
	var b strings.Builder
	for _, s := range r.Scenarios {
		mark := "✓"
		if !s.Pass {
			mark = "✗"
		}
		fmt.Fprintf(&b, "%s %s", mark, s.Name)
		if s.Golden == "updated" {
			b.WriteString(" (golden updated)")
		}
		b.WriteByte('\n')
		for _, e := range s.Errors {
			fmt.Fprintf(&b, "  %s\n", e)
		}
	}
	fmt.Fprintf(&b, "\n%d scenario(s): %d passed, %d failed", r.Total, r.Passed, r.Failed)
	return b.String()
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenario-path>...",
		Short: "Run conformance scenarios",
		Long: `Run YAML test scenarios against their profiles.

Each path may be a scenario file or a directory searched recursively for
.yaml and .yml files. A scenario passes when every step expectation and
assertion holds and, if a golden file named after the scenario exists, its
trace matches the golden file byte for byte.

Exits 1 when any scenario fails.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.GoldenDir, "golden-dir", "", "golden file directory (default: <scenario dir>/golden)")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "store every run in the recording database")
	cmd.Flags().StringVar(&opts.Database, "db", "keyrx.db", "recording database path")

	return cmd
}

func runTests(opts *TestOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	files, err := harness.DiscoverScenarios(paths...)
	if err != nil {
		var nf *harness.ScenarioNotFoundError
		if errors.As(err, &nf) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("failed to find scenarios: %v", err), nil)
	}
	files, err = filterScenarios(files, opts.Filter)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	runOpts := []harness.Option{harness.WithLogger(opts.Logger)}
	if opts.Record {
		st, err := store.Open(opts.Config.GetString(KeyDatabase))
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("open recording database: %v", err), nil)
		}
		defer st.Close()
		runOpts = append(runOpts, harness.WithRecorder(st, store.UUIDv7Generator{}))
	}

	suite, err := harness.RunSuite(cmd.Context(), files, runOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "test run interrupted", err)
	}

	result := TestResult{Scenarios: make([]ScenarioResult, 0, len(files)), Total: len(files)}
	failures := make(map[string]harness.ScenarioFailure, len(suite.Failures))
	for _, f := range suite.Failures {
		failures[f.ScenarioPath] = f
	}

	for _, path := range files {
		sr := opts.scenarioResult(path, suite.Results[path], failures)
		if sr.Pass {
			result.Passed++
		} else {
			result.Failed++
		}
		result.Scenarios = append(result.Scenarios, sr)
	}

	opts.Logger.Debug("test run finished", "total", result.Total, "passed", result.Passed, "failed", result.Failed)

	if result.Failed > 0 {
		return formatter.failWith(ExitFailure, ErrCodeValidation, fmt.Sprintf("%d scenario(s) failed", result.Failed), result)
	}
	return formatter.Success(result)
}

// scenarioResult combines the harness outcome of one scenario with its
// golden file check.
func (o *TestOptions) scenarioResult(path string, res *harness.Result, failures map[string]harness.ScenarioFailure) ScenarioResult {
	sr := ScenarioResult{Name: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), Path: path}
	if res == nil {
		// Failed to load or run.
		f := failures[path]
		if f.Scenario != "" {
			sr.Name = f.Scenario
		}
		sr.Errors = []string{f.Error}
		return sr
	}

	sc, err := harness.LoadScenario(path)
	if err == nil {
		sr.Name = sc.Name
	}
	sr.RecordingID = res.RecordingID
	sr.Errors = res.Errors
	sr.Pass = res.Pass

	golden := o.goldenPath(path, sr.Name)
	trace := harness.RenderTrace(sr.Name, res)
	switch {
	case o.Update:
		if err := writeGolden(golden, trace); err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("failed to update golden file: %v", err))
			return sr
		}
		sr.Golden = "updated"
	default:
		want, err := os.ReadFile(golden)
		if os.IsNotExist(err) {
			// No golden file - assertions only
			return sr
		}
		if err != nil {
			sr.Pass = false
			sr.Errors = append(sr.Errors, fmt.Sprintf("golden comparison failed: %v", err))
			return sr
		}
		if !bytes.Equal(want, trace) {
			sr.Pass = false
			sr.Golden = "mismatch"
			sr.Errors = append(sr.Errors, "trace does not match golden file (run with --update to regenerate)")
			return sr
		}
		sr.Golden = "match"
	}
	return sr
}

// goldenPath returns the golden file for a scenario.
func (o *TestOptions) goldenPath(scenarioFile, name string) string {
	dir := o.GoldenDir
	if dir == "" {
		dir = filepath.Join(filepath.Dir(scenarioFile), "golden")
	}
	return filepath.Join(dir, name+".golden")
}

func writeGolden(path string, trace []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	return os.WriteFile(path, trace, 0o644)
}

// filterScenarios keeps files whose base name, without extension, matches pattern.
func filterScenarios(files []string, pattern string) ([]string, error) {
	if pattern == "" {
		return files, nil
	}
	var out []string
	for _, f := range files {
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			return nil, fmt.Errorf("invalid filter pattern: %w", err)
		}
		if matched {
			out = append(out, f)
		}
	}
	return out, nil
}
