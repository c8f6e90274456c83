package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/keyrx/internal/harness"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
}

// TraceOutput is the JSON payload of the trace command.
type TraceOutput struct {
	Scenario string                  `json:"scenario"`
	Pass     bool                    `json:"pass"`
	Errors   []string                `json:"errors,omitempty"`
	Timeline []harness.TimelineEntry `json:"timeline"`
	Result   *harness.Result         `json:"-"`
}

// String renders the trace in golden file notation.
func (t TraceOutput) String() string {
	text := string(harness.RenderTrace(t.Scenario, t.Result))
	for _, e := range t.Errors {
		text += e + "\n"
	}
	return text[:len(text)-1]
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace <scenario.yaml>",
		Short: "Show the step-by-step trace of a scenario",
		Long: `Run one scenario and print every processor input with the output it
produced, followed by the final state. Text output is the golden file
format; JSON output includes the state after every step.

Exits 1 when the scenario's expectations fail.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, args[0], cmd)
		},
	}

	return cmd
}

func runTrace(opts *TraceOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("scenario not found: %s", path), nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeValidation, err.Error(), nil)
	}

	result, err := harness.Run(cmd.Context(), scenario, harness.WithLogger(opts.Logger))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	out := TraceOutput{
		Scenario: scenario.Name,
		Pass:     result.Pass,
		Errors:   result.Errors,
		Timeline: result.Timeline,
		Result:   result,
	}
	if err := formatter.Success(out); err != nil {
		return err
	}
	if !result.Pass {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("scenario %s failed", scenario.Name), reported: true}
	}
	return nil
}
