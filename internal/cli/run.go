package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/harness"
)

// DefaultTickInterval is how often live mode ticks while a tap/hold key is pending.
const DefaultTickInterval = 5 * time.Millisecond

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Devices            []string
	InterruptOnRelease bool
	Timeline           bool
	NoSettle           bool
	Record             bool
	Name               string
	Database           string
	Live               bool
	TickInterval       time.Duration
}

// RunResult is the run command payload.
type RunResult struct {
	Profile     string                  `json:"profile"`
	Steps       int                     `json:"steps"`
	Outputs     []string                `json:"outputs"`
	Timeline    []harness.TimelineEntry `json:"timeline,omitempty"`
	State       engine.Snapshot         `json:"state"`
	Stats       engine.Stats            `json:"stats"`
	RecordingID string                  `json:"recording_id,omitempty"`
}

// String renders the result for text output.
func (r RunResult) String() string {
	var b strings.Builder
	if len(r.Timeline) > 0 {
		for _, e := range r.Timeline {
			fmt.Fprintf(&b, "%s\n", e.Input)
			for _, out := range e.Outputs {
				fmt.Fprintf(&b, "    %s\n", out)
			}
		}
	} else {
		for _, out := range r.Outputs {
			fmt.Fprintf(&b, "%s\n", out)
		}
	}
	fmt.Fprintf(&b, "state: layers=%v modifiers=%v locks=%v pending=%d buffered=%d",
		r.State.Layers, r.State.Modifiers, r.State.Locks, r.State.Pending, r.State.Buffered)
	if r.RecordingID != "" {
		fmt.Fprintf(&b, "\nrecording: %s", r.RecordingID)
	}
	return b.String()
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <profile> [script]",
		Short: "Run key events through a profile",
		Long: `Run key events through a profile and print the output events.

The script (or stdin when omitted or "-") holds one command per line:

  <time> press <key> [dev=N]
  <time> release <key> [dev=N]
  <time> tick

Times are in ms unless suffixed with "us". After the last line the
processor is ticked until no tap/hold key is pending, unless --no-settle.

With --live, stdin is read as it arrives ("press <key> [dev=N]",
"release <key> [dev=N]") and events are stamped with the monotonic clock.
Pending tap/hold keys resolve on their own as time passes.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args, cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Devices, "device", nil, "bind a device: id=name (repeatable)")
	cmd.Flags().BoolVar(&opts.InterruptOnRelease, "interrupt-on-release", false, "releases of other keys interrupt pending tap/hold keys")
	cmd.Flags().BoolVar(&opts.Timeline, "timeline", false, "print every input with its outputs")
	cmd.Flags().BoolVar(&opts.NoSettle, "no-settle", false, "do not tick pending tap/hold keys after the last input")
	cmd.Flags().BoolVar(&opts.Record, "record", false, "store the run in the recording database")
	cmd.Flags().StringVar(&opts.Name, "name", "", "recording name (default: script file name)")
	cmd.Flags().StringVar(&opts.Database, "db", "keyrx.db", "recording database path")
	cmd.Flags().BoolVar(&opts.Live, "live", false, "process stdin as it arrives, stamped with the monotonic clock")
	cmd.Flags().DurationVar(&opts.TickInterval, "tick-interval", DefaultTickInterval, "live mode tick interval while a key is pending")

	return cmd
}

func runRun(opts *RunOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	cfg := opts.Config
	interrupt := cfg.GetBool(KeyInterruptOnRelease)

	devices, err := parseDeviceBindings(opts.Devices)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	lp, err := loadProfile(args[0], opts.Logger)
	if err != nil {
		return profileFailure(formatter, args[0], err)
	}
	p := lp.newProcessor(opts.Logger, interrupt)
	for id, name := range devices {
		p.BindDevice(id, name)
	}

	scriptPath := "-"
	if len(args) == 2 {
		scriptPath = args[1]
	}
	if opts.Live {
		if scriptPath != "-" {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, "--live reads stdin; do not pass a script", nil)
		}
		return runLive(opts, lp, p, cmd)
	}

	in, closeIn, err := openScript(scriptPath, cmd.InOrStdin())
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, err.Error(), nil)
	}
	defer closeIn()

	steps, err := ParseScript(in)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeValidation, fmt.Sprintf("%s: %v", scriptPath, err), nil)
	}

	frames := engine.Simulate(p, steps)
	if !opts.NoSettle {
		frames = settle(p, frames)
	}

	result := RunResult{
		Profile: lp.Path,
		Steps:   len(frames),
		Outputs: make([]string, 0),
		State:   p.Snapshot(),
		Stats:   p.Stats(),
	}
	for _, f := range frames {
		entry := harness.TimelineEntry{Step: len(result.Timeline), Input: harness.FormatStep(f.Step), State: f.State}
		for _, o := range f.Output {
			text := harness.FormatOutput(o)
			result.Outputs = append(result.Outputs, text)
			entry.Outputs = append(entry.Outputs, text)
		}
		if opts.Timeline {
			result.Timeline = append(result.Timeline, entry)
		}
	}

	if opts.Record {
		name := opts.Name
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(scriptPath), filepath.Ext(scriptPath))
		}
		id, err := recordRun(cmd.Context(), cfg.GetString(KeyDatabase), name, lp, p, interrupt, frames)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("record run: %v", err), nil)
		}
		result.RecordingID = id
	}

	opts.Logger.Debug("run finished",
		"profile", lp.Path,
		"steps", result.Steps,
		"outputs", len(result.Outputs),
		"recording", result.RecordingID,
	)
	return formatter.Success(result)
}

// settle ticks p at each pending deadline until nothing is pending and
// appends the resulting frames. Every tick resolves at least one session,
// so the loop ends.
func settle(p *engine.Processor, frames []engine.Frame) []engine.Frame {
	for {
		d, ok := p.NextDeadline()
		if !ok {
			return frames
		}
		frames = append(frames, engine.Simulate(p, []engine.Step{engine.TickStep(d)})...)
	}
}

// openScript opens path, or returns stdin for "-".
func openScript(path string, stdin io.Reader) (io.Reader, func(), error) {
	if path == "-" {
		return stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open script: %w", err)
	}
	return f, func() { f.Close() }, nil
}
