package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/harness"
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/profile"
	"github.com/roach88/keyrx/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Profile  string // replay against this profile instead of the recorded one
	List     bool
	Name     string // --list filter: name glob
	Engine   string // --list filter: engine version
}

// RecordingInfo is one row of replay --list.
type RecordingInfo struct {
	ID            string `json:"id"`
	Seq           int64  `json:"seq"`
	Name          string `json:"name"`
	EngineVersion string `json:"engine_version"`
	Steps         int    `json:"steps"`
	Outputs       int    `json:"outputs"`
}

// RecordingList is the replay --list payload.
type RecordingList struct {
	Recordings []RecordingInfo `json:"recordings"`
}

// String renders the list for text output.
func (l RecordingList) String() string {
	if len(l.Recordings) == 0 {
		return "No recordings."
	}
	var b strings.Builder
	for i, r := range l.Recordings {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%3d  %s  %-20s  %d steps, %d outputs (engine %s)",
			r.Seq, r.ID, r.Name, r.Steps, r.Outputs, r.EngineVersion)
	}
	return b.String()
}

// ReplayOutput is the replay command payload.
type ReplayOutput struct {
	RecordingID     string   `json:"recording_id"`
	Steps           int      `json:"steps"`
	Outputs         int      `json:"outputs"`
	Digest          string   `json:"digest"`
	Match           bool     `json:"match"`
	ProfileMismatch bool     `json:"profile_mismatch,omitempty"`
	Diverged        int      `json:"diverged,omitempty"`
	Divergences     []string `json:"divergences,omitempty"`
}

// String renders the result for text output.
func (r ReplayOutput) String() string {
	var b strings.Builder
	if r.Match {
		fmt.Fprintf(&b, "✓ %s: %d steps, %d outputs identical", r.RecordingID, r.Steps, r.Outputs)
	} else {
		fmt.Fprintf(&b, "✗ %s: %d divergence(s)", r.RecordingID, r.Diverged)
		for _, d := range r.Divergences {
			fmt.Fprintf(&b, "\n  %s", d)
		}
		if r.Diverged > len(r.Divergences) {
			fmt.Fprintf(&b, "\n  ... %d more", r.Diverged-len(r.Divergences))
		}
	}
	if r.ProfileMismatch {
		b.WriteString("\nnote: replayed against a different profile than recorded")
	}
	return b.String()
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay [recording-id]",
		Short: "Replay a recording and compare the output",
		Long: `Replay a stored recording through a fresh processor and compare every
output event with the recorded output.

The recorded profile and options are used unless --profile is given.
Exits 1 on any divergence.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "keyrx.db", "recording database path")
	cmd.Flags().StringVar(&opts.Profile, "profile", "", "replay against this profile")
	cmd.Flags().BoolVar(&opts.List, "list", false, "list recordings")
	cmd.Flags().StringVar(&opts.Name, "name", "", "with --list: only recordings whose name matches this glob")
	cmd.Flags().StringVar(&opts.Engine, "engine", "", "with --list: only recordings made by this engine version")

	return cmd
}

// listFilter converts the --list flags to store predicates.
func (o *ReplayOptions) listFilter() []store.Predicate {
	var where []store.Predicate
	if o.Name != "" {
		where = append(where, store.Glob{Column: "name", Pattern: o.Name})
	}
	if o.Engine != "" {
		where = append(where, store.Equals{Column: "engine_version", Value: o.Engine})
	}
	return where
}

func runReplay(opts *ReplayOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	st, err := store.Open(opts.Config.GetString(KeyDatabase))
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("open recording database: %v", err), nil)
	}
	defer st.Close()

	if opts.List {
		recs, err := st.ListRecordings(ctx, opts.listFilter()...)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
		}
		list := RecordingList{Recordings: make([]RecordingInfo, 0, len(recs))}
		for _, r := range recs {
			list.Recordings = append(list.Recordings, RecordingInfo{
				ID:            r.ID,
				Seq:           r.Seq,
				Name:          r.Name,
				EngineVersion: r.EngineVersion,
				Steps:         r.Steps,
				Outputs:       r.Outputs,
			})
		}
		return formatter.Success(list)
	}

	if len(args) != 1 {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "recording ID required (or --list)", nil)
	}
	id := args[0]

	rec, err := st.ReadRecording(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("recording not found: %s", id), nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	var idx *keyindex.Index
	if opts.Profile != "" {
		lp, err := loadProfile(opts.Profile, opts.Logger)
		if err != nil {
			return profileFailure(formatter, opts.Profile, err)
		}
		idx = lp.Index
	} else {
		ps, err := profile.Load(rec.Profile)
		if err != nil {
			return profileFailure(formatter, "recorded profile", err)
		}
		if idx, err = keyindex.Build(ps, keyindex.WithLogger(opts.Logger)); err != nil {
			return profileFailure(formatter, "recorded profile", err)
		}
	}

	p := engine.New(idx,
		engine.WithLogger(opts.Logger),
		engine.WithInterruptOnRelease(rec.InterruptOnRelease),
	)
	res, err := st.Replay(ctx, id, p)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("replay %s: %v", id, err), nil)
	}

	out := ReplayOutput{
		RecordingID:     res.RecordingID,
		Steps:           res.Steps,
		Outputs:         res.Outputs,
		Digest:          res.Digest,
		Match:           res.Match,
		ProfileMismatch: res.ProfileMismatch,
		Diverged:        res.Diverged,
	}
	for _, d := range res.Divergences {
		out.Divergences = append(out.Divergences, describeDivergence(d))
	}
	if rec.EngineVersion != "" && rec.EngineVersion != ir.EngineVersion {
		opts.Logger.Warn("recording made by a different engine version",
			"recording", id, "recorded", rec.EngineVersion, "current", ir.EngineVersion)
	}

	opts.Logger.Debug("replay finished", "recording", id, "match", res.Match, "diverged", res.Diverged)

	if !res.Match {
		return formatter.failWith(ExitFailure, ErrCodeDivergence, fmt.Sprintf("replay of %s diverged", id), out)
	}
	return formatter.Success(out)
}

// describeDivergence renders d in scenario output notation.
func describeDivergence(d store.Divergence) string {
	text := func(e *ir.OutputEvent) string {
		if e == nil {
			return "nothing"
		}
		return harness.FormatOutput(*e)
	}
	return fmt.Sprintf("step %d #%d: want %s, got %s", d.Step, d.Index, text(d.Want), text(d.Got))
}
