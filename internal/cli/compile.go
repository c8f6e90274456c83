package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/keyrx/internal/compiler"
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/profile"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path (single input only)
	OutDir string // output directory
	Jobs   int    // concurrent compilations
}

// CompiledProfile describes one compiled description.
type CompiledProfile struct {
	Source   string                     `json:"source"`
	Output   string                     `json:"output,omitempty"`
	Layers   int                        `json:"layers,omitempty"`
	Macros   int                        `json:"macros,omitempty"`
	Size     int                        `json:"size,omitempty"`
	Checksum string                     `json:"checksum,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Error    string                     `json:"error,omitempty"`
}

// CompileResult is the compile command payload.
type CompileResult struct {
	Profiles []CompiledProfile `json:"profiles"`
	Failed   int               `json:"failed"`
}

// String renders the result for text output.
func (r CompileResult) String() string {
	var b strings.Builder
	for _, p := range r.Profiles {
		switch {
		case p.Error != "":
			fmt.Fprintf(&b, "✗ %s: %s\n", p.Source, p.Error)
		case len(p.Errors) > 0:
			fmt.Fprintf(&b, "✗ %s: %d validation error(s)\n", p.Source, len(p.Errors))
			for _, e := range p.Errors {
				fmt.Fprintf(&b, "  %s\n", e.Error())
			}
		default:
			fmt.Fprintf(&b, "✓ %s -> %s (%d layers, %d macros, %d bytes, checksum %s)\n",
				p.Source, p.Output, p.Layers, p.Macros, p.Size, shortChecksum(p.Checksum))
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <profile>...",
		Short: "Compile profile descriptions to binary profiles",
		Long: `Compile YAML, JSON or CUE profile descriptions to the binary .krx format.

Every description is validated first and all errors are reported. Several
descriptions are compiled concurrently; each is written next to its source
unless --output or --out-dir is given.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path (single profile only)")
	cmd.Flags().StringVar(&opts.OutDir, "out-dir", "", "directory for compiled profiles")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", runtime.NumCPU(), "profiles compiled concurrently")

	return cmd
}

func runCompile(opts *CompileOptions, sources []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if opts.Output != "" && len(sources) > 1 {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "--output requires a single profile; use --out-dir", nil)
	}
	if opts.OutDir != "" {
		if err := os.MkdirAll(opts.OutDir, 0o755); err != nil {
			return formatter.fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("create output directory: %v", err), nil)
		}
	}

	result := CompileResult{Profiles: make([]CompiledProfile, len(sources))}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(max(opts.Jobs, 1))
	for i, src := range sources {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			result.Profiles[i] = compileOne(src, opts.outputPath(src))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return WrapExitError(ExitCommandError, "compile interrupted", err)
	}

	// Workers only fill their own slot; all output happens here.
	for _, p := range result.Profiles {
		if p.Error != "" || len(p.Errors) > 0 {
			result.Failed++
			continue
		}
		formatter.VerboseLog("compiled %s", p.Source)
	}
	opts.Logger.Debug("compile finished", "profiles", len(sources), "failed", result.Failed)

	if result.Failed > 0 {
		return formatter.failWith(ExitFailure, ErrCodeValidation, fmt.Sprintf("%d profile(s) failed to compile", result.Failed), result)
	}
	return formatter.Success(result)
}

// outputPath returns where the compiled form of src is written.
func (o *CompileOptions) outputPath(src string) string {
	if o.Output != "" {
		return o.Output
	}
	name := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + compiler.ProfileExt
	if o.OutDir != "" {
		return filepath.Join(o.OutDir, name)
	}
	return filepath.Join(filepath.Dir(src), name)
}

// compileOne compiles src and writes it to out. Errors are reported in the
// returned value.
func compileOne(src, out string) CompiledProfile {
	res := CompiledProfile{Source: src}

	data, err := compiler.CompileFile(src)
	if err != nil {
		var verrs compiler.ValidationErrors
		if errors.As(err, &verrs) {
			res.Errors = verrs
		} else {
			res.Error = err.Error()
		}
		return res
	}

	st, err := profile.Load(data)
	if err != nil {
		res.Error = fmt.Sprintf("compiled profile does not load: %v", err)
		return res
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		res.Error = fmt.Sprintf("write profile: %v", err)
		return res
	}

	res.Output = out
	res.Layers = st.LayerCount()
	res.Macros = st.MacroCount()
	res.Size = len(data)
	res.Checksum = ir.ChecksumHex(st.Header().Checksum)
	return res
}

func shortChecksum(sum string) string {
	if len(sum) > 16 {
		return sum[:16]
	}
	return sum
}
