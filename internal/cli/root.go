package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Configuration keys shared by flags, the config file and KEYRX_* variables.
const (
	KeyFormat             = "format"
	KeyDatabase           = "db"
	KeyInterruptOnRelease = "interrupt_on_release"
	KeyTickInterval       = "tick_interval"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// Config merges flags, the config file and environment variables.
	Config *viper.Viper
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the keyrx CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{
		Config: viper.New(),
		Logger: slog.New(slog.DiscardHandler),
	}

	cmd := &cobra.Command{
		Use:   "keyrx",
		Short: "keyrx - deterministic keyboard remapping engine",
		Long: `keyrx compiles keyboard remapping profiles and runs them through the
event processor: layers, modifiers, locks, tap/hold keys and macros, resolved
deterministically from timestamped key events.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := initConfig(opts, cmd); err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			setupLogging(opts, cmd)

			opts.Format = opts.Config.GetString(KeyFormat)
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default is $HOME/.keyrx.yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	_ = opts.Config.BindPFlag(KeyFormat, cmd.PersistentFlags().Lookup("format"))

	// Add subcommands
	cmd.AddCommand(NewCompileCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// initConfig loads configuration from the config file and environment.
// A missing default config file is not an error; a missing explicit one is.
func initConfig(opts *RootOptions, cmd *cobra.Command) error {
	v := opts.Config
	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigType("yaml")
		v.SetConfigName(".keyrx")
	}

	v.SetEnvPrefix("KEYRX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return err
		}
	}

	// Commands bind their own flags; bind them here, once the command that
	// runs is known, so flag values override config and environment.
	for _, key := range []string{KeyDatabase, KeyInterruptOnRelease, KeyTickInterval} {
		if f := cmd.Flags().Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return err
			}
		}
	}
	return nil
}

func setupLogging(opts *RootOptions, cmd *cobra.Command) {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}

	// Using TextHandler for CLI friendliness; stderr keeps JSON output clean
	opts.Logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(opts.Logger)
	if f := opts.Config.ConfigFileUsed(); f != "" {
		opts.Logger.Debug("using config file", "file", f)
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// formatter returns an output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}
