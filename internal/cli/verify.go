package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
	"github.com/roach88/keyrx/internal/profile"
)

// VerifyOptions holds flags for the verify command.
type VerifyOptions struct {
	*RootOptions
}

// LayerInfo summarizes one layer table.
type LayerInfo struct {
	ID     ir.LayerID `json:"id"`
	Device string     `json:"device,omitempty"`
	Keys   int        `json:"keys"`
}

// MalformedRecord names a key whose mapping record does not decode.
type MalformedRecord struct {
	Layer ir.LayerID `json:"layer"`
	Key   string     `json:"key"`
	Error string     `json:"error"`
}

// VerifyResult is the verify command payload.
type VerifyResult struct {
	Path       string            `json:"path"`
	Version    string            `json:"version"`
	PayloadLen uint32            `json:"payload_len"`
	Checksum   string            `json:"checksum"`
	Layers     []LayerInfo       `json:"layers"`
	Macros     int               `json:"macros"`
	Malformed  []MalformedRecord `json:"malformed,omitempty"`
}

// String renders the result for text output.
func (r VerifyResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: format %s, %d payload bytes\n", r.Path, r.Version, r.PayloadLen)
	fmt.Fprintf(&b, "checksum: %s\n", r.Checksum)
	for _, l := range r.Layers {
		scope := "global"
		if l.Device != "" {
			scope = fmt.Sprintf("device %q", l.Device)
		}
		fmt.Fprintf(&b, "layer %d (%s): %d keys\n", l.ID, scope, l.Keys)
	}
	fmt.Fprintf(&b, "macros: %d", r.Macros)
	for _, m := range r.Malformed {
		fmt.Fprintf(&b, "\nmalformed: layer %d key %s: %s", m.Layer, m.Key, m.Error)
	}
	return b.String()
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <profile.krx>",
		Short: "Check a compiled profile",
		Long: `Check a compiled profile's header, format version and checksum, then
decode every mapping record.

Exits 1 when the profile is corrupt, has an unsupported version, or holds
records that do not decode.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(opts, args[0], cmd)
		},
	}

	return cmd
}

func runVerify(opts *VerifyOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("profile not found: %s", path), nil)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, err.Error(), nil)
	}

	st, err := profile.Load(data)
	if err != nil {
		code := ErrCodeCorrupt
		if profile.IsVersionMismatch(err) {
			code = ErrCodeVersionMismatch
		}
		return formatter.fail(ExitFailure, code, err.Error(), map[string]string{"path": path})
	}

	h := st.Header()
	result := VerifyResult{
		Path:       path,
		Version:    h.VersionString(),
		PayloadLen: h.PayloadLen,
		Checksum:   ir.ChecksumHex(h.Checksum),
		Layers:     make([]LayerInfo, 0, st.LayerCount()),
		Macros:     st.MacroCount(),
	}
	for i := 0; i < st.LayerCount(); i++ {
		l := st.Layer(i)
		result.Layers = append(result.Layers, LayerInfo{ID: l.ID, Device: l.Device, Keys: l.KeyCount()})
		for slot := 0; slot < l.KeyCount(); slot++ {
			key, off := l.Slot(slot)
			if _, err := st.Record(off); err != nil {
				result.Malformed = append(result.Malformed, MalformedRecord{
					Layer: l.ID,
					Key:   keys.Name(key),
					Error: err.Error(),
				})
			}
		}
	}

	if len(result.Malformed) > 0 {
		return formatter.failWith(ExitFailure, ErrCodeCorrupt, fmt.Sprintf("%d malformed record(s)", len(result.Malformed)), result)
	}
	return formatter.Success(result)
}
