package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roach88/keyrx/internal/compiler"
	"github.com/roach88/keyrx/internal/engine"
	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keyindex"
	"github.com/roach88/keyrx/internal/profile"
	"github.com/roach88/keyrx/internal/store"
)

// loadedProfile is a profile ready to drive a processor.
type loadedProfile struct {
	Path  string
	Data  []byte
	Index *keyindex.Index
}

// loadProfile reads a compiled profile or compiles a description.
func loadProfile(path string, logger *slog.Logger) (*loadedProfile, error) {
	data, err := compiler.ReadProfile(path)
	if err != nil {
		return nil, err
	}
	st, err := profile.Load(data)
	if err != nil {
		return nil, err
	}
	idx, err := keyindex.Build(st, keyindex.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return &loadedProfile{Path: path, Data: data, Index: idx}, nil
}

// newProcessor builds a processor for lp with the configured options.
func (lp *loadedProfile) newProcessor(logger *slog.Logger, interruptOnRelease bool) *engine.Processor {
	return engine.New(lp.Index,
		engine.WithLogger(logger),
		engine.WithInterruptOnRelease(interruptOnRelease),
	)
}

// checksum returns the hex checksum of the profile.
func (lp *loadedProfile) checksum() string {
	return ir.ChecksumHex(lp.Index.Store().Header().Checksum)
}

// profileFailure reports a profile that could not be loaded and returns
// the matching exit error.
func profileFailure(f *OutputFormatter, path string, err error) error {
	var (
		verrs compiler.ValidationErrors
		cerr  *compiler.CompileError
	)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return f.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("profile not found: %s", path), nil)
	case profile.IsVersionMismatch(err):
		return f.fail(ExitFailure, ErrCodeVersionMismatch, err.Error(), nil)
	case profile.IsCorrupt(err):
		return f.fail(ExitFailure, ErrCodeCorrupt, err.Error(), nil)
	case errors.As(err, &verrs):
		return f.fail(ExitFailure, ErrCodeValidation, fmt.Sprintf("%s: %d validation error(s)", path, len(verrs)), []compiler.ValidationError(verrs))
	case errors.As(err, &cerr):
		return f.fail(ExitFailure, ErrCodeValidation, err.Error(), nil)
	default:
		return f.fail(ExitCommandError, ErrCodeGeneric, fmt.Sprintf("load profile %s: %v", path, err), nil)
	}
}

// recordRun stores frames as a new recording and returns its ID.
func recordRun(ctx context.Context, dbPath, name string, lp *loadedProfile, p *engine.Processor, interruptOnRelease bool, frames []engine.Frame) (string, error) {
	st, err := store.Open(dbPath)
	if err != nil {
		return "", err
	}
	defer st.Close()

	header := lp.Index.Store().Header()
	rec, err := st.WriteRecording(ctx, store.Recording{
		ID:                 store.UUIDv7Generator{}.Generate(),
		Name:               name,
		Profile:            lp.Data,
		ProfileChecksum:    ir.ChecksumHex(header.Checksum),
		FormatVersion:      header.VersionString(),
		InterruptOnRelease: interruptOnRelease,
		Devices:            p.Devices(),
	}, frames)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}
