package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/keyrx/internal/ir"
)

// CompileError is a parse error with a source position, if known.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ParseYAML decodes a YAML (or JSON) profile description.
// Unknown fields are rejected.
func ParseYAML(data []byte) (*ir.ProfileSpec, error) {
	var spec ir.ProfileSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parse YAML profile: %w", err)
	}
	return &spec, nil
}

// ParseCUE evaluates a CUE profile description.
//
// The profile is read from the top-level "profile" field when present,
// otherwise from the root value, so a file can carry its own definitions
// and constraints next to the profile:
//
//	#Timeout: int & >=100 & <=400
//	profile: {
//	    name: "home-row"
//	    layers: [{id: 0, mappings: [{
//	        key: "f"
//	        tap_hold: {tap: simple: "f", hold: modifier: 1, timeout_ms: #Timeout & 200, policy: "timeout-only"}
//	    }]}]
//	}
func ParseCUE(filename string, data []byte) (*ir.ProfileSpec, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	if p := v.LookupPath(cue.ParsePath("profile")); p.Exists() {
		v = p
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var spec ir.ProfileSpec
	if err := v.Decode(&spec); err != nil {
		return nil, formatCUEError(err)
	}
	return &spec, nil
}

// ParseFile reads a description, choosing the parser by extension:
// .cue for CUE, anything else as YAML (JSON included).
func ParseFile(path string) (*ir.ProfileSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile description: %w", err)
	}
	var spec *ir.ProfileSpec
	if strings.EqualFold(filepath.Ext(path), ".cue") {
		spec, err = ParseCUE(path, data)
	} else {
		spec, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}
	if spec.Name == "" {
		spec.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return spec, nil
}

// CompileFile parses and compiles the description at path.
func CompileFile(path string) ([]byte, error) {
	spec, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	return Compile(spec)
}

// ProfileExt is the file extension of compiled profiles.
const ProfileExt = ".krx"

// ReadProfile returns compiled profile bytes for path. Compiled .krx files
// are read as is; anything else is compiled as a description.
func ReadProfile(path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ProfileExt) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read profile: %w", err)
		}
		return data, nil
	}
	return CompileFile(path)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
