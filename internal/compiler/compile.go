// Package compiler turns profile descriptions (YAML, JSON or CUE) into the
// binary profile format loaded by the engine.
//
// Compilation is three steps: parse the description into an
// ir.ProfileSpec, Validate it, then resolve names and Encode. Every
// validation error is reported at once, with the field path that caused it.
package compiler

import (
	"fmt"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
	"github.com/roach88/keyrx/internal/profile"
)

// Compile validates spec and encodes it. Validation failures are returned
// as ValidationErrors.
func Compile(spec *ir.ProfileSpec) ([]byte, error) {
	src, err := Resolve(spec)
	if err != nil {
		return nil, err
	}
	data, err := profile.Encode(src)
	if err != nil {
		return nil, fmt.Errorf("encode profile %q: %w", spec.Name, err)
	}
	return data, nil
}

// Resolve validates spec and converts it to an encoder source with key
// names and policies resolved.
func Resolve(spec *ir.ProfileSpec) (*profile.Source, error) {
	if errs := Validate(spec); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	src := &profile.Source{}
	for _, l := range spec.Layers {
		sl := profile.SourceLayer{ID: ir.LayerID(l.ID), Device: l.Device}
		for _, m := range l.Mappings {
			sl.Entries = append(sl.Entries, profile.Entry{
				Key:     keys.MustParse(m.Key),
				Mapping: resolveMapping(m),
			})
		}
		src.Layers = append(src.Layers, sl)
	}
	for _, m := range spec.Macros {
		sm := profile.SourceMacro{Seq: uint16(m.ID)}
		for _, st := range m.Steps {
			sm.Steps = append(sm.Steps, resolveStep(st)...)
		}
		src.Macros = append(src.Macros, sm)
	}
	return src, nil
}

// resolveMapping converts a validated mapping.
func resolveMapping(m ir.MappingSpec) ir.Mapping {
	if m.TapHold == nil {
		return ir.Mapping{Action: resolveAction(m.ActionSpec)}
	}
	th := m.TapHold
	policy, _ := ir.ParsePolicy(th.Policy)
	return ir.TapHold(resolveAction(th.Tap), resolveAction(th.Hold), uint16(th.TimeoutMs), policy)
}

func resolveAction(a ir.ActionSpec) ir.Action {
	switch {
	case a.Simple != "":
		return ir.Simple(keys.MustParse(a.Simple)).Action
	case a.Modifier != nil:
		return ir.Modifier(uint8(*a.Modifier)).Action
	case a.Lock != nil:
		return ir.Lock(uint8(*a.Lock)).Action
	case a.Layer != nil:
		mode, _ := parseMode(a.Mode)
		return ir.LayerSwitch(ir.LayerID(*a.Layer), mode).Action
	default:
		return ir.Macro(uint16(*a.Macro)).Action
	}
}

// resolveStep expands a macro step; "tap" becomes a press and a release.
func resolveStep(st ir.MacroStepSpec) []ir.MacroStep {
	key := keys.MustParse(st.Key)
	delay := uint32(st.DelayMs)
	switch st.Edge {
	case "press":
		return []ir.MacroStep{{Key: key, Edge: ir.Press, DelayMs: delay}}
	case "release":
		return []ir.MacroStep{{Key: key, Edge: ir.Release, DelayMs: delay}}
	default:
		return []ir.MacroStep{
			{Key: key, Edge: ir.Press, DelayMs: delay},
			{Key: key, Edge: ir.Release},
		}
	}
}
