package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/keyrx/internal/ir"
	"github.com/roach88/keyrx/internal/keys"
)

// Validation error codes (E200-E299)
const (
	// Layer errors (E200-E209)
	ErrLayerIDRange     = "E200" // layer id outside 0..255
	ErrDuplicateLayer   = "E201" // same (id, device) defined twice
	ErrUnknownKey       = "E202" // key name not in the key table
	ErrDuplicateMapping = "E203" // key mapped twice in one layer
	ErrDevicePattern    = "E204" // device pattern is blank

	// Action errors (E210-E219)
	ErrActionKind      = "E210" // zero or several action kinds set
	ErrStateIDRange    = "E211" // modifier or lock id outside 0..254
	ErrUndefinedLayer  = "E212" // layer switch to a layer that is not defined
	ErrLayerMode       = "E213" // layer mode is not momentary or toggle
	ErrUndefinedMacro  = "E214" // macro reference without a macro definition
	ErrTapHoldMixed    = "E215" // mapping sets both an action and tap_hold
	ErrTapHoldPolicy   = "E216" // tap_hold policy missing or unknown
	ErrTapHoldTimeout  = "E217" // tap_hold timeout outside 1..65535 ms
	ErrUnexpectedField = "E218" // field set that the action kind does not use

	// Macro errors (E220-E229)
	ErrMacroIDRange   = "E220" // macro id outside 0..65535
	ErrDuplicateMacro = "E221" // macro id defined twice
	ErrMacroEdge      = "E222" // step edge is not press, release or tap
	ErrMacroDelay     = "E223" // step delay negative or too large
	ErrMacroEmpty     = "E224" // macro without steps
)

// ValidationError represents a profile validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// ValidationErrors is returned by Compile when a description has errors.
type ValidationErrors []ValidationError

// Error joins every error on its own line.
func (es ValidationErrors) Error() string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return fmt.Sprintf("%d validation error(s):\n%s", len(es), strings.Join(parts, "\n"))
}

// Validate checks a profile description.
// Returns all errors found (does not fail-fast).
func Validate(spec *ir.ProfileSpec) []ValidationError {
	v := &validator{
		layers: make(map[int]bool),
		macros: make(map[int]bool),
	}
	for _, l := range spec.Layers {
		v.layers[l.ID] = true
	}
	for _, m := range spec.Macros {
		v.macros[m.ID] = true
	}

	v.validateLayers(spec.Layers)
	v.validateMacros(spec.Macros)
	return v.errs
}

type validator struct {
	layers map[int]bool
	macros map[int]bool
	errs   []ValidationError
}

func (v *validator) add(field, code, format string, args ...any) {
	v.errs = append(v.errs, ValidationError{
		Field:   field,
		Message: fmt.Sprintf(format, args...),
		Code:    code,
	})
}

func (v *validator) validateLayers(layers []ir.LayerSpec) {
	type layerKey struct {
		id     int
		device string
	}
	seen := make(map[layerKey]bool)

	for i, l := range layers {
		field := fmt.Sprintf("layers[%d]", i)

		// E200: layer ids are one byte
		if l.ID < 0 || l.ID > 255 {
			v.add(field+".id", ErrLayerIDRange, "layer id %d out of range 0..255", l.ID)
		}

		// E204: a device key that normalizes to nothing would match no device
		if l.Device != "" && strings.TrimSpace(l.Device) == "" {
			v.add(field+".device", ErrDevicePattern, "device pattern is blank")
		}

		// E201: duplicate (id, device)
		k := layerKey{l.ID, l.Device}
		if seen[k] {
			scope := "global"
			if l.Device != "" {
				scope = fmt.Sprintf("device %q", l.Device)
			}
			v.add(field, ErrDuplicateLayer, "layer %d (%s) defined twice", l.ID, scope)
		}
		seen[k] = true

		mapped := make(map[ir.KeyCode]bool)
		for j, m := range l.Mappings {
			mf := fmt.Sprintf("%s.mappings[%d]", field, j)

			code, err := keys.Parse(m.Key)
			if err != nil {
				v.add(mf+".key", ErrUnknownKey, "%v", err)
			} else {
				// E203: one mapping per key per layer
				if mapped[code] {
					v.add(mf+".key", ErrDuplicateMapping, "key %q mapped twice", m.Key)
				}
				mapped[code] = true
			}

			v.validateMapping(mf, m)
		}
	}
}

func (v *validator) validateMapping(field string, m ir.MappingSpec) {
	if m.TapHold == nil {
		v.validateAction(field, m.ActionSpec)
		return
	}

	// E215: tap_hold replaces the action
	if countKinds(m.ActionSpec) > 0 {
		v.add(field, ErrTapHoldMixed, "mapping sets both an action and tap_hold")
	}

	th := m.TapHold
	v.validateAction(field+".tap_hold.tap", th.Tap)
	v.validateAction(field+".tap_hold.hold", th.Hold)

	// E216: policy is explicit
	if th.Policy == "" {
		v.add(field+".tap_hold.policy", ErrTapHoldPolicy,
			"policy is required (%q or %q)", ir.TimeoutOnly, ir.ResolveOnInterrupt)
	} else if _, err := ir.ParsePolicy(th.Policy); err != nil {
		v.add(field+".tap_hold.policy", ErrTapHoldPolicy, "%v", err)
	}

	// E217: timeout fits the record's u16 and is not zero
	if th.TimeoutMs < 1 || th.TimeoutMs > 0xFFFF {
		v.add(field+".tap_hold.timeout_ms", ErrTapHoldTimeout,
			"timeout %dms out of range 1..65535", th.TimeoutMs)
	}
}

func (v *validator) validateAction(field string, a ir.ActionSpec) {
	// E210: exactly one kind
	if n := countKinds(a); n != 1 {
		v.add(field, ErrActionKind,
			"exactly one of simple, modifier, lock, layer or macro must be set (got %d)", n)
		return
	}

	switch {
	case a.Simple != "":
		if _, err := keys.Parse(a.Simple); err != nil {
			v.add(field+".simple", ErrUnknownKey, "%v", err)
		}
	case a.Modifier != nil:
		v.stateID(field+".modifier", *a.Modifier)
	case a.Lock != nil:
		v.stateID(field+".lock", *a.Lock)
	case a.Layer != nil:
		if !v.layers[*a.Layer] {
			v.add(field+".layer", ErrUndefinedLayer, "layer %d is not defined", *a.Layer)
		}
		if _, err := parseMode(a.Mode); err != nil {
			v.add(field+".mode", ErrLayerMode, "%v", err)
		}
	case a.Macro != nil:
		if !v.macros[*a.Macro] {
			v.add(field+".macro", ErrUndefinedMacro, "macro %d is not defined", *a.Macro)
		}
	}

	// E218: mode only belongs to layer switches
	if a.Layer == nil && a.Mode != "" {
		v.add(field+".mode", ErrUnexpectedField, "mode is only valid with layer")
	}
}

func (v *validator) stateID(field string, id int) {
	if id < 0 || id > ir.MaxStateID {
		v.add(field, ErrStateIDRange, "id %d out of range 0..%d", id, ir.MaxStateID)
	}
}

func (v *validator) validateMacros(macros []ir.MacroSpec) {
	seen := make(map[int]bool)
	for i, m := range macros {
		field := fmt.Sprintf("macros[%d]", i)

		if m.ID < 0 || m.ID > 0xFFFF {
			v.add(field+".id", ErrMacroIDRange, "macro id %d out of range 0..65535", m.ID)
		}
		if seen[m.ID] {
			v.add(field+".id", ErrDuplicateMacro, "macro %d defined twice", m.ID)
		}
		seen[m.ID] = true

		if len(m.Steps) == 0 {
			v.add(field+".steps", ErrMacroEmpty, "macro %d has no steps", m.ID)
		}
		for j, st := range m.Steps {
			sf := fmt.Sprintf("%s.steps[%d]", field, j)
			if _, err := keys.Parse(st.Key); err != nil {
				v.add(sf+".key", ErrUnknownKey, "%v", err)
			}
			switch st.Edge {
			case "", "tap", "press", "release":
			default:
				v.add(sf+".edge", ErrMacroEdge, "edge %q must be press, release or tap", st.Edge)
			}
			if st.DelayMs < 0 || int64(st.DelayMs) > int64(^uint32(0)) {
				v.add(sf+".delay_ms", ErrMacroDelay, "delay %dms out of range", st.DelayMs)
			}
		}
	}
}

func countKinds(a ir.ActionSpec) int {
	n := 0
	if a.Simple != "" {
		n++
	}
	for _, p := range []*int{a.Modifier, a.Lock, a.Layer, a.Macro} {
		if p != nil {
			n++
		}
	}
	return n
}

// parseMode maps a layer mode name; empty means momentary.
func parseMode(s string) (ir.LayerMode, error) {
	switch strings.ToLower(s) {
	case "", "momentary":
		return ir.Momentary, nil
	case "toggle":
		return ir.Toggle, nil
	default:
		return 0, fmt.Errorf("layer mode %q must be momentary or toggle", s)
	}
}
