package ir

// ProfileSpec is the declarative description of a profile, as loaded from
// YAML or CUE before validation and encoding.
//
// Key names are resolved through the keys package; numeric fields are plain
// ints so that out-of-range values reach validation instead of failing decode.
type ProfileSpec struct {
	Name   string      `yaml:"name" json:"name"`
	Layers []LayerSpec `yaml:"layers" json:"layers"`
	Macros []MacroSpec `yaml:"macros,omitempty" json:"macros,omitempty"`
}

// LayerSpec describes one layer. An empty Device makes the layer global;
// otherwise Device is a glob pattern matched against device names and the
// layer overrides the global layer with the same ID for matching devices.
type LayerSpec struct {
	ID       int           `yaml:"id" json:"id"`
	Name     string        `yaml:"name,omitempty" json:"name,omitempty"`
	Device   string        `yaml:"device,omitempty" json:"device,omitempty"`
	Mappings []MappingSpec `yaml:"mappings" json:"mappings"`
}

// ActionSpec describes a non-tap/hold action. Exactly one of Simple,
// Modifier, Lock, Layer or Macro must be set.
type ActionSpec struct {
	Simple   string `yaml:"simple,omitempty" json:"simple,omitempty"`
	Modifier *int   `yaml:"modifier,omitempty" json:"modifier,omitempty"`
	Lock     *int   `yaml:"lock,omitempty" json:"lock,omitempty"`
	Layer    *int   `yaml:"layer,omitempty" json:"layer,omitempty"`
	Mode     string `yaml:"mode,omitempty" json:"mode,omitempty"`
	Macro    *int   `yaml:"macro,omitempty" json:"macro,omitempty"`
}

// MappingSpec binds a physical key to an action or a tap/hold pair.
type MappingSpec struct {
	Key        string `yaml:"key" json:"key"`
	ActionSpec `yaml:",inline"`
	TapHold    *TapHoldSpec `yaml:"tap_hold,omitempty" json:"tap_hold,omitempty"`
}

// TapHoldSpec describes a dual-role key. Policy is required.
type TapHoldSpec struct {
	Tap       ActionSpec `yaml:"tap" json:"tap"`
	Hold      ActionSpec `yaml:"hold" json:"hold"`
	TimeoutMs int        `yaml:"timeout_ms" json:"timeout_ms"`
	Policy    string     `yaml:"policy" json:"policy"`
}

// MacroSpec describes a macro sequence.
type MacroSpec struct {
	ID    int             `yaml:"id" json:"id"`
	Steps []MacroStepSpec `yaml:"steps" json:"steps"`
}

// MacroStepSpec is one step of a macro. Edge is "press", "release" or
// "tap" (a press immediately followed by a release); empty means "tap".
type MacroStepSpec struct {
	Key     string `yaml:"key" json:"key"`
	Edge    string `yaml:"edge,omitempty" json:"edge,omitempty"`
	DelayMs int    `yaml:"delay_ms,omitempty" json:"delay_ms,omitempty"`
}

// MacroStep is a resolved macro step. DelayMs is applied before the step,
// relative to the previous one.
type MacroStep struct {
	Key     KeyCode
	Edge    Edge
	DelayMs uint32
}
