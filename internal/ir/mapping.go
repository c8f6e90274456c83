package ir

import "fmt"

// Kind tags the variant of a Mapping or Action.
type Kind uint8

// Kind values are also the on-disk record tags, so they must not be renumbered.
const (
	KindInvalid Kind = iota
	KindSimple
	KindModifier
	KindLock
	KindLayerSwitch
	KindMacro
	KindTapHold
)

// String returns the description name of the kind.
func (k Kind) String() string {
	switch k {
	case KindSimple:
		return "simple"
	case KindModifier:
		return "modifier"
	case KindLock:
		return "lock"
	case KindLayerSwitch:
		return "layer"
	case KindMacro:
		return "macro"
	case KindTapHold:
		return "tap_hold"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// LayerMode selects how a LayerSwitch behaves.
type LayerMode uint8

const (
	// Momentary pushes the layer on press and pops it on release.
	Momentary LayerMode = iota
	// Toggle flips the layer on each press.
	Toggle
)

// String returns "momentary" or "toggle".
func (m LayerMode) String() string {
	if m == Toggle {
		return "toggle"
	}
	return "momentary"
}

// Policy controls how a pending tap/hold session reacts to other keys.
type Policy uint8

const (
	// TimeoutOnly resolves only by elapsed time or own-key release.
	// Other keys arriving while pending are buffered.
	TimeoutOnly Policy = iota
	// ResolveOnInterrupt resolves to Hold as soon as another key arrives.
	ResolveOnInterrupt
)

// String returns the description name of the policy.
func (p Policy) String() string {
	switch p {
	case TimeoutOnly:
		return "timeout-only"
	case ResolveOnInterrupt:
		return "resolve-on-interrupt"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// ParsePolicy converts a description name to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "timeout-only":
		return TimeoutOnly, nil
	case "resolve-on-interrupt":
		return ResolveOnInterrupt, nil
	default:
		return 0, fmt.Errorf("unknown tap-hold policy %q: must be timeout-only or resolve-on-interrupt", s)
	}
}

// Action is a non-tap/hold mapping: the thing a key (or a tap/hold branch) does.
//
// Field use per kind:
//   - KindSimple: Key is the emitted key
//   - KindModifier, KindLock: ID is the modifier or lock ID
//   - KindLayerSwitch: ID is the layer, Mode selects momentary or toggle
//   - KindMacro: Seq identifies the macro sequence
type Action struct {
	Kind Kind
	Key  KeyCode
	ID   uint8
	Mode LayerMode
	Seq  uint16
}

// Mapping is the resolved behavior of a physical key in a layer.
//
// For KindTapHold the embedded Action is unused and Tap, Hold, Timeout and
// Policy describe the session. For every other kind only Action is set.
type Mapping struct {
	Action
	Tap       Action
	Hold      Action
	TimeoutMs uint16
	Policy    Policy
}

// Simple returns a mapping that emits target.
func Simple(target KeyCode) Mapping {
	return Mapping{Action: Action{Kind: KindSimple, Key: target}}
}

// Modifier returns a mapping that holds virtual modifier id.
func Modifier(id uint8) Mapping {
	return Mapping{Action: Action{Kind: KindModifier, ID: id}}
}

// Lock returns a mapping that toggles lock id.
func Lock(id uint8) Mapping {
	return Mapping{Action: Action{Kind: KindLock, ID: id}}
}

// LayerSwitch returns a mapping that activates layer in the given mode.
func LayerSwitch(layer LayerID, mode LayerMode) Mapping {
	return Mapping{Action: Action{Kind: KindLayerSwitch, ID: uint8(layer), Mode: mode}}
}

// Macro returns a mapping that plays macro sequence seq.
func Macro(seq uint16) Mapping {
	return Mapping{Action: Action{Kind: KindMacro, Seq: seq}}
}

// TapHold returns a dual-role mapping.
func TapHold(tap, hold Action, timeoutMs uint16, policy Policy) Mapping {
	return Mapping{
		Action:    Action{Kind: KindTapHold},
		Tap:       tap,
		Hold:      hold,
		TimeoutMs: timeoutMs,
		Policy:    policy,
	}
}

// Timeout returns the tap/hold threshold as a Timestamp duration.
func (m Mapping) Timeout() Timestamp {
	return Millis(uint64(m.TimeoutMs))
}

// Valid reports whether a is a well-formed non-tap/hold action.
func (a Action) Valid() bool {
	switch a.Kind {
	case KindSimple:
		return a.Key <= MaxKeyCode
	case KindModifier, KindLock:
		return a.ID <= MaxStateID
	case KindLayerSwitch:
		return a.Mode == Momentary || a.Mode == Toggle
	case KindMacro:
		return true
	default:
		return false
	}
}

// Valid reports whether m is well-formed. TapHold branches must be valid
// Actions; nesting a TapHold inside a branch is rejected.
func (m Mapping) Valid() bool {
	if m.Kind != KindTapHold {
		return m.Action.Valid()
	}
	if m.Policy != TimeoutOnly && m.Policy != ResolveOnInterrupt {
		return false
	}
	return m.Tap.Valid() && m.Hold.Valid()
}
