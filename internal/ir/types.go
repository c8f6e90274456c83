package ir

import "fmt"

// KeyCode is a physical key code in Linux evdev numbering.
type KeyCode uint16

// MaxKeyCode is the highest key code the engine tracks (KEY_MAX).
// Codes above it are passed through untouched.
const MaxKeyCode KeyCode = 0x2FF

// KeyNone is the reserved "no key" value (KEY_RESERVED).
const KeyNone KeyCode = 0

// Edge is the direction of a key transition.
type Edge uint8

const (
	// Press is a key-down transition.
	Press Edge = iota
	// Release is a key-up transition.
	Release
)

// String returns "press" or "release".
func (e Edge) String() string {
	switch e {
	case Press:
		return "press"
	case Release:
		return "release"
	default:
		return fmt.Sprintf("edge(%d)", uint8(e))
	}
}

// Timestamp is a monotonic time in microseconds.
type Timestamp uint64

// Millis converts milliseconds to a Timestamp duration.
func Millis(ms uint64) Timestamp {
	return Timestamp(ms * 1000)
}

// Since returns t - earlier, saturating at zero when the clock appears to
// run backwards.
func (t Timestamp) Since(earlier Timestamp) Timestamp {
	if t < earlier {
		return 0
	}
	return t - earlier
}

// DeviceID identifies an input device for the lifetime of a processor.
// The host assigns IDs; names are bound separately (see engine.BindDevice).
type DeviceID uint16

// LayerID identifies a layer. Layer 0 is the base layer.
type LayerID uint8

// BaseLayer is the layer that always sits at the bottom of the stack.
const BaseLayer LayerID = 0

// MaxStateID is the highest valid modifier or lock ID. ID 255 is reserved.
const MaxStateID = 254

// RawEvent is a single input event as delivered by the platform layer.
type RawEvent struct {
	Device DeviceID
	Key    KeyCode
	Edge   Edge
	Time   Timestamp
}

// OutputKind categorizes output events.
type OutputKind uint8

const (
	// KeyTranslation is a key press or release to inject.
	KeyTranslation OutputKind = iota
	// ModifierChange reports a virtual modifier bit turning on (Press) or off (Release).
	ModifierChange
	// LockToggle reports a lock bit turning on (Press) or off (Release).
	LockToggle
	// LayerChange reports a layer being pushed (Press) or popped (Release).
	LayerChange
)

// String returns the trace name of the output kind.
func (k OutputKind) String() string {
	switch k {
	case KeyTranslation:
		return "key"
	case ModifierChange:
		return "modifier"
	case LockToggle:
		return "lock"
	case LayerChange:
		return "layer"
	default:
		return fmt.Sprintf("output(%d)", uint8(k))
	}
}

// OutputEvent is a logical event produced by the processor.
//
// Key is set for KeyTranslation; ID carries the modifier, lock, or layer ID
// for the other kinds. Edge is Press for on/pushed and Release for off/popped.
type OutputEvent struct {
	Kind   OutputKind
	Device DeviceID
	Key    KeyCode
	ID     uint8
	Edge   Edge
	Time   Timestamp
}

// Passthrough returns the output event that re-emits ev unchanged.
func Passthrough(ev RawEvent) OutputEvent {
	return OutputEvent{
		Kind:   KeyTranslation,
		Device: ev.Device,
		Key:    ev.Key,
		Edge:   ev.Edge,
		Time:   ev.Time,
	}
}
